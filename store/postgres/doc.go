// Package postgres persists goGuard accounts, backup codes and audit entries
// in PostgreSQL through database/sql and the pgx driver.
//
// Schema changes ship as embedded goose migrations; call Migrate once at
// startup. Every AccountStore method is a single statement or a single
// transaction, so concurrent engine instances may share one database.
package postgres
