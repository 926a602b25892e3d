package postgres

import (
	"context"
	"database/sql"
	"fmt"

	goGuard "github.com/MrEthical07/goGuard"
)

// AuditSink inserts audit entries into login_audit and system_audit. It only
// ever inserts.
type AuditSink struct {
	db DBTX
}

var _ goGuard.AuditSink = (*AuditSink)(nil)

// NewAuditSink writes through db.
func NewAuditSink(db *sql.DB) *AuditSink {
	return &AuditSink{db: db}
}

// Emit routes login entries to login_audit and everything else of a known
// kind to system_audit.
func (s *AuditSink) Emit(ctx context.Context, e goGuard.AuditEntry) error {
	var err error
	switch e.Kind {
	case goGuard.AuditKindLogin:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO login_audit (id, email, ip, status, reason, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, e.Email, e.IP, e.Status, e.Reason, e.Timestamp)
	case goGuard.AuditKindSystem:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO system_audit (id, action, actor_email, ip, details, target_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID, e.Action, e.Email, e.IP, e.Details, e.TargetID, e.Timestamp)
	default:
		return fmt.Errorf("audit: unknown kind %q", e.Kind)
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
