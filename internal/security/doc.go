// Package security builds the configuration posture report exposed by
// Engine.SecurityReport.
//
// It is pure: no I/O, no imports of goGuard.
package security
