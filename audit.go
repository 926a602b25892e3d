package goGuard

import (
	"context"
	"io"

	"github.com/MrEthical07/goGuard/internal/audit"
)

// AuditEntry is one immutable audit record. The engine assigns ID and
// Timestamp; values supplied by callers are overwritten.
type AuditEntry = audit.Event

// AuditKind separates login attempts from system events.
type AuditKind = audit.Kind

const (
	AuditKindLogin  = audit.KindLogin
	AuditKindSystem = audit.KindSystem
)

// AuditSink persists audit entries with a single insert each. Errors are
// logged by the engine and never reach the primary operation.
type AuditSink = audit.Sink

// NoOpAuditSink discards entries.
type NoOpAuditSink = audit.NoOpSink

// NewChannelAuditSink returns a sink that publishes entries on a buffered channel.
func NewChannelAuditSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONAuditSink writes one JSON document per line to w.
func NewJSONAuditSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// RecordLoginAttempt appends a login audit entry. It never fails the caller.
func (e *Engine) RecordLoginAttempt(ctx context.Context, email, ip, status, reason string) {
	if e == nil || e.audit == nil {
		return
	}
	e.audit.Emit(ctx, audit.Event{
		Kind:   audit.KindLogin,
		Email:  normalizeEmail(email),
		IP:     ip,
		Status: status,
		Reason: reason,
	})
}

// RecordSystemEvent appends a system audit entry. It never fails the caller.
func (e *Engine) RecordSystemEvent(ctx context.Context, action, actorEmail, ip, details, targetID string) {
	if e == nil || e.audit == nil {
		return
	}
	e.audit.Emit(ctx, audit.Event{
		Kind:     audit.KindSystem,
		Action:   action,
		Email:    normalizeEmail(actorEmail),
		IP:       ip,
		Details:  details,
		TargetID: targetID,
	})
}
