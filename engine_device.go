package goGuard

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/goGuard/internal/stores"
)

// RevokeTrustedDevice deletes the server record behind a trusted-device token.
// The token stops bypassing the second factor immediately even though its
// signature and embedded expiry remain valid. Unknown IDs are ignored.
func (e *Engine) RevokeTrustedDevice(ctx context.Context, actorEmail, tokenID string) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return newValidationError("token_id", "required")
	}
	actorEmail = normalizeEmail(actorEmail)

	owner, err := e.devices.Lookup(ctx, tokenID)
	if errors.Is(err, stores.ErrTrustedDeviceNotFound) {
		return nil
	}
	if err != nil {
		return wrapUnavailable(err)
	}
	if owner != actorEmail {
		return ErrUnauthorized
	}
	if err := e.devices.Revoke(ctx, tokenID); err != nil {
		return wrapUnavailable(err)
	}

	e.metricInc(MetricTrustedDeviceRevoked)
	e.audit.Emit(ctx, AuditEntry{
		Kind:     AuditKindSystem,
		Action:   "trusted_device_revoked",
		Email:    actorEmail,
		IP:       clientIPFromContext(ctx),
		TargetID: tokenID,
	})
	return nil
}

// RevokeAllTrustedDevices revokes every trusted device of email and returns
// how many records were removed.
func (e *Engine) RevokeAllTrustedDevices(ctx context.Context, email string) (int, error) {
	email = normalizeEmail(email)
	n, err := e.devices.RevokeAll(ctx, email)
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	for i := 0; i < n; i++ {
		e.metricInc(MetricTrustedDeviceRevoked)
	}
	e.emitSystemAudit(ctx, "trusted_devices_revoked", email, clientIPFromContext(ctx), "")
	return n, nil
}
