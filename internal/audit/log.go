// Package audit writes audit records for access-control changes.
package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/iotaledger/product-core-sub000/internal/auth"
	"github.com/iotaledger/product-core-sub000/internal/obs"
	"github.com/iotaledger/product-core-sub000/internal/rolemap"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and caller context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("audit: event name is required")
	}
	zf := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		zf = append(zf, zap.String("request_id", rid))
	}
	if caller, ok := auth.CallerFromContext(ctx); ok {
		zf = append(zf, zap.String("caller", string(caller)))
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	zf = append(zf, zap.Any("fields", copyFields))
	obs.Logger().Info("audit", zf...)
	return nil
}

// Observer returns a rolemap.Observer that writes one audit entry per event.
func Observer() rolemap.Observer {
	return rolemap.ObserverFunc(func(ctx context.Context, evt rolemap.Event) {
		fields := map[string]any{
			"target_key": evt.TargetKey,
			"timestamp":  evt.Timestamp,
		}
		if evt.Role != "" {
			fields["role"] = evt.Role
		}
		if len(evt.Permissions) > 0 {
			fields["permissions"] = evt.Permissions
		}
		if evt.CapabilityID != "" {
			fields["capability_id"] = evt.CapabilityID
		}
		if evt.IssuedTo != "" {
			fields["issued_to"] = evt.IssuedTo
		}
		if evt.ValidFrom != nil {
			fields["valid_from"] = *evt.ValidFrom
		}
		if evt.ValidUntil != nil {
			fields["valid_until"] = *evt.ValidUntil
		}
		if evt.Caller != "" {
			fields["event_caller"] = evt.Caller
		}
		if err := LogEvent(ctx, string(evt.Kind), fields); err != nil {
			obs.Logger().Warn("audit_failed", zap.Error(err))
		}
	})
}
