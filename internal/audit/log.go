// Package audit writes structured audit lines for API actions and committed
// chain events.
package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"defitown.org/internal/auth"
	"defitown.org/internal/chain"
	"defitown.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

var ErrEmptyEvent = errors.New("event name is required")

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the identifier set by WithRequestID.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

func contextFields(ctx context.Context) []zap.Field {
	fields := []zap.Field{zap.String("type", "audit")}
	if rid := RequestID(ctx); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		fields = append(fields, zap.String("principal", p.Address.Hex()))
	}
	return fields
}

// LogEvent writes an audit log entry enriched with request and principal context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return ErrEmptyEvent
	}
	if fields == nil {
		fields = map[string]any{}
	}
	obs.Logger().Info(event, append(contextFields(ctx), zap.Any("fields", fields))...)
	return nil
}

// Sink audits every event of every committed receipt.
type Sink struct{}

func (Sink) Publish(ctx context.Context, r chain.Receipt) error {
	log := obs.Logger().With(append(contextFields(ctx),
		zap.String("tx_id", r.TxID),
		zap.String("from", r.From.Hex()),
	)...)
	for i, ev := range r.Events {
		log.Info("chain."+ev.Name,
			zap.Int("log_index", i),
			zap.String("contract", ev.Address.Hex()),
			zap.Any("fields", ev.Fields),
		)
	}
	return nil
}
