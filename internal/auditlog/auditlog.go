// Package auditlog emits single-line JSON audit records: {level, ts,
// correlationId, event:"auth.audit.<kind>", ip, route, userAgent, userId?,
// statusCode?, details?}, built on log/slog.
package auditlog

import (
	"context"
	"log/slog"
)

// Kind is the auth.audit.<kind> suffix of an event name.
type Kind string

const (
	KindRegisterSucceeded  Kind = "register_succeeded"
	KindRegisterRejected   Kind = "register_rejected"
	KindLoginSucceeded     Kind = "login_succeeded"
	KindLoginRejected      Kind = "login_rejected"
	KindTokenExchanged     Kind = "token_exchanged"
	KindTokenRejected      Kind = "token_rejected"
	KindRefreshSucceeded   Kind = "refresh_succeeded"
	KindRefreshRejected    Kind = "refresh_rejected"
	KindRefreshReuse       Kind = "refresh_reuse_detected"
	KindLogout             Kind = "logout"
	KindLogoutAll          Kind = "logout_all"
	KindPasswordResetSent  Kind = "password_reset_sent"
	KindPasswordChanged    Kind = "password_changed"
	KindFederationStarted  Kind = "federation_started"
	KindFederationLinked   Kind = "federation_linked"
	KindFederationRejected Kind = "federation_rejected"
	KindRateLimited        Kind = "rate_limited"
	KindUnexpectedError    Kind = "unexpected_error"
)

// Event is the structured payload of one audit line. CorrelationID, IP,
// Route and UserAgent are normally filled in by the HTTP boundary before the
// handler ever sees a Logger; UserID, StatusCode and Details are supplied by
// the flow that fires the event.
type Event struct {
	CorrelationID string
	Kind          Kind
	IP            string
	Route         string
	UserAgent     string
	UserID        string
	StatusCode    int
	Details       map[string]any
}

// Logger emits audit Events as structured slog records. Emission never
// blocks or fails the calling flow: audit side effects are non-blocking
// from the caller's perspective.
type Logger struct {
	slog *slog.Logger
}

// New wraps an *slog.Logger as an audit Logger. A nil base falls back to
// slog.Default().
func New(base *slog.Logger) *Logger {
	if base == nil {
		base = slog.Default()
	}
	return &Logger{slog: base}
}

// Emit writes one audit line. It never panics and never returns an error:
// a malformed Details map degrades to omitting that attribute rather than
// failing the caller's flow.
func (l *Logger) Emit(ctx context.Context, e Event) {
	attrs := []slog.Attr{
		slog.String("correlationId", e.CorrelationID),
		slog.String("event", "auth.audit."+string(e.Kind)),
		slog.String("ip", e.IP),
		slog.String("route", e.Route),
		slog.String("userAgent", e.UserAgent),
	}
	if e.UserID != "" {
		attrs = append(attrs, slog.String("userId", e.UserID))
	}
	if e.StatusCode != 0 {
		attrs = append(attrs, slog.Int("statusCode", e.StatusCode))
	}
	if len(e.Details) > 0 {
		attrs = append(attrs, slog.Any("details", e.Details))
	}
	l.slog.LogAttrs(ctx, slog.LevelInfo, "auth.audit", attrs...)
}
