package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginAttempts counts login attempts by outcome (success, invalid_credentials, error, throttled).
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolauth",
		Name:      "login_attempts_total",
		Help:      "Login attempts by outcome.",
	}, []string{"outcome"})

	SessionRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolauth",
		Name:      "session_refreshes_total",
		Help:      "Session refresh attempts by outcome.",
	}, []string{"outcome"})

	SessionTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "schoolauth",
		Name:      "session_timeouts_total",
		Help:      "Session timeout records written.",
	})

	// GuardDenials counts requests rejected by the access guard, by reason.
	GuardDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolauth",
		Name:      "guard_denials_total",
		Help:      "Requests rejected by the access guard.",
	}, []string{"reason"})

	AuditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "schoolauth",
		Name:      "audit_write_failures_total",
		Help:      "Session log writes that failed and were dropped.",
	})

	PasswordResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolauth",
		Name:      "password_resets_total",
		Help:      "Password reset flow events.",
	}, []string{"event"})
)
