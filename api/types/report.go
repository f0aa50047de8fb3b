package types

import "time"

// CredentialStatus is the per-credential slice of a key pool health report.
// The key itself is never included, only a masked fingerprint.
type CredentialStatus struct {
	Fingerprint        string    `json:"fingerprint"`
	Healthy            bool      `json:"healthy"`
	FailCount          int       `json:"fail_count"`
	LastFailureAt      time.Time `json:"last_failure_at,omitempty"`
	LastError          string    `json:"last_error,omitempty"`
	LastResponseTimeMs int64     `json:"last_response_time_ms"`
}

// KeyPoolReport is the read-only health report of the credential pool.
type KeyPoolReport struct {
	HealthyCount int                `json:"healthy_count"`
	TotalCount   int                `json:"total_count"`
	Credentials  []CredentialStatus `json:"credentials"`
}

// CoordinatorStats exposes coordinator counters and gate state for
// operational visibility. Reads only, no mutation.
type CoordinatorStats struct {
	TotalSignalsReceived int64     `json:"total_signals_received"`
	TotalSignalsDropped  int64     `json:"total_signals_dropped"`
	TotalCallsMade       int64     `json:"total_calls_made"`
	QueueDepth           int       `json:"queue_depth"`
	CooldownActive       bool      `json:"cooldown_active"`
	EmergencyMode        bool      `json:"emergency_mode"`
	LastCallAt           time.Time `json:"last_call_at,omitempty"`
}
