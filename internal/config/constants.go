package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Billing policy: elapsed time rounds up to the next block of this many minutes.
const BillingBlockMinutes = 15

// Debit retry policy at session close. After the attempts are exhausted the
// charge is parked as a pending-charge row and picked up by the reconcile job.
const (
	DebitMaxAttempts    = 3
	DebitInitialBackoff = 200 * time.Millisecond
	DebitCallTimeout    = 5 * time.Second
)

// Background job intervals
const (
	SweepJobInterval     = 5 * time.Second
	ReconcileJobInterval = 1 * time.Minute
)

// Retention for settled pending charges and session archive rows.
const (
	SettledChargeRetention = 24 * time.Hour
	SessionRecordRetention = 90 * 24 * time.Hour
)
