// Package meter computes billable time and settles the resulting charge
// against the external ledger.
package meter

import "github.com/consultwise/session-server-go/internal/config"

// BilledMinutes rounds elapsed time up to the next billing block: 1-15
// elapsed minutes bill as 15, 16-30 as 30, and so on. Zero elapsed time
// bills nothing.
func BilledMinutes(elapsedSeconds int64) int64 {
	if elapsedSeconds <= 0 {
		return 0
	}
	minutes := (elapsedSeconds + 59) / 60
	blocks := (minutes + config.BillingBlockMinutes - 1) / config.BillingBlockMinutes
	return blocks * config.BillingBlockMinutes
}

// BilledUnits derives the charge from the hourly rate. Computing from the
// hourly figure instead of a pre-divided per-minute rate keeps rounding error
// out of the total.
func BilledUnits(elapsedSeconds, rateUnitsPerHour int64) int64 {
	if rateUnitsPerHour <= 0 {
		return 0
	}
	return BilledMinutes(elapsedSeconds) * rateUnitsPerHour / 60
}
