package meter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBilledMinutes(t *testing.T) {
	tests := []struct {
		name           string
		elapsedSeconds int64
		want           int64
	}{
		{"zero elapsed bills nothing", 0, 0},
		{"one second rounds up to first block", 1, 15},
		{"one minute bills first block", 60, 15},
		{"just under fifteen minutes bills one block", 14*60 + 59, 15},
		{"exactly fifteen minutes bills one block", 15 * 60, 15},
		{"one second into second block bills two blocks", 15*60 + 1, 30},
		{"sixteen minutes bills two blocks", 16 * 60, 30},
		{"one hour bills four blocks", 60 * 60, 60},
		{"partial second rounds the minute up", 61, 15},
		{"ninety minutes bills six blocks", 90 * 60, 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BilledMinutes(tt.elapsedSeconds))
		})
	}
}

func TestBilledUnits(t *testing.T) {
	tests := []struct {
		name             string
		elapsedSeconds   int64
		rateUnitsPerHour int64
		want             int64
	}{
		{"zero elapsed costs nothing", 0, 60, 0},
		{"one minute at 60 units per hour", 60, 60, 15},
		{"sixteen minutes at 60 units per hour", 16 * 60, 60, 30},
		{"one hour at 60 units per hour", 60 * 60, 60, 60},
		{"one minute at 120 units per hour", 60, 120, 30},
		{"free session costs nothing", 60 * 60, 0, 0},
		{"one hour at 90 units per hour", 60 * 60, 90, 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BilledUnits(tt.elapsedSeconds, tt.rateUnitsPerHour))
		})
	}
}
