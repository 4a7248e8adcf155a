package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduledNotification_IsDue(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		status NotificationStatus
		at     time.Time
		want   bool
	}{
		{"pending in the past", StatusPending, now.Add(-time.Minute), true},
		{"pending exactly now", StatusPending, now, true},
		{"pending in the future", StatusPending, now.Add(time.Second), false},
		{"sent in the past", StatusSent, now.Add(-time.Hour), false},
		{"failed in the past", StatusFailed, now.Add(-time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &ScheduledNotification{Status: tt.status, ScheduledAt: tt.at}
			assert.Equal(t, tt.want, n.IsDue(now))
		})
	}

	assert.True(t, StatusSent.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
}
