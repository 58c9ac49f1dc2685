package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeMonitor_RecordSuccess(t *testing.T) {
	pm := NewProbeMonitor("model", time.Hour)
	pm.RecordSuccess()

	status := pm.Status()
	assert.True(t, status.Healthy)
	assert.Equal(t, "model", status.Name)
	assert.Zero(t, status.ConsecutiveErrors)
	assert.Empty(t, status.LastError)
	assert.NotEmpty(t, status.LastSuccess)
}

func TestProbeMonitor_RecordFailure(t *testing.T) {
	pm := NewProbeMonitor("model", time.Hour)
	pm.RecordFailure(errors.New("connection refused"))

	status := pm.Status()
	assert.Equal(t, 1, status.ConsecutiveErrors)
	assert.Equal(t, "connection refused", status.LastError)
	assert.False(t, status.Healthy)
}

func TestProbeMonitor_IsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*ProbeMonitor)
		expected bool
	}{
		{
			name:     "never succeeded",
			setup:    func(*ProbeMonitor) {},
			expected: false,
		},
		{
			name:     "recent success",
			setup:    func(pm *ProbeMonitor) { pm.RecordSuccess() },
			expected: true,
		},
		{
			name: "stale success",
			setup: func(pm *ProbeMonitor) {
				pm.mu.Lock()
				pm.lastSuccess = time.Now().Add(-2 * time.Hour)
				pm.mu.Unlock()
			},
			expected: false,
		},
		{
			name: "too many consecutive errors",
			setup: func(pm *ProbeMonitor) {
				pm.RecordSuccess()
				for i := 0; i < 4; i++ {
					pm.RecordFailure(errors.New("timeout"))
				}
			},
			expected: false,
		},
		{
			name:     "disabled",
			setup:    func(pm *ProbeMonitor) { pm.Disable() },
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm := NewProbeMonitor("model", time.Hour)
			tt.setup(pm)
			require.Equal(t, tt.expected, pm.IsHealthy())
		})
	}
}
