package monitor

import (
	"sync"
	"time"
)

// ProbeMonitor tracks the health of an external dependency from periodic
// probes.
type ProbeMonitor struct {
	mu                sync.RWMutex
	name              string
	staleAfter        time.Duration
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	disabled          bool
}

// NewProbeMonitor creates a monitor for name. A success older than
// staleAfter no longer counts.
func NewProbeMonitor(name string, staleAfter time.Duration) *ProbeMonitor {
	return &ProbeMonitor{name: name, staleAfter: staleAfter}
}

// Disable marks the dependency as not configured. A disabled dependency
// is reported but never unhealthy.
func (pm *ProbeMonitor) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.disabled = true
}

// RecordSuccess records a successful probe.
func (pm *ProbeMonitor) RecordSuccess() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	now := time.Now()
	pm.lastSuccess = now
	pm.lastAttempt = now
	pm.consecutiveErrors = 0
	pm.lastError = ""
}

// RecordFailure records a failed probe.
func (pm *ProbeMonitor) RecordFailure(err error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.lastAttempt = time.Now()
	pm.consecutiveErrors++
	if err != nil {
		pm.lastError = err.Error()
	}
}

// IsHealthy returns true if the dependency answers.
// Unhealthy conditions:
//   - Never succeeded
//   - No success within staleAfter
//   - More than 3 consecutive failures
func (pm *ProbeMonitor) IsHealthy() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.healthyLocked()
}

func (pm *ProbeMonitor) healthyLocked() bool {
	if pm.disabled {
		return true
	}
	if pm.lastSuccess.IsZero() {
		return false
	}
	if pm.staleAfter > 0 && time.Since(pm.lastSuccess) > pm.staleAfter {
		return false
	}
	return pm.consecutiveErrors <= 3
}

// ProbeStatus is the health check view of a probe.
type ProbeStatus struct {
	Name              string `json:"name"`
	Healthy           bool   `json:"healthy"`
	Disabled          bool   `json:"disabled,omitempty"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current probe status for health checks.
func (pm *ProbeMonitor) Status() ProbeStatus {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	status := ProbeStatus{
		Name:     pm.name,
		Healthy:  pm.healthyLocked(),
		Disabled: pm.disabled,
	}
	if !pm.lastSuccess.IsZero() {
		status.LastSuccess = pm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(pm.lastSuccess).Round(time.Second).String()
	}
	if !pm.lastAttempt.IsZero() {
		status.LastAttempt = pm.lastAttempt.Format(time.RFC3339)
	}
	if pm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = pm.consecutiveErrors
		status.LastError = pm.lastError
	}
	return status
}
