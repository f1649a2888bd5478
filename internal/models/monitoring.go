package models

import "sync"

// MonitoringConfig is the process-wide monitoring switch read by the
// aggregator before every fetch cycle. It is mutated only through the
// explicit administrative setters, never by config reload.
type MonitoringConfig struct {
	mu      sync.RWMutex
	enabled bool
	allowed map[string]struct{}
}

// NewMonitoringConfig creates a monitoring config. A nil or empty
// allow-list means every configured account is allowed.
func NewMonitoringConfig(enabled bool, allowedIDs []string) *MonitoringConfig {
	mc := &MonitoringConfig{enabled: enabled}
	if len(allowedIDs) > 0 {
		mc.allowed = make(map[string]struct{}, len(allowedIDs))
		for _, id := range allowedIDs {
			mc.allowed[id] = struct{}{}
		}
	}
	return mc
}

// Enabled reports whether monitoring is on.
func (m *MonitoringConfig) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// SetEnabled toggles monitoring.
func (m *MonitoringConfig) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
}

// Allows reports whether the account passes the allow-list filter.
func (m *MonitoringConfig) Allows(accountID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.allowed == nil {
		return true
	}
	_, ok := m.allowed[accountID]
	return ok
}

// Allow adds an account to the allow-list. Adding to a previously empty
// list switches the filter from allow-all to explicit.
func (m *MonitoringConfig) Allow(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowed == nil {
		m.allowed = make(map[string]struct{})
	}
	m.allowed[accountID] = struct{}{}
}

// Disallow removes an account from the allow-list. Removing the last
// entry reverts the filter to allow-all.
func (m *MonitoringConfig) Disallow(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowed == nil {
		return
	}
	delete(m.allowed, accountID)
	if len(m.allowed) == 0 {
		m.allowed = nil
	}
}

// AllowedIDs returns the explicit allow-list, or nil for allow-all.
func (m *MonitoringConfig) AllowedIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.allowed == nil {
		return nil
	}
	ids := make([]string, 0, len(m.allowed))
	for id := range m.allowed {
		ids = append(ids, id)
	}
	return ids
}
