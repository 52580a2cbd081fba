package connection

import (
	"context"
	"fmt"
	"time"

	"adgmanager/internal/audit"
	"adgmanager/internal/storage"
)

// Preferences are the user settings kept in the sync scope
type Preferences struct {
	Theme             string `json:"theme"`
	RefreshInterval   int    `json:"refreshInterval"`
	AutoRefresh       bool   `json:"autoRefresh"`
	ShowNotifications bool   `json:"showNotifications"`
}

// PreferencesUpdate carries only the fields to change
type PreferencesUpdate struct {
	Theme             *string `json:"theme,omitempty"`
	RefreshInterval   *int    `json:"refreshInterval,omitempty"`
	AutoRefresh       *bool   `json:"autoRefresh,omitempty"`
	ShowNotifications *bool   `json:"showNotifications,omitempty"`
}

var validThemes = map[string]bool{"auto": true, "light": true, "dark": true}

// Preferences reads stored preferences, falling back to defaults per field
func (m *Manager) Preferences(ctx context.Context) (Preferences, error) {
	p := Preferences{
		Theme:           "auto",
		RefreshInterval: int(m.defaultInterval / time.Second),
		AutoRefresh:     m.defaultAutoRefresh,
	}

	fields := []struct {
		key string
		dst interface{}
	}{
		{keyTheme, &p.Theme},
		{keyRefreshInterval, &p.RefreshInterval},
		{keyAutoRefresh, &p.AutoRefresh},
		{keyShowNotifications, &p.ShowNotifications},
	}
	for _, f := range fields {
		if _, err := storage.GetJSON(ctx, m.syncStore, f.key, f.dst); err != nil {
			return Preferences{}, err
		}
	}
	return p, nil
}

// UpdatePreferences stores the given fields and restarts polling when its
// settings changed
func (m *Manager) UpdatePreferences(ctx context.Context, u PreferencesUpdate) (Preferences, error) {
	if u.Theme != nil && !validThemes[*u.Theme] {
		return Preferences{}, fmt.Errorf("%w: theme must be auto, light or dark", ErrInvalidRequest)
	}
	if u.RefreshInterval != nil && *u.RefreshInterval < 0 {
		return Preferences{}, fmt.Errorf("%w: refresh interval cannot be negative", ErrInvalidRequest)
	}

	before, err := m.Preferences(ctx)
	if err != nil {
		return Preferences{}, err
	}

	if u.Theme != nil {
		if err := storage.SetJSON(ctx, m.syncStore, keyTheme, *u.Theme); err != nil {
			return Preferences{}, err
		}
	}
	if u.ShowNotifications != nil {
		if err := storage.SetJSON(ctx, m.syncStore, keyShowNotifications, *u.ShowNotifications); err != nil {
			return Preferences{}, err
		}
	}
	if u.RefreshInterval != nil {
		if err := storage.SetJSON(ctx, m.syncStore, keyRefreshInterval, *u.RefreshInterval); err != nil {
			return Preferences{}, err
		}
	}
	if u.AutoRefresh != nil {
		if err := storage.SetJSON(ctx, m.syncStore, keyAutoRefresh, *u.AutoRefresh); err != nil {
			return Preferences{}, err
		}
	}

	after, err := m.Preferences(ctx)
	if err != nil {
		return Preferences{}, err
	}

	if before != after {
		audit.LogConfigChange("Preferences updated", before, after)
	}
	if before.AutoRefresh != after.AutoRefresh || before.RefreshInterval != after.RefreshInterval {
		m.restartPolling(ctx)
	}
	return after, nil
}

// UpdateRefreshInterval sets the polling interval in seconds. Zero turns
// automatic refresh off; a positive value turns it on.
func (m *Manager) UpdateRefreshInterval(ctx context.Context, seconds int) (Preferences, error) {
	if seconds < 0 {
		return Preferences{}, fmt.Errorf("%w: refresh interval cannot be negative", ErrInvalidRequest)
	}
	auto := seconds > 0
	u := PreferencesUpdate{AutoRefresh: &auto}
	if auto {
		u.RefreshInterval = &seconds
	}
	return m.UpdatePreferences(ctx, u)
}
