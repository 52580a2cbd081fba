package connection

import (
	"context"
	"fmt"
	"time"

	"adgmanager/internal/audit"
	"adgmanager/internal/storage"

	"github.com/sirupsen/logrus"
)

// maxDisableMinutes caps a single disable window at one day
const maxDisableMinutes = 24 * 60

// DisableTemporarily turns protection off for minutes and schedules the
// re-enable. A newer request replaces any pending window.
func (m *Manager) DisableTemporarily(ctx context.Context, minutes int) (*DisableWindow, error) {
	if minutes <= 0 || minutes > maxDisableMinutes {
		return nil, fmt.Errorf("%w: minutes must be between 1 and %d", ErrInvalidRequest, maxDisableMinutes)
	}

	seq := m.nextSeq()
	err := m.withRetry(ctx, OpDisableTemporarily, "", func(ctx context.Context, c API) error {
		_, err := c.DisableTemporarily(ctx, minutes)
		return err
	})
	if err != nil {
		return nil, err
	}

	inst, err := m.ActiveInstance(ctx)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	w := DisableWindow{
		InstanceID: inst.ID,
		StartTime:  now,
		EndTime:    now.Add(time.Duration(minutes) * time.Minute),
		Minutes:    minutes,
	}

	m.disableMu.Lock()
	if err := storage.SetJSON(ctx, m.local, keyTemporaryDisable, w); err != nil {
		m.disableMu.Unlock()
		return nil, err
	}
	m.scheduleLocked(w)
	m.disableMu.Unlock()

	ps := ProtectionState{IsConnected: true, ProtectionEnabled: false, LastUpdated: now}
	if applied, err := m.applyProtection(ctx, seq, ps); err != nil {
		return nil, err
	} else if applied {
		m.setState(StateConnected)
		m.notifier.Notify(Event{Type: EventStatusUpdated, Data: ps})
	}

	audit.LogTemporaryDisable(inst.ID, minutes, w.EndTime)
	return &w, nil
}

// CancelTemporaryDisable drops the window and re-enables protection now
func (m *Manager) CancelTemporaryDisable(ctx context.Context) (*ProtectionState, error) {
	if err := m.clearDisableWindow(ctx); err != nil {
		return nil, err
	}
	audit.Log(audit.EventDisableCancelled, "info", "Temporary disable cancelled", nil)
	return m.ToggleProtection(ctx, true)
}

// TemporaryDisableStatus reports the persisted window
func (m *Manager) TemporaryDisableStatus(ctx context.Context) (DisableStatus, error) {
	var w DisableWindow
	found, err := storage.GetJSON(ctx, m.local, keyTemporaryDisable, &w)
	if err != nil {
		return DisableStatus{}, err
	}
	now := m.clock.Now()
	if !found || !w.EndTime.After(now) {
		return DisableStatus{Active: false}, nil
	}

	start, end := w.StartTime, w.EndTime
	return DisableStatus{
		Active:           true,
		StartTime:        &start,
		EndTime:          &end,
		Minutes:          w.Minutes,
		RemainingSeconds: int(end.Sub(now).Round(time.Second) / time.Second),
	}, nil
}

// Reconcile brings the timer in line with the persisted window. A future end
// gets a timer for the remaining time; a past end re-enables protection now
// and clears the window. Calling it repeatedly schedules at most one timer and
// re-enables at most once.
func (m *Manager) Reconcile(ctx context.Context) error {
	m.disableMu.Lock()

	var w DisableWindow
	found, err := storage.GetJSON(ctx, m.local, keyTemporaryDisable, &w)
	if err != nil {
		m.disableMu.Unlock()
		return err
	}
	if !found {
		m.stopDisableTimerLocked()
		m.disableMu.Unlock()
		return nil
	}

	if w.EndTime.After(m.clock.Now()) {
		m.scheduleLocked(w)
		m.disableMu.Unlock()
		return nil
	}

	// Expired while nobody was watching. Claim it before re-enabling so a
	// concurrent Reconcile finds nothing left to do.
	m.stopDisableTimerLocked()
	if err := m.local.Remove(ctx, keyTemporaryDisable); err != nil {
		m.disableMu.Unlock()
		return err
	}
	m.disableMu.Unlock()

	m.log.WithField("end_time", w.EndTime).Info("Temporary disable expired, re-enabling protection")
	return m.reenable(ctx, w)
}

// scheduleLocked arms the re-enable timer for w unless one already targets
// the same end time
func (m *Manager) scheduleLocked(w DisableWindow) {
	if m.disableTimer != nil && m.disableEnd.Equal(w.EndTime) {
		return
	}
	m.stopDisableTimerLocked()

	m.disableGen++
	gen := m.disableGen
	m.disableEnd = w.EndTime
	m.disableTimer = m.clock.AfterFunc(w.EndTime.Sub(m.clock.Now()), func() {
		m.onDisableExpired(gen)
	})

	m.log.WithFields(logrus.Fields{
		"end_time": w.EndTime,
		"minutes":  w.Minutes,
	}).Debug("Re-enable timer scheduled")
}

func (m *Manager) stopDisableTimerLocked() {
	if m.disableTimer != nil {
		m.disableTimer.Stop()
		m.disableTimer = nil
	}
	m.disableEnd = time.Time{}
	// Any callback already running for the old generation becomes a no-op
	m.disableGen++
}

func (m *Manager) onDisableExpired(gen uint64) {
	ctx := m.background()

	m.disableMu.Lock()
	if gen != m.disableGen || ctx.Err() != nil {
		m.disableMu.Unlock()
		return
	}
	m.disableTimer = nil
	m.disableEnd = time.Time{}
	m.disableGen++

	var w DisableWindow
	found, err := storage.GetJSON(ctx, m.local, keyTemporaryDisable, &w)
	if err == nil && found {
		err = m.local.Remove(ctx, keyTemporaryDisable)
	}
	m.disableMu.Unlock()

	if err != nil {
		m.log.WithError(err).Error("Failed to clear expired disable window")
		return
	}
	if !found {
		return
	}

	if err := m.reenable(ctx, w); err != nil {
		m.log.WithError(err).Error("Automatic re-enable failed")
	}
}

// reenable turns protection back on for the instance the window was opened
// against and tells listening UIs about it
func (m *Manager) reenable(ctx context.Context, w DisableWindow) error {
	instanceID := w.InstanceID
	if instanceID != "" {
		if _, err := m.findInstance(ctx, instanceID); err != nil {
			// Instance was deleted meanwhile, fall back to the active one
			instanceID = ""
		}
	}

	ps, err := m.toggleOn(ctx, instanceID, true)
	if err != nil {
		return err
	}

	prefs, perr := m.Preferences(ctx)
	showNotification := perr == nil && prefs.ShowNotifications

	audit.Log(audit.EventProtectionReenabled, "info", "Protection re-enabled after temporary disable", map[string]interface{}{
		"instance": w.InstanceID,
		"minutes":  w.Minutes,
	})
	m.notifier.Notify(Event{
		Type: EventProtectionAutoReenabled,
		Data: map[string]interface{}{
			"instanceId":       w.InstanceID,
			"minutes":          w.Minutes,
			"protection":       ps,
			"showNotification": showNotification,
		},
	})
	return nil
}

// clearDisableWindow stops the timer and removes the persisted window
func (m *Manager) clearDisableWindow(ctx context.Context) error {
	m.disableMu.Lock()
	defer m.disableMu.Unlock()

	m.stopDisableTimerLocked()
	return m.local.Remove(ctx, keyTemporaryDisable)
}
