package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"adgmanager/internal/adguard"
	"adgmanager/internal/audit"
	"adgmanager/internal/storage"

	"github.com/sirupsen/logrus"
)

const (
	seqProtection = "protection"
	seqStats      = "stats"
)

func (m *Manager) beginAttempt() {
	if s := m.State(); s == StateDisconnected || s == StateDegraded {
		m.setState(StateConnecting)
	}
}

// applyProtection persists ps unless a newer response already did
func (m *Manager) applyProtection(ctx context.Context, seq uint64, ps ProtectionState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.acceptSeqLocked(seqProtection, seq) {
		m.log.WithField("seq", seq).Debug("Discarding stale protection state")
		return false, nil
	}
	return true, storage.SetJSON(ctx, m.local, keyProtectionState, ps)
}

// markDegraded records a refresh that failed after all retries
func (m *Manager) markDegraded(ctx context.Context, seq uint64) {
	m.invalidateClient()

	var ps ProtectionState
	if _, err := storage.GetJSON(ctx, m.local, keyProtectionState, &ps); err != nil {
		m.log.WithError(err).Warn("Failed to read protection state")
	}
	ps.IsConnected = false
	ps.LastUpdated = m.clock.Now()

	applied, err := m.applyProtection(ctx, seq, ps)
	if err != nil {
		m.log.WithError(err).Warn("Failed to persist protection state")
	}
	if applied {
		m.setState(StateDegraded)
	}
}

// RefreshStatus fetches the server status and persists the protection state
func (m *Manager) RefreshStatus(ctx context.Context) (*ProtectionState, *adguard.Status, error) {
	seq := m.nextSeq()
	m.beginAttempt()

	var status *adguard.Status
	err := m.withRetry(ctx, OpRefreshStatus, "", func(ctx context.Context, c API) error {
		s, err := c.GetStatus(ctx)
		status = s
		return err
	})
	if errors.Is(err, ErrNoActiveInstance) {
		m.setState(StateDisconnected)
		return nil, nil, err
	}
	if err != nil {
		m.markDegraded(ctx, seq)
		return nil, nil, err
	}

	ps := ProtectionState{
		IsConnected:       true,
		ProtectionEnabled: status.ProtectionEnabled,
		LastUpdated:       m.clock.Now(),
	}
	applied, err := m.applyProtection(ctx, seq, ps)
	if err != nil {
		return nil, nil, err
	}
	if applied {
		m.setState(StateConnected)
		m.notifier.Notify(Event{Type: EventStatusUpdated, Data: ps})
	}
	return &ps, status, nil
}

// RefreshStats fetches statistics and persists a snapshot
func (m *Manager) RefreshStats(ctx context.Context) (*StatsSnapshot, error) {
	seq := m.nextSeq()
	m.beginAttempt()

	var stats *adguard.Stats
	err := m.withRetry(ctx, OpRefreshStats, "", func(ctx context.Context, c API) error {
		s, err := c.GetStats(ctx)
		stats = s
		return err
	})
	if errors.Is(err, ErrNoActiveInstance) {
		m.setState(StateDisconnected)
		return nil, err
	}
	if err != nil {
		m.markDegraded(ctx, m.nextSeq())
		return nil, err
	}

	snap := &StatsSnapshot{Stats: stats, FetchedAt: m.clock.Now()}

	m.mu.Lock()
	accepted := m.acceptSeqLocked(seqStats, seq)
	if accepted {
		err = storage.SetJSON(ctx, m.local, keyStats, snap)
	}
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if accepted {
		m.setState(StateConnected)
		m.notifier.Notify(Event{Type: EventStatsUpdated, Data: snap})
	}
	return snap, nil
}

// Stats returns the last persisted snapshot, nil when none exists
func (m *Manager) Stats(ctx context.Context) (*StatsSnapshot, error) {
	var snap StatsSnapshot
	found, err := storage.GetJSON(ctx, m.local, keyStats, &snap)
	if err != nil || !found {
		return nil, err
	}
	return &snap, nil
}

// ToggleProtection turns protection on or off on the active instance.
// Turning it on also ends any temporary disable window.
func (m *Manager) ToggleProtection(ctx context.Context, enabled bool) (*ProtectionState, error) {
	return m.toggleOn(ctx, "", enabled)
}

func (m *Manager) toggleOn(ctx context.Context, instanceID string, enabled bool) (*ProtectionState, error) {
	seq := m.nextSeq()

	var target string
	err := m.withRetry(ctx, OpToggleProtection, instanceID, func(ctx context.Context, c API) error {
		_, err := c.ToggleProtection(ctx, enabled)
		return err
	})
	if instanceID == "" {
		if inst, ierr := m.ActiveInstance(ctx); ierr == nil {
			target = inst.ID
		}
	} else {
		target = instanceID
	}
	audit.LogProtectionChange(target, enabled, err == nil)
	if err != nil {
		return nil, err
	}

	if enabled {
		if cerr := m.clearDisableWindow(ctx); cerr != nil {
			m.log.WithError(cerr).Warn("Failed to clear temporary disable window")
		}
	}

	ps := ProtectionState{IsConnected: true, ProtectionEnabled: enabled, LastUpdated: m.clock.Now()}
	if m.isActive(ctx, target) {
		applied, err := m.applyProtection(ctx, seq, ps)
		if err != nil {
			return nil, err
		}
		if applied {
			m.setState(StateConnected)
			m.notifier.Notify(Event{Type: EventStatusUpdated, Data: ps})
		}
	}
	return &ps, nil
}

func (m *Manager) isActive(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	active, err := m.activeID(ctx)
	return err == nil && active == id
}

// TestRequest tests either explicit credentials or, when URL is empty, the
// active instance. A stored instance's password is reused when ID is set
// and Password is empty.
type TestRequest struct {
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// TestConnection reports whether a server answers with the given credentials.
// It fails only when there is nothing to test; server failures are in the result.
func (m *Manager) TestConnection(ctx context.Context, req TestRequest) (adguard.TestResult, error) {
	if strings.TrimSpace(req.URL) == "" {
		return m.testActive(ctx)
	}

	if req.Password == "" && req.ID != "" {
		if inst, err := m.findInstance(ctx, req.ID); err == nil {
			req.Password = inst.Password
		}
	}

	client := m.newClient(Instance{URL: req.URL, Username: req.Username, Password: req.Password})
	res := client.TestConnection(ctx)
	if !res.Success {
		var failure error = fmt.Errorf("connection test failed")
		if res.Error != nil {
			failure = res.Error
		}
		m.recordError(ctx, OpTestConnection, failure)
	} else {
		m.clearErrors(ctx)
	}
	return res, nil
}

func (m *Manager) testActive(ctx context.Context) (adguard.TestResult, error) {
	m.setState(StateConnecting)

	var res adguard.TestResult
	err := m.withRetry(ctx, OpTestConnection, "", func(ctx context.Context, c API) error {
		res = c.TestConnection(ctx)
		if !res.Success {
			if res.Error == nil {
				return fmt.Errorf("connection test failed")
			}
			return res.Error
		}
		return nil
	})

	switch {
	case errors.Is(err, ErrNoActiveInstance):
		m.setState(StateDisconnected)
		return adguard.TestResult{}, err
	case err != nil:
		m.invalidateClient()
		m.setState(StateDisconnected)
		return adguard.TestResult{Success: false, Error: adguard.Classify(OpTestConnection, err)}, nil
	}

	m.setState(StateConnected)
	return res, nil
}

// ResetAPIClient drops the cached client so the next call rebuilds it
func (m *Manager) ResetAPIClient(ctx context.Context) {
	m.invalidateClient()
	m.setState(StateConnecting)
	m.restartPolling(ctx)
	m.log.Info("API client reset")
}

// ResetConnection drops the client and the error log, then refreshes status
func (m *Manager) ResetConnection(ctx context.Context) (*ProtectionState, error) {
	m.ResetAPIClient(ctx)
	if err := m.ClearErrorLog(ctx); err != nil {
		m.log.WithError(err).Warn("Failed to clear error log")
	}
	ps, _, err := m.RefreshStatus(ctx)
	return ps, err
}

// Disconnect stops polling and marks the connection down. Stored instances
// are kept.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.stopPolling()
	m.invalidateClient()
	m.setState(StateDisconnected)

	ps := ProtectionState{LastUpdated: m.clock.Now()}
	if _, err := m.applyProtection(ctx, m.nextSeq(), ps); err != nil {
		return err
	}
	m.log.WithFields(logrus.Fields{"state": StateDisconnected}).Info("Disconnected")
	return nil
}
