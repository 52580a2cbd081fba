package connection

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// restartPolling replaces the poll loop according to the active instance and
// current preferences. It stops polling when nothing should be polled.
func (m *Manager) restartPolling(ctx context.Context) {
	interval := m.desiredPollInterval(ctx)

	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	m.stopPollingLocked()
	if interval <= 0 || m.ctx.Err() != nil {
		return
	}

	ticker := m.clock.NewTicker(interval)
	stop := make(chan struct{})
	m.pollStop = stop
	m.pollInterval = interval

	m.wg.Add(1)
	go m.pollLoop(ticker.Chan(), ticker.Stop, stop)

	m.log.WithField("interval", interval).Debug("Polling started")
}

func (m *Manager) desiredPollInterval(ctx context.Context) time.Duration {
	if _, err := m.ActiveInstance(ctx); err != nil {
		m.log.Debug("Polling stopped: no active instance")
		return 0
	}
	prefs, err := m.Preferences(ctx)
	if err != nil {
		m.log.WithError(err).Warn("Failed to read preferences, polling stopped")
		return 0
	}
	if !prefs.AutoRefresh || prefs.RefreshInterval <= 0 {
		m.log.Debug("Polling stopped: auto refresh disabled")
		return 0
	}
	return time.Duration(prefs.RefreshInterval) * time.Second
}

func (m *Manager) stopPolling() {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()
	m.stopPollingLocked()
}

func (m *Manager) stopPollingLocked() {
	if m.pollStop != nil {
		close(m.pollStop)
		m.pollStop = nil
		m.pollInterval = 0
	}
}

// PollInterval returns the running poll interval, zero when not polling
func (m *Manager) PollInterval() time.Duration {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()
	return m.pollInterval
}

func (m *Manager) pollLoop(ticks <-chan time.Time, stopTicker func(), stop <-chan struct{}) {
	defer m.wg.Done()
	defer stopTicker()

	for {
		select {
		case <-stop:
			return
		case <-m.ctx.Done():
			return
		case <-ticks:
			m.pollOnce()
		}
	}
}

// pollOnce refreshes status then stats. Failures are logged and the loop
// keeps going.
func (m *Manager) pollOnce() {
	ctx := m.background()
	if _, _, err := m.RefreshStatus(ctx); err != nil {
		m.log.WithFields(logrus.Fields{"operation": OpRefreshStatus}).WithError(err).Debug("Poll failed")
	}
	if _, err := m.RefreshStats(ctx); err != nil {
		m.log.WithFields(logrus.Fields{"operation": OpRefreshStats}).WithError(err).Debug("Poll failed")
	}
}
