package connection

import (
	"context"

	"adgmanager/internal/adguard"
	"adgmanager/internal/storage"
)

// recordError prepends a classified entry to the persisted log, keeping the
// newest maxErrorLogEntries
func (m *Manager) recordError(ctx context.Context, op string, err error) {
	cerr := adguard.Classify(op, err)

	m.mu.Lock()
	m.lastErr = cerr
	m.mu.Unlock()

	entry := ErrorEntry{
		Code:      cerr.Code,
		Message:   cerr.Message,
		Details:   cerr.Details,
		Operation: op,
		Timestamp: m.clock.Now(),
	}

	m.errMu.Lock()
	defer m.errMu.Unlock()

	var entries []ErrorEntry
	if _, gerr := storage.GetJSON(ctx, m.local, keyConnectionErrors, &entries); gerr != nil {
		m.log.WithError(gerr).Warn("Failed to read error log, starting a new one")
		entries = nil
	}

	entries = append([]ErrorEntry{entry}, entries...)
	if len(entries) > maxErrorLogEntries {
		entries = entries[:maxErrorLogEntries]
	}

	if serr := storage.SetJSON(ctx, m.local, keyConnectionErrors, entries); serr != nil {
		m.log.WithError(serr).Error("Failed to persist error log")
	}
}

// clearErrors empties the log after a successful operation
func (m *Manager) clearErrors(ctx context.Context) {
	m.mu.Lock()
	m.lastErr = nil
	m.mu.Unlock()

	m.errMu.Lock()
	defer m.errMu.Unlock()

	var entries []ErrorEntry
	found, err := storage.GetJSON(ctx, m.local, keyConnectionErrors, &entries)
	if err == nil && (!found || len(entries) == 0) {
		return
	}
	if err := m.local.Remove(ctx, keyConnectionErrors); err != nil {
		m.log.WithError(err).Warn("Failed to clear error log")
	}
}

// ErrorLog returns the persisted log, most recent first
func (m *Manager) ErrorLog(ctx context.Context) ([]ErrorEntry, error) {
	m.errMu.Lock()
	defer m.errMu.Unlock()

	entries := []ErrorEntry{}
	if _, err := storage.GetJSON(ctx, m.local, keyConnectionErrors, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ClearErrorLog removes every entry
func (m *Manager) ClearErrorLog(ctx context.Context) error {
	m.mu.Lock()
	m.lastErr = nil
	m.mu.Unlock()

	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.local.Remove(ctx, keyConnectionErrors)
}
