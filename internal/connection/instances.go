package connection

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"adgmanager/internal/audit"
	"adgmanager/internal/secret"
	"adgmanager/internal/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SaveRequest creates an instance (empty ID) or edits one. An empty password
// on edit keeps the stored one.
type SaveRequest struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	URL        string `json:"url"`
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	MakeActive bool   `json:"makeActive,omitempty"`
}

func (r SaveRequest) validate() error {
	raw := strings.TrimSpace(r.URL)
	if raw == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an http(s) address", ErrInvalidRequest)
	}
	return nil
}

// loadInstances reads and decrypts the stored list. A password that cannot be
// decrypted is treated as missing but its ciphertext is kept for saving.
func (m *Manager) loadInstances(ctx context.Context) ([]Instance, error) {
	var stored []storedInstance
	if _, err := storage.GetJSON(ctx, m.syncStore, keyInstances, &stored); err != nil {
		return nil, err
	}

	out := make([]Instance, 0, len(stored))
	for _, s := range stored {
		inst := Instance{ID: s.ID, Name: s.Name, URL: s.URL, Username: s.Username}
		switch {
		case s.EncryptedPassword != "":
			pw, err := m.cipher.Decrypt(ctx, s.EncryptedPassword)
			if err != nil {
				m.log.WithFields(logrus.Fields{"instance": s.ID}).WithError(err).Warn("Stored password cannot be decrypted")
				inst.sealed = s.EncryptedPassword
			} else {
				inst.Password = pw
			}
		case s.Password != "":
			inst.Password = s.Password
		}
		out = append(out, inst)
	}
	return out, nil
}

func (m *Manager) saveInstances(ctx context.Context, list []Instance) error {
	stored := make([]storedInstance, 0, len(list))
	for _, inst := range list {
		s := storedInstance{ID: inst.ID, Name: inst.Name, URL: inst.URL, Username: inst.Username}
		if inst.Password != "" {
			enc, err := m.cipher.Encrypt(ctx, inst.Password)
			if err != nil {
				return fmt.Errorf("failed to encrypt password for %s: %w", inst.ID, err)
			}
			s.EncryptedPassword = enc
		} else if inst.sealed != "" {
			s.EncryptedPassword = inst.sealed
		}
		stored = append(stored, s)
	}
	return storage.SetJSON(ctx, m.syncStore, keyInstances, stored)
}

func (m *Manager) activeID(ctx context.Context) (string, error) {
	var id string
	if _, err := storage.GetJSON(ctx, m.syncStore, keyActiveInstance, &id); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Manager) setActiveID(ctx context.Context, id string) error {
	if id == "" {
		return m.syncStore.Remove(ctx, keyActiveInstance)
	}
	return storage.SetJSON(ctx, m.syncStore, keyActiveInstance, id)
}

// Instances lists stored instances without passwords, plus the active id
func (m *Manager) Instances(ctx context.Context) ([]InstanceView, string, error) {
	list, err := m.loadInstances(ctx)
	if err != nil {
		return nil, "", err
	}
	active, err := m.activeID(ctx)
	if err != nil {
		return nil, "", err
	}
	views := make([]InstanceView, 0, len(list))
	for _, inst := range list {
		views = append(views, inst.View())
	}
	return views, active, nil
}

// ActiveInstance returns the active instance with its decrypted password
func (m *Manager) ActiveInstance(ctx context.Context) (Instance, error) {
	id, err := m.activeID(ctx)
	if err != nil {
		return Instance{}, err
	}
	if id == "" {
		return Instance{}, ErrNoActiveInstance
	}
	inst, err := m.findInstance(ctx, id)
	if errors.Is(err, ErrInstanceNotFound) {
		return Instance{}, ErrNoActiveInstance
	}
	return inst, err
}

func (m *Manager) findInstance(ctx context.Context, id string) (Instance, error) {
	list, err := m.loadInstances(ctx)
	if err != nil {
		return Instance{}, err
	}
	for _, inst := range list {
		if inst.ID == id {
			return inst, nil
		}
	}
	return Instance{}, ErrInstanceNotFound
}

// SaveCredentials stores an instance. The first instance saved becomes active.
func (m *Manager) SaveCredentials(ctx context.Context, req SaveRequest) (InstanceView, error) {
	if err := req.validate(); err != nil {
		return InstanceView{}, err
	}

	m.instMu.Lock()
	list, err := m.loadInstances(ctx)
	if err != nil {
		m.instMu.Unlock()
		return InstanceView{}, err
	}

	var saved Instance
	var prevURL string
	if req.ID != "" {
		idx := -1
		for i := range list {
			if list[i].ID == req.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			m.instMu.Unlock()
			return InstanceView{}, ErrInstanceNotFound
		}
		inst := &list[idx]
		prevURL = inst.URL
		inst.URL = strings.TrimSpace(req.URL)
		inst.Username = req.Username
		if req.Name != "" {
			inst.Name = req.Name
		}
		if req.Password != "" {
			inst.Password = req.Password
		}
		saved = *inst
	} else {
		saved = Instance{
			ID:       uuid.NewString(),
			Name:     req.Name,
			URL:      strings.TrimSpace(req.URL),
			Username: req.Username,
			Password: req.Password,
		}
		if saved.Name == "" {
			saved.Name = defaultName(saved.URL)
		}
		list = append(list, saved)
	}

	if err := m.saveInstances(ctx, list); err != nil {
		m.instMu.Unlock()
		return InstanceView{}, err
	}

	active, err := m.activeID(ctx)
	if err != nil {
		m.instMu.Unlock()
		return InstanceView{}, err
	}
	becameActive := false
	if active == "" || req.MakeActive {
		if err := m.setActiveID(ctx, saved.ID); err != nil {
			m.instMu.Unlock()
			return InstanceView{}, err
		}
		becameActive = active != saved.ID
		active = saved.ID
	}
	m.instMu.Unlock()

	audit.LogInstanceChange(audit.EventCredentialsSaved, saved.ID, saved.Name)

	if active == saved.ID {
		// Credentials of the active instance changed or it just became active
		if becameActive || !m.rotateClientCredentials(saved, prevURL) {
			m.invalidateClient()
		}
		m.setState(StateConnecting)
		m.restartPolling(ctx)
		if becameActive {
			audit.LogInstanceChange(audit.EventInstanceSwitched, saved.ID, saved.Name)
		}
	}

	m.notifier.Notify(Event{Type: EventInstancesChanged})
	return saved.View(), nil
}

// SwitchActiveInstance makes id active. An unknown id fails without changing
// anything.
func (m *Manager) SwitchActiveInstance(ctx context.Context, id string) (InstanceView, error) {
	m.instMu.Lock()
	inst, err := m.findInstance(ctx, id)
	if err != nil {
		m.instMu.Unlock()
		return InstanceView{}, err
	}
	if err := m.setActiveID(ctx, id); err != nil {
		m.instMu.Unlock()
		return InstanceView{}, err
	}
	m.instMu.Unlock()

	m.invalidateClient()
	m.setState(StateConnecting)
	m.restartPolling(ctx)

	audit.LogInstanceChange(audit.EventInstanceSwitched, inst.ID, inst.Name)
	m.notifier.Notify(Event{Type: EventInstancesChanged})
	return inst.View(), nil
}

// DeleteInstance removes id. Deleting the active instance activates the
// first remaining one, or none.
func (m *Manager) DeleteInstance(ctx context.Context, id string) (string, error) {
	m.instMu.Lock()
	list, err := m.loadInstances(ctx)
	if err != nil {
		m.instMu.Unlock()
		return "", err
	}

	idx := -1
	for i := range list {
		if list[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.instMu.Unlock()
		return "", ErrInstanceNotFound
	}
	removed := list[idx]
	list = append(list[:idx], list[idx+1:]...)

	if err := m.saveInstances(ctx, list); err != nil {
		m.instMu.Unlock()
		return "", err
	}

	active, err := m.activeID(ctx)
	if err != nil {
		m.instMu.Unlock()
		return "", err
	}
	activeChanged := active == id
	if activeChanged {
		active = ""
		if len(list) > 0 {
			active = list[0].ID
		}
		if err := m.setActiveID(ctx, active); err != nil {
			m.instMu.Unlock()
			return "", err
		}
	}
	m.instMu.Unlock()

	audit.LogInstanceChange(audit.EventInstanceDeleted, removed.ID, removed.Name)

	if activeChanged {
		m.invalidateClient()
		if active == "" {
			m.setState(StateDisconnected)
		} else {
			m.setState(StateConnecting)
		}
		m.restartPolling(ctx)
	}

	m.notifier.Notify(Event{Type: EventInstancesChanged})
	return active, nil
}

// migrateLegacyCredentials turns the single-server record into an instance
// and removes it
func (m *Manager) migrateLegacyCredentials(ctx context.Context) error {
	var rawURL string
	found, err := storage.GetJSON(ctx, m.local, keyLegacyURL, &rawURL)
	if err != nil || !found {
		return err
	}

	var username, encrypted string
	if _, err := storage.GetJSON(ctx, m.local, keyLegacyUsername, &username); err != nil {
		return err
	}
	if _, err := storage.GetJSON(ctx, m.local, keyLegacyPassword, &encrypted); err != nil {
		return err
	}

	legacyKeys := []string{keyLegacyURL, keyLegacyUsername, keyLegacyPassword}
	if strings.TrimSpace(rawURL) == "" {
		return m.local.Remove(ctx, legacyKeys...)
	}

	password := ""
	if encrypted != "" {
		pw, err := m.cipher.Decrypt(ctx, encrypted)
		switch {
		case errors.Is(err, secret.ErrUnavailable):
			m.log.Warn("Legacy password cannot be decrypted, migrating without it")
		case err != nil:
			return err
		default:
			password = pw
		}
	}

	m.instMu.Lock()
	list, err := m.loadInstances(ctx)
	if err != nil {
		m.instMu.Unlock()
		return err
	}
	inst := Instance{
		ID:       uuid.NewString(),
		Name:     defaultName(rawURL),
		URL:      strings.TrimSpace(rawURL),
		Username: username,
		Password: password,
	}
	list = append(list, inst)
	if err := m.saveInstances(ctx, list); err != nil {
		m.instMu.Unlock()
		return err
	}
	active, err := m.activeID(ctx)
	if err == nil && active == "" {
		err = m.setActiveID(ctx, inst.ID)
	}
	m.instMu.Unlock()
	if err != nil {
		return err
	}

	if err := m.local.Remove(ctx, legacyKeys...); err != nil {
		return err
	}

	audit.Log(audit.EventMigration, "info", "Migrated legacy credentials to an instance", map[string]interface{}{
		"instance": inst.ID,
	})
	return nil
}

// migratePlaintextPasswords rewrites instances stored with a plaintext
// password so that only ciphertext remains
func (m *Manager) migratePlaintextPasswords(ctx context.Context) error {
	m.instMu.Lock()
	defer m.instMu.Unlock()

	var stored []storedInstance
	if _, err := storage.GetJSON(ctx, m.syncStore, keyInstances, &stored); err != nil {
		return err
	}

	count := 0
	for _, s := range stored {
		if s.Password != "" {
			count++
		}
	}
	if count == 0 {
		return nil
	}

	list, err := m.loadInstances(ctx)
	if err != nil {
		return err
	}
	if err := m.saveInstances(ctx, list); err != nil {
		return err
	}

	audit.Log(audit.EventMigration, "info", "Encrypted stored instance passwords", map[string]interface{}{
		"count": count,
	})
	return nil
}

func defaultName(rawURL string) string {
	if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return "AdGuard Home"
}
