// Package connection coordinates everything the agent does against AdGuard
// Home servers: instance bookkeeping with encrypted passwords, the cached API
// client, retries, periodic polling and the temporary disable timer.
//
// A Manager is built once per process and shared by every caller. All of its
// collaborators are injected so tests can run against memory stores, fake
// clients and a fake clock.
package connection

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"adgmanager/internal/adguard"
	"adgmanager/internal/secret"
	"adgmanager/internal/storage"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// API is the part of the AdGuard Home client the manager drives
type API interface {
	TestConnection(ctx context.Context) adguard.TestResult
	GetStatus(ctx context.Context) (*adguard.Status, error)
	GetStats(ctx context.Context) (*adguard.Stats, error)
	ToggleProtection(ctx context.Context, enabled bool) (*adguard.ProtectionResult, error)
	DisableTemporarily(ctx context.Context, minutes int) (*adguard.ProtectionResult, error)
}

// ClientFactory builds an API client for an instance
type ClientFactory func(inst Instance) API

// Notifier receives events for listening UIs
type Notifier interface {
	Notify(ev Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

// Options configures a Manager
type Options struct {
	Local     storage.Store
	Sync      storage.Store
	NewClient ClientFactory
	Clock     clockwork.Clock
	Notifier  Notifier
	Logger    *logrus.Entry

	MaxRetries int
	RetryDelay time.Duration

	// Used until preferences are stored
	DefaultInterval    time.Duration
	DefaultAutoRefresh bool
}

type Manager struct {
	local     storage.Store
	syncStore storage.Store
	cipher    *secret.Cipher
	newClient ClientFactory
	clock     clockwork.Clock
	notifier  Notifier
	log       *logrus.Entry

	maxRetries         int
	retryDelay         time.Duration
	defaultInterval    time.Duration
	defaultAutoRefresh bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	client     API
	clientID   string
	state      State
	lastErr    *adguard.Error
	appliedSeq map[string]uint64

	seq atomic.Uint64

	// instances list read-modify-write
	instMu sync.Mutex
	// error log read-modify-write
	errMu sync.Mutex

	pollMu       sync.Mutex
	pollStop     chan struct{}
	pollInterval time.Duration

	disableMu    sync.Mutex
	disableTimer clockwork.Timer
	disableEnd   time.Time
	disableGen   uint64
}

// New builds a Manager. Start must be called before background work runs.
func New(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.NewClient == nil {
		opts.NewClient = func(inst Instance) API {
			return adguard.NewClient(inst.URL, inst.Username, inst.Password)
		}
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = 60 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		local:              opts.Local,
		syncStore:          opts.Sync,
		cipher:             secret.New(opts.Local),
		newClient:          opts.NewClient,
		clock:              opts.Clock,
		notifier:           opts.Notifier,
		log:                opts.Logger.WithField("component", "connection"),
		maxRetries:         opts.MaxRetries,
		retryDelay:         opts.RetryDelay,
		defaultInterval:    opts.DefaultInterval,
		defaultAutoRefresh: opts.DefaultAutoRefresh,
		ctx:                ctx,
		cancel:             cancel,
		state:              StateDisconnected,
		appliedSeq:         make(map[string]uint64),
	}
}

// Start migrates stored data, reconciles a pending disable window and starts
// polling when an instance is active
func (m *Manager) Start(ctx context.Context) error {
	if err := m.migrateLegacyCredentials(ctx); err != nil {
		m.log.WithError(err).Warn("Legacy credential migration failed")
	}
	if err := m.migratePlaintextPasswords(ctx); err != nil {
		m.log.WithError(err).Warn("Password encryption migration failed")
	}
	if err := m.Reconcile(ctx); err != nil {
		m.log.WithError(err).Warn("Temporary disable reconciliation failed")
	}
	m.restartPolling(ctx)
	m.log.Info("Connection manager started")
	return nil
}

// Stop ends background work. A pending disable window stays persisted so the
// next Start picks it up.
func (m *Manager) Stop() {
	m.cancel()
	m.stopPolling()

	m.disableMu.Lock()
	m.stopDisableTimerLocked()
	m.disableMu.Unlock()

	m.wg.Wait()
	m.log.Info("Connection manager stopped")
}

// background returns the context for work that outlives a request
func (m *Manager) background() context.Context {
	return m.ctx
}

func (m *Manager) nextSeq() uint64 {
	return m.seq.Add(1)
}

// acceptSeqLocked reports whether a response tagged seq is still the newest for
// kind and records it. Older responses are dropped.
func (m *Manager) acceptSeqLocked(kind string, seq uint64) bool {
	if seq < m.appliedSeq[kind] {
		return false
	}
	m.appliedSeq[kind] = seq
	return true
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()

	if prev != s {
		m.log.WithFields(logrus.Fields{"from": prev, "to": s}).Debug("Connection state changed")
		m.notifier.Notify(Event{Type: EventStateChanged, Data: map[string]State{"state": s}})
	}
}

// clientFor returns the client for instanceID, or for the active instance
// when instanceID is empty. Only the active instance's client is cached.
func (m *Manager) clientFor(ctx context.Context, instanceID string) (API, Instance, error) {
	active, activeErr := m.ActiveInstance(ctx)

	var inst Instance
	switch {
	case instanceID == "" || (activeErr == nil && instanceID == active.ID):
		if activeErr != nil {
			return nil, Instance{}, activeErr
		}
		inst = active
	default:
		found, err := m.findInstance(ctx, instanceID)
		if err != nil {
			return nil, Instance{}, err
		}
		return m.newClient(found), found, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.clientID == inst.ID {
		return m.client, inst, nil
	}
	m.client = m.newClient(inst)
	m.clientID = inst.ID
	m.log.WithField("instance", inst.ID).Debug("API client initialized")
	return m.client, inst, nil
}

// credentialSetter is implemented by clients that can switch credentials
// without being rebuilt
type credentialSetter interface {
	SetCredentials(username, password string)
}

// rotateClientCredentials updates the cached client in place when only the
// credentials of inst changed. It reports false when the client must be
// rebuilt instead.
func (m *Manager) rotateClientCredentials(inst Instance, prevURL string) bool {
	if prevURL != inst.URL {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.client.(credentialSetter)
	if !ok || m.clientID != inst.ID {
		return false
	}
	cs.SetCredentials(inst.Username, inst.Password)
	m.log.WithField("instance", inst.ID).Debug("API client credentials updated")
	return true
}

func (m *Manager) invalidateClient() {
	m.mu.Lock()
	m.client = nil
	m.clientID = ""
	m.mu.Unlock()
}

// ConnectionStatus answers getConnectionStatus
func (m *Manager) ConnectionStatus(ctx context.Context) (*Status, error) {
	var ps ProtectionState
	found, err := storage.GetJSON(ctx, m.local, keyProtectionState, &ps)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	st := &Status{State: m.state}
	if m.lastErr != nil {
		e := *m.lastErr
		st.LastError = &e
	}
	m.mu.Unlock()

	if found {
		st.IsConnected = ps.IsConnected
		st.ProtectionEnabled = ps.ProtectionEnabled
		if !ps.LastUpdated.IsZero() {
			t := ps.LastUpdated
			st.LastUpdated = &t
		}
	}

	if inst, err := m.ActiveInstance(ctx); err == nil {
		v := inst.View()
		st.ActiveInstance = &v
	}
	return st, nil
}
