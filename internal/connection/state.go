package connection

import (
	"errors"
	"time"

	"adgmanager/internal/adguard"
)

// State of the logical connection to the active instance
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDegraded     State = "degraded"
)

// Sync scope keys
const (
	keyInstances         = "adguardInstances"
	keyActiveInstance    = "activeInstance"
	keyTheme             = "theme"
	keyRefreshInterval   = "refreshInterval"
	keyAutoRefresh       = "autoRefresh"
	keyShowNotifications = "showNotifications"
)

// Local scope keys
const (
	keyProtectionState  = "protectionState"
	keyStats            = "stats"
	keyConnectionErrors = "connectionErrors"
	keyTemporaryDisable = "temporaryDisable"

	keyLegacyURL      = "adguardUrl"
	keyLegacyUsername = "adguardUsername"
	keyLegacyPassword = "encryptedPassword"
)

// Operation names recorded in the error log
const (
	OpRefreshStatus      = "refreshStatus"
	OpRefreshStats       = "refreshStats"
	OpToggleProtection   = "toggleProtection"
	OpDisableTemporarily = "disableTemporarily"
	OpTestConnection     = "testConnection"
)

const maxErrorLogEntries = 10

var (
	ErrNoActiveInstance = errors.New("no active AdGuard Home instance")
	ErrInstanceNotFound = errors.New("instance not found")
	ErrInvalidRequest   = errors.New("invalid request")
)

// Instance is one configured AdGuard Home server. Password holds the
// decrypted value and is never serialized.
type Instance struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"-"`

	// sealed keeps ciphertext this device cannot decrypt so a save writes it
	// back unchanged
	sealed string
}

// View returns the form handed to UIs
func (i Instance) View() InstanceView {
	return InstanceView{
		ID:          i.ID,
		Name:        i.Name,
		URL:         i.URL,
		Username:    i.Username,
		HasPassword: i.Password != "",
	}
}

type InstanceView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Username    string `json:"username"`
	HasPassword bool   `json:"hasPassword"`
}

// storedInstance is the persisted layout. Password is only read, to migrate
// records written before passwords were encrypted.
type storedInstance struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	URL               string `json:"url"`
	Username          string `json:"username"`
	Password          string `json:"password,omitempty"`
	EncryptedPassword string `json:"encryptedPassword,omitempty"`
}

type ProtectionState struct {
	IsConnected       bool      `json:"isConnected"`
	ProtectionEnabled bool      `json:"protectionEnabled"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

type StatsSnapshot struct {
	Stats     *adguard.Stats `json:"stats"`
	FetchedAt time.Time      `json:"fetchedAt"`
}

// DisableWindow is a persisted temporary disable
type DisableWindow struct {
	InstanceID string    `json:"instanceId,omitempty"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	Minutes    int       `json:"minutes"`
}

// DisableStatus reports the window as seen at a point in time
type DisableStatus struct {
	Active           bool       `json:"active"`
	StartTime        *time.Time `json:"startTime,omitempty"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	Minutes          int        `json:"minutes,omitempty"`
	RemainingSeconds int        `json:"remainingSeconds"`
}

type ErrorEntry struct {
	Code      adguard.ErrorCode `json:"code"`
	Message   string            `json:"message"`
	Details   string            `json:"details,omitempty"`
	Operation string            `json:"operation"`
	Timestamp time.Time         `json:"timestamp"`
}

// Status is the answer to getConnectionStatus
type Status struct {
	State             State          `json:"state"`
	IsConnected       bool           `json:"isConnected"`
	ProtectionEnabled bool           `json:"protectionEnabled"`
	LastUpdated       *time.Time     `json:"lastUpdated,omitempty"`
	ActiveInstance    *InstanceView  `json:"activeInstance,omitempty"`
	LastError         *adguard.Error `json:"lastError,omitempty"`
}

// Event is pushed to listening UIs
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

const (
	EventProtectionAutoReenabled = "protectionAutoReenabled"
	EventStatusUpdated           = "statusUpdated"
	EventStatsUpdated            = "statsUpdated"
	EventStateChanged            = "connectionStateChanged"
	EventInstancesChanged        = "instancesChanged"
)
