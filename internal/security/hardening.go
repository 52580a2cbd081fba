// Package security applies process hardening for the agent. The agent keeps
// decrypted AdGuard Home passwords and the storage key in memory, and writes
// them to local stores, so it must not leak them through core dumps, loose
// file modes or inherited environment.
package security

import (
	"os"

	"github.com/sirupsen/logrus"
)

// SensitiveEnv is cleared once storage backends have read their credentials
var SensitiveEnv = []string{
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"AWS_SESSION_TOKEN",
}

// Hardening selects the measures applied by Apply and ClearSensitiveEnv
type Hardening struct {
	DisableCoreDumps bool
	SecureUmask      bool
	ClearEnv         []string
}

// NewHardening returns the agent's default measures
func NewHardening() *Hardening {
	return &Hardening{
		DisableCoreDumps: true,
		SecureUmask:      true,
		ClearEnv:         SensitiveEnv,
	}
}

// Apply limits core dumps and file modes. Failures are logged and do not
// stop the agent.
func (h *Hardening) Apply() {
	if h.DisableCoreDumps {
		if err := disableCoreDumps(); err != nil {
			logrus.WithError(err).Warn("Failed to disable core dumps")
		}
	}
	if h.SecureUmask {
		if old, ok := setUmask(0077); ok {
			logrus.Debugf("Changed umask from %04o to 0077", old)
		}
	}
}

// ClearSensitiveEnv removes credentials from the environment. Call it after
// every consumer has read them.
func (h *Hardening) ClearSensitiveEnv() {
	for _, v := range h.ClearEnv {
		if _, ok := os.LookupEnv(v); ok {
			os.Unsetenv(v)
			logrus.WithField("variable", v).Debug("Cleared sensitive environment variable")
		}
	}
}
