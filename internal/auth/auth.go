// Package auth manages the bearer token that guards the agent's local control
// API. The token is random, hex encoded and kept in a 0600 file that the CLI
// reads to talk to a running agent.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"adgmanager/internal/audit"
)

const tokenLength = 32 // 256 bits

// ErrNoToken is returned when no token file exists yet
var ErrNoToken = errors.New("no API token found, run 'adgmanager auth generate' first")

// TokenManager handles the API token file
type TokenManager struct {
	tokenPath string

	mu     sync.RWMutex
	token  string
	loaded bool
}

// NewTokenManager creates a token manager for the file at path
func NewTokenManager(path string) *TokenManager {
	return &TokenManager{tokenPath: path}
}

// Path returns the token file location
func (tm *TokenManager) Path() string {
	return tm.tokenPath
}

// GenerateToken creates a new token, replacing any existing one
func (tm *TokenManager) GenerateToken() (string, error) {
	dir := filepath.Dir(tm.tokenPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create token directory: %w", err)
	}

	tokenBytes := make([]byte, tokenLength)
	if _, err := io.ReadFull(rand.Reader, tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)

	if err := os.WriteFile(tm.tokenPath, []byte(token), 0600); err != nil {
		return "", fmt.Errorf("failed to write token: %w", err)
	}

	tm.mu.Lock()
	tm.token = token
	tm.loaded = true
	tm.mu.Unlock()

	audit.Log(audit.EventTokenIssued, "info", "API token generated", map[string]interface{}{
		"path": tm.tokenPath,
	})
	return token, nil
}

// LoadToken reads the token file into memory
func (tm *TokenManager) LoadToken() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.loaded {
		return nil
	}

	data, err := os.ReadFile(tm.tokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoToken
		}
		return fmt.Errorf("failed to read token: %w", err)
	}

	tm.token = strings.TrimSpace(string(data))
	tm.loaded = true
	return nil
}

// EnsureToken loads the token, generating one on first run
func (tm *TokenManager) EnsureToken() (string, error) {
	err := tm.LoadToken()
	if errors.Is(err, ErrNoToken) {
		return tm.GenerateToken()
	}
	if err != nil {
		return "", err
	}
	return tm.GetToken()
}

// ValidateToken checks a presented token in constant time
func (tm *TokenManager) ValidateToken(provided string) error {
	if provided == "" {
		return fmt.Errorf("no token provided")
	}
	if err := tm.LoadToken(); err != nil {
		return err
	}

	tm.mu.RLock()
	stored := tm.token
	tm.mu.RUnlock()

	if stored == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(stored)) != 1 {
		return fmt.Errorf("invalid token")
	}
	return nil
}

// GetToken returns the current token
func (tm *TokenManager) GetToken() (string, error) {
	if err := tm.LoadToken(); err != nil {
		return "", err
	}
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.token, nil
}

// DeleteToken removes the token file. The API rejects every request until a
// new token is generated.
func (tm *TokenManager) DeleteToken() error {
	if err := os.Remove(tm.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	tm.mu.Lock()
	tm.token = ""
	tm.loaded = false
	tm.mu.Unlock()
	return nil
}

// CheckPermissions verifies the token file is readable by its owner only
func (tm *TokenManager) CheckPermissions() error {
	info, err := os.Stat(tm.tokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat token file: %w", err)
	}

	if mode := info.Mode(); mode&0077 != 0 {
		return fmt.Errorf("token file has insecure permissions %v (should be 0600)", mode.Perm())
	}
	return nil
}
