package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestTokenManager(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), ".adgmanager", "api.token")
	tm := NewTokenManager(tokenPath)

	t.Run("GenerateToken", func(t *testing.T) {
		token, err := tm.GenerateToken()
		if err != nil {
			t.Fatalf("Failed to generate token: %v", err)
		}

		if len(token) != tokenLength*2 {
			t.Errorf("Token length incorrect: got %d, want %d", len(token), tokenLength*2)
		}

		info, err := os.Stat(tokenPath)
		if err != nil {
			t.Fatalf("Failed to stat token file: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("Token file has incorrect permissions: %v", info.Mode().Perm())
		}
	})

	t.Run("ValidateToken", func(t *testing.T) {
		token, err := tm.GenerateToken()
		if err != nil {
			t.Fatalf("Failed to generate token: %v", err)
		}

		if err := tm.ValidateToken(token); err != nil {
			t.Errorf("Valid token rejected: %v", err)
		}
		if err := tm.ValidateToken("invalid-token"); err == nil {
			t.Error("Invalid token accepted")
		}
		if err := tm.ValidateToken(""); err == nil {
			t.Error("Empty token accepted")
		}
	})

	t.Run("LoadFromDisk", func(t *testing.T) {
		token, err := tm.GenerateToken()
		if err != nil {
			t.Fatalf("Failed to generate token: %v", err)
		}

		other := NewTokenManager(tokenPath)
		got, err := other.GetToken()
		if err != nil {
			t.Fatalf("Failed to get token: %v", err)
		}
		if got != token {
			t.Errorf("Token mismatch: got %s, want %s", got, token)
		}
	})

	t.Run("DeleteToken", func(t *testing.T) {
		token, err := tm.GenerateToken()
		if err != nil {
			t.Fatalf("Failed to generate token: %v", err)
		}

		if err := tm.DeleteToken(); err != nil {
			t.Fatalf("Failed to delete token: %v", err)
		}
		if _, err := os.Stat(tokenPath); !os.IsNotExist(err) {
			t.Error("Token file still exists after deletion")
		}
		if err := tm.ValidateToken(token); !errors.Is(err, ErrNoToken) {
			t.Errorf("Deleted token still validates: %v", err)
		}
		if err := tm.DeleteToken(); err != nil {
			t.Errorf("Deleting non-existent token returned error: %v", err)
		}
	})

	t.Run("CheckPermissions", func(t *testing.T) {
		if _, err := tm.GenerateToken(); err != nil {
			t.Fatalf("Failed to generate token: %v", err)
		}

		if err := tm.CheckPermissions(); err != nil {
			t.Errorf("CheckPermissions failed on correctly permissioned file: %v", err)
		}

		if err := os.Chmod(tokenPath, 0644); err != nil {
			t.Fatalf("Failed to change permissions: %v", err)
		}
		if err := tm.CheckPermissions(); err == nil {
			t.Error("CheckPermissions did not detect insecure permissions")
		}
	})
}

func TestEnsureToken(t *testing.T) {
	tm := NewTokenManager(filepath.Join(t.TempDir(), "api.token"))

	first, err := tm.EnsureToken()
	if err != nil {
		t.Fatalf("EnsureToken failed: %v", err)
	}

	second, err := NewTokenManager(tm.Path()).EnsureToken()
	if err != nil {
		t.Fatalf("EnsureToken failed: %v", err)
	}
	if first != second {
		t.Error("EnsureToken replaced an existing token")
	}
}
