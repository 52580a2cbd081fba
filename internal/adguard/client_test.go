package adguard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://10.0.0.5:3000", "http://10.0.0.5:3000/control"},
		{"http://10.0.0.5:3000/", "http://10.0.0.5:3000/control"},
		{"http://10.0.0.5:3000///", "http://10.0.0.5:3000/control"},
		{"http://10.0.0.5:3000/control", "http://10.0.0.5:3000/control"},
		{"http://10.0.0.5:3000/control/", "http://10.0.0.5:3000/control"},
		{"  https://dns.home.lan  ", "https://dns.home.lan/control"},
		{"https://home.lan/adguard", "https://home.lan/adguard/control"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizeURL(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, NormalizeURL(got), "normalization must be idempotent")
		})
	}

	assert.Equal(t, NormalizeURL("http://h:3000"), NormalizeURL("http://h:3000/control"))
}

// fakeServer records the last request and answers with a canned handler
type fakeServer struct {
	*httptest.Server
	mu           sync.Mutex
	lastAuthUser string
	lastAuthPass string
	lastBody     []byte
	lastPath     string
}

func newFakeServer(t *testing.T, handler http.HandlerFunc) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fs.mu.Lock()
		fs.lastAuthUser, fs.lastAuthPass, _ = r.BasicAuth()
		fs.lastPath = r.URL.Path
		fs.lastBody = body
		fs.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func TestClient_GetStatus(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"protection_enabled":true,"running":true,"version":"v0.107.43"}`))
	})

	c := NewClient(srv.URL, "admin", "x")
	status, err := c.GetStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.ProtectionEnabled)
	assert.Equal(t, "v0.107.43", status.Version)
	assert.Equal(t, "/control/status", srv.lastPath)
	assert.Equal(t, "admin", srv.lastAuthUser)
	assert.Equal(t, "x", srv.lastAuthPass)
}

func TestClient_SetCredentialsAppliesToNextRequest(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	c := NewClient(srv.URL, "admin", "old")
	_, err := c.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old", srv.lastAuthPass)

	c.SetCredentials("root", "new")
	_, err = c.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "root", srv.lastAuthUser)
	assert.Equal(t, "new", srv.lastAuthPass)
	assert.Equal(t, "/control/stats", srv.lastPath)
}

func TestClient_GetStats(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"num_dns_queries":200,"num_blocked_filtering":50,"avg_processing_time":0.012,
			"top_blocked_domains":[{"ads.example":20}]}`))
	})

	stats, err := NewClient(srv.URL, "a", "b").GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 200, stats.NumDNSQueries)
	assert.Equal(t, 50, stats.NumBlockedFiltering)
	assert.InDelta(t, 25.0, stats.BlockedPercent(), 0.001)
	require.Len(t, stats.TopBlockedDomains, 1)
	assert.Equal(t, 20, stats.TopBlockedDomains[0]["ads.example"])
}

func TestClient_ToggleProtection(t *testing.T) {
	t.Run("PlainTextResponse", func(t *testing.T) {
		srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte("OK\n"))
		})

		res, err := NewClient(srv.URL, "a", "b").ToggleProtection(context.Background(), true)
		require.NoError(t, err)
		assert.True(t, res.Enabled)
		assert.Equal(t, "OK", res.Text)
		assert.JSONEq(t, `{"enabled":true}`, string(srv.lastBody))
		assert.Equal(t, "/control/protection", srv.lastPath)
	})

	t.Run("JSONResponse", func(t *testing.T) {
		srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})

		res, err := NewClient(srv.URL, "a", "b").ToggleProtection(context.Background(), false)
		require.NoError(t, err)
		assert.False(t, res.Enabled)
		assert.JSONEq(t, `{"status":"ok"}`, string(res.JSON))
	})

	t.Run("BrokenJSONResponse", func(t *testing.T) {
		srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":`))
		})

		_, err := NewClient(srv.URL, "a", "b").ToggleProtection(context.Background(), true)
		require.Error(t, err)
		assert.Equal(t, CodeParse, CodeOf(err))
	})
}

func TestClient_DisableTemporarily(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	_, err := NewClient(srv.URL, "a", "b").DisableTemporarily(context.Background(), 5)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(srv.lastBody, &body))
	assert.Equal(t, false, body["enabled"])
	assert.Equal(t, float64(300000), body["duration"])

	_, err = NewClient(srv.URL, "a", "b").DisableTemporarily(context.Background(), 0)
	assert.Error(t, err)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorCode
	}{
		{"Unauthorized", http.StatusUnauthorized, "", CodeAuth},
		{"NotFound", http.StatusNotFound, "", CodeNotFound},
		{"ServerError", http.StatusInternalServerError, "boom", CodeAPI},
		{"NotJSON", http.StatusOK, "<html>login</html>", CodeParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := NewClient(srv.URL, "a", "b").GetStatus(context.Background())
			require.Error(t, err)

			var cerr *Error
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.want, cerr.Code)
			assert.Equal(t, OpGetStatus, cerr.Operation)
			assert.NotEmpty(t, cerr.Hints)
		})
	}

	t.Run("ConnectionRefused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := NewClient(url, "a", "b").GetStatus(context.Background())
		assert.Equal(t, CodeNetwork, CodeOf(err))
	})
}

func TestClient_TestConnection(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		user, _, _ := r.BasicAuth()
		if user != "admin" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"protection_enabled":false,"running":true}`))
	})

	res := NewClient(srv.URL, "admin", "x").TestConnection(context.Background())
	assert.True(t, res.Success)
	require.NotNil(t, res.Status)
	assert.False(t, res.Status.ProtectionEnabled)
	assert.Nil(t, res.Error)

	res = NewClient(srv.URL, "guest", "x").TestConnection(context.Background())
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeAuth, res.Error.Code)
	assert.Equal(t, OpTestConnection, res.Error.Operation)
}
