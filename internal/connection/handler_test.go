package connection

import (
	"context"
	"net/http"
	"testing"

	"adgmanager/internal/adguard"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func TestHandle_ActionList(t *testing.T) {
	want := []string{
		"cancelTemporaryDisable", "clearErrorLog", "deleteInstance", "disableTemporarily",
		"disconnect", "getActiveInstance", "getConnectionStatus", "getErrorLog",
		"getInstances", "getPreferences", "getStats", "getTemporaryDisableStatus", "refreshStats",
		"refreshStatus", "resetApiClient", "resetConnection", "saveCredentials",
		"switchActiveInstance", "testConnection", "toggleProtection",
		"updatePreferences", "updateRefreshInterval",
	}
	assert.Equal(t, want, Actions())
}

func TestHandle_UnknownAction(t *testing.T) {
	env := newTestEnv(t, clockwork.NewFakeClock())
	resp := env.m.Handle(context.Background(), Request{Action: "launchRockets"})
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestHandle_RecoversFromPanic(t *testing.T) {
	env := newTestEnv(t, clockwork.NewFakeClock())
	env.addInstance(t, "home")
	env.api.panicOn = "status"

	resp := env.m.Handle(context.Background(), Request{Action: "refreshStatus"})
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInternal, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "status exploded")
}

func TestHandle_NoActiveInstance(t *testing.T) {
	env := newTestEnv(t, clockwork.NewFakeClock())
	ctx := context.Background()

	for _, action := range []string{"refreshStatus", "refreshStats", "disableTemporarily"} {
		req := Request{Action: action, Minutes: 5}
		resp := env.m.Handle(ctx, req)
		require.NotNil(t, resp.Error, action)
		assert.Equal(t, CodeNoActiveInstance, resp.Error.Code, action)
	}

	resp := env.m.Handle(ctx, Request{Action: "toggleProtection", Enabled: boolPtr(true)})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNoActiveInstance, resp.Error.Code)

	resp = env.m.Handle(ctx, Request{Action: "getActiveInstance"})
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Data)
}

func TestHandle_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, clockwork.NewFakeClock())
	env.addInstance(t, "home")
	ctx := context.Background()

	cases := []Request{
		{Action: "toggleProtection"},
		{Action: "updateRefreshInterval"},
		{Action: "updateRefreshInterval", Interval: intPtr(-3)},
		{Action: "disableTemporarily", Minutes: 0},
		{Action: "saveCredentials", URL: "gopher://x"},
	}
	for _, req := range cases {
		resp := env.m.Handle(ctx, req)
		require.NotNil(t, resp.Error, req.Action)
		assert.Equal(t, CodeInvalidRequest, resp.Error.Code, req.Action)
	}

	resp := env.m.Handle(ctx, Request{Action: "switchActiveInstance", InstanceID: "nope"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInstanceNotFound, resp.Error.Code)
}

func TestHandle_ServerErrorCarriesHints(t *testing.T) {
	env := newTestEnv(t, clockwork.NewFakeClock(), func(o *Options) { o.MaxRetries = 0 })
	env.addInstance(t, "home")
	env.api.statusErrs = []error{&adguard.HTTPStatusError{StatusCode: http.StatusUnauthorized}}

	resp := env.m.Handle(context.Background(), Request{Action: "refreshStatus"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(adguard.CodeAuth), resp.Error.Code)
	assert.Equal(t, http.StatusUnauthorized, resp.Error.Status)
	assert.Equal(t, OpRefreshStatus, resp.Error.Operation)
	assert.NotEmpty(t, resp.Error.Hints)
}

func TestHandle_RoundTripThroughActions(t *testing.T) {
	env := newTestEnv(t, clockwork.NewFakeClock())
	ctx := context.Background()

	resp := env.m.Handle(ctx, Request{Action: "saveCredentials", URL: "http://home.lan:3000", Username: "admin", Password: "pw"})
	require.True(t, resp.Success, resp.Error)
	saved := resp.Data.(InstanceView)

	resp = env.m.Handle(ctx, Request{Action: "getInstances"})
	require.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, saved.ID, data["activeInstance"])

	resp = env.m.Handle(ctx, Request{Action: "toggleProtection", Enabled: boolPtr(false)})
	require.True(t, resp.Success)
	assert.False(t, resp.Data.(*ProtectionState).ProtectionEnabled)

	resp = env.m.Handle(ctx, Request{Action: "getConnectionStatus"})
	require.True(t, resp.Success)
	st := resp.Data.(*Status)
	assert.Equal(t, StateConnected, st.State)
	assert.False(t, st.ProtectionEnabled)

	resp = env.m.Handle(ctx, Request{Action: "testConnection"})
	require.True(t, resp.Success)
	assert.True(t, resp.Data.(adguard.TestResult).Success)

	resp = env.m.Handle(ctx, Request{Action: "getTemporaryDisableStatus"})
	require.True(t, resp.Success)
	assert.False(t, resp.Data.(DisableStatus).Active)

	resp = env.m.Handle(ctx, Request{Action: "deleteInstance", InstanceID: saved.ID})
	require.True(t, resp.Success)
	assert.Equal(t, map[string]string{"activeInstance": ""}, resp.Data)
}

func TestHandle_GetStatsReturnsLastSnapshot(t *testing.T) {
	env := newTestEnv(t, clockwork.NewFakeClock())
	ctx := context.Background()

	resp := env.m.Handle(ctx, Request{Action: "getStats"})
	require.True(t, resp.Success, resp.Error)
	assert.Nil(t, resp.Data)

	env.addInstance(t, "home")
	resp = env.m.Handle(ctx, Request{Action: "refreshStats"})
	require.True(t, resp.Success, resp.Error)
	fetched := resp.Data.(*StatsSnapshot)

	// Served from storage, no new request to the server
	env.api.mu.Lock()
	calls := env.api.statsCalls
	env.api.mu.Unlock()
	resp = env.m.Handle(ctx, Request{Action: "getStats"})
	require.True(t, resp.Success, resp.Error)
	snap := resp.Data.(*StatsSnapshot)
	assert.Equal(t, fetched.Stats.NumDNSQueries, snap.Stats.NumDNSQueries)
	assert.True(t, fetched.FetchedAt.Equal(snap.FetchedAt))
	env.api.mu.Lock()
	assert.Equal(t, calls, env.api.statsCalls)
	env.api.mu.Unlock()
}

func TestTestConnection_ExplicitCredentials(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, clockwork.NewFakeClock())
	env.api.testErrs = []error{&adguard.HTTPStatusError{StatusCode: http.StatusUnauthorized}}

	res, err := env.m.TestConnection(ctx, TestRequest{URL: "http://new.lan:3000", Username: "admin", Password: "wrong"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, adguard.CodeAuth, res.Error.Code)

	entries, err := env.m.ErrorLog(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, OpTestConnection, entries[0].Operation)

	res, err = env.m.TestConnection(ctx, TestRequest{URL: "http://new.lan:3000", Username: "admin", Password: "right"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	entries, err = env.m.ErrorLog(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// explicit tests leave the active connection alone
	assert.Equal(t, StateDisconnected, env.m.State())
}
