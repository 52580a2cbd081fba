package connection

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withAutoRefresh(o *Options) { o.DefaultAutoRefresh = true }

func TestPolling_TicksRefreshStatusAndStats(t *testing.T) {
	clock := clockwork.NewFakeClock()
	env := newTestEnv(t, clock, withAutoRefresh)
	env.addInstance(t, "home")
	assert.Equal(t, 30*time.Second, env.m.PollInterval())

	clock.Advance(30 * time.Second)
	var snap *StatsSnapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = env.m.Stats(context.Background())
		return err == nil && snap != nil
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 25.0, snap.Stats.BlockedPercent())

	status, stats, _ := env.api.counts()
	assert.Equal(t, 1, status)
	assert.Equal(t, 1, stats)
}

func TestPolling_FailureDoesNotStopLoop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	env := newTestEnv(t, clock, withAutoRefresh, func(o *Options) { o.MaxRetries = 0 })
	env.addInstance(t, "home")
	env.api.mu.Lock()
	env.api.statusErrs = []error{serverError()}
	env.api.statsErrs = []error{serverError()}
	env.api.mu.Unlock()

	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool {
		_, stats, _ := env.api.counts()
		return stats == 1
	}, waitFor, 5*time.Millisecond)

	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool {
		_, stats, _ := env.api.counts()
		return stats == 2
	}, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return env.m.State() == StateConnected
	}, waitFor, 5*time.Millisecond)
}

func TestPolling_FollowsPreferences(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, clockwork.NewFakeClock(), withAutoRefresh)

	// nothing to poll yet
	assert.Zero(t, env.m.PollInterval())

	env.addInstance(t, "home")
	assert.Equal(t, 30*time.Second, env.m.PollInterval())

	_, err := env.m.UpdateRefreshInterval(ctx, 120)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, env.m.PollInterval())

	prefs, err := env.m.UpdateRefreshInterval(ctx, 0)
	require.NoError(t, err)
	assert.False(t, prefs.AutoRefresh)
	assert.Zero(t, env.m.PollInterval())

	prefs, err = env.m.UpdateRefreshInterval(ctx, 45)
	require.NoError(t, err)
	assert.True(t, prefs.AutoRefresh)
	assert.Equal(t, 45, prefs.RefreshInterval)
	assert.Equal(t, 45*time.Second, env.m.PollInterval())
}

func TestPolling_StopsWhenLastInstanceDeleted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, clockwork.NewFakeClock(), withAutoRefresh)
	v := env.addInstance(t, "home")
	require.NotZero(t, env.m.PollInterval())

	_, err := env.m.DeleteInstance(ctx, v.ID)
	require.NoError(t, err)
	assert.Zero(t, env.m.PollInterval())
}

func TestDisconnect_StopsPolling(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, clockwork.NewFakeClock(), withAutoRefresh)
	env.addInstance(t, "home")

	require.NoError(t, env.m.Disconnect(ctx))
	assert.Zero(t, env.m.PollInterval())
	assert.Equal(t, StateDisconnected, env.m.State())

	st, err := env.m.ConnectionStatus(ctx)
	require.NoError(t, err)
	assert.False(t, st.IsConnected)
	require.NotNil(t, st.ActiveInstance, "instances are kept")

	ps, err := env.m.ResetConnection(ctx)
	require.NoError(t, err)
	assert.True(t, ps.IsConnected)
	assert.NotZero(t, env.m.PollInterval())
}

func TestPreferences_DefaultsAndValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, clockwork.NewFakeClock())

	p, err := env.m.Preferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, Preferences{Theme: "auto", RefreshInterval: 30}, p)

	bad := "neon"
	_, err = env.m.UpdatePreferences(ctx, PreferencesUpdate{Theme: &bad})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = env.m.UpdateRefreshInterval(ctx, -1)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	dark, on := "dark", true
	p, err = env.m.UpdatePreferences(ctx, PreferencesUpdate{Theme: &dark, ShowNotifications: &on})
	require.NoError(t, err)
	assert.Equal(t, "dark", p.Theme)
	assert.True(t, p.ShowNotifications)
	assert.Equal(t, 30, p.RefreshInterval)
}
