package connection

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"adgmanager/internal/secret"
	"adgmanager/internal/storage"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveCredentials_FirstInstanceBecomesActive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, clockwork.NewFakeClock())

	first := env.addInstance(t, "home")
	second := env.addInstance(t, "office")

	list, active, err := env.m.Instances(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, active)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "home", list[0].Name)
	assert.True(t, list[1].HasPassword)
	assert.Equal(t, StateConnecting, env.m.State())
	assert.Equal(t, 2, env.notifier.count(EventInstancesChanged))
}

func TestSaveCredentials_RejectsBadURL(t *testing.T) {
	env := newTestEnv(t, clockwork.NewFakeClock())

	for _, raw := range []string{"", "   ", "ftp://nas.lan", "not a url", "http://"} {
		_, err := env.m.SaveCredentials(context.Background(), SaveRequest{URL: raw})
		assert.ErrorIs(t, err, ErrInvalidRequest, raw)
	}

	list, _, err := env.m.Instances(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSaveCredentials_EditKeepsPasswordWhenEmpty(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, clockwork.NewFakeClock())
	v := env.addInstance(t, "home")

	_, err := env.m.SaveCredentials(ctx, SaveRequest{ID: v.ID, URL: "http://192.168.1.2:3000", Username: "root"})
	require.NoError(t, err)

	inst, err := env.m.ActiveInstance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s3cret-home", inst.Password)
	assert.Equal(t, "root", inst.Username)
	assert.Equal(t, "http://192.168.1.2:3000", inst.URL)
	assert.Equal(t, "home", inst.Name)

	_, err = env.m.SaveCredentials(ctx, SaveRequest{ID: "missing", URL: "http://x.lan"})
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestSaveCredentials_DefaultNameFromHost(t *testing.T) {
	env := newTestEnv(t, clockwork.NewFakeClock())
	v, err := env.m.SaveCredentials(context.Background(), SaveRequest{URL: "https://dns.example.lan:8443"})
	require.NoError(t, err)
	assert.Equal(t, "dns.example.lan", v.Name)
	assert.False(t, v.HasPassword)
}

func TestPasswordsEncryptedAtRest(t *testing.T) {
	env := newTestEnv(t, clockwork.NewFakeClock())
	env.addInstance(t, "home")

	raw, err := env.sync.Get(context.Background(), keyInstances)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "s3cret-home")

	var stored []storedInstance
	require.NoError(t, json.Unmarshal(raw, &stored))
	require.Len(t, stored, 1)
	assert.Empty(t, stored[0].Password)
	assert.NotEmpty(t, stored[0].EncryptedPassword)

	// the key lives in the local scope only
	_, err = env.local.Get(context.Background(), secret.KeyName)
	require.NoError(t, err)
	_, err = env.sync.Get(context.Background(), secret.KeyName)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUndecryptablePasswordTreatedAsMissing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, clockwork.NewFakeClock())
	v := env.addInstance(t, "home")

	// Losing the key must not break listing
	require.NoError(t, env.local.Remove(ctx, secret.KeyName))
	fresh := New(Options{Local: env.local, Sync: env.sync, Logger: quietLogger(), Clock: clockwork.NewFakeClock()})
	t.Cleanup(fresh.Stop)

	inst, err := fresh.ActiveInstance(ctx)
	require.NoError(t, err)
	assert.Equal(t, v.ID, inst.ID)
	assert.Empty(t, inst.Password)
}

func TestPasswordSurvivesSaveOnDeviceWithoutKey(t *testing.T) {
	ctx := context.Background()
	shared := storage.NewMemoryStore()
	newDevice := func() *Manager {
		m := New(Options{Local: storage.NewMemoryStore(), Sync: shared, Logger: quietLogger(), Clock: clockwork.NewFakeClock()})
		t.Cleanup(m.Stop)
		return m
	}
	laptop := newDevice()
	desktop := newDevice()

	home, err := laptop.SaveCredentials(ctx, SaveRequest{Name: "home", URL: "http://10.0.0.5:3000", Username: "admin", Password: "x"})
	require.NoError(t, err)

	// The desktop has its own key, so it cannot read the laptop's password
	_, err = desktop.SaveCredentials(ctx, SaveRequest{Name: "office", URL: "http://10.0.0.6:3000", Username: "admin", Password: "y"})
	require.NoError(t, err)
	_, err = desktop.SaveCredentials(ctx, SaveRequest{ID: home.ID, Name: "home-renamed", URL: "http://10.0.0.5:3000", Username: "admin"})
	require.NoError(t, err)

	inst, err := laptop.ActiveInstance(ctx)
	require.NoError(t, err)
	assert.Equal(t, home.ID, inst.ID)
	assert.Equal(t, "home-renamed", inst.Name)
	assert.Equal(t, "x", inst.Password)

	// A new password entered on the desktop replaces the kept ciphertext
	_, err = desktop.SaveCredentials(ctx, SaveRequest{ID: home.ID, Name: "home", URL: "http://10.0.0.5:3000", Username: "admin", Password: "z"})
	require.NoError(t, err)
	inst, err = laptop.ActiveInstance(ctx)
	require.NoError(t, err)
	assert.Empty(t, inst.Password)
}

// rotatingAPI records credential updates made to a cached client
type rotatingAPI struct {
	API
	mu    sync.Mutex
	creds []string
}

func (r *rotatingAPI) SetCredentials(username, password string) {
	r.mu.Lock()
	r.creds = append(r.creds, username+":"+password)
	r.mu.Unlock()
}

func TestSaveCredentials_RotatesCachedClient(t *testing.T) {
	ctx := context.Background()
	var last *rotatingAPI
	env := newTestEnv(t, clockwork.NewFakeClock(), func(o *Options) {
		build := o.NewClient
		o.NewClient = func(inst Instance) API {
			last = &rotatingAPI{API: build(inst)}
			return last
		}
	})
	v := env.addInstance(t, "home")

	_, _, err := env.m.RefreshStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, env.clientBuilds())
	cached := last

	_, err = env.m.SaveCredentials(ctx, SaveRequest{ID: v.ID, URL: "http://home.lan:3000", Username: "root", Password: "rotated"})
	require.NoError(t, err)
	_, _, err = env.m.RefreshStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, env.clientBuilds())
	cached.mu.Lock()
	assert.Equal(t, []string{"root:rotated"}, cached.creds)
	cached.mu.Unlock()

	// A new URL needs a new client
	_, err = env.m.SaveCredentials(ctx, SaveRequest{ID: v.ID, URL: "http://10.0.0.5:3000", Username: "root"})
	require.NoError(t, err)
	_, _, err = env.m.RefreshStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, env.clientBuilds())
	assert.NotSame(t, cached, last)
}

func TestSwitchActiveInstance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, clockwork.NewFakeClock())
	first := env.addInstance(t, "home")
	second := env.addInstance(t, "office")

	_, _, err := env.m.RefreshStatus(ctx)
	require.NoError(t, err)
	builds := env.clientBuilds()

	v, err := env.m.SwitchActiveInstance(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, v.ID)
	assert.Equal(t, StateConnecting, env.m.State())

	_, _, err = env.m.RefreshStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, builds+1, env.clientBuilds())

	env.mu.Lock()
	last := env.builtFor[len(env.builtFor)-1]
	env.mu.Unlock()
	assert.Equal(t, second.ID, last)

	_, active, err := env.m.Instances(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active)
	assert.NotEqual(t, first.ID, active)
}

func TestSwitchActiveInstance_UnknownLeavesStateAlone(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, clockwork.NewFakeClock())
	first := env.addInstance(t, "home")
	env.addInstance(t, "office")

	_, _, err := env.m.RefreshStatus(ctx)
	require.NoError(t, err)
	before := env.m.State()
	builds := env.clientBuilds()

	_, err = env.m.SwitchActiveInstance(ctx, "does-not-exist")
	require.ErrorIs(t, err, ErrInstanceNotFound)

	_, active, err := env.m.Instances(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active)
	assert.Equal(t, before, env.m.State())

	// cached client survives
	_, _, err = env.m.RefreshStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, builds, env.clientBuilds())
}

func TestDeleteInstance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, clockwork.NewFakeClock())
	first := env.addInstance(t, "home")
	second := env.addInstance(t, "office")

	active, err := env.m.DeleteInstance(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active)

	_, err = env.m.DeleteInstance(ctx, first.ID)
	assert.ErrorIs(t, err, ErrInstanceNotFound)

	active, err = env.m.DeleteInstance(ctx, second.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Equal(t, StateDisconnected, env.m.State())

	_, err = env.m.ActiveInstance(ctx)
	assert.ErrorIs(t, err, ErrNoActiveInstance)
	_, err = env.sync.Get(ctx, keyActiveInstance)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStart_MigratesLegacyCredentials(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, clockwork.NewFakeClock())

	enc, err := secret.New(env.local).Encrypt(ctx, "legacy-pw")
	require.NoError(t, err)
	require.NoError(t, storage.SetJSON(ctx, env.local, keyLegacyURL, "http://192.168.1.2:3000"))
	require.NoError(t, storage.SetJSON(ctx, env.local, keyLegacyUsername, "admin"))
	require.NoError(t, storage.SetJSON(ctx, env.local, keyLegacyPassword, enc))

	require.NoError(t, env.m.Start(ctx))

	inst, err := env.m.ActiveInstance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://192.168.1.2:3000", inst.URL)
	assert.Equal(t, "admin", inst.Username)
	assert.Equal(t, "legacy-pw", inst.Password)
	assert.Equal(t, "192.168.1.2", inst.Name)

	for _, key := range []string{keyLegacyURL, keyLegacyUsername, keyLegacyPassword} {
		_, err := env.local.Get(ctx, key)
		assert.ErrorIs(t, err, storage.ErrNotFound, key)
	}

	// a second start finds nothing to migrate
	require.NoError(t, env.m.Start(ctx))
	list, _, err := env.m.Instances(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStart_EncryptsPlaintextPasswords(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, clockwork.NewFakeClock())

	plain := []storedInstance{{ID: "a1", Name: "home", URL: "http://home.lan", Username: "admin", Password: "plain-pw"}}
	require.NoError(t, storage.SetJSON(ctx, env.sync, keyInstances, plain))
	require.NoError(t, storage.SetJSON(ctx, env.sync, keyActiveInstance, "a1"))

	require.NoError(t, env.m.Start(ctx))

	raw, err := env.sync.Get(ctx, keyInstances)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "plain-pw")

	inst, err := env.m.ActiveInstance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "plain-pw", inst.Password)
}
