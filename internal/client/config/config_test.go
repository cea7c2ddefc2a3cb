package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/bugtracker/internal/client/feed"
	"github.com/dmitrijs2005/bugtracker/internal/client/services"
)

func TestLoad_Defaults(t *testing.T) {
	v, err := NewViper("", "")
	require.NoError(t, err)

	c, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "bugs", c.Remote.Table)
	assert.Equal(t, 15*time.Second, c.Remote.Timeout)
	assert.Equal(t, feed.ModePoll, c.FeedMode)
	assert.Equal(t, 5*time.Second, c.PollInterval)
	assert.Equal(t, time.Second, c.Debounce)
	assert.Equal(t, 3*time.Second, c.OnlineCheckInterval)
	assert.True(t, c.RequireAdminToResolve)
	assert.Equal(t, "info", c.LogLevel)
	assert.False(t, c.S3.Enabled())
	assert.Empty(t, c.File)
	assert.False(t, c.Remote.Configured())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bugsync.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
remote:
  url: http://127.0.0.1:8080
  table: issues
feed:
  mode: realtime
  poll_interval: 10s
sync:
  require_admin_to_resolve: false
`), 0o600))

	t.Setenv("BUGSYNC_REMOTE_TABLE", "bugs_env")
	t.Setenv("BUGSYNC_SYNC_DEBOUNCE", "250ms")

	v, err := NewViper("", dir)
	require.NoError(t, err)
	c, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, file, c.File)
	assert.Equal(t, "http://127.0.0.1:8080", c.Remote.URL)
	assert.Equal(t, "bugs_env", c.Remote.Table)
	assert.Equal(t, feed.ModeRealtime, c.FeedMode)
	assert.Equal(t, "ws://127.0.0.1:8080/realtime/v1/websocket", c.RealtimeURL)
	assert.Equal(t, 10*time.Second, c.PollInterval)
	assert.Equal(t, 250*time.Millisecond, c.Debounce)
	assert.Equal(t, services.ResolveAnyone, c.EngineOptions("v1").ResolvePolicy)
	assert.Equal(t, "v1", c.EngineOptions("v1").Version)
}

func TestNewViper_MissingExplicitFile(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "nope.json"), "")
	require.Error(t, err)
}

func TestNewViper_MissingFileInSearchDirIsFine(t *testing.T) {
	v, err := NewViper("", t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, v.ConfigFileUsed())
}

func TestLoad_Invalid(t *testing.T) {
	v, err := NewViper("", "")
	require.NoError(t, err)

	v.Set(KeyFeedMode, "carrier-pigeon")
	_, err = Load(v)
	require.Error(t, err)

	v.Set(KeyFeedMode, "poll")
	v.Set(KeyRemoteTimeout, "0s")
	_, err = Load(v)
	require.Error(t, err)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	file := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"feed":{"poll_interval":"5s"}}`), 0o600))

	v, err := NewViper(file, "")
	require.NoError(t, err)

	got := make(chan time.Duration, 16)
	Watch(v, func(c *Config) {
		select {
		case got <- c.PollInterval:
		default:
		}
	}, nil)

	require.NoError(t, os.WriteFile(file, []byte(`{"feed":{"poll_interval":"7s"}}`), 0o600))

	// a truncating write may surface the old value first
	deadline := time.After(5 * time.Second)
	for {
		select {
		case d := <-got:
			if d == 7*time.Second {
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}

func TestDefaultCachePath(t *testing.T) {
	assert.Equal(t, filepath.Join("x", "bugsync.db"), DefaultCachePath("x"))
}
