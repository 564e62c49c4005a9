package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv("CONSUMER_NAME", "host-a")
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Gateway.Host)
	assert.Equal(t, 8080, cfg.Gateway.Port)
	assert.Equal(t, 5*time.Second, cfg.Gateway.HeartbeatInterval())
	assert.Equal(t, 3, cfg.Gateway.HeartbeatMissed)
	assert.Equal(t, 30*time.Second, cfg.Gateway.ActionTimeout)
	assert.Equal(t, "botgate", cfg.Upstream.Platform)
	assert.Equal(t, 5*time.Second, cfg.Upstream.ReconnectDelay)
	assert.Empty(t, cfg.Upstream.All())
	assert.Equal(t, "botgate:events", cfg.Queue.StreamKey)
	assert.EqualValues(t, 10000, cfg.Queue.MaxLen)
	assert.Equal(t, []string{"message"}, cfg.Queue.PostTypes)
	assert.Equal(t, "botgate-workers", cfg.Queue.Group)
	assert.Equal(t, "host-a", cfg.Queue.Consumer)
	assert.Equal(t, 60*time.Second, cfg.Queue.ClaimIdle)
	assert.Equal(t, 1, cfg.Worker.Concurrency)
	assert.Equal(t, "ws://127.0.0.1:8080/ws", cfg.Worker.GatewayURL)
	assert.Equal(t, "plugins.yaml", cfg.Plugins.File)
	assert.Equal(t, 300*time.Second, cfg.Plugins.StateTTL)
	assert.Equal(t, 60*time.Second, cfg.Permission.SyncInterval)
}

func TestParse_ConsumerDefaultsToHostname(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)
	host, _ := os.Hostname()
	if host != "" {
		assert.Equal(t, host, cfg.Queue.Consumer)
	}
	assert.NotEmpty(t, cfg.Queue.Consumer)
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "9000")
	t.Setenv("HEARTBEAT_INTERVAL", "250")
	t.Setenv("QUEUE_POST_TYPES", "message,meta_event")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("CLAIM_IDLE", "2m")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Gateway.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Gateway.HeartbeatInterval())
	assert.Equal(t, []string{"message", "meta_event"}, cfg.Queue.PostTypes)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 2*time.Minute, cfg.Queue.ClaimIdle)
}

func TestUpstreams(t *testing.T) {
	cases := map[string]struct {
		urls, legacy string
		want         []string
	}{
		"comma list": {urls: "ws://a/ws, ws://b/ws,", want: []string{"ws://a/ws", "ws://b/ws"}},
		"json array": {urls: `["ws://a/ws","ws://b/ws"]`, want: []string{"ws://a/ws", "ws://b/ws"}},
		"legacy":     {legacy: "ws://c/ws", want: []string{"ws://c/ws"}},
		"dedupe":     {urls: "ws://a/ws", legacy: "ws://a/ws", want: []string{"ws://a/ws"}},
	}
	for name, tc := range cases {
		tc := tc // per-iteration copy (pre-Go 1.22 loop semantics)
		t.Run(name, func(t *testing.T) {
			t.Setenv("UPSTREAM_URLS", tc.urls)
			t.Setenv("UPSTREAM_URL", tc.legacy)
			cfg, err := Parse()
			require.NoError(t, err)
			assert.Equal(t, tc.want, cfg.Upstream.All())
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string][2]string{
		"port":        {"GATEWAY_PORT", "70000"},
		"concurrency": {"WORKER_CONCURRENCY", "0"},
		"missed":      {"HEARTBEAT_MISSED", "0"},
		"duration":    {"ACTION_TIMEOUT", "soon"},
		"json":        {"UPSTREAM_URLS", "[not json"},
		"state ttl":   {"STATE_TTL", "0s"},
	}
	for name, kv := range cases {
		kv := kv // per-iteration copy (pre-Go 1.22 loop semantics)
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Parse()
			assert.Error(t, err)
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STREAM_KEY=custom:events\nACCESS_TOKEN=from-file\n"), 0o644))

	// Variables already in the environment win over the file.
	t.Setenv("ACCESS_TOKEN", "from-env")
	t.Setenv("STREAM_KEY", "")
	os.Unsetenv("STREAM_KEY")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom:events", cfg.Queue.StreamKey)
	assert.Equal(t, "from-env", cfg.Gateway.AccessToken)
	os.Unsetenv("STREAM_KEY")
}

func TestLoad_MissingFileIsFine(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}
