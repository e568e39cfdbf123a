package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(kv map[string]string) func(string) string {
	return func(k string) string { return kv[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 3, cfg.MaxReconnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"STORY_BASE_URL":               "wss://story.example/ws",
		"STORY_MAX_RECONNECT_ATTEMPTS": "0",
		"STORY_RECONNECT_DELAY":        "250ms",
		"STORY_WRITE_TIMEOUT":          "1s",
		"STORY_TICK_INTERVAL":          "500ms",
		"STORY_ANNOUNCE_JOIN":          "true",
		"STORY_DATABASE_URL":           "postgres://story@db/story",
		"STORY_LOG_LEVEL":              "debug",
		"STORY_DEV":                    "1",
	}))
	require.NoError(t, err)

	assert.Equal(t, Config{
		BaseURL:              "wss://story.example/ws",
		MaxReconnectAttempts: 0,
		ReconnectDelay:       250 * time.Millisecond,
		WriteTimeout:         time.Second,
		TickInterval:         500 * time.Millisecond,
		AnnounceJoin:         true,
		DatabaseURL:          "postgres://story@db/story",
		LogLevel:             "debug",
		Dev:                  true,
	}, cfg)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"http base", map[string]string{"STORY_BASE_URL": "http://story.example"}},
		{"no host", map[string]string{"STORY_BASE_URL": "ws://"}},
		{"attempts not a number", map[string]string{"STORY_MAX_RECONNECT_ATTEMPTS": "lots"}},
		{"negative attempts", map[string]string{"STORY_MAX_RECONNECT_ATTEMPTS": "-1"}},
		{"bad delay", map[string]string{"STORY_RECONNECT_DELAY": "soon"}},
		{"zero tick", map[string]string{"STORY_TICK_INTERVAL": "0s"}},
		{"bad bool", map[string]string{"STORY_ANNOUNCE_JOIN": "maybe"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromEnv(env(tc.env))
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STORY_BASE_URL=ws://fromfile:9000/ws\n"), 0o600))
	t.Setenv("STORY_BASE_URL", "")
	require.NoError(t, os.Unsetenv("STORY_BASE_URL"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://fromfile:9000/ws", cfg.BaseURL)
}

func TestLoadWithoutEnvFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}
