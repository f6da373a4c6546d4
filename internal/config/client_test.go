package config

import (
	"testing"
	"time"

	"github.com/romashorodok/conferencing-platform/internal/micstate"
	"github.com/stretchr/testify/require"
)

func TestLoadClientDefaults(t *testing.T) {
	cfg, err := LoadClient(nil)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080", cfg.ServerURL)
	require.Equal(t, "test", cfg.Room)
	require.Equal(t, micstate.Member, cfg.ParsedRole())
	require.Equal(t, 5*time.Second, cfg.PollInterval)
	require.Equal(t, 1500*time.Millisecond, cfg.SettleDelay)
	require.Equal(t, 10*time.Second, cfg.RoomInfoInterval)
	require.Equal(t, 4, cfg.DefaultMaxMicSlots)
	require.False(t, cfg.Publish)
}

func TestLoadClientFlagsOverrideEnv(t *testing.T) {
	t.Setenv("MIC_CLIENT_ROOM", "from-env")
	t.Setenv("MIC_CLIENT_ROLE", "host")
	t.Setenv("MIC_CLIENT_POLL_INTERVAL", "2s")

	cfg, err := LoadClient([]string{"--room", "from-flag", "--settle-delay", "3s"})
	require.NoError(t, err)
	require.Equal(t, "from-flag", cfg.Room)
	require.Equal(t, micstate.Host, cfg.ParsedRole())
	require.Equal(t, 2*time.Second, cfg.PollInterval)
	require.Equal(t, 3*time.Second, cfg.SettleDelay)
}

func TestLoadClientErrors(t *testing.T) {
	tests := map[string]struct {
		args []string
		err  error
	}{
		"empty room flag": {
			args: []string{"--room", ""},
			err:  ErrEmptyRoom,
		},
		"empty server flag": {
			args: []string{"--server", " "},
			err:  ErrEmptyServerURL,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadClient(tt.args)
			require.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("malformed duration", func(t *testing.T) {
		t.Setenv("MIC_CLIENT_POLL_INTERVAL", "soon")
		_, err := LoadClient(nil)
		require.Error(t, err)
	})
}

func TestCookies(t *testing.T) {
	cfg := Client{Cookies: "session=abc; theme=dark"}
	cookies, err := cfg.HTTPCookies()
	require.NoError(t, err)
	require.Len(t, cookies, 2)
	require.Equal(t, "session", cookies[0].Name)
	require.Equal(t, "abc", cookies[0].Value)
	require.Equal(t, "session=abc; theme=dark", cfg.Header().Get("Cookie"))

	cookies, err = Client{}.HTTPCookies()
	require.NoError(t, err)
	require.Nil(t, cookies)
}
