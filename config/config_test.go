package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Egcarson/chatroom/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-secret")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.JWTSecret)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 256, cfg.OutboundQueueSize)
	assert.Equal(t, 8, cfg.SlowConsumerDropLimit)
	assert.Equal(t, int64(8192), cfg.MaxMessageBytes)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 72*time.Hour, cfg.RefreshTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("PORT", "9999")
	t.Setenv("SLOW_CONSUMER_DROP_LIMIT", "3")
	t.Setenv("TOKEN_TTL", "45m")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 3, cfg.SlowConsumerDropLimit)
	assert.Equal(t, 45*time.Minute, cfg.TokenTTL)
}

func TestLoadRequiresSecret(t *testing.T) {
	// t.Setenv registers the restore; the variable must be absent, not
	// merely empty.
	t.Setenv("JWT_SECRET", "placeholder")
	os.Unsetenv("JWT_SECRET")

	_, err := config.Load()
	assert.Error(t, err)
}
