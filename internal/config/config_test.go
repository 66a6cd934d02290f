package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 48*time.Hour, cfg.Engine.EscalationTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Engine.CacheTTL)
	assert.Equal(t, 1.0, cfg.Currency.Rates["usd"])
	assert.False(t, cfg.Lark.Enabled)
}

func TestLoadRejectsLarkWithoutCredentials(t *testing.T) {
	path := writeConfig(t, "lark:\n  enabled: true\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lark.app_id")
}

func TestLoadRejectsBadTimeouts(t *testing.T) {
	path := writeConfig(t, "engine:\n  escalation_timeout: -1h\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escalation_timeout")
}
