package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(841), cfg.ExpectedChainID)
	assert.Equal(t, "https://841.rpc.thirdweb.com", cfg.RPCURL)
	assert.Equal(t, []string{"isAborted", "aborted"}, cfg.AbortFieldNames)
	assert.Equal(t, uint64(1000), cfg.LogBatchBlocks)
	assert.Equal(t, 5, cfg.LogBatchConcurrency)
	assert.Equal(t, 10*time.Second, cfg.PriceTimeout)
	assert.Equal(t, time.Saturday, cfg.MaintenanceWeekday)
	assert.Equal(t, "21:00", cfg.MaintenanceStart)
	assert.Equal(t, 60*time.Second, cfg.PollInterval())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAINTENANCE_WEEKDAY", "Sun")
	t.Setenv("MAINTENANCE_START_UTC", "20:45")
	t.Setenv("ABORT_FIELD_NAMES", " aborted , ")
	t.Setenv("ALERT_MODE", "log, discord")
	t.Setenv("DISCORD_WEBHOOK_URL", "https://discord.example/webhook")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Sunday, cfg.MaintenanceWeekday)
	assert.Equal(t, "20:45", cfg.MaintenanceStart)
	assert.Equal(t, []string{"aborted"}, cfg.AbortFieldNames)
	assert.Equal(t, []string{"log", "discord"}, cfg.AlertModes())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad address", map[string]string{"GAME_CONTRACT_ADDRESS": "0x1234"}},
		{"bad weekday", map[string]string{"MAINTENANCE_WEEKDAY": "someday"}},
		{"bad start", map[string]string{"MAINTENANCE_START_UTC": "9pm!!"}},
		{"discord without url", map[string]string{"ALERT_MODE": "discord"}},
		{"unknown alert mode", map[string]string{"ALERT_MODE": "pager"}},
		{"window inverted", map[string]string{"LOG_MIN_WINDOW_BLOCKS": "5000", "LOG_MAX_WINDOW_BLOCKS": "10"}},
		{"timeout beyond interval", map[string]string{"POLL_INTERVAL_SEC": "10", "CYCLE_TIMEOUT_SEC": "30"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
