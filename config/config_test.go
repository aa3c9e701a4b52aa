package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joaopedrotaveira/tsps/config"
)

func TestConfigLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		config.ConfigFile = filepath.Join(t.TempDir(), "missing.yaml")

		cfg, err := config.Load()
		require.NoError(t, err)
		assert.Equal(t, config.DefaultConfig, cfg)
	})

	t.Run("File", func(t *testing.T) {
		config.ConfigFile = "testdata/config.yaml"

		cfg, err := config.Load()
		require.NoError(t, err)

		assert.Equal(t, &config.Config{
			TunName:      "tsps1",
			TunAddr:      "10.9.0.1/24",
			ListenAddr:   "0.0.0.0:3653",
			MTU:          1400,
			QueueSize:    64,
			PollInterval: config.Duration(250 * time.Millisecond),
			Peers: map[string]string{
				"10.9.0.2": "203.0.113.5:3653",
				"10.9.0.3": "",
			},
			Verbose: true,
		}, cfg)
	})

	t.Run("Invalid", func(t *testing.T) {
		config.ConfigFile = "testdata/config-invalid.yaml"

		_, err := config.Load()
		require.ErrorContains(t, err, "queue_size")
	})
}

func TestConfigSave(t *testing.T) {
	config.ConfigFile = filepath.Join(t.TempDir(), "config.yaml")

	cfg := &config.Config{
		TunName:      "tsps0",
		TunAddr:      "10.8.0.1/24",
		ListenAddr:   "127.0.0.1:3653",
		MTU:          1500,
		QueueSize:    32,
		PollInterval: config.Duration(time.Second),
		Peers:        map[string]string{"10.8.0.2": "203.0.113.5:3653"},
	}

	require.NoError(t, config.Store(cfg))

	readBackCfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, cfg, readBackCfg)
}
