package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults apply without a config file", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.json"))
		t.Setenv("DEVICE_ID", "device-test")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, ":5100", cfg.ListenAddress)
		assert.Equal(t, "device-test", cfg.DeviceID)
		assert.False(t, cfg.UsePostgres())
		assert.Equal(t, 100*time.Millisecond, cfg.Session.JoinInitialBackoff())
		assert.Equal(t, 2*time.Second, cfg.Session.JoinMaxBackoff())
		assert.Equal(t, 8, cfg.Session.JoinMaxAttempts)
		assert.Equal(t, 5*time.Second, cfg.Session.Quiescence())
		assert.Equal(t, 30*time.Minute, cfg.Session.InactivityTimeout())
	})

	t.Run("config file values are honored", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"listenAddress": ":7000",
			"deviceId": "device-from-file",
			"session": {"joinMaxAttempts": 3}
		}`), 0600))
		t.Setenv("CONFIG_PATH", path)
		t.Setenv("DEVICE_ID", "")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, ":7000", cfg.ListenAddress)
		assert.Equal(t, "device-from-file", cfg.DeviceID)
		assert.Equal(t, 3, cfg.Session.JoinMaxAttempts)
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"listenAddress": ":7000", "deviceId": "x"}`), 0600))
		t.Setenv("CONFIG_PATH", path)
		t.Setenv("LISTEN_ADDRESS", ":9000")
		t.Setenv("DATABASE_URL", "postgres://localhost/syncslides")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, ":9000", cfg.ListenAddress)
		assert.True(t, cfg.UsePostgres())
	})

	t.Run("device id persists across loads", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.json"))
		t.Setenv("DEVICE_ID", "")

		idFile := filepath.Join(dir, "device_id")
		cfg := defaultConfig()
		cfg.DeviceIDFile = idFile
		require.NoError(t, cfg.ensureDeviceID())
		require.NotEmpty(t, cfg.DeviceID)

		again := defaultConfig()
		again.DeviceIDFile = idFile
		require.NoError(t, again.ensureDeviceID())
		assert.Equal(t, cfg.DeviceID, again.DeviceID)
	})
}
