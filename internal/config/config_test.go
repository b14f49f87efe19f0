package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMongo, cfg.Store.Driver)
	assert.Equal(t, "fleet", cfg.Store.MongoDB)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 3, cfg.Update.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Update.BaseDelay)
	assert.Equal(t, 9090, cfg.Server.OpsPort)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("SCHEDULER_INTERVAL", "30s")
	t.Setenv("UPDATE_MAX_ATTEMPTS", "5")
	t.Setenv("UPDATE_BASE_DELAY", "50ms")
	t.Setenv("ALERT_RATE_PER_SECOND", "2.5")
	t.Setenv("TIMEZONE", "Asia/Kolkata")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 5, cfg.Update.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Update.BaseDelay)
	assert.Equal(t, 2.5, cfg.Alerts.RatePerSecond)
	assert.Equal(t, "json", cfg.Logging.Format)

	loc, err := cfg.Scheduler.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", loc.String())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  mongo_db: trips_from_file
scheduler:
  interval: 2m
server:
  ops_port: 7070
`), 0o600))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("OPS_PORT", "7171")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "trips_from_file", cfg.Store.MongoDB)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 7171, cfg.Server.OpsPort)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "postgres" }},
		{name: "mongo without uri", mutate: func(c *Config) { c.Store.MongoURI = "" }},
		{name: "broker without prefix", mutate: func(c *Config) { c.MQTT.Broker = "tcp://b:1883"; c.MQTT.TopicPrefix = "" }},
		{name: "zero attempts", mutate: func(c *Config) { c.Update.MaxAttempts = 0 }},
		{name: "zero interval", mutate: func(c *Config) { c.Scheduler.Interval = 0 }},
		{name: "bad fuel url", mutate: func(c *Config) { c.Fuel.APIURL = "not a url" }},
		{name: "bad timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }},
		{name: "bad port", mutate: func(c *Config) { c.Server.OpsPort = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("memory driver needs no uri", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Store.Driver = DriverMemory
		cfg.Store.MongoURI = ""
		cfg.Store.MongoDB = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestEnvTransformFunc(t *testing.T) {
	assert.Equal(t, "store.mongo_uri", envTransformFunc("MONGO_URI"))
	assert.Equal(t, "scheduler.interval", envTransformFunc("SCHEDULER_INTERVAL"))
	assert.Equal(t, "", envTransformFunc("PATH"))
}

func TestConfigureLogging(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)
	defer log.SetFormatter(&log.TextFormatter{})

	require.NoError(t, ConfigureLogging(LoggingConfig{Level: "debug", Format: "json"}))
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	_, ok := log.StandardLogger().Formatter.(*log.JSONFormatter)
	assert.True(t, ok)

	assert.Error(t, ConfigureLogging(LoggingConfig{Level: "loud", Format: "text"}))
}
