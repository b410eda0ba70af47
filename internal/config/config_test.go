package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
mqtt:
  broker: mqtt.local
oauth:
  bootstrap_file: /etc/tadoxd/bootstrap.json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.HTTP.Addr)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, DefaultDiscoveryPrefix, cfg.MQTT.DiscoveryPrefix)
	assert.Equal(t, DefaultOAuthStatePath, cfg.OAuth.StatePath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ScanIntervalFreeTier, cfg.ScanInterval())
	assert.False(t, cfg.EnableWeather())
	assert.False(t, cfg.EnableMobileDevices())
}

func TestLoadAutoAssistTier(t *testing.T) {
	path := writeConfig(t, `
mqtt:
  broker: mqtt.local
oauth:
  bootstrap_file: /etc/tadoxd/bootstrap.json
tado:
  auto_assist: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ScanIntervalAutoAssist, cfg.ScanInterval())
	assert.True(t, cfg.EnableWeather())
	assert.True(t, cfg.EnableMobileDevices())
}

func TestLoadExplicitOverridesBeatTier(t *testing.T) {
	path := writeConfig(t, `
mqtt:
  broker: mqtt.local
oauth:
  bootstrap_file: /etc/tadoxd/bootstrap.json
tado:
  auto_assist: true
  scan_interval_seconds: 120
  enable_weather: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.ScanInterval())
	assert.False(t, cfg.EnableWeather())
	assert.True(t, cfg.EnableMobileDevices())
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("TADOXD_TEST_BROKER", "broker.example.com")
	path := writeConfig(t, `
mqtt:
  broker: ${TADOXD_TEST_BROKER}
oauth:
  bootstrap_file: /etc/tadoxd/bootstrap.json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "broker.example.com", cfg.MQTT.Broker)
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing bootstrap",
			body: "mqtt:\n  broker: mqtt.local\n",
			want: "bootstrap_file",
		},
		{
			name: "missing broker",
			body: "oauth:\n  bootstrap_file: /tmp/b.json\n",
			want: "mqtt.broker",
		},
		{
			name: "blob endpoint without bucket",
			body: "mqtt:\n  broker: mqtt.local\noauth:\n  bootstrap_file: /tmp/b.json\n  blob_endpoint: https://s3.local\n",
			want: "blob_bucket",
		},
		{
			name: "scan interval too low",
			body: "mqtt:\n  broker: mqtt.local\noauth:\n  bootstrap_file: /tmp/b.json\ntado:\n  scan_interval_seconds: 5\n",
			want: "scan_interval_seconds",
		},
		{
			name: "bad log level",
			body: "mqtt:\n  broker: mqtt.local\noauth:\n  bootstrap_file: /tmp/b.json\nlog:\n  level: loud\n",
			want: "log.level",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
