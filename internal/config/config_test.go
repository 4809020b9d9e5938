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
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
discord:
  token: abc
  status_channel_id: "123"
rcon:
  password: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Rcon.Host)
	assert.Equal(t, 25575, cfg.Rcon.Port)
	assert.Equal(t, "localhost:25575", cfg.Rcon.Addr())
	assert.Equal(t, 30*time.Second, cfg.Poller.Interval)
	assert.Equal(t, "memory", cfg.Registry.Driver)
	assert.Equal(t, "https://api.mojang.com", cfg.Identity.BaseURL)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAMLValues(t *testing.T) {
	path := writeConfig(t, `
rcon:
  host: mc.example.com
  port: 25999
  timeout: 2s
poller:
  interval: 1m
registry:
  driver: redis
  redis_url: redis://localhost:6379/0
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mc.example.com:25999", cfg.Rcon.Addr())
	assert.Equal(t, 2*time.Second, cfg.Rcon.Timeout)
	assert.Equal(t, time.Minute, cfg.Poller.Interval)
	assert.Equal(t, "redis", cfg.Registry.Driver)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
rcon:
  host: from-file
  password: file-secret
`)
	t.Setenv("MINECRAFT_RCON_HOST", "from-env")
	t.Setenv("MINECRAFT_RCON_PASSWORD", "env-secret")
	t.Setenv("DISCORD_BOT_TOKEN", "token")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Rcon.Host)
	assert.Equal(t, "env-secret", cfg.Rcon.Password)
	assert.Equal(t, "token", cfg.Discord.Token)
}

func TestLoadMissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("MINECRAFT_RCON_PORT", "25580")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Equal(t, 25580, cfg.Rcon.Port)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "rcon: [unclosed")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.Discord.Token = "t"
		cfg.Discord.StatusChannelID = "1"
		cfg.Rcon.Password = "p"
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing token", func(c *Config) { c.Discord.Token = "" }},
		{"missing channel", func(c *Config) { c.Discord.StatusChannelID = "" }},
		{"missing rcon password", func(c *Config) { c.Rcon.Password = "" }},
		{"bad port", func(c *Config) { c.Rcon.Port = 70000 }},
		{"unknown driver", func(c *Config) { c.Registry.Driver = "etcd" }},
		{"redis without url", func(c *Config) { c.Registry.Driver = "redis" }},
		{"interval too short", func(c *Config) { c.Poller.Interval = time.Millisecond }},
		{"reservation shorter than mutation", func(c *Config) {
			c.Registry.ReservationTTL = 10 * time.Second
			c.Registry.MutationTimeout = 15 * time.Second
		}},
		{"reservation equal to mutation", func(c *Config) {
			c.Registry.ReservationTTL = 15 * time.Second
			c.Registry.MutationTimeout = 15 * time.Second
		}},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsReservationShorterThanMutation(t *testing.T) {
	path := writeConfig(t, `
discord:
  token: abc
  status_channel_id: "123"
rcon:
  password: secret
registry:
  reservation_ttl: 5s
  mutation_timeout: 30s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reservation_ttl")
}
