package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Rcon     RconConfig     `yaml:"rcon"`
	Poller   PollerConfig   `yaml:"poller"`
	Identity IdentityConfig `yaml:"identity"`
	Registry RegistryConfig `yaml:"registry"`
	Database DatabaseConfig `yaml:"database"`
	HTTP     HTTPConfig     `yaml:"http"`
	Auth     AuthConfig     `yaml:"auth"`
	NATS     NATSConfig     `yaml:"nats"`
	Log      LogConfig      `yaml:"log"`
}

// DiscordConfig holds chat platform settings
type DiscordConfig struct {
	Token           string `yaml:"token" env:"DISCORD_BOT_TOKEN"`
	StatusChannelID string `yaml:"status_channel_id" env:"DISCORD_STATUS_CHANNEL_ID"`
	GuildID         string `yaml:"guild_id" env:"DISCORD_GUILD_ID"`
}

// RconConfig holds the game server admin connection
type RconConfig struct {
	Host        string        `yaml:"host" env:"MINECRAFT_RCON_HOST"`
	Port        int           `yaml:"port" env:"MINECRAFT_RCON_PORT"`
	Password    string        `yaml:"password" env:"MINECRAFT_RCON_PASSWORD"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Timeout     time.Duration `yaml:"timeout"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// Addr returns host:port
func (c RconConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PollerConfig holds status panel settings
type PollerConfig struct {
	Interval     time.Duration `yaml:"interval" env:"WARDEN_POLL_INTERVAL"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// IdentityConfig holds the account lookup API settings
type IdentityConfig struct {
	BaseURL   string        `yaml:"base_url" env:"WARDEN_IDENTITY_URL"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second
	Burst     int           `yaml:"burst"`
}

// RegistryConfig selects and tunes the registration store
type RegistryConfig struct {
	Driver          string        `yaml:"driver" env:"WARDEN_REGISTRY_DRIVER"` // memory or redis
	ReservationTTL  time.Duration `yaml:"reservation_ttl"`
	RedisURL        string        `yaml:"redis_url" env:"WARDEN_REDIS_URL"`
	RedisKeyPrefix  string        `yaml:"redis_key_prefix"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	MutationTimeout time.Duration `yaml:"mutation_timeout"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path" env:"WARDEN_DATABASE_PATH"`
}

// HTTPConfig holds operator API settings
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Port       int    `yaml:"port" env:"WARDEN_HTTP_PORT"`
}

// AuthConfig holds operator authentication settings
type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret" env:"WARDEN_JWT_SECRET"`
	AdminPasswordHash string        `yaml:"admin_password_hash" env:"WARDEN_ADMIN_PASSWORD_HASH"`
	TokenDuration     time.Duration `yaml:"token_duration"`
}

// NATSConfig enables event publishing to a NATS subject tree
type NATSConfig struct {
	URL           string `yaml:"url" env:"WARDEN_NATS_URL"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level      string `yaml:"level" env:"WARDEN_LOG_LEVEL"`
	Format     string `yaml:"format"` // console or json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads configuration from a YAML file, then applies environment
// overrides and defaults. A missing file is not an error when the
// environment supplies everything.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// environment only
		default:
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Rcon.Host == "" {
		c.Rcon.Host = "localhost"
	}
	if c.Rcon.Port == 0 {
		c.Rcon.Port = 25575
	}
	if c.Rcon.DialTimeout == 0 {
		c.Rcon.DialTimeout = 5 * time.Second
	}
	if c.Rcon.Timeout == 0 {
		c.Rcon.Timeout = 5 * time.Second
	}
	if c.Rcon.IdleTimeout == 0 {
		c.Rcon.IdleTimeout = 5 * time.Minute
	}

	if c.Poller.Interval == 0 {
		c.Poller.Interval = 30 * time.Second
	}
	if c.Poller.ProbeTimeout == 0 {
		c.Poller.ProbeTimeout = 5 * time.Second
	}

	if c.Identity.BaseURL == "" {
		c.Identity.BaseURL = "https://api.mojang.com"
	}
	if c.Identity.Timeout == 0 {
		c.Identity.Timeout = 5 * time.Second
	}
	if c.Identity.RateLimit == 0 {
		c.Identity.RateLimit = 10
	}
	if c.Identity.Burst == 0 {
		c.Identity.Burst = 5
	}

	if c.Registry.Driver == "" {
		c.Registry.Driver = "memory"
	}
	if c.Registry.ReservationTTL == 0 {
		c.Registry.ReservationTTL = 2 * time.Minute
	}
	if c.Registry.RedisKeyPrefix == "" {
		c.Registry.RedisKeyPrefix = "warden"
	}
	if c.Registry.MaxConcurrent == 0 {
		c.Registry.MaxConcurrent = 16
	}
	if c.Registry.MutationTimeout == 0 {
		c.Registry.MutationTimeout = 15 * time.Second
	}

	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/warden/warden.db"
	}

	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = "127.0.0.1"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}

	if c.Auth.TokenDuration == 0 {
		c.Auth.TokenDuration = 24 * time.Hour
	}

	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "warden.events"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 50
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 30
	}
}

// Validate checks the settings `serve` cannot run without
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return errors.New("discord token not set (DISCORD_BOT_TOKEN)")
	}
	if c.Discord.StatusChannelID == "" {
		return errors.New("status channel not set (DISCORD_STATUS_CHANNEL_ID)")
	}
	if c.Rcon.Password == "" {
		return errors.New("rcon password not set (MINECRAFT_RCON_PASSWORD)")
	}
	if c.Rcon.Port <= 0 || c.Rcon.Port > 65535 {
		return fmt.Errorf("invalid rcon port %d", c.Rcon.Port)
	}
	switch c.Registry.Driver {
	case "memory":
	case "redis":
		if c.Registry.RedisURL == "" {
			return errors.New("registry driver redis requires redis_url")
		}
	default:
		return fmt.Errorf("unknown registry driver %q", c.Registry.Driver)
	}
	// A reservation must outlive the mutation it guards, or a second
	// submission could reclaim it mid-flight
	if c.Registry.ReservationTTL <= c.Registry.MutationTimeout {
		return fmt.Errorf("reservation_ttl %v must be longer than mutation_timeout %v",
			c.Registry.ReservationTTL, c.Registry.MutationTimeout)
	}
	if c.Poller.Interval < time.Second {
		return fmt.Errorf("poll interval %v is too short", c.Poller.Interval)
	}
	return nil
}
