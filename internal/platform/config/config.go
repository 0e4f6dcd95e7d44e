package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Invitation InvitationConfig `mapstructure:"invitation"`
	Cache      CacheConfig      `mapstructure:"cache"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Email      EmailConfig      `mapstructure:"email"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// TrustForwardedFor takes client addresses from X-Forwarded-For. Enable
	// only behind a reverse proxy.
	TrustForwardedFor bool `mapstructure:"trust_forwarded_for"`
}

// DatabaseConfig points at the directory store. URLs starting with
// postgres:// or postgresql:// use pgx, anything else is a sqlite path.
type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// RedisConfig configures the ephemeral store. An empty Addr selects the
// in-process store, which is only correct for a single replica.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type JWTConfig struct {
	Secret          string        `mapstructure:"secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

type InvitationConfig struct {
	Secret      string        `mapstructure:"secret"`
	TTL         time.Duration `mapstructure:"ttl"`
	MaxEmails   int           `mapstructure:"max_emails"`
	RedirectURL string        `mapstructure:"redirect_url"`
	DevMode     bool          `mapstructure:"dev_mode"`
}

type CacheConfig struct {
	UserContextTTL time.Duration `mapstructure:"user_context_ttl"`
}

type RateLimitConfig struct {
	IssueWindow time.Duration `mapstructure:"issue_window"`
	IssueBurst  int           `mapstructure:"issue_burst"`
}

type EmailConfig struct {
	Provider      string        `mapstructure:"provider"`
	WorkerCount   int           `mapstructure:"worker_count"`
	QueueSize     int           `mapstructure:"queue_size"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	SMTP          SMTPConfig    `mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	FromAddress string `mapstructure:"from_address"`
	FromName    string `mapstructure:"from_name"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.trust_forwarded_for", false)

	v.SetDefault("database.url", "file:./data/orgdesk.db")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("redis.key_prefix", "orgdesk")

	v.SetDefault("jwt.access_token_ttl", 15*time.Minute)
	v.SetDefault("jwt.refresh_token_ttl", 14*24*time.Hour)

	v.SetDefault("invitation.ttl", 12*time.Hour)
	v.SetDefault("invitation.max_emails", 30)

	v.SetDefault("cache.user_context_ttl", 10*time.Minute)

	v.SetDefault("rate_limit.issue_window", 10*time.Second)
	v.SetDefault("rate_limit.issue_burst", 1)

	v.SetDefault("email.provider", "log")
	v.SetDefault("email.worker_count", 2)
	v.SetDefault("email.queue_size", 256)
	v.SetDefault("email.retry_attempts", 3)
	v.SetDefault("email.retry_backoff", 2*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("telemetry.service_name", "orgdesk")
}

// RegisterFlags adds the flags shared by every binary.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "configs/config.yaml", "Path to config file")
	flags.String("log-level", "", "Override logging.level")
}

// Load reads the config file named by path, then applies ORGDESK_* environment
// overrides. A nil flag set is allowed.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("orgdesk")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if flags != nil {
		if f := flags.Lookup("log-level"); f != nil && f.Changed {
			if err := v.BindPFlag("logging.level", f); err != nil {
				return nil, err
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("config: jwt.secret is required")
	}
	if len(c.Invitation.Secret) < 32 {
		return errors.New("config: invitation.secret must be at least 32 bytes")
	}
	if c.Invitation.TTL <= 0 {
		return errors.New("config: invitation.ttl must be positive")
	}
	if c.Invitation.MaxEmails <= 0 {
		return errors.New("config: invitation.max_emails must be positive")
	}
	return nil
}
