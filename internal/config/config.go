package config

import (
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server    Server
	Database  Database
	Logging   Logging
	Auth      Auth
	Storage   Storage
	Cache     Cache
	Push      Push
	Broadcast Broadcast
	Seed      Seed
}

type Server struct {
	Addr            string
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Database struct {
	Driver string
	DSN    string
}

type Logging struct {
	Level  string
	Format string
}

type Auth struct {
	SecretKey        string        `mapstructure:"secret_key"`
	RegistrationOpen bool          `mapstructure:"registration_open"`
	AllowedUsernames []string      `mapstructure:"allowed_usernames"`
	CookieMaxAge     time.Duration `mapstructure:"cookie_max_age"`
	SecureCookie     bool          `mapstructure:"secure_cookie"`
}

type Storage struct {
	Root                      string
	MaxVoiceNoteBytes         int64 `mapstructure:"max_voice_note_bytes"`
	CompressionThresholdBytes int64 `mapstructure:"compression_threshold_bytes"`
}

type Cache struct {
	ConversationsTTL time.Duration `mapstructure:"conversations_ttl"`
	MessagesTTL      time.Duration `mapstructure:"messages_ttl"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
}

type Push struct {
	GatewayURL string `mapstructure:"gateway_url"`
	APIKey     string `mapstructure:"api_key"`
	Timeout    time.Duration
}

type Broadcast struct {
	ZMQEndpoint string `mapstructure:"zmq_endpoint"`
}

type Seed struct {
	Users               []SeedUser
	DefaultConversation bool `mapstructure:"default_conversation"`
}

type SeedUser struct {
	Name     string
	Username string
	Password string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "parley.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("auth.secret_key", "super-secret-key-change-me-in-production")
	v.SetDefault("auth.registration_open", false)
	v.SetDefault("auth.allowed_usernames", []string{})
	v.SetDefault("auth.cookie_max_age", 7*24*time.Hour)
	v.SetDefault("auth.secure_cookie", false)

	v.SetDefault("storage.root", "storage")
	v.SetDefault("storage.max_voice_note_bytes", 10*1024*1024)
	v.SetDefault("storage.compression_threshold_bytes", 5*1024*1024)

	v.SetDefault("cache.conversations_ttl", 10*time.Second)
	v.SetDefault("cache.messages_ttl", 5*time.Second)
	v.SetDefault("cache.cleanup_interval", time.Minute)

	v.SetDefault("push.gateway_url", "")
	v.SetDefault("push.api_key", "")
	v.SetDefault("push.timeout", 5*time.Second)

	v.SetDefault("broadcast.zmq_endpoint", "")

	v.SetDefault("seed.default_conversation", false)
}

// Load reads config.yaml (or the file at path, when given) and overlays
// PARLEY_* environment variables. A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("parley")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/parley")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// NewLogger builds the process logger from the logging section.
func NewLogger(c Logging) *logrus.Logger {
	logger := logrus.New()

	switch c.Level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if c.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
