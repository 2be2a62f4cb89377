// Package config loads the ixf-sync configuration from defaults, a .env
// file, an optional YAML file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ixf-sync/pkg/db"
	"ixf-sync/pkg/ixf"
)

var validate = validator.New()

type Config struct {
	Log      LogConfig    `yaml:"log"`
	Store    string       `yaml:"store" validate:"oneof=memory sql"`
	Database db.Config    `yaml:"database"`
	Import   ImportConfig `yaml:"import"`
	Notify   NotifyConfig `yaml:"notify"`
	Lock     LockConfig   `yaml:"lock"`
	Server   ServerConfig `yaml:"server"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type ImportConfig struct {
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
	Workers      int           `yaml:"workers" validate:"min=1,max=64"`
	RateLimit    float64       `yaml:"rate_limit" validate:"gte=0"` // feed requests per second, 0 = unlimited
	Burst        int           `yaml:"burst" validate:"gte=0"`
	Cache        string        `yaml:"cache" validate:"oneof=memory file redis"`
	CacheDir     string        `yaml:"cache_dir" validate:"required_if=Cache file"`
	RedisURL     string        `yaml:"redis_url" validate:"required_if=Cache redis"`
	ModifySpeed  bool          `yaml:"modify_speed"`
	ModifyRSPeer bool          `yaml:"modify_rs_peer"`
	MinSpeed     int64         `yaml:"min_speed" validate:"gte=0"`
	MaxSpeed     int64         `yaml:"max_speed" validate:"gte=0"`
	Stale        StaleConfig   `yaml:"stale"`
}

type StaleConfig struct {
	Enabled       bool          `yaml:"enabled"`
	NotifyPeriod  time.Duration `yaml:"notify_period" validate:"gte=0"`
	NotifyCount   int           `yaml:"notify_count" validate:"gte=0"`
	RemovalPeriod time.Duration `yaml:"removal_period" validate:"gte=0"`
}

type NotifyConfig struct {
	Networks           bool           `yaml:"networks"`
	Exchanges          bool           `yaml:"exchanges"`
	Tickets            bool           `yaml:"tickets"`
	MailDebug          bool           `yaml:"mail_debug"`
	ResendFailedEmails bool           `yaml:"resend_failed_emails"`
	SubjectPrefix      string         `yaml:"subject_prefix"`
	From               string         `yaml:"from" validate:"required,contains=@"`
	TicketRequester    string         `yaml:"ticket_requester" validate:"required,contains=@"`
	TicketDays         int            `yaml:"ticket_days" validate:"gte=0"`
	ErrorPeriod        time.Duration  `yaml:"error_period" validate:"gte=0"`
	SMTP               SMTPConfig     `yaml:"smtp"`
	Helpdesk           HelpdeskConfig `yaml:"helpdesk"`
}

type SMTPConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

type HelpdeskConfig struct {
	URL     string        `yaml:"url" validate:"omitempty,url"`
	Key     string        `yaml:"key" validate:"required_with=URL"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

type LockConfig struct {
	Backend    string        `yaml:"backend" validate:"oneof=local consul"`
	ConsulAddr string        `yaml:"consul_addr" validate:"required_if=Backend consul"`
	TTL        time.Duration `yaml:"ttl" validate:"gt=0"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr" validate:"required"`
	TLSCert           string        `yaml:"tls_cert" validate:"required_with=TLSKey"`
	TLSKey            string        `yaml:"tls_key" validate:"required_with=TLSCert"`
	ClientCA          string        `yaml:"client_ca" validate:"excluded_without=TLSCert"`
	JWTSecret         string        `yaml:"jwt_secret" validate:"required,min=16"`
	TokenTTL          time.Duration `yaml:"token_ttl" validate:"gt=0"`
	AdminUser         string        `yaml:"admin_user"`
	AdminPasswordHash string        `yaml:"admin_password_hash" validate:"required_with=AdminUser"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	s := ixf.DefaultSettings()
	return Config{
		Log:   LogConfig{Level: "info", Format: "text"},
		Store: "memory",
		Database: db.Config{
			Driver: "sqlite",
			Host:   "127.0.0.1",
			Port:   "3306",
			User:   "root",
			Name:   "ixfsync",
			Path:   "ixfsync.db",
		},
		Import: ImportConfig{
			Timeout:      s.FetchTimeout,
			Workers:      s.Workers,
			RateLimit:    2,
			Burst:        4,
			Cache:        "memory",
			ModifySpeed:  s.ModifySpeed,
			ModifyRSPeer: s.ModifyRSPeer,
			MinSpeed:     s.MinSpeed,
			MaxSpeed:     s.MaxSpeed,
			Stale: StaleConfig{
				Enabled:       s.Stale.Enabled,
				NotifyPeriod:  s.Stale.NotifyPeriod,
				NotifyCount:   s.Stale.NotifyCount,
				RemovalPeriod: s.Stale.RemovalPeriod,
			},
		},
		Notify: NotifyConfig{
			Tickets:         s.Notify.TicketOnConflict,
			MailDebug:       s.Notify.MailDebug,
			From:            s.Notify.From,
			TicketRequester: s.Notify.TicketRequester,
			TicketDays:      s.Notify.TicketDays,
			ErrorPeriod:     s.Notify.ErrorPeriod,
			Helpdesk:        HelpdeskConfig{Timeout: 10 * time.Second},
		},
		Lock: LockConfig{Backend: "local", TTL: 15 * time.Second},
		Server: ServerConfig{
			Addr:      ":8080",
			JWTSecret: "change-me-secret",
			TokenTTL:  12 * time.Hour,
		},
	}
}

// Load builds the configuration. path may be empty to skip the YAML file.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := loadDotEnv(); err != nil {
		return cfg, err
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the struct tags and the cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Import.MaxSpeed > 0 && c.Import.MaxSpeed < c.Import.MinSpeed {
		return errors.New("invalid config: import.max_speed below import.min_speed")
	}
	return nil
}

// Settings converts the import and notify sections for the importer.
func (c Config) Settings() ixf.Settings {
	return ixf.Settings{
		ModifySpeed:  c.Import.ModifySpeed,
		ModifyRSPeer: c.Import.ModifyRSPeer,
		MinSpeed:     c.Import.MinSpeed,
		MaxSpeed:     c.Import.MaxSpeed,
		FetchTimeout: c.Import.Timeout,
		Workers:      c.Import.Workers,
		Stale: ixf.StaleSettings{
			Enabled:       c.Import.Stale.Enabled,
			NotifyPeriod:  c.Import.Stale.NotifyPeriod,
			NotifyCount:   c.Import.Stale.NotifyCount,
			RemovalPeriod: c.Import.Stale.RemovalPeriod,
		},
		Notify: ixf.NotifySettings{
			NotifyNetworks:     c.Notify.Networks,
			NotifyExchanges:    c.Notify.Exchanges,
			TicketOnConflict:   c.Notify.Tickets,
			MailDebug:          c.Notify.MailDebug,
			ResendFailedEmails: c.Notify.ResendFailedEmails,
			SubjectPrefix:      c.Notify.SubjectPrefix,
			From:               c.Notify.From,
			TicketRequester:    c.Notify.TicketRequester,
			TicketDays:         c.Notify.TicketDays,
			ErrorPeriod:        c.Notify.ErrorPeriod,
		},
	}
}

func (c *Config) applyEnv() error {
	c.Log.Level = getenv("IXF_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getenv("IXF_LOG_FORMAT", c.Log.Format)
	c.Store = getenv("IXF_STORE", c.Store)

	c.Database.Driver = getenv("IXF_DB_DRIVER", c.Database.Driver)
	c.Database.Path = getenv("IXF_DB_PATH", c.Database.Path)
	c.Database.DSN = getenv("MYSQL_DSN", c.Database.DSN)
	c.Database.Host = getenv("MYSQL_HOST", c.Database.Host)
	c.Database.Port = getenv("MYSQL_PORT", c.Database.Port)
	c.Database.User = getenv("MYSQL_USER", c.Database.User)
	c.Database.Pass = getenv("MYSQL_PASS", c.Database.Pass)
	c.Database.Name = getenv("MYSQL_DB", c.Database.Name)

	c.Import.Cache = getenv("IXF_CACHE", c.Import.Cache)
	c.Import.CacheDir = getenv("IXF_CACHE_DIR", c.Import.CacheDir)
	c.Import.RedisURL = getenv("IXF_REDIS_URL", c.Import.RedisURL)
	if v := os.Getenv("IXF_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("IXF_WORKERS: %w", err)
		}
		c.Import.Workers = n
	}
	if v := os.Getenv("IXF_FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("IXF_FETCH_TIMEOUT: %w", err)
		}
		c.Import.Timeout = d
	}

	c.Notify.From = getenv("IXF_MAIL_FROM", c.Notify.From)
	c.Notify.SMTP.Addr = getenv("IXF_SMTP_ADDR", c.Notify.SMTP.Addr)
	c.Notify.SMTP.User = getenv("IXF_SMTP_USER", c.Notify.SMTP.User)
	c.Notify.SMTP.Pass = getenv("IXF_SMTP_PASS", c.Notify.SMTP.Pass)
	c.Notify.Helpdesk.URL = getenv("IXF_HELPDESK_URL", c.Notify.Helpdesk.URL)
	c.Notify.Helpdesk.Key = getenv("IXF_HELPDESK_KEY", c.Notify.Helpdesk.Key)
	if v := os.Getenv("IXF_MAIL_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("IXF_MAIL_DEBUG: %w", err)
		}
		c.Notify.MailDebug = b
	}

	c.Lock.Backend = getenv("IXF_LOCK", c.Lock.Backend)
	c.Lock.ConsulAddr = getenv("IXF_CONSUL_ADDR", c.Lock.ConsulAddr)

	c.Server.Addr = getenv("IXF_LISTEN_ADDR", c.Server.Addr)
	c.Server.JWTSecret = getenv("JWT_SECRET", c.Server.JWTSecret)
	c.Server.AdminUser = getenv("IXF_ADMIN_USER", c.Server.AdminUser)
	c.Server.AdminPasswordHash = getenv("IXF_ADMIN_PASSWORD_HASH", c.Server.AdminPasswordHash)
	return nil
}

// loadDotEnv loads .env from the working directory when present. Variables
// already set in the environment win.
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
