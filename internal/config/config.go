// Package config loads and validates OrderPipe configuration from the
// environment, an optional .env file and an optional YAML file using Viper.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Transport names accepted by WHATSAPP_TRANSPORT and SMS_TRANSPORT.
const (
	TransportGraph     = "graph"
	TransportWhatsmeow = "whatsmeow"
	TransportTwilio    = "twilio"
	TransportADB       = "adb"
	TransportMock      = "mock"
)

const (
	// DefaultStateDir holds the bot database, the directory database and the lock file.
	DefaultStateDir = "/var/lib/orderpipe"
	// DefaultReminderMessage is sent once a session has been idle for the reminder threshold.
	DefaultReminderMessage = "Your session will expire in 30 minutes. Please complete your interaction."
	// DefaultExpiryMessage is sent when an idle session is deleted.
	DefaultExpiryMessage = "Your session has expired due to inactivity."
)

// Config holds application configuration.
type Config struct {
	// StateDir is where SQLite files and the lock file live.
	StateDir string `mapstructure:"ORDERPIPE_STATE_DIR"`
	// DatabaseURL is the session/order store DSN (Postgres URL or SQLite path).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DirectoryDSN is the client/product directory DSN (MySQL, Postgres or SQLite).
	DirectoryDSN string `mapstructure:"DIRECTORY_DSN"`

	APIAddr            string `mapstructure:"API_ADDR"`
	WebhookVerifyToken string `mapstructure:"WEBHOOK_VERIFY_TOKEN"`
	SMSVerifyToken     string `mapstructure:"SMS_VERIFY_TOKEN"`

	WhatsAppTransport     string `mapstructure:"WHATSAPP_TRANSPORT"`
	GraphAPIToken         string `mapstructure:"GRAPH_API_TOKEN"`
	WhatsAppPhoneNumberID string `mapstructure:"WHATSAPP_PHONE_NUMBER_ID"`
	GraphAPIVersion       string `mapstructure:"GRAPH_API_VERSION"`
	GraphAPIBaseURL       string `mapstructure:"GRAPH_API_BASE_URL"`
	WhatsmeowDSN          string `mapstructure:"WHATSMEOW_DSN"`
	WhatsmeowQROutput     string `mapstructure:"WHATSMEOW_QR_OUTPUT"`

	SMSTransport string `mapstructure:"SMS_TRANSPORT"`
	ADBPath      string `mapstructure:"ADB_PATH"`
	ADBSerial    string `mapstructure:"ADB_SERIAL"`

	TwilioAccountSID        string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken         string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber        string `mapstructure:"TWILIO_FROM_NUMBER"`
	TwilioWhatsAppFrom      string `mapstructure:"TWILIO_WHATSAPP_FROM"`
	TwilioValidateSignature bool   `mapstructure:"TWILIO_VALIDATE_SIGNATURE"`
	// PublicBaseURL is the externally visible URL Twilio signs requests against.
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`

	OpenAIAPIKey  string  `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL string  `mapstructure:"OPENAI_BASE_URL"`
	AIModel       string  `mapstructure:"AI_MODEL"`
	AITemperature float64 `mapstructure:"AI_TEMPERATURE"`
	AIMaxTokens   int64   `mapstructure:"AI_MAX_TOKENS"`

	SessionCheckInterval time.Duration `mapstructure:"SESSION_CHECK_INTERVAL"`
	SessionReminderAfter time.Duration `mapstructure:"SESSION_REMINDER_AFTER"`
	SessionExpireAfter   time.Duration `mapstructure:"SESSION_EXPIRE_AFTER"`
	ReminderMessage      string        `mapstructure:"SESSION_REMINDER_MESSAGE"`
	ExpiryMessage        string        `mapstructure:"SESSION_EXPIRY_MESSAGE"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

// keys lists every configuration key so YAML files and the environment bind
// the same names.
var keys = []string{
	"ORDERPIPE_STATE_DIR", "DATABASE_URL", "DIRECTORY_DSN",
	"API_ADDR", "WEBHOOK_VERIFY_TOKEN", "SMS_VERIFY_TOKEN",
	"WHATSAPP_TRANSPORT", "GRAPH_API_TOKEN", "WHATSAPP_PHONE_NUMBER_ID", "GRAPH_API_VERSION",
	"GRAPH_API_BASE_URL", "WHATSMEOW_DSN", "WHATSMEOW_QR_OUTPUT",
	"SMS_TRANSPORT", "ADB_PATH", "ADB_SERIAL",
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER", "TWILIO_WHATSAPP_FROM",
	"TWILIO_VALIDATE_SIGNATURE", "PUBLIC_BASE_URL",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "AI_MODEL", "AI_TEMPERATURE", "AI_MAX_TOKENS",
	"SESSION_CHECK_INTERVAL", "SESSION_REMINDER_AFTER", "SESSION_EXPIRE_AFTER",
	"SESSION_REMINDER_MESSAGE", "SESSION_EXPIRY_MESSAGE",
	"LOG_LEVEL", "LOG_FORMAT",
}

// Load reads .env (if present) or the given config file, then builds and
// validates Config from the environment via Viper. Env vars override files.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if strings.HasSuffix(configFile, ".env") {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	} else {
		v.SetConfigFile(".env")
		v.SetConfigType("env")
		_ = v.ReadInConfig() // ignore missing .env
	}

	v.AutomaticEnv()
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	v.SetDefault("ORDERPIPE_STATE_DIR", DefaultStateDir)
	v.SetDefault("API_ADDR", ":3000")
	v.SetDefault("WHATSAPP_TRANSPORT", TransportGraph)
	v.SetDefault("GRAPH_API_VERSION", "v22.0")
	v.SetDefault("GRAPH_API_BASE_URL", "https://graph.facebook.com")
	v.SetDefault("SMS_TRANSPORT", TransportADB)
	v.SetDefault("ADB_PATH", "adb")
	v.SetDefault("TWILIO_VALIDATE_SIGNATURE", true)
	v.SetDefault("AI_MODEL", "gpt-4o-mini")
	v.SetDefault("AI_TEMPERATURE", 0.1)
	v.SetDefault("AI_MAX_TOKENS", 1000)
	v.SetDefault("SESSION_CHECK_INTERVAL", "5m")
	v.SetDefault("SESSION_REMINDER_AFTER", "30m")
	v.SetDefault("SESSION_EXPIRE_AFTER", "60m")
	v.SetDefault("SESSION_REMINDER_MESSAGE", DefaultReminderMessage)
	v.SetDefault("SESSION_EXPIRY_MESSAGE", DefaultExpiryMessage)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("LOG_FORMAT", "text")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDerivedDefaults fills DSNs that default to files inside StateDir.
func (c *Config) applyDerivedDefaults() {
	c.WhatsAppTransport = strings.ToLower(strings.TrimSpace(c.WhatsAppTransport))
	c.SMSTransport = strings.ToLower(strings.TrimSpace(c.SMSTransport))
	if c.DatabaseURL == "" {
		c.DatabaseURL = filepath.Join(c.StateDir, "orderpipe.db")
	}
	if c.DirectoryDSN == "" {
		c.DirectoryDSN = filepath.Join(c.StateDir, "directory.db")
	}
	if c.WhatsmeowDSN == "" {
		c.WhatsmeowDSN = "file:" + filepath.Join(c.StateDir, "whatsmeow.db") + "?_foreign_keys=on"
	}
}

// Validate checks cross-field rules.
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return errors.New("config: ORDERPIPE_STATE_DIR must be set")
	}
	if c.APIAddr == "" {
		return errors.New("config: API_ADDR must be set")
	}
	if c.SessionCheckInterval <= 0 {
		return errors.New("config: SESSION_CHECK_INTERVAL must be positive")
	}
	if c.SessionReminderAfter <= 0 {
		return errors.New("config: SESSION_REMINDER_AFTER must be positive")
	}
	if c.SessionReminderAfter >= c.SessionExpireAfter {
		return errors.New("config: SESSION_REMINDER_AFTER must be less than SESSION_EXPIRE_AFTER")
	}

	switch c.WhatsAppTransport {
	case TransportGraph:
		if c.GraphAPIToken == "" || c.WhatsAppPhoneNumberID == "" {
			return errors.New("config: GRAPH_API_TOKEN and WHATSAPP_PHONE_NUMBER_ID must be set for the graph transport")
		}
	case TransportTwilio:
		if err := c.requireTwilio(c.TwilioWhatsAppFrom, "TWILIO_WHATSAPP_FROM"); err != nil {
			return err
		}
	case TransportWhatsmeow, TransportMock:
	default:
		return fmt.Errorf("config: WHATSAPP_TRANSPORT must be one of graph, whatsmeow, twilio, mock (got %q)", c.WhatsAppTransport)
	}

	switch c.SMSTransport {
	case TransportTwilio:
		if err := c.requireTwilio(c.TwilioFromNumber, "TWILIO_FROM_NUMBER"); err != nil {
			return err
		}
	case TransportADB, TransportMock:
	default:
		return fmt.Errorf("config: SMS_TRANSPORT must be one of adb, twilio, mock (got %q)", c.SMSTransport)
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("config: LOG_FORMAT must be text or json (got %q)", c.LogFormat)
	}
	return nil
}

func (c *Config) requireTwilio(from, fromKey string) error {
	if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" {
		return errors.New("config: TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN must be set for the twilio transport")
	}
	if from == "" {
		return fmt.Errorf("config: %s must be set for the twilio transport", fromKey)
	}
	return nil
}

// UsesTwilio reports whether any channel is served by Twilio, which enables
// the Twilio inbound webhook.
func (c *Config) UsesTwilio() bool {
	return c.WhatsAppTransport == TransportTwilio || c.SMSTransport == TransportTwilio
}

// ParseLogLevel maps LOG_LEVEL to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("config: LOG_LEVEL must be debug, info, warn or error (got %q)", s)
	}
}
