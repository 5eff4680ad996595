package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEnv sets a minimal valid environment with both channels on mock transports.
func mockEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("WHATSAPP_TRANSPORT", "mock")
	t.Setenv("SMS_TRANSPORT", "mock")
	t.Setenv("ORDERPIPE_STATE_DIR", t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	mockEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.APIAddr)
	assert.Equal(t, "v22.0", cfg.GraphAPIVersion)
	assert.Equal(t, "https://graph.facebook.com", cfg.GraphAPIBaseURL)
	assert.Equal(t, "adb", cfg.ADBPath)
	assert.True(t, cfg.TwilioValidateSignature)
	assert.Equal(t, "gpt-4o-mini", cfg.AIModel)
	assert.InDelta(t, 0.1, cfg.AITemperature, 1e-9)
	assert.Equal(t, int64(1000), cfg.AIMaxTokens)
	assert.Equal(t, 5*time.Minute, cfg.SessionCheckInterval)
	assert.Equal(t, 30*time.Minute, cfg.SessionReminderAfter)
	assert.Equal(t, 60*time.Minute, cfg.SessionExpireAfter)
	assert.Equal(t, DefaultReminderMessage, cfg.ReminderMessage)
	assert.Equal(t, DefaultExpiryMessage, cfg.ExpiryMessage)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)

	assert.Equal(t, filepath.Join(cfg.StateDir, "orderpipe.db"), cfg.DatabaseURL)
	assert.Equal(t, filepath.Join(cfg.StateDir, "directory.db"), cfg.DirectoryDSN)
	assert.Contains(t, cfg.WhatsmeowDSN, "_foreign_keys=on")
	assert.False(t, cfg.UsesTwilio())
}

func TestLoad_EnvVarOverride(t *testing.T) {
	mockEnv(t)
	t.Setenv("API_ADDR", ":9090")
	t.Setenv("SESSION_CHECK_INTERVAL", "1m")
	t.Setenv("SESSION_REMINDER_AFTER", "10m")
	t.Setenv("SESSION_EXPIRE_AFTER", "20m")
	t.Setenv("AI_MODEL", "gpt-4o")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/orders")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.APIAddr)
	assert.Equal(t, time.Minute, cfg.SessionCheckInterval)
	assert.Equal(t, 10*time.Minute, cfg.SessionReminderAfter)
	assert.Equal(t, 20*time.Minute, cfg.SessionExpireAfter)
	assert.Equal(t, "gpt-4o", cfg.AIModel)
	assert.Equal(t, "postgres://u:p@localhost/orders", cfg.DatabaseURL)
}

func TestLoad_YAMLFile(t *testing.T) {
	mockEnv(t)
	path := filepath.Join(t.TempDir(), "orderpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("API_ADDR: \":8081\"\nAI_MODEL: gpt-4.1-mini\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.APIAddr)
	assert.Equal(t, "gpt-4.1-mini", cfg.AIModel)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	mockEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"reminder not before expiry", map[string]string{"SESSION_REMINDER_AFTER": "60m", "SESSION_EXPIRE_AFTER": "60m"}},
		{"zero interval", map[string]string{"SESSION_CHECK_INTERVAL": "0s"}},
		{"unknown whatsapp transport", map[string]string{"WHATSAPP_TRANSPORT": "carrier-pigeon"}},
		{"unknown sms transport", map[string]string{"SMS_TRANSPORT": "graph"}},
		{"graph without token", map[string]string{"WHATSAPP_TRANSPORT": "graph", "WHATSAPP_PHONE_NUMBER_ID": "1"}},
		{"twilio without credentials", map[string]string{"SMS_TRANSPORT": "twilio", "TWILIO_FROM_NUMBER": "+1"}},
		{"twilio without from", map[string]string{"SMS_TRANSPORT": "twilio", "TWILIO_ACCOUNT_SID": "AC", "TWILIO_AUTH_TOKEN": "t"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "verbose"}},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_TwilioTransport(t *testing.T) {
	mockEnv(t)
	t.Setenv("WHATSAPP_TRANSPORT", "Twilio")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("TWILIO_WHATSAPP_FROM", "+14155238886")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, TransportTwilio, cfg.WhatsAppTransport)
	assert.True(t, cfg.UsesTwilio())
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelDebug,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLogLevel("trace")
	assert.Error(t, err)
}
