package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg, err := Load(logger)
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.STT.DefaultVendor)
	assert.Equal(t, "mock", cfg.Analysis.Vendor)
	assert.Equal(t, int64(25*1024*1024), cfg.Audio.SizeCeilingBytes)
	assert.Equal(t, time.Hour, cfg.Upload.FragmentTTL)
	assert.Equal(t, 10*time.Minute, cfg.Upload.SweepInterval)
	assert.False(t, cfg.Messaging.Enabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STT_VENDOR", "http")
	t.Setenv("STT_HTTP_ENDPOINT", "https://stt.example.com")
	t.Setenv("AUDIO_SIZE_CEILING_BYTES", "1048576")
	t.Setenv("UPLOAD_FRAGMENT_TTL", "30m")
	t.Setenv("LOG_LEVEL", "debug")

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg, err := Load(logger)
	require.NoError(t, err)

	assert.Equal(t, "http", cfg.STT.DefaultVendor)
	assert.Equal(t, "https://stt.example.com", cfg.STT.HTTP.Endpoint)
	assert.Equal(t, int64(1048576), cfg.Audio.SizeCeilingBytes)
	assert.Equal(t, 30*time.Minute, cfg.Upload.FragmentTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateRejectsMissingEndpoint(t *testing.T) {
	cfg := &Config{}
	loadUploadConfig(&cfg.Upload)
	loadAudioConfig(&cfg.Audio)
	cfg.STT.DefaultVendor = "http"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STT_HTTP_ENDPOINT")
}

func TestValidateRejectsAMQPWithoutURL(t *testing.T) {
	cfg := &Config{}
	loadUploadConfig(&cfg.Upload)
	loadAudioConfig(&cfg.Audio)
	loadSTTConfig(&cfg.STT)
	cfg.Messaging.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AMQP_URL")
}

func TestValidateRejectsOpenAIWithoutKey(t *testing.T) {
	cfg := &Config{}
	loadUploadConfig(&cfg.Upload)
	loadAudioConfig(&cfg.Audio)
	loadSTTConfig(&cfg.STT)
	cfg.Analysis.Vendor = "openai"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "hello")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_BAD_INT", "nope")

	assert.Equal(t, "hello", getEnv("TEST_STR", "default"))
	assert.Equal(t, "default", getEnv("TEST_MISSING", "default"))
	assert.Equal(t, 42, getEnvInt("TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("TEST_BAD_INT", 7))
	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", 0))
}
