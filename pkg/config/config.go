package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"callqa-server/pkg/errors"
)

// Config represents the complete application configuration
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Server    ServerConfig    `json:"server"`
	Upload    UploadConfig    `json:"upload"`
	Audio     AudioConfig     `json:"audio"`
	STT       STTConfig       `json:"stt"`
	Analysis  AnalysisConfig  `json:"analysis"`
	Messaging MessagingConfig `json:"messaging"`
	Database  DatabaseConfig  `json:"database"`
	Repair    RepairConfig    `json:"repair"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"LOG_FORMAT" default:"text"` // text or json
	Output string `json:"output" env:"LOG_OUTPUT" default:"stdout"`
}

// ServerConfig holds the HTTP API server configuration
type ServerConfig struct {
	Port            int           `json:"port" env:"HTTP_PORT" default:"8080"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"1m"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"1m"`
	MaxUploadBytes  int64         `json:"max_upload_bytes" env:"HTTP_MAX_UPLOAD_BYTES" default:"33554432"` // 32 MB per chunk
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	ExportDir       string        `json:"export_dir" env:"EXPORT_DIR" default:"./exports"`
}

// UploadConfig holds chunked upload and scratch storage configuration
type UploadConfig struct {
	ScratchDir    string        `json:"scratch_dir" env:"UPLOAD_SCRATCH_DIR" default:"./uploads/chunks"`
	RecordingDir  string        `json:"recording_dir" env:"RECORDING_DIR" default:"./uploads/recordings"`
	FragmentTTL   time.Duration `json:"fragment_ttl" env:"UPLOAD_FRAGMENT_TTL" default:"1h"`
	SweepInterval time.Duration `json:"sweep_interval" env:"UPLOAD_SWEEP_INTERVAL" default:"10m"`
}

// AudioConfig holds compression gate configuration
type AudioConfig struct {
	FFmpegPath       string `json:"ffmpeg_path" env:"FFMPEG_PATH" default:"ffmpeg"`
	SizeCeilingBytes int64  `json:"size_ceiling_bytes" env:"AUDIO_SIZE_CEILING_BYTES" default:"26214400"` // 25 MB
	CompressBitrate  int    `json:"compress_bitrate" env:"AUDIO_COMPRESS_BITRATE" default:"64"`           // kbps
}

// STTConfig holds speech-to-text provider configuration
type STTConfig struct {
	DefaultVendor string        `json:"default_vendor" env:"STT_VENDOR" default:"mock"`
	Timeout       time.Duration `json:"timeout" env:"STT_TIMEOUT" default:"10m"`

	HTTP   HTTPSTTConfig   `json:"http"`
	Google GoogleSTTConfig `json:"google"`
}

// HTTPSTTConfig holds configuration for the generic HTTP transcription provider
type HTTPSTTConfig struct {
	Endpoint     string        `json:"endpoint" env:"STT_HTTP_ENDPOINT"`
	APIKey       string        `json:"-" env:"STT_HTTP_API_KEY"`
	PollInterval time.Duration `json:"poll_interval" env:"STT_HTTP_POLL_INTERVAL" default:"5s"`
	MaxElapsed   time.Duration `json:"max_elapsed" env:"STT_HTTP_MAX_ELAPSED" default:"10m"`
}

// GoogleSTTConfig holds configuration for Google Speech-to-Text
type GoogleSTTConfig struct {
	Enabled         bool   `json:"enabled" env:"GOOGLE_STT_ENABLED" default:"false"`
	CredentialsFile string `json:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	Language        string `json:"language" env:"GOOGLE_STT_LANGUAGE" default:"en-US"`
	SampleRate      int    `json:"sample_rate" env:"GOOGLE_STT_SAMPLE_RATE" default:"8000"`
	Model           string `json:"model" env:"GOOGLE_STT_MODEL" default:"phone_call"`
}

// AnalysisConfig holds rubric analysis engine configuration
type AnalysisConfig struct {
	Vendor  string        `json:"vendor" env:"ANALYSIS_VENDOR" default:"mock"`
	Timeout time.Duration `json:"timeout" env:"ANALYSIS_TIMEOUT" default:"5m"`

	OpenAI OpenAIConfig `json:"openai"`
}

// OpenAIConfig holds OpenAI analysis configuration. The API key is supplied
// only through the environment, never embedded.
type OpenAIConfig struct {
	APIKey      string  `json:"-" env:"OPENAI_API_KEY"`
	Model       string  `json:"model" env:"OPENAI_MODEL" default:"gpt-4o"`
	Temperature float64 `json:"temperature" env:"OPENAI_TEMPERATURE" default:"0.2"`
}

// MessagingConfig holds AMQP analysis queue configuration
type MessagingConfig struct {
	Enabled        bool          `json:"enabled" env:"AMQP_ENABLED" default:"false"`
	URL            string        `json:"-" env:"AMQP_URL"`
	QueueName      string        `json:"queue_name" env:"AMQP_QUEUE_NAME" default:"callqa.analysis"`
	OutboxSweep    time.Duration `json:"outbox_sweep" env:"OUTBOX_SWEEP_INTERVAL" default:"1m"`
	OutboxStaleAge time.Duration `json:"outbox_stale_age" env:"OUTBOX_STALE_AGE" default:"5m"`
}

// DatabaseConfig holds durable store configuration
type DatabaseConfig struct {
	Path         string        `json:"path" env:"DATABASE_PATH" default:"./data/callqa.db"`
	QueryTimeout time.Duration `json:"query_timeout" env:"DATABASE_QUERY_TIMEOUT" default:"10s"`
}

// RepairConfig holds consistency repair configuration
type RepairConfig struct {
	RunOnStart bool          `json:"run_on_start" env:"REPAIR_RUN_ON_START" default:"false"`
	Interval   time.Duration `json:"interval" env:"REPAIR_INTERVAL" default:"0"` // 0 disables the scheduler
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `json:"enabled" env:"METRICS_ENABLED" default:"true"`
	Port    int  `json:"port" env:"METRICS_PORT" default:"9090"`
}

// Load reads the complete configuration from the environment, attempting to
// load a .env file first
func Load(logger *logrus.Logger) (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	// Try loading .env from the usual locations
	possibleEnvFiles := []string{
		".env",
		"../.env",
		filepath.Join(wd, ".env"),
	}

	var loadedFrom string
	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr == nil {
			if loadErr := godotenv.Load(envFile); loadErr == nil {
				loadedFrom, _ = filepath.Abs(envFile)
				break
			}
		}
	}

	if loadedFrom != "" {
		logger.WithFields(logrus.Fields{
			"working_dir": wd,
			"path":        loadedFrom,
		}).Info("Successfully loaded .env file")
	} else {
		logger.WithField("working_dir", wd).Warn("No .env file found, using environment variables only")
	}

	config := &Config{}

	loadLoggingConfig(&config.Logging)
	loadServerConfig(&config.Server)
	loadUploadConfig(&config.Upload)
	loadAudioConfig(&config.Audio)
	loadSTTConfig(&config.STT)
	loadAnalysisConfig(&config.Analysis)
	loadMessagingConfig(&config.Messaging)
	loadDatabaseConfig(&config.Database)
	loadRepairConfig(&config.Repair)
	loadMetricsConfig(&config.Metrics)

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	logger.WithFields(logrus.Fields{
		"stt_vendor":      config.STT.DefaultVendor,
		"analysis_vendor": config.Analysis.Vendor,
		"amqp_enabled":    config.Messaging.Enabled,
		"database_path":   config.Database.Path,
		"size_ceiling":    config.Audio.SizeCeilingBytes,
	}).Info("Configuration loaded")

	return config, nil
}

func loadLoggingConfig(cfg *LoggingConfig) {
	cfg.Level = getEnv("LOG_LEVEL", "info")
	cfg.Format = getEnv("LOG_FORMAT", "text")
	cfg.Output = getEnv("LOG_OUTPUT", "stdout")
}

func loadServerConfig(cfg *ServerConfig) {
	cfg.Port = getEnvInt("HTTP_PORT", 8080)
	cfg.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", time.Minute)
	cfg.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", time.Minute)
	cfg.MaxUploadBytes = getEnvInt64("HTTP_MAX_UPLOAD_BYTES", 32*1024*1024)
	cfg.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.ExportDir = getEnv("EXPORT_DIR", "./exports")
}

func loadUploadConfig(cfg *UploadConfig) {
	cfg.ScratchDir = getEnv("UPLOAD_SCRATCH_DIR", "./uploads/chunks")
	cfg.RecordingDir = getEnv("RECORDING_DIR", "./uploads/recordings")
	cfg.FragmentTTL = getEnvDuration("UPLOAD_FRAGMENT_TTL", time.Hour)
	cfg.SweepInterval = getEnvDuration("UPLOAD_SWEEP_INTERVAL", 10*time.Minute)
}

func loadAudioConfig(cfg *AudioConfig) {
	cfg.FFmpegPath = getEnv("FFMPEG_PATH", "ffmpeg")
	cfg.SizeCeilingBytes = getEnvInt64("AUDIO_SIZE_CEILING_BYTES", 25*1024*1024)
	cfg.CompressBitrate = getEnvInt("AUDIO_COMPRESS_BITRATE", 64)
}

func loadSTTConfig(cfg *STTConfig) {
	cfg.DefaultVendor = getEnv("STT_VENDOR", "mock")
	cfg.Timeout = getEnvDuration("STT_TIMEOUT", 10*time.Minute)

	cfg.HTTP.Endpoint = getEnv("STT_HTTP_ENDPOINT", "")
	cfg.HTTP.APIKey = getEnv("STT_HTTP_API_KEY", "")
	cfg.HTTP.PollInterval = getEnvDuration("STT_HTTP_POLL_INTERVAL", 5*time.Second)
	cfg.HTTP.MaxElapsed = getEnvDuration("STT_HTTP_MAX_ELAPSED", 10*time.Minute)

	cfg.Google.Enabled = getEnvBool("GOOGLE_STT_ENABLED", false)
	cfg.Google.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")
	cfg.Google.Language = getEnv("GOOGLE_STT_LANGUAGE", "en-US")
	cfg.Google.SampleRate = getEnvInt("GOOGLE_STT_SAMPLE_RATE", 8000)
	cfg.Google.Model = getEnv("GOOGLE_STT_MODEL", "phone_call")
}

func loadAnalysisConfig(cfg *AnalysisConfig) {
	cfg.Vendor = getEnv("ANALYSIS_VENDOR", "mock")
	cfg.Timeout = getEnvDuration("ANALYSIS_TIMEOUT", 5*time.Minute)

	cfg.OpenAI.APIKey = getEnv("OPENAI_API_KEY", "")
	cfg.OpenAI.Model = getEnv("OPENAI_MODEL", "gpt-4o")
	cfg.OpenAI.Temperature = getEnvFloat("OPENAI_TEMPERATURE", 0.2)
}

func loadMessagingConfig(cfg *MessagingConfig) {
	cfg.Enabled = getEnvBool("AMQP_ENABLED", false)
	cfg.URL = getEnv("AMQP_URL", "")
	cfg.QueueName = getEnv("AMQP_QUEUE_NAME", "callqa.analysis")
	cfg.OutboxSweep = getEnvDuration("OUTBOX_SWEEP_INTERVAL", time.Minute)
	cfg.OutboxStaleAge = getEnvDuration("OUTBOX_STALE_AGE", 5*time.Minute)
}

func loadDatabaseConfig(cfg *DatabaseConfig) {
	cfg.Path = getEnv("DATABASE_PATH", "./data/callqa.db")
	cfg.QueryTimeout = getEnvDuration("DATABASE_QUERY_TIMEOUT", 10*time.Second)
}

func loadRepairConfig(cfg *RepairConfig) {
	cfg.RunOnStart = getEnvBool("REPAIR_RUN_ON_START", false)
	cfg.Interval = getEnvDuration("REPAIR_INTERVAL", 0)
}

func loadMetricsConfig(cfg *MetricsConfig) {
	cfg.Enabled = getEnvBool("METRICS_ENABLED", true)
	cfg.Port = getEnvInt("METRICS_PORT", 9090)
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	if c.Audio.SizeCeilingBytes <= 0 {
		return fmt.Errorf("audio size ceiling must be positive, got %d", c.Audio.SizeCeilingBytes)
	}

	if c.Upload.FragmentTTL <= 0 {
		return fmt.Errorf("upload fragment TTL must be positive, got %s", c.Upload.FragmentTTL)
	}

	if c.STT.DefaultVendor == "http" && c.STT.HTTP.Endpoint == "" {
		return fmt.Errorf("STT_HTTP_ENDPOINT is required when STT_VENDOR is http")
	}

	if c.STT.DefaultVendor == "google" && !c.STT.Google.Enabled {
		return fmt.Errorf("GOOGLE_STT_ENABLED must be true when STT_VENDOR is google")
	}

	if c.Analysis.Vendor == "openai" && c.Analysis.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when ANALYSIS_VENDOR is openai")
	}

	if c.Messaging.Enabled && c.Messaging.URL == "" {
		return fmt.Errorf("AMQP_URL is required when AMQP is enabled")
	}

	return nil
}

// Environment variable helpers

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// SetupLogger configures a logrus logger from the logging configuration
func SetupLogger(logger *logrus.Logger, cfg *LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(os.Stdout)
	}
}
