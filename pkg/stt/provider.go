package stt

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"callqa-server/pkg/models"
)

// Error definitions
var (
	ErrNoProviderAvailable  = errors.New("no speech-to-text provider available")
	ErrProviderNotFound     = errors.New("requested speech-to-text provider not found")
	ErrInitializationFailed = errors.New("provider initialization failed")
)

// Provider defines the interface for batch speech-to-text providers
type Provider interface {
	// Initialize initializes the provider with any required configuration
	Initialize() error

	// Name returns the provider name
	Name() string

	// Transcribe converts a complete audio file to a structured transcript.
	// The caller's context deadline bounds the whole operation.
	Transcribe(ctx context.Context, audioPath, callID string) (*models.Transcript, error)
}

// ProviderManager manages all speech-to-text providers
type ProviderManager struct {
	logger          *logrus.Logger
	providers       map[string]Provider
	defaultProvider string
}

// NewProviderManager creates a new provider manager
func NewProviderManager(logger *logrus.Logger, defaultProvider string) *ProviderManager {
	return &ProviderManager{
		logger:          logger,
		providers:       make(map[string]Provider),
		defaultProvider: defaultProvider,
	}
}

// RegisterProvider registers a speech-to-text provider
func (m *ProviderManager) RegisterProvider(provider Provider) error {
	if err := provider.Initialize(); err != nil {
		m.logger.WithFields(logrus.Fields{
			"provider": provider.Name(),
			"error":    err,
		}).Error("Failed to initialize speech-to-text provider")
		return err
	}

	m.providers[provider.Name()] = provider
	m.logger.WithField("provider", provider.Name()).Info("Registered speech-to-text provider")

	return nil
}

// GetProvider returns a provider by name
func (m *ProviderManager) GetProvider(name string) (Provider, bool) {
	provider, exists := m.providers[name]
	return provider, exists
}

// GetDefaultProvider returns the default provider
func (m *ProviderManager) GetDefaultProvider() (Provider, bool) {
	return m.GetProvider(m.defaultProvider)
}

// Transcribe runs a transcription through the named provider, falling back to
// the default when the name is unknown
func (m *ProviderManager) Transcribe(ctx context.Context, providerName, audioPath, callID string) (*models.Transcript, error) {
	startTime := time.Now()

	m.logger.WithFields(logrus.Fields{
		"call_id":  callID,
		"provider": providerName,
		"path":     audioPath,
	}).Info("Starting transcription")

	provider, exists := m.GetProvider(providerName)
	if !exists {
		m.logger.WithFields(logrus.Fields{
			"call_id":          callID,
			"provider":         providerName,
			"default_provider": m.defaultProvider,
		}).Warn("Provider not found, falling back to default")

		provider, exists = m.GetDefaultProvider()
		if !exists {
			return nil, ErrNoProviderAvailable
		}
	}

	transcript, err := provider.Transcribe(ctx, audioPath, callID)

	elapsed := time.Since(startTime)
	m.logger.WithFields(logrus.Fields{
		"call_id":     callID,
		"provider":    provider.Name(),
		"duration_ms": elapsed.Milliseconds(),
		"error":       err != nil,
	}).Info("Transcription completed")

	if err != nil {
		return nil, err
	}

	transcript.Provider = provider.Name()
	transcript.ProcessingTime = elapsed.Seconds()
	return transcript, nil
}
