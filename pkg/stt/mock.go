package stt

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"callqa-server/pkg/models"
)

// MockProvider implements a deterministic speech-to-text provider for
// testing and local development
type MockProvider struct {
	logger *logrus.Logger

	// ForcedErr, when set, is returned from every Transcribe call
	ForcedErr error
}

// NewMockProvider creates a new mock provider
func NewMockProvider(logger *logrus.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Name returns the provider name
func (p *MockProvider) Name() string {
	return "mock"
}

// Initialize initializes the mock provider
func (p *MockProvider) Initialize() error {
	p.logger.Info("Mock STT provider initialized")
	return nil
}

// Transcribe returns a canned sales-call transcript. The audio file must
// exist so the mock behaves like a provider that actually reads its input.
func (p *MockProvider) Transcribe(ctx context.Context, audioPath, callID string) (*models.Transcript, error) {
	if p.ForcedErr != nil {
		return nil, p.ForcedErr
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(audioPath); err != nil {
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"path":    audioPath,
	}).Info("Mock STT provider transcribing audio file")

	turns := []models.TranscriptTurn{
		{Speaker: "agent", Text: "Good morning, thank you for calling, how can I help you today?", Timestamp: 0.5, Confidence: 0.97},
		{Speaker: "customer", Text: "Hi, I wanted to ask about the renewal quote you sent me.", Timestamp: 6.2, Confidence: 0.95},
		{Speaker: "agent", Text: "Of course, let me confirm your policy number before we continue.", Timestamp: 12.8, Confidence: 0.96},
		{Speaker: "customer", Text: "It went up quite a bit and honestly that seems too expensive.", Timestamp: 21.4, Confidence: 0.93},
		{Speaker: "agent", Text: "I understand the concern, let me walk you through what changed and the options we have.", Timestamp: 29.0, Confidence: 0.95},
		{Speaker: "customer", Text: "Alright, that sounds reasonable, go ahead.", Timestamp: 38.6, Confidence: 0.94},
		{Speaker: "agent", Text: "Before we finish, is there anything else I can help you with today?", Timestamp: 47.3, Confidence: 0.97},
	}

	return &models.Transcript{
		CallID:   callID,
		Turns:    turns,
		Duration: 53,
	}, nil
}
