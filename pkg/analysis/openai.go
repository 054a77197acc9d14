package analysis

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"callqa-server/pkg/config"
	"callqa-server/pkg/models"
)

// OpenAIAnalyzer scores transcripts through the OpenAI chat completion API
type OpenAIAnalyzer struct {
	logger *logrus.Logger
	config *config.OpenAIConfig
	client *openai.Client
}

// NewOpenAIAnalyzer creates an OpenAI-backed analyzer
func NewOpenAIAnalyzer(logger *logrus.Logger, cfg *config.OpenAIConfig) (*OpenAIAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	return &OpenAIAnalyzer{
		logger: logger,
		config: cfg,
		client: openai.NewClient(cfg.APIKey),
	}, nil
}

// Name returns the analyzer name
func (a *OpenAIAnalyzer) Name() string {
	return "openai"
}

// Analyze sends the rubric prompt to the model and parses its JSON answer
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, callID string, transcript *models.Transcript) (*models.Analysis, error) {
	prompt := BuildRubricPrompt(transcript)

	a.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"model":   a.config.Model,
		"turns":   len(transcript.Turns),
	}).Info("Requesting rubric analysis")

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.config.Model,
		Temperature: float32(a.config.Temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	analysis, err := ParseRubricResponse(callID, resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"call_id":     callID,
		"dimensions":  len(analysis.Dimensions),
		"key_moments": len(analysis.KeyMoments),
	}).Info("Rubric analysis received")

	return analysis, nil
}
