package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"callqa-server/pkg/config"
	"callqa-server/pkg/models"
)

// HTTPProvider implements the Provider interface for a generic HTTP
// transcription service: publish the audio, poll the job until it is done,
// then fetch the structured result.
type HTTPProvider struct {
	logger *logrus.Logger
	config *config.HTTPSTTConfig
	client *http.Client
}

// publishResponse is the provider's answer to a transcription submission
type publishResponse struct {
	JobID string `json:"job_id"`
}

// statusResponse is the provider's answer to a job status poll
type statusResponse struct {
	Status string `json:"status"` // queued, processing, done, failed
	Error  string `json:"error,omitempty"`
}

// resultResponse is the provider's completed transcription payload
type resultResponse struct {
	Turns []struct {
		Speaker    string  `json:"speaker"`
		Text       string  `json:"text"`
		Timestamp  float64 `json:"timestamp"`
		Confidence float64 `json:"confidence"`
	} `json:"turns"`
	Duration int `json:"duration"`
}

// NewHTTPProvider creates a new HTTP transcription provider
func NewHTTPProvider(logger *logrus.Logger, cfg *config.HTTPSTTConfig) *HTTPProvider {
	return &HTTPProvider{
		logger: logger,
		config: cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// Name returns the provider name
func (p *HTTPProvider) Name() string {
	return "http"
}

// Initialize validates the provider configuration
func (p *HTTPProvider) Initialize() error {
	if p.config == nil || p.config.Endpoint == "" {
		return fmt.Errorf("HTTP STT endpoint is required")
	}

	p.logger.WithField("endpoint", p.config.Endpoint).Info("HTTP STT provider initialized")
	return nil
}

// Transcribe submits the audio file and polls until the provider finishes
func (p *HTTPProvider) Transcribe(ctx context.Context, audioPath, callID string) (*models.Transcript, error) {
	jobID, err := p.publish(ctx, audioPath, callID)
	if err != nil {
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"job_id":  jobID,
	}).Info("Transcription job submitted, polling for completion")

	if err := p.pollUntilDone(ctx, jobID); err != nil {
		return nil, err
	}

	return p.fetchResult(ctx, jobID, callID)
}

// publish uploads the audio as multipart form data and returns the job id
func (p *HTTPProvider) publish(ctx context.Context, audioPath, callID string) (string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("failed to buffer audio file: %w", err)
	}
	if err := writer.WriteField("call_id", callID); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/transcribe", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription submit failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("transcription submit returned status %d", resp.StatusCode)
	}

	var published publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&published); err != nil {
		return "", fmt.Errorf("failed to decode submit response: %w", err)
	}
	if published.JobID == "" {
		return "", fmt.Errorf("transcription submit returned no job id")
	}

	return published.JobID, nil
}

// pollUntilDone polls job status with backoff until the job reaches a
// terminal state or the elapsed budget runs out
func (p *HTTPProvider) pollUntilDone(ctx context.Context, jobID string) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.config.PollInterval
	expo.MaxInterval = 4 * p.config.PollInterval
	expo.MaxElapsedTime = p.config.MaxElapsed
	policy := backoff.WithContext(expo, ctx)

	return backoff.Retry(func() error {
		status, err := p.jobStatus(ctx, jobID)
		if err != nil {
			return err
		}

		switch status.Status {
		case "done":
			return nil
		case "failed":
			return backoff.Permanent(fmt.Errorf("transcription job failed: %s", status.Error))
		default:
			return fmt.Errorf("job %s still %s", jobID, status.Status)
		}
	}, policy)
}

func (p *HTTPProvider) jobStatus(ctx context.Context, jobID string) (*statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/jobs/%s", p.config.Endpoint, jobID), nil)
	if err != nil {
		return nil, err
	}
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status poll returned %d", resp.StatusCode)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &status, nil
}

func (p *HTTPProvider) fetchResult(ctx context.Context, jobID, callID string) (*models.Transcript, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/jobs/%s/result", p.config.Endpoint, jobID), nil)
	if err != nil {
		return nil, err
	}
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("result fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("result fetch returned %d", resp.StatusCode)
	}

	var result resultResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode result response: %w", err)
	}

	transcript := &models.Transcript{
		CallID:   callID,
		Duration: result.Duration,
		Turns:    make([]models.TranscriptTurn, 0, len(result.Turns)),
	}
	for _, turn := range result.Turns {
		transcript.Turns = append(transcript.Turns, models.TranscriptTurn{
			Speaker:    turn.Speaker,
			Text:       turn.Text,
			Timestamp:  turn.Timestamp,
			Confidence: turn.Confidence,
		})
	}

	return transcript, nil
}

func (p *HTTPProvider) authorize(req *http.Request) {
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}
}
