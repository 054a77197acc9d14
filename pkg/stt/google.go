package stt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"callqa-server/pkg/config"
	"callqa-server/pkg/models"
)

// GoogleProvider implements the Provider interface for Google Speech-to-Text
// in batch mode
type GoogleProvider struct {
	logger *logrus.Logger
	client *speech.Client
	config *config.GoogleSTTConfig
}

// NewGoogleProvider creates a new Google Speech-to-Text provider
func NewGoogleProvider(logger *logrus.Logger, cfg *config.GoogleSTTConfig) *GoogleProvider {
	return &GoogleProvider{
		logger: logger,
		config: cfg,
	}
}

// Name returns the provider name
func (p *GoogleProvider) Name() string {
	return "google"
}

// Initialize initializes the Google Speech-to-Text client
func (p *GoogleProvider) Initialize() error {
	if p.config == nil {
		return fmt.Errorf("Google STT configuration is required")
	}

	if !p.config.Enabled {
		p.logger.Info("Google STT is disabled, skipping initialization")
		return nil
	}

	var clientOptions []option.ClientOption
	if p.config.CredentialsFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(p.config.CredentialsFile))
		p.logger.WithField("credentials_file", p.config.CredentialsFile).Debug("Using Google STT credentials file")
	}

	var err error
	p.client, err = speech.NewClient(context.Background(), clientOptions...)
	if err != nil {
		p.logger.WithError(err).Error("Failed to create Google Speech client")
		return fmt.Errorf("failed to create Google Speech client: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"language":    p.config.Language,
		"sample_rate": p.config.SampleRate,
		"model":       p.config.Model,
	}).Info("Google Speech-to-Text client initialized successfully")
	return nil
}

// Transcribe runs a long-running recognition over the complete audio file
// and folds the results into an ordered transcript
func (p *GoogleProvider) Transcribe(ctx context.Context, audioPath, callID string) (*models.Transcript, error) {
	if p.client == nil {
		return nil, ErrInitializationFailed
	}

	content, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}

	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:                   encodingFor(audioPath),
		SampleRateHertz:            int32(p.config.SampleRate),
		LanguageCode:               p.config.Language,
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
		DiarizationConfig: &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          2,
			MaxSpeakerCount:          2,
		},
	}
	if p.config.Model != "" {
		recognitionConfig.Model = p.config.Model
	}

	op, err := p.client.LongRunningRecognize(ctx, &speechpb.LongRunningRecognizeRequest{
		Config: recognitionConfig,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: content},
		},
	})
	if err != nil {
		p.logger.WithError(err).WithField("call_id", callID).Error("Failed to start Google recognition")
		return nil, err
	}

	resp, err := op.Wait(ctx)
	if err != nil {
		p.logger.WithError(err).WithField("call_id", callID).Error("Google recognition failed")
		return nil, err
	}

	transcript := &models.Transcript{CallID: callID}
	var lastEnd float64

	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		alt := result.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			continue
		}

		start := lastEnd
		if len(alt.Words) > 0 && alt.Words[0].StartTime != nil {
			start = alt.Words[0].StartTime.AsDuration().Seconds()
		}
		if result.ResultEndTime != nil {
			lastEnd = result.ResultEndTime.AsDuration().Seconds()
		}

		transcript.Turns = append(transcript.Turns, models.TranscriptTurn{
			Speaker:    speakerFor(alt),
			Text:       text,
			Timestamp:  start,
			Confidence: float64(alt.Confidence),
		})
	}

	if lastEnd > 0 {
		transcript.Duration = int(lastEnd + 0.5)
	}

	p.logger.WithFields(logrus.Fields{
		"call_id":  callID,
		"turns":    len(transcript.Turns),
		"duration": transcript.Duration,
	}).Info("Google recognition complete")

	return transcript, nil
}

// speakerFor maps a diarization speaker tag onto a stable label
func speakerFor(alt *speechpb.SpeechRecognitionAlternative) string {
	if len(alt.Words) > 0 && alt.Words[0].SpeakerTag > 0 {
		return fmt.Sprintf("speaker_%d", alt.Words[0].SpeakerTag)
	}
	return "speaker_1"
}

func encodingFor(audioPath string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(filepath.Ext(audioPath)) {
	case ".mp3":
		return speechpb.RecognitionConfig_MP3
	case ".flac":
		return speechpb.RecognitionConfig_FLAC
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
