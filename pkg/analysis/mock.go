package analysis

import (
	"context"

	"github.com/sirupsen/logrus"

	"callqa-server/pkg/models"
)

// MockAnalyzer returns deterministic rubric scores for testing and local
// development
type MockAnalyzer struct {
	logger *logrus.Logger

	// ForcedErr, when set, is returned from every Analyze call
	ForcedErr error
}

// NewMockAnalyzer creates a new mock analyzer
func NewMockAnalyzer(logger *logrus.Logger) *MockAnalyzer {
	return &MockAnalyzer{logger: logger}
}

// Name returns the analyzer name
func (a *MockAnalyzer) Name() string {
	return "mock"
}

// Analyze returns a canned analysis anchored to the transcript's turns
func (a *MockAnalyzer) Analyze(ctx context.Context, callID string, transcript *models.Transcript) (*models.Analysis, error) {
	if a.ForcedErr != nil {
		return nil, a.ForcedErr
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"turns":   len(transcript.Turns),
	}).Info("Mock analyzer scoring transcript")

	analysis := &models.Analysis{
		CallID: callID,
		Dimensions: map[string]float64{
			"rapport":               8,
			"needs_discovery":       7,
			"product_knowledge":     8,
			"objection_handling":    7,
			"closing":               6,
			"professionalism":       9,
			"follow_up":             7,
			"compliance_opening":    9,
			"data_protection":       8,
			"mandatory_disclosures": 7,
		},
		Outcome: map[string]string{"disposition": "resolved"},
	}

	if len(transcript.Turns) > 0 {
		first := transcript.Turns[0]
		analysis.KeyMoments = append(analysis.KeyMoments, models.KeyMoment{
			Timestamp:   first.Timestamp,
			Category:    "opening",
			Description: "agent opened the call with a greeting",
			Quote:       first.Text,
		})
	}

	return analysis, nil
}
