// Package analysis scores call transcripts against the quality and
// compliance rubrics using an opaque language-model backend.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"callqa-server/pkg/models"
	"callqa-server/pkg/scoring"
)

// Analyzer scores a transcript against the rubric
type Analyzer interface {
	// Name returns the analyzer name
	Name() string

	// Analyze produces raw rubric dimensions and key moments for a call.
	// Derived scores are computed by the caller, not the analyzer.
	Analyze(ctx context.Context, callID string, transcript *models.Transcript) (*models.Analysis, error)
}

// rubricResponse is the strict JSON contract the model must answer with
type rubricResponse struct {
	Dimensions map[string]float64 `json:"dimensions"`
	KeyMoments []struct {
		Timestamp   float64 `json:"timestamp"`
		Category    string  `json:"category"`
		Description string  `json:"description"`
		Quote       string  `json:"quote"`
	} `json:"key_moments"`
	Outcome map[string]string `json:"outcome,omitempty"`
}

// ParseRubricResponse decodes a model response into an Analysis, tolerating
// markdown code fences around the JSON. Dimensions are clamped into [0,10].
func ParseRubricResponse(callID, raw string) (*models.Analysis, error) {
	cleaned := stripCodeFence(raw)

	var parsed rubricResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("rubric response is not valid JSON: %w", err)
	}

	if len(parsed.Dimensions) == 0 {
		return nil, fmt.Errorf("rubric response contains no dimensions")
	}

	scoring.Clamp(parsed.Dimensions)

	analysis := &models.Analysis{
		CallID:     callID,
		Dimensions: parsed.Dimensions,
		Outcome:    parsed.Outcome,
	}
	for _, moment := range parsed.KeyMoments {
		analysis.KeyMoments = append(analysis.KeyMoments, models.KeyMoment{
			Timestamp:   moment.Timestamp,
			Category:    moment.Category,
			Description: moment.Description,
			Quote:       moment.Quote,
		})
	}

	return analysis, nil
}

// BuildRubricPrompt renders the transcript and rubric instructions into the
// scoring prompt
func BuildRubricPrompt(transcript *models.Transcript) string {
	var sb strings.Builder

	sb.WriteString("You are a call quality assessor. Score the following phone call transcript.\n\n")
	sb.WriteString("Score each dimension from 0 to 10. Soft-skill dimensions: ")
	sb.WriteString(strings.Join(scoring.QADimensions, ", "))
	sb.WriteString(".\nCompliance dimensions (omit any that did not apply to this call): ")
	sb.WriteString(strings.Join(scoring.ComplianceDimensions, ", "))
	sb.WriteString(".\n\nCite key moments as evidence: for each, give the timestamp in seconds, ")
	sb.WriteString("a category, a one-line description and the exact quote from the transcript.\n\n")
	sb.WriteString("Answer with JSON only, in the shape ")
	sb.WriteString(`{"dimensions": {...}, "key_moments": [{"timestamp": 0, "category": "", "description": "", "quote": ""}], "outcome": {}}`)
	sb.WriteString("\n\nTranscript:\n")

	for _, turn := range transcript.Turns {
		sb.WriteString(fmt.Sprintf("[%.1fs] %s: %s\n", turn.Timestamp, turn.Speaker, turn.Text))
	}

	return sb.String()
}

// stripCodeFence removes a surrounding markdown code fence if present
func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
