package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"callqa-server/pkg/models"
)

func fullQADimensions() map[string]float64 {
	return map[string]float64{
		"rapport":            8,
		"needs_discovery":    7,
		"product_knowledge":  9,
		"objection_handling": 0,
		"closing":            6,
		"professionalism":    8,
		"follow_up":          7,
	}
}

func TestQAScoreFullRubric(t *testing.T) {
	// (8+7+9+0+6+8+7)/7 = 6.43
	assert.Equal(t, 6.43, QAScore(fullQADimensions()))
}

func TestQAScorePartialRubric(t *testing.T) {
	dims := map[string]float64{
		"rapport": 8,
		"closing": 6,
	}
	// Averages only what exists, never imputes
	assert.Equal(t, 7.0, QAScore(dims))
}

func TestQAScoreEmpty(t *testing.T) {
	assert.Equal(t, 0.0, QAScore(map[string]float64{}))
}

func TestComplianceScoreAbsent(t *testing.T) {
	assert.Equal(t, 0.0, ComplianceScore(fullQADimensions()))
}

func TestComplianceScoreOptionalDimensions(t *testing.T) {
	dims := map[string]float64{
		"compliance_opening":        9,
		"data_protection":           8,
		"mandatory_disclosures":     7,
		"treating_customers_fairly": 8,
	}
	assert.Equal(t, 8.0, ComplianceScore(dims))

	// Optional dimensions included only when present
	dims["sales_process"] = 10
	dims["complaints_handling"] = 6
	assert.Equal(t, 8.0, ComplianceScore(dims))
}

func TestOverallScoreWeighting(t *testing.T) {
	assert.Equal(t, 7.3, OverallScore(7.0, 8.0)) // 0.7*7 + 0.3*8
}

func TestOverallScoreFallsBackToQA(t *testing.T) {
	// Compliance absence must not zero out the overall score
	assert.Equal(t, 6.43, OverallScore(6.43, 0))
}

func TestComputeReferenceExample(t *testing.T) {
	scores := Compute(fullQADimensions())

	assert.Equal(t, 6.43, scores.QAScore)
	assert.Equal(t, 0.0, scores.ComplianceScore)
	assert.Equal(t, 6.43, scores.OverallScore)
}

func TestClamp(t *testing.T) {
	dims := map[string]float64{
		"rapport":   12,
		"closing":   -3,
		"follow_up": 5,
	}
	Clamp(dims)

	assert.Equal(t, 10.0, dims["rapport"])
	assert.Equal(t, 0.0, dims["closing"])
	assert.Equal(t, 5.0, dims["follow_up"])
}

func TestNeedsObjectionRepair(t *testing.T) {
	analysis := &models.Analysis{Dimensions: fullQADimensions()}
	assert.True(t, NeedsObjectionRepair(analysis))
}

func TestNeedsObjectionRepairWithEvidence(t *testing.T) {
	analysis := &models.Analysis{
		Dimensions: fullQADimensions(),
		KeyMoments: []models.KeyMoment{
			{Timestamp: 42, Category: "Objection Handling", Quote: "that's too expensive"},
		},
	}
	// Zero backed by objection evidence is presumed genuine
	assert.False(t, NeedsObjectionRepair(analysis))
}

func TestNeedsObjectionRepairDescriptionMatch(t *testing.T) {
	analysis := &models.Analysis{
		Dimensions: fullQADimensions(),
		KeyMoments: []models.KeyMoment{
			{Timestamp: 42, Category: "pricing", Description: "customer raised an objection about fees"},
		},
	}
	assert.False(t, NeedsObjectionRepair(analysis))
}

func TestNeedsObjectionRepairNonZero(t *testing.T) {
	dims := fullQADimensions()
	dims["objection_handling"] = 4
	analysis := &models.Analysis{Dimensions: dims}
	assert.False(t, NeedsObjectionRepair(analysis))
}

func TestNeedsObjectionRepairDimensionAbsent(t *testing.T) {
	analysis := &models.Analysis{Dimensions: map[string]float64{"rapport": 8}}
	assert.False(t, NeedsObjectionRepair(analysis))
}

func TestApplyObjectionRepair(t *testing.T) {
	analysis := &models.Analysis{Dimensions: fullQADimensions()}

	changed := ApplyObjectionRepair(analysis)
	assert.True(t, changed)

	assert.Equal(t, 8.0, analysis.Dimensions["objection_handling"])
	// (8+7+9+8+6+8+7)/7 = 7.57
	assert.Equal(t, 7.57, analysis.QAScore)
	assert.Equal(t, 0.0, analysis.ComplianceScore)
	assert.Equal(t, 7.57, analysis.OverallScore)
}

func TestApplyObjectionRepairIdempotent(t *testing.T) {
	analysis := &models.Analysis{Dimensions: fullQADimensions()}

	assert.True(t, ApplyObjectionRepair(analysis))
	first := *analysis

	// Second run finds the dimension already non-zero and skips
	assert.False(t, ApplyObjectionRepair(analysis))
	assert.Equal(t, first.Dimensions["objection_handling"], analysis.Dimensions["objection_handling"])
	assert.Equal(t, first.QAScore, analysis.QAScore)
	assert.Equal(t, first.OverallScore, analysis.OverallScore)
}
