// Package scoring computes the derived quality and compliance scores from
// raw rubric dimensions, and hosts the objection-handling repair rule used
// by the consistency sweep.
package scoring

import (
	"math"
	"strings"

	"callqa-server/pkg/models"
)

// Soft-skill dimensions contributing to the QA score
var QADimensions = []string{
	"rapport",
	"needs_discovery",
	"product_knowledge",
	"objection_handling",
	"closing",
	"professionalism",
	"follow_up",
}

// Regulatory dimensions contributing to the compliance score. The last two
// are optional and scored only when the call presented an opportunity.
var ComplianceDimensions = []string{
	"compliance_opening",
	"data_protection",
	"mandatory_disclosures",
	"treating_customers_fairly",
	"sales_process",
	"complaints_handling",
}

// ObjectionHandlingDimension is the dimension targeted by the repair rule
const ObjectionHandlingDimension = "objection_handling"

// neutralObjectionScore replaces a zero objection-handling score when the
// analysis cites no objection evidence
const neutralObjectionScore = 8

// QAScore returns the arithmetic mean of the soft-skill dimensions that are
// present, rounded to two decimals. Missing dimensions are never imputed.
func QAScore(dimensions map[string]float64) float64 {
	return meanOf(dimensions, QADimensions)
}

// ComplianceScore returns the arithmetic mean of the regulatory dimensions
// that are present, rounded to two decimals, or 0 when none are present.
func ComplianceScore(dimensions map[string]float64) float64 {
	return meanOf(dimensions, ComplianceDimensions)
}

// OverallScore weights QA at 70% and compliance at 30%. A call with no
// compliance dimensions falls back to the QA score alone so an absent
// compliance rubric never drags the overall score to zero.
func OverallScore(qaScore, complianceScore float64) float64 {
	if complianceScore > 0 {
		return round2(0.7*qaScore + 0.3*complianceScore)
	}
	return qaScore
}

// Compute derives all three scores from the raw dimensions
func Compute(dimensions map[string]float64) models.Scores {
	qa := QAScore(dimensions)
	compliance := ComplianceScore(dimensions)

	return models.Scores{
		QAScore:         qa,
		ComplianceScore: compliance,
		OverallScore:    OverallScore(qa, compliance),
	}
}

// Clamp forces every dimension into the valid [0,10] range
func Clamp(dimensions map[string]float64) {
	for name, value := range dimensions {
		if value < 0 {
			dimensions[name] = 0
		} else if value > 10 {
			dimensions[name] = 10
		}
	}
}

// NeedsObjectionRepair reports whether the analysis carries a zero
// objection-handling score with no objection-related key moment backing it.
// A zero with cited objection evidence is presumed a genuine low score.
func NeedsObjectionRepair(analysis *models.Analysis) bool {
	value, present := analysis.Dimensions[ObjectionHandlingDimension]
	if !present || value != 0 {
		return false
	}

	for _, moment := range analysis.KeyMoments {
		if isObjectionRelated(moment) {
			return false
		}
	}
	return true
}

// ApplyObjectionRepair corrects a qualifying zero objection-handling score to
// the neutral value and recomputes the derived scores. Returns true when the
// analysis was changed. Running it twice is a no-op: the second run finds the
// dimension already non-zero.
func ApplyObjectionRepair(analysis *models.Analysis) bool {
	if !NeedsObjectionRepair(analysis) {
		return false
	}

	analysis.Dimensions[ObjectionHandlingDimension] = neutralObjectionScore

	scores := Compute(analysis.Dimensions)
	analysis.QAScore = scores.QAScore
	analysis.ComplianceScore = scores.ComplianceScore
	analysis.OverallScore = scores.OverallScore

	return true
}

func isObjectionRelated(moment models.KeyMoment) bool {
	return strings.Contains(strings.ToLower(moment.Category), "objection") ||
		strings.Contains(strings.ToLower(moment.Description), "objection")
}

// meanOf averages the named dimensions present in the map, counting only what
// exists
func meanOf(dimensions map[string]float64, names []string) float64 {
	var sum float64
	count := 0

	for _, name := range names {
		if value, ok := dimensions[name]; ok {
			sum += value
			count++
		}
	}

	if count == 0 {
		return 0
	}
	return round2(sum / float64(count))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
