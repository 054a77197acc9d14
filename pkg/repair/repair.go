// Package repair implements batch consistency repair over stored call data.
// Every rule is idempotent: running repair twice produces no further changes.
package repair

import (
	"math"

	"github.com/sirupsen/logrus"

	"callqa-server/pkg/metrics"
	"callqa-server/pkg/models"
	"callqa-server/pkg/scoring"
)

// durationTailSeconds pads the last turn timestamp to approximate the close
// of the call when recomputing duration
const durationTailSeconds = 5

// Store is the durable state repair reads and corrects
type Store interface {
	ListCalls() ([]*models.Call, error)
	GetTranscript(callID string) (*models.Transcript, error)
	GetAnalysis(callID string) (*models.Analysis, error)
	UpdateAnalysisScores(analysis *models.Analysis) error
	RepairDuration(callID string, duration int) error
}

// Change records one repaired field for the report
type Change struct {
	CallID string  `json:"call_id"`
	Rule   string  `json:"rule"`
	Before float64 `json:"before"`
	After  float64 `json:"after"`
}

// Report summarizes one repair pass
type Report struct {
	Processed int      `json:"processed"`
	Updated   int      `json:"updated"`
	Skipped   int      `json:"skipped"`
	Changes   []Change `json:"changes"`
}

// Repairer runs consistency rules over every stored call
type Repairer struct {
	logger *logrus.Logger
	store  Store
}

// NewRepairer creates a new consistency repairer
func NewRepairer(logger *logrus.Logger, store Store) *Repairer {
	return &Repairer{
		logger: logger,
		store:  store,
	}
}

// Run executes one repair pass over all calls. Calls that are mid-processing
// are skipped, their records are still being written and will be consistent
// once the pipeline commits.
func (r *Repairer) Run() (*Report, error) {
	calls, err := r.store.ListCalls()
	if err != nil {
		return nil, err
	}

	if metrics.RepairRuns != nil {
		metrics.RepairRuns.Inc()
	}

	report := &Report{Changes: []Change{}}
	for _, call := range calls {
		report.Processed++

		if call.Status == models.StatusTranscribing || call.Status == models.StatusAnalyzing {
			report.Skipped++
			continue
		}

		changed := false
		if r.repairObjectionScore(call, report) {
			changed = true
		}
		if r.repairDuration(call, report) {
			changed = true
		}
		if changed {
			report.Updated++
		}
	}

	r.logger.WithFields(logrus.Fields{
		"processed": report.Processed,
		"updated":   report.Updated,
		"skipped":   report.Skipped,
	}).Info("Consistency repair pass complete")

	return report, nil
}

// repairObjectionScore corrects a zero objection-handling dimension that has
// no objection-related key moment backing it, then recomputes the derived
// scores
func (r *Repairer) repairObjectionScore(call *models.Call, report *Report) bool {
	analysis, err := r.store.GetAnalysis(call.ID)
	if err != nil {
		return false
	}

	before := analysis.Dimensions[scoring.ObjectionHandlingDimension]
	if !scoring.ApplyObjectionRepair(analysis) {
		return false
	}

	if err := r.store.UpdateAnalysisScores(analysis); err != nil {
		r.logger.WithError(err).WithField("call_id", call.ID).Error("Failed to persist objection score repair")
		return false
	}

	report.Changes = append(report.Changes, Change{
		CallID: call.ID,
		Rule:   "objection_score",
		Before: before,
		After:  analysis.Dimensions[scoring.ObjectionHandlingDimension],
	})
	metrics.RecordRepairUpdate("objection_score")

	r.logger.WithFields(logrus.Fields{
		"call_id":  call.ID,
		"qa_score": analysis.QAScore,
	}).Info("Repaired unsupported zero objection score")

	return true
}

// repairDuration fills in a missing duration from the last transcript turn,
// writing it to the call and transcript records atomically. A non-zero
// duration came from the provider and is authoritative, only the zero left
// behind by a writer bug is recomputed.
func (r *Repairer) repairDuration(call *models.Call, report *Report) bool {
	if call.Duration != 0 {
		return false
	}

	transcript, err := r.store.GetTranscript(call.ID)
	if err != nil {
		return false
	}
	if len(transcript.Turns) == 0 {
		return false
	}

	expected := int(math.Ceil(transcript.LastTurnTimestamp() + durationTailSeconds))

	if err := r.store.RepairDuration(call.ID, expected); err != nil {
		r.logger.WithError(err).WithField("call_id", call.ID).Error("Failed to persist duration repair")
		return false
	}

	report.Changes = append(report.Changes, Change{
		CallID: call.ID,
		Rule:   "duration",
		Before: float64(call.Duration),
		After:  float64(expected),
	})
	metrics.RecordRepairUpdate("duration")

	r.logger.WithFields(logrus.Fields{
		"call_id": call.ID,
		"before":  call.Duration,
		"after":   expected,
	}).Info("Repaired inconsistent call duration")

	return true
}
