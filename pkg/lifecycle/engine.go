// Package lifecycle drives call records through their processing states.
// Every transition is a compare-and-set against the durable store, so
// concurrent triggers for the same call resolve to exactly one winner.
package lifecycle

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"callqa-server/pkg/analysis"
	"callqa-server/pkg/audio"
	"callqa-server/pkg/errors"
	"callqa-server/pkg/messaging"
	"callqa-server/pkg/metrics"
	"callqa-server/pkg/models"
	"callqa-server/pkg/scoring"
	"callqa-server/pkg/stt"
)

// Store is the durable state the engine transitions against
type Store interface {
	GetCall(id string) (*models.Call, error)
	CompareAndSetStatus(id string, expected, next models.CallStatus) (bool, error)
	SetCallError(id string, expected models.CallStatus, message string) (bool, error)
	ResetCallError(id string) (bool, error)
	HasTranscript(callID string) (bool, error)
	GetTranscript(callID string) (*models.Transcript, error)
	CompleteTranscription(transcript *models.Transcript, job *models.AnalysisJob) (bool, error)
	CompleteAnalysis(analysis *models.Analysis) (bool, error)
	PendingJobs(staleAge time.Duration) ([]*models.AnalysisJob, error)
	MarkJob(jobID, status, lastError string) error
}

// Engine coordinates transcription and analysis for call records
type Engine struct {
	logger      *logrus.Logger
	store       Store
	providers   *stt.ProviderManager
	gate        *audio.CompressionGate
	analyzer    analysis.Analyzer
	publisher   messaging.Publisher
	sttVendor   string
	sizeCeiling int64
	queueName   string

	sttTimeout      time.Duration
	analysisTimeout time.Duration
}

// NewEngine creates a new lifecycle engine
func NewEngine(
	logger *logrus.Logger,
	store Store,
	providers *stt.ProviderManager,
	gate *audio.CompressionGate,
	analyzer analysis.Analyzer,
	publisher messaging.Publisher,
	sttVendor string,
	sizeCeiling int64,
	queueName string,
) *Engine {
	if publisher == nil {
		publisher = messaging.NoopPublisher{}
	}

	return &Engine{
		logger:      logger,
		store:       store,
		providers:   providers,
		gate:        gate,
		analyzer:    analyzer,
		publisher:   publisher,
		sttVendor:   sttVendor,
		sizeCeiling: sizeCeiling,
		queueName:   queueName,
	}
}

// SetTimeouts bounds transcription and analysis calls. Zero disables a bound.
func (e *Engine) SetTimeouts(sttTimeout, analysisTimeout time.Duration) {
	e.sttTimeout = sttTimeout
	e.analysisTimeout = analysisTimeout
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// BeginProcessing claims a pending call and runs transcription on it. The
// claim is a compare-and-set from pending to transcribing: of any number of
// concurrent triggers exactly one proceeds and the rest get
// ErrAlreadyProcessing. A call that already has a transcript is never
// transcribed again, whatever its status. A call whose transcription failed
// sits in error with no transcript; triggering it again resets it to pending
// first, so failed calls stay manually recoverable.
func (e *Engine) BeginProcessing(ctx context.Context, callID, audioPath string) error {
	call, err := e.store.GetCall(callID)
	if err != nil {
		return err
	}

	hasTranscript, err := e.store.HasTranscript(callID)
	if err != nil {
		return err
	}
	if hasTranscript {
		return errors.NewAlreadyProcessing(callID, string(call.Status))
	}

	if call.Status == models.StatusError {
		reset, err := e.store.ResetCallError(callID)
		if err != nil {
			return err
		}
		if reset {
			metrics.RecordStatusTransition(string(models.StatusError), string(models.StatusPending))
			e.logger.WithField("call_id", callID).Info("Reset failed call for reprocessing")
		}
	}

	claimed, err := e.store.CompareAndSetStatus(callID, models.StatusPending, models.StatusTranscribing)
	if err != nil {
		return err
	}
	if !claimed {
		if metrics.DuplicateTriggers != nil {
			metrics.DuplicateTriggers.Inc()
		}
		e.logger.WithFields(logrus.Fields{
			"call_id": callID,
			"status":  call.Status,
		}).Warn("Duplicate processing trigger refused")
		return errors.NewAlreadyProcessing(callID, string(call.Status))
	}

	metrics.RecordStatusTransition(string(models.StatusPending), string(models.StatusTranscribing))
	if metrics.CallsInFlight != nil {
		metrics.CallsInFlight.Inc()
	}

	return e.runTranscription(ctx, callID, audioPath)
}

// runTranscription carries a claimed call through transcription. Any failure
// is persisted on the record before being returned, so a crash surfaced to
// the caller and the stored state always agree.
func (e *Engine) runTranscription(ctx context.Context, callID, audioPath string) error {
	path := audioPath

	if e.gate != nil {
		result, err := e.gate.CompressIfNeeded(ctx, audioPath, e.sizeCeiling)
		if err != nil {
			return e.failTranscription(callID, err)
		}
		path = result.Path
		if result.Compressed && metrics.AudioCompressed != nil {
			metrics.AudioCompressed.WithLabelValues("compressed").Inc()
		}
	}

	sttCtx, cancel := withTimeout(ctx, e.sttTimeout)
	defer cancel()

	done := metrics.ObserveSTTLatency(e.sttVendor)
	transcript, err := e.providers.Transcribe(sttCtx, e.sttVendor, path, callID)
	done()
	if err != nil {
		metrics.RecordSTTRequest(e.sttVendor, "error")
		return e.failTranscription(callID, err)
	}
	metrics.RecordSTTRequest(e.sttVendor, "success")

	transcript.CallID = callID
	job := &models.AnalysisJob{CallID: callID}

	committed, err := e.store.CompleteTranscription(transcript, job)
	if err != nil {
		return e.failTranscription(callID, err)
	}
	if !committed {
		// A concurrent transition moved the call out of transcribing
		return errors.NewAlreadyProcessing(callID, "unknown")
	}

	metrics.RecordStatusTransition(string(models.StatusTranscribing), string(models.StatusAnalyzing))

	e.logger.WithFields(logrus.Fields{
		"call_id":  callID,
		"turns":    len(transcript.Turns),
		"duration": transcript.Duration,
		"provider": transcript.Provider,
	}).Info("Transcription complete, analysis queued")

	// Publish is best effort. The outbox row already committed with the
	// transcript, so a lost publish is recovered by the reconciliation sweep.
	if err := e.publisher.PublishAnalysisJob(job.ID, callID); err != nil {
		metrics.RecordAMQPPublish(e.queueName, "error")
		e.logger.WithError(err).WithField("call_id", callID).Warn("Analysis job publish failed, outbox sweep will retry")
	} else if e.publisher.IsConnected() {
		metrics.RecordAMQPPublish(e.queueName, "success")
		if markErr := e.store.MarkJob(job.ID, models.JobPublished, ""); markErr != nil {
			e.logger.WithError(markErr).WithField("job_id", job.ID).Warn("Failed to mark analysis job published")
		}
	}

	return nil
}

// failTranscription persists the error state and returns a typed failure
func (e *Engine) failTranscription(callID string, cause error) error {
	if metrics.CallsInFlight != nil {
		metrics.CallsInFlight.Dec()
	}

	if _, setErr := e.store.SetCallError(callID, models.StatusTranscribing, cause.Error()); setErr != nil {
		e.logger.WithError(setErr).WithField("call_id", callID).Error("Failed to persist transcription error state")
	}
	metrics.RecordStatusTransition(string(models.StatusTranscribing), string(models.StatusError))

	return errors.NewTranscriptionFailed(callID, cause)
}

// RunAnalysis scores the stored transcript of a call that is in analyzing.
// On success the analysis, the derived scores on the call, and the
// analyzing-to-complete transition commit together.
func (e *Engine) RunAnalysis(ctx context.Context, callID string) error {
	transcript, err := e.store.GetTranscript(callID)
	if err != nil {
		return err
	}

	analysisCtx, cancel := withTimeout(ctx, e.analysisTimeout)
	defer cancel()

	done := metrics.ObserveAnalysisLatency(e.analyzer.Name())
	result, err := e.analyzer.Analyze(analysisCtx, callID, transcript)
	done()
	if err != nil {
		metrics.RecordAnalysisRequest(e.analyzer.Name(), "error")
		return e.failAnalysis(callID, err)
	}
	metrics.RecordAnalysisRequest(e.analyzer.Name(), "success")

	result.CallID = callID
	scoring.Clamp(result.Dimensions)
	scores := scoring.Compute(result.Dimensions)
	result.QAScore = scores.QAScore
	result.ComplianceScore = scores.ComplianceScore
	result.OverallScore = scores.OverallScore

	committed, err := e.store.CompleteAnalysis(result)
	if err != nil {
		return e.failAnalysis(callID, err)
	}
	if !committed {
		return errors.NewAlreadyProcessing(callID, "unknown")
	}

	metrics.RecordStatusTransition(string(models.StatusAnalyzing), string(models.StatusComplete))
	if metrics.CallsInFlight != nil {
		metrics.CallsInFlight.Dec()
	}

	e.logger.WithFields(logrus.Fields{
		"call_id":       callID,
		"qa_score":      result.QAScore,
		"overall_score": result.OverallScore,
		"key_moments":   len(result.KeyMoments),
	}).Info("Analysis complete")

	return nil
}

// failAnalysis persists the error state and returns a typed failure
func (e *Engine) failAnalysis(callID string, cause error) error {
	if metrics.CallsInFlight != nil {
		metrics.CallsInFlight.Dec()
	}

	if _, setErr := e.store.SetCallError(callID, models.StatusAnalyzing, cause.Error()); setErr != nil {
		e.logger.WithError(setErr).WithField("call_id", callID).Error("Failed to persist analysis error state")
	}
	metrics.RecordStatusTransition(string(models.StatusAnalyzing), string(models.StatusError))

	return errors.NewAnalysisFailed(callID, cause)
}

// Reanalyze re-runs analysis on a completed call against its stored
// transcript. The previous analysis is replaced, never duplicated.
func (e *Engine) Reanalyze(ctx context.Context, callID string) error {
	claimed, err := e.store.CompareAndSetStatus(callID, models.StatusComplete, models.StatusAnalyzing)
	if err != nil {
		return err
	}
	if !claimed {
		call, getErr := e.store.GetCall(callID)
		status := "unknown"
		if getErr == nil {
			status = string(call.Status)
		}
		return errors.NewAlreadyProcessing(callID, status)
	}

	metrics.RecordStatusTransition(string(models.StatusComplete), string(models.StatusAnalyzing))
	if metrics.CallsInFlight != nil {
		metrics.CallsInFlight.Inc()
	}

	return e.RunAnalysis(ctx, callID)
}
