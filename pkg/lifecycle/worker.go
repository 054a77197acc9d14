package lifecycle

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"callqa-server/pkg/metrics"
	"callqa-server/pkg/models"
)

// maxJobAttempts bounds outbox retries before a job is parked as failed
const maxJobAttempts = 5

// Worker executes analysis jobs off the outbox. It is both the consumer for
// the happy path and the reconciliation sweep for jobs whose publish was lost.
type Worker struct {
	logger   *logrus.Logger
	engine   *Engine
	store    Store
	interval time.Duration
	staleAge time.Duration
}

// NewWorker creates a new outbox worker
func NewWorker(logger *logrus.Logger, engine *Engine, store Store, interval, staleAge time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAge <= 0 {
		staleAge = 5 * time.Minute
	}

	return &Worker{
		logger:   logger,
		engine:   engine,
		store:    store,
		interval: interval,
		staleAge: staleAge,
	}
}

// Run sweeps the outbox until the context is canceled
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.WithFields(logrus.Fields{
		"interval":  w.interval,
		"stale_age": w.staleAge,
	}).Info("Analysis outbox worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Analysis outbox worker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass: every pending job, and every published
// job older than the stale age, is executed inline. Returns the number of
// jobs handled.
func (w *Worker) Sweep(ctx context.Context) int {
	jobs, err := w.store.PendingJobs(w.staleAge)
	if err != nil {
		w.logger.WithError(err).Error("Failed to read analysis job outbox")
		return 0
	}

	handled := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return handled
		}
		w.processJob(ctx, job)
		handled++
	}

	if handled > 0 {
		w.logger.WithField("jobs", handled).Info("Outbox sweep complete")
	}
	return handled
}

func (w *Worker) processJob(ctx context.Context, job *models.AnalysisJob) {
	// A previous attempt may have parked the call in error state; move it
	// back to analyzing so the retry can commit
	if job.Attempts > 0 {
		if call, getErr := w.store.GetCall(job.CallID); getErr == nil && call.Status == models.StatusError {
			if _, casErr := w.store.CompareAndSetStatus(job.CallID, models.StatusError, models.StatusAnalyzing); casErr != nil {
				w.logger.WithError(casErr).WithField("call_id", job.CallID).Error("Failed to recover call for analysis retry")
			}
		}
	}

	err := w.engine.RunAnalysis(ctx, job.CallID)
	if err == nil {
		if markErr := w.store.MarkJob(job.ID, models.JobDone, ""); markErr != nil {
			w.logger.WithError(markErr).WithField("job_id", job.ID).Error("Failed to mark analysis job done")
		}
		if metrics.JobsSwept != nil {
			metrics.JobsSwept.WithLabelValues("done").Inc()
		}
		return
	}

	w.logger.WithError(err).WithFields(logrus.Fields{
		"job_id":   job.ID,
		"call_id":  job.CallID,
		"attempts": job.Attempts,
	}).Warn("Analysis job failed")

	status := models.JobPending
	outcome := "retried"
	if job.Attempts+1 >= maxJobAttempts {
		status = models.JobFailed
		outcome = "failed"
	}

	if markErr := w.store.MarkJob(job.ID, status, err.Error()); markErr != nil {
		w.logger.WithError(markErr).WithField("job_id", job.ID).Error("Failed to update analysis job state")
	}
	if metrics.JobsSwept != nil {
		metrics.JobsSwept.WithLabelValues(outcome).Inc()
	}
}
