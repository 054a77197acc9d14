package database

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"callqa-server/pkg/errors"
	"callqa-server/pkg/models"
)

// Repository provides durable storage operations for call records,
// transcripts, analyses, the analysis job outbox and the QA register
type Repository struct {
	db     *SQLiteDatabase
	logger *logrus.Logger
}

// NewRepository creates a new repository
func NewRepository(db *SQLiteDatabase, logger *logrus.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Call operations

// CreateCall persists a new call record in pending state
func (r *Repository) CreateCall(call *models.Call) error {
	ctx, cancel := r.db.getContext()
	defer cancel()

	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.Status == "" {
		call.Status = models.StatusPending
	}
	call.CreatedAt = time.Now()
	call.UpdatedAt = call.CreatedAt

	query := `
		INSERT INTO calls (
			id, call_id, agent_name, agent_id, agent_phone, ingested_at,
			filename, duration, status, error_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.db.ExecContext(ctx, query,
		call.ID, call.CallID, call.AgentName, call.AgentID, call.AgentPhone,
		call.IngestedAt, call.Filename, call.Duration, call.Status,
		call.ErrorMessage, call.CreatedAt, call.UpdatedAt,
	)
	if err != nil {
		r.logger.WithError(err).Error("Failed to create call record")
		return errors.NewStorageFailure("create_call", err)
	}

	r.logger.WithFields(logrus.Fields{
		"id":      call.ID,
		"call_id": call.CallID,
		"agent":   call.AgentName,
	}).Info("Call record created")

	return nil
}

// GetCall retrieves a call by internal id
func (r *Repository) GetCall(id string) (*models.Call, error) {
	ctx, cancel := r.db.getContext()
	defer cancel()

	query := `
		SELECT id, call_id, agent_name, agent_id, agent_phone, ingested_at,
			   filename, duration, status, error_message, overall_score,
			   qa_score, compliance_score, created_at, updated_at
		FROM calls WHERE id = ?
	`

	call := &models.Call{}
	err := r.db.db.QueryRowContext(ctx, query, id).Scan(
		&call.ID, &call.CallID, &call.AgentName, &call.AgentID, &call.AgentPhone,
		&call.IngestedAt, &call.Filename, &call.Duration, &call.Status,
		&call.ErrorMessage, &call.OverallScore, &call.QAScore,
		&call.ComplianceScore, &call.CreatedAt, &call.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewCallNotFound(id)
		}
		return nil, errors.NewStorageFailure("get_call", err)
	}

	return call, nil
}

// ListCalls returns all call records, newest first
func (r *Repository) ListCalls() ([]*models.Call, error) {
	ctx, cancel := r.db.getContext()
	defer cancel()

	query := `
		SELECT id, call_id, agent_name, agent_id, agent_phone, ingested_at,
			   filename, duration, status, error_message, overall_score,
			   qa_score, compliance_score, created_at, updated_at
		FROM calls ORDER BY ingested_at DESC
	`

	rows, err := r.db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewStorageFailure("list_calls", err)
	}
	defer rows.Close()

	var calls []*models.Call
	for rows.Next() {
		call := &models.Call{}
		if err := rows.Scan(
			&call.ID, &call.CallID, &call.AgentName, &call.AgentID, &call.AgentPhone,
			&call.IngestedAt, &call.Filename, &call.Duration, &call.Status,
			&call.ErrorMessage, &call.OverallScore, &call.QAScore,
			&call.ComplianceScore, &call.CreatedAt, &call.UpdatedAt,
		); err != nil {
			return nil, errors.NewStorageFailure("list_calls", err)
		}
		calls = append(calls, call)
	}

	return calls, rows.Err()
}

// CompareAndSetStatus atomically moves a call from the expected status to the
// next one. Returns false without error when the call is not in the expected
// status, which is how concurrent duplicate triggers lose the race.
func (r *Repository) CompareAndSetStatus(id string, expected, next models.CallStatus) (bool, error) {
	ctx, cancel := r.db.getContext()
	defer cancel()

	result, err := r.db.db.ExecContext(ctx,
		`UPDATE calls SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		next, time.Now(), id, expected,
	)
	if err != nil {
		return false, errors.NewStorageFailure("compare_and_set_status", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewStorageFailure("compare_and_set_status", err)
	}

	return affected == 1, nil
}

// SetCallError moves a call into the error state with a message, guarded by
// the expected current status
func (r *Repository) SetCallError(id string, expected models.CallStatus, message string) (bool, error) {
	ctx, cancel := r.db.getContext()
	defer cancel()

	result, err := r.db.db.ExecContext(ctx,
		`UPDATE calls SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.StatusError, message, time.Now(), id, expected,
	)
	if err != nil {
		return false, errors.NewStorageFailure("set_call_error", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewStorageFailure("set_call_error", err)
	}
	return affected == 1, nil
}

// ResetCallError moves a failed call back to pending and clears its error
// message, so it can be claimed for processing again
func (r *Repository) ResetCallError(id string) (bool, error) {
	ctx, cancel := r.db.getContext()
	defer cancel()

	result, err := r.db.db.ExecContext(ctx,
		`UPDATE calls SET status = ?, error_message = '', updated_at = ? WHERE id = ? AND status = ?`,
		models.StatusPending, time.Now(), id, models.StatusError,
	)
	if err != nil {
		return false, errors.NewStorageFailure("reset_call_error", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewStorageFailure("reset_call_error", err)
	}
	return affected == 1, nil
}

// Transcript operations

// GetTranscript retrieves the transcript for a call
func (r *Repository) GetTranscript(callID string) (*models.Transcript, error) {
	ctx, cancel := r.db.getContext()
	defer cancel()

	query := `
		SELECT id, call_id, turns, duration, processing_time, provider, created_at
		FROM transcripts WHERE call_id = ?
	`

	transcript := &models.Transcript{}
	var turnsJSON string
	err := r.db.db.QueryRowContext(ctx, query, callID).Scan(
		&transcript.ID, &transcript.CallID, &turnsJSON, &transcript.Duration,
		&transcript.ProcessingTime, &transcript.Provider, &transcript.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Wrap(errors.ErrNotFound, "transcript not found", map[string]interface{}{"call_id": callID})
		}
		return nil, errors.NewStorageFailure("get_transcript", err)
	}

	if err := json.Unmarshal([]byte(turnsJSON), &transcript.Turns); err != nil {
		return nil, errors.NewStorageFailure("get_transcript", err)
	}

	return transcript, nil
}

// HasTranscript reports whether a transcript exists for the call
func (r *Repository) HasTranscript(callID string) (bool, error) {
	ctx, cancel := r.db.getContext()
	defer cancel()

	var count int
	err := r.db.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM transcripts WHERE call_id = ?`, callID).Scan(&count)
	if err != nil {
		return false, errors.NewStorageFailure("has_transcript", err)
	}
	return count > 0, nil
}

// CompleteTranscription persists the transcript, copies its duration onto the
// call, moves the call from transcribing to analyzing and writes the analysis
// outbox job, all in one transaction. Returns false when the call was not in
// transcribing (a concurrent transition won).
func (r *Repository) CompleteTranscription(transcript *models.Transcript, job *models.AnalysisJob) (bool, error) {
	ctx, cancel := r.db.getContext()
	defer cancel()

	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.NewStorageFailure("complete_transcription", err)
	}
	defer tx.Rollback()

	now := time.Now()

	result, err := tx.ExecContext(ctx,
		`UPDATE calls SET status = ?, duration = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.StatusAnalyzing, transcript.Duration, now, transcript.CallID, models.StatusTranscribing,
	)
	if err != nil {
		return false, errors.NewStorageFailure("complete_transcription", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewStorageFailure("complete_transcription", err)
	}
	if affected != 1 {
		return false, nil
	}

	if transcript.ID == "" {
		transcript.ID = uuid.New().String()
	}
	transcript.CreatedAt = now

	turnsJSON, err := json.Marshal(transcript.Turns)
	if err != nil {
		return false, errors.NewStorageFailure("complete_transcription", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transcripts (id, call_id, turns, duration, processing_time, provider, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		transcript.ID, transcript.CallID, string(turnsJSON), transcript.Duration,
		transcript.ProcessingTime, transcript.Provider, transcript.CreatedAt,
	)
	if err != nil {
		return false, errors.NewStorageFailure("complete_transcription", err)
	}

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = models.JobPending
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err = tx.ExecContext(ctx,
		`INSERT INTO analysis_jobs (id, call_id, status, attempts, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, 0, '', ?, ?)`,
		job.ID, job.CallID, job.Status, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return false, errors.NewStorageFailure("complete_transcription", err)
	}

	if err := tx.Commit(); err != nil {
		return false, errors.NewStorageFailure("complete_transcription", err)
	}

	return true, nil
}

// Analysis operations

// GetAnalysis retrieves the analysis for a call
func (r *Repository) GetAnalysis(callID string) (*models.Analysis, error) {
	ctx, cancel := r.db.getContext()
	defer cancel()

	query := `
		SELECT id, call_id, dimensions, qa_score, compliance_score, overall_score,
			   key_moments, outcome, created_at, updated_at
		FROM analyses WHERE call_id = ?
	`

	return scanAnalysis(r.db.db.QueryRowContext(ctx, query, callID))
}

// ListAnalyses returns every persisted analysis
func (r *Repository) ListAnalyses() ([]*models.Analysis, error) {
	ctx, cancel := r.db.getContext()
	defer cancel()

	query := `
		SELECT id, call_id, dimensions, qa_score, compliance_score, overall_score,
			   key_moments, outcome, created_at, updated_at
		FROM analyses ORDER BY created_at
	`

	rows, err := r.db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewStorageFailure("list_analyses", err)
	}
	defer rows.Close()

	var analyses []*models.Analysis
	for rows.Next() {
		analysis, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, analysis)
	}

	return analyses, rows.Err()
}

// CompleteAnalysis upserts the analysis, copies the derived scores onto the
// call and moves the call from analyzing to complete, all in one transaction.
// Returns false when the call was not in analyzing.
func (r *Repository) CompleteAnalysis(analysis *models.Analysis) (bool, error) {
	ctx, cancel := r.db.getContext()
	defer cancel()

	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.NewStorageFailure("complete_analysis", err)
	}
	defer tx.Rollback()

	now := time.Now()

	result, err := tx.ExecContext(ctx,
		`UPDATE calls SET status = ?, qa_score = ?, compliance_score = ?,
			overall_score = ?, error_message = '', updated_at = ?
		 WHERE id = ? AND status = ?`,
		models.StatusComplete, analysis.QAScore, analysis.ComplianceScore,
		analysis.OverallScore, now, analysis.CallID, models.StatusAnalyzing,
	)
	if err != nil {
		return false, errors.NewStorageFailure("complete_analysis", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewStorageFailure("complete_analysis", err)
	}
	if affected != 1 {
		return false, nil
	}

	if analysis.ID == "" {
		analysis.ID = uuid.New().String()
	}
	analysis.UpdatedAt = now
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = now
	}

	dimensionsJSON, momentsJSON, outcomeJSON, err := marshalAnalysis(analysis)
	if err != nil {
		return false, err
	}

	// Re-analysis replaces the previous analysis for the call
	_, err = tx.ExecContext(ctx,
		`INSERT INTO analyses (id, call_id, dimensions, qa_score, compliance_score,
			overall_score, key_moments, outcome, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(call_id) DO UPDATE SET
			dimensions = excluded.dimensions,
			qa_score = excluded.qa_score,
			compliance_score = excluded.compliance_score,
			overall_score = excluded.overall_score,
			key_moments = excluded.key_moments,
			outcome = excluded.outcome,
			updated_at = excluded.updated_at`,
		analysis.ID, analysis.CallID, dimensionsJSON, analysis.QAScore,
		analysis.ComplianceScore, analysis.OverallScore, momentsJSON,
		outcomeJSON, analysis.CreatedAt, analysis.UpdatedAt,
	)
	if err != nil {
		return false, errors.NewStorageFailure("complete_analysis", err)
	}

	if err := tx.Commit(); err != nil {
		return false, errors.NewStorageFailure("complete_analysis", err)
	}

	return true, nil
}

// UpdateAnalysisScores persists repaired dimensions and derived scores onto
// both the analysis and the call projection in one transaction
func (r *Repository) UpdateAnalysisScores(analysis *models.Analysis) error {
	ctx, cancel := r.db.getContext()
	defer cancel()

	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageFailure("update_analysis_scores", err)
	}
	defer tx.Rollback()

	now := time.Now()
	dimensionsJSON, momentsJSON, outcomeJSON, err := marshalAnalysis(analysis)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE analyses SET dimensions = ?, qa_score = ?, compliance_score = ?,
			overall_score = ?, key_moments = ?, outcome = ?, updated_at = ?
		 WHERE call_id = ?`,
		dimensionsJSON, analysis.QAScore, analysis.ComplianceScore,
		analysis.OverallScore, momentsJSON, outcomeJSON, now, analysis.CallID,
	)
	if err != nil {
		return errors.NewStorageFailure("update_analysis_scores", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE calls SET qa_score = ?, compliance_score = ?, overall_score = ?, updated_at = ?
		 WHERE id = ?`,
		analysis.QAScore, analysis.ComplianceScore, analysis.OverallScore, now, analysis.CallID,
	)
	if err != nil {
		return errors.NewStorageFailure("update_analysis_scores", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorageFailure("update_analysis_scores", err)
	}
	return nil
}

// RepairDuration writes a recomputed duration to both the call and transcript
// records atomically: either both rows change or neither does
func (r *Repository) RepairDuration(callID string, duration int) error {
	ctx, cancel := r.db.getContext()
	defer cancel()

	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageFailure("repair_duration", err)
	}
	defer tx.Rollback()

	now := time.Now()

	if _, err := tx.ExecContext(ctx,
		`UPDATE calls SET duration = ?, updated_at = ? WHERE id = ?`,
		duration, now, callID,
	); err != nil {
		return errors.NewStorageFailure("repair_duration", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE transcripts SET duration = ? WHERE call_id = ?`,
		duration, callID,
	); err != nil {
		return errors.NewStorageFailure("repair_duration", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorageFailure("repair_duration", err)
	}
	return nil
}

// Analysis job outbox operations

// PendingJobs returns outbox jobs that still need (re)publishing: pending
// jobs, plus published jobs that have sat unacknowledged past the stale age
func (r *Repository) PendingJobs(staleAge time.Duration) ([]*models.AnalysisJob, error) {
	ctx, cancel := r.db.getContext()
	defer cancel()

	cutoff := time.Now().Add(-staleAge)

	rows, err := r.db.db.QueryContext(ctx,
		`SELECT id, call_id, status, attempts, last_error, created_at, updated_at
		 FROM analysis_jobs
		 WHERE status = ? OR (status = ? AND updated_at < ?)
		 ORDER BY created_at`,
		models.JobPending, models.JobPublished, cutoff,
	)
	if err != nil {
		return nil, errors.NewStorageFailure("pending_jobs", err)
	}
	defer rows.Close()

	var jobs []*models.AnalysisJob
	for rows.Next() {
		job := &models.AnalysisJob{}
		if err := rows.Scan(
			&job.ID, &job.CallID, &job.Status, &job.Attempts,
			&job.LastError, &job.CreatedAt, &job.UpdatedAt,
		); err != nil {
			return nil, errors.NewStorageFailure("pending_jobs", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// MarkJob updates an outbox job's status, bumping the attempt counter
func (r *Repository) MarkJob(jobID, status, lastError string) error {
	ctx, cancel := r.db.getContext()
	defer cancel()

	_, err := r.db.db.ExecContext(ctx,
		`UPDATE analysis_jobs SET status = ?, attempts = attempts + 1,
			last_error = ?, updated_at = ? WHERE id = ?`,
		status, lastError, time.Now(), jobID,
	)
	if err != nil {
		return errors.NewStorageFailure("mark_job", err)
	}
	return nil
}

// QA register operations

// UpsertRegisterEntry writes the derived fields of one register row,
// preserving the manual reviewer fields across rebuilds
func (r *Repository) UpsertRegisterEntry(entry *models.RegisterEntry) error {
	ctx, cancel := r.db.getContext()
	defer cancel()

	_, err := r.db.db.ExecContext(ctx,
		`INSERT INTO qa_register (call_id, external_call_id, agent_name, agent_id,
			call_date, duration, qa_score, compliance_score, overall_score,
			key_moment_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(call_id) DO UPDATE SET
			external_call_id = excluded.external_call_id,
			agent_name = excluded.agent_name,
			agent_id = excluded.agent_id,
			call_date = excluded.call_date,
			duration = excluded.duration,
			qa_score = excluded.qa_score,
			compliance_score = excluded.compliance_score,
			overall_score = excluded.overall_score,
			key_moment_count = excluded.key_moment_count,
			updated_at = excluded.updated_at`,
		entry.CallID, entry.ExternalCallID, entry.AgentName, entry.AgentID,
		entry.CallDate, entry.Duration, entry.QAScore, entry.ComplianceScore,
		entry.OverallScore, entry.KeyMomentCount, time.Now(),
	)
	if err != nil {
		return errors.NewStorageFailure("upsert_register_entry", err)
	}
	return nil
}

// UpdateRegisterManualFields writes only the operator-owned fields of a
// register row
func (r *Repository) UpdateRegisterManualFields(callID, reviewer, notes, disposition string) error {
	ctx, cancel := r.db.getContext()
	defer cancel()

	_, err := r.db.db.ExecContext(ctx,
		`UPDATE qa_register SET reviewer = ?, review_notes = ?, disposition = ?, updated_at = ?
		 WHERE call_id = ?`,
		reviewer, notes, disposition, time.Now(), callID,
	)
	if err != nil {
		return errors.NewStorageFailure("update_register_manual_fields", err)
	}
	return nil
}

// ListRegisterEntries returns the full register, newest calls first
func (r *Repository) ListRegisterEntries() ([]*models.RegisterEntry, error) {
	ctx, cancel := r.db.getContext()
	defer cancel()

	rows, err := r.db.db.QueryContext(ctx,
		`SELECT call_id, external_call_id, agent_name, agent_id, call_date,
			duration, qa_score, compliance_score, overall_score,
			key_moment_count, reviewer, review_notes, disposition, updated_at
		 FROM qa_register ORDER BY call_date DESC`,
	)
	if err != nil {
		return nil, errors.NewStorageFailure("list_register_entries", err)
	}
	defer rows.Close()

	var entries []*models.RegisterEntry
	for rows.Next() {
		entry := &models.RegisterEntry{}
		if err := rows.Scan(
			&entry.CallID, &entry.ExternalCallID, &entry.AgentName, &entry.AgentID,
			&entry.CallDate, &entry.Duration, &entry.QAScore, &entry.ComplianceScore,
			&entry.OverallScore, &entry.KeyMomentCount, &entry.Reviewer,
			&entry.ReviewNotes, &entry.Disposition, &entry.UpdatedAt,
		); err != nil {
			return nil, errors.NewStorageFailure("list_register_entries", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// helpers

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAnalysis(row rowScanner) (*models.Analysis, error) {
	analysis := &models.Analysis{}
	var dimensionsJSON, momentsJSON, outcomeJSON string

	err := row.Scan(
		&analysis.ID, &analysis.CallID, &dimensionsJSON, &analysis.QAScore,
		&analysis.ComplianceScore, &analysis.OverallScore, &momentsJSON,
		&outcomeJSON, &analysis.CreatedAt, &analysis.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Wrap(errors.ErrNotFound, "analysis not found")
		}
		return nil, errors.NewStorageFailure("scan_analysis", err)
	}

	if err := json.Unmarshal([]byte(dimensionsJSON), &analysis.Dimensions); err != nil {
		return nil, errors.NewStorageFailure("scan_analysis", err)
	}
	if err := json.Unmarshal([]byte(momentsJSON), &analysis.KeyMoments); err != nil {
		return nil, errors.NewStorageFailure("scan_analysis", err)
	}
	if err := json.Unmarshal([]byte(outcomeJSON), &analysis.Outcome); err != nil {
		return nil, errors.NewStorageFailure("scan_analysis", err)
	}

	return analysis, nil
}

func marshalAnalysis(analysis *models.Analysis) (string, string, string, error) {
	dimensionsJSON, err := json.Marshal(analysis.Dimensions)
	if err != nil {
		return "", "", "", errors.NewStorageFailure("marshal_analysis", err)
	}

	moments := analysis.KeyMoments
	if moments == nil {
		moments = []models.KeyMoment{}
	}
	momentsJSON, err := json.Marshal(moments)
	if err != nil {
		return "", "", "", errors.NewStorageFailure("marshal_analysis", err)
	}

	outcome := analysis.Outcome
	if outcome == nil {
		outcome = map[string]string{}
	}
	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		return "", "", "", errors.NewStorageFailure("marshal_analysis", err)
	}

	return string(dimensionsJSON), string(momentsJSON), string(outcomeJSON), nil
}
