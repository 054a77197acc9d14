package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callqa-server/pkg/errors"
	"callqa-server/pkg/models"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	db, err := NewSQLiteDatabase(filepath.Join(t.TempDir(), "callqa.db"), 5*time.Second, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewRepository(db, logger)
}

func newTestCall() *models.Call {
	return &models.Call{
		CallID:     "CA1234567890",
		AgentName:  "Smith, John",
		AgentID:    "AG42",
		AgentPhone: "+15551234567",
		IngestedAt: time.Now(),
		Filename:   "[Smith, John]_AG42-+15551234567_20260115103000(CA1234567890).wav",
	}
}

func TestCreateAndGetCall(t *testing.T) {
	repo := newTestRepository(t)

	call := newTestCall()
	require.NoError(t, repo.CreateCall(call))
	require.NotEmpty(t, call.ID)
	assert.Equal(t, models.StatusPending, call.Status)

	got, err := repo.GetCall(call.ID)
	require.NoError(t, err)
	assert.Equal(t, call.CallID, got.CallID)
	assert.Equal(t, call.AgentName, got.AgentName)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.OverallScore)
}

func TestGetCallNotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetCall("missing")
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrCallNotFound))
}

func TestCompareAndSetStatus(t *testing.T) {
	repo := newTestRepository(t)

	call := newTestCall()
	require.NoError(t, repo.CreateCall(call))

	ok, err := repo.CompareAndSetStatus(call.ID, models.StatusPending, models.StatusTranscribing)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second transition from pending must lose: the call already moved on
	ok, err = repo.CompareAndSetStatus(call.ID, models.StatusPending, models.StatusTranscribing)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetCall(call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTranscribing, got.Status)
}

func TestSetCallError(t *testing.T) {
	repo := newTestRepository(t)

	call := newTestCall()
	require.NoError(t, repo.CreateCall(call))

	ok, err := repo.CompareAndSetStatus(call.ID, models.StatusPending, models.StatusTranscribing)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.SetCallError(call.ID, models.StatusTranscribing, "provider timed out")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetCall(call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, "provider timed out", got.ErrorMessage)
}

func TestResetCallError(t *testing.T) {
	repo := newTestRepository(t)

	call := newTestCall()
	require.NoError(t, repo.CreateCall(call))

	ok, err := repo.CompareAndSetStatus(call.ID, models.StatusPending, models.StatusTranscribing)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.SetCallError(call.ID, models.StatusTranscribing, "provider timed out")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.ResetCallError(call.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetCall(call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Empty(t, got.ErrorMessage)

	// Only error-state calls reset
	ok, err = repo.ResetCallError(call.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompleteTranscription(t *testing.T) {
	repo := newTestRepository(t)

	call := newTestCall()
	require.NoError(t, repo.CreateCall(call))

	ok, err := repo.CompareAndSetStatus(call.ID, models.StatusPending, models.StatusTranscribing)
	require.NoError(t, err)
	require.True(t, ok)

	transcript := &models.Transcript{
		CallID: call.ID,
		Turns: []models.TranscriptTurn{
			{Speaker: "agent", Text: "Good morning", Timestamp: 0.5, Confidence: 0.95},
			{Speaker: "customer", Text: "Hello", Timestamp: 3.2, Confidence: 0.91},
		},
		Duration: 9,
		Provider: "mock",
	}
	job := &models.AnalysisJob{CallID: call.ID}

	ok, err = repo.CompleteTranscription(transcript, job)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetCall(call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAnalyzing, got.Status)
	assert.Equal(t, 9, got.Duration)

	stored, err := repo.GetTranscript(call.ID)
	require.NoError(t, err)
	require.Len(t, stored.Turns, 2)
	assert.Equal(t, "Good morning", stored.Turns[0].Text)
	assert.InDelta(t, 3.2, stored.Turns[1].Timestamp, 0.001)

	jobs, err := repo.PendingJobs(time.Hour)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, call.ID, jobs[0].CallID)
	assert.Equal(t, models.JobPending, jobs[0].Status)
}

func TestCompleteTranscriptionRequiresTranscribing(t *testing.T) {
	repo := newTestRepository(t)

	call := newTestCall()
	require.NoError(t, repo.CreateCall(call))

	transcript := &models.Transcript{CallID: call.ID, Duration: 9}
	job := &models.AnalysisJob{CallID: call.ID}

	// Call is still pending, so the guarded transition must refuse
	ok, err := repo.CompleteTranscription(transcript, job)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.GetTranscript(call.ID)
	assert.Error(t, err)
}

func TestCompleteAnalysis(t *testing.T) {
	repo := newTestRepository(t)

	call := newTestCall()
	require.NoError(t, repo.CreateCall(call))
	mustTransition(t, repo, call.ID, models.StatusPending, models.StatusTranscribing)
	mustTransition(t, repo, call.ID, models.StatusTranscribing, models.StatusAnalyzing)

	analysis := &models.Analysis{
		CallID: call.ID,
		Dimensions: map[string]float64{
			"rapport":            7,
			"closing":            6,
			"compliance_opening": 9,
		},
		QAScore:         6.5,
		ComplianceScore: 9,
		OverallScore:    7.25,
		KeyMoments: []models.KeyMoment{
			{Timestamp: 12.5, Category: "closing", Description: "asked for the sale", Quote: "shall we get you signed up today"},
		},
		Outcome: map[string]string{"result": "sale"},
	}

	ok, err := repo.CompleteAnalysis(analysis)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetCall(call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, got.Status)
	require.NotNil(t, got.OverallScore)
	assert.InDelta(t, 7.25, *got.OverallScore, 0.001)

	stored, err := repo.GetAnalysis(call.ID)
	require.NoError(t, err)
	assert.InDelta(t, 7.0, stored.Dimensions["rapport"], 0.001)
	require.Len(t, stored.KeyMoments, 1)
	assert.Equal(t, "closing", stored.KeyMoments[0].Category)
	assert.Equal(t, "sale", stored.Outcome["result"])
}

func TestCompleteAnalysisReplacesOnReanalysis(t *testing.T) {
	repo := newTestRepository(t)

	call := newTestCall()
	require.NoError(t, repo.CreateCall(call))
	mustTransition(t, repo, call.ID, models.StatusPending, models.StatusTranscribing)
	mustTransition(t, repo, call.ID, models.StatusTranscribing, models.StatusAnalyzing)

	first := &models.Analysis{
		CallID:     call.ID,
		Dimensions: map[string]float64{"rapport": 5},
		QAScore:    5, OverallScore: 5,
	}
	ok, err := repo.CompleteAnalysis(first)
	require.NoError(t, err)
	require.True(t, ok)

	mustTransition(t, repo, call.ID, models.StatusComplete, models.StatusAnalyzing)

	second := &models.Analysis{
		CallID:     call.ID,
		Dimensions: map[string]float64{"rapport": 8},
		QAScore:    8, OverallScore: 8,
	}
	ok, err = repo.CompleteAnalysis(second)
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := repo.GetAnalysis(call.ID)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, stored.Dimensions["rapport"], 0.001)

	all, err := repo.ListAnalyses()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpdateAnalysisScores(t *testing.T) {
	repo := newTestRepository(t)

	call := newTestCall()
	require.NoError(t, repo.CreateCall(call))
	mustTransition(t, repo, call.ID, models.StatusPending, models.StatusTranscribing)
	mustTransition(t, repo, call.ID, models.StatusTranscribing, models.StatusAnalyzing)

	analysis := &models.Analysis{
		CallID:     call.ID,
		Dimensions: map[string]float64{"rapport": 6, "objection_handling": 0},
		QAScore:    3, OverallScore: 3,
	}
	ok, err := repo.CompleteAnalysis(analysis)
	require.NoError(t, err)
	require.True(t, ok)

	analysis.Dimensions["objection_handling"] = 8
	analysis.QAScore = 7
	analysis.OverallScore = 7
	require.NoError(t, repo.UpdateAnalysisScores(analysis))

	stored, err := repo.GetAnalysis(call.ID)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, stored.Dimensions["objection_handling"], 0.001)
	assert.InDelta(t, 7.0, stored.QAScore, 0.001)

	got, err := repo.GetCall(call.ID)
	require.NoError(t, err)
	require.NotNil(t, got.QAScore)
	assert.InDelta(t, 7.0, *got.QAScore, 0.001)
}

func TestRepairDuration(t *testing.T) {
	repo := newTestRepository(t)

	call := newTestCall()
	require.NoError(t, repo.CreateCall(call))
	mustTransition(t, repo, call.ID, models.StatusPending, models.StatusTranscribing)

	transcript := &models.Transcript{
		CallID:   call.ID,
		Turns:    []models.TranscriptTurn{{Speaker: "agent", Text: "hi", Timestamp: 115.2}},
		Duration: 30,
	}
	ok, err := repo.CompleteTranscription(transcript, &models.AnalysisJob{CallID: call.ID})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.RepairDuration(call.ID, 121))

	got, err := repo.GetCall(call.ID)
	require.NoError(t, err)
	assert.Equal(t, 121, got.Duration)

	stored, err := repo.GetTranscript(call.ID)
	require.NoError(t, err)
	assert.Equal(t, 121, stored.Duration)
}

func TestJobLifecycle(t *testing.T) {
	repo := newTestRepository(t)

	call := newTestCall()
	require.NoError(t, repo.CreateCall(call))
	mustTransition(t, repo, call.ID, models.StatusPending, models.StatusTranscribing)

	job := &models.AnalysisJob{CallID: call.ID}
	ok, err := repo.CompleteTranscription(&models.Transcript{CallID: call.ID, Duration: 5}, job)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.MarkJob(job.ID, models.JobPublished, ""))

	// A freshly published job is not stale yet
	jobs, err := repo.PendingJobs(time.Hour)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	// With a zero stale age every published job is due for reconciliation
	jobs, err = repo.PendingJobs(0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobPublished, jobs[0].Status)
	assert.Equal(t, 1, jobs[0].Attempts)

	require.NoError(t, repo.MarkJob(job.ID, models.JobDone, ""))
	jobs, err = repo.PendingJobs(0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRegisterUpsertPreservesManualFields(t *testing.T) {
	repo := newTestRepository(t)

	call := newTestCall()
	require.NoError(t, repo.CreateCall(call))

	entry := &models.RegisterEntry{
		CallID:         call.ID,
		ExternalCallID: call.CallID,
		AgentName:      call.AgentName,
		AgentID:        call.AgentID,
		CallDate:       time.Now(),
		Duration:       120,
		QAScore:        6.4,
		OverallScore:   6.4,
		KeyMomentCount: 2,
	}
	require.NoError(t, repo.UpsertRegisterEntry(entry))
	require.NoError(t, repo.UpdateRegisterManualFields(call.ID, "kdavies", "coaching needed on closing", "reviewed"))

	// Rebuild with fresher derived values
	entry.QAScore = 7.1
	entry.OverallScore = 7.1
	require.NoError(t, repo.UpsertRegisterEntry(entry))

	entries, err := repo.ListRegisterEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.InDelta(t, 7.1, entries[0].QAScore, 0.001)
	assert.Equal(t, "kdavies", entries[0].Reviewer)
	assert.Equal(t, "coaching needed on closing", entries[0].ReviewNotes)
	assert.Equal(t, "reviewed", entries[0].Disposition)
}

func TestListCalls(t *testing.T) {
	repo := newTestRepository(t)

	first := newTestCall()
	first.IngestedAt = time.Now().Add(-time.Hour)
	require.NoError(t, repo.CreateCall(first))

	second := newTestCall()
	second.CallID = "CA0987654321"
	second.IngestedAt = time.Now()
	require.NoError(t, repo.CreateCall(second))

	calls, err := repo.ListCalls()
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "CA0987654321", calls[0].CallID)
}

func mustTransition(t *testing.T, repo *Repository, id string, from, to models.CallStatus) {
	t.Helper()
	ok, err := repo.CompareAndSetStatus(id, from, to)
	require.NoError(t, err)
	require.True(t, ok)
}
