package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callqa-server/pkg/analysis"
	"callqa-server/pkg/database"
	"callqa-server/pkg/errors"
	"callqa-server/pkg/lifecycle"
	"callqa-server/pkg/models"
	"callqa-server/pkg/stt"
	"callqa-server/pkg/upload"
)

const testFilename = "[Smith, John]_AG42-+15551234567_20260115103000(CA1234567890).wav"

type testHarness struct {
	service *Service
	repo    *database.Repository
	worker  *lifecycle.Worker
}

func newTestService(t *testing.T) *testHarness {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	dir := t.TempDir()

	db, err := database.NewSQLiteDatabase(filepath.Join(dir, "callqa.db"), 5*time.Second, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := database.NewRepository(db, logger)

	assembler, err := upload.NewAssembler(logger, filepath.Join(dir, "chunks"), filepath.Join(dir, "recordings"), time.Hour)
	require.NoError(t, err)

	provider := stt.NewMockProvider(logger)
	manager := stt.NewProviderManager(logger, provider.Name())
	require.NoError(t, manager.RegisterProvider(provider))

	analyzer := analysis.NewMockAnalyzer(logger)

	engine := lifecycle.NewEngine(logger, repo, manager, nil, analyzer, nil, provider.Name(), 25<<20, "callqa.analysis")
	worker := lifecycle.NewWorker(logger, engine, repo, time.Minute, 5*time.Minute)

	return &testHarness{
		service: NewService(logger, db, repo, assembler, engine),
		repo:    repo,
		worker:  worker,
	}
}

// ingestUpload pushes a two-chunk upload through and returns the created call
func ingestUpload(t *testing.T, h *testHarness) *IngestResult {
	t.Helper()

	partial, err := h.service.IngestChunk(testFilename, 0, 2, []byte("RIFF first half "))
	require.NoError(t, err)
	require.False(t, partial.Assembled)
	require.Nil(t, partial.Call)

	result, err := h.service.IngestChunk(testFilename, 1, 2, []byte("second half"))
	require.NoError(t, err)
	require.True(t, result.Assembled)
	require.NotNil(t, result.Call)
	return result
}

func TestIngestCreatesPendingCall(t *testing.T) {
	h := newTestService(t)

	result := ingestUpload(t, h)

	assert.Equal(t, "CA1234567890", result.Call.CallID)
	assert.Equal(t, "Smith, John", result.Call.AgentName)
	assert.Equal(t, "AG42", result.Call.AgentID)
	assert.Equal(t, models.StatusPending, result.Call.Status)
	assert.NotEmpty(t, result.AudioPath)

	ingested := time.Date(2026, 1, 15, 10, 30, 0, 0, time.Local)
	assert.True(t, result.Call.IngestedAt.Equal(ingested))
}

func TestIngestRejectsMalformedFilename(t *testing.T) {
	h := newTestService(t)

	_, err := h.service.IngestChunk("recording-final.wav", 0, 1, []byte("RIFF audio"))
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrParseFailure))
}

func TestFullPipeline(t *testing.T) {
	h := newTestService(t)
	result := ingestUpload(t, h)

	require.NoError(t, h.service.ProcessCall(context.Background(), result.Call.ID, result.AudioPath))

	call, err := h.service.GetCall(result.Call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAnalyzing, call.Status)

	// No scores until analysis commits
	_, err = h.service.GetScores(result.Call.ID)
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrFailedPrecondition))

	handled := h.worker.Sweep(context.Background())
	assert.Equal(t, 1, handled)

	call, err = h.service.GetCall(result.Call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, call.Status)

	scores, err := h.service.GetScores(result.Call.ID)
	require.NoError(t, err)
	assert.Greater(t, scores.QAScore, 0.0)
	assert.Greater(t, scores.OverallScore, 0.0)
}

func TestDuplicateProcessTriggers(t *testing.T) {
	h := newTestService(t)
	result := ingestUpload(t, h)

	const triggers = 6
	results := make(chan error, triggers)

	var wg sync.WaitGroup
	for i := 0; i < triggers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- h.service.ProcessCall(context.Background(), result.Call.ID, result.AudioPath)
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, refused int
	for err := range results {
		if err == nil {
			succeeded++
		} else if errors.IsErrorType(err, errors.ErrAlreadyProcessing) {
			refused++
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, triggers-1, refused)

	// Exactly one transcript committed
	transcript, err := h.repo.GetTranscript(result.Call.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, transcript.Turns)
}

func TestVerifyQuotes(t *testing.T) {
	h := newTestService(t)
	result := ingestUpload(t, h)

	require.NoError(t, h.service.ProcessCall(context.Background(), result.Call.ID, result.AudioPath))
	require.Equal(t, 1, h.worker.Sweep(context.Background()))

	report, err := h.service.VerifyQuotes(result.Call.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Call.ID, report.CallID)
	assert.NotEmpty(t, report.Results)
}

func TestRepairInconsistencies(t *testing.T) {
	h := newTestService(t)
	result := ingestUpload(t, h)

	require.NoError(t, h.service.ProcessCall(context.Background(), result.Call.ID, result.AudioPath))
	require.Equal(t, 1, h.worker.Sweep(context.Background()))

	// Zero out the stored duration, repair must recompute it from the transcript
	require.NoError(t, h.repo.RepairDuration(result.Call.ID, 0))

	report, err := h.service.RepairInconsistencies()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	require.NotEmpty(t, report.Changes)

	transcript, err := h.repo.GetTranscript(result.Call.ID)
	require.NoError(t, err)
	call, err := h.service.GetCall(result.Call.ID)
	require.NoError(t, err)
	assert.Equal(t, transcript.Duration, call.Duration)

	// The register picks up the repaired values
	entries, err := h.service.Register().Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, call.Duration, entries[0].Duration)
}

func TestHealth(t *testing.T) {
	h := newTestService(t)
	assert.NoError(t, h.service.Health())
}
