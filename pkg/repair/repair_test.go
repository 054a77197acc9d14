package repair

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callqa-server/pkg/models"
	"callqa-server/pkg/scoring"
)

type memoryStore struct {
	calls       []*models.Call
	transcripts map[string]*models.Transcript
	analyses    map[string]*models.Analysis
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		transcripts: make(map[string]*models.Transcript),
		analyses:    make(map[string]*models.Analysis),
	}
}

func (s *memoryStore) ListCalls() ([]*models.Call, error) {
	return s.calls, nil
}

func (s *memoryStore) GetTranscript(callID string) (*models.Transcript, error) {
	transcript, ok := s.transcripts[callID]
	if !ok {
		return nil, fmt.Errorf("transcript not found")
	}
	return transcript, nil
}

func (s *memoryStore) GetAnalysis(callID string) (*models.Analysis, error) {
	analysis, ok := s.analyses[callID]
	if !ok {
		return nil, fmt.Errorf("analysis not found")
	}
	return analysis, nil
}

func (s *memoryStore) UpdateAnalysisScores(analysis *models.Analysis) error {
	s.analyses[analysis.CallID] = analysis
	return nil
}

func (s *memoryStore) RepairDuration(callID string, duration int) error {
	for _, call := range s.calls {
		if call.ID == callID {
			call.Duration = duration
		}
	}
	if transcript, ok := s.transcripts[callID]; ok {
		transcript.Duration = duration
	}
	return nil
}

func newTestRepairer(store Store) *Repairer {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewRepairer(logger, store)
}

func TestRepairObjectionScore(t *testing.T) {
	store := newMemoryStore()
	store.calls = []*models.Call{{ID: "c1", Status: models.StatusComplete, Duration: 121}}
	store.transcripts["c1"] = &models.Transcript{
		CallID:   "c1",
		Turns:    []models.TranscriptTurn{{Speaker: "agent", Text: "bye", Timestamp: 115.2}},
		Duration: 121,
	}
	store.analyses["c1"] = &models.Analysis{
		CallID: "c1",
		Dimensions: map[string]float64{
			"rapport":            7,
			"objection_handling": 0,
		},
		KeyMoments: []models.KeyMoment{
			{Category: "closing", Description: "asked for the sale"},
		},
	}

	report, err := newTestRepairer(store).Run()
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Updated)
	require.Len(t, report.Changes, 1)
	assert.Equal(t, "objection_score", report.Changes[0].Rule)
	assert.Equal(t, 0.0, report.Changes[0].Before)
	assert.Equal(t, 8.0, report.Changes[0].After)

	repaired := store.analyses["c1"]
	assert.Equal(t, 8.0, repaired.Dimensions[scoring.ObjectionHandlingDimension])
	assert.Greater(t, repaired.QAScore, 0.0)
}

func TestObjectionScorePreservedWithEvidence(t *testing.T) {
	store := newMemoryStore()
	store.calls = []*models.Call{{ID: "c1", Status: models.StatusComplete, Duration: 121}}
	store.transcripts["c1"] = &models.Transcript{
		CallID:   "c1",
		Turns:    []models.TranscriptTurn{{Speaker: "agent", Text: "bye", Timestamp: 115.2}},
		Duration: 121,
	}
	store.analyses["c1"] = &models.Analysis{
		CallID:     "c1",
		Dimensions: map[string]float64{"objection_handling": 0},
		KeyMoments: []models.KeyMoment{
			{Category: "objection", Description: "customer pushed back on price, agent gave up"},
		},
	}

	report, err := newTestRepairer(store).Run()
	require.NoError(t, err)

	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 0.0, store.analyses["c1"].Dimensions[scoring.ObjectionHandlingDimension])
}

func TestRepairDuration(t *testing.T) {
	store := newMemoryStore()
	store.calls = []*models.Call{{ID: "c1", Status: models.StatusComplete, Duration: 0}}
	store.transcripts["c1"] = &models.Transcript{
		CallID:   "c1",
		Turns:    []models.TranscriptTurn{{Speaker: "agent", Text: "goodbye", Timestamp: 115.2}},
		Duration: 0,
	}

	report, err := newTestRepairer(store).Run()
	require.NoError(t, err)

	require.Len(t, report.Changes, 1)
	assert.Equal(t, "duration", report.Changes[0].Rule)
	assert.Equal(t, 0.0, report.Changes[0].Before)
	assert.Equal(t, 121.0, report.Changes[0].After)

	// Both records move together
	assert.Equal(t, 121, store.calls[0].Duration)
	assert.Equal(t, 121, store.transcripts["c1"].Duration)
}

func TestRepairDurationKeepsProviderValue(t *testing.T) {
	store := newMemoryStore()
	store.calls = []*models.Call{{ID: "c1", Status: models.StatusComplete, Duration: 130}}
	store.transcripts["c1"] = &models.Transcript{
		CallID:   "c1",
		Turns:    []models.TranscriptTurn{{Speaker: "agent", Text: "goodbye", Timestamp: 115.2}},
		Duration: 130,
	}

	// 130s of audio with the last turn at 115.2s is consistent, the trailing
	// silence belongs to the recording
	report, err := newTestRepairer(store).Run()
	require.NoError(t, err)

	assert.Equal(t, 0, report.Updated)
	assert.Empty(t, report.Changes)
	assert.Equal(t, 130, store.calls[0].Duration)
	assert.Equal(t, 130, store.transcripts["c1"].Duration)
}

func TestRepairSkipsInFlightCalls(t *testing.T) {
	store := newMemoryStore()
	store.calls = []*models.Call{
		{ID: "c1", Status: models.StatusTranscribing},
		{ID: "c2", Status: models.StatusAnalyzing},
	}

	report, err := newTestRepairer(store).Run()
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 0, report.Updated)
}

func TestRepairIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	store.calls = []*models.Call{{ID: "c1", Status: models.StatusComplete, Duration: 0}}
	store.transcripts["c1"] = &models.Transcript{
		CallID:   "c1",
		Turns:    []models.TranscriptTurn{{Speaker: "agent", Text: "goodbye", Timestamp: 115.2}},
		Duration: 0,
	}
	store.analyses["c1"] = &models.Analysis{
		CallID:     "c1",
		Dimensions: map[string]float64{"objection_handling": 0, "rapport": 6},
	}

	repairer := newTestRepairer(store)

	first, err := repairer.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, first.Updated)
	assert.Len(t, first.Changes, 2)

	second, err := repairer.Run()
	require.NoError(t, err)
	assert.Equal(t, 0, second.Updated)
	assert.Empty(t, second.Changes)
}

func TestRepairEmptyTranscriptLeavesDuration(t *testing.T) {
	store := newMemoryStore()
	store.calls = []*models.Call{{ID: "c1", Status: models.StatusComplete, Duration: 0}}
	store.transcripts["c1"] = &models.Transcript{CallID: "c1", Duration: 0}

	report, err := newTestRepairer(store).Run()
	require.NoError(t, err)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 0, store.calls[0].Duration)
}
