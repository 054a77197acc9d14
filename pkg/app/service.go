// Package app wires the processing pipeline into one service surface:
// chunk ingest, lifecycle triggers, score reads, quote verification,
// consistency repair and the QA register.
package app

import (
	"context"

	"github.com/sirupsen/logrus"

	"callqa-server/pkg/database"
	"callqa-server/pkg/errors"
	"callqa-server/pkg/lifecycle"
	"callqa-server/pkg/metadata"
	"callqa-server/pkg/metrics"
	"callqa-server/pkg/models"
	"callqa-server/pkg/register"
	"callqa-server/pkg/repair"
	"callqa-server/pkg/upload"
	"callqa-server/pkg/verify"
)

// Service is the call processing service facade
type Service struct {
	logger    *logrus.Logger
	db        *database.SQLiteDatabase
	repo      *database.Repository
	assembler *upload.Assembler
	engine    *lifecycle.Engine
	repairer  *repair.Repairer
	register  *register.Register
	verifier  *verify.Verifier
}

// NewService creates a new service facade
func NewService(
	logger *logrus.Logger,
	db *database.SQLiteDatabase,
	repo *database.Repository,
	assembler *upload.Assembler,
	engine *lifecycle.Engine,
) *Service {
	return &Service{
		logger:    logger,
		db:        db,
		repo:      repo,
		assembler: assembler,
		engine:    engine,
		repairer:  repair.NewRepairer(logger, repo),
		register:  register.NewRegister(logger, repo),
		verifier:  verify.NewVerifier(logger),
	}
}

// IngestResult reports the outcome of one chunk submission
type IngestResult struct {
	Assembled bool         `json:"assembled"`
	AudioPath string       `json:"audio_path,omitempty"`
	Call      *models.Call `json:"call,omitempty"`
}

// IngestChunk stores one upload chunk. When the chunk completes the upload,
// the filename is parsed and a pending call record is created. A filename
// that does not match the naming convention rejects the whole upload.
func (s *Service) IngestChunk(filename string, index, totalChunks int, data []byte) (*IngestResult, error) {
	if metrics.ChunksReceived != nil {
		terminal := "false"
		if index == totalChunks-1 {
			terminal = "true"
		}
		metrics.ChunksReceived.WithLabelValues(terminal).Inc()
	}

	chunk, err := s.assembler.PutChunk(filename, index, totalChunks, data)
	if err != nil {
		return nil, err
	}
	if !chunk.Complete {
		return &IngestResult{Assembled: false}, nil
	}

	if metrics.UploadsAssembled != nil {
		metrics.UploadsAssembled.Inc()
	}

	meta, err := metadata.Parse(filename)
	if err != nil {
		if metrics.ParseFailures != nil {
			metrics.ParseFailures.Inc()
		}
		return nil, err
	}

	call := &models.Call{
		CallID:     meta.CallID,
		AgentName:  meta.AgentName,
		AgentID:    meta.AgentID,
		AgentPhone: meta.Phone,
		IngestedAt: meta.Timestamp,
		Filename:   filename,
		Status:     models.StatusPending,
	}
	if err := s.repo.CreateCall(call); err != nil {
		return nil, err
	}
	if metrics.CallsIngested != nil {
		metrics.CallsIngested.Inc()
	}

	return &IngestResult{
		Assembled: true,
		AudioPath: chunk.FinalPath,
		Call:      call,
	}, nil
}

// ProcessCall runs a pending call through transcription. Concurrent triggers
// for the same call resolve to one winner, the rest get ErrAlreadyProcessing.
func (s *Service) ProcessCall(ctx context.Context, callID, audioPath string) error {
	return s.engine.BeginProcessing(ctx, callID, audioPath)
}

// Reanalyze re-runs rubric analysis on a completed call
func (s *Service) Reanalyze(ctx context.Context, callID string) error {
	return s.engine.Reanalyze(ctx, callID)
}

// GetCall returns a call record
func (s *Service) GetCall(callID string) (*models.Call, error) {
	return s.repo.GetCall(callID)
}

// ListCalls returns all call records, newest first
func (s *Service) ListCalls() ([]*models.Call, error) {
	return s.repo.ListCalls()
}

// GetScores returns the derived scores of a completed call
func (s *Service) GetScores(callID string) (*models.Scores, error) {
	call, err := s.repo.GetCall(callID)
	if err != nil {
		return nil, err
	}
	if call.Status != models.StatusComplete {
		return nil, errors.Wrap(errors.ErrFailedPrecondition, "call has no scores yet",
			map[string]interface{}{"call_id": callID, "status": call.Status})
	}

	scores := &models.Scores{}
	if call.QAScore != nil {
		scores.QAScore = *call.QAScore
	}
	if call.ComplianceScore != nil {
		scores.ComplianceScore = *call.ComplianceScore
	}
	if call.OverallScore != nil {
		scores.OverallScore = *call.OverallScore
	}

	return scores, nil
}

// VerifyQuotes checks every key moment quote of a call against its transcript
func (s *Service) VerifyQuotes(callID string) (*verify.Report, error) {
	transcript, err := s.repo.GetTranscript(callID)
	if err != nil {
		return nil, err
	}
	analysis, err := s.repo.GetAnalysis(callID)
	if err != nil {
		return nil, err
	}

	return s.verifier.Verify(callID, transcript, analysis), nil
}

// RepairInconsistencies runs one consistency repair pass and refreshes the
// QA register with the corrected values
func (s *Service) RepairInconsistencies() (*repair.Report, error) {
	report, err := s.repairer.Run()
	if err != nil {
		return nil, err
	}

	if _, syncErr := s.register.Sync(); syncErr != nil {
		s.logger.WithError(syncErr).Warn("Register sync after repair failed")
	}

	return report, nil
}

// Register returns the QA register component
func (s *Service) Register() *register.Register {
	return s.register
}

// Health reports whether the durable store is reachable
func (s *Service) Health() error {
	return s.db.Health()
}
