// Package register maintains the QA register, a denormalized per-call view
// for reviewers. Derived columns are rebuilt from the call and analysis
// records; manual reviewer columns survive every rebuild.
package register

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"callqa-server/pkg/models"
)

// Store is the durable state the register reads and writes
type Store interface {
	ListCalls() ([]*models.Call, error)
	GetAnalysis(callID string) (*models.Analysis, error)
	UpsertRegisterEntry(entry *models.RegisterEntry) error
	UpdateRegisterManualFields(callID, reviewer, notes, disposition string) error
	ListRegisterEntries() ([]*models.RegisterEntry, error)
}

// Register materializes and serves the QA register
type Register struct {
	logger *logrus.Logger
	store  Store
}

// NewRegister creates a new register
func NewRegister(logger *logrus.Logger, store Store) *Register {
	return &Register{
		logger: logger,
		store:  store,
	}
}

// Sync rebuilds the derived columns for every completed call. Returns the
// number of rows written.
func (r *Register) Sync() (int, error) {
	calls, err := r.store.ListCalls()
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, call := range calls {
		if call.Status != models.StatusComplete {
			continue
		}

		entry := &models.RegisterEntry{
			CallID:         call.ID,
			ExternalCallID: call.CallID,
			AgentName:      call.AgentName,
			AgentID:        call.AgentID,
			CallDate:       call.IngestedAt,
			Duration:       call.Duration,
		}

		if call.QAScore != nil {
			entry.QAScore = *call.QAScore
		}
		if call.ComplianceScore != nil {
			entry.ComplianceScore = *call.ComplianceScore
		}
		if call.OverallScore != nil {
			entry.OverallScore = *call.OverallScore
		}

		if analysis, err := r.store.GetAnalysis(call.ID); err == nil {
			entry.KeyMomentCount = len(analysis.KeyMoments)
		}

		if err := r.store.UpsertRegisterEntry(entry); err != nil {
			return synced, fmt.Errorf("failed to sync register row for call %s: %w", call.ID, err)
		}
		synced++
	}

	r.logger.WithField("rows", synced).Info("QA register synced")
	return synced, nil
}

// Entries returns the current register rows
func (r *Register) Entries() ([]*models.RegisterEntry, error) {
	return r.store.ListRegisterEntries()
}

// Review writes the manual reviewer columns for one row
func (r *Register) Review(callID, reviewer, notes, disposition string) error {
	if err := r.store.UpdateRegisterManualFields(callID, reviewer, notes, disposition); err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"call_id":  callID,
		"reviewer": reviewer,
	}).Info("Register row reviewed")
	return nil
}
