package models

import (
	"time"
)

// CallStatus represents the processing state of a call record
type CallStatus string

const (
	StatusPending      CallStatus = "pending"
	StatusTranscribing CallStatus = "transcribing"
	StatusAnalyzing    CallStatus = "analyzing"
	StatusComplete     CallStatus = "complete"
	StatusError        CallStatus = "error"
)

// IsTerminal reports whether the status ends a processing attempt
func (s CallStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

// Valid reports whether the status is one of the known states
func (s CallStatus) Valid() bool {
	switch s {
	case StatusPending, StatusTranscribing, StatusAnalyzing, StatusComplete, StatusError:
		return true
	}
	return false
}

// Call represents one audio submission and its processing record
type Call struct {
	ID              string     `db:"id" json:"id"`
	CallID          string     `db:"call_id" json:"call_id"` // external id from the filename convention
	AgentName       string     `db:"agent_name" json:"agent_name"`
	AgentID         string     `db:"agent_id" json:"agent_id"`
	AgentPhone      string     `db:"agent_phone" json:"agent_phone"`
	IngestedAt      time.Time  `db:"ingested_at" json:"ingested_at"`
	Filename        string     `db:"filename" json:"filename"`
	Duration        int        `db:"duration" json:"duration"` // seconds
	Status          CallStatus `db:"status" json:"status"`
	ErrorMessage    string     `db:"error_message" json:"error_message,omitempty"`
	OverallScore    *float64   `db:"overall_score" json:"overall_score,omitempty"`
	QAScore         *float64   `db:"qa_score" json:"qa_score,omitempty"`
	ComplianceScore *float64   `db:"compliance_score" json:"compliance_score,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// CallMetadata holds the structured fields parsed from an upload filename
type CallMetadata struct {
	AgentName string
	AgentID   string
	Phone     string
	CallID    string
	Timestamp time.Time
}

// TranscriptTurn is one speech turn within a transcript
type TranscriptTurn struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Timestamp  float64 `json:"timestamp"` // seconds from call start
	Confidence float64 `json:"confidence"`
}

// Transcript is the transcription result for a call, 1:1 with Call
type Transcript struct {
	ID             string           `db:"id" json:"id"`
	CallID         string           `db:"call_id" json:"call_id"` // internal Call.ID
	Turns          []TranscriptTurn `json:"turns"`
	Duration       int              `db:"duration" json:"duration"`               // seconds
	ProcessingTime float64          `db:"processing_time" json:"processing_time"` // seconds
	Provider       string           `db:"provider" json:"provider"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}

// LastTurnTimestamp returns the timestamp of the final turn, or 0 for an empty transcript
func (t *Transcript) LastTurnTimestamp() float64 {
	if len(t.Turns) == 0 {
		return 0
	}
	return t.Turns[len(t.Turns)-1].Timestamp
}

// KeyMoment is a timestamped, quoted excerpt cited as evidence for a scoring judgment
type KeyMoment struct {
	Timestamp   float64 `json:"timestamp"` // seconds from call start
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Quote       string  `json:"quote"`
}

// Analysis holds the rubric scoring result for a call, 1:1 with Call,
// replaceable on re-analysis
type Analysis struct {
	ID              string             `db:"id" json:"id"`
	CallID          string             `db:"call_id" json:"call_id"`
	Dimensions      map[string]float64 `json:"dimensions"` // named dimension -> 0..10
	QAScore         float64            `db:"qa_score" json:"qa_score"`
	ComplianceScore float64            `db:"compliance_score" json:"compliance_score"`
	OverallScore    float64            `db:"overall_score" json:"overall_score"`
	KeyMoments      []KeyMoment        `json:"key_moments"`
	Outcome         map[string]string  `json:"outcome,omitempty"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at" json:"updated_at"`
}

// Scores is the derived score projection exposed at the service boundary
type Scores struct {
	QAScore         float64 `json:"qa_score"`
	ComplianceScore float64 `json:"compliance_score"`
	OverallScore    float64 `json:"overall_score"`
}

// AnalysisJob is an outbox record guaranteeing an analysis trigger survives
// a lost queue publish
type AnalysisJob struct {
	ID        string    `db:"id" json:"id"`
	CallID    string    `db:"call_id" json:"call_id"`
	Status    string    `db:"status" json:"status"` // pending, published, done, failed
	Attempts  int       `db:"attempts" json:"attempts"`
	LastError string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Analysis job statuses
const (
	JobPending   = "pending"
	JobPublished = "published"
	JobDone      = "done"
	JobFailed    = "failed"
)

// RegisterEntry is one row of the denormalized QA register projection.
// Derived fields are rebuilt by sync; manual fields survive rebuilds.
type RegisterEntry struct {
	CallID          string    `db:"call_id" json:"call_id"`
	ExternalCallID  string    `db:"external_call_id" json:"external_call_id"`
	AgentName       string    `db:"agent_name" json:"agent_name"`
	AgentID         string    `db:"agent_id" json:"agent_id"`
	CallDate        time.Time `db:"call_date" json:"call_date"`
	Duration        int       `db:"duration" json:"duration"`
	QAScore         float64   `db:"qa_score" json:"qa_score"`
	ComplianceScore float64   `db:"compliance_score" json:"compliance_score"`
	OverallScore    float64   `db:"overall_score" json:"overall_score"`
	KeyMomentCount  int       `db:"key_moment_count" json:"key_moment_count"`

	// Manual fields, never touched by sync
	Reviewer    string `db:"reviewer" json:"reviewer,omitempty"`
	ReviewNotes string `db:"review_notes" json:"review_notes,omitempty"`
	Disposition string `db:"disposition" json:"disposition,omitempty"`

	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
