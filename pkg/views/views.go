// Package views defines the materialized read-model documents and the
// per-view idempotency cursor that gives projection exactly-once
// semantics over at-least-once delivery.
package views

import "fmt"

// View collection names under users/{u}/libraries/{l}/views/.
const (
	CollectionCardSchedule         = "card_schedule"
	CollectionCardPerf             = "card_perf"
	CollectionQuestionPerf         = "question_perf"
	CollectionRelationshipSchedule = "relationship_schedule"
	CollectionRelationshipPerf     = "relationship_perf"
	CollectionMisconceptionEdge    = "misconception_edge"
	CollectionConceptCertification = "concept_certification"
	CollectionSession              = "session"
	CollectionCardAnnotation       = "card_annotation"
)

// Card schedule states.
const (
	StateNew      = 0
	StateLearning = 1
	StateYoung    = 2
	StateMature   = 3
)

// Misconception statuses; a pure function of strength.
const (
	MisconceptionActive   = "active"
	MisconceptionStrong   = "strong"
	MisconceptionResolved = "resolved"
)

// Session statuses.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
)

// Path returns the document path of a view.
func Path(userID, libraryID, collection, entityID string) string {
	return fmt.Sprintf("users/%s/libraries/%s/views/%s/%s", userID, libraryID, collection, entityID)
}

// Collection returns the collection path that holds every document of
// one view kind for a (user, library) pair.
func Collection(userID, libraryID, collection string) string {
	return fmt.Sprintf("users/%s/libraries/%s/views/%s", userID, libraryID, collection)
}

// SummaryPath returns the document path of a session summary.
func SummaryPath(userID, libraryID, sessionID string) string {
	return fmt.Sprintf("users/%s/libraries/%s/session_summaries/%s", userID, libraryID, sessionID)
}

// Meta is carried by every view document: the projector cursor and the
// write timestamp.
type Meta struct {
	LastApplied LastApplied `json:"last_applied"`
	UpdatedAt   string      `json:"updated_at"`
}

// CardScheduleView is the FSRS-style schedule state of one card.
type CardScheduleView struct {
	State          int     `json:"state"`
	DueAt          string  `json:"due_at"`
	Stability      float64 `json:"stability"`
	Difficulty     float64 `json:"difficulty"`
	IntervalDays   int     `json:"interval_days"`
	LastReviewedAt string  `json:"last_reviewed_at,omitempty"`
	LastGrade      string  `json:"last_grade,omitempty"`
	Meta
}

// PerformanceView is the accuracy/latency statistics of one card or
// question. Counters are monotonic; accuracy stays in [0,1].
type PerformanceView struct {
	TotalReviews   int     `json:"total_reviews"`
	CorrectReviews int     `json:"correct_reviews"`
	AccuracyRate   float64 `json:"accuracy_rate"`
	AvgSeconds     float64 `json:"avg_seconds"`
	Streak         int     `json:"streak"`
	MaxStreak      int     `json:"max_streak"`
	Meta
}

// RelationshipScheduleView is the schedule state of one relationship
// card; same shape as a card schedule plus the last outcome.
type RelationshipScheduleView struct {
	State          int     `json:"state"`
	DueAt          string  `json:"due_at"`
	Stability      float64 `json:"stability"`
	Difficulty     float64 `json:"difficulty"`
	IntervalDays   int     `json:"interval_days"`
	LastReviewedAt string  `json:"last_reviewed_at,omitempty"`
	LastGrade      string  `json:"last_grade,omitempty"`
	LastCorrect    bool    `json:"last_correct"`
	Meta
}

// MisconceptionEdgeView tracks one suspected misconception between two
// concepts. Evidence counters other than probe_confirmations are
// advanced by event types outside this pipeline and carried through.
type MisconceptionEdgeView struct {
	ConceptAID        string         `json:"concept_a_id,omitempty"`
	ConceptBID        string         `json:"concept_b_id,omitempty"`
	Direction         string         `json:"direction,omitempty"`
	MisconceptionType string         `json:"misconception_type,omitempty"`
	Strength          float64        `json:"strength"`
	Status            string         `json:"status"`
	Evidence          map[string]int `json:"evidence"`
	FirstObservedAt   string         `json:"first_observed_at,omitempty"`
	LastObservedAt    string         `json:"last_observed_at,omitempty"`
	Meta
}

// CertificationAttempt is one entry of the append-only certification
// history.
type CertificationAttempt struct {
	Result            string  `json:"result"`
	Date              string  `json:"date"`
	QuestionsAnswered int     `json:"questions_answered"`
	CorrectCount      int     `json:"correct_count"`
	ReasoningQuality  *string `json:"reasoning_quality,omitempty"`
}

// ConceptCertificationView records mastery certification outcomes for
// one concept. History grows unbounded; truncation is a caller concern.
type ConceptCertificationView struct {
	CertificationResult  string                 `json:"certification_result"`
	Accuracy             float64                `json:"accuracy"`
	CertificationHistory []CertificationAttempt `json:"certification_history"`
	Meta
}

// SessionView is the lifecycle state of one study session.
type SessionView struct {
	Status                   string   `json:"status"`
	StartedAt                string   `json:"started_at,omitempty"`
	EndedAt                  string   `json:"ended_at,omitempty"`
	PlannedLoad              int      `json:"planned_load"`
	ActualLoad               int      `json:"actual_load"`
	QueueSize                int      `json:"queue_size"`
	CramMode                 bool     `json:"cram_mode"`
	RetentionDelta           *float64 `json:"retention_delta,omitempty"`
	FatigueHit               *bool    `json:"fatigue_hit,omitempty"`
	UserAcceptedIntervention *bool    `json:"user_accepted_intervention,omitempty"`
	Meta
}

// SessionTotals are cross-event aggregates the reducers here do not
// populate; they may be computed out-of-band.
type SessionTotals struct {
	CardsReviewed     int     `json:"cards_reviewed"`
	QuestionsAnswered int     `json:"questions_answered"`
	TotalTimeSeconds  float64 `json:"total_time_seconds"`
}

// SessionSummary is written once, at session end.
type SessionSummary struct {
	SessionID                string        `json:"session_id"`
	StartedAt                string        `json:"started_at,omitempty"`
	EndedAt                  string        `json:"ended_at"`
	PlannedLoad              int           `json:"planned_load"`
	ActualLoad               int           `json:"actual_load"`
	Totals                   SessionTotals `json:"totals"`
	RetentionDelta           *float64      `json:"retention_delta,omitempty"`
	FatigueHit               *bool         `json:"fatigue_hit,omitempty"`
	UserAcceptedIntervention *bool         `json:"user_accepted_intervention,omitempty"`
	Meta
}

// CardAnnotationView holds user tags and the pinned flag of one card.
// Tags have set semantics; insertion order is preserved for display.
type CardAnnotationView struct {
	Tags          []string `json:"tags"`
	Pinned        bool     `json:"pinned"`
	LastUpdatedAt string   `json:"last_updated_at,omitempty"`
	Meta
}
