// Package event defines the append-only event envelope, the per-type
// payload union, and the validation rules enforced at every boundary.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event type constants. The payload shape for each type is defined in
// payloads.go and registered in registry.go.
const (
	TypeCardReviewed                  = "card_reviewed"
	TypeQuestionAttempted             = "question_attempted"
	TypeRelationshipReviewed          = "relationship_reviewed"
	TypeMisconceptionProbeResult      = "misconception_probe_result"
	TypeSessionStarted                = "session_started"
	TypeSessionEnded                  = "session_ended"
	TypeAccelerationApplied           = "acceleration_applied"
	TypeLapseApplied                  = "lapse_applied"
	TypeMasteryCertificationStarted   = "mastery_certification_started"
	TypeMasteryCertificationCompleted = "mastery_certification_completed"
	TypeCardAnnotationUpdated         = "card_annotation_updated"
	TypeContentFlagged                = "content_flagged"
	TypeInterventionAccepted          = "intervention_accepted"
	TypeInterventionRejected          = "intervention_rejected"
	TypeLibraryIDMapApplied           = "library_id_map_applied"
)

// Entity kind constants.
const (
	KindCard             = "card"
	KindQuestion         = "question"
	KindRelationshipCard = "relationship_card"
	KindConcept          = "concept"
	KindSession          = "session"
	KindMisconceptionEdge = "misconception_edge"
	KindLibraryVersion   = "library_version"
)

// Identifier prefixes enforced at the schema level.
const (
	PrefixEvent            = "evt_"
	PrefixUser             = "user_"
	PrefixLibrary          = "lib_"
	PrefixCard             = "card_"
	PrefixQuestion         = "q_"
	PrefixOption           = "opt_"
	PrefixConcept          = "concept_"
	PrefixSession          = "session_"
	PrefixRelationshipCard = "card_rel_"
	PrefixMisconception    = "mis_edge_"
)

// TimeLayout is the canonical timestamp format: ISO-8601 UTC with
// fixed-width millisecond precision, so that lexicographic order of
// formatted timestamps matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in the canonical UTC layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses an ISO-8601 UTC timestamp (with or without
// fractional seconds).
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// Entity identifies the domain object an event affects.
type Entity struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Envelope is the fixed outer structure of every event. Payload is a
// discriminated union keyed by Type; see registry.go.
//
// Events are immutable once written: the envelope deliberately has no
// updated_at / revision style fields, and validation rejects them.
type Envelope struct {
	EventID       string          `json:"event_id"`
	Type          string          `json:"type"`
	UserID        string          `json:"user_id"`
	LibraryID     string          `json:"library_id"`
	OccurredAt    string          `json:"occurred_at"`
	ReceivedAt    string          `json:"received_at,omitempty"`
	DeviceID      string          `json:"device_id"`
	Entity        Entity          `json:"entity"`
	Payload       json.RawMessage `json:"payload"`
	SchemaVersion string          `json:"schema_version"`
}

// Path returns the canonical storage path of the event:
// users/{user_id}/libraries/{library_id}/events/{event_id}.
// The path is fully determined by the envelope; create-only semantics
// at the store make event_id the idempotency key.
func (e *Envelope) Path() (string, error) {
	if err := checkPrefix("user_id", e.UserID, PrefixUser); err != nil {
		return "", err
	}
	if err := checkPrefix("library_id", e.LibraryID, PrefixLibrary); err != nil {
		return "", err
	}
	if err := checkPrefix("event_id", e.EventID, PrefixEvent); err != nil {
		return "", err
	}
	return fmt.Sprintf("users/%s/libraries/%s/events/%s", e.UserID, e.LibraryID, e.EventID), nil
}

// EventsCollection returns the collection path that holds all events of
// a (user, library) pair.
func EventsCollection(userID, libraryID string) string {
	return fmt.Sprintf("users/%s/libraries/%s/events", userID, libraryID)
}

// InvalidIdentifierError reports an identifier that lacks its required
// prefix. Caller-fixable; never retried.
type InvalidIdentifierError struct {
	Field  string
	Value  string
	Prefix string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier in %s: %q must start with %q", e.Field, e.Value, e.Prefix)
}

func checkPrefix(field, value, prefix string) error {
	if !strings.HasPrefix(value, prefix) || len(value) <= len(prefix) {
		return &InvalidIdentifierError{Field: field, Value: value, Prefix: prefix}
	}
	return nil
}

// kindPrefixes maps entity kinds to their required identifier prefix.
// library_version identifiers carry no mandated prefix.
var kindPrefixes = map[string]string{
	KindCard:              PrefixCard,
	KindQuestion:          PrefixQuestion,
	KindRelationshipCard:  PrefixRelationshipCard,
	KindConcept:           PrefixConcept,
	KindSession:           PrefixSession,
	KindMisconceptionEdge: PrefixMisconception,
}

// ValidKind reports whether kind is one of the recognized entity kinds.
func ValidKind(kind string) bool {
	switch kind {
	case KindCard, KindQuestion, KindRelationshipCard, KindConcept,
		KindSession, KindMisconceptionEdge, KindLibraryVersion:
		return true
	}
	return false
}
