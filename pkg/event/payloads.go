package event

import (
	"errors"
	"fmt"
	"strings"
)

// Payload is the typed form of an envelope's payload. Each concrete
// payload carries validator tags for field constraints; cross-field
// rules live in the Validate method.
type Payload interface {
	// Validate enforces cross-field constraints that struct tags
	// cannot express. Field-level constraints are checked separately
	// by the registry via go-playground/validator.
	Validate() error
}

// Grade values for card_reviewed.
const (
	GradeAgain = "again"
	GradeHard  = "hard"
	GradeGood  = "good"
	GradeEasy  = "easy"
)

// Certification results.
const (
	CertificationFull    = "full"
	CertificationPartial = "partial"
	CertificationNone    = "none"
)

// Annotation actions.
const (
	AnnotationAdded   = "added"
	AnnotationRemoved = "removed"
	AnnotationUpdated = "updated"
)

// CardReviewedPayload records a single flashcard review.
type CardReviewedPayload struct {
	Grade            string  `json:"grade" validate:"required,oneof=again hard good easy"`
	SecondsSpent     float64 `json:"seconds_spent" validate:"gte=0"`
	RatingConfidence *int    `json:"rating_confidence,omitempty" validate:"omitempty,gte=0,lte=3"`
}

func (p *CardReviewedPayload) Validate() error { return nil }

// QuestionAttemptedPayload records a multiple-choice attempt.
type QuestionAttemptedPayload struct {
	SelectedOptionID string  `json:"selected_option_id" validate:"required"`
	Correct          bool    `json:"correct"`
	SecondsSpent     float64 `json:"seconds_spent" validate:"gte=0"`
}

func (p *QuestionAttemptedPayload) Validate() error {
	return checkPrefix("selected_option_id", p.SelectedOptionID, PrefixOption)
}

// Direction names the directed pair of concepts a relationship review
// was presented in.
type Direction struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

// RelationshipReviewedPayload records a relationship-card review.
type RelationshipReviewedPayload struct {
	ConceptAID     string    `json:"concept_a_id" validate:"required"`
	ConceptBID     string    `json:"concept_b_id" validate:"required"`
	Direction      Direction `json:"direction"`
	Correct        bool      `json:"correct"`
	HighConfidence bool      `json:"high_confidence"`
	SecondsSpent   float64   `json:"seconds_spent" validate:"gte=0"`
}

func (p *RelationshipReviewedPayload) Validate() error {
	if err := checkPrefix("concept_a_id", p.ConceptAID, PrefixConcept); err != nil {
		return err
	}
	if err := checkPrefix("concept_b_id", p.ConceptBID, PrefixConcept); err != nil {
		return err
	}
	if p.ConceptAID == p.ConceptBID {
		return errors.New("concept_a_id and concept_b_id must be distinct")
	}
	if p.Direction.From == p.Direction.To {
		return errors.New("direction endpoints must be distinct")
	}
	return nil
}

// MisconceptionProbeResultPayload records the outcome of a targeted
// misconception probe.
type MisconceptionProbeResultPayload struct {
	Confirmed          bool    `json:"confirmed"`
	ExplanationQuality *string `json:"explanation_quality,omitempty" validate:"omitempty,oneof=good weak"`
	SecondsSpent       float64 `json:"seconds_spent" validate:"gte=0"`
}

func (p *MisconceptionProbeResultPayload) Validate() error { return nil }

// SessionStartedPayload opens a study session.
type SessionStartedPayload struct {
	PlannedLoad int   `json:"planned_load" validate:"gte=0"`
	QueueSize   int   `json:"queue_size" validate:"gte=0"`
	CramMode    *bool `json:"cram_mode,omitempty"`
}

func (p *SessionStartedPayload) Validate() error { return nil }

// SessionEndedPayload closes a study session.
type SessionEndedPayload struct {
	ActualLoad               int      `json:"actual_load" validate:"gte=0"`
	RetentionDelta           *float64 `json:"retention_delta,omitempty"`
	FatigueHit               *bool    `json:"fatigue_hit,omitempty"`
	UserAcceptedIntervention *bool    `json:"user_accepted_intervention,omitempty"`
}

func (p *SessionEndedPayload) Validate() error { return nil }

// AccelerationAppliedPayload records an explicit upward stability
// intervention. The payload carries the trigger and factor only —
// never algorithm-derived schedule fields.
type AccelerationAppliedPayload struct {
	AccelerationFactor float64 `json:"acceleration_factor" validate:"gte=1"`
	Trigger            string  `json:"trigger" validate:"required"`
}

func (p *AccelerationAppliedPayload) Validate() error { return nil }

// LapseAppliedPayload records an explicit downward stability
// intervention, distinct from a review graded "again".
type LapseAppliedPayload struct {
	PenaltyFactor float64 `json:"penalty_factor" validate:"gte=0,lte=1"`
	Trigger       string  `json:"trigger" validate:"required"`
}

func (p *LapseAppliedPayload) Validate() error { return nil }

// MasteryCertificationStartedPayload opens a certification attempt.
type MasteryCertificationStartedPayload struct {
	TargetType *string `json:"target_type,omitempty"`
}

func (p *MasteryCertificationStartedPayload) Validate() error { return nil }

// MasteryCertificationCompletedPayload records a finished certification
// attempt.
type MasteryCertificationCompletedPayload struct {
	CertificationResult string  `json:"certification_result" validate:"required,oneof=full partial none"`
	QuestionsAnswered   int     `json:"questions_answered" validate:"gte=0"`
	CorrectCount        int     `json:"correct_count" validate:"gte=0"`
	ReasoningQuality    *string `json:"reasoning_quality,omitempty"`
}

func (p *MasteryCertificationCompletedPayload) Validate() error {
	if p.CorrectCount > p.QuestionsAnswered {
		return fmt.Errorf("correct_count %d exceeds questions_answered %d", p.CorrectCount, p.QuestionsAnswered)
	}
	return nil
}

// CardAnnotationUpdatedPayload records a user annotation change.
type CardAnnotationUpdatedPayload struct {
	Action string   `json:"action" validate:"required,oneof=added removed updated"`
	Tags   []string `json:"tags,omitempty"`
	Pinned *bool    `json:"pinned,omitempty"`
}

func (p *CardAnnotationUpdatedPayload) Validate() error {
	for _, tag := range p.Tags {
		if strings.TrimSpace(tag) == "" {
			return errors.New("tags must be non-empty strings")
		}
	}
	return nil
}

// ContentFlaggedPayload records a user report about content quality.
type ContentFlaggedPayload struct {
	Reason  string  `json:"reason" validate:"required,oneof=incorrect confusing outdated poorly_worded"`
	Comment *string `json:"comment,omitempty"`
}

func (p *ContentFlaggedPayload) Validate() error { return nil }

// InterventionAcceptedPayload records a user accepting a proposed
// schedule intervention.
type InterventionAcceptedPayload struct {
	InterventionType string  `json:"intervention_type" validate:"required"`
	Factor           float64 `json:"factor" validate:"gt=0"`
}

func (p *InterventionAcceptedPayload) Validate() error { return nil }

// InterventionRejectedPayload records a user rejecting a proposed
// schedule intervention.
type InterventionRejectedPayload struct {
	InterventionType string `json:"intervention_type" validate:"required"`
	Reason           string `json:"reason" validate:"required"`
}

func (p *InterventionRejectedPayload) Validate() error { return nil }

// Rename maps an old content identifier to its replacement.
type Rename struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

// RenameSet groups identifier renames by content kind.
type RenameSet struct {
	Cards     []Rename `json:"cards,omitempty" validate:"dive"`
	Questions []Rename `json:"questions,omitempty" validate:"dive"`
}

// LibraryIDMapAppliedPayload records a library version migration's
// identifier remapping.
type LibraryIDMapAppliedPayload struct {
	FromVersion string    `json:"from_version" validate:"required"`
	ToVersion   string    `json:"to_version" validate:"required"`
	Renames     RenameSet `json:"renames"`
}

func (p *LibraryIDMapAppliedPayload) Validate() error {
	if p.FromVersion == p.ToVersion {
		return errors.New("from_version and to_version must differ")
	}
	return nil
}
