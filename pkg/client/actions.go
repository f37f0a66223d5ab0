package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reviso/reviso/pkg/event"
)

// SchemaVersion stamped on every event this client builds.
const SchemaVersion = "1.0"

// EventBuilder constructs fully validated envelopes for one device's
// (user, library) pair. Builders never touch the queue or the store.
type EventBuilder struct {
	UserID    string
	LibraryID string
	DeviceID  string

	now   func() time.Time
	newID func() string
}

// NewEventBuilder creates a builder with real clock and random IDs.
func NewEventBuilder(userID, libraryID, deviceID string) *EventBuilder {
	return &EventBuilder{
		UserID:    userID,
		LibraryID: libraryID,
		DeviceID:  deviceID,
		now:       time.Now,
		newID:     func() string { return event.PrefixEvent + uuid.NewString() },
	}
}

// build assembles the envelope and runs both validation stages before
// returning it, so invalid actions never reach the queue.
func (b *EventBuilder) build(eventType, kind, entityID string, payload any) (*event.Envelope, error) {
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	env := &event.Envelope{
		EventID:       b.newID(),
		Type:          eventType,
		UserID:        b.UserID,
		LibraryID:     b.LibraryID,
		OccurredAt:    event.FormatTime(b.now()),
		DeviceID:      b.DeviceID,
		Entity:        event.Entity{Kind: kind, ID: entityID},
		Payload:       rawPayload,
		SchemaVersion: SchemaVersion,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}
	if _, _, err := event.Validate(raw); err != nil {
		return nil, err
	}
	return env, nil
}

// CardReviewed records a flashcard review.
func (b *EventBuilder) CardReviewed(cardID, grade string, secondsSpent float64) (*event.Envelope, error) {
	return b.build(event.TypeCardReviewed, event.KindCard, cardID, event.CardReviewedPayload{
		Grade:        grade,
		SecondsSpent: secondsSpent,
	})
}

// QuestionAttempted records a multiple-choice attempt.
func (b *EventBuilder) QuestionAttempted(questionID, selectedOptionID string, correct bool, secondsSpent float64) (*event.Envelope, error) {
	return b.build(event.TypeQuestionAttempted, event.KindQuestion, questionID, event.QuestionAttemptedPayload{
		SelectedOptionID: selectedOptionID,
		Correct:          correct,
		SecondsSpent:     secondsSpent,
	})
}

// RelationshipReviewed records a relationship-card review.
func (b *EventBuilder) RelationshipReviewed(relCardID string, payload event.RelationshipReviewedPayload) (*event.Envelope, error) {
	return b.build(event.TypeRelationshipReviewed, event.KindRelationshipCard, relCardID, payload)
}

// MisconceptionProbeResult records a misconception probe outcome.
func (b *EventBuilder) MisconceptionProbeResult(edgeID string, confirmed bool, explanationQuality *string, secondsSpent float64) (*event.Envelope, error) {
	return b.build(event.TypeMisconceptionProbeResult, event.KindMisconceptionEdge, edgeID, event.MisconceptionProbeResultPayload{
		Confirmed:          confirmed,
		ExplanationQuality: explanationQuality,
		SecondsSpent:       secondsSpent,
	})
}

// SessionStarted opens a study session.
func (b *EventBuilder) SessionStarted(sessionID string, plannedLoad, queueSize int, cramMode *bool) (*event.Envelope, error) {
	return b.build(event.TypeSessionStarted, event.KindSession, sessionID, event.SessionStartedPayload{
		PlannedLoad: plannedLoad,
		QueueSize:   queueSize,
		CramMode:    cramMode,
	})
}

// SessionEnded closes a study session.
func (b *EventBuilder) SessionEnded(sessionID string, payload event.SessionEndedPayload) (*event.Envelope, error) {
	return b.build(event.TypeSessionEnded, event.KindSession, sessionID, payload)
}

// AccelerationApplied records an upward stability intervention.
func (b *EventBuilder) AccelerationApplied(cardID string, factor float64, trigger string) (*event.Envelope, error) {
	return b.build(event.TypeAccelerationApplied, event.KindCard, cardID, event.AccelerationAppliedPayload{
		AccelerationFactor: factor,
		Trigger:            trigger,
	})
}

// LapseApplied records a downward stability intervention.
func (b *EventBuilder) LapseApplied(cardID string, penalty float64, trigger string) (*event.Envelope, error) {
	return b.build(event.TypeLapseApplied, event.KindCard, cardID, event.LapseAppliedPayload{
		PenaltyFactor: penalty,
		Trigger:       trigger,
	})
}

// MasteryCertificationCompleted records a finished certification.
func (b *EventBuilder) MasteryCertificationCompleted(conceptID string, payload event.MasteryCertificationCompletedPayload) (*event.Envelope, error) {
	return b.build(event.TypeMasteryCertificationCompleted, event.KindConcept, conceptID, payload)
}

// CardAnnotationUpdated records a tag or pin change.
func (b *EventBuilder) CardAnnotationUpdated(cardID, action string, tags []string, pinned *bool) (*event.Envelope, error) {
	return b.build(event.TypeCardAnnotationUpdated, event.KindCard, cardID, event.CardAnnotationUpdatedPayload{
		Action: action,
		Tags:   tags,
		Pinned: pinned,
	})
}

// ContentFlagged records a content quality report.
func (b *EventBuilder) ContentFlagged(kind, entityID, reason string, comment *string) (*event.Envelope, error) {
	return b.build(event.TypeContentFlagged, kind, entityID, event.ContentFlaggedPayload{
		Reason:  reason,
		Comment: comment,
	})
}
