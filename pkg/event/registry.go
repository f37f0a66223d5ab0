package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrUnknownType marks an event type with no registered payload schema.
// Ingestion accepts such events (forward compatibility); the projector
// downgrades them to a no-op.
var ErrUnknownType = errors.New("unknown event type")

// ValidationError reports an envelope or payload that fails its schema.
// Terminal for the event: not retried, never written.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "event validation failed: " + e.Reason
}

func validationErrf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// typeSpec binds an event type to its payload constructor and the
// entity kinds it may target.
type typeSpec struct {
	newPayload func() Payload
	kinds      []string
}

// registry is the central table keyed by event type. Envelope and
// payload validation are staged so unknown types can round-trip through
// ingestion and only be diagnosed at projection.
var registry = map[string]typeSpec{
	TypeCardReviewed: {
		newPayload: func() Payload { return &CardReviewedPayload{} },
		kinds:      []string{KindCard},
	},
	TypeQuestionAttempted: {
		newPayload: func() Payload { return &QuestionAttemptedPayload{} },
		kinds:      []string{KindQuestion},
	},
	TypeRelationshipReviewed: {
		newPayload: func() Payload { return &RelationshipReviewedPayload{} },
		kinds:      []string{KindRelationshipCard},
	},
	TypeMisconceptionProbeResult: {
		newPayload: func() Payload { return &MisconceptionProbeResultPayload{} },
		kinds:      []string{KindMisconceptionEdge},
	},
	TypeSessionStarted: {
		newPayload: func() Payload { return &SessionStartedPayload{} },
		kinds:      []string{KindSession},
	},
	TypeSessionEnded: {
		newPayload: func() Payload { return &SessionEndedPayload{} },
		kinds:      []string{KindSession},
	},
	TypeAccelerationApplied: {
		newPayload: func() Payload { return &AccelerationAppliedPayload{} },
		kinds:      []string{KindCard},
	},
	TypeLapseApplied: {
		newPayload: func() Payload { return &LapseAppliedPayload{} },
		kinds:      []string{KindCard},
	},
	TypeMasteryCertificationStarted: {
		newPayload: func() Payload { return &MasteryCertificationStartedPayload{} },
		kinds:      []string{KindConcept},
	},
	TypeMasteryCertificationCompleted: {
		newPayload: func() Payload { return &MasteryCertificationCompletedPayload{} },
		kinds:      []string{KindConcept},
	},
	TypeCardAnnotationUpdated: {
		newPayload: func() Payload { return &CardAnnotationUpdatedPayload{} },
		kinds:      []string{KindCard},
	},
	TypeContentFlagged: {
		newPayload: func() Payload { return &ContentFlaggedPayload{} },
		kinds:      []string{KindCard, KindQuestion, KindRelationshipCard},
	},
	TypeInterventionAccepted: {
		newPayload: func() Payload { return &InterventionAcceptedPayload{} },
		kinds:      []string{KindCard, KindRelationshipCard, KindConcept},
	},
	TypeInterventionRejected: {
		newPayload: func() Payload { return &InterventionRejectedPayload{} },
		kinds:      []string{KindCard, KindRelationshipCard, KindConcept},
	},
	TypeLibraryIDMapApplied: {
		newPayload: func() Payload { return &LibraryIDMapAppliedPayload{} },
		kinds:      []string{KindLibraryVersion},
	},
}

// fieldValidator checks validator struct tags on decoded payloads.
var fieldValidator = validator.New(validator.WithRequiredStructEnabled())

// KnownType reports whether a payload schema is registered for t.
func KnownType(t string) bool {
	_, ok := registry[t]
	return ok
}

// ExpectedKinds returns the entity kinds an event type may target.
// Nil for unknown types.
func ExpectedKinds(t string) []string {
	if spec, ok := registry[t]; ok {
		return spec.kinds
	}
	return nil
}

// KindAllowed reports whether an entity kind is compatible with an
// event type. Unknown types allow nothing.
func KindAllowed(t, kind string) bool {
	for _, k := range ExpectedKinds(t) {
		if k == kind {
			return true
		}
	}
	return false
}

// DecodePayload decodes and validates the envelope's payload against
// the schema registered for its type. Returns ErrUnknownType when the
// type has no registered schema.
func DecodePayload(env *Envelope) (Payload, error) {
	spec, ok := registry[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	payload := spec.newPayload()
	dec := json.NewDecoder(bytes.NewReader(env.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		return nil, validationErrf("payload for %s: %v", env.Type, err)
	}
	if err := fieldValidator.Struct(payload); err != nil {
		return nil, validationErrf("payload for %s: %v", env.Type, err)
	}
	if err := payload.Validate(); err != nil {
		var idErr *InvalidIdentifierError
		if errors.As(err, &idErr) {
			return nil, err
		}
		return nil, validationErrf("payload for %s: %v", env.Type, err)
	}
	return payload, nil
}
