package event

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// forbiddenEnvelopeFields are mutation-indicating fields that must
// never appear on an immutable event.
var forbiddenEnvelopeFields = []string{
	"updated_at", "edited_at", "revision", "modified_at",
}

// forbiddenPayloadFields are derived aggregates and scheduler state
// that payloads must never carry: payloads hold raw action data only,
// the projector computes everything else.
var forbiddenPayloadFields = []string{
	"updated_at", "edited_at", "revision", "modified_at",
	"accuracy_rate", "streak", "max_streak",
	"stability", "difficulty", "due", "due_at", "interval_days", "state",
	"total_reviews", "correct_reviews", "avg_seconds",
	"embedding", "embeddings", "narrative", "last_applied",
}

// ValidateEnvelope performs the first validation stage: structural
// checks of the fixed envelope. The payload is checked only for
// presence and forbidden fields; per-type payload validation is the
// second stage (DecodePayload).
func ValidateEnvelope(raw []byte) (*Envelope, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, validationErrf("malformed event JSON: %v", err)
	}
	for _, f := range forbiddenEnvelopeFields {
		if _, present := keys[f]; present {
			return nil, validationErrf("forbidden envelope field %q", f)
		}
	}

	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return nil, validationErrf("unexpected envelope field: %v", err)
	}

	if env.Type == "" {
		return nil, validationErrf("missing type")
	}
	if env.DeviceID == "" {
		return nil, validationErrf("missing device_id")
	}
	if env.SchemaVersion == "" {
		return nil, validationErrf("missing schema_version")
	}
	if err := checkPrefix("event_id", env.EventID, PrefixEvent); err != nil {
		return nil, err
	}
	if err := checkPrefix("user_id", env.UserID, PrefixUser); err != nil {
		return nil, err
	}
	if err := checkPrefix("library_id", env.LibraryID, PrefixLibrary); err != nil {
		return nil, err
	}
	if err := checkTimestamp("occurred_at", env.OccurredAt, true); err != nil {
		return nil, err
	}
	if err := checkTimestamp("received_at", env.ReceivedAt, false); err != nil {
		return nil, err
	}

	if !ValidKind(env.Entity.Kind) {
		return nil, validationErrf("unknown entity kind %q", env.Entity.Kind)
	}
	if env.Entity.ID == "" {
		return nil, validationErrf("missing entity.id")
	}
	if prefix, ok := kindPrefixes[env.Entity.Kind]; ok {
		if err := checkPrefix("entity.id", env.Entity.ID, prefix); err != nil {
			return nil, err
		}
	}

	if len(env.Payload) == 0 {
		return nil, validationErrf("missing payload")
	}
	if err := checkForbiddenPayloadFields(env.Payload); err != nil {
		return nil, err
	}

	return &env, nil
}

// Validate runs both validation stages: envelope structure, then the
// payload schema for the envelope's type. Unknown types fail with
// ErrUnknownType; ingestion callers that tolerate unknown types use
// ValidateEnvelope directly.
func Validate(raw []byte) (*Envelope, Payload, error) {
	env, err := ValidateEnvelope(raw)
	if err != nil {
		return nil, nil, err
	}
	payload, err := DecodePayload(env)
	if err != nil {
		return nil, nil, err
	}
	return env, payload, nil
}

// checkForbiddenPayloadFields scans the payload's top-level keys for
// aggregate and mutation fields. Applies to every payload, including
// unknown types passing through ingestion.
func checkForbiddenPayloadFields(payload json.RawMessage) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(payload, &keys); err != nil {
		return validationErrf("payload must be a JSON object: %v", err)
	}
	for _, f := range forbiddenPayloadFields {
		if _, present := keys[f]; present {
			return validationErrf("forbidden payload field %q", f)
		}
	}
	return nil
}

func checkTimestamp(field, value string, required bool) error {
	if value == "" {
		if required {
			return validationErrf("missing %s", field)
		}
		return nil
	}
	if !strings.HasSuffix(value, "Z") {
		return validationErrf("%s must be an ISO-8601 UTC timestamp ending in Z, got %q", field, value)
	}
	if _, err := time.Parse(time.RFC3339Nano, value); err != nil {
		return validationErrf("%s: %v", field, err)
	}
	return nil
}
