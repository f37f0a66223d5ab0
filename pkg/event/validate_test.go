package event

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawEvent builds a valid card_reviewed event JSON with optional
// overrides applied to the top-level object.
func rawEvent(t *testing.T, overrides map[string]any) []byte {
	t.Helper()
	m := map[string]any{
		"event_id":    "evt_0001",
		"type":        TypeCardReviewed,
		"user_id":     "user_1",
		"library_id":  "lib_bio",
		"occurred_at": "2025-01-01T00:00:00.000Z",
		"device_id":   "device-a",
		"entity":      map[string]any{"kind": KindCard, "id": "card_0001"},
		"payload":     map[string]any{"grade": "good", "seconds_spent": 18},
		"schema_version": "1",
	}
	for k, v := range overrides {
		if v == nil {
			delete(m, k)
			continue
		}
		m[k] = v
	}
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	return raw
}

func TestValidateEnvelope(t *testing.T) {
	t.Run("accepts a valid event", func(t *testing.T) {
		env, err := ValidateEnvelope(rawEvent(t, nil))
		require.NoError(t, err)
		assert.Equal(t, "evt_0001", env.EventID)
		assert.Equal(t, TypeCardReviewed, env.Type)
		assert.Equal(t, KindCard, env.Entity.Kind)
	})

	t.Run("accepts unknown type at envelope stage", func(t *testing.T) {
		env, err := ValidateEnvelope(rawEvent(t, map[string]any{
			"type":    "hologram_projected",
			"payload": map[string]any{"whatever": true},
		}))
		require.NoError(t, err)
		assert.Equal(t, "hologram_projected", env.Type)
	})

	tests := []struct {
		name      string
		overrides map[string]any
	}{
		{"missing type", map[string]any{"type": nil}},
		{"missing device_id", map[string]any{"device_id": nil}},
		{"missing schema_version", map[string]any{"schema_version": nil}},
		{"missing occurred_at", map[string]any{"occurred_at": nil}},
		{"non-UTC occurred_at", map[string]any{"occurred_at": "2025-01-01T00:00:00+02:00"}},
		{"unparseable received_at", map[string]any{"received_at": "not-a-time"}},
		{"unknown entity kind", map[string]any{"entity": map[string]any{"kind": "deck", "id": "card_1"}}},
		{"missing entity id", map[string]any{"entity": map[string]any{"kind": KindCard, "id": ""}}},
		{"missing payload", map[string]any{"payload": nil}},
		{"array payload", map[string]any{"payload": []any{1, 2}}},
		{"forbidden updated_at", map[string]any{"updated_at": "2025-01-01T00:00:00Z"}},
		{"forbidden revision", map[string]any{"revision": 3}},
		{"unexpected extra field", map[string]any{"priority": "high"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateEnvelope(rawEvent(t, tt.overrides))
			require.Error(t, err)
			var vErr *ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}

	t.Run("wrong identifier prefixes", func(t *testing.T) {
		for field, override := range map[string]map[string]any{
			"event_id":  {"event_id": "event-1"},
			"user_id":   {"user_id": "1"},
			"library_id": {"library_id": "bio"},
			"entity.id": {"entity": map[string]any{"kind": KindCard, "id": "q_0001"}},
		} {
			_, err := ValidateEnvelope(rawEvent(t, override))
			require.Error(t, err, field)
			var idErr *InvalidIdentifierError
			assert.ErrorAs(t, err, &idErr, field)
		}
	})

	t.Run("forbidden aggregate in payload", func(t *testing.T) {
		for _, field := range []string{"accuracy_rate", "streak", "stability", "due_at", "state"} {
			_, err := ValidateEnvelope(rawEvent(t, map[string]any{
				"payload": map[string]any{"grade": "good", "seconds_spent": 1, field: 0.5},
			}))
			require.Error(t, err, field)
		}
	})
}

func TestValidatePayloads(t *testing.T) {
	valid := []struct {
		typ     string
		kind    string
		id      string
		payload map[string]any
	}{
		{TypeCardReviewed, KindCard, "card_1", map[string]any{"grade": "again", "seconds_spent": 0, "rating_confidence": 2}},
		{TypeQuestionAttempted, KindQuestion, "q_1", map[string]any{"selected_option_id": "opt_3", "correct": true, "seconds_spent": 4.5}},
		{TypeRelationshipReviewed, KindRelationshipCard, "card_rel_1", map[string]any{
			"concept_a_id": "concept_a", "concept_b_id": "concept_b",
			"direction":  map[string]any{"from": "concept_a", "to": "concept_b"},
			"correct":    true, "high_confidence": false, "seconds_spent": 9,
		}},
		{TypeMisconceptionProbeResult, KindMisconceptionEdge, "mis_edge_1", map[string]any{"confirmed": true, "explanation_quality": "weak", "seconds_spent": 12}},
		{TypeSessionStarted, KindSession, "session_1", map[string]any{"planned_load": 20, "queue_size": 45, "cram_mode": true}},
		{TypeSessionEnded, KindSession, "session_1", map[string]any{"actual_load": 18, "retention_delta": -0.02}},
		{TypeAccelerationApplied, KindCard, "card_1", map[string]any{"acceleration_factor": 1.5, "trigger": "prerequisite_mastered"}},
		{TypeLapseApplied, KindCard, "card_1", map[string]any{"penalty_factor": 0.4, "trigger": "probe"}},
		{TypeMasteryCertificationStarted, KindConcept, "concept_1", map[string]any{"target_type": "full"}},
		{TypeMasteryCertificationCompleted, KindConcept, "concept_1", map[string]any{"certification_result": "partial", "questions_answered": 4, "correct_count": 3}},
		{TypeCardAnnotationUpdated, KindCard, "card_1", map[string]any{"action": "added", "tags": []string{"hard", "exam"}, "pinned": true}},
		{TypeContentFlagged, KindQuestion, "q_1", map[string]any{"reason": "confusing", "comment": "both options look right"}},
		{TypeInterventionAccepted, KindCard, "card_1", map[string]any{"intervention_type": "acceleration", "factor": 1.3}},
		{TypeInterventionRejected, KindConcept, "concept_1", map[string]any{"intervention_type": "lapse", "reason": "user_dismissed"}},
		{TypeLibraryIDMapApplied, KindLibraryVersion, "v2", map[string]any{
			"from_version": "v1", "to_version": "v2",
			"renames": map[string]any{"cards": []any{map[string]any{"from": "card_1", "to": "card_9"}}},
		}},
	}
	for _, tt := range valid {
		t.Run("valid "+tt.typ, func(t *testing.T) {
			raw := rawEvent(t, map[string]any{
				"type":    tt.typ,
				"entity":  map[string]any{"kind": tt.kind, "id": tt.id},
				"payload": tt.payload,
			})
			env, payload, err := Validate(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, env.Type)
			assert.NotNil(t, payload)
		})
	}

	invalid := []struct {
		name    string
		typ     string
		payload map[string]any
	}{
		{"bad grade", TypeCardReviewed, map[string]any{"grade": "meh", "seconds_spent": 1}},
		{"negative seconds", TypeCardReviewed, map[string]any{"grade": "good", "seconds_spent": -1}},
		{"confidence out of range", TypeCardReviewed, map[string]any{"grade": "good", "seconds_spent": 1, "rating_confidence": 4}},
		{"option prefix", TypeQuestionAttempted, map[string]any{"selected_option_id": "3", "correct": true, "seconds_spent": 1}},
		{"identical concepts", TypeRelationshipReviewed, map[string]any{
			"concept_a_id": "concept_a", "concept_b_id": "concept_a",
			"direction": map[string]any{"from": "concept_a", "to": "concept_b"},
			"correct":   true, "high_confidence": true, "seconds_spent": 1,
		}},
		{"same direction endpoints", TypeRelationshipReviewed, map[string]any{
			"concept_a_id": "concept_a", "concept_b_id": "concept_b",
			"direction": map[string]any{"from": "concept_a", "to": "concept_a"},
			"correct":   true, "high_confidence": true, "seconds_spent": 1,
		}},
		{"bad explanation quality", TypeMisconceptionProbeResult, map[string]any{"confirmed": true, "explanation_quality": "great", "seconds_spent": 1}},
		{"acceleration below 1", TypeAccelerationApplied, map[string]any{"acceleration_factor": 0.9, "trigger": "x"}},
		{"missing trigger", TypeLapseApplied, map[string]any{"penalty_factor": 0.5}},
		{"penalty above 1", TypeLapseApplied, map[string]any{"penalty_factor": 1.5, "trigger": "x"}},
		{"correct above answered", TypeMasteryCertificationCompleted, map[string]any{"certification_result": "full", "questions_answered": 3, "correct_count": 4}},
		{"bad annotation action", TypeCardAnnotationUpdated, map[string]any{"action": "renamed"}},
		{"blank tag", TypeCardAnnotationUpdated, map[string]any{"action": "added", "tags": []string{"  "}}},
		{"bad flag reason", TypeContentFlagged, map[string]any{"reason": "boring"}},
		{"same versions", TypeLibraryIDMapApplied, map[string]any{"from_version": "v1", "to_version": "v1"}},
		{"extra payload field", TypeCardReviewed, map[string]any{"grade": "good", "seconds_spent": 1, "mood": "great"}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			kinds := ExpectedKinds(tt.typ)
			require.NotEmpty(t, kinds)
			kind := kinds[0]
			id := fmt.Sprintf("%s%s", kindPrefixes[kind], "0001")
			if kind == KindLibraryVersion {
				id = "v1"
			}
			raw := rawEvent(t, map[string]any{
				"type":    tt.typ,
				"entity":  map[string]any{"kind": kind, "id": id},
				"payload": tt.payload,
			})
			_, _, err := Validate(raw)
			require.Error(t, err)
		})
	}

	t.Run("unknown type fails full validation", func(t *testing.T) {
		raw := rawEvent(t, map[string]any{"type": "hologram_projected", "payload": map[string]any{"x": 1}})
		_, _, err := Validate(raw)
		require.ErrorIs(t, err, ErrUnknownType)
	})
}

func TestKindAllowed(t *testing.T) {
	assert.True(t, KindAllowed(TypeCardReviewed, KindCard))
	assert.False(t, KindAllowed(TypeCardReviewed, KindQuestion))
	assert.True(t, KindAllowed(TypeContentFlagged, KindRelationshipCard))
	assert.False(t, KindAllowed("hologram_projected", KindCard))
}
