package reducer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviso/reviso/pkg/event"
)

func certificationEvent(eventID, result string, answered, correct int) (*event.Envelope, *event.MasteryCertificationCompletedPayload) {
	env := &event.Envelope{
		EventID: eventID, ReceivedAt: "2025-01-01T00:00:00Z", OccurredAt: "2025-01-01T00:00:00Z",
		Entity: event.Entity{Kind: event.KindConcept, ID: "concept_0001"},
	}
	return env, &event.MasteryCertificationCompletedPayload{
		CertificationResult: result,
		QuestionsAnswered:   answered,
		CorrectCount:        correct,
	}
}

func TestConceptCertificationFirstAttempt(t *testing.T) {
	// Partial certification: 3 of 4 correct.
	env, payload := certificationEvent("evt_cert", event.CertificationPartial, 4, 3)

	view := ConceptCertification(nil, env, payload, testNow)

	assert.Equal(t, event.CertificationPartial, view.CertificationResult)
	assert.InDelta(t, 0.75, view.Accuracy, 1e-9)
	require.Len(t, view.CertificationHistory, 1)
	attempt := view.CertificationHistory[0]
	assert.Equal(t, event.CertificationPartial, attempt.Result)
	assert.Equal(t, "2025-01-01T00:00:00Z", attempt.Date)
	assert.Equal(t, 4, attempt.QuestionsAnswered)
	assert.Equal(t, 3, attempt.CorrectCount)
}

func TestConceptCertificationHistoryAppendOnly(t *testing.T) {
	env1, payload1 := certificationEvent("evt_c1", event.CertificationNone, 5, 1)
	first := ConceptCertification(nil, env1, payload1, testNow)

	env2, payload2 := certificationEvent("evt_c2", event.CertificationFull, 5, 5)
	second := ConceptCertification(first, env2, payload2, testNow)

	require.Len(t, second.CertificationHistory, 2)
	assert.Equal(t, event.CertificationNone, second.CertificationHistory[0].Result)
	assert.Equal(t, event.CertificationFull, second.CertificationHistory[1].Result)
	assert.Equal(t, event.CertificationFull, second.CertificationResult)
	assert.InDelta(t, 1.0, second.Accuracy, 1e-9)

	// Appending must not mutate the prior view's history.
	require.Len(t, first.CertificationHistory, 1)
}

func TestConceptCertificationZeroQuestions(t *testing.T) {
	env, payload := certificationEvent("evt_c0", event.CertificationNone, 0, 0)
	view := ConceptCertification(nil, env, payload, testNow)
	assert.InDelta(t, 0.0, view.Accuracy, 1e-9)
	assert.Len(t, view.CertificationHistory, 1)
}

func TestConceptCertificationReasoningQuality(t *testing.T) {
	quality := "good"
	env, payload := certificationEvent("evt_cq", event.CertificationFull, 3, 3)
	payload.ReasoningQuality = &quality

	view := ConceptCertification(nil, env, payload, testNow)
	require.Len(t, view.CertificationHistory, 1)
	require.NotNil(t, view.CertificationHistory[0].ReasoningQuality)
	assert.Equal(t, "good", *view.CertificationHistory[0].ReasoningQuality)
}
