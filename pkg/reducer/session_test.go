package reducer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reviso/reviso/pkg/event"
	"github.com/reviso/reviso/pkg/views"
)

func sessionEnvelope(eventID, typ, occurredAt string) *event.Envelope {
	return &event.Envelope{
		EventID: eventID, Type: typ, ReceivedAt: occurredAt, OccurredAt: occurredAt,
		Entity: event.Entity{Kind: event.KindSession, ID: "session_7"},
	}
}

func TestSessionStarted(t *testing.T) {
	cram := true
	env := sessionEnvelope("evt_s1", event.TypeSessionStarted, "2025-01-01T09:00:00Z")
	payload := &event.SessionStartedPayload{PlannedLoad: 20, QueueSize: 45, CramMode: &cram}

	view := SessionStarted(nil, env, payload, testNow)

	assert.Equal(t, views.SessionActive, view.Status)
	assert.Equal(t, "2025-01-01T09:00:00Z", view.StartedAt)
	assert.Equal(t, 20, view.PlannedLoad)
	assert.Equal(t, 45, view.QueueSize)
	assert.True(t, view.CramMode)
	assert.Empty(t, view.EndedAt)
}

func TestSessionEnded(t *testing.T) {
	delta := -0.02
	started := &views.SessionView{
		Status: views.SessionActive, StartedAt: "2025-01-01T09:00:00Z",
		PlannedLoad: 20, QueueSize: 45,
	}
	env := sessionEnvelope("evt_s2", event.TypeSessionEnded, "2025-01-01T09:40:00Z")
	payload := &event.SessionEndedPayload{ActualLoad: 18, RetentionDelta: &delta}

	view := SessionEnded(started, env, payload, testNow)

	assert.Equal(t, views.SessionCompleted, view.Status)
	assert.Equal(t, "2025-01-01T09:40:00Z", view.EndedAt)
	assert.Equal(t, 18, view.ActualLoad)
	assert.Equal(t, "2025-01-01T09:00:00Z", view.StartedAt)
	assert.Equal(t, 20, view.PlannedLoad)
	assert.InDelta(t, -0.02, *view.RetentionDelta, 1e-9)
}

func TestSessionOutOfOrderEndBeforeStart(t *testing.T) {
	// With at-least-once, reordered delivery the end may project first.
	envEnd := sessionEnvelope("evt_s2", event.TypeSessionEnded, "2025-01-01T09:40:00Z")
	ended := SessionEnded(nil, envEnd, &event.SessionEndedPayload{ActualLoad: 18}, testNow)
	assert.Equal(t, views.SessionCompleted, ended.Status)

	envStart := sessionEnvelope("evt_s1", event.TypeSessionStarted, "2025-01-01T09:00:00Z")
	merged := SessionStarted(ended, envStart, &event.SessionStartedPayload{PlannedLoad: 20, QueueSize: 45}, testNow)

	assert.Equal(t, views.SessionCompleted, merged.Status, "terminal status survives the late start")
	assert.Equal(t, "2025-01-01T09:00:00Z", merged.StartedAt)
	assert.Equal(t, "2025-01-01T09:40:00Z", merged.EndedAt)
	assert.Equal(t, 18, merged.ActualLoad)
	assert.Equal(t, 20, merged.PlannedLoad)
}

func TestSessionEndedSummary(t *testing.T) {
	fatigue := true
	started := &views.SessionView{StartedAt: "2025-01-01T09:00:00Z", PlannedLoad: 20}
	env := sessionEnvelope("evt_s2", event.TypeSessionEnded, "2025-01-01T09:40:00Z")
	payload := &event.SessionEndedPayload{ActualLoad: 18, FatigueHit: &fatigue}

	summary := SessionEndedSummary(started, env, payload, testNow)

	assert.Equal(t, "session_7", summary.SessionID)
	assert.Equal(t, "2025-01-01T09:00:00Z", summary.StartedAt)
	assert.Equal(t, "2025-01-01T09:40:00Z", summary.EndedAt)
	assert.Equal(t, 20, summary.PlannedLoad)
	assert.Equal(t, 18, summary.ActualLoad)
	assert.True(t, *summary.FatigueHit)
	// Totals need cross-event aggregation; the reducer leaves them zero.
	assert.Zero(t, summary.Totals.CardsReviewed)
	assert.Zero(t, summary.Totals.QuestionsAnswered)
	assert.Zero(t, summary.Totals.TotalTimeSeconds)
}
