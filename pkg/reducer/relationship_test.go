package reducer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reviso/reviso/pkg/event"
	"github.com/reviso/reviso/pkg/views"
)

func relationshipEvent(correct, highConfidence bool) (*event.Envelope, *event.RelationshipReviewedPayload) {
	env := &event.Envelope{
		EventID: "evt_rel", ReceivedAt: "2025-01-01T00:00:00Z", OccurredAt: "2025-01-01T00:00:00Z",
		Entity: event.Entity{Kind: event.KindRelationshipCard, ID: "card_rel_1"},
	}
	payload := &event.RelationshipReviewedPayload{
		ConceptAID: "concept_a", ConceptBID: "concept_b",
		Direction: event.Direction{From: "concept_a", To: "concept_b"},
		Correct:   correct, HighConfidence: highConfidence, SecondsSpent: 9,
	}
	return env, payload
}

func TestSyntheticGrade(t *testing.T) {
	assert.Equal(t, event.GradeAgain, SyntheticGrade(false, false))
	assert.Equal(t, event.GradeAgain, SyntheticGrade(false, true))
	assert.Equal(t, event.GradeEasy, SyntheticGrade(true, true))
	assert.Equal(t, event.GradeGood, SyntheticGrade(true, false))
}

func TestRelationshipSchedule(t *testing.T) {
	t.Run("first correct high-confidence review grades easy", func(t *testing.T) {
		env, payload := relationshipEvent(true, true)
		view := RelationshipSchedule(nil, env, payload, testNow)

		assert.InDelta(t, 1.5, view.Stability, 1e-9)
		assert.Equal(t, views.StateLearning, view.State)
		assert.Equal(t, event.GradeEasy, view.LastGrade)
		assert.True(t, view.LastCorrect)
	})

	t.Run("incorrect review grades again", func(t *testing.T) {
		prev := &views.RelationshipScheduleView{State: views.StateYoung, Stability: 10, Difficulty: 5}
		env, payload := relationshipEvent(false, false)
		view := RelationshipSchedule(prev, env, payload, testNow)

		assert.InDelta(t, 5.0, view.Stability, 1e-9)
		assert.Equal(t, views.StateLearning, view.State)
		assert.Equal(t, event.GradeAgain, view.LastGrade)
		assert.False(t, view.LastCorrect)
	})
}

func TestRelationshipPerformance(t *testing.T) {
	env, payload := relationshipEvent(true, false)
	view := RelationshipPerformance(nil, env, payload, testNow)

	assert.Equal(t, 1, view.TotalReviews)
	assert.Equal(t, 1, view.CorrectReviews)
	assert.InDelta(t, 9.0*emaAlpha, view.AvgSeconds, 1e-9)

	env2, payload2 := relationshipEvent(false, false)
	env2.EventID = "evt_rel2"
	next := RelationshipPerformance(view, env2, payload2, testNow)
	assert.Equal(t, 2, next.TotalReviews)
	assert.Equal(t, 1, next.CorrectReviews)
	assert.Equal(t, 0, next.Streak)
}
