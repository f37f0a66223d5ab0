package reducer

import (
	"time"

	"github.com/reviso/reviso/pkg/event"
	"github.com/reviso/reviso/pkg/views"
)

// SyntheticGrade maps a relationship review outcome onto the card
// grading scale before the shared schedule arithmetic runs:
// incorrect → again, correct with high confidence → easy,
// correct without → good.
func SyntheticGrade(correct, highConfidence bool) string {
	switch {
	case !correct:
		return event.GradeAgain
	case highConfidence:
		return event.GradeEasy
	default:
		return event.GradeGood
	}
}

// RelationshipSchedule folds a relationship_reviewed event into the
// relationship card's schedule view via the synthetic grade.
func RelationshipSchedule(prev *views.RelationshipScheduleView, e *event.Envelope, p *event.RelationshipReviewedPayload, now time.Time) *views.RelationshipScheduleView {
	grade := SyntheticGrade(p.Correct, p.HighConfidence)

	s := newSchedule()
	if prev != nil {
		s.state = prev.State
		s.stability = prev.Stability
		s.difficulty = prev.Difficulty
	}
	s.advance(grade, now)

	return &views.RelationshipScheduleView{
		State:          s.state,
		DueAt:          s.dueAt,
		Stability:      s.stability,
		Difficulty:     s.difficulty,
		IntervalDays:   s.intervalDays,
		LastReviewedAt: e.OccurredAt,
		LastGrade:      grade,
		LastCorrect:    p.Correct,
		Meta:           meta(e, now),
	}
}

// RelationshipPerformance folds a relationship_reviewed event into the
// relationship card's performance view.
func RelationshipPerformance(prev *views.PerformanceView, e *event.Envelope, p *event.RelationshipReviewedPayload, now time.Time) *views.PerformanceView {
	return advancePerformance(prev, p.Correct, p.SecondsSpent, meta(e, now))
}
