package reducer

import (
	"math"
	"time"

	"github.com/reviso/reviso/pkg/event"
	"github.com/reviso/reviso/pkg/views"
)

// CardSchedule folds a card_reviewed event into the card's schedule
// view. A nil prev means the card has never been reviewed.
func CardSchedule(prev *views.CardScheduleView, e *event.Envelope, p *event.CardReviewedPayload, now time.Time) *views.CardScheduleView {
	s := newSchedule()
	if prev != nil {
		s.state = prev.State
		s.stability = prev.Stability
		s.difficulty = prev.Difficulty
	}
	s.advance(p.Grade, now)

	return &views.CardScheduleView{
		State:          s.state,
		DueAt:          s.dueAt,
		Stability:      s.stability,
		Difficulty:     s.difficulty,
		IntervalDays:   s.intervalDays,
		LastReviewedAt: e.OccurredAt,
		LastGrade:      p.Grade,
		Meta:           meta(e, now),
	}
}

// Acceleration folds an acceleration_applied event into the card's
// schedule view: stability scales up, the interval is recomputed, and
// everything a review would touch is preserved. Requires prior state.
func Acceleration(prev *views.CardScheduleView, e *event.Envelope, p *event.AccelerationAppliedPayload, now time.Time) (*views.CardScheduleView, error) {
	if prev == nil {
		return nil, ErrMissingPriorState
	}

	s := schedule{stability: prev.Stability * p.AccelerationFactor}
	s.reschedule(now)

	return &views.CardScheduleView{
		State:          prev.State,
		DueAt:          s.dueAt,
		Stability:      s.stability,
		Difficulty:     prev.Difficulty,
		IntervalDays:   s.intervalDays,
		LastReviewedAt: prev.LastReviewedAt,
		LastGrade:      prev.LastGrade,
		Meta:           meta(e, now),
	}, nil
}

// Lapse folds a lapse_applied event into the card's schedule view.
// Unlike a review graded "again", a lapse is an intervention: it leaves
// last_reviewed_at untouched. Requires prior state.
func Lapse(prev *views.CardScheduleView, e *event.Envelope, p *event.LapseAppliedPayload, now time.Time) (*views.CardScheduleView, error) {
	if prev == nil {
		return nil, ErrMissingPriorState
	}

	s := schedule{stability: math.Max(minStability, prev.Stability*p.PenaltyFactor)}
	s.reschedule(now)

	state := max(views.StateLearning, prev.State-1)
	if prev.State == views.StateYoung {
		state = views.StateMature
	}

	return &views.CardScheduleView{
		State:          state,
		DueAt:          s.dueAt,
		Stability:      s.stability,
		Difficulty:     math.Min(maxDifficulty, prev.Difficulty+0.1),
		IntervalDays:   s.intervalDays,
		LastReviewedAt: prev.LastReviewedAt,
		LastGrade:      event.GradeAgain,
		Meta:           meta(e, now),
	}, nil
}
