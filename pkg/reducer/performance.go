package reducer

import (
	"time"

	"github.com/reviso/reviso/pkg/event"
	"github.com/reviso/reviso/pkg/views"
)

// CardPerformance folds a card_reviewed event into the card's
// performance view. A grade of "again" counts as incorrect; every
// other grade counts as correct.
func CardPerformance(prev *views.PerformanceView, e *event.Envelope, p *event.CardReviewedPayload, now time.Time) *views.PerformanceView {
	return advancePerformance(prev, p.Grade != event.GradeAgain, p.SecondsSpent, meta(e, now))
}

// QuestionPerformance folds a question_attempted event into the
// question's performance view, driven by the recorded correctness.
func QuestionPerformance(prev *views.PerformanceView, e *event.Envelope, p *event.QuestionAttemptedPayload, now time.Time) *views.PerformanceView {
	return advancePerformance(prev, p.Correct, p.SecondsSpent, meta(e, now))
}

// advancePerformance is the shared counter arithmetic: monotonic
// totals, clamped accuracy, EMA of seconds spent, and streak tracking.
func advancePerformance(prev *views.PerformanceView, correct bool, seconds float64, m views.Meta) *views.PerformanceView {
	next := &views.PerformanceView{Meta: m}
	if prev != nil {
		next.TotalReviews = prev.TotalReviews
		next.CorrectReviews = prev.CorrectReviews
		next.AvgSeconds = prev.AvgSeconds
		next.Streak = prev.Streak
		next.MaxStreak = prev.MaxStreak
	}

	next.TotalReviews++
	if correct {
		next.CorrectReviews++
		next.Streak++
	} else {
		next.Streak = 0
	}
	next.MaxStreak = max(next.MaxStreak, next.Streak)
	next.AccuracyRate = clamp(float64(next.CorrectReviews)/float64(next.TotalReviews), 0, 1)
	next.AvgSeconds = clamp(next.AvgSeconds*(1-emaAlpha)+seconds*emaAlpha, 0, maxAvgSeconds)

	return next
}

// maxAvgSeconds caps the EMA against absurd client clocks; a day per
// item is already far beyond any honest review.
const maxAvgSeconds = 86_400
