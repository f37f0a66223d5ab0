// Package reducer holds the pure per-event-type reducers. Every
// reducer computes the next view state from the prior state and one
// validated event; the only clock sample is the `now` argument the
// caller takes once per projection call.
//
// Reducers never perform I/O and never look at the store. Idempotence
// and out-of-order safety come from the views.ShouldApply cursor check,
// which callers must evaluate before reducing.
package reducer

import (
	"errors"
	"math"
	"time"

	"github.com/reviso/reviso/pkg/event"
	"github.com/reviso/reviso/pkg/views"
)

// ErrMissingPriorState is returned by schedule-update reducers invoked
// without a prior view. Terminal per event: an intervention on a card
// that was never reviewed indicates an upstream bug.
var ErrMissingPriorState = errors.New("schedule update requires a prior view")

// Schedule defaults for a card never reviewed before.
const (
	defaultStability  = 1.0
	defaultDifficulty = 5.0
	minStability      = 0.1
	minDifficulty     = 0.1
	maxDifficulty     = 10.0
)

// Grade multipliers and state thresholds. These constants are the
// binding replay contract: changing any of them changes the meaning of
// every stored event.
var gradeMultipliers = map[string]float64{
	event.GradeAgain: 0.5,
	event.GradeHard:  0.8,
	event.GradeGood:  1.2,
	event.GradeEasy:  1.5,
}

const (
	youngStabilityThreshold  = 7.0
	matureStabilityThreshold = 90.0
)

// emaAlpha is the weight of the newest sample in the seconds-per-item
// exponential moving average.
const emaAlpha = 0.2

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

// meta stamps the idempotency cursor and write timestamp on a view.
func meta(e *event.Envelope, now time.Time) views.Meta {
	return views.Meta{
		LastApplied: views.LastApplied{
			ReceivedAt: e.ReceivedAt,
			EventID:    e.EventID,
		},
		UpdatedAt: event.FormatTime(now),
	}
}

// schedule is the grade-driven FSRS-style core shared by card and
// relationship schedules.
type schedule struct {
	state        int
	stability    float64
	difficulty   float64
	intervalDays int
	dueAt        string
}

func newSchedule() schedule {
	return schedule{
		state:      views.StateNew,
		stability:  defaultStability,
		difficulty: defaultDifficulty,
	}
}

// advance folds one graded review into the schedule.
func (s *schedule) advance(grade string, now time.Time) {
	s.stability = math.Max(minStability, s.stability*gradeMultipliers[grade])

	if grade == event.GradeAgain {
		s.difficulty = clamp(s.difficulty+0.1, minDifficulty, maxDifficulty)
		if s.state > views.StateNew {
			// Lapse never returns a card to the new state.
			s.state = max(views.StateLearning, s.state-1)
		}
	} else {
		s.difficulty = clamp(s.difficulty-0.05, minDifficulty, maxDifficulty)
		switch {
		case s.state == views.StateNew:
			s.state = views.StateLearning
		case s.state == views.StateLearning && s.stability > youngStabilityThreshold:
			s.state = views.StateYoung
		case s.state == views.StateYoung && s.stability > matureStabilityThreshold:
			s.state = views.StateMature
		}
	}

	s.reschedule(now)
}

// reschedule derives interval and due date from the current stability.
func (s *schedule) reschedule(now time.Time) {
	s.intervalDays = max(1, int(math.Floor(s.stability)))
	s.dueAt = event.FormatTime(now.AddDate(0, 0, s.intervalDays))
}
