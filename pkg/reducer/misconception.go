package reducer

import (
	"time"

	"github.com/reviso/reviso/pkg/event"
	"github.com/reviso/reviso/pkg/views"
)

// Misconception strength parameters. Status is a pure function of
// strength.
const (
	defaultStrength       = 0.5
	confirmDelta          = 0.1
	refuteDelta           = 0.05
	resolvedBelowStrength = 0.2
	strongAboveStrength   = 0.8
)

// evidenceProbeConfirmations is the evidence counter this reducer
// advances; all other counters are carried through untouched.
const evidenceProbeConfirmations = "probe_confirmations"

// MisconceptionEdge folds a misconception_probe_result event into the
// edge view: confirmation strengthens the edge, refutation weakens it,
// and the status is derived from the resulting strength.
func MisconceptionEdge(prev *views.MisconceptionEdgeView, e *event.Envelope, p *event.MisconceptionProbeResultPayload, now time.Time) *views.MisconceptionEdgeView {
	next := &views.MisconceptionEdgeView{
		Strength: defaultStrength,
		Evidence: map[string]int{evidenceProbeConfirmations: 0},
		Meta:     meta(e, now),
	}
	if prev != nil {
		next.ConceptAID = prev.ConceptAID
		next.ConceptBID = prev.ConceptBID
		next.Direction = prev.Direction
		next.MisconceptionType = prev.MisconceptionType
		next.Strength = prev.Strength
		next.FirstObservedAt = prev.FirstObservedAt
		for counter, count := range prev.Evidence {
			next.Evidence[counter] = count
		}
	}

	if p.Confirmed {
		next.Strength = clamp(next.Strength+confirmDelta, 0, 1)
		next.Evidence[evidenceProbeConfirmations]++
	} else {
		next.Strength = clamp(next.Strength-refuteDelta, 0, 1)
	}

	next.Status = MisconceptionStatus(next.Strength)

	if next.FirstObservedAt == "" {
		next.FirstObservedAt = e.OccurredAt
	}
	next.LastObservedAt = e.OccurredAt

	return next
}

// MisconceptionStatus derives the edge status from its strength.
func MisconceptionStatus(strength float64) string {
	switch {
	case strength < resolvedBelowStrength:
		return views.MisconceptionResolved
	case strength > strongAboveStrength:
		return views.MisconceptionStrong
	default:
		return views.MisconceptionActive
	}
}
