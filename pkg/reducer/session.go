package reducer

import (
	"time"

	"github.com/reviso/reviso/pkg/event"
	"github.com/reviso/reviso/pkg/views"
)

// SessionStarted initializes the session view. Prior state, if any,
// is replaced except for end-of-session fields already projected from
// an out-of-order session_ended event.
func SessionStarted(prev *views.SessionView, e *event.Envelope, p *event.SessionStartedPayload, now time.Time) *views.SessionView {
	next := &views.SessionView{
		Status:      views.SessionActive,
		StartedAt:   e.OccurredAt,
		PlannedLoad: p.PlannedLoad,
		QueueSize:   p.QueueSize,
		Meta:        meta(e, now),
	}
	if p.CramMode != nil {
		next.CramMode = *p.CramMode
	}
	if prev != nil && prev.Status == views.SessionCompleted {
		// session_ended was projected first; keep the terminal fields.
		next.Status = views.SessionCompleted
		next.EndedAt = prev.EndedAt
		next.ActualLoad = prev.ActualLoad
		next.RetentionDelta = prev.RetentionDelta
		next.FatigueHit = prev.FatigueHit
		next.UserAcceptedIntervention = prev.UserAcceptedIntervention
	}
	return next
}

// SessionEnded marks the session completed. A nil prev is tolerated:
// with out-of-order delivery the end may arrive before the start.
func SessionEnded(prev *views.SessionView, e *event.Envelope, p *event.SessionEndedPayload, now time.Time) *views.SessionView {
	next := &views.SessionView{
		Status:                   views.SessionCompleted,
		EndedAt:                  e.OccurredAt,
		ActualLoad:               p.ActualLoad,
		RetentionDelta:           p.RetentionDelta,
		FatigueHit:               p.FatigueHit,
		UserAcceptedIntervention: p.UserAcceptedIntervention,
		Meta:                     meta(e, now),
	}
	if prev != nil {
		next.StartedAt = prev.StartedAt
		next.PlannedLoad = prev.PlannedLoad
		next.QueueSize = prev.QueueSize
		next.CramMode = prev.CramMode
	}
	return next
}

// SessionEndedSummary builds the session_summary document written
// alongside the session view at session end. Totals require cross-event
// aggregation this pipeline does not perform; they are left zero and
// may be computed out-of-band.
func SessionEndedSummary(prev *views.SessionView, e *event.Envelope, p *event.SessionEndedPayload, now time.Time) *views.SessionSummary {
	summary := &views.SessionSummary{
		SessionID:                e.Entity.ID,
		EndedAt:                  e.OccurredAt,
		ActualLoad:               p.ActualLoad,
		RetentionDelta:           p.RetentionDelta,
		FatigueHit:               p.FatigueHit,
		UserAcceptedIntervention: p.UserAcceptedIntervention,
		Meta:                     meta(e, now),
	}
	if prev != nil {
		summary.StartedAt = prev.StartedAt
		summary.PlannedLoad = prev.PlannedLoad
	}
	return summary
}
