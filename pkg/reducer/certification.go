package reducer

import (
	"time"

	"github.com/reviso/reviso/pkg/event"
	"github.com/reviso/reviso/pkg/views"
)

// ConceptCertification folds a mastery_certification_completed event
// into the concept's certification view. The history is append-only
// and unbounded; truncation is a product decision made outside the
// reducer.
func ConceptCertification(prev *views.ConceptCertificationView, e *event.Envelope, p *event.MasteryCertificationCompletedPayload, now time.Time) *views.ConceptCertificationView {
	accuracy := 0.0
	if p.QuestionsAnswered > 0 {
		accuracy = clamp(float64(p.CorrectCount)/float64(p.QuestionsAnswered), 0, 1)
	}

	next := &views.ConceptCertificationView{
		CertificationResult: p.CertificationResult,
		Accuracy:            accuracy,
		Meta:                meta(e, now),
	}
	if prev != nil {
		next.CertificationHistory = append(next.CertificationHistory, prev.CertificationHistory...)
	}
	next.CertificationHistory = append(next.CertificationHistory, views.CertificationAttempt{
		Result:            p.CertificationResult,
		Date:              e.OccurredAt,
		QuestionsAnswered: p.QuestionsAnswered,
		CorrectCount:      p.CorrectCount,
		ReasoningQuality:  p.ReasoningQuality,
	})

	return next
}
