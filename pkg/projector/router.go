package projector

import (
	"context"
	"time"

	"github.com/reviso/reviso/pkg/event"
	"github.com/reviso/reviso/pkg/reducer"
	"github.com/reviso/reviso/pkg/store"
	"github.com/reviso/reviso/pkg/views"
)

// handlerFunc projects one routed event. All view writes of one event
// happen in a single store transaction.
type handlerFunc func(ctx context.Context, p *Projector, env *event.Envelope, pl event.Payload, now time.Time) ([]ViewResult, error)

// routes maps event types to their projection handlers. A nil handler
// marks a type that is recorded in the event log but projects no view.
var routes = map[string]handlerFunc{
	event.TypeCardReviewed:                  projectCardReviewed,
	event.TypeQuestionAttempted:             projectQuestionAttempted,
	event.TypeRelationshipReviewed:          projectRelationshipReviewed,
	event.TypeMisconceptionProbeResult:      projectMisconceptionProbe,
	event.TypeSessionStarted:                projectSessionStarted,
	event.TypeSessionEnded:                  projectSessionEnded,
	event.TypeAccelerationApplied:           projectAcceleration,
	event.TypeLapseApplied:                  projectLapse,
	event.TypeMasteryCertificationCompleted: projectCertificationCompleted,
	event.TypeCardAnnotationUpdated:         projectAnnotation,

	event.TypeMasteryCertificationStarted: nil,
	event.TypeContentFlagged:              nil,
	event.TypeInterventionAccepted:        nil,
	event.TypeInterventionRejected:        nil,
	event.TypeLibraryIDMapApplied:         nil,
}

func scheduleCursor(v *views.CardScheduleView) views.LastApplied      { return v.LastApplied }
func perfCursor(v *views.PerformanceView) views.LastApplied          { return v.LastApplied }
func relCursor(v *views.RelationshipScheduleView) views.LastApplied  { return v.LastApplied }
func edgeCursor(v *views.MisconceptionEdgeView) views.LastApplied    { return v.LastApplied }
func certCursor(v *views.ConceptCertificationView) views.LastApplied { return v.LastApplied }
func sessionCursor(v *views.SessionView) views.LastApplied           { return v.LastApplied }
func summaryCursor(v *views.SessionSummary) views.LastApplied        { return v.LastApplied }
func annotationCursor(v *views.CardAnnotationView) views.LastApplied { return v.LastApplied }

func projectCardReviewed(ctx context.Context, p *Projector, env *event.Envelope, pl event.Payload, now time.Time) ([]ViewResult, error) {
	payload := pl.(*event.CardReviewedPayload)
	schedulePath := viewPath(env, views.CollectionCardSchedule)
	perfPath := viewPath(env, views.CollectionCardPerf)

	var results []ViewResult
	err := p.store.Transaction(ctx, []string{schedulePath, perfPath}, func(txn store.Txn) error {
		schedRes, err := applyView(txn, env, views.CollectionCardSchedule, schedulePath, scheduleCursor,
			func(prev *views.CardScheduleView) (any, error) {
				return reducer.CardSchedule(prev, env, payload, now), nil
			})
		if err != nil {
			return err
		}
		perfRes, err := applyView(txn, env, views.CollectionCardPerf, perfPath, perfCursor,
			func(prev *views.PerformanceView) (any, error) {
				return reducer.CardPerformance(prev, env, payload, now), nil
			})
		if err != nil {
			return err
		}
		results = []ViewResult{schedRes, perfRes}
		return nil
	})
	return results, err
}

func projectQuestionAttempted(ctx context.Context, p *Projector, env *event.Envelope, pl event.Payload, now time.Time) ([]ViewResult, error) {
	payload := pl.(*event.QuestionAttemptedPayload)
	path := viewPath(env, views.CollectionQuestionPerf)

	var results []ViewResult
	err := p.store.Transaction(ctx, []string{path}, func(txn store.Txn) error {
		res, err := applyView(txn, env, views.CollectionQuestionPerf, path, perfCursor,
			func(prev *views.PerformanceView) (any, error) {
				return reducer.QuestionPerformance(prev, env, payload, now), nil
			})
		if err != nil {
			return err
		}
		results = []ViewResult{res}
		return nil
	})
	return results, err
}

func projectRelationshipReviewed(ctx context.Context, p *Projector, env *event.Envelope, pl event.Payload, now time.Time) ([]ViewResult, error) {
	payload := pl.(*event.RelationshipReviewedPayload)
	schedulePath := viewPath(env, views.CollectionRelationshipSchedule)
	perfPath := viewPath(env, views.CollectionRelationshipPerf)

	var results []ViewResult
	err := p.store.Transaction(ctx, []string{schedulePath, perfPath}, func(txn store.Txn) error {
		schedRes, err := applyView(txn, env, views.CollectionRelationshipSchedule, schedulePath, relCursor,
			func(prev *views.RelationshipScheduleView) (any, error) {
				return reducer.RelationshipSchedule(prev, env, payload, now), nil
			})
		if err != nil {
			return err
		}
		perfRes, err := applyView(txn, env, views.CollectionRelationshipPerf, perfPath, perfCursor,
			func(prev *views.PerformanceView) (any, error) {
				return reducer.RelationshipPerformance(prev, env, payload, now), nil
			})
		if err != nil {
			return err
		}
		results = []ViewResult{schedRes, perfRes}
		return nil
	})
	return results, err
}

func projectMisconceptionProbe(ctx context.Context, p *Projector, env *event.Envelope, pl event.Payload, now time.Time) ([]ViewResult, error) {
	payload := pl.(*event.MisconceptionProbeResultPayload)
	path := viewPath(env, views.CollectionMisconceptionEdge)

	var results []ViewResult
	err := p.store.Transaction(ctx, []string{path}, func(txn store.Txn) error {
		res, err := applyView(txn, env, views.CollectionMisconceptionEdge, path, edgeCursor,
			func(prev *views.MisconceptionEdgeView) (any, error) {
				return reducer.MisconceptionEdge(prev, env, payload, now), nil
			})
		if err != nil {
			return err
		}
		results = []ViewResult{res}
		return nil
	})
	return results, err
}

func projectSessionStarted(ctx context.Context, p *Projector, env *event.Envelope, pl event.Payload, now time.Time) ([]ViewResult, error) {
	payload := pl.(*event.SessionStartedPayload)
	path := viewPath(env, views.CollectionSession)

	var results []ViewResult
	err := p.store.Transaction(ctx, []string{path}, func(txn store.Txn) error {
		res, err := applyView(txn, env, views.CollectionSession, path, sessionCursor,
			func(prev *views.SessionView) (any, error) {
				return reducer.SessionStarted(prev, env, payload, now), nil
			})
		if err != nil {
			return err
		}
		results = []ViewResult{res}
		return nil
	})
	return results, err
}

// projectSessionEnded updates the session view and writes the one-shot
// session summary in the same transaction. The summary carries its own
// cursor so a redelivery cannot rewrite it.
func projectSessionEnded(ctx context.Context, p *Projector, env *event.Envelope, pl event.Payload, now time.Time) ([]ViewResult, error) {
	payload := pl.(*event.SessionEndedPayload)
	sessionPath := viewPath(env, views.CollectionSession)
	summaryPath := views.SummaryPath(env.UserID, env.LibraryID, env.Entity.ID)

	var results []ViewResult
	err := p.store.Transaction(ctx, []string{sessionPath, summaryPath}, func(txn store.Txn) error {
		prevSession, _, err := loadView[views.SessionView](txn, sessionPath)
		if err != nil {
			return err
		}
		sessionRes, err := applyView(txn, env, views.CollectionSession, sessionPath, sessionCursor,
			func(prev *views.SessionView) (any, error) {
				return reducer.SessionEnded(prev, env, payload, now), nil
			})
		if err != nil {
			return err
		}
		summaryRes, err := applyView(txn, env, "session_summary", summaryPath, summaryCursor,
			func(_ *views.SessionSummary) (any, error) {
				return reducer.SessionEndedSummary(prevSession, env, payload, now), nil
			})
		if err != nil {
			return err
		}
		results = []ViewResult{sessionRes, summaryRes}
		return nil
	})
	return results, err
}

func projectAcceleration(ctx context.Context, p *Projector, env *event.Envelope, pl event.Payload, now time.Time) ([]ViewResult, error) {
	payload := pl.(*event.AccelerationAppliedPayload)
	path := viewPath(env, views.CollectionCardSchedule)

	var results []ViewResult
	err := p.store.Transaction(ctx, []string{path}, func(txn store.Txn) error {
		res, err := applyView(txn, env, views.CollectionCardSchedule, path, scheduleCursor,
			func(prev *views.CardScheduleView) (any, error) {
				return reducer.Acceleration(prev, env, payload, now)
			})
		if err != nil {
			return err
		}
		results = []ViewResult{res}
		return nil
	})
	return results, err
}

func projectLapse(ctx context.Context, p *Projector, env *event.Envelope, pl event.Payload, now time.Time) ([]ViewResult, error) {
	payload := pl.(*event.LapseAppliedPayload)
	path := viewPath(env, views.CollectionCardSchedule)

	var results []ViewResult
	err := p.store.Transaction(ctx, []string{path}, func(txn store.Txn) error {
		res, err := applyView(txn, env, views.CollectionCardSchedule, path, scheduleCursor,
			func(prev *views.CardScheduleView) (any, error) {
				return reducer.Lapse(prev, env, payload, now)
			})
		if err != nil {
			return err
		}
		results = []ViewResult{res}
		return nil
	})
	return results, err
}

func projectCertificationCompleted(ctx context.Context, p *Projector, env *event.Envelope, pl event.Payload, now time.Time) ([]ViewResult, error) {
	payload := pl.(*event.MasteryCertificationCompletedPayload)
	path := viewPath(env, views.CollectionConceptCertification)

	var results []ViewResult
	err := p.store.Transaction(ctx, []string{path}, func(txn store.Txn) error {
		res, err := applyView(txn, env, views.CollectionConceptCertification, path, certCursor,
			func(prev *views.ConceptCertificationView) (any, error) {
				return reducer.ConceptCertification(prev, env, payload, now), nil
			})
		if err != nil {
			return err
		}
		results = []ViewResult{res}
		return nil
	})
	return results, err
}

func projectAnnotation(ctx context.Context, p *Projector, env *event.Envelope, pl event.Payload, now time.Time) ([]ViewResult, error) {
	payload := pl.(*event.CardAnnotationUpdatedPayload)
	path := viewPath(env, views.CollectionCardAnnotation)

	var results []ViewResult
	err := p.store.Transaction(ctx, []string{path}, func(txn store.Txn) error {
		res, err := applyView(txn, env, views.CollectionCardAnnotation, path, annotationCursor,
			func(prev *views.CardAnnotationView) (any, error) {
				return reducer.CardAnnotation(prev, env, payload, now), nil
			})
		if err != nil {
			return err
		}
		results = []ViewResult{res}
		return nil
	})
	return results, err
}
