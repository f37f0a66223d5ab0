package reducer

import (
	"time"

	"github.com/reviso/reviso/pkg/event"
	"github.com/reviso/reviso/pkg/views"
)

// CardAnnotation folds a card_annotation_updated event into the card's
// annotation view. Tags behave as a set — insertion order is preserved
// for display but irrelevant to equality.
func CardAnnotation(prev *views.CardAnnotationView, e *event.Envelope, p *event.CardAnnotationUpdatedPayload, now time.Time) *views.CardAnnotationView {
	next := &views.CardAnnotationView{
		Tags: []string{},
		Meta: meta(e, now),
	}
	if prev != nil {
		next.Tags = append(next.Tags, prev.Tags...)
		next.Pinned = prev.Pinned
	}

	switch p.Action {
	case event.AnnotationAdded:
		next.Tags = unionTags(next.Tags, p.Tags)
		if p.Pinned != nil {
			next.Pinned = *p.Pinned
		}
	case event.AnnotationRemoved:
		next.Tags = subtractTags(next.Tags, p.Tags)
		// Removal clears the pin only when the payload says so.
		if p.Pinned != nil && !*p.Pinned {
			next.Pinned = false
		}
	case event.AnnotationUpdated:
		if p.Tags != nil {
			next.Tags = unionTags([]string{}, p.Tags)
		}
		if p.Pinned != nil {
			next.Pinned = *p.Pinned
		}
	}

	next.LastUpdatedAt = e.OccurredAt
	return next
}

// unionTags merges added into existing, keeping first-observation
// insertion order and dropping duplicates.
func unionTags(existing, added []string) []string {
	seen := make(map[string]bool, len(existing)+len(added))
	merged := make([]string, 0, len(existing)+len(added))
	for _, tag := range existing {
		if !seen[tag] {
			seen[tag] = true
			merged = append(merged, tag)
		}
	}
	for _, tag := range added {
		if !seen[tag] {
			seen[tag] = true
			merged = append(merged, tag)
		}
	}
	return merged
}

func subtractTags(existing, removed []string) []string {
	drop := make(map[string]bool, len(removed))
	for _, tag := range removed {
		drop[tag] = true
	}
	kept := make([]string, 0, len(existing))
	for _, tag := range existing {
		if !drop[tag] {
			kept = append(kept, tag)
		}
	}
	return kept
}
