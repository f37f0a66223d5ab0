package views

// LastApplied is the projector cursor stored on every view: the
// (received_at, event_id) of the most recent event folded into it.
// Comparison is lexicographic, which matches chronological order
// because received_at uses the canonical fixed-width UTC layout.
type LastApplied struct {
	ReceivedAt string `json:"received_at"`
	EventID    string `json:"event_id"`
}

// IsZero reports whether no event has been applied yet.
func (c LastApplied) IsZero() bool {
	return c.ReceivedAt == "" && c.EventID == ""
}

// Before reports whether c orders strictly before (receivedAt, eventID)
// in lexicographic (received_at, event_id) order.
func (c LastApplied) Before(receivedAt, eventID string) bool {
	if c.ReceivedAt != receivedAt {
		return c.ReceivedAt < receivedAt
	}
	return c.EventID < eventID
}

// ShouldApply decides whether an event with the given (received_at,
// event_id) must be folded into a view whose cursor is c. hasPrior is
// false when no prior view document exists.
//
//   - no prior view            → apply
//   - same event_id            → skip (idempotent duplicate)
//   - newer received_at        → apply
//   - same instant, distinct   → apply (second delivery sees the
//     first's cursor and loses)
//   - older received_at        → skip (stale; newer state present)
func ShouldApply(c LastApplied, hasPrior bool, receivedAt, eventID string) bool {
	if !hasPrior || c.IsZero() {
		return true
	}
	if eventID == c.EventID {
		return false
	}
	if receivedAt > c.ReceivedAt {
		return true
	}
	return receivedAt == c.ReceivedAt
}
