package reconcile

import (
	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/events"
)

// RelevanceFunc decides whether a change event belongs to the displayed list.
type RelevanceFunc func(events.ChangeEvent) bool

// Broadcast accepts every event (public feeds).
func Broadcast() RelevanceFunc {
	return func(events.ChangeEvent) bool { return true }
}

// FieldEquals accepts events whose record has column == value, e.g. comments of one item.
//
// Delete events usually carry only the primary key. When the column is missing from a
// Deleted record the event is accepted; removal is by id, so an unrelated id is a no-op.
func FieldEquals(column, value string) RelevanceFunc {
	return func(ev events.ChangeEvent) bool {
		if ev.Kind == events.Deleted && !ev.Record.HasField(column) {
			return true
		}
		return ev.Record.String(column) == value
	}
}

// DirectMessage accepts messages exchanged between x and y in either direction.
func DirectMessage(senderColumn, receiverColumn, x, y string) RelevanceFunc {
	return func(ev events.ChangeEvent) bool {
		rec := ev.Record
		if ev.Kind == events.Deleted && !rec.HasField(senderColumn) && !rec.HasField(receiverColumn) {
			return true
		}
		from, to := rec.String(senderColumn), rec.String(receiverColumn)
		return (from == x && to == y) || (from == y && to == x)
	}
}

// MatchingQuery accepts events whose record satisfies the query's filters.
func MatchingQuery(q ports.Query) RelevanceFunc {
	return func(ev events.ChangeEvent) bool {
		if ev.Kind == events.Deleted && len(ev.Record.Fields) == 0 {
			return true
		}
		return q.Matches(ev.Record)
	}
}

// AllOf accepts an event only when every predicate does.
func AllOf(preds ...RelevanceFunc) RelevanceFunc {
	return func(ev events.ChangeEvent) bool {
		for _, p := range preds {
			if !p(ev) {
				return false
			}
		}
		return true
	}
}
