package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
)

// ChangeKind is the kind of row change delivered by a change feed.
type ChangeKind string

const (
	Inserted ChangeKind = "INSERT"
	Updated  ChangeKind = "UPDATE"
	Deleted  ChangeKind = "DELETE"
	// AnyChange is only valid in subscription filters.
	AnyChange ChangeKind = "*"
)

// ParseChangeKind accepts the wire spelling of a change type.
func ParseChangeKind(s string) (ChangeKind, error) {
	switch ChangeKind(strings.ToUpper(s)) {
	case Inserted:
		return Inserted, nil
	case Updated:
		return Updated, nil
	case Deleted:
		return Deleted, nil
	case AnyChange:
		return AnyChange, nil
	default:
		return "", fmt.Errorf("unknown change kind %q", s)
	}
}

// ChangeEvent is a single row change pushed by a change feed.
// Record carries the new row for Inserted and Updated; for Deleted it carries whatever the
// feed knows of the old row, which is at least the id.
type ChangeEvent struct {
	Kind            ChangeKind      `json:"type"`
	Table           string          `json:"table"`
	Record          entities.Record `json:"record"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// NewInserted creates an Inserted event
func NewInserted(table string, rec entities.Record) ChangeEvent {
	return ChangeEvent{Kind: Inserted, Table: table, Record: rec, CommitTimestamp: time.Now()}
}

// NewUpdated creates an Updated event
func NewUpdated(table string, rec entities.Record) ChangeEvent {
	return ChangeEvent{Kind: Updated, Table: table, Record: rec, CommitTimestamp: time.Now()}
}

// NewDeleted creates a Deleted event for a bare id
func NewDeleted(table, id string) ChangeEvent {
	return ChangeEvent{Kind: Deleted, Table: table, Record: entities.Record{ID: id}, CommitTimestamp: time.Now()}
}

// NewDeletedRecord creates a Deleted event that carries the full old row
func NewDeletedRecord(table string, old entities.Record) ChangeEvent {
	return ChangeEvent{Kind: Deleted, Table: table, Record: old, CommitTimestamp: time.Now()}
}

// RecordID returns the id of the affected row.
func (e ChangeEvent) RecordID() string {
	return e.Record.ID
}

func (e ChangeEvent) String() string {
	return fmt.Sprintf("%s %s#%s", e.Kind, e.Table, e.Record.ID)
}
