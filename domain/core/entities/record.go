package entities

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Column names every synced table carries.
const (
	ColumnID        = "id"
	ColumnCreatedAt = "created_at"
)

// Record is a single row of a remote table.
// ID and CreatedAt are lifted out of the row; Fields holds everything else.
type Record struct {
	ID        string
	CreatedAt time.Time
	Fields    map[string]any
}

// NewRecord creates a record with a copy of the given fields.
func NewRecord(id string, createdAt time.Time, fields map[string]any) Record {
	r := Record{ID: id, CreatedAt: createdAt, Fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		r.Fields[k] = v
	}
	return r
}

// Field returns the raw value of a field, or nil.
func (r Record) Field(name string) any {
	switch name {
	case ColumnID:
		return r.ID
	case ColumnCreatedAt:
		return r.CreatedAt
	}
	if r.Fields == nil {
		return nil
	}
	return r.Fields[name]
}

// HasField reports whether the row carried the named column.
func (r Record) HasField(name string) bool {
	switch name {
	case ColumnID:
		return r.ID != ""
	case ColumnCreatedAt:
		return !r.CreatedAt.IsZero()
	}
	_, ok := r.Fields[name]
	return ok
}

// String returns a field rendered as a string. Missing fields render as "".
func (r Record) String(name string) string {
	v := r.Field(name)
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(val)
	}
}

// Clone returns a deep enough copy that mutating the field map of one does not affect the other.
func (r Record) Clone() Record {
	return NewRecord(r.ID, r.CreatedAt, r.Fields)
}

// WithPatch returns a copy with the given fields overwritten. ID and CreatedAt are never patched.
func (r Record) WithPatch(patch map[string]any) Record {
	out := r.Clone()
	for k, v := range patch {
		if k == ColumnID || k == ColumnCreatedAt {
			continue
		}
		out.Fields[k] = v
	}
	return out
}

// With returns a copy with a single field set.
func (r Record) With(name string, value any) Record {
	return r.WithPatch(map[string]any{name: value})
}

// Row flattens the record back into a column map.
func (r Record) Row() map[string]any {
	row := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		row[k] = v
	}
	if r.ID != "" {
		row[ColumnID] = r.ID
	}
	if !r.CreatedAt.IsZero() {
		row[ColumnCreatedAt] = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return row
}

// MarshalJSON renders the record as a flat row.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Row())
}

// UnmarshalJSON decodes a flat row.
func (r *Record) UnmarshalJSON(data []byte) error {
	row, err := DecodeRow(data)
	if err != nil {
		return err
	}
	rec, err := RecordFromRow(row)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// DecodeRow decodes a JSON object keeping numbers as json.Number so integer ids survive.
func DecodeRow(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return row, nil
}

// DecodeRows decodes a JSON array of rows into records.
func DecodeRows(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		rec, err := RecordFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// RecordFromRow lifts id and created_at out of a row. A row without an id is rejected;
// a missing created_at leaves the ordering key zero.
func RecordFromRow(row map[string]any) (Record, error) {
	id, err := idString(row[ColumnID])
	if err != nil {
		return Record{}, err
	}

	var createdAt time.Time
	if raw, ok := row[ColumnCreatedAt]; ok && raw != nil {
		createdAt, err = ParseTimestamp(raw)
		if err != nil {
			return Record{}, err
		}
	}

	fields := make(map[string]any, len(row))
	for k, v := range row {
		if k == ColumnID || k == ColumnCreatedAt {
			continue
		}
		fields[k] = v
	}
	return Record{ID: id, CreatedAt: createdAt, Fields: fields}, nil
}

func idString(v any) (string, error) {
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", errors.New("row id is empty")
		}
		return id, nil
	case json.Number:
		return id.String(), nil
	case float64:
		return fmt.Sprintf("%.0f", id), nil
	case int:
		return fmt.Sprintf("%d", id), nil
	case int64:
		return fmt.Sprintf("%d", id), nil
	case nil:
		return "", errors.New("row has no id")
	default:
		return "", fmt.Errorf("unsupported id type %T", v)
	}
}

// timestamp layouts emitted by PostgREST for timestamptz and timestamp columns
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999",
}

// ParseTimestamp parses the created_at representations seen on the wire.
func ParseTimestamp(v any) (time.Time, error) {
	switch ts := v.(type) {
	case time.Time:
		return ts, nil
	case string:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, ts); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", ts)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}
