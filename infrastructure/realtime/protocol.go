package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/events"
)

// Phoenix channel events used by Supabase Realtime.
const (
	EventJoin            = "phx_join"
	EventLeave           = "phx_leave"
	EventReply           = "phx_reply"
	EventError           = "phx_error"
	EventClose           = "phx_close"
	EventHeartbeat       = "heartbeat"
	EventPostgresChanges = "postgres_changes"
	EventSystem          = "system"
	EventAccessToken     = "access_token"

	// TopicPhoenix carries connection level messages such as heartbeats
	TopicPhoenix = "phoenix"

	protocolVersion = "1.0.0"
)

// Message is a Phoenix v1 frame.
type Message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

// NewMessage marshals payload into a frame.
func NewMessage(topic, event, ref string, payload any) (Message, error) {
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Message{Topic: topic, Event: event, Payload: data, Ref: ref}, nil
}

// ParseMessage decodes a frame.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("parse frame: %w", err)
	}
	if msg.Topic == "" || msg.Event == "" {
		return Message{}, fmt.Errorf("frame without topic or event")
	}
	return msg, nil
}

// PostgresChange is one entry of the postgres_changes join config.
type PostgresChange struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

// JoinConfig is the channel config sent with phx_join.
type JoinConfig struct {
	Broadcast       BroadcastConfig  `json:"broadcast"`
	Presence        PresenceConfig   `json:"presence"`
	PostgresChanges []PostgresChange `json:"postgres_changes"`
}

type BroadcastConfig struct {
	Self bool `json:"self"`
	Ack  bool `json:"ack"`
}

type PresenceConfig struct {
	Key string `json:"key"`
}

// JoinPayload is the phx_join payload.
type JoinPayload struct {
	Config      JoinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

// ReplyPayload is the phx_reply payload.
type ReplyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

// OK reports whether the server accepted the request.
func (r ReplyPayload) OK() bool {
	return r.Status == "ok"
}

// Reason extracts a human readable reason from an error reply.
func (r ReplyPayload) Reason() string {
	var body struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	if len(r.Response) > 0 && json.Unmarshal(r.Response, &body) == nil {
		if body.Reason != "" {
			return body.Reason
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return r.Status
}

// SystemPayload is the system event payload, sent when postgres_changes fails to attach.
type SystemPayload struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Extension string `json:"extension"`
}

// ChangePayload is the postgres_changes payload.
type ChangePayload struct {
	IDs  []int64    `json:"ids"`
	Data ChangeData `json:"data"`
}

// ChangeData is a single decoded WAL change.
type ChangeData struct {
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	CommitTimestamp string          `json:"commit_timestamp"`
	Type            string          `json:"type"`
	Record          json.RawMessage `json:"record"`
	OldRecord       json.RawMessage `json:"old_record"`
	Errors          json.RawMessage `json:"errors"`
}

// DecodeChange turns a postgres_changes payload into a ChangeEvent. Deletes carry the old
// row, which holds at least the primary key.
func DecodeChange(payload json.RawMessage) (events.ChangeEvent, error) {
	var p ChangePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return events.ChangeEvent{}, fmt.Errorf("decode postgres_changes: %w", err)
	}
	kind, err := events.ParseChangeKind(p.Data.Type)
	if err != nil || kind == events.AnyChange {
		return events.ChangeEvent{}, fmt.Errorf("postgres_changes: unexpected type %q", p.Data.Type)
	}

	raw := p.Data.Record
	if kind == events.Deleted {
		raw = p.Data.OldRecord
	}
	if len(raw) == 0 || string(raw) == "null" {
		return events.ChangeEvent{}, fmt.Errorf("postgres_changes %s on %s has no row", kind, p.Data.Table)
	}
	row, err := entities.DecodeRow(raw)
	if err != nil {
		return events.ChangeEvent{}, err
	}
	rec, err := entities.RecordFromRow(row)
	if err != nil {
		return events.ChangeEvent{}, fmt.Errorf("postgres_changes %s on %s: %w", kind, p.Data.Table, err)
	}

	ev := events.ChangeEvent{Kind: kind, Table: p.Data.Table, Record: rec}
	if p.Data.CommitTimestamp != "" {
		if ts, err := entities.ParseTimestamp(p.Data.CommitTimestamp); err == nil {
			ev.CommitTimestamp = ts
		}
	}
	if ev.CommitTimestamp.IsZero() {
		ev.CommitTimestamp = time.Now()
	}
	return ev, nil
}
