// Package events defines the immutable event record: one fact describing a
// single state change, identified by a hybrid logical clock reading. Events
// are received and stored as JSON messages in an append-only log while being
// dispatched to projections that maintain a view of current state.
package events

import (
	"encoding/json"

	"github.com/tomyedwab/hindsight/hlc"
)

// DefaultSchemaVersion is stamped on events whose producer did not specify
// a payload schema version.
const DefaultSchemaVersion = "1.0.0"

// Event is an immutable record of one state change. It is never mutated or
// deleted individually once appended to a store; bulk clears and rebuilds
// are the only destructive operations.
type Event struct {
	ID            hlc.HLC
	Type          string
	Data          *Payload
	SchemaVersion string
}

// New constructs an event with the default schema version. A nil data
// payload becomes an empty one.
func New(id hlc.HLC, eventType string, data *Payload) Event {
	if data == nil {
		data = NewPayload()
	}
	return Event{
		ID:            id,
		Type:          eventType,
		Data:          data,
		SchemaVersion: DefaultSchemaVersion,
	}
}

// Equal reports structural equality across all four fields.
func (e Event) Equal(other Event) bool {
	return e.ID == other.ID &&
		e.Type == other.Type &&
		e.SchemaVersion == other.SchemaVersion &&
		e.Data.Equal(other.Data)
}

type eventJSON struct {
	ID            hlc.HLC  `json:"id"`
	Type          string   `json:"type"`
	Data          *Payload `json:"data"`
	SchemaVersion string   `json:"schemaVersion"`
}

// MarshalJSON encodes the event as a self-describing record with the
// identifier in its canonical string form.
func (e Event) MarshalJSON() ([]byte, error) {
	data := e.Data
	if data == nil {
		data = NewPayload()
	}
	version := e.SchemaVersion
	if version == "" {
		version = DefaultSchemaVersion
	}
	return json.Marshal(eventJSON{
		ID:            e.ID,
		Type:          e.Type,
		Data:          data,
		SchemaVersion: version,
	})
}

// UnmarshalJSON decodes a record, defaulting a missing schema version and a
// missing payload.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Data == nil {
		raw.Data = NewPayload()
	}
	if raw.SchemaVersion == "" {
		raw.SchemaVersion = DefaultSchemaVersion
	}
	*e = Event{
		ID:            raw.ID,
		Type:          raw.Type,
		Data:          raw.Data,
		SchemaVersion: raw.SchemaVersion,
	}
	return nil
}
