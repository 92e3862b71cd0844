package hub

import (
	"encoding/json"
	"time"
)

// Message types sent to viewers.
const (
	TypeSnapshot          = "snapshot"
	TypeComponentsUpdated = "componentsUpdated"
	TypeDataUpdated       = "dataUpdated"
	TypeClosed            = "closed"
)

// Message is one viewer notification. Revision orders messages of a surface;
// Body carries the type-specific fields and is flattened into the JSON object.
type Message struct {
	Type      string
	SurfaceID string
	Revision  uint64
	UpdatedAt time.Time
	Body      map[string]any
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Body)+4)
	for k, v := range m.Body {
		out[k] = v
	}
	out["type"] = m.Type
	out["surfaceId"] = m.SurfaceID
	out["revision"] = m.Revision
	out["updatedAt"] = m.UpdatedAt.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}

// Snapshot carries the full surface state.
func Snapshot(surfaceID string, revision uint64, updatedAt time.Time, surface any) Message {
	return Message{Type: TypeSnapshot, SurfaceID: surfaceID, Revision: revision, UpdatedAt: updatedAt,
		Body: map[string]any{"surface": surface}}
}

// ComponentsUpdated carries the complete replacement collection.
func ComponentsUpdated(surfaceID string, revision uint64, updatedAt time.Time, components any) Message {
	return Message{Type: TypeComponentsUpdated, SurfaceID: surfaceID, Revision: revision, UpdatedAt: updatedAt,
		Body: map[string]any{"components": components}}
}

// DataUpdated carries one data model write.
func DataUpdated(surfaceID string, revision uint64, updatedAt time.Time, pointer string, value any) Message {
	return Message{Type: TypeDataUpdated, SurfaceID: surfaceID, Revision: revision, UpdatedAt: updatedAt,
		Body: map[string]any{"pointer": pointer, "value": value}}
}

// Closed is the terminal message of a surface.
func Closed(surfaceID string, revision uint64, updatedAt time.Time) Message {
	return Message{Type: TypeClosed, SurfaceID: surfaceID, Revision: revision, UpdatedAt: updatedAt}
}
