package realtime

import "encoding/json"

// Inbound event names.
const (
	EventJoinRoom             = "join-room"
	EventLeaveRoom            = "leave-room"
	EventTextUpdate           = "text-update"
	EventTextUpdateWithCursor = "text-update-with-cursor"
	EventTitleUpdate          = "title-update"
	EventDrawingData          = "drawing-data"
	EventCursorPosition       = "cursor-position"
)

// Outbound event names.
const (
	EventUserJoined = "user-joined"
	EventUserLeft   = "user-left"
	EventAck        = "ack"
)

// Envelope frames every message on the realtime channel. Ack is a
// client-chosen correlation number; the server echoes it on the
// acknowledgment for content-bearing events.
type Envelope struct {
	Event string          `json:"event"`
	Ack   int64           `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type roomPayload struct {
	Room     string `json:"room"`
	ClientID string `json:"clientId"`
}

type presencePayload struct {
	ClientID string `json:"clientId"`
}

// contentPayload is the decoded form of text-update and
// text-update-with-cursor. PersistSnapshot is nil for ephemeral updates.
type contentPayload struct {
	Room            string          `json:"room"`
	DocumentID      string          `json:"documentId"`
	UserID          string          `json:"userId"`
	UserEmail       string          `json:"userEmail"`
	Title           string          `json:"title"`
	Tags            []string        `json:"tags"`
	PersistSnapshot *string         `json:"persistSnapshot"`
	Cursor          json.RawMessage `json:"cursor"`
}

// broadcastPayload carries the minimum needed to address a broadcast-only
// event; the payload itself is relayed verbatim.
type broadcastPayload struct {
	Room       string `json:"room"`
	DocumentID string `json:"documentId"`
}

func (p broadcastPayload) roomKey() string {
	if p.Room != "" {
		return p.Room
	}
	return p.DocumentID
}

type ackPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func encodeEnvelope(event string, ack int64, payload any) ([]byte, error) {
	var data json.RawMessage
	switch value := payload.(type) {
	case nil:
	case json.RawMessage:
		data = value
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		data = encoded
	}
	return json.Marshal(Envelope{Event: event, Ack: ack, Data: data})
}
