package types

import "encoding/json"

const (
	// client -> server
	WireEventJoin             = "join"
	WireEventRequestPresence  = "requestPresence"
	WireEventSend             = "send"
	WireEventTranslateRequest = "translateRequest"

	// server -> client
	WireEventPresenceUpdated = "presenceUpdated"
	WireEventMessageReceived = "messageReceived"
	WireEventMessageBlocked  = "messageBlocked"
	WireEventTranslated      = "translated"
	WireEventError           = "error"
)

// JSON-serialized WebsocketMessage is what is actually sent via the
// Websocket connection.
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewWireMessage wraps a payload in the wire envelope.
func NewWireMessage(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebsocketMessage{Event: event, Data: data})
}

// JoinRequest registers presence and sets the connection's current room.
// Re-joining switches rooms; there is no explicit leave-room event.
type JoinRequest struct {
	Room        string `json:"room" mapstructure:"room"`
	DisplayName string `json:"display_name" mapstructure:"display_name"`
}

// SendRequest feeds the enrichment pipeline. UserId is absent for guests,
// SourceLanguage is the sender's language tag and may be empty.
type SendRequest struct {
	Room           string `json:"room" mapstructure:"room"`
	DisplayName    string `json:"display_name" mapstructure:"display_name"`
	UserId         string `json:"user_id" mapstructure:"user_id"`
	Text           string `json:"text" mapstructure:"text"`
	SourceLanguage string `json:"source_language" mapstructure:"source_language"`
}

// TranslateRequest asks for an on-demand translation of a single message,
// addressed back to only the requesting connection via the correlation id.
type TranslateRequest struct {
	Text           string `json:"text" mapstructure:"text"`
	TargetLanguage string `json:"target_language" mapstructure:"target_language"`
	CorrelationId  string `json:"correlation_id" mapstructure:"correlation_id"`
}

type PresenceUpdate struct {
	Users []string `json:"users"`
}

type BlockNotice struct {
	Reason string `json:"reason"`
}

type TranslationReply struct {
	CorrelationId  string `json:"correlation_id"`
	TranslatedText string `json:"translated_text"`
	TargetLanguage string `json:"target_language"`
}

type ErrorNotice struct {
	Reason string `json:"reason"`
}

// HistoryEntry is the projection served by the history read path.
type HistoryEntry struct {
	Room              string `json:"room"`
	DisplayName       string `json:"display_name"`
	Text              string `json:"text"`
	BridgeTranslation string `json:"bridge_translation,omitempty"`
	FormattedTime     string `json:"formatted_time"`
	Id                string `json:"id"`
}

// HistoryTimeFormat is the human-readable timestamp used in HistoryEntry.
const HistoryTimeFormat = "Jan 2, 15:04"

// NewHistoryEntry projects a persisted message for the read path.
func NewHistoryEntry(m Message) HistoryEntry {
	return HistoryEntry{
		Room:              m.Room,
		DisplayName:       m.AuthorDisplayName,
		Text:              m.Text,
		BridgeTranslation: m.BridgeTranslation,
		FormattedTime:     m.CreatedAt.Format(HistoryTimeFormat),
		Id:                m.Id,
	}
}
