// ABOUTME: Socket event names, typed payloads, and the JSON frame envelope
// ABOUTME: Names and field spellings are wire-compatible with deployed clients

package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names carried in socket frames. The spellings come from the deployed
// JavaScript clients and must not change; several names appear both inbound
// (client frames) and outbound (relayed to receivers).
const (
	// Presence broadcasts, sent to every connection when a space changes.
	EventOnlineUsers   = "getOnlineUsers"
	EventOnlineExperts = "getOnlineExperts"

	// Room subscription request, client to relay. Data is the room key string.
	EventJoinRoom = "joinRoom"

	// Direct user/expert channel. EventSendMessage is inbound only and is
	// relayed to the receiver as EventNewMessage; the rest keep their name
	// in both directions.
	EventSendMessage        = "sendMessage"
	EventNewMessage         = "newMessage"
	EventMessageEdited      = "messageEdited"
	EventMessageDeleted     = "messageDeleted"
	EventAllMessagesDeleted = "allMessagesDeleted"

	// Expert-to-expert channel. EventNewExpertMessage is emitted by the HTTP
	// command handlers in the room-based flow; the edited/deleted/cleared
	// names also arrive as legacy client frames and are relayed direct.
	EventNewExpertMessage         = "newExpertMessage"
	EventExpertMessageEdited      = "expertMessageEdited"
	EventExpertMessageDeleted     = "expertMessageDeleted"
	EventAllExpertMessagesDeleted = "allExpertMessagesDeleted"

	// Whole-conversation teardown, forwarded opaque to the room.
	EventConversationDeleted = "conversationDeleted"
)

// Frame is the JSON envelope for every socket message in both directions.
// Data stays raw until the event name selects a payload type; unknown fields
// inside payloads are ignored on decode.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds a serialized frame for an event and payload. A payload that
// is already a json.RawMessage passes through byte-for-byte.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", event, err)
	}
	return frame, nil
}

// DecodeFrame parses a serialized frame, leaving the payload raw.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("unmarshal frame: missing event name")
	}
	return f, nil
}

// Message is a full chat-message record as clients see it. The _id spelling
// is load-bearing for the deployed clients.
type Message struct {
	ID         string    `json:"_id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text"`
	Time       time.Time `json:"time"`
	IsFile     bool      `json:"isFile"`
	FileID     string    `json:"fileId,omitempty"`
	IsVoice    bool      `json:"isVoice"`
}

// Deletion announces one removed message. FileID is set when the message
// carried an upload so clients can invalidate cached blobs.
type Deletion struct {
	MessageID  string `json:"messageId"`
	FileID     string `json:"fileId,omitempty"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

// Pair identifies the two sides of a conversation. It is the payload of the
// all-messages-deleted events and doubles as the addressing fields peeked out
// of otherwise opaque room-bound payloads.
type Pair struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}
