package relay

import "encoding/json"

// Kind tags every frame on the wire.
type Kind string

// Inbound kinds.
const (
	KindSendMessage      Kind = "send_message"
	KindDeliveredMessage Kind = "delivered_message"
	KindReadMessage      Kind = "read_message"
	KindEditMessage      Kind = "edit_message"
	KindDeleteMessage    Kind = "delete_message"
	KindAdminOpenChat    Kind = "admin_open_chat"
	KindFocus            Kind = "focus"
	KindActiveTyping     Kind = "active-typing"
	KindIdleTyping       Kind = "idle-typing"
	KindBlur             Kind = "blur"
)

// Outbound kinds. Activity kinds pass through unchanged.
const (
	KindMessageSent      Kind = "message_sent"
	KindMessageDelivered Kind = "message_delivered"
	KindMessageRead      Kind = "message_read"
	KindMessageEdited    Kind = "message_edited"
	KindMessageDeleted   Kind = "message_deleted"
	KindAdminLogin       Kind = "admin_login"
	KindUserLogin        Kind = "user_login"
)

// Frame is an inbound client message.
type Frame struct {
	Type           Kind            `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	MessageID      string          `json:"message_id,omitempty"`
	Message        string          `json:"message,omitempty"`
	Time           string          `json:"time,omitempty"`
	Reply          json.RawMessage `json:"reply,omitempty"`
	Files          json.RawMessage `json:"files,omitempty"`
}

// Payload is an outbound frame: the inbound fields mirrored back plus the
// sender's identity.
type Payload struct {
	Type            Kind            `json:"type"`
	ConversationID  string          `json:"conversation_id,omitempty"`
	MessageID       string          `json:"message_id,omitempty"`
	Message         string          `json:"message,omitempty"`
	Time            string          `json:"time,omitempty"`
	SenderID        string          `json:"sender_id,omitempty"`
	DeviceID        string          `json:"deviceId,omitempty"`
	UserID          string          `json:"user_id,omitempty"`
	UserOnWebmaster *bool           `json:"user_on_webmaster,omitempty"`
	Reply           json.RawMessage `json:"reply,omitempty"`
	Files           json.RawMessage `json:"files,omitempty"`
}

func (p Payload) encode() []byte {
	b, _ := json.Marshal(p)
	return b
}
