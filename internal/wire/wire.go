// Package wire defines the typed payloads exchanged with the order-chat
// backend, both over the live channel and over the history REST API.
//
// Inbound channel payloads arrive as loosely typed maps; Decode converts them
// into one of the closed set of structs below at the boundary so the rest of
// the engine never touches untyped data.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Channel event names, as emitted by and received from the backend.
const (
	// Outbound.
	EventJoinOrderChat  = "join_order_chat"
	EventLeaveOrderChat = "leave_order_chat"
	EventSendMessage    = "send_message"
	EventMarkAsRead     = "mark_as_read"
	EventUserTyping     = "user_typing"

	// Inbound.
	EventJoinedChat   = "joined_chat"
	EventNewMessage   = "new_message"
	EventMessagesRead = "messages_read"
	EventJWTError     = "jwt_error"
)

// Sender is the denormalized sender summary carried on every message.
type Sender struct {
	ID        string `json:"id"`
	FullName  string `json:"fullName"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Message is one chat message as stored by the backend.
//
// Within a timeline the ID is unique and ordering is by CreatedAt ascending;
// IsRead only ever flips false -> true.
type Message struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"orderId"`
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	Sender    Sender    `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
	IsRead    bool      `json:"isRead"`
}

// HistoryPage is the GET /orders/{orderId}/messages response body.
type HistoryPage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}

// JoinedChat is the joined_chat confirmation payload.
type JoinedChat struct {
	RoomName    string `json:"roomName"`
	UnreadCount int    `json:"unreadCount"`
}

// TypingEvent is the inbound user_typing payload.
type TypingEvent struct {
	UserID   string `json:"userId"`
	FullName string `json:"fullName"`
	IsTyping bool   `json:"isTyping"`
}

// TypingUser is one remote participant currently signaled as typing.
type TypingUser struct {
	UserID   string `json:"userId"`
	FullName string `json:"fullName"`
}

// MessagesRead is the inbound messages_read payload. UserID identifies the
// participant who read the conversation.
type MessagesRead struct {
	UserID string `json:"userId"`
}

// AuthError is the inbound jwt_error payload, signaled when the backend
// rejects the session credential. It is distinct from transport-level
// connect errors and is never retried automatically.
type AuthError struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

func (e AuthError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("auth rejected: %s (%s)", e.Message, e.Reason)
	}
	return fmt.Sprintf("auth rejected: %s", e.Message)
}

// SendAck is the acknowledgement payload for send_message.
type SendAck struct {
	Success bool     `json:"success"`
	Message *Message `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Decode converts a loosely typed channel payload into a typed struct via a
// JSON round trip. Unknown fields are dropped; malformed values fail loudly.
func Decode(data map[string]any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payload into %T: %w", out, err)
	}
	return nil
}
