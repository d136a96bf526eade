package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame kinds the chat server emits. The router switches over these
// exhaustively; anything else is dropped.
const (
	KindPing        = "ping"
	KindPong        = "pong"
	KindMessage     = "message"
	KindVideoCall   = "video_call"
	KindUnreadCount = "notifications_unread_count"
	KindNewNotif    = "notification_new"
	KindInfo        = "info"

	// Reserved kinds the server may emit; currently no-ops.
	KindUserStatus    = "user_status"
	KindTyping        = "typing"
	KindRecording     = "recording"
	KindMessageStatus = "message_status"
	KindNotification  = "notification"
	KindOrderStatus   = "order_status"
)

// Call signaling actions carried inside video_call frames.
const (
	ActionStartCall    = "start_call"
	ActionIncomingCall = "incoming_call"
	ActionCallCreated  = "call_created"
	ActionCallResponse = "call_response"
	ActionCallAccepted = "call_accepted"
	ActionCallRejected = "call_rejected"
	ActionCallEnded    = "call_ended"
	ActionError        = "error"
	ActionBusy         = "busy"
	ActionTimeout      = "timeout"
)

// MessagePayload is a normalized inbound chat message.
type MessagePayload struct {
	FromUser       ID     `json:"from_user"`
	ToUser         ID     `json:"to_user"`
	MessageID      ID     `json:"message_id"`
	Content        string `json:"content"`
	MessageType    string `json:"message_type"`
	SenderName     string `json:"sender_name"`
	SenderUsername string `json:"sender_username"`
	SenderAvatar   string `json:"sender_avatar"`
	FileURL        string `json:"file_url"`
	FileName       string `json:"file_name"`
	FileSize       int64  `json:"file_size"`
	CreatedAt      string `json:"created_at"`
}

// CallPayload is a normalized inbound call-signaling event.
type CallPayload struct {
	Action   string `json:"action"`
	CallID   ID     `json:"call_id"`
	FromUser ID     `json:"from_user"`
	Name     string `json:"caller_name"`
	Username string `json:"caller_username"`
	Avatar   string `json:"caller_avatar"`
	Accepted *bool  `json:"accepted"`
	Reason   string `json:"reason"`
	Message  string `json:"message"`
}

// NotificationPayload carries a single pushed notification.
type NotificationPayload struct {
	Category string `json:"category"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

// Inbound is the decoded tagged union of every server frame.
type Inbound struct {
	Kind string

	// Exactly one of the following is populated, per Kind.
	Message      *MessagePayload
	Call         *CallPayload
	Notification *NotificationPayload
	UnreadCount  int
	Info         string
}

// envelope captures the discriminator plus the raw remainder. Message frames
// arrive both flat and wrapped in a "data" object depending on the backend
// version, so payload fields are decoded from the wrapper when present and
// from the frame itself otherwise.
type envelope struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Count   *int            `json:"count"`
	Total   *int            `json:"total"`
	Message string          `json:"message"`
}

// DecodeInbound parses one JSON frame from the socket.
func DecodeInbound(raw []byte) (*Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("frame has no type discriminator")
	}

	in := &Inbound{Kind: env.Type}
	switch env.Type {
	case KindMessage:
		var payload MessagePayload
		if err := json.Unmarshal(payloadBytes(raw, env.Data), &payload); err != nil {
			return nil, fmt.Errorf("decode message payload: %w", err)
		}
		in.Message = &payload
	case KindVideoCall:
		var payload CallPayload
		if err := json.Unmarshal(payloadBytes(raw, env.Data), &payload); err != nil {
			return nil, fmt.Errorf("decode call payload: %w", err)
		}
		in.Call = &payload
	case KindNewNotif:
		var payload NotificationPayload
		if err := json.Unmarshal(payloadBytes(raw, env.Data), &payload); err != nil {
			return nil, fmt.Errorf("decode notification payload: %w", err)
		}
		in.Notification = &payload
	case KindUnreadCount:
		switch {
		case env.Count != nil:
			in.UnreadCount = *env.Count
		case env.Total != nil:
			in.UnreadCount = *env.Total
		}
	case KindInfo:
		in.Info = env.Message
	}
	return in, nil
}

// payloadBytes picks the wrapped data object when present, otherwise the
// whole frame (flat payload).
func payloadBytes(raw []byte, data json.RawMessage) []byte {
	if len(data) > 0 && string(data) != "null" {
		return data
	}
	return raw
}
