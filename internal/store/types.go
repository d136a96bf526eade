package store

import "time"

// MessageStatus is the delivery lifecycle of one message. A status only moves
// forward; Failed is terminal and a retry is a brand new message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// statusRank orders the forward-only lifecycle. Failed sits outside the
// ordering: it can only be reached from Sending.
var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Message is one chat message, locally sent or remotely received.
type Message struct {
	ID         string        `json:"id"`
	SenderID   string        `json:"sender_id"`
	ReceiverID string        `json:"receiver_id"`
	Content    string        `json:"content"`
	Kind       string        `json:"kind"` // text|image|audio|video|file
	FileURL    string        `json:"file_url,omitempty"`
	FileName   string        `json:"file_name,omitempty"`
	FileSize   int64         `json:"file_size,omitempty"`
	Status     MessageStatus `json:"status"`
	Read       bool          `json:"read"`
	FromMe     bool          `json:"from_me"`
	Reaction   string        `json:"reaction,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Conversation is the thread with one chat partner, keyed by their user id.
// Messages are kept in arrival order, which is not necessarily timestamp
// order when the network reorders delivery.
type Conversation struct {
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	Username      string    `json:"username"`
	Avatar        string    `json:"avatar"`
	Online        bool      `json:"online"`
	LastSeen      time.Time `json:"last_seen,omitzero"`
	UnreadCount   int       `json:"unread_count"`
	Messages      []Message `json:"messages"`
	LastMessage   string    `json:"last_message"`
	LastMessageAt time.Time `json:"last_message_at,omitzero"`
}

func (c *Conversation) clone() Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// touch refreshes the derived last-message summary from msg.
func (c *Conversation) touch(msg *Message) {
	c.LastMessage = preview(msg)
	c.LastMessageAt = msg.CreatedAt
}

func preview(msg *Message) string {
	if msg.Kind != "" && msg.Kind != "text" && msg.Content == "" {
		return "[" + msg.Kind + "]"
	}
	if len(msg.Content) > 100 {
		return msg.Content[:100]
	}
	return msg.Content
}
