package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/feiramob/chatcore/internal/protocol"
	"github.com/feiramob/chatcore/internal/rest"
	"github.com/feiramob/chatcore/internal/store"
	"go.uber.org/zap"
)

// chatsPath is the authoritative chat list endpoint.
const chatsPath = "/api/chats"

// Loader fetches the full chat snapshot from the backend and maps it into
// the canonical conversation shape. All tolerance for the backend's
// historical field-name variants lives here; nothing downstream sees them.
type Loader struct {
	rest   *rest.Client
	logger *zap.Logger
}

// NewLoader creates a snapshot loader.
func NewLoader(r *rest.Client, logger *zap.Logger) *Loader {
	return &Loader{rest: r, logger: logger}
}

// rawChat is the permissive wire shape. The backend has shipped both
// Portuguese and English field names for the same concepts; both are
// accepted and collapsed by normalize.
type rawChat struct {
	ID          protocol.ID  `json:"id"`
	UserID      protocol.ID  `json:"user_id"`
	Nome        string       `json:"nome"`
	Name        string       `json:"name"`
	Username    string       `json:"username"`
	Foto        string       `json:"foto"`
	Avatar      string       `json:"avatar"`
	Online      bool         `json:"online"`
	LastSeen    string       `json:"last_seen"`
	Mensagens   []rawMessage `json:"mensagens"`
	Messages    []rawMessage `json:"messages"`
	TotalNews   *int         `json:"total_news_msgs"`
	UnreadCount *int         `json:"unread_count"`
}

type rawMessage struct {
	ID          protocol.ID `json:"id"`
	MessageID   protocol.ID `json:"message_id"`
	SenderID    protocol.ID `json:"sender_id"`
	Content     string      `json:"content"`
	MessageType string      `json:"message_type"`
	FileURL     string      `json:"file_url"`
	FileName    string      `json:"file_name"`
	FileSize    int64       `json:"file_size"`
	IsRead      *bool       `json:"is_read"`
	IsDelivered *bool       `json:"is_delivered"`
	CreatedAt   string      `json:"created_at"`
}

// Fetch retrieves and normalizes the chat snapshot. On any failure the error
// is returned and no partial data; callers must keep their existing state.
func (l *Loader) Fetch(ctx context.Context) ([]store.Conversation, error) {
	var raw []rawChat
	if err := l.rest.GetJSON(ctx, chatsPath, &raw); err != nil {
		return nil, fmt.Errorf("fetch chat snapshot: %w", err)
	}

	convos := make([]store.Conversation, 0, len(raw))
	for i := range raw {
		conv, ok := normalize(&raw[i])
		if !ok {
			l.logger.Warn("snapshot chat without a user id, skipped", zap.Int("index", i))
			continue
		}
		convos = append(convos, conv)
	}
	l.logger.Info("chat snapshot fetched", zap.Int("chats", len(convos)))
	return convos, nil
}

func normalize(raw *rawChat) (store.Conversation, bool) {
	userID := pick(raw.UserID.String(), raw.ID.String())
	if userID == "" {
		return store.Conversation{}, false
	}

	conv := store.Conversation{
		UserID:   userID,
		Name:     pick(raw.Name, raw.Nome),
		Username: raw.Username,
		Avatar:   pick(raw.Avatar, raw.Foto),
		Online:   raw.Online,
		LastSeen: parseWhen(raw.LastSeen),
	}

	rawMsgs := raw.Mensagens
	if len(rawMsgs) == 0 {
		rawMsgs = raw.Messages
	}
	unreadFromMsgs := 0
	for i := range rawMsgs {
		msg := normalizeMessage(&rawMsgs[i], userID)
		if !msg.Read && !msg.FromMe {
			unreadFromMsgs++
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if len(conv.Messages) > 0 {
		last := conv.Messages[len(conv.Messages)-1]
		conv.LastMessage = previewOf(&last)
		conv.LastMessageAt = last.CreatedAt
	}

	switch {
	case raw.TotalNews != nil:
		conv.UnreadCount = *raw.TotalNews
	case raw.UnreadCount != nil:
		conv.UnreadCount = *raw.UnreadCount
	default:
		conv.UnreadCount = unreadFromMsgs
	}
	if conv.UnreadCount < 0 {
		conv.UnreadCount = 0
	}
	return conv, true
}

func normalizeMessage(raw *rawMessage, chatUserID string) store.Message {
	fromMe := raw.SenderID.String() != chatUserID
	read := fromMe || (raw.IsRead != nil && *raw.IsRead)

	status := store.StatusSent
	switch {
	case raw.IsRead != nil && *raw.IsRead:
		status = store.StatusRead
	case raw.IsDelivered != nil && *raw.IsDelivered:
		status = store.StatusDelivered
	}

	return store.Message{
		ID:        pick(raw.MessageID.String(), raw.ID.String()),
		SenderID:  raw.SenderID.String(),
		Content:   raw.Content,
		Kind:      kindOf(raw.MessageType),
		FileURL:   raw.FileURL,
		FileName:  raw.FileName,
		FileSize:  raw.FileSize,
		Status:    status,
		Read:      read,
		FromMe:    fromMe,
		CreatedAt: parseWhen(raw.CreatedAt),
	}
}

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func kindOf(t string) string {
	switch t {
	case "text", "image", "audio", "video", "file":
		return t
	case "":
		return "text"
	default:
		return "file"
	}
}

func previewOf(msg *store.Message) string {
	if msg.Kind != "text" && msg.Content == "" {
		return "[" + msg.Kind + "]"
	}
	if len(msg.Content) > 100 {
		return msg.Content[:100]
	}
	return msg.Content
}

func parseWhen(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}
