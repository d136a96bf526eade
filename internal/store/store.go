package store

import (
	"sort"
	"sync"
	"time"

	"github.com/feiramob/chatcore/internal/bus"
	"github.com/feiramob/chatcore/internal/protocol"
	"go.uber.org/zap"
)

// Dedup set bounds. The transport delivers at least once, so recently seen
// message keys are remembered; when the set grows past dedupCap the oldest
// dedupEvict entries are dropped. Insertion order stands in for recency.
const (
	dedupCap   = 100
	dedupEvict = 50
)

// Store is the single source of truth for conversations and their messages.
// It is mutated by three producers: local sends, remote receives, and bulk
// snapshot replacement.
type Store struct {
	mu        sync.RWMutex
	convos    map[string]*Conversation
	order     []string // conversation insertion order
	seen      map[string]struct{}
	seenOrder []string
	selected  string
	unread    int

	bus    *bus.Bus
	logger *zap.Logger
}

// New creates an empty store.
func New(b *bus.Bus, logger *zap.Logger) *Store {
	return &Store{
		convos: make(map[string]*Conversation),
		seen:   make(map[string]struct{}),
		bus:    b,
		logger: logger,
	}
}

// IngestResult reports what an inbound message did to the store.
type IngestResult struct {
	Duplicate       bool
	NewConversation bool
	ChatID          string
}

// Ingest applies one remote message. Redelivered events are recognized by a
// (sender, content, message id or timestamp) key and dropped. An unknown
// sender gets a conversation synthesized from whatever metadata accompanied
// the event; the caller should schedule a snapshot refresh to reconcile it.
func (s *Store) Ingest(p *protocol.MessagePayload) IngestResult {
	sender := p.FromUser.String()
	if sender == "" {
		return IngestResult{Duplicate: true}
	}

	s.mu.Lock()
	key := dedupKey(p)
	if _, dup := s.seen[key]; dup {
		s.mu.Unlock()
		s.logger.Debug("duplicate message dropped", zap.String("sender", sender), zap.String("key", key))
		return IngestResult{Duplicate: true, ChatID: sender}
	}
	s.remember(key)

	msg := Message{
		ID:        p.MessageID.String(),
		SenderID:  sender,
		Content:   p.Content,
		Kind:      messageKind(p.MessageType),
		FileURL:   p.FileURL,
		FileName:  p.FileName,
		FileSize:  p.FileSize,
		Status:    StatusDelivered,
		CreatedAt: parseWhen(p.CreatedAt),
	}

	result := IngestResult{ChatID: sender}
	conv, ok := s.convos[sender]
	if !ok {
		conv = &Conversation{
			UserID:   sender,
			Name:     p.SenderName,
			Username: p.SenderUsername,
			Avatar:   p.SenderAvatar,
		}
		s.convos[sender] = conv
		s.order = append(s.order, sender)
		result.NewConversation = true
	}

	if s.selected == sender {
		msg.Read = true
		msg.Status = StatusRead
	} else {
		conv.UnreadCount++
		s.unread++
	}
	conv.Messages = append(conv.Messages, msg)
	conv.touch(&msg)
	s.mu.Unlock()

	s.publish(bus.KindMessageReceived, map[string]string{"chat_id": sender, "message_id": msg.ID})
	return result
}

// AppendLocal adds an optimistic outbound message to the receiver's
// conversation, creating one with no prior history if needed. This is the
// only producer allowed to create an empty-history conversation.
func (s *Store) AppendLocal(receiver protocol.ID, msg Message) {
	id := receiver.String()
	s.mu.Lock()
	conv, ok := s.convos[id]
	if !ok {
		conv = &Conversation{UserID: id}
		s.convos[id] = conv
		s.order = append(s.order, id)
	}
	msg.FromMe = true
	msg.Read = true
	msg.ReceiverID = id
	conv.Messages = append(conv.Messages, msg)
	conv.touch(&msg)
	s.mu.Unlock()

	s.publish(bus.KindMessageStatus, map[string]string{"chat_id": id, "message_id": msg.ID, "status": string(msg.Status)})
}

// SetMessageStatus advances a message's lifecycle status. Backward moves are
// ignored; Failed is only reachable from Sending. Reports whether anything
// changed.
func (s *Store) SetMessageStatus(chatID, msgID string, to MessageStatus) bool {
	s.mu.Lock()
	conv, ok := s.convos[chatID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	changed := false
	for i := range conv.Messages {
		m := &conv.Messages[i]
		if m.ID != msgID {
			continue
		}
		if to == StatusFailed {
			changed = m.Status == StatusSending
		} else {
			changed = statusRank[to] > statusRank[m.Status] && m.Status != StatusFailed
		}
		if changed {
			m.Status = to
		}
		break
	}
	s.mu.Unlock()

	if changed {
		s.publish(bus.KindMessageStatus, map[string]string{"chat_id": chatID, "message_id": msgID, "status": string(to)})
	}
	return changed
}

// MarkAsRead flips every message in the conversation to read and zeroes the
// unread counter. Returns false without mutating anything when the
// conversation is already fully read, so callers can skip the server notify.
func (s *Store) MarkAsRead(chatID string) bool {
	s.mu.Lock()
	conv, ok := s.convos[chatID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if conv.UnreadCount == 0 && !hasUnread(conv) {
		s.mu.Unlock()
		return false
	}
	s.unread -= conv.UnreadCount
	if s.unread < 0 {
		s.unread = 0
	}
	conv.UnreadCount = 0
	for i := range conv.Messages {
		conv.Messages[i].Read = true
	}
	s.mu.Unlock()

	s.publish(bus.KindBadgeUpdated, map[string]string{"chat_id": chatID})
	return true
}

// MarkAllRead applies MarkAsRead to every conversation with unread messages
// and returns the affected chat ids.
func (s *Store) MarkAllRead() []string {
	s.mu.Lock()
	var affected []string
	for _, id := range s.order {
		conv := s.convos[id]
		if conv.UnreadCount == 0 && !hasUnread(conv) {
			continue
		}
		conv.UnreadCount = 0
		for i := range conv.Messages {
			conv.Messages[i].Read = true
		}
		affected = append(affected, id)
	}
	s.unread = 0
	s.mu.Unlock()

	if len(affected) > 0 {
		s.publish(bus.KindBadgeUpdated, map[string]any{"chats": affected})
	}
	return affected
}

// ReplaceAll swaps the whole store for the snapshot contents. The aggregate
// unread counter is recomputed as the sum of per-conversation counts. The
// dedup set is kept: the transport may still redeliver events that predate
// the snapshot.
func (s *Store) ReplaceAll(convos []Conversation) {
	s.mu.Lock()
	s.convos = make(map[string]*Conversation, len(convos))
	s.order = s.order[:0]
	s.unread = 0
	for i := range convos {
		c := convos[i]
		if c.UserID == "" {
			continue
		}
		s.convos[c.UserID] = &c
		s.order = append(s.order, c.UserID)
		s.unread += c.UnreadCount
	}
	s.mu.Unlock()

	s.publish(bus.KindChatsRefreshed, len(convos))
}

// Select marks a conversation as the one open in the UI; inbound messages
// for it are read immediately instead of counting as unread. Empty clears.
func (s *Store) Select(chatID string) {
	s.mu.Lock()
	s.selected = chatID
	s.mu.Unlock()
}

// Selected returns the currently open conversation id.
func (s *Store) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// UnreadTotal returns the aggregate unread message count.
func (s *Store) UnreadTotal() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

// Chats returns conversation copies ordered most-recent-first.
func (s *Store) Chats() []Conversation {
	s.mu.RLock()
	out := make([]Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.convos[id].clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

// Conversation returns a copy of one conversation.
func (s *Store) Conversation(chatID string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convos[chatID]
	if !ok {
		return Conversation{}, false
	}
	return conv.clone(), true
}

// remember records a dedup key, evicting the oldest half when full.
// Caller holds the lock.
func (s *Store) remember(key string) {
	if len(s.seenOrder) >= dedupCap {
		for _, old := range s.seenOrder[:dedupEvict] {
			delete(s.seen, old)
		}
		s.seenOrder = append(s.seenOrder[:0], s.seenOrder[dedupEvict:]...)
	}
	s.seen[key] = struct{}{}
	s.seenOrder = append(s.seenOrder, key)
}

func (s *Store) publish(kind string, payload any) {
	if s.bus != nil {
		s.bus.Publish(bus.Now(kind, payload))
	}
}

func hasUnread(c *Conversation) bool {
	for i := range c.Messages {
		if !c.Messages[i].Read && !c.Messages[i].FromMe {
			return true
		}
	}
	return false
}

func dedupKey(p *protocol.MessagePayload) string {
	tail := p.MessageID.String()
	if tail == "" {
		tail = p.CreatedAt
	}
	return p.FromUser.String() + "|" + p.Content + "|" + tail
}

func messageKind(t string) string {
	switch t {
	case "text", "image", "audio", "video", "file":
		return t
	case "":
		return "text"
	default:
		return "file"
	}
}

func parseWhen(raw string) time.Time {
	if raw == "" {
		return time.Now()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Now()
}
