package client

import (
	"context"
	"sync"
	"time"

	"github.com/feiramob/chatcore/internal/badge"
	"github.com/feiramob/chatcore/internal/bus"
	"github.com/feiramob/chatcore/internal/call"
	"github.com/feiramob/chatcore/internal/outbox"
	"github.com/feiramob/chatcore/internal/protocol"
	"github.com/feiramob/chatcore/internal/router"
	"github.com/feiramob/chatcore/internal/status"
	"github.com/feiramob/chatcore/internal/store"
	chatsync "github.com/feiramob/chatcore/internal/sync"
	"github.com/feiramob/chatcore/internal/transport"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Snapshot refresh delays. The post-open refresh waits for the server to
// settle the new session; the post-send and post-read refreshes reconcile
// server-assigned ids and read state shortly after the optimistic update.
const (
	openRefreshDelay = time.Second
	sendRefreshDelay = 500 * time.Millisecond
	readRefreshDelay = 500 * time.Millisecond
	refreshTimeout   = 10 * time.Second
)

// Client is the long-lived messaging session facade consumed by UI
// surfaces. It owns the transport session, the offline queue, the
// conversation store, the call machine, and the snapshot reconciliation
// loop. Create one per authenticated account; Close tears it down.
type Client struct {
	session *transport.Session
	queue   *outbox.Queue
	store   *store.Store
	calls   *call.Machine
	loader  *chatsync.Loader
	badges  *badge.Counters
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger

	refreshMu    sync.Mutex
	refreshTimer *time.Timer
	refreshDelay struct {
		open, send, read time.Duration
	}
}

// New wires the messaging core together and installs the transport hooks.
func New(
	session *transport.Session,
	queue *outbox.Queue,
	st *store.Store,
	calls *call.Machine,
	loader *chatsync.Loader,
	badges *badge.Counters,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) *Client {
	c := &Client{
		session: session,
		queue:   queue,
		store:   st,
		calls:   calls,
		loader:  loader,
		badges:  badges,
		machine: machine,
		bus:     b,
		logger:  logger,
	}
	c.refreshDelay.open = openRefreshDelay
	c.refreshDelay.send = sendRefreshDelay
	c.refreshDelay.read = readRefreshDelay

	r := router.New(c, calls, badges, session, logger)
	session.SetHooks(c.onOpen, r.HandleFrame)
	return c
}

// Connect opens the transport session.
func (c *Client) Connect() error { return c.session.Connect() }

// Disconnect closes the transport session and stops reconnecting.
func (c *Client) Disconnect() { c.session.Disconnect() }

// Close tears the session down and cancels pending refreshes.
func (c *Client) Close() {
	c.refreshMu.Lock()
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	c.refreshMu.Unlock()
	c.session.Disconnect()
}

// Bus returns the event bus UI surfaces subscribe to.
func (c *Client) Bus() *bus.Bus { return c.bus }

// IsConnected reports whether the socket is live.
func (c *Client) IsConnected() bool { return c.machine.IsConnected() }

// IsReconnecting reports whether the session dropped and is retrying.
func (c *Client) IsReconnecting() bool { return c.machine.IsReconnecting() }

// Chats returns the conversation list, most recent first.
func (c *Client) Chats() []store.Conversation { return c.store.Chats() }

// Conversation returns one conversation by chat partner id.
func (c *Client) Conversation(chatID string) (store.Conversation, bool) {
	return c.store.Conversation(chatID)
}

// UnreadMessages returns the aggregate unread message count.
func (c *Client) UnreadMessages() int { return c.store.UnreadTotal() }

// Badges returns the notification and order badge totals.
func (c *Client) Badges() badge.Snapshot { return c.badges.Current() }

// SelectedChat returns the chat currently open in the UI.
func (c *Client) SelectedChat() string { return c.store.Selected() }

// SelectChat marks a conversation as open; its messages are read
// immediately from then on, and any pending unread state is flushed now.
// An empty id closes the open chat.
func (c *Client) SelectChat(chatID string) {
	c.store.Select(chatID)
	if chatID != "" {
		c.MarkAsRead(chatID)
	}
}

// SendMessage sends content to a chat partner. The message appears in the
// store immediately with status sending; if the transport is down it is
// queued and replayed on reconnect. Returns the client temp id.
func (c *Client) SendMessage(receiver protocol.ID, content, kind string, file *protocol.FileRef) string {
	if kind == "" {
		kind = "text"
	}
	tempID := uuid.New().String()
	msg := store.Message{
		ID:        tempID,
		Content:   content,
		Kind:      kind,
		Status:    store.StatusSending,
		CreatedAt: time.Now(),
	}
	if file != nil {
		msg.FileURL = file.URL
		msg.FileName = file.Name
		msg.FileSize = file.Size
	}
	c.store.AppendLocal(receiver, msg)

	frame := protocol.NewMessage(receiver, content, kind, file, tempID)
	if err := c.session.Send(frame); err != nil {
		// Not a failure yet: the queue replays it on the next open.
		c.queue.Enqueue(outbox.Entry{
			ReceiverID:  receiver,
			Content:     content,
			MessageType: kind,
			File:        file,
			TempID:      tempID,
		})
		return tempID
	}

	c.store.SetMessageStatus(receiver.String(), tempID, store.StatusSent)
	c.scheduleRefresh(c.refreshDelay.send)
	return tempID
}

// MarkAsRead flips a conversation to fully read and notifies the server
// best-effort. Already-read conversations cause no mutation and no network
// traffic.
func (c *Client) MarkAsRead(chatID string) {
	if !c.store.MarkAsRead(chatID) {
		return
	}
	if err := c.session.Send(protocol.NewReadAll(protocol.ID(chatID))); err != nil {
		c.logger.Warn("read_all notify failed", zap.Error(err), zap.String("chat", chatID))
	}
	c.scheduleRefresh(c.refreshDelay.read)
}

// MarkAllChatsAsRead applies MarkAsRead across every unread conversation,
// with one server notification per affected chat; individual notify
// failures are independent.
func (c *Client) MarkAllChatsAsRead() {
	affected := c.store.MarkAllRead()
	for _, chatID := range affected {
		if err := c.session.Send(protocol.NewReadAll(protocol.ID(chatID))); err != nil {
			c.logger.Warn("read_all notify failed", zap.Error(err), zap.String("chat", chatID))
		}
	}
	if len(affected) > 0 {
		c.scheduleRefresh(c.refreshDelay.read)
	}
}

// CallState returns the call lifecycle state.
func (c *Client) CallState() call.State { return c.calls.State() }

// CallInfo returns the tracked call session, or nil.
func (c *Client) CallInfo() *call.Info { return c.calls.Info() }

// StartCall initiates an outgoing call.
func (c *Client) StartCall(peer call.Peer) error { return c.calls.StartCall(peer) }

// AcceptCall answers the ringing incoming call.
func (c *Client) AcceptCall() error { return c.calls.AcceptCall() }

// RejectCall declines the ringing incoming call.
func (c *Client) RejectCall() error { return c.calls.RejectCall() }

// EndCall hangs up the current call.
func (c *Client) EndCall() error { return c.calls.EndCall() }

// RefreshChats fetches the authoritative snapshot and replaces the store.
// A failed fetch leaves existing conversations untouched.
func (c *Client) RefreshChats(ctx context.Context) error {
	convos, err := c.loader.Fetch(ctx)
	if err != nil {
		c.logger.Error("chat snapshot refresh failed", zap.Error(err))
		return err
	}
	c.store.ReplaceAll(convos)
	return nil
}

// HandleIncomingMessage ingests one remote message; it is the router's
// message sink. A message from an unknown peer triggers a snapshot refresh
// to reconcile the synthesized conversation against the server's view.
func (c *Client) HandleIncomingMessage(p *protocol.MessagePayload) {
	res := c.store.Ingest(p)
	if res.Duplicate {
		return
	}
	if res.ChatID != "" && res.ChatID == c.store.Selected() {
		// The chat is on screen; tell the server it was read.
		if err := c.session.Send(protocol.NewReadAll(protocol.ID(res.ChatID))); err != nil {
			c.logger.Warn("read_all notify failed", zap.Error(err), zap.String("chat", res.ChatID))
		}
	}
	if res.NewConversation {
		c.scheduleRefresh(c.refreshDelay.read)
	}
}

// onOpen runs synchronously when the transport opens: the offline queue is
// flushed before any new send can interleave, then a snapshot refresh is
// scheduled to catch up on anything missed while offline.
func (c *Client) onOpen() {
	failed := c.queue.Flush(func(e outbox.Entry) error {
		frame := protocol.NewMessage(e.ReceiverID, e.Content, e.MessageType, e.File, e.TempID)
		if err := c.session.Send(frame); err != nil {
			return err
		}
		c.store.SetMessageStatus(e.ReceiverID.String(), e.TempID, store.StatusSent)
		return nil
	})
	for _, e := range failed {
		// One attempt per flush; a failed entry is terminal.
		c.store.SetMessageStatus(e.ReceiverID.String(), e.TempID, store.StatusFailed)
		c.bus.Publish(bus.Now(bus.KindMessageSendFailed, map[string]string{
			"chat_id": e.ReceiverID.String(),
			"temp_id": e.TempID,
		}))
	}
	c.scheduleRefresh(c.refreshDelay.open)
}

// scheduleRefresh arms a deferred snapshot refresh. Requests arriving while
// one is pending coalesce into it.
func (c *Client) scheduleRefresh(delay time.Duration) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if c.refreshTimer != nil {
		return
	}
	c.refreshTimer = time.AfterFunc(delay, func() {
		c.refreshMu.Lock()
		c.refreshTimer = nil
		c.refreshMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		_ = c.RefreshChats(ctx)
	})
}
