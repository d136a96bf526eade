package bus

import "time"

// Event kinds published by the messaging core. Subscribers filter by
// namespace prefix, e.g. "message." receives every message event.
const (
	KindStatusChanged     = "session.status_changed"
	KindSessionReplaced   = "session.replaced"
	KindMessageReceived   = "message.received"
	KindMessageStatus     = "message.status_changed"
	KindMessageSendFailed = "message.send_failed"
	KindChatsRefreshed    = "chats.refreshed"
	KindCallStateChanged  = "call.state_changed"
	KindBadgeUpdated      = "badge.updated"
)

// Event is one domain event delivered to subscribers.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Now builds an event stamped with the current time.
func Now(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
