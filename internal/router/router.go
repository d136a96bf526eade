package router

import (
	"strings"

	"github.com/feiramob/chatcore/internal/badge"
	"github.com/feiramob/chatcore/internal/protocol"
	"go.uber.org/zap"
)

// MessageSink ingests inbound chat messages.
type MessageSink interface {
	HandleIncomingMessage(p *protocol.MessagePayload)
}

// CallSink applies inbound call-signaling events.
type CallSink interface {
	HandleEvent(p *protocol.CallPayload)
}

// Control is the slice of the transport session the router needs: answering
// pings and suppressing reconnection on session replacement.
type Control interface {
	Send(frame any) error
	Suppress()
}

// Router deserializes inbound frames and dispatches them by kind. Every
// branch must be non-throwing: one bad frame or one failing handler cannot
// stop the frames behind it.
type Router struct {
	messages MessageSink
	calls    CallSink
	badges   *badge.Counters
	control  Control
	logger   *zap.Logger
}

// New creates a router over the given sinks.
func New(messages MessageSink, calls CallSink, badges *badge.Counters, control Control, logger *zap.Logger) *Router {
	return &Router{
		messages: messages,
		calls:    calls,
		badges:   badges,
		control:  control,
		logger:   logger,
	}
}

// HandleFrame processes one raw inbound frame. Malformed frames are logged
// and dropped.
func (r *Router) HandleFrame(data []byte) {
	in, err := protocol.DecodeInbound(data)
	if err != nil {
		r.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	switch in.Kind {
	case protocol.KindPing:
		if err := r.control.Send(protocol.NewPong()); err != nil {
			r.logger.Warn("pong reply failed", zap.Error(err))
		}

	case protocol.KindPong:
		// Inbound traffic already refreshed the activity clock.

	case protocol.KindMessage:
		if in.Message != nil {
			r.messages.HandleIncomingMessage(in.Message)
		}

	case protocol.KindVideoCall:
		if in.Call != nil {
			r.calls.HandleEvent(in.Call)
		}

	case protocol.KindUnreadCount:
		r.badges.SetNotifications(in.UnreadCount)

	case protocol.KindNewNotif:
		category := ""
		if in.Notification != nil {
			category = in.Notification.Category
		}
		r.badges.NotifyNew(category)

	case protocol.KindInfo:
		r.handleInfo(in.Info)

	case protocol.KindUserStatus, protocol.KindTyping, protocol.KindRecording,
		protocol.KindMessageStatus, protocol.KindNotification, protocol.KindOrderStatus:
		// Reserved server frame kinds; accepted and ignored.

	default:
		r.logger.Debug("ignoring unrecognized frame kind", zap.String("kind", in.Kind))
	}
}

// handleInfo inspects informational server messages. The only special case
// is the session-replaced notice, which must stop the reconnect loop: the
// server enforces one live session per account and a newer login elsewhere
// legitimately displaced this one.
func (r *Router) handleInfo(message string) {
	if isSessionReplaced(message) {
		r.logger.Warn("server replaced this session", zap.String("message", message))
		r.control.Suppress()
		return
	}
	r.logger.Info("server info", zap.String("message", message))
}

func isSessionReplaced(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "session replaced") ||
		strings.Contains(lower, "another device") ||
		strings.Contains(lower, "outro dispositivo")
}
