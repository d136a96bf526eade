package call

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/feiramob/chatcore/internal/bus"
	"github.com/feiramob/chatcore/internal/protocol"
	"go.uber.org/zap"
)

// State is the lifecycle position of the single tracked call.
type State string

const (
	Idle     State = "idle"
	Outgoing State = "outgoing"
	Incoming State = "incoming"
	Active   State = "active"
	Ending   State = "ending"
)

// Call statuses surfaced to the UI via Info.
const (
	StatusRinging  = "ringing"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusEnded    = "ended"
)

// End reasons surfaced via Info.Reason.
const (
	ReasonBusy         = "busy"
	ReasonTimeout      = "timeout"
	ReasonEndedByUser  = "ended_by_user"
	ReasonDisconnected = "peer_disconnected"
	ReasonRejected     = "rejected"
	ReasonError        = "error"
)

var validTransitions = map[State][]State{
	Idle:     {Outgoing, Incoming},
	Outgoing: {Active, Ending, Idle},
	Incoming: {Active, Ending, Idle},
	Active:   {Ending, Idle},
	Ending:   {Idle},
}

// Clear delays give the UI a moment to render the terminal status before the
// call overlay disappears. Errors linger slightly longer.
const (
	defaultClearDelay      = 500 * time.Millisecond
	defaultErrorClearDelay = 800 * time.Millisecond
)

var (
	// ErrCallInProgress is returned by StartCall while a call is not idle.
	// Concurrent calls are rejected locally rather than queued.
	ErrCallInProgress = errors.New("a call is already in progress")
	// ErrNoIncomingCall is returned by Accept/Reject without a ringing call.
	ErrNoIncomingCall = errors.New("no incoming call to answer")
	// ErrNoCall is returned by EndCall while idle.
	ErrNoCall = errors.New("no call in progress")
)

// FrameSender pushes a signaling frame over the live transport.
type FrameSender interface {
	Send(frame any) error
}

// Peer is the hint metadata shown while a call is being set up.
type Peer struct {
	ID       protocol.ID `json:"id"`
	Name     string      `json:"name"`
	Username string      `json:"username"`
	Avatar   string      `json:"avatar"`
}

// Info is the signaling-level record of the tracked call. It outlives the
// terminal state transition by one clear delay so the UI can show why the
// call went away.
type Info struct {
	CallID protocol.ID `json:"call_id"`
	Peer   Peer        `json:"peer"`
	Status string      `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// Machine drives at most one call session through its lifecycle, fed by
// local intents and inbound video_call signaling events.
type Machine struct {
	mu    sync.Mutex
	state State
	info  *Info
	// gen identifies the current call session; pending clear timers carry
	// the gen they were scheduled for and fire only if it still matches,
	// so a superseding call cannot be wiped by a stale timer.
	gen        int
	clearTimer *time.Timer

	clearDelay      time.Duration
	errorClearDelay time.Duration

	sender FrameSender
	bus    *bus.Bus
	logger *zap.Logger
}

// NewMachine creates an idle call machine.
func NewMachine(sender FrameSender, b *bus.Bus, logger *zap.Logger) *Machine {
	return &Machine{
		state:           Idle,
		sender:          sender,
		bus:             b,
		logger:          logger,
		clearDelay:      defaultClearDelay,
		errorClearDelay: defaultErrorClearDelay,
	}
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Info returns a copy of the tracked call, or nil when none is retained.
func (m *Machine) Info() *Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.info == nil {
		return nil
	}
	out := *m.info
	return &out
}

// StartCall initiates an outgoing call. The session is populated
// optimistically from the peer hint; the server ack (call_created) fills in
// the real call id.
func (m *Machine) StartCall(peer Peer) error {
	m.mu.Lock()
	if m.state != Idle {
		m.mu.Unlock()
		return ErrCallInProgress
	}
	m.newSession(&Info{Peer: peer, Status: StatusRinging})
	m.setState(Outgoing)
	m.mu.Unlock()

	if err := m.sender.Send(protocol.NewStartCall(peer.ID)); err != nil {
		m.logger.Error("start_call send failed", zap.Error(err))
		m.terminate(StatusEnded, ReasonError, true)
		return err
	}
	m.logger.Info("call started", zap.String("peer", peer.ID.String()))
	return nil
}

// AcceptCall answers the ringing incoming call. The state moves to active
// only on the server's confirmation, not optimistically.
func (m *Machine) AcceptCall() error {
	m.mu.Lock()
	if m.state != Incoming || m.info == nil {
		m.mu.Unlock()
		return ErrNoIncomingCall
	}
	callID := m.info.CallID
	m.mu.Unlock()

	if err := m.sender.Send(protocol.NewCallResponse(callID, true)); err != nil {
		m.logger.Error("call accept send failed", zap.Error(err))
		m.terminate(StatusEnded, ReasonError, true)
		return err
	}
	return nil
}

// RejectCall declines the ringing incoming call and clears after a delay.
func (m *Machine) RejectCall() error {
	m.mu.Lock()
	if m.state != Incoming || m.info == nil {
		m.mu.Unlock()
		return ErrNoIncomingCall
	}
	callID := m.info.CallID
	m.mu.Unlock()

	err := m.sender.Send(protocol.NewCallResponse(callID, false))
	if err != nil {
		m.logger.Error("call reject send failed", zap.Error(err))
	}
	m.terminate(StatusRejected, ReasonRejected, err != nil)
	return err
}

// EndCall hangs up the current call. The session is force-cleared after the
// delay regardless of whether the server ever answers, so an unresponsive
// server cannot wedge the UI in "ending".
func (m *Machine) EndCall() error {
	m.mu.Lock()
	if m.state == Idle || m.info == nil {
		m.mu.Unlock()
		return ErrNoCall
	}
	callID := m.info.CallID
	m.info.Status = StatusEnded
	m.info.Reason = ReasonEndedByUser
	m.setState(Ending)
	gen := m.gen
	m.mu.Unlock()

	err := m.sender.Send(protocol.NewEndCall(callID))
	if err != nil {
		m.logger.Error("end_call send failed", zap.Error(err))
	}
	m.scheduleClear(gen, m.clearDelay)
	return err
}

// HandleEvent applies one inbound video_call signaling event. Every branch
// is non-throwing: unexpected events for the current state are logged and
// dropped.
func (m *Machine) HandleEvent(p *protocol.CallPayload) {
	switch p.Action {
	case protocol.ActionIncomingCall:
		m.handleIncoming(p)
	case protocol.ActionCallCreated:
		m.handleCreated(p)
	case protocol.ActionCallResponse, protocol.ActionCallAccepted:
		accepted := p.Action == protocol.ActionCallAccepted || (p.Accepted != nil && *p.Accepted)
		m.handleResponse(accepted)
	case protocol.ActionCallRejected:
		m.handleResponse(false)
	case protocol.ActionCallEnded:
		reason := p.Reason
		if reason == "" {
			reason = ReasonEndedByUser
		}
		m.terminate(StatusEnded, reason, false)
	case protocol.ActionError:
		m.terminate(StatusEnded, ReasonError, true)
	case protocol.ActionBusy:
		m.terminate(StatusEnded, ReasonBusy, true)
	case protocol.ActionTimeout:
		m.terminate(StatusEnded, ReasonTimeout, true)
	default:
		m.logger.Warn("unknown call action", zap.String("action", p.Action))
	}
}

func (m *Machine) handleIncoming(p *protocol.CallPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Idle {
		// Already on a call; the server resolves the busy case.
		m.logger.Warn("incoming_call while not idle, dropped", zap.String("state", string(m.state)))
		return
	}
	m.newSession(&Info{
		CallID: p.CallID,
		Peer:   Peer{ID: p.FromUser, Name: p.Name, Username: p.Username, Avatar: p.Avatar},
		Status: StatusRinging,
	})
	m.setState(Incoming)
}

func (m *Machine) handleCreated(p *protocol.CallPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Outgoing || m.info == nil {
		m.logger.Warn("call_created outside outgoing state, dropped")
		return
	}
	m.info.CallID = p.CallID
	if p.Name != "" {
		m.info.Peer.Name = p.Name
	}
	if p.Username != "" {
		m.info.Peer.Username = p.Username
	}
	if p.Avatar != "" {
		m.info.Peer.Avatar = p.Avatar
	}
	m.changed()
}

func (m *Machine) handleResponse(accepted bool) {
	m.mu.Lock()
	if m.state != Outgoing && m.state != Incoming {
		m.mu.Unlock()
		return
	}
	if accepted {
		if m.info != nil {
			m.info.Status = StatusAccepted
			m.info.Reason = ""
		}
		m.setState(Active)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.terminate(StatusRejected, ReasonRejected, false)
}

// terminate records the terminal status, moves to idle immediately, and
// destroys the session after the clear delay.
func (m *Machine) terminate(callStatus, reason string, slow bool) {
	m.mu.Lock()
	if m.state == Idle && m.info == nil {
		m.mu.Unlock()
		return
	}
	if m.info != nil {
		m.info.Status = callStatus
		m.info.Reason = reason
	}
	m.setState(Idle)
	gen := m.gen
	m.mu.Unlock()

	delay := m.clearDelay
	if slow {
		delay = m.errorClearDelay
	}
	m.scheduleClear(gen, delay)
}

// newSession installs a fresh call session, superseding any pending clear.
// Caller holds the lock.
func (m *Machine) newSession(info *Info) {
	m.gen++
	if m.clearTimer != nil {
		m.clearTimer.Stop()
		m.clearTimer = nil
	}
	m.info = info
}

// setState moves the lifecycle, tolerating (but logging) moves outside the
// transition table. Caller holds the lock.
func (m *Machine) setState(to State) {
	if m.state == to {
		return
	}
	if !slices.Contains(validTransitions[m.state], to) {
		m.logger.Warn("unexpected call transition",
			zap.String("from", string(m.state)), zap.String("to", string(to)))
	}
	m.state = to
	m.changed()
}

// changed publishes the current call view. Caller holds the lock.
func (m *Machine) changed() {
	if m.bus == nil {
		return
	}
	var info *Info
	if m.info != nil {
		cp := *m.info
		info = &cp
	}
	m.bus.Publish(bus.Now(bus.KindCallStateChanged, StateChange{State: m.state, Info: info}))
}

// StateChange is the payload for call.state_changed events.
type StateChange struct {
	State State `json:"state"`
	Info  *Info `json:"info,omitempty"`
}

func (m *Machine) scheduleClear(gen int, delay time.Duration) {
	m.mu.Lock()
	if m.clearTimer != nil {
		m.clearTimer.Stop()
	}
	m.clearTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.gen != gen {
			// A new call superseded this session; leave it alone.
			m.mu.Unlock()
			return
		}
		m.info = nil
		m.state = Idle
		m.changed()
		m.mu.Unlock()
	})
	m.mu.Unlock()
}
