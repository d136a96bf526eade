package protocol

import "time"

// PingFrame is the keepalive probe; the server answers with pong.
type PingFrame struct {
	Type string `json:"type"`
	TS   string `json:"ts"`
}

// NewPing builds a ping frame stamped with the current time.
func NewPing() PingFrame {
	return PingFrame{Type: KindPing, TS: time.Now().UTC().Format(time.RFC3339)}
}

// PongFrame answers a server-initiated ping.
type PongFrame struct {
	Type string `json:"type"`
	TS   string `json:"ts"`
}

// NewPong builds a pong frame stamped with the current time.
func NewPong() PongFrame {
	return PongFrame{Type: KindPong, TS: time.Now().UTC().Format(time.RFC3339)}
}

// MessageFrame carries one outbound chat message. ToUser and ReceiverID are
// the same value under two names the backend has used across versions.
// MessageID doubles as the client temp id until the server assigns one.
type MessageFrame struct {
	Type         string `json:"type"`
	ToUser       string `json:"to_user"`
	ReceiverID   string `json:"receiver_id"`
	Content      string `json:"content"`
	MessageType  string `json:"message_type"`
	FileURL      string `json:"file_url,omitempty"`
	FileName     string `json:"file_name,omitempty"`
	FileSize     int64  `json:"file_size,omitempty"`
	MessageID    string `json:"message_id"`
	ClientTempID string `json:"client_temp_id"`
}

// FileRef describes an already-uploaded attachment for non-text messages.
type FileRef struct {
	URL  string
	Name string
	Size int64
}

// NewMessage builds an outbound message frame.
func NewMessage(to ID, content, messageType string, file *FileRef, tempID string) MessageFrame {
	frame := MessageFrame{
		Type:         KindMessage,
		ToUser:       to.String(),
		ReceiverID:   to.String(),
		Content:      content,
		MessageType:  messageType,
		MessageID:    tempID,
		ClientTempID: tempID,
	}
	if file != nil {
		frame.FileURL = file.URL
		frame.FileName = file.Name
		frame.FileSize = file.Size
	}
	return frame
}

// StartCallFrame asks the server to create a call to a peer.
type StartCallFrame struct {
	Type       string `json:"type"`
	Action     string `json:"action"`
	ToUser     string `json:"to_user"`
	ReceiverID string `json:"receiver_id"`
}

// NewStartCall builds a start_call signaling frame.
func NewStartCall(to ID) StartCallFrame {
	return StartCallFrame{Type: KindVideoCall, Action: ActionStartCall, ToUser: to.String(), ReceiverID: to.String()}
}

// CallResponseFrame accepts or rejects an incoming call.
type CallResponseFrame struct {
	Type     string `json:"type"`
	Action   string `json:"action"`
	CallID   string `json:"call_id"`
	Accepted bool   `json:"accepted"`
}

// NewCallResponse builds a call_response signaling frame.
func NewCallResponse(callID ID, accepted bool) CallResponseFrame {
	return CallResponseFrame{Type: KindVideoCall, Action: ActionCallResponse, CallID: callID.String(), Accepted: accepted}
}

// EndCallFrame terminates the current call.
type EndCallFrame struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	CallID string `json:"call_id"`
}

// NewEndCall builds an end_call signaling frame.
func NewEndCall(callID ID) EndCallFrame {
	return EndCallFrame{Type: KindVideoCall, Action: ActionEndCall, CallID: callID.String()}
}

// ActionEndCall is the outbound-only end_call action.
const ActionEndCall = "end_call"

// ReadAllFrame tells the server every message from to_user was read.
type ReadAllFrame struct {
	Type   string `json:"type"`
	ToUser string `json:"to_user"`
}

// NewReadAll builds a read_all frame for one conversation.
func NewReadAll(to ID) ReadAllFrame {
	return ReadAllFrame{Type: "read_all", ToUser: to.String()}
}
