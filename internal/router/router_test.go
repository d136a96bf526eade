package router

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/feiramob/chatcore/internal/badge"
	"github.com/feiramob/chatcore/internal/protocol"
	"go.uber.org/zap"
)

type mockSink struct {
	messages []*protocol.MessagePayload
	calls    []*protocol.CallPayload
	sent     []any
	sendErr  error

	suppressed bool
}

func (m *mockSink) HandleIncomingMessage(p *protocol.MessagePayload) {
	m.messages = append(m.messages, p)
}

func (m *mockSink) HandleEvent(p *protocol.CallPayload) {
	m.calls = append(m.calls, p)
}

func (m *mockSink) Send(frame any) error {
	m.sent = append(m.sent, frame)
	return m.sendErr
}

func (m *mockSink) Suppress() { m.suppressed = true }

func testRouter(sink *mockSink) (*Router, *badge.Counters) {
	badges := badge.New(nil)
	return New(sink, sink, badges, sink, zap.NewNop()), badges
}

func TestPingAnsweredWithPong(t *testing.T) {
	sink := &mockSink{}
	r, _ := testRouter(sink)

	r.HandleFrame([]byte(`{"type":"ping","ts":"2026-08-30T10:00:00Z"}`))

	if len(sink.sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(sink.sent))
	}
	data, _ := json.Marshal(sink.sent[0])
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	if m["type"] != "pong" {
		t.Errorf("reply = %s, want pong", data)
	}
}

func TestPongSendFailureIsSwallowed(t *testing.T) {
	sink := &mockSink{sendErr: fmt.Errorf("socket closed")}
	r, _ := testRouter(sink)
	r.HandleFrame([]byte(`{"type":"ping"}`))
	// Next frame still processed.
	r.HandleFrame([]byte(`{"type":"message","data":{"from_user":"2","content":"hi"}}`))
	if len(sink.messages) != 1 {
		t.Error("frame after failing pong was not processed")
	}
}

func TestMessageDispatch(t *testing.T) {
	sink := &mockSink{}
	r, _ := testRouter(sink)

	r.HandleFrame([]byte(`{"type":"message","data":{"from_user":"2","content":"hi back","message_id":"m1"}}`))

	if len(sink.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(sink.messages))
	}
	if sink.messages[0].Content != "hi back" {
		t.Errorf("payload = %+v", sink.messages[0])
	}
}

func TestCallDispatch(t *testing.T) {
	sink := &mockSink{}
	r, _ := testRouter(sink)

	r.HandleFrame([]byte(`{"type":"video_call","action":"incoming_call","call_id":"c1","from_user":"7"}`))

	if len(sink.calls) != 1 || sink.calls[0].Action != protocol.ActionIncomingCall {
		t.Errorf("calls = %+v", sink.calls)
	}
}

func TestBadgeFrames(t *testing.T) {
	sink := &mockSink{}
	r, badges := testRouter(sink)

	r.HandleFrame([]byte(`{"type":"notifications_unread_count","count":4}`))
	if got := badges.Current().Notifications; got != 4 {
		t.Errorf("notifications = %d, want 4", got)
	}

	r.HandleFrame([]byte(`{"type":"notification_new","data":{"category":"order_paid"}}`))
	got := badges.Current()
	if got.Notifications != 5 {
		t.Errorf("notifications = %d, want 5", got.Notifications)
	}
	if got.Orders != 1 {
		t.Errorf("orders = %d, want 1", got.Orders)
	}
}

func TestInfoSessionReplacedSuppresses(t *testing.T) {
	tests := []struct {
		message  string
		suppress bool
	}{
		{"session replaced by a newer login", true},
		{"You logged in from another device", true},
		{"Sessão encerrada: login em outro dispositivo", true},
		{"scheduled maintenance at 02:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			sink := &mockSink{}
			r, _ := testRouter(sink)
			frame, _ := json.Marshal(map[string]string{"type": "info", "message": tt.message})
			r.HandleFrame(frame)
			if sink.suppressed != tt.suppress {
				t.Errorf("suppressed = %v, want %v", sink.suppressed, tt.suppress)
			}
		})
	}
}

func TestReservedAndUnknownKindsIgnored(t *testing.T) {
	sink := &mockSink{}
	r, _ := testRouter(sink)

	for _, frame := range []string{
		`{"type":"typing","from_user":"2"}`,
		`{"type":"user_status","online":true}`,
		`{"type":"recording"}`,
		`{"type":"message_status"}`,
		`{"type":"order_status"}`,
		`{"type":"something_from_the_future"}`,
	} {
		r.HandleFrame([]byte(frame))
	}
	if len(sink.messages)+len(sink.calls)+len(sink.sent) != 0 {
		t.Error("reserved frames caused side effects")
	}
}

func TestMalformedFrameDoesNotStopTheStream(t *testing.T) {
	sink := &mockSink{}
	r, _ := testRouter(sink)

	r.HandleFrame([]byte(`{broken`))
	r.HandleFrame([]byte(`{"no_type":true}`))
	r.HandleFrame([]byte(`{"type":"message","data":{"from_user":"2","content":"still here"}}`))

	if len(sink.messages) != 1 {
		t.Errorf("messages = %d, want 1 after malformed frames", len(sink.messages))
	}
}
