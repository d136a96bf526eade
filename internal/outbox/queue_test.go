package outbox

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
)

func TestFlushPreservesFIFOOrder(t *testing.T) {
	q := New(zap.NewNop())
	// Sends to A, B, A while disconnected must replay as A, B, A.
	q.Enqueue(Entry{ReceiverID: "A", Content: "one", TempID: "t1"})
	q.Enqueue(Entry{ReceiverID: "B", Content: "two", TempID: "t2"})
	q.Enqueue(Entry{ReceiverID: "A", Content: "three", TempID: "t3"})

	var order []string
	failed := q.Flush(func(e Entry) error {
		order = append(order, e.ReceiverID.String())
		return nil
	})

	if len(failed) != 0 {
		t.Errorf("failed = %v, want none", failed)
	}
	want := []string{"A", "B", "A"}
	if len(order) != len(want) {
		t.Fatalf("sent %d entries, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestFlushClearsQueueEvenOnFailure(t *testing.T) {
	q := New(zap.NewNop())
	q.Enqueue(Entry{ReceiverID: "1", TempID: "t1"})
	q.Enqueue(Entry{ReceiverID: "2", TempID: "t2"})

	calls := 0
	failed := q.Flush(func(Entry) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("socket closed")
		}
		return nil
	})

	if len(failed) != 1 || failed[0].TempID != "t1" {
		t.Errorf("failed = %v, want [t1]", failed)
	}
	if q.Len() != 0 {
		t.Errorf("queue len = %d after flush, want 0 (no re-queue)", q.Len())
	}

	// A second flush attempts nothing: at most one attempt per flush.
	attempts := 0
	q.Flush(func(Entry) error { attempts++; return nil })
	if attempts != 0 {
		t.Errorf("second flush attempted %d sends, want 0", attempts)
	}
}

func TestFlushEmptyQueue(t *testing.T) {
	q := New(zap.NewNop())
	if failed := q.Flush(func(Entry) error { return nil }); failed != nil {
		t.Errorf("empty flush failed = %v", failed)
	}
}
