package outbox

import (
	"sync"

	"github.com/feiramob/chatcore/internal/protocol"
	"go.uber.org/zap"
)

// Entry is one message captured while the transport was down. TempID links
// back to the optimistic message already sitting in the conversation store.
type Entry struct {
	ReceiverID  protocol.ID
	Content     string
	MessageType string
	File        *protocol.FileRef
	TempID      string
}

// Queue buffers sends attempted while disconnected and replays them in order
// once the session re-opens. Each entry gets exactly one send attempt per
// flush; a failed entry is reported, not re-queued, so a flapping connection
// cannot loop the same message forever.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	logger  *zap.Logger
}

// New creates an empty queue.
func New(logger *zap.Logger) *Queue {
	return &Queue{logger: logger}
}

// Enqueue appends an entry to the tail.
func (q *Queue) Enqueue(e Entry) {
	q.mu.Lock()
	q.entries = append(q.entries, e)
	length := len(q.entries)
	q.mu.Unlock()
	q.logger.Info("message queued while offline",
		zap.String("temp_id", e.TempID),
		zap.String("receiver", e.ReceiverID.String()),
		zap.Int("queue_len", length))
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Flush drains the queue in FIFO order, invoking send for each entry. The
// queue is emptied whether or not individual sends fail; failed entries are
// returned so the caller can mark their optimistic messages as failed.
func (q *Queue) Flush(send func(Entry) error) (failed []Entry) {
	q.mu.Lock()
	pending := q.entries
	q.entries = nil
	q.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	q.logger.Info("flushing outbound queue", zap.Int("pending", len(pending)))

	for _, e := range pending {
		if err := send(e); err != nil {
			q.logger.Error("queued send failed",
				zap.Error(err),
				zap.String("temp_id", e.TempID),
				zap.String("receiver", e.ReceiverID.String()))
			failed = append(failed, e)
		}
	}
	return failed
}
