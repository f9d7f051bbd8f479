package bus

import (
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/domain"
)

const publishTimeout = 10 * time.Second

// Queue is a Go-channel backed inbound queue shared by the polling loop,
// the webhook handler and the dialogue workers.
type Queue struct {
	inbound chan domain.InboundMessage
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
}

// New creates a Queue with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *Queue {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Queue{
		inbound: make(chan domain.InboundMessage, bufferSize),
		logger:  logger,
	}
}

// Publish enqueues msg. It blocks up to 10 seconds when the queue is full
// and drops the message after that.
func (q *Queue) Publish(msg domain.InboundMessage) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("attempted to publish to closed queue", "chat_id", msg.ConversationID)
		return
	}

	select {
	case q.inbound <- msg:
	default:
		q.logger.Warn("inbound queue full, waiting", "chat_id", msg.ConversationID)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case q.inbound <- msg:
			q.logger.Info("message delivered after wait", "chat_id", msg.ConversationID)
		case <-timer.C:
			q.logger.Error("message dropped: queue full for 10s",
				"chat_id", msg.ConversationID,
				"message_id", msg.MessageID,
			)
		}
	}
}

func (q *Queue) Subscribe() <-chan domain.InboundMessage {
	return q.inbound
}

// Close stops accepting messages. Consumers drain what is buffered.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.inbound)
	}
}
