package domain

import "context"

// Transport is the outbound side of a chat platform.
// Implementations must be safe for concurrent use.
type Transport interface {
	// Send delivers text to a conversation. A payload refused for its markup is
	// reported as a SendResult with Outcome MarkupRejected and a nil error.
	Send(ctx context.Context, conversationID string, text string, mode ParseMode) (SendResult, error)
	Delete(ctx context.Context, conversationID string, messageID int) error
	ReplyTo(ctx context.Context, msg InboundMessage, text string) error
}

// InboundQueue carries inbound messages from transports to dialogue workers.
type InboundQueue interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}
