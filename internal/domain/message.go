package domain

import "time"

// InboundMessage is a user text message received from the chat platform.
type InboundMessage struct {
	ConversationID string
	MessageID      int
	SenderID       string
	SenderName     string
	Text           string
	Timestamp      time.Time
}

// ParseMode selects how the transport renders an outbound text.
type ParseMode string

const (
	PlainText ParseMode = ""
	HTML      ParseMode = "HTML"
)

// Outcome classifies a send that reached the platform.
type Outcome int

const (
	Delivered Outcome = iota
	// MarkupRejected means the platform refused the payload because its
	// markup could not be parsed. The same text may still be sent as plain text.
	MarkupRejected
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case MarkupRejected:
		return "markup_rejected"
	default:
		return "unknown"
	}
}

// SendResult is the result of a send that did not fail at the transport level.
type SendResult struct {
	MessageID int
	Outcome   Outcome
	Detail    string // platform description for rejected payloads
}
