package dialogue

import (
	"github.com/m-mizutani/goerr/v2"
)

// Error tags for categorization
var (
	ErrTagPlaceholderSend   = goerr.NewTag("placeholder_send")
	ErrTagCompletion        = goerr.NewTag("completion_failure")
	ErrTagMarkupRender      = goerr.NewTag("markup_render")
	ErrTagPlaceholderDelete = goerr.NewTag("placeholder_delete")
	ErrTagFinalSend         = goerr.NewTag("final_send")
	ErrTagPanic             = goerr.NewTag("panic")
)

// State is the progress of a single Handle run.
type State int

const (
	Received State = iota
	PlaceholderSent
	Completing
	Formatting
	Delivering
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case PlaceholderSent:
		return "placeholder_sent"
	case Completing:
		return "completing"
	case Formatting:
		return "formatting"
	case Delivering:
		return "delivering"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Report describes what happened to one inbound message.
type Report struct {
	State     State
	Command   string // set when the message was answered as a bot command
	Ignored   bool   // empty text, nothing was sent
	Chunks    int    // reply chunks delivered
	Fallbacks int    // chunks delivered as plain text after markup rejection
	Notice    bool   // an error notice was sent
	Errors    []error
}

func (r *Report) record(err error) {
	r.Errors = append(r.Errors, err)
}
