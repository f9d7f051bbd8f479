// Package dialogue turns one inbound message into a reply: placeholder,
// completion, formatting, chunked delivery and error notices.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"relaybot/internal/completion"
	"relaybot/internal/domain"
	"relaybot/internal/format"
	"relaybot/internal/metrics"
)

const (
	DefaultPlaceholder = "⏳ Generating Response..."
	DefaultErrorPrefix = "❌ Sorry, an error occurred: "
	DefaultGreeting    = "Welcome! Thanks for using the Gemini AI Bot\n\nStart by sending a query or question."
	DefaultHelpText    = "Send me any question and I'll answer it with AI.\n\nCommands:\n/start - Welcome message\n/help - Show this message"

	reasonEmpty    = "empty response from model"
	reasonTimeout  = "the model did not answer in time"
	reasonInternal = "internal error"
)

type Config struct {
	Transport   domain.Transport
	Completer   domain.Completer
	Logger      *slog.Logger
	MaxLength   int           // per-message limit, default format.DefaultMaxLength
	Timeout     time.Duration // completion timeout, default completion.DefaultTimeout
	Placeholder string
	Greeting    string
	HelpText    string
	ErrorPrefix string
}

// Handler runs the reply state machine for one message at a time. It holds
// no per-message state and is safe for concurrent use.
type Handler struct {
	cfg Config
}

func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = format.DefaultMaxLength
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = completion.DefaultTimeout
	}
	if cfg.Placeholder == "" {
		cfg.Placeholder = DefaultPlaceholder
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if cfg.HelpText == "" {
		cfg.HelpText = DefaultHelpText
	}
	if cfg.ErrorPrefix == "" {
		cfg.ErrorPrefix = DefaultErrorPrefix
	}
	return &Handler{cfg: cfg}
}

// run carries the state of one Handle call.
type run struct {
	h             *Handler
	msg           domain.InboundMessage
	rep           Report
	placeholderID int
	noticeSent    bool
}

// Handle processes msg to completion. Every failure is handled locally and
// recorded in the returned Report; Handle never panics.
func (h *Handler) Handle(ctx context.Context, msg domain.InboundMessage) (rep Report) {
	logger := h.cfg.Logger.With(
		"chat_id", msg.ConversationID,
		"message_id", msg.MessageID,
		"trace_id", uuid.NewString(),
	)
	ctx = ctxlog.With(ctx, logger)
	start := time.Now()

	r := &run{h: h, msg: msg}
	defer func() {
		if p := recover(); p != nil {
			err := goerr.New("panic while handling message",
				goerr.T(ErrTagPanic),
				goerr.V("panic", fmt.Sprint(p)),
				goerr.V("state", r.rep.State.String()))
			r.safeFail(ctx, err, reasonInternal)
		}
		rep = r.rep
		logger.Info("message handled",
			"state", rep.State.String(),
			"command", rep.Command,
			"chunks", rep.Chunks,
			"fallbacks", rep.Fallbacks,
			"errors", len(rep.Errors),
			"duration", time.Since(start),
		)
	}()

	r.handle(ctx)
	return r.rep
}

func (r *run) handle(ctx context.Context) {
	text := strings.TrimSpace(r.msg.Text)
	if text == "" {
		r.rep.Ignored = true
		r.rep.State = Done
		return
	}
	if cmd, ok := parseCommand(text); ok && r.answerCommand(ctx, cmd) {
		return
	}

	metrics.MessagesTotal.Inc()
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	r.sendPlaceholder(ctx)

	reply, err := r.complete(ctx)
	if err != nil {
		r.fail(ctx, err, failureReason(err))
		return
	}

	r.rep.State = Formatting
	chunks := format.Chunk(format.Format(reply), r.h.cfg.MaxLength)

	r.deletePlaceholder(ctx)
	r.deliver(ctx, chunks)
}

// answerCommand replies to the commands the relay answers itself. Other
// commands go to the model as ordinary text.
func (r *run) answerCommand(ctx context.Context, cmd string) bool {
	var text string
	switch cmd {
	case "start":
		text = r.h.cfg.Greeting
	case "help":
		text = r.h.cfg.HelpText
	default:
		return false
	}

	r.rep.Command = cmd
	metrics.CommandsTotal.Inc()
	if err := r.h.cfg.Transport.ReplyTo(ctx, r.msg, text); err != nil {
		r.rep.record(goerr.Wrap(err, "failed to answer command",
			goerr.T(ErrTagFinalSend),
			goerr.V("command", cmd)))
		ctxlog.From(ctx).Warn("command reply failed", "command", cmd, "err", err)
		r.rep.State = Failed
		return true
	}
	r.rep.State = Done
	return true
}

func (r *run) sendPlaceholder(ctx context.Context) {
	res, err := r.h.cfg.Transport.Send(ctx, r.msg.ConversationID, r.h.cfg.Placeholder, domain.PlainText)
	if err == nil && res.Outcome != domain.Delivered {
		err = goerr.New("placeholder not delivered", goerr.V("outcome", res.Outcome.String()))
	}
	if err != nil {
		r.rep.record(goerr.Wrap(err, "failed to send placeholder", goerr.T(ErrTagPlaceholderSend)))
		ctxlog.From(ctx).Warn("placeholder send failed", "err", err)
		return
	}
	r.placeholderID = res.MessageID
	r.rep.State = PlaceholderSent
}

func (r *run) complete(ctx context.Context) (string, error) {
	r.rep.State = Completing

	cctx, cancel := context.WithTimeout(ctx, r.h.cfg.Timeout)
	defer cancel()

	start := time.Now()
	reply, err := r.h.cfg.Completer.Generate(cctx, r.msg.Text)
	metrics.CompletionLatency.ObserveSince(start)

	if err == nil && strings.TrimSpace(reply) == "" {
		err = goerr.New(reasonEmpty, goerr.T(completion.ErrTagEmptyResponse))
	}
	if err != nil {
		metrics.CompletionsFailed.Inc()
		if errors.Is(err, context.DeadlineExceeded) && !goerr.HasTag(err, completion.ErrTagTimeout) {
			err = goerr.Wrap(err, "completion timed out", goerr.T(completion.ErrTagTimeout))
		}
		return "", goerr.Wrap(err, "completion failed",
			goerr.T(ErrTagCompletion),
			goerr.V("completer", r.h.cfg.Completer.Name()))
	}

	metrics.CompletionsOK.Inc()
	ctxlog.From(ctx).Debug("completion received",
		"completer", r.h.cfg.Completer.Name(),
		"chars", format.Length(reply),
		"duration", time.Since(start),
	)
	return reply, nil
}

func (r *run) deletePlaceholder(ctx context.Context) {
	if r.placeholderID == 0 {
		return
	}
	id := r.placeholderID
	r.placeholderID = 0
	if err := r.h.cfg.Transport.Delete(ctx, r.msg.ConversationID, id); err != nil {
		r.rep.record(goerr.Wrap(err, "failed to delete placeholder",
			goerr.T(ErrTagPlaceholderDelete),
			goerr.V("placeholder_id", id)))
		ctxlog.From(ctx).Warn("placeholder delete failed", "err", err)
	}
}

// deliver sends chunks in order in HTML mode. A chunk whose markup is
// rejected is resent as plain text; a failed chunk does not stop the rest.
func (r *run) deliver(ctx context.Context, chunks []string) {
	r.rep.State = Delivering
	logger := ctxlog.From(ctx)

	for i, chunk := range chunks {
		res, err := r.h.cfg.Transport.Send(ctx, r.msg.ConversationID, chunk, domain.HTML)
		if err != nil {
			r.sendFailed(ctx, err, i)
			continue
		}
		if res.Outcome == domain.Delivered {
			metrics.ChunksHTML.Inc()
			r.rep.Chunks++
			continue
		}

		metrics.MarkupFallbacks.Inc()
		r.rep.record(goerr.New("markup rejected, resending as plain text",
			goerr.T(ErrTagMarkupRender),
			goerr.V("chunk", i),
			goerr.V("detail", res.Detail)))
		logger.Warn("markup rejected, falling back to plain text", "chunk", i, "detail", res.Detail)

		plain := format.StripMarkup(chunk)
		if strings.TrimSpace(plain) == "" {
			continue
		}
		res, err = r.h.cfg.Transport.Send(ctx, r.msg.ConversationID, plain, domain.PlainText)
		if err == nil && res.Outcome != domain.Delivered {
			err = goerr.New("plain text fallback not delivered", goerr.V("detail", res.Detail))
		}
		if err != nil {
			r.sendFailed(ctx, err, i)
			continue
		}
		metrics.ChunksPlain.Inc()
		r.rep.Chunks++
		r.rep.Fallbacks++
	}

	if r.rep.Chunks == 0 {
		r.rep.State = Failed
		return
	}
	r.rep.State = Done
}

func (r *run) sendFailed(ctx context.Context, err error, chunk int) {
	metrics.SendFailures.Inc()
	r.rep.record(goerr.Wrap(err, "failed to send reply chunk",
		goerr.T(ErrTagFinalSend),
		goerr.V("chunk", chunk)))
	ctxlog.From(ctx).Error("reply chunk not delivered", "chunk", chunk, "err", err)
}

// fail removes the placeholder and tells the user what went wrong, in plain
// text, at most once per message.
func (r *run) fail(ctx context.Context, err error, reason string) {
	r.rep.record(err)
	r.rep.State = Failed
	ctxlog.From(ctx).Error("message handling failed", "err", err)

	if r.noticeSent {
		return
	}
	r.noticeSent = true

	r.deletePlaceholder(ctx)

	notice := r.h.cfg.ErrorPrefix + reason
	res, sendErr := r.h.cfg.Transport.Send(ctx, r.msg.ConversationID, notice, domain.PlainText)
	if sendErr == nil && res.Outcome != domain.Delivered {
		sendErr = goerr.New("error notice not delivered", goerr.V("detail", res.Detail))
	}
	if sendErr != nil {
		metrics.SendFailures.Inc()
		r.rep.record(goerr.Wrap(sendErr, "failed to send error notice", goerr.T(ErrTagFinalSend)))
		ctxlog.From(ctx).Error("error notice not delivered", "err", sendErr)
		return
	}
	metrics.ErrorNotices.Inc()
	r.rep.Notice = true
}

// safeFail is fail for use after a recovered panic; a second panic is only logged.
func (r *run) safeFail(ctx context.Context, err error, reason string) {
	defer func() {
		if p := recover(); p != nil {
			ctxlog.From(ctx).Error("panic while reporting failure", "panic", fmt.Sprint(p))
		}
	}()
	r.fail(ctx, err, reason)
}

func failureReason(err error) string {
	switch {
	case goerr.HasTag(err, completion.ErrTagEmptyResponse):
		return reasonEmpty
	case goerr.HasTag(err, completion.ErrTagTimeout):
		return reasonTimeout
	}
	// Report the backend's own message, without our wrapping.
	cause := err
	for {
		next := errors.Unwrap(cause)
		if next == nil {
			return cause.Error()
		}
		cause = next
	}
}

// parseCommand extracts "start" from "/start@relay_bot args".
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd := strings.Fields(text)[0][1:]
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return cmd, cmd != ""
}
