package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/m-mizutani/goerr/v2"

	"relaybot/internal/domain"
	"relaybot/internal/httpclient"
	"relaybot/internal/metrics"
)

const (
	telegramMaxSendRetries = 3
	telegramPollTimeout    = 30 // seconds
)

// ErrTagInvalidChat marks a conversation id that is not a Telegram chat id.
var ErrTagInvalidChat = goerr.NewTag("invalid_chat_id")

// botAPI is the subset of *tgbotapi.BotAPI used by Telegram.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Telegram implements domain.Transport for the Telegram Bot API and feeds
// inbound text messages to an InboundQueue.
type Telegram struct {
	bot         botAPI
	allowFrom   []int64 // Allowed user IDs (empty = allow all)
	pollTimeout int
	logger      *slog.Logger

	// sleep waits between rate-limited retries.
	sleep func(ctx context.Context, d time.Duration) error
}

type TelegramConfig struct {
	Token       string
	AllowFrom   []string // User IDs as strings
	PollTimeout int      // seconds
	Logger      *slog.Logger
}

// NewTelegram connects to the Bot API with the given token.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = telegramPollTimeout
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, httpclient.ForLongPoll(poll))
	if err != nil {
		return nil, goerr.Wrap(err, "telegram bot init")
	}
	t := newTelegram(bot, cfg)
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return t, nil
}

func newTelegram(bot botAPI, cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = telegramPollTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		bot:         bot,
		allowFrom:   allowed,
		pollTimeout: cfg.PollTimeout,
		logger:      cfg.Logger,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Send delivers text to a chat. In HTML mode a "can't parse entities"
// rejection is reported as MarkupRejected with a nil error.
func (t *Telegram) Send(ctx context.Context, conversationID string, text string, mode domain.ParseMode) (domain.SendResult, error) {
	chatID, err := parseChatID(conversationID)
	if err != nil {
		return domain.SendResult{}, err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if mode == domain.HTML {
		msg.ParseMode = tgbotapi.ModeHTML
	}

	sent, err := t.send(ctx, msg)
	if err != nil {
		if mode == domain.HTML && isMarkupRejection(err) {
			return domain.SendResult{Outcome: domain.MarkupRejected, Detail: err.Error()}, nil
		}
		return domain.SendResult{}, goerr.Wrap(err, "telegram send failed",
			goerr.V("chat_id", chatID),
			goerr.V("parse_mode", string(mode)))
	}
	return domain.SendResult{MessageID: sent.MessageID, Outcome: domain.Delivered}, nil
}

// Delete removes a previously sent message.
func (t *Telegram) Delete(ctx context.Context, conversationID string, messageID int) error {
	chatID, err := parseChatID(conversationID)
	if err != nil {
		return err
	}
	if _, err := t.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return goerr.Wrap(err, "telegram delete failed",
			goerr.V("chat_id", chatID),
			goerr.V("message_id", messageID))
	}
	return nil
}

// ReplyTo answers msg in plain text, quoting it.
func (t *Telegram) ReplyTo(ctx context.Context, msg domain.InboundMessage, text string) error {
	chatID, err := parseChatID(msg.ConversationID)
	if err != nil {
		return err
	}
	reply := tgbotapi.NewMessage(chatID, text)
	reply.ReplyToMessageID = msg.MessageID
	if _, err := t.send(ctx, reply); err != nil {
		return goerr.Wrap(err, "telegram reply failed",
			goerr.V("chat_id", chatID),
			goerr.V("message_id", msg.MessageID))
	}
	return nil
}

// send retries on HTTP 429, honouring retry_after when Telegram provides it.
func (t *Telegram) send(ctx context.Context, msg tgbotapi.MessageConfig) (tgbotapi.Message, error) {
	for attempt := 0; ; attempt++ {
		sent, err := t.bot.Send(msg)
		if err == nil {
			return sent, nil
		}

		wait, limited := rateLimitDelay(err, attempt)
		if !limited || attempt >= telegramMaxSendRetries {
			return tgbotapi.Message{}, err
		}

		metrics.RateLimitRetries.Inc()
		t.logger.Warn("telegram rate limited, backing off",
			"chat_id", msg.ChatID,
			"retry_after", wait,
			"attempt", attempt+1,
		)
		if err := t.sleep(ctx, wait); err != nil {
			return tgbotapi.Message{}, err
		}
	}
}

// Poll removes any registered webhook and long-polls getUpdates, publishing
// text messages to queue until ctx is cancelled.
func (t *Telegram) Poll(ctx context.Context, queue domain.InboundQueue) error {
	if _, err := t.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		t.logger.Warn("failed to remove webhook before polling", "err", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout
	updates := t.bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started", "timeout", u.Timeout)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram polling stopping")
			t.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			metrics.UpdatesPolled.Inc()
			if msg, ok := t.toInbound(update); ok {
				queue.Publish(msg)
			}
		}
	}
}

// DecodeUpdate converts a webhook request body into an inbound message.
// ok is false for updates that carry no usable text message.
func (t *Telegram) DecodeUpdate(body []byte) (domain.InboundMessage, bool, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return domain.InboundMessage{}, false, goerr.Wrap(err, "invalid telegram update")
	}
	msg, ok := t.toInbound(update)
	return msg, ok, nil
}

// RegisterWebhook points Telegram at url. When secret is set Telegram sends
// it back in the X-Telegram-Bot-Api-Secret-Token header.
func (t *Telegram) RegisterWebhook(url, secret string) error {
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	if _, err := t.bot.MakeRequest("setWebhook", params); err != nil {
		return goerr.Wrap(err, "telegram setWebhook failed", goerr.V("url", url))
	}
	t.logger.Info("telegram webhook registered", "url", url)
	return nil
}

func (t *Telegram) toInbound(update tgbotapi.Update) (domain.InboundMessage, bool) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil || m.Text == "" {
		return domain.InboundMessage{}, false
	}

	if !t.isAllowed(m.From.ID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", m.From.ID,
			"username", m.From.UserName,
		)
		return domain.InboundMessage{}, false
	}

	name := m.From.UserName
	if name == "" {
		name = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
	}
	return domain.InboundMessage{
		ConversationID: strconv.FormatInt(m.Chat.ID, 10),
		MessageID:      m.MessageID,
		SenderID:       strconv.FormatInt(m.From.ID, 10),
		SenderName:     name,
		Text:           m.Text,
		Timestamp:      time.Unix(int64(m.Date), 0),
	}, true
}

func (t *Telegram) isAllowed(userID int64) bool {
	return len(t.allowFrom) == 0 || slices.Contains(t.allowFrom, userID)
}

func parseChatID(conversationID string) (int64, error) {
	id, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return 0, goerr.Wrap(err, "invalid chat ID",
			goerr.T(ErrTagInvalidChat),
			goerr.V("conversation_id", conversationID))
	}
	return id, nil
}

// apiError extracts the Bot API error from err, if any.
func apiError(err error) (tgbotapi.Error, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return val, true
	}
	return tgbotapi.Error{}, false
}

func isMarkupRejection(err error) bool {
	if apiErr, ok := apiError(err); ok {
		return apiErr.Code == http.StatusBadRequest &&
			strings.Contains(strings.ToLower(apiErr.Message), "can't parse entities")
	}
	return strings.Contains(strings.ToLower(err.Error()), "can't parse entities")
}

// rateLimitDelay reports whether err is an HTTP 429 and how long to wait
// before the next attempt.
func rateLimitDelay(err error, attempt int) (time.Duration, bool) {
	apiErr, ok := apiError(err)
	if ok && apiErr.Code == http.StatusTooManyRequests {
		if apiErr.RetryAfter > 0 {
			return time.Duration(apiErr.RetryAfter) * time.Second, true
		}
		return time.Duration(attempt+1) * 3 * time.Second, true
	}
	if !ok && strings.Contains(err.Error(), "Too Many Requests") {
		return time.Duration(attempt+1) * 3 * time.Second, true
	}
	return 0, false
}
