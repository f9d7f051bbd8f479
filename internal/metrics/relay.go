package metrics

// Series reported by the relay.
var (
	MessagesTotal = Default.Counter("messages_total", "Inbound text messages handled", "")
	CommandsTotal = Default.Counter("commands_total", "Bot commands answered", "")
	InFlight      = Default.Gauge("inflight_messages", "Messages currently being handled", "")

	CompletionsOK     = Default.Counter("completions_total", "Completion requests", `result="ok"`)
	CompletionsFailed = Default.Counter("completions_total", "Completion requests", `result="error"`)
	CompletionLatency = Default.Histogram("completion_latency_seconds", "Completion latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})

	ChunksHTML      = Default.Counter("chunks_sent_total", "Reply chunks delivered", `mode="html"`)
	ChunksPlain     = Default.Counter("chunks_sent_total", "Reply chunks delivered", `mode="plain"`)
	MarkupFallbacks = Default.Counter("markup_fallbacks_total", "Chunks resent as plain text after markup rejection", "")
	SendFailures    = Default.Counter("send_failures_total", "Chunks or notices that could not be delivered", "")
	ErrorNotices    = Default.Counter("error_notices_total", "Error notices sent to users", "")
)

// Transport series.
var (
	UpdatesPolled    = Default.Counter("updates_total", "Telegram updates received", `source="polling"`)
	UpdatesWebhook   = Default.Counter("updates_total", "Telegram updates received", `source="webhook"`)
	WebhookRejected  = Default.Counter("webhook_rejected_total", "Webhook requests refused for a bad secret or body", "")
	RateLimitRetries = Default.Counter("telegram_rate_limit_retries_total", "Sends retried after HTTP 429", "")
)
