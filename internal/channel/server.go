package channel

import (
	"context"
	"crypto/hmac"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const (
	secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"
	maxUpdateSize     = 1 << 20 // 1MB
)

// UpdateDecoder turns a webhook body into an inbound message.
type UpdateDecoder interface {
	DecodeUpdate(body []byte) (domain.InboundMessage, bool, error)
}

type ServerConfig struct {
	Addr        string
	WebhookPath string // default: /webhook
	SecretToken string // expected X-Telegram-Bot-Api-Secret-Token; empty disables the check
	Decoder     UpdateDecoder
	Queue       domain.InboundQueue
	Metrics     http.Handler // nil disables the metrics route
	MetricsPath string       // default: /metrics
	Logger      *slog.Logger
}

// Server is the HTTP surface of the relay: a liveness page, the Telegram
// webhook and the metrics endpoint.
type Server struct {
	*http.Server
	cfg    ServerConfig
	logger *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{cfg: cfg, logger: cfg.Logger}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(loggingMiddleware(cfg.Logger))
	router.Use(middleware.Recoverer)

	router.Get("/", handleHome)
	if cfg.Decoder != nil && cfg.Queue != nil {
		router.Post(cfg.WebhookPath, s.handleWebhook)
	}
	if cfg.Metrics != nil {
		router.Handle(cfg.MetricsPath, cfg.Metrics)
	}

	s.Server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("http server starting", "addr", s.Addr, "webhook", s.cfg.WebhookPath)

	errCh := make(chan error, 1)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errCh:
		return goerr.Wrap(err, "http server", goerr.V("addr", s.Addr))
	}
}

func handleHome(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Bot is running"))
}

// handleWebhook accepts a Telegram update. Anything that is not a text
// message is acknowledged and dropped so Telegram does not redeliver it.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.From(r.Context())

	if s.cfg.SecretToken != "" {
		got := r.Header.Get(secretTokenHeader)
		if !hmac.Equal([]byte(got), []byte(s.cfg.SecretToken)) {
			metrics.WebhookRejected.Inc()
			logger.Warn("webhook secret mismatch", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateSize))
	if err != nil {
		metrics.WebhookRejected.Inc()
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	msg, ok, err := s.cfg.Decoder.DecodeUpdate(body)
	if err != nil {
		metrics.WebhookRejected.Inc()
		logger.Warn("invalid webhook update", "err", err)
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	metrics.UpdatesWebhook.Inc()

	if ok {
		logger.Debug("webhook message received",
			"chat_id", msg.ConversationID,
			"message_id", msg.MessageID,
		)
		s.cfg.Queue.Publish(msg)
	}
	w.WriteHeader(http.StatusOK)
}

func loggingMiddleware(base *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base.With("request_id", middleware.GetReqID(r.Context()))
			r = r.WithContext(ctxlog.With(r.Context(), logger))

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}
