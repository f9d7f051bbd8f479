package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/channel"
	"relaybot/internal/completion"
	"relaybot/internal/config"
	"relaybot/internal/dialogue"
	"relaybot/internal/metrics"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const inboundBufferSize = 100

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay (Telegram updates, HTTP server, dialogue workers)",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}
	applyConfigLogging(cfg)
	if err := config.CheckSecrets(cfg); err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath, "mode", cfg.Telegram.Mode, "chain", cfg.Completion.Chain())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	completer, err := completion.NewFromConfig(ctx, cfg.Completion, logger)
	if err != nil {
		return fmt.Errorf("completion client: %w", err)
	}

	telegram, err := channel.NewTelegram(channel.TelegramConfig{
		Token:       cfg.Telegram.Token,
		AllowFrom:   cfg.Telegram.AllowFrom,
		PollTimeout: cfg.Telegram.PollTimeout,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	// Closed once the producers below have returned; the dispatcher then
	// handles what is left and stops.
	queue := bus.New(inboundBufferSize, logger)

	handler := dialogue.NewHandler(dialogue.Config{
		Transport:   telegram,
		Completer:   completer,
		Logger:      logger,
		MaxLength:   cfg.Telegram.MaxMessageLength,
		Timeout:     time.Duration(cfg.Completion.TimeoutSeconds) * time.Second,
		Placeholder: cfg.Dialogue.PlaceholderText,
		Greeting:    cfg.Dialogue.Greeting,
		HelpText:    cfg.Dialogue.HelpText,
		ErrorPrefix: cfg.Dialogue.ErrorPrefix,
	})
	dispatcher := dialogue.NewDispatcher(handler, cfg.Dialogue.Concurrency, logger)

	srvCfg := channel.ServerConfig{
		Addr:        net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		WebhookPath: cfg.Server.WebhookPath,
		SecretToken: cfg.Telegram.SecretToken,
		Logger:      logger,
	}
	if cfg.Metrics.Enabled {
		srvCfg.Metrics = metrics.Default.Handler()
		srvCfg.MetricsPath = cfg.Metrics.Path
	}
	webhook := cfg.Telegram.Mode == "webhook"
	if webhook {
		srvCfg.Decoder = telegram
		srvCfg.Queue = queue
	}
	server := channel.NewServer(srvCfg)

	dispatched := make(chan error, 1)
	go func() {
		dispatched <- dispatcher.Run(context.WithoutCancel(ctx), queue)
	}()
	shutdown := func() error {
		queue.Close()
		return <-dispatched
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Run(groupCtx)
	})

	if webhook {
		if err := telegram.RegisterWebhook(cfg.Telegram.WebhookURL, cfg.Telegram.SecretToken); err != nil {
			stop()
			_ = group.Wait()
			_ = shutdown()
			return fmt.Errorf("register webhook: %w", err)
		}
		logger.Info("webhook registered", "url", cfg.Telegram.WebhookURL)
	} else {
		group.Go(func() error {
			return telegram.Poll(groupCtx, queue)
		})
	}

	logger.Info("relaybot started", "version", version, "addr", srvCfg.Addr)

	err = group.Wait()
	if derr := shutdown(); err == nil {
		err = derr
	}
	if err != nil {
		return err
	}
	logger.Info("relaybot stopped")
	return nil
}
