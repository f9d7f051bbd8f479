package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"relaybot/internal/config"
	"relaybot/internal/logging"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	envFile    string
	logLevel   string
	logFormat  string
)

func main() {
	logger = logging.New(os.Stderr, slog.LevelInfo, logging.FormatAuto)

	root := &cobra.Command{
		Use:   "relaybot",
		Short: "relaybot: Telegram to LLM relay",
		Long:  "relaybot forwards Telegram messages to a hosted language model and posts the formatted answer back.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogger()
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.relaybot/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", "bot_credentials.env", "dotenv file with BOT_TOKEN_KEY and GEMINI_API")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "auto, console, text or json (overrides config)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogger rebuilds the global logger from flags, falling back to the
// environment overrides.
func setupLogger() error {
	lvl := firstNonEmpty(logLevel, os.Getenv(config.EnvLogLevel), "info")
	fmtName := firstNonEmpty(logFormat, os.Getenv(config.EnvLogFormat), string(logging.FormatAuto))

	level, err := logging.ParseLevel(lvl)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(fmtName)
	if err != nil {
		return err
	}
	logger = logging.New(os.Stderr, level, format)
	slog.SetDefault(logger)
	return nil
}

// applyConfigLogging switches to the configured level and format unless a
// flag already pinned them.
func applyConfigLogging(cfg *config.Config) {
	if logLevel == "" && os.Getenv(config.EnvLogLevel) == "" {
		logLevel = cfg.General.LogLevel
	}
	if logFormat == "" && os.Getenv(config.EnvLogFormat) == "" {
		logFormat = cfg.General.LogFormat
	}
	if err := setupLogger(); err != nil {
		logger.Warn("invalid logging config, keeping defaults", "err", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the env file and the config. Without --config a missing
// default file means built-in defaults plus environment overrides.
func loadConfig() (*config.Config, string, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, "", fmt.Errorf("load env file: %w", err)
	}

	cfgPath := resolveConfigPath()
	if configPath == "" {
		if _, err := os.Stat(cfgPath); errors.Is(err, fs.ErrNotExist) {
			cfg, err := config.Load("")
			if err != nil {
				return nil, "", fmt.Errorf("load config: %w", err)
			}
			return cfg, "", nil
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config: %w", err)
	}
	return cfg, cfgPath, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			cfg.Telegram.Token = "${" + config.EnvBotToken + "}"
			cfg.Completion.Providers["gemini"] = config.ProviderConfig{
				APIKey: "${" + config.EnvGeminiKey + "}",
				Model:  cfg.Completion.Providers["gemini"].Model,
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("relaybot", version)
		},
	}
}
