package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvGeminiKey    = "GEMINI_API"
	EnvBotToken     = "BOT_TOKEN_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvLogLevel     = "RELAYBOT_LOG_LEVEL"
	EnvLogFormat    = "RELAYBOT_LOG_FORMAT"
	EnvPort         = "PORT"
)

// Config is the root configuration for relaybot.
type Config struct {
	General    GeneralConfig    `yaml:"general"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Completion CompletionConfig `yaml:"completion"`
	Dialogue   DialogueConfig   `yaml:"dialogue"`
	Server     ServerConfig     `yaml:"server"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"` // auto | console | text | json
}

type TelegramConfig struct {
	Token            string   `yaml:"token"`
	Mode             string   `yaml:"mode"` // polling | webhook
	WebhookURL       string   `yaml:"webhookURL,omitempty"`
	SecretToken      string   `yaml:"secretToken,omitempty"`
	AllowFrom        []string `yaml:"allowFrom,omitempty"` // user IDs; empty allows everyone
	PollTimeout      int      `yaml:"pollTimeout"`         // seconds
	MaxMessageLength int      `yaml:"maxMessageLength"`
}

type CompletionConfig struct {
	Provider       string                    `yaml:"provider"`
	FailoverChain  []string                  `yaml:"failoverChain,omitempty"`
	TimeoutSeconds int                       `yaml:"timeoutSeconds"`
	Providers      map[string]ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	APIKey    string `yaml:"apiKey,omitempty"`
	APIBase   string `yaml:"apiBase,omitempty"`
	Model     string `yaml:"model,omitempty"`
	MaxTokens int    `yaml:"maxTokens,omitempty"`
}

type DialogueConfig struct {
	Concurrency     int    `yaml:"concurrency"`
	PlaceholderText string `yaml:"placeholderText"`
	Greeting        string `yaml:"greeting"`
	HelpText        string `yaml:"helpText"`
	ErrorPrefix     string `yaml:"errorPrefix"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	WebhookPath string `yaml:"webhookPath"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set are kept. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("cannot load env file %s: %w", path, err)
	}
	return nil
}

// Load builds the configuration from defaults, the YAML file at path (when
// path is non-empty) and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		path = ExpandPath(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}

		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
		fillProviderDefaults(cfg)
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// fillProviderDefaults restores default model settings for providers whose
// YAML entry only names a key.
func fillProviderDefaults(cfg *Config) {
	for name, def := range Defaults().Completion.Providers {
		pc, ok := cfg.Completion.Providers[name]
		if !ok {
			continue
		}
		if pc.Model == "" {
			pc.Model = def.Model
		}
		if pc.APIBase == "" {
			pc.APIBase = def.APIBase
		}
		if pc.MaxTokens == 0 {
			pc.MaxTokens = def.MaxTokens
		}
		cfg.Completion.Providers[name] = pc
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvBotToken); v != "" {
		cfg.Telegram.Token = v
	}
	setProviderKey(cfg, "gemini", os.Getenv(EnvGeminiKey))
	setProviderKey(cfg, "openai", os.Getenv(EnvOpenAIKey))
	setProviderKey(cfg, "claude", os.Getenv(EnvAnthropicKey))

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.General.LogLevel = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.General.LogFormat = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

func setProviderKey(cfg *Config, name, key string) {
	if key == "" {
		return
	}
	if cfg.Completion.Providers == nil {
		cfg.Completion.Providers = make(map[string]ProviderConfig)
	}
	pc := cfg.Completion.Providers[name]
	pc.APIKey = key
	cfg.Completion.Providers[name] = pc
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[2]
		hasDefault := strings.Contains(match, ":-")

		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// Save writes cfg as YAML. The file holds secrets, so it is private to the user.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has usable values. It reports every
// problem at once.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch strings.ToLower(cfg.General.LogFormat) {
	case "", "auto", "console", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: auto, console, text, json")
	}

	switch cfg.Telegram.Mode {
	case "polling":
	case "webhook":
		if cfg.Telegram.WebhookURL == "" {
			errs = append(errs, "telegram.webhookURL is required in webhook mode")
		}
	default:
		errs = append(errs, "telegram.mode must be one of: polling, webhook")
	}
	if cfg.Telegram.MaxMessageLength < 16 || cfg.Telegram.MaxMessageLength > 4096 {
		errs = append(errs, "telegram.maxMessageLength must be between 16 and 4096")
	}
	if cfg.Telegram.PollTimeout < 0 {
		errs = append(errs, "telegram.pollTimeout must be >= 0")
	}

	if cfg.Completion.TimeoutSeconds < 1 {
		errs = append(errs, "completion.timeoutSeconds must be >= 1")
	}
	for _, name := range cfg.Completion.Chain() {
		if _, ok := cfg.Completion.Providers[name]; !ok {
			errs = append(errs, fmt.Sprintf("completion references unknown provider: %s", name))
		}
	}

	if cfg.Dialogue.Concurrency < 1 || cfg.Dialogue.Concurrency > 100 {
		errs = append(errs, "dialogue.concurrency must be between 1 and 100")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		errs = append(errs, "server.webhookPath must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// CheckSecrets reports missing credentials needed to run the relay.
func CheckSecrets(cfg *Config) error {
	var missing []string
	if cfg.Telegram.Token == "" {
		missing = append(missing, "telegram token ("+EnvBotToken+")")
	}
	for _, name := range cfg.Completion.Chain() {
		pc := cfg.Completion.Providers[name]
		if pc.APIKey != "" {
			continue
		}
		// OpenAI-compatible servers on a custom base (e.g. a local model) may not need a key.
		if name == "openai" && pc.APIBase != "" && pc.APIBase != defaultOpenAIBase {
			continue
		}
		missing = append(missing, fmt.Sprintf("%s API key (%s)", name, providerKeyEnv(name)))
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

func providerKeyEnv(name string) string {
	switch name {
	case "gemini":
		return EnvGeminiKey
	case "openai":
		return EnvOpenAIKey
	case "claude":
		return EnvAnthropicKey
	default:
		return "completion.providers." + name + ".apiKey"
	}
}

// Chain returns the provider names to try, in order: the primary provider
// followed by any failover entries not already listed.
func (c CompletionConfig) Chain() []string {
	var chain []string
	seen := make(map[string]bool)
	for _, name := range append([]string{c.Provider}, c.FailoverChain...) {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		chain = append(chain, name)
	}
	return chain
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
