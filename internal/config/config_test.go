package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// clearEnv neutralises overrides that may be set in the test environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvGeminiKey, EnvBotToken, EnvOpenAIKey, EnvAnthropicKey, EnvLogLevel, EnvLogFormat, EnvPort} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_InvalidMode(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Mode = "carrier-pigeon"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown telegram mode")
	}
}

func TestValidate_WebhookRequiresURL(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Mode = "webhook"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for webhook mode without URL")
	}

	cfg.Telegram.WebhookURL = "https://bot.example.com/webhook"
	if err := Validate(cfg); err != nil {
		t.Fatalf("webhook with URL should be valid: %v", err)
	}
}

func TestValidate_MaxMessageLength_Boundary(t *testing.T) {
	cfg := Defaults()

	cfg.Telegram.MaxMessageLength = 16
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxMessageLength=16 should be valid: %v", err)
	}

	cfg.Telegram.MaxMessageLength = 15
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxMessageLength=15")
	}

	cfg.Telegram.MaxMessageLength = 4097
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxMessageLength=4097")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Server.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_UnknownProvider(t *testing.T) {
	cfg := Defaults()
	cfg.Completion.FailoverChain = []string{"openai", "mystery"}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown failover provider")
	}
	if !strings.Contains(err.Error(), "mystery") {
		t.Fatalf("error should name the provider, got: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Completion.TimeoutSeconds = 0
	cfg.Dialogue.Concurrency = 0
	cfg.General.LogFormat = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"timeoutSeconds", "concurrency", "logFormat"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

// --- CheckSecrets ---

func TestCheckSecrets_Missing(t *testing.T) {
	cfg := Defaults()
	err := CheckSecrets(cfg)
	if err == nil {
		t.Fatal("expected missing credentials")
	}
	for _, want := range []string{EnvBotToken, EnvGeminiKey} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestCheckSecrets_Complete(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "123:abc"
	setProviderKey(cfg, "gemini", "key")
	if err := CheckSecrets(cfg); err != nil {
		t.Fatalf("expected complete credentials, got: %v", err)
	}
}

func TestCheckSecrets_LocalOpenAIWithoutKey(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "123:abc"
	cfg.Completion.Provider = "openai"
	pc := cfg.Completion.Providers["openai"]
	pc.APIBase = "http://localhost:11434/v1"
	cfg.Completion.Providers["openai"] = pc

	if err := CheckSecrets(cfg); err != nil {
		t.Fatalf("custom base URL should not need a key: %v", err)
	}
}

func TestChain_DeduplicatesPrimary(t *testing.T) {
	cc := CompletionConfig{Provider: "gemini", FailoverChain: []string{"gemini", "claude", "", "claude"}}
	got := cc.Chain()
	if strings.Join(got, ",") != "gemini,claude" {
		t.Fatalf("unexpected chain: %v", got)
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	original := Defaults()
	original.Completion.Provider = "claude"
	original.Telegram.AllowFrom = []string{"42"}

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Completion.Provider != "claude" {
		t.Fatalf("expected 'claude', got %q", loaded.Completion.Provider)
	}
	if len(loaded.Telegram.AllowFrom) != 1 || loaded.Telegram.AllowFrom[0] != "42" {
		t.Fatalf("allowFrom not preserved: %v", loaded.Telegram.AllowFrom)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Completion.Provider != "gemini" {
		t.Fatalf("expected default provider, got %q", cfg.Completion.Provider)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "telegram: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", "dialogue:\n  concurrency: 0\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for concurrency=0")
	}
}

func TestLoad_PartialProviderKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", "completion:\n  providers:\n    gemini:\n      apiKey: file-key\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	gemini := cfg.Completion.Providers["gemini"]
	if gemini.APIKey != "file-key" {
		t.Fatalf("expected file key, got %q", gemini.APIKey)
	}
	if gemini.Model != "gemini-2.5-flash" {
		t.Fatalf("expected default model, got %q", gemini.Model)
	}
	if _, ok := cfg.Completion.Providers["claude"]; !ok {
		t.Fatal("default providers should survive a partial providers map")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvBotToken, "env-token")
	t.Setenv(EnvGeminiKey, "env-gemini")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvPort, "9000")

	path := writeFile(t, "config.yaml", "telegram:\n  token: file-token\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("env token should win, got %q", cfg.Telegram.Token)
	}
	if cfg.Completion.Providers["gemini"].APIKey != "env-gemini" {
		t.Fatalf("expected gemini key from env, got %q", cfg.Completion.Providers["gemini"].APIKey)
	}
	if cfg.General.LogLevel != "debug" {
		t.Fatalf("expected debug, got %q", cfg.General.LogLevel)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("expected port 9000, got %d", cfg.Server.Port)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_RELAYBOT_HOOK", "https://hook.example.com")

	path := writeFile(t, "config.yaml", `telegram:
  mode: webhook
  webhookURL: ${TEST_RELAYBOT_HOOK}/webhook
  secretToken: ${TEST_RELAYBOT_SECRET_UNSET:-fallback-secret}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Telegram.WebhookURL != "https://hook.example.com/webhook" {
		t.Fatalf("unexpected webhookURL %q", cfg.Telegram.WebhookURL)
	}
	if cfg.Telegram.SecretToken != "fallback-secret" {
		t.Fatalf("unexpected secretToken %q", cfg.Telegram.SecretToken)
	}
}

func TestLoadEnvFile(t *testing.T) {
	t.Setenv("RELAYBOT_TEST_FROM_FILE", "")
	os.Unsetenv("RELAYBOT_TEST_FROM_FILE")
	t.Setenv(EnvBotToken, "already-set")

	path := writeFile(t, "bot_credentials.env", "RELAYBOT_TEST_FROM_FILE=loaded\nBOT_TOKEN_KEY=from-file\n")
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv("RELAYBOT_TEST_FROM_FILE"); got != "loaded" {
		t.Fatalf("expected value from env file, got %q", got)
	}
	if got := os.Getenv(EnvBotToken); got != "already-set" {
		t.Fatalf("existing variables must not be overwritten, got %q", got)
	}
}

func TestLoadEnvFile_Missing(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "telegram.mode")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "polling" {
		t.Fatalf("expected 'polling', got %v", val)
	}

	val, err = GetByPath(cfg, "completion.providers.gemini.model")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "gemini-2.5-flash" {
		t.Fatalf("expected gemini model, got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	if _, err := GetByPath(cfg, "nonexistent.path"); err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_String(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "completion.provider", "claude"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Completion.Provider != "claude" {
		t.Fatalf("expected 'claude', got %q", cfg.Completion.Provider)
	}
}

func TestSetByPath_EmptyPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "", "x"); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "metrics.enabled", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if cfg.Metrics.Enabled {
		t.Fatal("expected metrics.enabled=false")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "dialogue.concurrency", "4"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Dialogue.Concurrency != 4 {
		t.Fatalf("expected 4, got %d", cfg.Dialogue.Concurrency)
	}
}

func TestSetByPath_ListConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "completion.failoverChain", "[openai, claude]"); err != nil {
		t.Fatalf("set list: %v", err)
	}
	if strings.Join(cfg.Completion.FailoverChain, ",") != "openai,claude" {
		t.Fatalf("unexpected chain: %v", cfg.Completion.FailoverChain)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.Telegram.SecretToken = "hook-secret"
	setProviderKey(cfg, "openai", "sk-1234567890abcdefghijklmnop")

	sanitized := Sanitize(cfg)

	if sanitized.Telegram.Token != "1234****wxyz" {
		t.Fatalf("telegram token should be masked, got %q", sanitized.Telegram.Token)
	}
	if sanitized.Telegram.SecretToken != "***" {
		t.Fatalf("secret token should be masked, got %q", sanitized.Telegram.SecretToken)
	}
	if sanitized.Completion.Providers["openai"].APIKey == cfg.Completion.Providers["openai"].APIKey {
		t.Fatal("API key should be masked")
	}
	// Verify original is untouched
	if cfg.Telegram.Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
	if cfg.Completion.Providers["openai"].APIKey != "sk-1234567890abcdefghijklmnop" {
		t.Fatal("original provider map should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Telegram.Token != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Telegram.Token)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	paths := ListPaths(Defaults())
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}

	for _, expected := range []string{"general.logLevel", "telegram.maxMessageLength", "completion.providers.claude.maxTokens", "metrics.enabled"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	result := ExpandEnvVars(`apiKey: "${TEST_API_KEY}"`)
	expected := `apiKey: "sk-abc123"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`port: ${NONEXISTENT_VAR_12345:-8080}`)
	expected := `port: 8080`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_PORT", "9090")
	result := ExpandEnvVars(`port: ${MY_PORT:-8080}`)
	expected := `port: 9090`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	expected := `"fallback"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	if result := ExpandEnvVars(input); result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

// --- Defaults ---

func TestDefaults_ReturnsValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.Dialogue.PlaceholderText != "⏳ Generating Response..." {
		t.Fatalf("unexpected placeholder %q", cfg.Dialogue.PlaceholderText)
	}
	if cfg.Dialogue.Greeting != "Welcome! Thanks for using the Gemini AI Bot\n\nStart by sending a query or question." {
		t.Fatalf("unexpected greeting %q", cfg.Dialogue.Greeting)
	}
	if cfg.Completion.TimeoutSeconds != 60 {
		t.Fatalf("expected 60s timeout, got %d", cfg.Completion.TimeoutSeconds)
	}
}
