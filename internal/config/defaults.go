package config

const (
	DefaultGreeting    = "Welcome! Thanks for using the Gemini AI Bot\n\nStart by sending a query or question."
	DefaultPlaceholder = "⏳ Generating Response..."
	DefaultErrorPrefix = "❌ Sorry, an error occurred: "
	DefaultHelpText    = "Send me any question and I'll answer it with AI.\n\nLong answers arrive in several messages.\n\nCommands:\n/start - Welcome message\n/help - Show this message"

	defaultOpenAIBase = "https://api.openai.com/v1"
)

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "auto",
		},
		Telegram: TelegramConfig{
			Mode:             "polling",
			PollTimeout:      30,
			MaxMessageLength: 4096,
		},
		Completion: CompletionConfig{
			Provider:       "gemini",
			TimeoutSeconds: 60,
			Providers: map[string]ProviderConfig{
				"gemini": {
					Model: "gemini-2.5-flash",
				},
				"openai": {
					APIBase: defaultOpenAIBase,
					Model:   "gpt-4o-mini",
				},
				"claude": {
					Model:     "claude-3-5-haiku-latest",
					MaxTokens: 4096,
				},
			},
		},
		Dialogue: DialogueConfig{
			Concurrency:     1,
			PlaceholderText: DefaultPlaceholder,
			Greeting:        DefaultGreeting,
			HelpText:        DefaultHelpText,
			ErrorPrefix:     DefaultErrorPrefix,
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			WebhookPath: "/webhook",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
