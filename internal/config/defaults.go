package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:    "~/.omnigate/data",
			LogLevel:   "info",
			LogFormat:  "text",
			HistoryCap: 5000,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		Reconnect: ReconnectConfig{
			MaxRetries:           5,
			BaseDelayMs:          1000,
			MaxDelayMs:           30000,
			ConnectTimeoutMs:     60000,
			MaxChallengeAttempts: 3,
			MaxChallengeCycles:   2,
		},
		Stream: StreamConfig{
			WhatsAppThrottleMs: 2500,
			DiscordThrottleMs:  1500,
			TelegramThrottleMs: 900,
		},
		Typing: TypingConfig{
			AutoStopMs: 5000,
		},
		Relay: RelayConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8787,
			Path:    "/events",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
			Port:     9464,
		},
	}
}
