package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			Workers:  8,
			QueueLen: 256,
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8000,
			WebhookPath: "/webhook",
		},
		Line: LineConfig{
			APIBase: "https://api.line.me",
		},
		Routing: RoutingConfig{
			Mode:              "unified",
			LegacyKeywords:    []string{"開發票", "地址", "預約", "轉帳", "繳費"},
			HighValueKeywords: []string{"設立公司", "開公司", "創業"},
		},
		Forward: ForwardConfig{
			TimeoutSeconds: 10,
			MaxRetries:     2,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "~/.linegw/conversations.db",
		},
		Guard: GuardConfig{
			Driver: "memory",
			// LINE redelivers within about a minute; an hour is generous.
			TTLSeconds: 3600,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
