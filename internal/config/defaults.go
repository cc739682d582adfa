package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8080,
			WebhookPath: "/webhook",
		},
		Realtime: RealtimeConfig{
			Path: "/realtime",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Ingest: IngestConfig{
			Mode:             "sync",
			Workers:          4,
			QueueSize:        1024,
			FallbackIDPolicy: "unique",
		},
		Gateway: GatewayConfig{
			APIBase:            "http://localhost:3000",
			TimeoutSeconds:     10,
			RateLimitPerMinute: 600,
			MaxRetries:         2,
		},
		Identity: IdentityConfig{
			ContactDomain: "s.whatsapp.net",
		},
		Relay: RelayConfig{
			HTTP: HTTPRelayConfig{
				Enabled:        true,
				TimeoutSeconds: 10,
				MaxRetries:     3,
			},
			AMQP: AMQPRelayConfig{
				Exchange: "chatinbox.events",
			},
		},
		Bots: BotsConfig{
			File:       "~/.chatinbox/bots.yaml",
			MaxRetries: 1,
		},
		Tracing: TracingConfig{
			ServiceName: "chatinbox",
			SampleRatio: 1,
		},
		Database: DatabaseConfig{
			Path: "~/.chatinbox/chatinbox.db",
		},
	}
}
