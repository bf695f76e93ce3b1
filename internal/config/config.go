package config

import "os"

type Config struct {
	DatabaseURL   string
	RedisURL      string
	KafkaBrokers  string
	NATSURL       string
	GatewayAPIURL string
	// BaseURL is the externally reachable root of this service, used to
	// build absolute return/callback URLs handed to the gateway.
	BaseURL string
	// OrderBaseURL is the ticket shop's order-status page root.
	OrderBaseURL string
	Port         string
}

func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8085"
	}

	gatewayURL := os.Getenv("GATEWAY_API_URL")
	if gatewayURL == "" {
		gatewayURL = "https://api.quickpay.net"
	}

	return &Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		KafkaBrokers:  os.Getenv("KAFKA_BROKERS"),
		NATSURL:       os.Getenv("NATS_URL"),
		GatewayAPIURL: gatewayURL,
		BaseURL:       os.Getenv("BASE_URL"),
		OrderBaseURL:  os.Getenv("ORDER_BASE_URL"),
		Port:          port,
	}
}
