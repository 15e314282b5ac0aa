package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return fmt.Errorf("api config error: %v", err)
	}

	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("database config error: %v", err)
	}

	if err := c.validateRedis(); err != nil {
		return fmt.Errorf("redis config error: %v", err)
	}

	if err := c.validateKafka(); err != nil {
		return fmt.Errorf("kafka config error: %v", err)
	}

	if err := c.validateEmail(); err != nil {
		return fmt.Errorf("email config error: %v", err)
	}

	if err := c.validateQueue(); err != nil {
		return fmt.Errorf("queue config error: %v", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config error: %v", err)
	}

	if c.Tracing.Enabled && c.Tracing.JaegerEndpoint == "" {
		return fmt.Errorf("tracing config error: jaeger_endpoint is required when tracing is enabled")
	}

	return nil
}

func (c *Config) validateAPI() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	if c.API.EnableCORS && len(c.API.AllowedOrigins) == 0 {
		return fmt.Errorf("allowed_origins is required when CORS is enabled")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "memory":
		return nil
	case "postgres":
	default:
		return fmt.Errorf("invalid driver: %s (must be memory or postgres)", c.Database.Driver)
	}

	if c.Database.URL == "" {
		return fmt.Errorf("url is required for the postgres driver")
	}

	if _, err := url.Parse(c.Database.URL); err != nil {
		return fmt.Errorf("invalid url format: %v", err)
	}

	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be greater than 0")
	}

	return nil
}

func (c *Config) validateRedis() error {
	if !c.Redis.Enabled {
		return nil
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("url is required when redis is enabled")
	}

	if c.Redis.QueueInfoTTL < 0 {
		return fmt.Errorf("queue_info_ttl must not be negative")
	}

	return nil
}

func (c *Config) validateKafka() error {
	if !c.Kafka.Enabled {
		return nil
	}

	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("brokers is required when kafka is enabled")
	}

	for _, broker := range c.Kafka.Brokers {
		if !strings.Contains(broker, ":") {
			return fmt.Errorf("invalid broker format: %s (expected host:port)", broker)
		}
	}

	return nil
}

func (c *Config) validateEmail() error {
	if !c.Email.Enabled {
		return nil
	}

	if c.Email.Host == "" {
		return fmt.Errorf("host is required when email is enabled")
	}

	if c.Email.From == "" {
		return fmt.Errorf("from is required when email is enabled")
	}

	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.PerTicketMinutes <= 0 {
		return fmt.Errorf("per_ticket_minutes must be greater than 0")
	}

	if c.Notify.Workers <= 0 {
		return fmt.Errorf("notify workers must be greater than 0")
	}

	return nil
}

func (c *Config) validateLogging() error {
	level := strings.ToLower(c.Logging.Level)
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

	if !validLevels[level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}

	format := strings.ToLower(c.Logging.Format)
	validFormats := map[string]bool{"json": true, "text": true}

	if !validFormats[format] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", format)
	}

	output := strings.ToLower(c.Logging.Output)
	validOutputs := map[string]bool{"stdout": true, "file": true, "both": true}

	if !validOutputs[output] {
		return fmt.Errorf("invalid log output: %s (must be stdout, file, or both)", output)
	}

	if (output == "file" || output == "both") && c.Logging.File == "" {
		return fmt.Errorf("file path is required when output is file or both")
	}

	return nil
}
