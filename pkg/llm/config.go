package llm

import (
	"log/slog"
	"time"
)

// Settings bounds enforced on writes, matching the robot client's UI.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinMaxTokens   = 50
	MaxMaxTokens   = 2000
)

// Config holds client configuration.
type Config struct {
	// BaseURL is the Ollama server root, e.g. "http://localhost:11434".
	BaseURL string

	// Model is the default generation model.
	Model string

	// Request defaults
	Temperature float64
	MaxTokens   int

	// Timeouts
	Timeout       time.Duration // health/models/single-shot
	StreamTimeout time.Duration // whole streamed generation

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithBaseURL sets the Ollama server URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithMaxTokens sets the default response length limit.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithTimeout sets the request timeout for non-streaming calls.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithStreamTimeout sets the overall streaming generation timeout.
func WithStreamTimeout(d time.Duration) Option {
	return func(c *Config) { c.StreamTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns sensible defaults for a local Ollama server.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "http://localhost:11434",
		Model:         "llava:7b",
		Temperature:   0.7,
		MaxTokens:     500,
		Timeout:       30 * time.Second,
		StreamTimeout: 120 * time.Second,
		Logger:        slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
