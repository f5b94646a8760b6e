// Package config provides the settings store for go-rider commands.
//
// Settings live in a dotenv file (default "rider.env") and may be
// overridden by real environment variables. A missing file or missing
// key is never an error: every accessor falls back to a documented
// default, so a half-written config behaves like a fresh install.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultFile is the settings file looked up when none is given.
const DefaultFile = "rider.env"

// Defaults applied when a key is absent from both file and environment.
const (
	DefaultBrokerHost        = "192.168.1.173"
	DefaultBrokerPort        = 1883
	DefaultDashboardPort     = 8742
	DefaultLLMBaseURL        = "http://localhost:11434"
	DefaultLLMModel          = "llava:7b"
	DefaultLLMTemperature    = 0.7
	DefaultLLMMaxTokens      = 500
	DefaultLogLevel          = "info"
	DefaultControllerTimeout = 5 * time.Second
	DefaultRefreshInterval   = 250 * time.Millisecond
	DefaultCalibrationFile   = "movement_calibration.json"
)

// Config holds all client settings.
type Config struct {
	// MQTT broker
	BrokerHost string
	BrokerPort int

	// Dashboard
	DashboardPort int

	// LLM (Ollama)
	LLMBaseURL     string
	LLMModel       string
	LLMTemperature float64
	LLMMaxTokens   int
	LLMEnabled     bool

	// Application
	LogLevel          string
	ControllerTimeout time.Duration
	RefreshInterval   time.Duration
	CalibrationFile   string

	path string
}

// Load reads settings from the given dotenv file, falling back to
// process environment variables and then to defaults. The file not
// existing is fine.
func Load(path string) *Config {
	if path == "" {
		path = DefaultFile
	}

	vals := map[string]string{}
	if fileVals, err := godotenv.Read(path); err == nil {
		vals = fileVals
	}

	get := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		if v, ok := vals[key]; ok && v != "" {
			return v
		}
		return def
	}

	return &Config{
		BrokerHost:    get("RIDER_BROKER_HOST", DefaultBrokerHost),
		BrokerPort:    getInt(get("RIDER_BROKER_PORT", ""), DefaultBrokerPort),
		DashboardPort: getInt(get("RIDER_DASHBOARD_PORT", ""), DefaultDashboardPort),

		LLMBaseURL:     get("RIDER_LLM_URL", DefaultLLMBaseURL),
		LLMModel:       get("RIDER_LLM_MODEL", DefaultLLMModel),
		LLMTemperature: getFloat(get("RIDER_LLM_TEMPERATURE", ""), DefaultLLMTemperature),
		LLMMaxTokens:   getInt(get("RIDER_LLM_MAX_TOKENS", ""), DefaultLLMMaxTokens),
		LLMEnabled:     getBool(get("RIDER_LLM_ENABLED", ""), true),

		LogLevel:          get("RIDER_LOG_LEVEL", DefaultLogLevel),
		ControllerTimeout: getDuration(get("RIDER_CONTROLLER_TIMEOUT", ""), DefaultControllerTimeout),
		RefreshInterval:   getDuration(get("RIDER_REFRESH_INTERVAL", ""), DefaultRefreshInterval),
		CalibrationFile:   get("RIDER_CALIBRATION_FILE", DefaultCalibrationFile),

		path: path,
	}
}

// Save persists the current settings back to the dotenv file so that
// changes made at runtime (broker host, LLM settings) survive restarts.
func (c *Config) Save() error {
	vals := map[string]string{
		"RIDER_BROKER_HOST":        c.BrokerHost,
		"RIDER_BROKER_PORT":        strconv.Itoa(c.BrokerPort),
		"RIDER_DASHBOARD_PORT":     strconv.Itoa(c.DashboardPort),
		"RIDER_LLM_URL":            c.LLMBaseURL,
		"RIDER_LLM_MODEL":          c.LLMModel,
		"RIDER_LLM_TEMPERATURE":    strconv.FormatFloat(c.LLMTemperature, 'f', -1, 64),
		"RIDER_LLM_MAX_TOKENS":     strconv.Itoa(c.LLMMaxTokens),
		"RIDER_LLM_ENABLED":        strconv.FormatBool(c.LLMEnabled),
		"RIDER_LOG_LEVEL":          c.LogLevel,
		"RIDER_CONTROLLER_TIMEOUT": c.ControllerTimeout.String(),
		"RIDER_REFRESH_INTERVAL":   c.RefreshInterval.String(),
		"RIDER_CALIBRATION_FILE":   c.CalibrationFile,
	}
	return godotenv.Write(vals, c.path)
}

// BrokerURL returns the broker address in paho URL form.
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.BrokerHost, c.BrokerPort)
}

// DashboardAddr returns the dashboard listen address.
func (c *Config) DashboardAddr() string {
	return fmt.Sprintf(":%d", c.DashboardPort)
}

func getInt(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func getFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func getBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}

func getDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return v
}
