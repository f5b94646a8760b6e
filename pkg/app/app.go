// Package app wires the client together: config, state store, MQTT
// adapter, LLM session and dashboard, with one shutdown path that
// always sends the safety stop before the broker link drops.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/riderlabs/go-rider/internal/config"
	"github.com/riderlabs/go-rider/pkg/broker"
	"github.com/riderlabs/go-rider/pkg/calibration"
	"github.com/riderlabs/go-rider/pkg/dashboard"
	"github.com/riderlabs/go-rider/pkg/llm"
	"github.com/riderlabs/go-rider/pkg/state"
)

// App is the composed client.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store     *state.Store
	broker    *broker.Adapter
	provider  llm.Provider
	session   *llm.Session
	table     *calibration.Table
	dashboard *dashboard.Server

	closeOnce sync.Once
}

// New builds the client from configuration. Nothing is connected yet;
// Run does that.
func New(cfg *config.Config, logger *slog.Logger) *App {
	store := state.New(
		state.WithControllerTimeout(cfg.ControllerTimeout),
		state.WithLogger(logger),
	)

	table := calibration.Load(cfg.CalibrationFile, logger)

	provider := llm.NewClient(
		llm.WithBaseURL(cfg.LLMBaseURL),
		llm.WithModel(cfg.LLMModel),
		llm.WithTemperature(cfg.LLMTemperature),
		llm.WithMaxTokens(cfg.LLMMaxTokens),
		llm.WithLogger(logger),
	)
	session := llm.NewSession(provider, cfg.LLMModel, cfg.LLMTemperature, cfg.LLMMaxTokens, cfg.LLMEnabled, logger)

	brk := broker.New(cfg.BrokerURL(), store, logger)
	dash := dashboard.NewServer(cfg, store, brk, session, table, logger)

	// Camera frames flow broker -> dashboard (and into the LLM image).
	brk.SetFrameHandler(dash.HandleFrame)

	return &App{
		cfg:       cfg,
		logger:    logger.With("component", "app"),
		store:     store,
		broker:    brk,
		provider:  provider,
		session:   session,
		table:     table,
		dashboard: dash,
	}
}

// Store exposes the state store, mainly for tests and tooling.
func (a *App) Store() *state.Store { return a.store }

// Run connects everything and blocks until the context is cancelled.
// The dashboard stays up even when the broker is unreachable, so the
// UI can show the disconnected state and let the user fix the host.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting rider client",
		"broker", a.cfg.BrokerURL(),
		"dashboard", a.cfg.DashboardAddr(),
		"llm", a.cfg.LLMBaseURL,
		"llm_enabled", a.cfg.LLMEnabled)

	if err := a.broker.Connect(); err != nil {
		a.logger.Warn("broker unreachable, auto-reconnect active", slog.Any("error", err))
	} else {
		// Prime the battery reading instead of waiting for the next
		// periodic publish from the robot.
		if err := a.broker.RequestBattery(); err != nil {
			a.logger.Debug("initial battery request failed", slog.Any("error", err))
		}
	}

	if a.cfg.LLMEnabled {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.session.RefreshModels(probeCtx); err != nil {
			a.logger.Warn("LLM server unavailable", slog.Any("error", err))
		}
		cancel()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.dashboard.Start()
	}()

	select {
	case <-ctx.Done():
		a.Close()
		return nil
	case err := <-errCh:
		a.Close()
		if err != nil {
			return fmt.Errorf("app: dashboard: %w", err)
		}
		return nil
	}
}

// Close tears the client down in safe order: cancel any generation,
// stop the dashboard, then disconnect the broker (which sends the
// safety stop). Safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down")

		a.session.Cancel()
		if err := a.dashboard.Shutdown(); err != nil {
			a.logger.Warn("dashboard shutdown", slog.Any("error", err))
		}
		a.broker.Close()
		if err := a.provider.Close(); err != nil {
			a.logger.Warn("llm close", slog.Any("error", err))
		}
		a.logger.Info("shutdown complete")
	})
}
