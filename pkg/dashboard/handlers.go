package dashboard

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/riderlabs/go-rider/pkg/broker"
	"github.com/riderlabs/go-rider/pkg/hub"
	"github.com/riderlabs/go-rider/pkg/llm"
)

// handleState returns the current robot snapshot.
func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(s.store.Snapshot())
}

// handleConfig returns the non-secret client settings.
func (s *Server) handleConfig(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"broker_host":      s.cfg.BrokerHost,
		"broker_port":      s.cfg.BrokerPort,
		"dashboard_port":   s.cfg.DashboardPort,
		"llm_url":          s.cfg.LLMBaseURL,
		"llm_enabled":      s.cfg.LLMEnabled,
		"refresh_interval": s.cfg.RefreshInterval.String(),
		"calibration_file": s.cfg.CalibrationFile,
	})
}

// BrokerConfigRequest changes the broker address. The new address is
// persisted to the settings file and used on the next start.
type BrokerConfigRequest struct {
	Host string `json:"host"`
	Port *int   `json:"port,omitempty"`
}

func (s *Server) handleBrokerConfig(c *fiber.Ctx) error {
	var req BrokerConfigRequest
	if err := c.BodyParser(&req); err != nil || req.Host == "" {
		return badRequest(c, "invalid broker config body")
	}
	if req.Port != nil && (*req.Port < 1 || *req.Port > 65535) {
		return badRequest(c, "port out of range")
	}

	s.cfgMu.Lock()
	s.cfg.BrokerHost = req.Host
	if req.Port != nil {
		s.cfg.BrokerPort = *req.Port
	}
	err := s.cfg.Save()
	url := s.cfg.BrokerURL()
	s.cfgMu.Unlock()

	if err != nil {
		s.logger.Error("broker config save failed", slog.Any("error", err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	s.logger.Info("broker address saved", "broker", url)
	return c.JSON(fiber.Map{"broker": url, "restart_required": true})
}

// MovementRequest is a raw joystick command.
type MovementRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (s *Server) handleMovement(c *fiber.Ctx) error {
	var req MovementRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid movement body")
	}
	if err := s.broker.SendMovement(req.X, req.Y); err != nil {
		return brokerError(c, err)
	}
	return c.JSON(fiber.Map{"sent": true})
}

// SettingsRequest carries a settings action and optional value.
type SettingsRequest struct {
	Action string `json:"action"`
	Value  any    `json:"value,omitempty"`
}

func (s *Server) handleSettings(c *fiber.Ctx) error {
	var req SettingsRequest
	if err := c.BodyParser(&req); err != nil || req.Action == "" {
		return badRequest(c, "invalid settings body")
	}
	if err := s.broker.SendSettings(req.Action, req.Value); err != nil {
		return brokerError(c, err)
	}
	return c.JSON(fiber.Map{"sent": true, "action": req.Action})
}

// ActionRequest carries a bare action name.
type ActionRequest struct {
	Action string `json:"action"`
}

func (s *Server) handleCamera(c *fiber.Ctx) error {
	var req ActionRequest
	if err := c.BodyParser(&req); err != nil || req.Action == "" {
		return badRequest(c, "invalid camera body")
	}
	if err := s.broker.SendCamera(req.Action); err != nil {
		return brokerError(c, err)
	}
	return c.JSON(fiber.Map{"sent": true, "action": req.Action})
}

func (s *Server) handleSystem(c *fiber.Ctx) error {
	var req ActionRequest
	if err := c.BodyParser(&req); err != nil || req.Action == "" {
		return badRequest(c, "invalid system body")
	}
	if err := s.broker.SendSystem(req.Action); err != nil {
		return brokerError(c, err)
	}
	return c.JSON(fiber.Map{"sent": true, "action": req.Action})
}

// CalibratedMoveRequest names a movement instead of raw values.
type CalibratedMoveRequest struct {
	Action    string `json:"action"`    // forward, backward, turn_left, turn_right, stop
	Intensity string `json:"intensity"` // slow, normal, fast, 45deg, 90deg, 180deg
}

// handleCalibratedMove resolves a named action through the calibration
// table, applies the current speed multiplier, and sends it.
func (s *Server) handleCalibratedMove(c *fiber.Ctx) error {
	var req CalibratedMoveRequest
	if err := c.BodyParser(&req); err != nil || req.Action == "" {
		return badRequest(c, "invalid move body")
	}
	if req.Intensity == "" {
		req.Intensity = "normal"
	}

	x, y := s.table.Command(req.Action, req.Intensity)
	mult := s.store.Snapshot().SpeedMultiplier
	fx, fy := float64(x)*mult, float64(y)*mult

	if err := s.broker.SendMovement(fx, fy); err != nil {
		return brokerError(c, err)
	}
	return c.JSON(fiber.Map{"sent": true, "x": fx, "y": fy})
}

func (s *Server) handleBatteryRefresh(c *fiber.Ctx) error {
	if err := s.broker.RequestBattery(); err != nil {
		return brokerError(c, err)
	}
	return c.JSON(fiber.Map{"sent": true})
}

func (s *Server) handleCalibrationList(c *fiber.Ctx) error {
	return c.JSON(s.table.List())
}

// CalibrationUpdateRequest changes one named calibration point.
type CalibrationUpdateRequest struct {
	Movement string `json:"movement"`
	Name     string `json:"name"`
	Value    int    `json:"value"`
}

func (s *Server) handleCalibrationUpdate(c *fiber.Ctx) error {
	var req CalibrationUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid calibration body")
	}
	if err := s.table.Update(req.Movement, req.Name, req.Value); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	if err := s.table.Save(); err != nil {
		s.logger.Warn("calibration save failed", slog.Any("error", err))
	}
	return c.JSON(fiber.Map{"updated": true})
}

// =============================================================================
// LLM
// =============================================================================

func (s *Server) handleLLMStatus(c *fiber.Ctx) error {
	return c.JSON(s.session.Status())
}

func (s *Server) handleLLMModels(c *fiber.Ctx) error {
	if err := s.session.RefreshModels(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(s.session.Status())
}

// AskRequest starts a generation. Preset selects a canned prompt;
// otherwise Prompt is used verbatim.
type AskRequest struct {
	Prompt   string `json:"prompt,omitempty"`
	Preset   string `json:"preset,omitempty"` // describe, navigation, environment
	UseImage *bool  `json:"use_image,omitempty"`
}

// handleLLMAsk starts a streamed generation; output arrives on the
// /ws/llm stream. A generation already running is cancelled first.
func (s *Server) handleLLMAsk(c *fiber.Ctx) error {
	var req AskRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid ask body")
	}

	prompt := req.Prompt
	useImage := true
	switch req.Preset {
	case "describe":
		prompt = llm.PromptDescribeScene
	case "navigation":
		prompt = llm.PromptNavigation
	case "environment":
		prompt = llm.PromptEnvironment
	case "":
		if req.UseImage != nil {
			useImage = *req.UseImage
		}
	default:
		return badRequest(c, "unknown preset")
	}
	if prompt == "" {
		return badRequest(c, "empty prompt")
	}

	ch, id, err := s.session.Ask(context.Background(), prompt, useImage)
	if err != nil {
		return llmError(c, err)
	}
	go s.pumpLLM(ch)
	return c.JSON(fiber.Map{"request_id": id})
}

func (s *Server) handleLLMCancel(c *fiber.Ctx) error {
	s.session.Cancel()
	return c.JSON(fiber.Map{"cancelled": true})
}

// LLMSettingsRequest changes generation parameters at runtime.
type LLMSettingsRequest struct {
	Model       *string  `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

func (s *Server) handleLLMSettings(c *fiber.Ctx) error {
	var req LLMSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid settings body")
	}
	if req.Model != nil {
		if err := s.session.SetModel(*req.Model); err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
	}
	if req.Temperature != nil {
		s.session.SetTemperature(*req.Temperature)
	}
	if req.MaxTokens != nil {
		s.session.SetMaxTokens(*req.MaxTokens)
	}

	// Persist so the settings survive a restart. The session clamps,
	// so write back its effective values rather than the raw request.
	status := s.session.Status()
	s.cfgMu.Lock()
	s.cfg.LLMModel = status.Model
	s.cfg.LLMTemperature = status.Temperature
	s.cfg.LLMMaxTokens = status.MaxTokens
	if err := s.cfg.Save(); err != nil {
		s.logger.Warn("llm settings save failed", slog.Any("error", err))
	}
	s.cfgMu.Unlock()

	return c.JSON(status)
}

func (s *Server) handleLLMHistory(c *fiber.Ctx) error {
	return c.JSON(s.session.History())
}

func (s *Server) handleLLMClearHistory(c *fiber.Ctx) error {
	s.session.ClearHistory()
	return c.JSON(fiber.Map{"cleared": true})
}

// llmEvent is the websocket wire form of a generation chunk.
type llmEvent struct {
	RequestID string `json:"request_id"`
	Delta     string `json:"delta,omitempty"`
	Done      bool   `json:"done,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Error     string `json:"error,omitempty"`
}

// pumpLLM relays one generation's chunks to the llm hub.
func (s *Server) pumpLLM(ch <-chan llm.Chunk) {
	for chunk := range ch {
		ev := llmEvent{
			RequestID: chunk.RequestID,
			Delta:     chunk.Delta,
			Done:      chunk.Done,
			Cancelled: chunk.Cancelled,
		}
		if chunk.Err != nil && !chunk.Cancelled {
			ev.Error = chunk.Err.Error()
		}
		s.llmHub.BroadcastJSON(ev)
	}
}

// =============================================================================
// WebSockets
// =============================================================================

// handleStateWS streams state snapshots; the current one is sent on
// connect.
func (s *Server) handleStateWS(c *websocket.Conn) {
	c.WriteJSON(s.store.Snapshot())
	hub.NewClient(s.stateHub, c).Run()
}

// handleCameraWS streams binary JPEG frames; the latest frame is sent
// on connect so the view is never blank.
func (s *Server) handleCameraWS(c *websocket.Conn) {
	if frame := s.LastFrame(); frame != nil {
		c.WriteMessage(websocket.BinaryMessage, frame)
	}
	hub.NewClient(s.cameraHub, c).Run()
}

// handleLLMWS streams generation chunks.
func (s *Server) handleLLMWS(c *websocket.Conn) {
	hub.NewClient(s.llmHub, c).Run()
}

// =============================================================================
// Error helpers
// =============================================================================

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func brokerError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	if errors.Is(err, broker.ErrNotConnected) {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func llmError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, llm.ErrDisabled):
		status = fiber.StatusConflict
	case errors.Is(err, llm.ErrNoModel), errors.Is(err, llm.ErrNoImage):
		status = fiber.StatusPreconditionFailed
	case errors.Is(err, llm.ErrServerUnavailable):
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
