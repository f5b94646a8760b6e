// Package dashboard serves the local control surface: a REST API for
// commands and configuration, plus websocket streams for state,
// camera frames and LLM output.
package dashboard

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/riderlabs/go-rider/internal/config"
	"github.com/riderlabs/go-rider/pkg/broker"
	"github.com/riderlabs/go-rider/pkg/calibration"
	"github.com/riderlabs/go-rider/pkg/hub"
	"github.com/riderlabs/go-rider/pkg/llm"
	"github.com/riderlabs/go-rider/pkg/state"
)

// Server is the dashboard HTTP/websocket server.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	cfg     *config.Config
	store   *state.Store
	broker  *broker.Adapter
	session *llm.Session
	table   *calibration.Table

	stateHub  *hub.Hub
	cameraHub *hub.Hub
	llmHub    *hub.Hub

	refresh  time.Duration
	observer state.Handle
	stop     chan struct{}
	stopOnce sync.Once

	// Serializes config mutation + save from concurrent handlers.
	cfgMu sync.Mutex

	frameMu   sync.RWMutex
	lastFrame []byte
}

// NewServer wires the dashboard around the running subsystems.
func NewServer(cfg *config.Config, store *state.Store, brk *broker.Adapter, session *llm.Session, table *calibration.Table, logger *slog.Logger) *Server {
	s := &Server{
		addr:      cfg.DashboardAddr(),
		logger:    logger.With("component", "dashboard"),
		cfg:       cfg,
		store:     store,
		broker:    brk,
		session:   session,
		table:     table,
		stateHub:  hub.New("state", hub.JSONPolicy(), logger),
		cameraHub: hub.New("camera", hub.FramePolicy(), logger),
		llmHub:    hub.New("llm", hub.JSONPolicy(), logger),
		refresh:   cfg.RefreshInterval,
		stop:      make(chan struct{}),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Rider Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/state", s.handleState)
	api.Get("/config", s.handleConfig)
	api.Put("/config/broker", s.handleBrokerConfig)

	api.Post("/command/movement", s.handleMovement)
	api.Post("/command/settings", s.handleSettings)
	api.Post("/command/camera", s.handleCamera)
	api.Post("/command/system", s.handleSystem)
	api.Post("/move", s.handleCalibratedMove)
	api.Post("/battery/refresh", s.handleBatteryRefresh)

	api.Get("/calibration", s.handleCalibrationList)
	api.Put("/calibration", s.handleCalibrationUpdate)

	api.Get("/llm/status", s.handleLLMStatus)
	api.Get("/llm/models", s.handleLLMModels)
	api.Post("/llm/ask", s.handleLLMAsk)
	api.Post("/llm/cancel", s.handleLLMCancel)
	api.Post("/llm/settings", s.handleLLMSettings)
	api.Get("/llm/history", s.handleLLMHistory)
	api.Delete("/llm/history", s.handleLLMClearHistory)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/state", websocket.New(s.handleStateWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))
	app.Get("/ws/llm", websocket.New(s.handleLLMWS))

	s.app = app
	return s
}

// Start runs the hubs, the periodic re-broadcast loop and the HTTP
// listener. Blocks until Shutdown.
func (s *Server) Start() error {
	go s.stateHub.Run()
	go s.cameraHub.Run()
	go s.llmHub.Run()

	// Push on every state change; the ticker below covers derived
	// fields (controller staleness) that change without a mutation.
	s.observer = s.store.Register(func(snap state.Snapshot) {
		s.stateHub.BroadcastJSON(snap)
	})
	go s.refreshLoop()

	s.logger.Info("dashboard listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// StartAsync runs Start in a goroutine and logs any listen error.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("dashboard server stopped", slog.Any("error", err))
		}
	}()
}

func (s *Server) refreshLoop() {
	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.stateHub.ClientCount() > 0 {
				s.stateHub.BroadcastJSON(s.store.Snapshot())
			}
		case <-s.stop:
			return
		}
	}
}

// HandleFrame receives a camera frame from the broker: it becomes the
// current LLM image and is fanned out to camera websocket clients.
func (s *Server) HandleFrame(jpeg []byte) {
	s.frameMu.Lock()
	s.lastFrame = jpeg
	s.frameMu.Unlock()

	if s.session != nil {
		s.session.SetImage(jpeg)
	}
	s.cameraHub.BroadcastBinary(jpeg)
}

// LastFrame returns the most recent camera frame, or nil.
func (s *Server) LastFrame() []byte {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.lastFrame
}

// Shutdown stops the listener, the hubs and the refresh loop.
func (s *Server) Shutdown() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.store.Unregister(s.observer)
		s.stateHub.Stop()
		s.cameraHub.Stop()
		s.llmHub.Stop()
	})
	return s.app.Shutdown()
}
