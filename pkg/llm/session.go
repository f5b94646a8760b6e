package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// chunkBuffer bounds the per-generation delivery queue. The consumer
// drains it over a websocket; the producer never blocks the HTTP read
// loop on a slow consumer longer than cancellation allows.
const chunkBuffer = 64

// Canned prompts carried over from the onboard client.
const (
	PromptDescribeScene = "What do you see in this image? Describe the scene, objects, and any notable details."

	PromptNavigation = "Analyze this image from a robot's perspective. " +
		"Are there any obstacles, hazards, or navigation concerns? " +
		"What would be safe directions to move? " +
		"Describe the environment for robot navigation."

	PromptEnvironment = "Provide a detailed description of this environment. " +
		"What type of space is this? What objects and features do you see? " +
		"What is the lighting and overall condition like?"
)

// Chunk is one delivery on a generation channel. The final chunk has
// Done set; Cancelled and Err qualify how the generation ended.
type Chunk struct {
	RequestID string
	Delta     string
	Done      bool
	Cancelled bool
	Err       error
}

// TranscriptEntry is one message in the session conversation history.
type TranscriptEntry struct {
	Time    time.Time `json:"time"`
	Role    string    `json:"role"` // "user" or "assistant"
	Content string    `json:"content"`
	Model   string    `json:"model,omitempty"`
	Partial bool      `json:"partial,omitempty"` // cancelled mid-generation
}

// Status summarizes the session for the dashboard.
type Status struct {
	Enabled     bool     `json:"enabled"`
	Available   bool     `json:"available"`
	Busy        bool     `json:"busy"`
	Model       string   `json:"model"`
	Models      []string `json:"models"`
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
	HasImage    bool     `json:"has_image"`
}

// Session owns the current image, model selection and conversation
// history, and enforces the single-request policy: at most one
// generation is in flight, and starting a new one cancels the previous.
type Session struct {
	provider Provider
	logger   *slog.Logger
	enabled  bool

	mu          sync.Mutex
	model       string
	temperature float64
	maxTokens   int
	imageB64    string
	available   bool
	models      []string
	history     []TranscriptEntry
	current     *generation
}

type generation struct {
	id     string
	cancel context.CancelFunc
}

// NewSession creates a session around a provider. Model, temperature
// and max tokens seed from the provided values and may change at
// runtime.
func NewSession(provider Provider, model string, temperature float64, maxTokens int, enabled bool, logger *slog.Logger) *Session {
	return &Session{
		provider:    provider,
		logger:      logger.With("component", "llm.session"),
		enabled:     enabled,
		model:       model,
		temperature: clamp(temperature, MinTemperature, MaxTemperature),
		maxTokens:   clampInt(maxTokens, MinMaxTokens, MaxMaxTokens),
	}
}

// RefreshModels queries the server, records availability, and
// auto-selects a vision model when the configured one is absent.
// Vision-capable llava builds are preferred, llama3 variants first.
func (s *Session) RefreshModels(ctx context.Context) error {
	models, err := s.provider.Models(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.available = false
		return err
	}
	s.available = true
	s.models = models

	if contains(models, s.model) || len(models) == 0 {
		return nil
	}

	var vision []string
	for _, m := range models {
		if strings.Contains(strings.ToLower(m), "llava") {
			vision = append(vision, m)
		}
	}
	pick := ""
	for _, m := range vision {
		if strings.Contains(strings.ToLower(m), "llama3") {
			pick = m
			break
		}
	}
	if pick == "" && len(vision) > 0 {
		pick = vision[0]
	}
	if pick == "" {
		pick = models[0]
	}
	s.model = pick
	s.logger.Info("auto-selected model", "model", pick)
	return nil
}

// SetImage stores the current camera frame for vision requests.
func (s *Session) SetImage(jpeg []byte) {
	s.mu.Lock()
	s.imageB64 = base64.StdEncoding.EncodeToString(jpeg)
	s.mu.Unlock()
}

// SetModel selects a model; it must be present on the server.
func (s *Session) SetModel(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !contains(s.models, name) {
		return ErrNoModel
	}
	s.model = name
	return nil
}

// SetTemperature sets the sampling temperature, clamped to [0, 2].
func (s *Session) SetTemperature(t float64) {
	s.mu.Lock()
	s.temperature = clamp(t, MinTemperature, MaxTemperature)
	s.mu.Unlock()
}

// SetMaxTokens sets the response length limit, clamped to [50, 2000].
func (s *Session) SetMaxTokens(n int) {
	s.mu.Lock()
	s.maxTokens = clampInt(n, MinMaxTokens, MaxMaxTokens)
	s.mu.Unlock()
}

// Status returns a point-in-time summary for the dashboard.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	models := make([]string, len(s.models))
	copy(models, s.models)
	return Status{
		Enabled:     s.enabled,
		Available:   s.available,
		Busy:        s.current != nil,
		Model:       s.model,
		Models:      models,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		HasImage:    s.imageB64 != "",
	}
}

// History returns a copy of the conversation transcript.
func (s *Session) History() []TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TranscriptEntry, len(s.history))
	copy(out, s.history)
	return out
}

// ClearHistory drops the conversation transcript.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}

// Busy reports whether a generation is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Cancel stops the in-flight generation, if any.
func (s *Session) Cancel() {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur != nil {
		cur.cancel()
	}
}

// DescribeScene asks about the current camera frame.
func (s *Session) DescribeScene(ctx context.Context) (<-chan Chunk, string, error) {
	return s.Ask(ctx, PromptDescribeScene, true)
}

// CheckNavigation asks for obstacles and safe directions.
func (s *Session) CheckNavigation(ctx context.Context) (<-chan Chunk, string, error) {
	return s.Ask(ctx, PromptNavigation, true)
}

// DescribeEnvironment asks for a detailed environment description.
func (s *Session) DescribeEnvironment(ctx context.Context) (<-chan Chunk, string, error) {
	return s.Ask(ctx, PromptEnvironment, true)
}

// Ask starts a streamed generation and returns its chunk channel and
// request ID. A generation already in flight is cancelled first: its
// channel receives a terminal cancelled chunk and delivers nothing
// afterwards. The returned channel is closed after its terminal chunk.
func (s *Session) Ask(ctx context.Context, prompt string, useImage bool) (<-chan Chunk, string, error) {
	if !s.enabled {
		return nil, "", ErrDisabled
	}

	s.mu.Lock()
	if s.model == "" {
		s.mu.Unlock()
		return nil, "", ErrNoModel
	}
	image := ""
	if useImage {
		if s.imageB64 == "" {
			s.mu.Unlock()
			return nil, "", ErrNoImage
		}
		image = s.imageB64
	}

	// New request implicitly cancels the previous one.
	if s.current != nil {
		s.current.cancel()
	}

	genCtx, cancel := context.WithCancel(ctx)
	gen := &generation{id: uuid.NewString()[:8], cancel: cancel}
	s.current = gen

	req := &GenerateRequest{
		Model:       s.model,
		Prompt:      prompt,
		ImageB64:    image,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	}
	s.history = append(s.history, TranscriptEntry{
		Time: time.Now(), Role: "user", Content: prompt,
	})
	model := s.model
	s.mu.Unlock()

	ch := make(chan Chunk, chunkBuffer)
	go s.run(genCtx, gen, req, model, ch)
	return ch, gen.id, nil
}

// run streams one generation into its channel. It is the only place
// chunks are produced, so checking the context before every send is
// enough to guarantee nothing is delivered after cancellation.
func (s *Session) run(ctx context.Context, gen *generation, req *GenerateRequest, model string, ch chan<- Chunk) {
	defer close(ch)
	defer s.finish(gen)

	stream, err := s.provider.Stream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			s.deliverTerminal(gen, model, "", ch, Chunk{RequestID: gen.id, Done: true, Cancelled: true, Err: ErrCancelled})
			return
		}
		s.logger.Error("generation failed to start", slog.Any("error", err))
		s.deliverTerminal(gen, model, "", ch, Chunk{RequestID: gen.id, Done: true, Err: err})
		return
	}
	defer stream.Close()

	var full strings.Builder
	for {
		if ctx.Err() != nil {
			s.deliverTerminal(gen, model, full.String(), ch, Chunk{RequestID: gen.id, Done: true, Cancelled: true, Err: ErrCancelled})
			return
		}

		chunk, err := stream.Recv()
		// Re-check after the blocking read: a chunk that raced with
		// cancellation must not be delivered.
		if ctx.Err() != nil {
			s.deliverTerminal(gen, model, full.String(), ch, Chunk{RequestID: gen.id, Done: true, Cancelled: true, Err: ErrCancelled})
			return
		}
		if err != nil {
			s.logger.Error("stream read failed", slog.Any("error", err))
			s.deliverTerminal(gen, model, full.String(), ch, Chunk{RequestID: gen.id, Done: true, Err: err})
			return
		}

		if chunk.Delta != "" {
			full.WriteString(chunk.Delta)
			select {
			case ch <- Chunk{RequestID: gen.id, Delta: chunk.Delta}:
			case <-ctx.Done():
				s.deliverTerminal(gen, model, full.String(), ch, Chunk{RequestID: gen.id, Done: true, Cancelled: true, Err: ErrCancelled})
				return
			}
		}
		if chunk.Done {
			s.deliverTerminal(gen, model, full.String(), ch, Chunk{RequestID: gen.id, Done: true})
			return
		}
	}
}

// deliverTerminal records the transcript entry and pushes the terminal
// chunk without ever blocking indefinitely.
func (s *Session) deliverTerminal(gen *generation, model, content string, ch chan<- Chunk, terminal Chunk) {
	if content != "" || terminal.Err == nil {
		s.mu.Lock()
		s.history = append(s.history, TranscriptEntry{
			Time:    time.Now(),
			Role:    "assistant",
			Content: content,
			Model:   model,
			Partial: terminal.Cancelled,
		})
		s.mu.Unlock()
	}
	select {
	case ch <- terminal:
	default:
		// Consumer abandoned the channel; the close that follows is
		// still a valid end-of-stream signal.
	}
}

// finish clears the in-flight slot if it still belongs to gen.
func (s *Session) finish(gen *generation) {
	s.mu.Lock()
	if s.current == gen {
		s.current = nil
	}
	s.mu.Unlock()
	gen.cancel()
}

// IsCancelled reports whether err marks a cancelled generation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
