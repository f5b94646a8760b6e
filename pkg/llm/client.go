package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/riderlabs/go-rider/internal/httpc"
)

// Client talks to an Ollama server over HTTP.
type Client struct {
	baseURL string
	config  *Config
	http    *http.Client
	stream  *http.Client // no overall deadline; per-request context governs
	logger  *slog.Logger
}

// NewClient creates a new Ollama client.
func NewClient(opts ...Option) *Client {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		config:  cfg,
		http:    httpc.NewClient(cfg.Timeout),
		stream:  httpc.NewClient(0),
		logger:  cfg.Logger.With("component", "llm.client"),
	}
}

// Health checks server reachability via the tags endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.get(ctx, "/api/tags")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseError(resp)
	}
	return nil
}

// Models lists the model names installed on the server.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	resp, err := c.get(ctx, "/api/tags")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("llm: decode tags: %w", err)
	}

	models := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		if m.Name != "" {
			models = append(models, m.Name)
		}
	}
	return models, nil
}

// Generate produces a complete response in one call.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	start := time.Now()

	payload := c.buildPayload(req, false)
	resp, err := c.post(ctx, "/api/generate", payload, c.http)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}

	return &GenerateResponse{
		Content:   result.Response,
		Model:     result.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Stream produces the response incrementally as NDJSON chunks.
func (c *Client) Stream(ctx context.Context, req *GenerateRequest) (Stream, error) {
	streamCtx := ctx
	var cancel context.CancelFunc
	if c.config.StreamTimeout > 0 {
		streamCtx, cancel = context.WithTimeout(ctx, c.config.StreamTimeout)
	}

	payload := c.buildPayload(req, true)
	resp, err := c.post(streamCtx, "/api/generate", payload, c.stream)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		if cancel != nil {
			cancel()
		}
		return nil, c.parseError(resp)
	}

	return &clientStream{
		decoder: json.NewDecoder(resp.Body),
		body:    resp.Body,
		cancel:  cancel,
	}, nil
}

// Close releases resources.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	c.stream.CloseIdleConnections()
	return nil
}

// buildPayload constructs the Ollama generate request body.
func (c *Client) buildPayload(req *GenerateRequest, stream bool) map[string]any {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	temp := req.Temperature
	if temp == 0 {
		temp = c.config.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}

	payload := map[string]any{
		"model":  model,
		"prompt": req.Prompt,
		"stream": stream,
		"options": map[string]any{
			"temperature": temp,
			"num_predict": maxTokens,
		},
	}
	if req.ImageB64 != "" {
		payload["images"] = []string{req.ImageB64}
	}
	return payload
}

func (c *Client) post(ctx context.Context, path string, payload any, client *http.Client) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	return c.http.Do(req)
}

// parseError reads an error response body.
func (c *Client) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		message = errResp.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

// clientStream implements Stream over Ollama's NDJSON response body.
type clientStream struct {
	decoder *json.Decoder
	body    io.ReadCloser
	cancel  context.CancelFunc
	done    bool
}

// Recv returns the next stream chunk.
func (s *clientStream) Recv() (*StreamChunk, error) {
	if s.done {
		return &StreamChunk{Done: true}, nil
	}

	var event generateResponse
	if err := s.decoder.Decode(&event); err != nil {
		if err == io.EOF {
			s.done = true
			return &StreamChunk{Done: true}, nil
		}
		return nil, fmt.Errorf("llm: read stream: %w", err)
	}

	if event.Done {
		s.done = true
	}
	return &StreamChunk{Delta: event.Response, Done: event.Done}, nil
}

// Close stops the stream.
func (s *clientStream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.body.Close()
}

// Ollama API response types
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Verify Client implements Provider at compile time.
var _ Provider = (*Client)(nil)
