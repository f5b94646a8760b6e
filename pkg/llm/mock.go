package llm

import (
	"context"
	"sync"
)

// Mock implements Provider for testing. Behavior is overridden via the
// function fields; calls are recorded for assertions.
type Mock struct {
	ModelsFunc   func(ctx context.Context) ([]string, error)
	GenerateFunc func(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
	StreamFunc   func(ctx context.Context, req *GenerateRequest) (Stream, error)
	HealthFunc   func(ctx context.Context) error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records one invocation of a mock method.
type MockCall struct {
	Method  string
	Request *GenerateRequest
}

// NewMock creates a mock with workable defaults: one installed model
// and an empty successful generation.
func NewMock() *Mock {
	return &Mock{
		ModelsFunc: func(ctx context.Context) ([]string, error) {
			return []string{"llava:7b"}, nil
		},
		GenerateFunc: func(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
			return &GenerateResponse{Content: "", Model: req.Model}, nil
		},
		StreamFunc: func(ctx context.Context, req *GenerateRequest) (Stream, error) {
			return NewMockStream(), nil
		},
		HealthFunc: func(ctx context.Context) error { return nil },
	}
}

// Models implements Provider.
func (m *Mock) Models(ctx context.Context) ([]string, error) {
	m.record("Models", nil)
	return m.ModelsFunc(ctx)
}

// Generate implements Provider.
func (m *Mock) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	m.record("Generate", req)
	return m.GenerateFunc(ctx, req)
}

// Stream implements Provider.
func (m *Mock) Stream(ctx context.Context, req *GenerateRequest) (Stream, error) {
	m.record("Stream", req)
	return m.StreamFunc(ctx, req)
}

// Health implements Provider.
func (m *Mock) Health(ctx context.Context) error {
	m.record("Health", nil)
	return m.HealthFunc(ctx)
}

// Close implements Provider.
func (m *Mock) Close() error { return nil }

// Calls returns a copy of the recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of recorded calls to method.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears the recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}

func (m *Mock) record(method string, req *GenerateRequest) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: method, Request: req})
	m.mu.Unlock()
}

// MockStream is a scripted Stream for tests. Chunks are queued up
// front or fed concurrently through Feed.
type MockStream struct {
	ch     chan *StreamChunk
	err    error
	mu     sync.Mutex
	closed bool
}

// NewMockStream creates an open mock stream.
func NewMockStream(chunks ...*StreamChunk) *MockStream {
	s := &MockStream{ch: make(chan *StreamChunk, 64)}
	for _, c := range chunks {
		s.ch <- c
	}
	return s
}

// TextStream builds a stream that yields each string as a delta and
// then a Done chunk.
func TextStream(parts ...string) *MockStream {
	chunks := make([]*StreamChunk, 0, len(parts)+1)
	for _, p := range parts {
		chunks = append(chunks, &StreamChunk{Delta: p})
	}
	chunks = append(chunks, &StreamChunk{Done: true})
	return NewMockStream(chunks...)
}

// Feed queues a chunk for a concurrent reader.
func (s *MockStream) Feed(c *StreamChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.ch <- c
	}
}

// Fail makes the next Recv after the queued chunks return err.
func (s *MockStream) Fail(err error) {
	s.mu.Lock()
	s.err = err
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
}

// Recv implements Stream.
func (s *MockStream) Recv() (*StreamChunk, error) {
	c, ok := <-s.ch
	if !ok {
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return &StreamChunk{Done: true}, nil
	}
	return c, nil
}

// Close implements Stream.
func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
var _ Stream = (*MockStream)(nil)
