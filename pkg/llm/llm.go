// Package llm provides the vision-language client for scene
// description. It talks to a local Ollama server over HTTP and exposes
// single-shot and streaming generation behind a Provider interface so
// the rest of the client never depends on the concrete transport.
//
// Example usage:
//
//	client, _ := llm.NewClient(
//	    llm.WithBaseURL("http://localhost:11434"),
//	    llm.WithModel("llava:7b"),
//	)
//	defer client.Close()
//
//	stream, _ := client.Stream(ctx, &llm.GenerateRequest{
//	    Prompt:   "What do you see?",
//	    ImageB64: frame,
//	})
package llm

import "context"

// Provider is the inference interface for the Ollama server.
type Provider interface {
	// Models lists the model names available on the server.
	Models(ctx context.Context) ([]string, error)

	// Generate produces a complete response in one call.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

	// Stream produces the response incrementally.
	Stream(ctx context.Context, req *GenerateRequest) (Stream, error)

	// Health checks server reachability.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Stream is a sequence of response chunks terminated by Done.
type Stream interface {
	// Recv returns the next chunk. After a chunk with Done set, no
	// further chunks follow.
	Recv() (*StreamChunk, error)

	// Close stops the stream and releases resources.
	Close() error
}

// StreamChunk is a piece of a streaming response.
type StreamChunk struct {
	// Delta is the incremental text content.
	Delta string

	// Done is true when the stream is complete.
	Done bool
}

// GenerateRequest describes one generation call.
type GenerateRequest struct {
	// Model overrides the configured default model.
	Model string

	// Prompt is the user's text prompt.
	Prompt string

	// ImageB64 is an optional base64-encoded JPEG for vision models.
	ImageB64 string

	// Temperature controls randomness (0.0-2.0); 0 uses the default.
	Temperature float64

	// MaxTokens limits the response length; 0 uses the default.
	MaxTokens int
}

// GenerateResponse is a complete generation result.
type GenerateResponse struct {
	// Content is the generated text.
	Content string

	// Model that produced the response.
	Model string

	// LatencyMs is the round-trip time in milliseconds.
	LatencyMs int64
}
