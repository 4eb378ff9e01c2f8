package inference

import (
	"context"
	"sync"
	"time"
)

// Fake is a scripted Backend for tests. Handler receives each request and
// returns the completion text; Latency simulates a slow model and respects
// context cancellation.
type Fake struct {
	mu      sync.Mutex
	calls   []*GenerateRequest
	Handler func(req *GenerateRequest) (string, error)
	Latency time.Duration
}

// Generate runs the scripted handler
func (f *Fake) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.Latency > 0 {
		select {
		case <-time.After(f.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, err := f.Handler(req)
	if err != nil {
		return nil, err
	}
	return &GenerateResponse{
		Text:             text,
		Model:            req.Model,
		PromptTokens:     len(req.Prompt) / 4,
		CompletionTokens: len(text) / 4,
	}, nil
}

// Health always succeeds
func (f *Fake) Health(_ context.Context) error {
	return nil
}

// Calls returns a copy of the requests seen so far
func (f *Fake) Calls() []*GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*GenerateRequest, len(f.calls))
	copy(out, f.calls)
	return out
}

var _ Backend = (*Fake)(nil)
