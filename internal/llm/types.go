package llm

import (
	"context"
	"strings"
)

type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// StreamResponse is one chunk of a streamed completion. The last value sent
// has Done or Error set.
type StreamResponse struct {
	Content string
	Done    bool
	Error   error
}

type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

type Provider interface {
	StreamChat(ctx context.Context, req Request) (<-chan StreamResponse, error)
	Chat(ctx context.Context, req Request) (string, error)
	Name() string
}

type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// Collect drains a stream into one string, handing every chunk to onChunk
// as it arrives.
func Collect(stream <-chan StreamResponse, onChunk func(string)) (string, error) {
	var b strings.Builder
	for r := range stream {
		if r.Error != nil {
			return b.String(), r.Error
		}
		if r.Content != "" {
			b.WriteString(r.Content)
			if onChunk != nil {
				onChunk(r.Content)
			}
		}
		if r.Done {
			break
		}
	}
	return b.String(), nil
}
