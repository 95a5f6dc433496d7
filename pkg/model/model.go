// Package model defines the generation client used by result synthesis.
package model

import "context"

// Message is one chat message sent to or returned by a generator.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// ChatRequest is a generation request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatResponse carries the generated text and token accounting.
type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage reports token consumption for one request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Generator produces a chat completion. Implementations wrap whatever
// generation backend the host app provides.
type Generator interface {
	Generate(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
