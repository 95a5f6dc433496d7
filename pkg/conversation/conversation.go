// Package conversation provides read access to recent turn history for
// intent analysis and response synthesis.
package conversation

import (
	"sync"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior turn of the conversation.
type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// History hands out the most recent messages, newest last. Implementations
// decide retention and must be safe for concurrent use; turns running on
// separate goroutines share one history.
type History interface {
	Recent(n int) []Message
}

// Memory is an in-process history with a fixed retention window. It is
// safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	max      int
	messages []Message
}

// NewMemory returns a history that keeps at most max messages.
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = 50
	}
	return &Memory{max: max}
}

// Append records a message, evicting the oldest once past retention.
func (m *Memory) Append(role Role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{Role: role, Content: content, At: time.Now()})
	if len(m.messages) > m.max {
		m.messages = m.messages[len(m.messages)-m.max:]
	}
}

// Recent returns up to n most recent messages, oldest first.
func (m *Memory) Recent(n int) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || len(m.messages) == 0 {
		return nil
	}
	if n > len(m.messages) {
		n = len(m.messages)
	}
	out := make([]Message, n)
	copy(out, m.messages[len(m.messages)-n:])
	return out
}
