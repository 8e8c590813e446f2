package memory

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WorkingMemory is C2: a bounded, ordered sequence of role-tagged messages
// with approximate (whitespace-split) token accounting and FIFO eviction.
// Per spec §5, it is single-writer by convention — callers must serialise
// updates per conversation; WorkingMemory itself only guards against
// concurrent reads racing a write.
type WorkingMemory struct {
	mu        sync.Mutex
	maxTokens int
	messages  []Message
	nowFunc   func() time.Time
}

// NewWorkingMemory builds a WorkingMemory with the given soft token
// ceiling.
func NewWorkingMemory(maxTokens int, now func() time.Time) *WorkingMemory {
	if now == nil {
		now = time.Now
	}
	return &WorkingMemory{maxTokens: maxTokens, nowFunc: now}
}

// approxTokens is the approximate (whitespace-split) token count named in
// spec §4.2.
func approxTokens(s string) int {
	return len(strings.Fields(s))
}

func (w *WorkingMemory) tokenCount() int {
	total := 0
	for _, m := range w.messages {
		total += approxTokens(m.Content)
	}
	return total
}

// Add appends a message, then — if the cap is exceeded — drops the oldest
// messages one at a time until the count is back at or below 80% of
// max_tokens. The cap is a soft ceiling: the triggering insertion is always
// accepted first (TESTABLE PROPERTY 3).
func (w *WorkingMemory) Add(role Role, content string) Message {
	w.mu.Lock()
	defer w.mu.Unlock()

	msg := Message{ID: uuid.NewString(), Role: role, Content: content, Timestamp: w.nowFunc()}
	w.messages = append(w.messages, msg)

	if w.tokenCount() > w.maxTokens {
		target := int(0.8 * float64(w.maxTokens))
		for len(w.messages) > 0 && w.tokenCount() > target {
			w.messages = w.messages[1:]
		}
	}
	return msg
}

// GetMessages returns a snapshot of the current messages in order.
func (w *WorkingMemory) GetMessages() []Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// RemoveOldest removes and returns the n oldest messages (n clamped to the
// current length), used by the orchestrator's page_out_oldest.
func (w *WorkingMemory) RemoveOldest(n int) []Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n > len(w.messages) {
		n = len(w.messages)
	}
	if n <= 0 {
		return nil
	}
	removed := make([]Message, n)
	copy(removed, w.messages[:n])
	w.messages = w.messages[n:]
	return removed
}

// Clear empties Working Memory, used after end_conversation.
func (w *WorkingMemory) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = nil
}

// IsFull reports whether the token count has reached the paging trigger
// (≥ 80% of max_tokens), per spec §4.2/§4.7.
func (w *WorkingMemory) IsFull() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return float64(w.tokenCount()) >= 0.8*float64(w.maxTokens)
}

// TokenCount exposes the current approximate token count, mainly for
// Orchestrator.Stats() and tests.
func (w *WorkingMemory) TokenCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tokenCount()
}

// Len reports the number of messages currently held.
func (w *WorkingMemory) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.messages)
}

// ExportJSON renders the current messages as a JSON array.
func (w *WorkingMemory) ExportJSON() ([]byte, error) {
	return json.Marshal(w.GetMessages())
}

// ExportMarkdown renders the current messages as a simple "**role:**
// content" markdown transcript.
func (w *WorkingMemory) ExportMarkdown() string {
	msgs := w.GetMessages()
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString("**")
		b.WriteString(string(m.Role))
		b.WriteString(":** ")
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}
