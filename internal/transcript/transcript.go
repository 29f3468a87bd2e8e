// Package transcript holds the ordered chat transcript and rebuilds it from
// day-grouped server history.
package transcript

import (
	"sync"
	"time"

	"lexilearn.com/tutor/internal/analysis"
	"lexilearn.com/tutor/internal/compose"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSeparator Role = "separator"
)

// Attachment references an uploaded image.
type Attachment struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	URL      string `json:"url,omitempty"`
}

// Message is one rendered turn. Messages are not modified once appended.
type Message struct {
	ID         int64             `json:"id"`
	Role       Role              `json:"role"`
	Body       string            `json:"body"`
	CreatedAt  time.Time         `json:"created_at"`
	Attachment *Attachment       `json:"attachment,omitempty"`
	Analysis   *analysis.Result  `json:"analysis,omitempty"`
	Feedback   *compose.Feedback `json:"feedback,omitempty"`
}

const greetingText = "Hello! I'm here to help you with your learning journey. What would you like to work on today?"

// Greeting is the assistant message shown at the start of a conversation.
func Greeting(now time.Time) Message {
	return Message{Role: RoleAssistant, Body: greetingText, CreatedAt: now}
}

// Separator marks the start of a new conversation inside one transcript.
func Separator(now time.Time) Message {
	return Message{Role: RoleSeparator, Body: "New conversation · " + now.Format("Jan 2, 3:04 PM"), CreatedAt: now}
}

// Transcript is an append-only message list with monotonic ids.
type Transcript struct {
	mu     sync.RWMutex
	msgs   []Message
	nextID int64
}

func New(initial ...Message) *Transcript {
	t := &Transcript{}
	for _, m := range initial {
		t.Append(m)
	}
	return t
}

// Append assigns the next id to m and stores it.
func (t *Transcript) Append(m Message) Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	m.ID = t.nextID
	t.msgs = append(t.msgs, m)
	return m
}

func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Message(nil), t.msgs...)
}

// Last returns up to n of the most recent messages.
func (t *Transcript) Last(n int) []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n > len(t.msgs) {
		n = len(t.msgs)
	}
	return append([]Message(nil), t.msgs[len(t.msgs)-n:]...)
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}

// Reset clears the screen. Ids keep increasing after a reset.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = nil
}

// Replace swaps the contents for msgs, renumbering them from the current id.
func (t *Transcript) Replace(msgs []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = make([]Message, 0, len(msgs))
	for _, m := range msgs {
		t.nextID++
		m.ID = t.nextID
		t.msgs = append(t.msgs, m)
	}
}
