package run

import "time"

// MessageStatus enumerates the message lifecycle states.
type MessageStatus string

const (
	MessageInProgress MessageStatus = "in_progress"
	MessageCompleted  MessageStatus = "completed"
	// MessageIncomplete marks a message whose run terminated before the
	// message finished streaming.
	MessageIncomplete MessageStatus = "incomplete"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is an assistant or user message on a thread. Assistant messages are
// created in progress by the worker as deltas stream and completed when the
// engine finishes the message.
type Message struct {
	ID       string
	ThreadID string
	RunID    string

	Role    Role
	Content string
	Status  MessageStatus

	CreatedAt   time.Time
	CompletedAt time.Time

	now func() time.Time
}

// NewMessage builds an in-progress assistant message for the given run.
func NewMessage(r *Run) *Message {
	clock := r.now
	if clock == nil {
		clock = time.Now
	}
	return &Message{
		ID:        NewID("msg"),
		ThreadID:  r.ThreadID,
		RunID:     r.ID,
		Role:      RoleAssistant,
		Status:    MessageInProgress,
		CreatedAt: clock().UTC(),
		now:       clock,
	}
}

func (m *Message) clock() time.Time {
	if m.now == nil {
		return time.Now().UTC()
	}
	return m.now().UTC()
}

// Append accumulates streamed delta text.
func (m *Message) Append(text string) {
	m.Content += text
}

// Complete marks the message finished.
func (m *Message) Complete() {
	m.Status = MessageCompleted
	m.CompletedAt = m.clock()
}

// MarkIncomplete marks a message cut short by run termination.
func (m *Message) MarkIncomplete() {
	m.Status = MessageIncomplete
	m.CompletedAt = m.clock()
}
