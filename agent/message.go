package agent

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of traffic a message carries.
// Agents use it to decide how to process what they receive.
type MessageType string

const (
	// TypeText is plain conversational content.
	TypeText MessageType = "text"
	// TypeTask asks the receiver to perform work.
	TypeTask MessageType = "task"
	// TypeResult carries the outcome of a task.
	TypeResult MessageType = "result"
	// TypeControl is reserved for coordination traffic.
	TypeControl MessageType = "control"
)

// Everyone is the reserved receiver name that addresses a message to all
// registered agents. No agent may register under this name.
const Everyone = "all"

// Message is the envelope exchanged between agents over a MessageBus.
// Messages are passed by reference and treated as immutable after
// construction; use Clone before mutating a delivered message.
type Message struct {
	// ID is a short unique identifier, automatically generated.
	ID string `json:"id"`

	// Sender is the name of the originating agent.
	Sender string `json:"sender"`

	// Receiver is the name of the destination agent, or Everyone for a
	// broadcast.
	Receiver string `json:"receiver"`

	// Content is the message body.
	Content string `json:"content"`

	// Type classifies the message (text, task, result, control).
	Type MessageType `json:"type"`

	// Metadata contains optional key-value pairs for correlation and
	// routing hints.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Timestamp records when the message was created, in UTC.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message from sender to receiver.
// A unique ID and a UTC timestamp are generated automatically.
func NewMessage(sender, receiver, content string, msgType MessageType) *Message {
	return &Message{
		ID:        newID(),
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		Type:      msgType,
		Metadata:  make(map[string]any),
		Timestamp: time.Now().UTC(),
	}
}

// WithMetadata adds a metadata entry and returns the message for chaining:
//
//	msg := NewMessage("a", "b", "hello", TypeText).
//	    WithMetadata("priority", "high")
func (m *Message) WithMetadata(key string, value any) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = value
	return m
}

// Clone creates a deep copy of the message.
func (m *Message) Clone() *Message {
	clone := *m
	clone.Metadata = make(map[string]any, len(m.Metadata))
	for k, v := range m.Metadata {
		clone.Metadata[k] = v
	}
	return &clone
}

// String returns a human-readable form for logging and debugging.
func (m *Message) String() string {
	return fmt.Sprintf("Message{ID:%s, %s->%s, Type:%s, Content:%q}",
		m.ID, m.Sender, m.Receiver, m.Type, truncate(m.Content, 50))
}

// newID returns a short unique identifier in the style used for messages,
// agents and tasks throughout the framework.
func newID() string {
	return uuid.New().String()[:8]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
