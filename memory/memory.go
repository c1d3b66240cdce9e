// Package memory provides the two storage surfaces agents use: a per-agent
// tiered memory and a shared key-value store with change history.
package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// EntryType classifies what a memory entry records.
type EntryType string

const (
	TypeGeneral     EntryType = "general"
	TypeMessage     EntryType = "message"
	TypeTask        EntryType = "task"
	TypeObservation EntryType = "observation"
)

// Entry is a single remembered item.
type Entry struct {
	Content   any
	Type      EntryType
	Metadata  map[string]any
	Timestamp time.Time
}

// Memory is a two-tier store. Recent entries live in a bounded short-term
// tier; when it overflows, the oldest entries spill into the unbounded
// long-term tier instead of being lost.
//
// Memory is safe for concurrent use.
type Memory struct {
	agentID string
	max     int

	mu        sync.RWMutex
	shortTerm []Entry
	longTerm  []Entry
}

// Option configures a Memory.
type Option func(*Memory)

// WithMaxShortTerm sets the short-term capacity. The default is 100.
func WithMaxShortTerm(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.max = n
		}
	}
}

// New creates a memory store owned by the given agent ID.
func New(agentID string, opts ...Option) *Memory {
	m := &Memory{
		agentID: agentID,
		max:     100,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AgentID returns the owning agent's identifier.
func (m *Memory) AgentID() string { return m.agentID }

// Add records content in short-term memory. When the short-term tier is
// full, the oldest entries move to long-term so that short-term never
// exceeds its bound.
func (m *Memory) Add(content any, entryType EntryType, metadata map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shortTerm = append(m.shortTerm, Entry{
		Content:   content,
		Type:      entryType,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	})
	for len(m.shortTerm) > m.max {
		m.longTerm = append(m.longTerm, m.shortTerm[0])
		m.shortTerm = m.shortTerm[1:]
	}
}

// AddMessage records message content exchanged with another agent.
func (m *Memory) AddMessage(content any, sender, receiver string) {
	m.Add(content, TypeMessage, map[string]any{
		"sender":   sender,
		"receiver": receiver,
	})
}

// AddObservation records something the agent noticed.
func (m *Memory) AddObservation(observation string) {
	m.Add(observation, TypeObservation, nil)
}

// Recent returns the newest n short-term entries, oldest first.
// Non-positive n defaults to 10.
func (m *Memory) Recent(n int) []Entry {
	if n <= 0 {
		n = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := len(m.shortTerm) - n
	if start < 0 {
		start = 0
	}
	out := make([]Entry, len(m.shortTerm)-start)
	copy(out, m.shortTerm[start:])
	return out
}

// Search returns entries from both tiers whose content contains the query,
// compared case-insensitively. Short-term matches come first.
func (m *Memory) Search(query string) []Entry {
	q := strings.ToLower(query)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, tier := range [][]Entry{m.shortTerm, m.longTerm} {
		for _, e := range tier {
			if strings.Contains(strings.ToLower(entryText(e.Content)), q) {
				out = append(out, e)
			}
		}
	}
	return out
}

// ShortTermLen returns the current short-term entry count.
func (m *Memory) ShortTermLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.shortTerm)
}

// LongTermLen returns the current long-term entry count.
func (m *Memory) LongTermLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.longTerm)
}

// ClearShortTerm discards the short-term tier. Long-term is untouched.
func (m *Memory) ClearShortTerm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shortTerm = nil
}

// EntrySummary is a compact, serializable view of an entry.
type EntrySummary struct {
	Content   string    `json:"content"`
	Type      EntryType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary is a serializable snapshot of a memory store, suitable for
// inspection over an API.
type Summary struct {
	AgentID       string         `json:"agent_id"`
	ShortTerm     []EntrySummary `json:"short_term"`
	LongTermCount int            `json:"long_term_count"`
}

// Summary returns a snapshot with entry content trimmed to 100 characters.
func (m *Memory) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{
		AgentID:       m.agentID,
		ShortTerm:     make([]EntrySummary, 0, len(m.shortTerm)),
		LongTermCount: len(m.longTerm),
	}
	for _, e := range m.shortTerm {
		text := entryText(e.Content)
		if len(text) > 100 {
			text = text[:100]
		}
		s.ShortTerm = append(s.ShortTerm, EntrySummary{
			Content:   text,
			Type:      e.Type,
			Timestamp: e.Timestamp,
		})
	}
	return s
}

func entryText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
