package agent

import (
	"log"
	"sync"

	metrics "github.com/aixgo-dev/agora/pkg/observability"
)

// Recipient is the minimal interface the bus needs to deliver a message.
// *Agent implements it; tests and adapters can provide their own.
type Recipient interface {
	Name() string
	Receive(msg *Message)
}

// Hook observes every message that passes through a bus. Hooks run
// synchronously after the message is recorded and before it is delivered.
type Hook func(msg *Message)

// MessageBus routes messages between registered agents in a single process.
// Delivery is synchronous: Send and Broadcast invoke the recipients'
// Receive methods before returning.
//
// MessageBus is safe for concurrent use.
type MessageBus struct {
	mu           sync.RWMutex
	agents       map[string]Recipient
	order        []string // registration order, drives broadcast iteration
	history      []*Message
	historyLimit int
	hooks        []Hook
}

// BusOption configures a MessageBus.
type BusOption func(*MessageBus)

// WithHistoryLimit bounds the message history to the most recent n entries.
// A limit of 0 keeps the full history, which is the default.
func WithHistoryLimit(n int) BusOption {
	return func(b *MessageBus) {
		if n > 0 {
			b.historyLimit = n
		}
	}
}

// NewMessageBus creates an empty bus.
func NewMessageBus(opts ...BusOption) *MessageBus {
	b := &MessageBus{
		agents: make(map[string]Recipient),
		order:  make([]string, 0),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds a recipient under its name. Registering a name that is
// already taken replaces the previous recipient; the newcomer keeps the
// original's position in broadcast order.
func (b *MessageBus) Register(r Recipient) {
	name := r.Name()
	if name == Everyone {
		log.Printf("[MessageBus] WARNING: refusing to register reserved name %q", Everyone)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.agents[name]; exists {
		log.Printf("[MessageBus] WARNING: replacing existing registration for agent %s", name)
	} else {
		b.order = append(b.order, name)
	}
	b.agents[name] = r
}

// Unregister removes a recipient by name. Unknown names are ignored.
func (b *MessageBus) Unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.agents[name]; !exists {
		return
	}
	delete(b.agents, name)
	for i, n := range b.order {
		if n == name {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	log.Printf("[MessageBus] Agent %s unregistered", name)
}

// Get retrieves a registered recipient by name.
func (b *MessageBus) Get(name string) (Recipient, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.agents[name]
	return r, ok
}

// Agents returns the registered names in registration order.
func (b *MessageBus) Agents() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, len(b.order))
	copy(names, b.order)
	return names
}

// AddHook attaches an observer that sees every message recorded by the bus.
// A hook that panics is isolated and logged; it never blocks delivery.
func (b *MessageBus) AddHook(h Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = append(b.hooks, h)
}

// Send records the message, notifies hooks, and delivers it to the named
// receiver. It reports whether delivery happened: an unknown receiver is
// logged and recorded in history but is not an error.
func (b *MessageBus) Send(msg *Message) bool {
	hooks := b.record(msg)
	b.runHooks(hooks, msg)

	b.mu.RLock()
	r, ok := b.agents[msg.Receiver]
	b.mu.RUnlock()

	if !ok {
		log.Printf("[MessageBus] WARNING: receiver %s not found for message %s", msg.Receiver, msg.ID)
		return false
	}
	r.Receive(msg)
	return true
}

// Broadcast records the message, notifies hooks, and delivers it to every
// registered recipient except the sender, in registration order.
func (b *MessageBus) Broadcast(msg *Message) {
	hooks := b.record(msg)
	b.runHooks(hooks, msg)

	b.mu.RLock()
	recipients := make([]Recipient, 0, len(b.order))
	for _, name := range b.order {
		if name == msg.Sender {
			continue
		}
		recipients = append(recipients, b.agents[name])
	}
	b.mu.RUnlock()

	for _, r := range recipients {
		r.Receive(msg)
	}
}

// record appends the message to history under the write lock and returns a
// snapshot of the hooks so they can run without holding it.
func (b *MessageBus) record(msg *Message) []Hook {
	metrics.RecordBusMessage(string(msg.Type))

	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, msg)
	if b.historyLimit > 0 && len(b.history) > b.historyLimit {
		b.history = b.history[len(b.history)-b.historyLimit:]
	}
	hooks := make([]Hook, len(b.hooks))
	copy(hooks, b.hooks)
	return hooks
}

func (b *MessageBus) runHooks(hooks []Hook, msg *Message) {
	for _, h := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[MessageBus] WARNING: hook panic on message %s: %v", msg.ID, r)
				}
			}()
			h(msg)
		}()
	}
}

// History returns a copy of the recorded messages, oldest first.
func (b *MessageBus) History() []*Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Message, len(b.history))
	copy(out, b.history)
	return out
}

// HistoryFor returns the recorded messages sent or received by name.
func (b *MessageBus) HistoryFor(name string) []*Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*Message
	for _, msg := range b.history {
		if msg.Sender == name || msg.Receiver == name {
			out = append(out, msg)
		}
	}
	return out
}

// HistoryLen returns the number of recorded messages.
func (b *MessageBus) HistoryLen() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history)
}

// ClearHistory discards all recorded messages. Registrations and hooks are
// unaffected.
func (b *MessageBus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
}
