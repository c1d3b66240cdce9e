package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/aixgo-dev/agora/memory"
	"github.com/aixgo-dev/agora/tool"
)

// State describes what an agent is currently doing.
type State string

const (
	StateIdle    State = "idle"
	StateWorking State = "working"
	// StateWaiting is reserved for future coordination features; no
	// operation currently transitions into it.
	StateWaiting State = "waiting"
	StateError   State = "error"
)

// ErrNoBus is returned when a send is attempted on an agent that has not
// been attached to a message bus.
var ErrNoBus = errors.New("not attached to a message bus")

// TaskFunc executes a task description and returns its result.
// Agents acquire task capability by being constructed with one.
type TaskFunc func(ctx context.Context, task string) (string, error)

// HandlerFunc processes an incoming message and returns an optional
// response. An empty response means no reply is sent.
type HandlerFunc func(ctx context.Context, msg *Message) (string, error)

// Agent is a named participant on a message bus. It carries an inbox of
// received messages, a tiered memory, a tool registry, and optional task
// and handler capabilities chosen at construction.
//
// Agent is safe for concurrent use.
type Agent struct {
	id          string
	name        string
	role        string
	description string

	mu    sync.Mutex
	state State
	inbox []*Message

	memory  *memory.Memory
	tools   *tool.Registry
	bus     *MessageBus
	task    TaskFunc
	handler HandlerFunc
}

// Option configures an Agent at construction time.
type Option func(*Agent)

// WithDescription sets a human-readable description.
func WithDescription(desc string) Option {
	return func(a *Agent) { a.description = desc }
}

// WithBus attaches the agent to a bus and registers it there.
func WithBus(b *MessageBus) Option {
	return func(a *Agent) {
		a.bus = b
		b.Register(a)
	}
}

// WithTaskFunc gives the agent task-execution capability.
func WithTaskFunc(f TaskFunc) Option {
	return func(a *Agent) { a.task = f }
}

// WithHandlerFunc replaces the default message handler.
func WithHandlerFunc(f HandlerFunc) Option {
	return func(a *Agent) { a.handler = f }
}

// WithMemory replaces the agent's memory store.
func WithMemory(m *memory.Memory) Option {
	return func(a *Agent) { a.memory = m }
}

// WithTools replaces the agent's tool registry.
func WithTools(reg *tool.Registry) Option {
	return func(a *Agent) { a.tools = reg }
}

// New creates an idle agent with the given name and role.
func New(name, role string, opts ...Option) *Agent {
	a := &Agent{
		id:    newID(),
		name:  name,
		role:  role,
		state: StateIdle,
	}
	// Memory and tools exist before any option runs: WithBus registers on
	// a possibly live bus, and a delivery may land immediately.
	a.memory = memory.New(a.id)
	a.tools = tool.NewRegistry()
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ID returns the generated short identifier.
func (a *Agent) ID() string { return a.id }

// Name returns the agent's name, which is its address on the bus.
func (a *Agent) Name() string { return a.name }

// Role returns the agent's role.
func (a *Agent) Role() string { return a.role }

// Description returns the agent's description.
func (a *Agent) Description() string { return a.description }

// Memory returns the agent's memory store.
func (a *Agent) Memory() *memory.Memory { return a.memory }

// Tools returns the agent's tool registry.
func (a *Agent) Tools() *tool.Registry { return a.tools }

// Bus returns the attached bus, or nil when detached.
func (a *Agent) Bus() *MessageBus { return a.bus }

// State returns the agent's current state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// AttachBus points the agent at a bus without registering it. Callers that
// manage registration themselves (such as an orchestrator) use this.
func (a *Agent) AttachBus(b *MessageBus) {
	a.bus = b
}

// Receive appends a message to the inbox and records it in memory.
// It implements Recipient and is called by the bus during delivery.
func (a *Agent) Receive(msg *Message) {
	a.mu.Lock()
	a.inbox = append(a.inbox, msg)
	a.mu.Unlock()
	a.memory.AddMessage(msg.Content, msg.Sender, msg.Receiver)
}

// InboxLen returns the number of unprocessed messages.
func (a *Agent) InboxLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inbox)
}

// SendTo sends content to the named agent. The send is recorded in local
// memory whether or not the receiver exists; an unknown receiver is a
// routing outcome the bus logs, not an error. ErrNoBus is returned when
// the agent is detached.
func (a *Agent) SendTo(receiver, content string, msgType MessageType) error {
	if a.bus == nil {
		return fmt.Errorf("agent %s: %w", a.name, ErrNoBus)
	}
	msg := NewMessage(a.name, receiver, content, msgType)
	a.bus.Send(msg)
	a.memory.AddMessage(content, a.name, receiver)
	return nil
}

// Broadcast sends content to every other agent on the bus.
func (a *Agent) Broadcast(content string, msgType MessageType) error {
	if a.bus == nil {
		return fmt.Errorf("agent %s: %w", a.name, ErrNoBus)
	}
	a.bus.Broadcast(NewMessage(a.name, Everyone, content, msgType))
	return nil
}

// ProcessInbox drains the inbox in FIFO order, running the handler on each
// message and replying to the sender whenever the handler returns a
// non-empty response. Messages that arrive while draining, including
// replies routed back to this agent, are processed in the same call. The
// drained messages are returned.
func (a *Agent) ProcessInbox(ctx context.Context) []*Message {
	var processed []*Message
	for {
		a.mu.Lock()
		if len(a.inbox) == 0 {
			a.mu.Unlock()
			return processed
		}
		msg := a.inbox[0]
		a.inbox = a.inbox[1:]
		a.mu.Unlock()

		response, err := a.handleMessage(ctx, msg)
		if err != nil {
			log.Printf("[Agent] WARNING: %s handler failed on message %s: %v", a.name, msg.ID, err)
		} else if response != "" {
			if err := a.SendTo(msg.Sender, response, TypeText); err != nil {
				log.Printf("[Agent] WARNING: %s could not reply to %s: %v", a.name, msg.Sender, err)
			}
		}
		processed = append(processed, msg)
	}
}

func (a *Agent) handleMessage(ctx context.Context, msg *Message) (string, error) {
	if a.handler != nil {
		return a.handler(ctx, msg)
	}
	return fmt.Sprintf("[%s] received: %s", a.name, msg.Content), nil
}

// ExecuteTask runs the agent's task function. The agent transitions to
// working for the duration, then back to idle on success. On failure the
// agent is left in the error state and the error is returned to the
// caller; there is no retry. A subsequent call re-enters working
// regardless of the previous outcome.
func (a *Agent) ExecuteTask(ctx context.Context, task string) (string, error) {
	a.setState(StateWorking)
	log.Printf("[Agent] %s starting task: %s", a.name, truncate(task, 50))

	if a.task == nil {
		a.setState(StateError)
		return "", fmt.Errorf("agent %s has no task executor", a.name)
	}

	result, err := a.task(ctx, task)
	if err != nil {
		a.setState(StateError)
		log.Printf("[Agent] %s task failed: %v", a.name, err)
		return "", fmt.Errorf("agent %s: %w", a.name, err)
	}

	a.setState(StateIdle)
	a.memory.Add(result, memory.TypeTask, map[string]any{"task": task})
	return result, nil
}

// RegisterTool adds a tool to the agent's registry.
func (a *Agent) RegisterTool(t tool.Tool) {
	a.tools.Register(t)
}
