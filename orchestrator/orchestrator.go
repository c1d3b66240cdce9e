// Package orchestrator coordinates task dispatch across a set of agents.
// It owns a message bus that registered agents share, picks agents by
// strategy for single tasks, and fans batches out in parallel or in
// sequence.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/aixgo-dev/agora/agent"
	"github.com/aixgo-dev/agora/internal/observability"
	metrics "github.com/aixgo-dev/agora/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Strategy selects how Run picks agents for a task.
type Strategy string

const (
	// StrategyAuto assigns the task to the first idle agent.
	StrategyAuto Strategy = "auto"
	// StrategyRoundRobin rotates assignment across agents in the order
	// they were added.
	StrategyRoundRobin Strategy = "round_robin"
	// StrategyBroadcast hands the task to every agent and collects all
	// outputs.
	StrategyBroadcast Strategy = "broadcast"
)

// RunResult is the outcome of a single Run dispatch. Agent and Output are
// set for auto and round_robin; Outputs holds the per-agent results of a
// broadcast.
type RunResult struct {
	Strategy Strategy          `json:"strategy"`
	Agent    string            `json:"agent,omitempty"`
	Output   string            `json:"output,omitempty"`
	Outputs  map[string]string `json:"outputs,omitempty"`
}

// Orchestrator coordinates agents over a shared message bus.
//
// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	mu          sync.Mutex
	agents      map[string]*agent.Agent
	order       []string // insertion order, drives dispatch iteration
	bus         *agent.MessageBus
	tasks       []*Task
	rrIndex     int
	parallelism int
}

type options struct {
	busOpts     []agent.BusOption
	agents      []*agent.Agent
	parallelism int
}

// Option configures an Orchestrator at construction time.
type Option func(*options)

// WithAgents registers the given agents during New.
func WithAgents(agents ...*agent.Agent) Option {
	return func(o *options) { o.agents = append(o.agents, agents...) }
}

// WithBusOptions configures the orchestrator's message bus.
func WithBusOptions(opts ...agent.BusOption) Option {
	return func(o *options) { o.busOpts = append(o.busOpts, opts...) }
}

// WithParallelism bounds how many tasks RunParallel executes at once.
// The default is runtime.NumCPU().
func WithParallelism(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.parallelism = n
		}
	}
}

// New creates an orchestrator with its own message bus.
func New(opts ...Option) *Orchestrator {
	cfg := options{parallelism: runtime.NumCPU()}
	for _, opt := range opts {
		opt(&cfg)
	}

	o := &Orchestrator{
		agents:      make(map[string]*agent.Agent),
		bus:         agent.NewMessageBus(cfg.busOpts...),
		parallelism: cfg.parallelism,
	}
	for _, a := range cfg.agents {
		o.AddAgent(a)
	}
	return o
}

// AddAgent registers an agent in the orchestrator's directory and on its
// bus. A detached agent adopts the orchestrator's bus; an agent already
// attached elsewhere keeps its bus but is still registered here. Re-adding
// a name replaces the previous agent in its original dispatch slot.
func (o *Orchestrator) AddAgent(a *agent.Agent) {
	if a.Bus() == nil {
		a.AttachBus(o.bus)
	}

	o.mu.Lock()
	if _, exists := o.agents[a.Name()]; !exists {
		o.order = append(o.order, a.Name())
	}
	o.agents[a.Name()] = a
	count := len(o.agents)
	o.mu.Unlock()

	o.bus.Register(a)
	metrics.SetRegisteredAgents(count)
}

// RemoveAgent drops an agent from the directory and unregisters it from
// the bus. It reports whether the agent was present.
func (o *Orchestrator) RemoveAgent(name string) bool {
	o.mu.Lock()
	_, ok := o.agents[name]
	if ok {
		delete(o.agents, name)
		for i, n := range o.order {
			if n == name {
				o.order = append(o.order[:i], o.order[i+1:]...)
				break
			}
		}
	}
	count := len(o.agents)
	o.mu.Unlock()

	if !ok {
		return false
	}
	o.bus.Unregister(name)
	metrics.SetRegisteredAgents(count)
	return true
}

// Agent retrieves a registered agent by name.
func (o *Orchestrator) Agent(name string) (*agent.Agent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.agents[name]
	return a, ok
}

// Agents returns registered agent names in the order they were added.
func (o *Orchestrator) Agents() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, len(o.order))
	copy(names, o.order)
	return names
}

// Bus returns the orchestrator's message bus.
func (o *Orchestrator) Bus() *agent.MessageBus { return o.bus }

// CreateTask records a task for tracking and returns it. Dispatch happens
// through the Run methods; the record exists for status reporting and for
// callers that manage their own assignment.
func (o *Orchestrator) CreateTask(description, assignTo string) *Task {
	task := &Task{
		ID:          newTaskID(),
		Description: description,
		AssignedTo:  assignTo,
		Status:      TaskPending,
		CreatedAt:   time.Now().UTC(),
	}
	o.mu.Lock()
	o.tasks = append(o.tasks, task)
	o.mu.Unlock()
	return task
}

// Tasks returns a snapshot of the recorded tasks.
func (o *Orchestrator) Tasks() []*Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Task, len(o.tasks))
	copy(out, o.tasks)
	return out
}

// Run dispatches a task description according to the strategy. Unrecognized
// strategies fall back to auto. For auto and round_robin the selected
// agent's task error is returned as-is; a broadcast never fails, it folds
// per-agent errors into Outputs as "Error: ..." strings.
//
// Auto with no idle agent is not an error: it logs a warning and returns a
// result with no agent set.
func (o *Orchestrator) Run(ctx context.Context, description string, strategy Strategy) (*RunResult, error) {
	switch strategy {
	case StrategyAuto, StrategyRoundRobin, StrategyBroadcast:
	default:
		strategy = StrategyAuto
	}

	ctx, span := observability.StartSpan(ctx, fmt.Sprintf("orchestrator.run.%s", strategy),
		trace.WithAttributes(
			attribute.String("orchestrator.strategy", string(strategy)),
			attribute.Int("orchestrator.agent_count", len(o.Agents())),
		),
	)
	defer span.End()

	log.Printf("[Orchestrator] Running task (%s): %s", strategy, truncate(description, 50))
	start := time.Now()

	var (
		result *RunResult
		err    error
	)
	switch strategy {
	case StrategyBroadcast:
		result = o.broadcast(ctx, description)
	case StrategyRoundRobin:
		result, err = o.roundRobin(ctx, description)
	default:
		result, err = o.autoAssign(ctx, description)
	}

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
	} else if result.Agent != "" {
		span.SetAttributes(attribute.String("orchestrator.agent", result.Agent))
	}
	metrics.RecordDispatch(string(strategy), status, time.Since(start))
	span.SetAttributes(attribute.Int64("orchestrator.duration_ms", time.Since(start).Milliseconds()))

	return result, err
}

func (o *Orchestrator) autoAssign(ctx context.Context, description string) (*RunResult, error) {
	a := o.firstIdle()
	if a == nil {
		log.Printf("[Orchestrator] WARNING: no idle agent available")
		return &RunResult{Strategy: StrategyAuto}, nil
	}

	log.Printf("[Orchestrator] Assigning task to %s", a.Name())
	output, err := o.executeTask(ctx, a, description)
	if err != nil {
		return nil, err
	}
	return &RunResult{Strategy: StrategyAuto, Agent: a.Name(), Output: output}, nil
}

func (o *Orchestrator) firstIdle() *agent.Agent {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, name := range o.order {
		if a := o.agents[name]; a.State() == agent.StateIdle {
			return a
		}
	}
	return nil
}

func (o *Orchestrator) roundRobin(ctx context.Context, description string) (*RunResult, error) {
	o.mu.Lock()
	if len(o.order) == 0 {
		o.mu.Unlock()
		log.Printf("[Orchestrator] WARNING: no agents registered")
		return &RunResult{Strategy: StrategyRoundRobin}, nil
	}
	name := o.order[o.rrIndex%len(o.order)]
	o.rrIndex++
	a := o.agents[name]
	o.mu.Unlock()

	log.Printf("[Orchestrator] Round-robin assigned to %s", name)
	output, err := o.executeTask(ctx, a, description)
	if err != nil {
		return nil, err
	}
	return &RunResult{Strategy: StrategyRoundRobin, Agent: name, Output: output}, nil
}

func (o *Orchestrator) broadcast(ctx context.Context, description string) *RunResult {
	o.mu.Lock()
	names := make([]string, len(o.order))
	copy(names, o.order)
	agents := make(map[string]*agent.Agent, len(names))
	for _, name := range names {
		agents[name] = o.agents[name]
	}
	o.mu.Unlock()

	outputs := make(map[string]string, len(names))
	for _, name := range names {
		log.Printf("[Orchestrator] Broadcasting task to %s", name)
		output, err := o.executeTask(ctx, agents[name], description)
		if err != nil {
			output = fmt.Sprintf("Error: %v", err)
		}
		outputs[name] = output
	}
	return &RunResult{Strategy: StrategyBroadcast, Outputs: outputs}
}

// RunParallel executes the given tasks concurrently, at most parallelism at
// a time, and returns when every submitted task has finished. Specs naming
// unknown agents are skipped with a warning. Task failures become
// "Error: ..." values. When the same agent appears in several specs, the
// last task to complete keeps its map slot.
func (o *Orchestrator) RunParallel(ctx context.Context, specs []TaskSpec) map[string]string {
	ctx, span := observability.StartSpan(ctx, "orchestrator.run_parallel",
		trace.WithAttributes(
			attribute.Int("orchestrator.task_count", len(specs)),
			attribute.Int("orchestrator.parallelism", o.parallelism),
		),
	)
	defer span.End()

	start := time.Now()

	var mu sync.Mutex
	results := make(map[string]string)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)

	for _, spec := range specs {
		a, ok := o.Agent(spec.Agent)
		if !ok {
			log.Printf("[Orchestrator] WARNING: skipping task for unknown agent %s", spec.Agent)
			continue
		}

		spec := spec // capture for goroutine
		g.Go(func() error {
			output, err := o.executeTask(gctx, a, spec.Description)
			if err != nil {
				output = fmt.Sprintf("Error: %v", err)
			}
			mu.Lock()
			results[spec.Agent] = output
			mu.Unlock()
			return nil
		})
	}

	// Workers never return errors; failures travel as result values.
	_ = g.Wait()

	metrics.RecordDispatch("parallel", "ok", time.Since(start))
	span.SetAttributes(attribute.Int("orchestrator.result_count", len(results)))
	return results
}

// RunSequence executes tasks one after another on the calling goroutine,
// preserving spec order (and duplicates) in the results. Unknown agents
// and failed tasks produce "Error: ..." entries without stopping the
// sequence.
func (o *Orchestrator) RunSequence(ctx context.Context, specs []TaskSpec) []TaskResult {
	ctx, span := observability.StartSpan(ctx, "orchestrator.run_sequence",
		trace.WithAttributes(attribute.Int("orchestrator.task_count", len(specs))))
	defer span.End()

	start := time.Now()
	results := make([]TaskResult, 0, len(specs))

	for _, spec := range specs {
		a, ok := o.Agent(spec.Agent)
		if !ok {
			results = append(results, TaskResult{
				Agent:  spec.Agent,
				Output: fmt.Sprintf("Error: Agent '%s' not found", spec.Agent),
			})
			continue
		}

		output, err := o.executeTask(ctx, a, spec.Description)
		if err != nil {
			output = fmt.Sprintf("Error: %v", err)
		}
		results = append(results, TaskResult{Agent: spec.Agent, Output: output})
	}

	metrics.RecordDispatch("sequence", "ok", time.Since(start))
	return results
}

// executeTask runs one task on one agent and records its duration.
func (o *Orchestrator) executeTask(ctx context.Context, a *agent.Agent, description string) (string, error) {
	start := time.Now()
	output, err := a.ExecuteTask(ctx, description)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordAgentTask(a.Name(), status, time.Since(start))

	return output, err
}

// AgentStatus describes one agent in a Status snapshot.
type AgentStatus struct {
	Role  string      `json:"role"`
	State agent.State `json:"state"`
}

// Status is a point-in-time snapshot of the orchestrator.
type Status struct {
	Agents              map[string]AgentStatus `json:"agents"`
	TasksCount          int                    `json:"tasks_count"`
	MessageHistoryCount int                    `json:"message_history_count"`
}

// Status reports every registered agent with its role and state, the
// number of tracked task records, and the bus history length.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	agents := make(map[string]AgentStatus, len(o.agents))
	for name, a := range o.agents {
		agents[name] = AgentStatus{Role: a.Role(), State: a.State()}
	}
	tasks := len(o.tasks)
	o.mu.Unlock()

	return Status{
		Agents:              agents,
		TasksCount:          tasks,
		MessageHistoryCount: o.bus.HistoryLen(),
	}
}

// String returns a short debug form listing the registered agents.
func (o *Orchestrator) String() string {
	return fmt.Sprintf("Orchestrator(agents=%v)", o.Agents())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
