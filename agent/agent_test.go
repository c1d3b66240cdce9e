package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// testRecipient is a minimal Recipient that records deliveries.
type testRecipient struct {
	name string
	mu   sync.Mutex
	got  []*Message
}

func newTestRecipient(name string) *testRecipient {
	return &testRecipient{name: name}
}

func (r *testRecipient) Name() string { return r.name }

func (r *testRecipient) Receive(msg *Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg)
}

func (r *testRecipient) received() []*Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Message, len(r.got))
	copy(out, r.got)
	return out
}

func TestMessage(t *testing.T) {
	t.Run("NewMessage populates identity and timestamp", func(t *testing.T) {
		msg := NewMessage("alice", "bob", "hello", TypeText)

		if len(msg.ID) != 8 {
			t.Errorf("Expected 8-char ID, got %q", msg.ID)
		}
		if msg.Sender != "alice" || msg.Receiver != "bob" {
			t.Errorf("Unexpected addressing: %s -> %s", msg.Sender, msg.Receiver)
		}
		if msg.Type != TypeText {
			t.Errorf("Expected type text, got %q", msg.Type)
		}
		if msg.Timestamp.IsZero() {
			t.Error("Expected non-zero timestamp")
		}
		if msg.Metadata == nil {
			t.Error("Expected initialized metadata map")
		}
	})

	t.Run("WithMetadata chains", func(t *testing.T) {
		msg := NewMessage("a", "b", "x", TypeTask).
			WithMetadata("priority", "high").
			WithMetadata("attempt", 2)

		if msg.Metadata["priority"] != "high" {
			t.Error("Expected priority=high")
		}
		if msg.Metadata["attempt"] != 2 {
			t.Error("Expected attempt=2")
		}
	})

	t.Run("Clone creates independent copy", func(t *testing.T) {
		original := NewMessage("a", "b", "x", TypeText).WithMetadata("k", "v")
		clone := original.Clone()

		if clone.ID != original.ID || clone.Content != original.Content {
			t.Error("Clone should carry the same values")
		}

		clone.WithMetadata("k", "modified")
		if original.Metadata["k"] == "modified" {
			t.Error("Modifying clone should not affect original")
		}
	})

	t.Run("String truncates long content", func(t *testing.T) {
		msg := NewMessage("a", "b", strings.Repeat("x", 200), TypeText)
		if len(msg.String()) > 150 {
			t.Errorf("Expected truncated debug string, got %d chars", len(msg.String()))
		}
	})
}

func TestMessageBus(t *testing.T) {
	t.Run("Send delivers to registered receiver", func(t *testing.T) {
		bus := NewMessageBus()
		bob := newTestRecipient("bob")
		bus.Register(bob)

		ok := bus.Send(NewMessage("alice", "bob", "hello", TypeText))

		if !ok {
			t.Error("Expected delivery to succeed")
		}
		got := bob.received()
		if len(got) != 1 {
			t.Fatalf("Expected exactly 1 delivery, got %d", len(got))
		}
		if got[0].Sender != "alice" || got[0].Content != "hello" {
			t.Errorf("Unexpected message: %v", got[0])
		}
		if bus.HistoryLen() != 1 {
			t.Errorf("Expected history length 1, got %d", bus.HistoryLen())
		}
	})

	t.Run("Send to unknown receiver returns false and still records", func(t *testing.T) {
		bus := NewMessageBus()
		before := bus.HistoryLen()

		ok := bus.Send(NewMessage("alice", "ghost", "anyone there", TypeText))

		if ok {
			t.Error("Expected delivery to fail for unknown receiver")
		}
		if bus.HistoryLen() != before+1 {
			t.Errorf("Expected history to grow by 1, got %d", bus.HistoryLen()-before)
		}
	})

	t.Run("Broadcast reaches everyone except the sender", func(t *testing.T) {
		bus := NewMessageBus()
		a := newTestRecipient("a")
		b := newTestRecipient("b")
		c := newTestRecipient("c")
		bus.Register(a)
		bus.Register(b)
		bus.Register(c)

		bus.Broadcast(NewMessage("a", Everyone, "meeting at noon", TypeText))

		if len(a.received()) != 0 {
			t.Error("Sender should not receive its own broadcast")
		}
		if len(b.received()) != 1 || len(c.received()) != 1 {
			t.Errorf("Expected one delivery each, got b=%d c=%d",
				len(b.received()), len(c.received()))
		}
		if bus.HistoryLen() != 1 {
			t.Errorf("Expected a single history record, got %d", bus.HistoryLen())
		}
	})

	t.Run("Register replaces existing name", func(t *testing.T) {
		bus := NewMessageBus()
		first := newTestRecipient("worker")
		second := newTestRecipient("worker")
		bus.Register(first)
		bus.Register(second)

		bus.Send(NewMessage("alice", "worker", "task", TypeTask))

		if len(first.received()) != 0 {
			t.Error("Replaced recipient should not receive messages")
		}
		if len(second.received()) != 1 {
			t.Error("Replacement should receive messages")
		}
		if got := len(bus.Agents()); got != 1 {
			t.Errorf("Expected 1 registered name, got %d", got)
		}
	})

	t.Run("Register rejects the reserved broadcast name", func(t *testing.T) {
		bus := NewMessageBus()
		bus.Register(newTestRecipient(Everyone))

		if len(bus.Agents()) != 0 {
			t.Error("Reserved name should not be registered")
		}
	})

	t.Run("Unregister removes recipient", func(t *testing.T) {
		bus := NewMessageBus()
		bob := newTestRecipient("bob")
		bus.Register(bob)
		bus.Unregister("bob")
		bus.Unregister("never-existed") // no-op

		if ok := bus.Send(NewMessage("alice", "bob", "hi", TypeText)); ok {
			t.Error("Expected delivery to fail after unregister")
		}
		if len(bus.Agents()) != 0 {
			t.Errorf("Expected empty registry, got %v", bus.Agents())
		}
	})

	t.Run("Agents preserves registration order", func(t *testing.T) {
		bus := NewMessageBus()
		for _, name := range []string{"x", "y", "z"} {
			bus.Register(newTestRecipient(name))
		}

		names := bus.Agents()
		if len(names) != 3 || names[0] != "x" || names[1] != "y" || names[2] != "z" {
			t.Errorf("Expected [x y z], got %v", names)
		}
	})

	t.Run("Hooks observe recorded messages in order", func(t *testing.T) {
		bus := NewMessageBus()
		bus.Register(newTestRecipient("bob"))

		var seen []string
		bus.AddHook(func(msg *Message) { seen = append(seen, "first:"+msg.Content) })
		bus.AddHook(func(msg *Message) { seen = append(seen, "second:"+msg.Content) })

		bus.Send(NewMessage("alice", "bob", "one", TypeText))
		bus.Broadcast(NewMessage("alice", Everyone, "two", TypeText))

		want := []string{"first:one", "second:one", "first:two", "second:two"}
		if len(seen) != len(want) {
			t.Fatalf("Expected %d hook calls, got %d", len(want), len(seen))
		}
		for i := range want {
			if seen[i] != want[i] {
				t.Errorf("Hook call %d: expected %q, got %q", i, want[i], seen[i])
			}
		}
	})

	t.Run("Hook panic does not abort delivery", func(t *testing.T) {
		bus := NewMessageBus()
		bob := newTestRecipient("bob")
		bus.Register(bob)

		secondRan := false
		bus.AddHook(func(msg *Message) { panic("observer bug") })
		bus.AddHook(func(msg *Message) { secondRan = true })

		ok := bus.Send(NewMessage("alice", "bob", "hello", TypeText))

		if !ok {
			t.Error("Delivery should succeed despite hook panic")
		}
		if !secondRan {
			t.Error("Later hooks should still run after a panic")
		}
		if len(bob.received()) != 1 {
			t.Error("Receiver should still get the message")
		}
	})

	t.Run("History returns a snapshot", func(t *testing.T) {
		bus := NewMessageBus()
		bus.Send(NewMessage("a", "ghost", "1", TypeText))
		bus.Send(NewMessage("b", "ghost", "2", TypeText))

		history := bus.History()
		history[0] = nil // mutate the copy

		if bus.History()[0] == nil {
			t.Error("Mutating the returned slice should not affect the bus")
		}
	})

	t.Run("HistoryFor filters by sender or receiver", func(t *testing.T) {
		bus := NewMessageBus()
		bus.Register(newTestRecipient("bob"))
		bus.Register(newTestRecipient("carol"))
		bus.Send(NewMessage("alice", "bob", "1", TypeText))
		bus.Send(NewMessage("bob", "carol", "2", TypeText))
		bus.Send(NewMessage("carol", "alice", "3", TypeText))

		forBob := bus.HistoryFor("bob")
		if len(forBob) != 2 {
			t.Errorf("Expected 2 messages for bob, got %d", len(forBob))
		}
		for _, msg := range forBob {
			if msg.Sender != "bob" && msg.Receiver != "bob" {
				t.Errorf("Message %s does not involve bob", msg.ID)
			}
		}
	})

	t.Run("ClearHistory keeps registrations and hooks", func(t *testing.T) {
		bus := NewMessageBus()
		bob := newTestRecipient("bob")
		bus.Register(bob)
		bus.Send(NewMessage("alice", "bob", "1", TypeText))

		bus.ClearHistory()

		if bus.HistoryLen() != 0 {
			t.Errorf("Expected empty history, got %d", bus.HistoryLen())
		}
		if ok := bus.Send(NewMessage("alice", "bob", "2", TypeText)); !ok {
			t.Error("Registrations should survive ClearHistory")
		}
	})

	t.Run("WithHistoryLimit evicts oldest", func(t *testing.T) {
		bus := NewMessageBus(WithHistoryLimit(3))
		for i := 0; i < 5; i++ {
			bus.Send(NewMessage("a", "ghost", fmt.Sprintf("%d", i), TypeText))
		}

		history := bus.History()
		if len(history) != 3 {
			t.Fatalf("Expected history capped at 3, got %d", len(history))
		}
		if history[0].Content != "2" || history[2].Content != "4" {
			t.Errorf("Expected oldest entries evicted, got %s..%s",
				history[0].Content, history[2].Content)
		}
	})

	t.Run("Concurrent sends are safe", func(t *testing.T) {
		bus := NewMessageBus()
		bob := newTestRecipient("bob")
		bus.Register(bob)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				bus.Send(NewMessage("alice", "bob", fmt.Sprintf("%d", n), TypeText))
			}(i)
		}
		wg.Wait()

		if got := len(bob.received()); got != 50 {
			t.Errorf("Expected 50 deliveries, got %d", got)
		}
		if bus.HistoryLen() != 50 {
			t.Errorf("Expected 50 history records, got %d", bus.HistoryLen())
		}
	})
}

func TestAgent(t *testing.T) {
	ctx := context.Background()

	t.Run("New starts idle with generated ID", func(t *testing.T) {
		a := New("alice", "coordinator", WithDescription("team lead"))

		if len(a.ID()) != 8 {
			t.Errorf("Expected 8-char ID, got %q", a.ID())
		}
		if a.State() != StateIdle {
			t.Errorf("Expected idle, got %s", a.State())
		}
		if a.Description() != "team lead" {
			t.Errorf("Unexpected description %q", a.Description())
		}
		if a.Memory() == nil || a.Tools() == nil {
			t.Error("Expected memory and tools to be initialized")
		}
	})

	t.Run("WithBus registers on the bus", func(t *testing.T) {
		bus := NewMessageBus()
		New("alice", "coordinator", WithBus(bus))

		if _, ok := bus.Get("alice"); !ok {
			t.Error("Expected agent to be registered")
		}
	})

	t.Run("Delivery during construction is safe", func(t *testing.T) {
		bus := NewMessageBus()
		// WithBus registers on a live bus before New returns, so a
		// message may land while later options are still running.
		a := New("early", "worker",
			WithBus(bus),
			func(a *Agent) {
				bus.Send(NewMessage("other", "early", "hi", TypeText))
			},
		)

		if a.InboxLen() != 1 {
			t.Errorf("InboxLen() = %d, want 1", a.InboxLen())
		}
		if got := a.Memory().Recent(1); len(got) != 1 {
			t.Errorf("memory entries = %d, want 1", len(got))
		}
	})

	t.Run("Receive appends inbox and records memory", func(t *testing.T) {
		a := New("bob", "worker")
		a.Receive(NewMessage("alice", "bob", "hello", TypeText))

		if a.InboxLen() != 1 {
			t.Errorf("Expected inbox length 1, got %d", a.InboxLen())
		}
		if got := a.Memory().ShortTermLen(); got != 1 {
			t.Errorf("Expected 1 memory entry, got %d", got)
		}
	})

	t.Run("SendTo without bus returns ErrNoBus", func(t *testing.T) {
		a := New("loner", "worker")

		err := a.SendTo("anyone", "hello", TypeText)
		if !errors.Is(err, ErrNoBus) {
			t.Errorf("Expected ErrNoBus, got %v", err)
		}
		if err := a.Broadcast("hello", TypeText); !errors.Is(err, ErrNoBus) {
			t.Errorf("Expected ErrNoBus from Broadcast, got %v", err)
		}
	})

	t.Run("SendTo succeeds even when routing fails", func(t *testing.T) {
		bus := NewMessageBus()
		a := New("alice", "coordinator", WithBus(bus))

		if err := a.SendTo("ghost", "hello", TypeText); err != nil {
			t.Errorf("Routing failure should not be an error, got %v", err)
		}
		if got := a.Memory().ShortTermLen(); got != 1 {
			t.Errorf("Send should be recorded in local memory, got %d entries", got)
		}
		if bus.HistoryLen() != 1 {
			t.Errorf("Expected history record, got %d", bus.HistoryLen())
		}
	})

	t.Run("Broadcast is not recorded in sender memory", func(t *testing.T) {
		bus := NewMessageBus()
		a := New("alice", "coordinator", WithBus(bus))
		New("bob", "worker", WithBus(bus))

		if err := a.Broadcast("announcement", TypeText); err != nil {
			t.Fatalf("Broadcast failed: %v", err)
		}
		if got := a.Memory().ShortTermLen(); got != 0 {
			t.Errorf("Broadcast should not be recorded locally, got %d entries", got)
		}
	})

	t.Run("ProcessInbox replies to sender", func(t *testing.T) {
		bus := NewMessageBus()
		alice := New("alice", "coordinator", WithBus(bus))
		bob := New("bob", "worker", WithBus(bus))

		if err := alice.SendTo("bob", "status?", TypeText); err != nil {
			t.Fatalf("SendTo failed: %v", err)
		}
		processed := bob.ProcessInbox(ctx)

		if len(processed) != 1 {
			t.Fatalf("Expected 1 processed message, got %d", len(processed))
		}
		if processed[0].Content != "status?" {
			t.Errorf("Unexpected processed content %q", processed[0].Content)
		}
		if alice.InboxLen() != 1 {
			t.Fatalf("Expected a reply in alice's inbox, got %d", alice.InboxLen())
		}
		reply := alice.ProcessInbox(ctx)[0]
		if reply.Sender != "bob" || reply.Type != TypeText {
			t.Errorf("Unexpected reply: %v", reply)
		}
		if !strings.Contains(reply.Content, "status?") {
			t.Errorf("Default handler should echo content, got %q", reply.Content)
		}
	})

	t.Run("ProcessInbox sends no reply for empty response", func(t *testing.T) {
		bus := NewMessageBus()
		alice := New("alice", "coordinator", WithBus(bus))
		sink := New("sink", "worker", WithBus(bus),
			WithHandlerFunc(func(ctx context.Context, msg *Message) (string, error) {
				return "", nil
			}))

		_ = alice.SendTo("sink", "fyi", TypeText)
		sink.ProcessInbox(ctx)

		if alice.InboxLen() != 0 {
			t.Errorf("Expected no reply, got %d messages", alice.InboxLen())
		}
	})

	t.Run("ProcessInbox continues past handler errors", func(t *testing.T) {
		bus := NewMessageBus()
		alice := New("alice", "coordinator", WithBus(bus))
		calls := 0
		flaky := New("flaky", "worker", WithBus(bus),
			WithHandlerFunc(func(ctx context.Context, msg *Message) (string, error) {
				calls++
				if msg.Content == "bad" {
					return "", errors.New("cannot handle")
				}
				return "ok: " + msg.Content, nil
			}))

		_ = alice.SendTo("flaky", "bad", TypeText)
		_ = alice.SendTo("flaky", "good", TypeText)
		processed := flaky.ProcessInbox(ctx)

		if len(processed) != 2 || calls != 2 {
			t.Errorf("Expected both messages handled, processed=%d calls=%d", len(processed), calls)
		}
		if alice.InboxLen() != 1 {
			t.Errorf("Expected one reply for the good message, got %d", alice.InboxLen())
		}
	})

	t.Run("ExecuteTask transitions working then idle", func(t *testing.T) {
		var observed State
		a := New("worker", "analyst")
		a.task = func(ctx context.Context, task string) (string, error) {
			observed = a.State()
			return "done: " + task, nil
		}

		result, err := a.ExecuteTask(ctx, "crunch numbers")
		if err != nil {
			t.Fatalf("ExecuteTask failed: %v", err)
		}
		if observed != StateWorking {
			t.Errorf("Expected working during task, got %s", observed)
		}
		if a.State() != StateIdle {
			t.Errorf("Expected idle after task, got %s", a.State())
		}
		if result != "done: crunch numbers" {
			t.Errorf("Unexpected result %q", result)
		}
	})

	t.Run("ExecuteTask failure leaves error state and propagates", func(t *testing.T) {
		boom := errors.New("boom")
		a := New("worker", "analyst",
			WithTaskFunc(func(ctx context.Context, task string) (string, error) {
				return "", boom
			}))

		_, err := a.ExecuteTask(ctx, "anything")
		if !errors.Is(err, boom) {
			t.Errorf("Expected underlying error to propagate, got %v", err)
		}
		if a.State() != StateError {
			t.Errorf("Expected error state, got %s", a.State())
		}
	})

	t.Run("ExecuteTask without executor errors", func(t *testing.T) {
		a := New("bare", "worker")

		_, err := a.ExecuteTask(ctx, "anything")
		if err == nil {
			t.Fatal("Expected error for agent without task executor")
		}
		if a.State() != StateError {
			t.Errorf("Expected error state, got %s", a.State())
		}
	})

	t.Run("ExecuteTask re-enters working after a failure", func(t *testing.T) {
		fail := true
		a := New("worker", "analyst",
			WithTaskFunc(func(ctx context.Context, task string) (string, error) {
				if fail {
					return "", errors.New("transient")
				}
				return "recovered", nil
			}))

		if _, err := a.ExecuteTask(ctx, "first"); err == nil {
			t.Fatal("Expected first task to fail")
		}
		fail = false
		result, err := a.ExecuteTask(ctx, "second")
		if err != nil {
			t.Fatalf("Second task failed: %v", err)
		}
		if result != "recovered" || a.State() != StateIdle {
			t.Errorf("Expected recovery to idle, got %q state=%s", result, a.State())
		}
	})

	t.Run("Canceled context does not interrupt a running task", func(t *testing.T) {
		// Cancellation is advisory: the core imposes no deadline, and a
		// task function that ignores ctx runs to completion.
		canceled, cancel := context.WithCancel(context.Background())
		cancel()
		a := New("worker", "analyst",
			WithTaskFunc(func(ctx context.Context, task string) (string, error) {
				return "finished", nil
			}))

		result, err := a.ExecuteTask(canceled, "anything")
		if err != nil || result != "finished" {
			t.Errorf("Expected completion, got %q err=%v", result, err)
		}
	})
}

func TestCreate(t *testing.T) {
	t.Run("Unknown kind errors", func(t *testing.T) {
		_, err := Create(Def{Name: "x", Kind: "no-such-kind"}, Env{})
		if err == nil {
			t.Fatal("Expected error for unknown kind")
		}
	})

	t.Run("Registered factory is used", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register("custom", func(def Def, env Env) (*Agent, error) {
			return New(def.Name, def.Role), nil
		})

		factory, ok := reg.GetFactory("custom")
		if !ok {
			t.Fatal("Expected factory to be registered")
		}
		a, err := factory(Def{Name: "c1", Role: "tester"}, Env{})
		if err != nil {
			t.Fatalf("Factory failed: %v", err)
		}
		if a.Name() != "c1" || a.Role() != "tester" {
			t.Errorf("Unexpected agent %s/%s", a.Name(), a.Role())
		}
	})

	t.Run("Def reads extra keys", func(t *testing.T) {
		def := Def{Name: "x", Extra: map[string]any{"window": "short"}}
		if def.GetString("window", "long") != "short" {
			t.Error("Expected extra value")
		}
		if def.GetString("missing", "fallback") != "fallback" {
			t.Error("Expected fallback for missing key")
		}
	})
}

func BenchmarkSend(b *testing.B) {
	bus := NewMessageBus(WithHistoryLimit(1000))
	bus.Register(newTestRecipient("bob"))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bus.Send(NewMessage("alice", "bob", "ping", TypeText))
	}
}

func BenchmarkBroadcast(b *testing.B) {
	bus := NewMessageBus(WithHistoryLimit(1000))
	for i := 0; i < 10; i++ {
		bus.Register(newTestRecipient(fmt.Sprintf("agent-%d", i)))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bus.Broadcast(NewMessage("agent-0", Everyone, "ping", TypeText))
	}
}

func ExampleAgent_SendTo() {
	bus := NewMessageBus()
	alice := New("alice", "coordinator", WithBus(bus))
	bob := New("bob", "worker", WithBus(bus))

	alice.SendTo("bob", "hello", TypeText)
	fmt.Println(bob.InboxLen())
	// Output: 1
}
