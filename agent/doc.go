// Package agent provides the core building blocks of Agora: messages, the
// message bus, and agents.
//
// # Messages and the bus
//
// Agents communicate by exchanging Messages over a MessageBus. Delivery is
// synchronous and in-process: Send records the message, notifies hooks, and
// appends it to the receiver's inbox before returning.
//
//	bus := agent.NewMessageBus()
//	alice := agent.New("alice", "coordinator", agent.WithBus(bus))
//	bob := agent.New("bob", "worker", agent.WithBus(bus))
//
//	alice.SendTo("bob", "status report please", agent.TypeText)
//	bob.ProcessInbox(ctx) // bob replies to alice
//
// Sending to an unknown name is not an error: the message is recorded in
// bus history and the failed routing is logged. Use the reserved receiver
// Everyone to broadcast to all registered agents except the sender.
//
// # Capabilities
//
// A bare agent only acknowledges messages. Task execution and custom
// message handling are capabilities chosen at construction:
//
//	worker := agent.New("worker", "analyst",
//	    agent.WithBus(bus),
//	    agent.WithTaskFunc(func(ctx context.Context, task string) (string, error) {
//	        return analyze(task)
//	    }))
//	result, err := worker.ExecuteTask(ctx, "summarize q3 numbers")
//
// ExecuteTask moves the agent from idle to working and back; a failed task
// leaves it in the error state and returns the error to the caller.
//
// # Defining agents declaratively
//
// Agent kinds self-register factories (see the agents package); Create
// builds an agent from a Def loaded from configuration or an API request.
package agent
