// Package agents provides ready-made agent variants on top of the core
// agent package: a plain echo agent, LLM-backed conversational agents, a
// tool-calling variant, and preset expert roles. Each kind registers itself
// with the agent factory registry so declarative definitions can name it.
package agents

import (
	"fmt"

	"github.com/aixgo-dev/agora/agent"
)

func init() {
	agent.RegisterKind("basic", NewBasicAgent)
}

// NewBasicAgent builds a plain agent with the default echo handler and no
// task executor.
func NewBasicAgent(def agent.Def, env agent.Env) (*agent.Agent, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	return agent.New(def.Name, def.Role, defOptions(def, env)...), nil
}

// defOptions translates the shared parts of a definition into agent options.
func defOptions(def agent.Def, env agent.Env) []agent.Option {
	var opts []agent.Option
	if def.Description != "" {
		opts = append(opts, agent.WithDescription(def.Description))
	}
	if env.Bus != nil {
		opts = append(opts, agent.WithBus(env.Bus))
	}
	return opts
}
