package agent

import (
	"fmt"
	"sync"
)

// Def is a declarative agent definition, loadable from YAML configuration
// or an API request.
type Def struct {
	Name         string   `yaml:"name" json:"name"`
	Role         string   `yaml:"role" json:"role"`
	Description  string   `yaml:"description,omitempty" json:"description,omitempty"`
	Kind         string   `yaml:"kind,omitempty" json:"kind,omitempty"`
	Provider     string   `yaml:"provider,omitempty" json:"provider,omitempty"`
	Model        string   `yaml:"model,omitempty" json:"model,omitempty"`
	SystemPrompt string   `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	MaxTokens    int      `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Temperature  float64  `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	Tools        []string `yaml:"tools,omitempty" json:"tools,omitempty"`

	// Extra captures kind-specific settings not covered by the fields above.
	Extra map[string]any `yaml:",inline" json:"-"`
}

// GetString reads a string from Extra, returning def when absent.
func (d *Def) GetString(key, def string) string {
	if v, ok := d.Extra[key].(string); ok {
		return v
	}
	return def
}

// Env carries the surroundings a factory may wire an agent into.
type Env struct {
	// Bus is the message bus the agent should join, if any.
	Bus *MessageBus

	// ProviderConfig maps provider names to construction options loaded
	// from configuration. Factories that need an LLM provider pass the
	// relevant entry to the provider registry.
	ProviderConfig map[string]map[string]any
}

// FactoryFunc builds an agent of a particular kind from its definition.
type FactoryFunc func(def Def, env Env) (*Agent, error)

// Registry maps agent kinds to factories.
type Registry interface {
	Register(kind string, factory FactoryFunc)
	GetFactory(kind string) (FactoryFunc, bool)
}

// DefaultRegistry is the standard Registry implementation.
type DefaultRegistry struct {
	mu        sync.RWMutex
	factories map[string]FactoryFunc
}

// NewRegistry creates an empty registry, useful for tests.
func NewRegistry() *DefaultRegistry {
	return &DefaultRegistry{factories: make(map[string]FactoryFunc)}
}

func (r *DefaultRegistry) Register(kind string, factory FactoryFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

func (r *DefaultRegistry) GetFactory(kind string) (FactoryFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[kind]
	return f, ok
}

var defaultRegistry = NewRegistry()

// RegisterKind registers a factory with the default registry. Agent kinds
// call this from init.
func RegisterKind(kind string, factory FactoryFunc) {
	defaultRegistry.Register(kind, factory)
}

// GetFactory retrieves a factory from the default registry.
func GetFactory(kind string) (FactoryFunc, bool) {
	return defaultRegistry.GetFactory(kind)
}

// Create builds an agent from its definition using the default registry.
// An empty kind means "basic".
func Create(def Def, env Env) (*Agent, error) {
	kind := def.Kind
	if kind == "" {
		kind = "basic"
	}
	factory, ok := GetFactory(kind)
	if !ok {
		return nil, fmt.Errorf("unknown agent kind %q", kind)
	}
	return factory(def, env)
}
