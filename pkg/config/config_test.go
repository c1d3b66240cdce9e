package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoad_ValidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9001"
defaults:
  provider: openai
  model: gpt-4o-mini
bus:
  history_limit: 200
agents:
  - name: echo
    role: responder
  - name: researcher
    role: research specialist
    kind: llm
schedules:
  - cron: "*/5 * * * *"
    task: "summarize recent activity"
    strategy: round_robin
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":9001" {
		t.Errorf("expected addr :9001, got %s", cfg.Server.Addr)
	}
	if cfg.Bus.HistoryLimit != 200 {
		t.Errorf("expected history limit 200, got %d", cfg.Bus.HistoryLimit)
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(cfg.Agents))
	}
	if cfg.Agents[0].Kind != "basic" {
		t.Errorf("expected empty kind to default to basic, got %s", cfg.Agents[0].Kind)
	}
	if cfg.Agents[1].Model != "gpt-4o-mini" {
		t.Errorf("expected llm agent to inherit default model, got %q", cfg.Agents[1].Model)
	}
	if cfg.Agents[1].Provider != "openai" {
		t.Errorf("expected llm agent to inherit default provider, got %q", cfg.Agents[1].Provider)
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "agents:\n  - name: [broken")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "agents:\n  - name: solo\n    role: worker\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":8000" {
		t.Errorf("expected default addr :8000, got %s", cfg.Server.Addr)
	}
	if cfg.Defaults.MaxTokens != 1000 {
		t.Errorf("expected default max_tokens 1000, got %d", cfg.Defaults.MaxTokens)
	}
	if cfg.Defaults.Temperature != 0.7 {
		t.Errorf("expected default temperature 0.7, got %v", cfg.Defaults.Temperature)
	}
	if cfg.SharedMemory.Backend != "memory" {
		t.Errorf("expected default shared backend memory, got %s", cfg.SharedMemory.Backend)
	}
	if cfg.Bus.HistoryLimit != 0 {
		t.Errorf("expected unbounded history by default, got %d", cfg.Bus.HistoryLimit)
	}
}

func TestLoad_SamplingDefaultsFlowIntoLLMAgents(t *testing.T) {
	path := writeConfig(t, `
defaults:
  max_tokens: 2048
  temperature: 0.2
agents:
  - name: plain
    role: worker
  - name: researcher
    role: research specialist
    kind: llm
  - name: creative
    role: writer
    kind: llm
    max_tokens: 500
    temperature: 1.1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Agents[0].MaxTokens != 0 || cfg.Agents[0].Temperature != 0 {
		t.Errorf("basic agent should not inherit sampling defaults, got %d/%v",
			cfg.Agents[0].MaxTokens, cfg.Agents[0].Temperature)
	}
	if cfg.Agents[1].MaxTokens != 2048 {
		t.Errorf("expected llm agent to inherit max_tokens 2048, got %d", cfg.Agents[1].MaxTokens)
	}
	if cfg.Agents[1].Temperature != 0.2 {
		t.Errorf("expected llm agent to inherit temperature 0.2, got %v", cfg.Agents[1].Temperature)
	}
	if cfg.Agents[2].MaxTokens != 500 {
		t.Errorf("expected per-agent max_tokens 500 to win, got %d", cfg.Agents[2].MaxTokens)
	}
	if cfg.Agents[2].Temperature != 1.1 {
		t.Errorf("expected per-agent temperature 1.1 to win, got %v", cfg.Agents[2].Temperature)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("AGORA_SHARED_BACKEND", "redis")

	path := writeConfig(t, "agents:\n  - name: solo\n    role: worker\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("expected PORT override :7070, got %s", cfg.Server.Addr)
	}
	if cfg.SharedMemory.Backend != "redis" {
		t.Errorf("expected redis backend from env, got %s", cfg.SharedMemory.Backend)
	}
	if cfg.SharedMemory.Redis.Addr != "redis.internal:6379" {
		t.Errorf("expected redis addr from env, got %s", cfg.SharedMemory.Redis.Addr)
	}
}

func TestLoad_AddrBeatsPort(t *testing.T) {
	t.Setenv("AGORA_ADDR", "127.0.0.1:6000")
	t.Setenv("PORT", "7070")

	path := writeConfig(t, "agents:\n  - name: solo\n    role: worker\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:6000" {
		t.Errorf("expected AGORA_ADDR to win, got %s", cfg.Server.Addr)
	}
}

func TestValidate_DuplicateAgentNames(t *testing.T) {
	path := writeConfig(t, `
agents:
  - name: twin
    role: first
  - name: twin
    role: second
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for duplicate agent names")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("expected duplicate-name error, got: %v", err)
	}
}

func TestValidate_RedisRequiresAddr(t *testing.T) {
	path := writeConfig(t, `
shared_memory:
  backend: redis
agents:
  - name: solo
    role: worker
`)
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for redis backend without address")
	}
}

func TestValidate_UnknownStrategy(t *testing.T) {
	path := writeConfig(t, `
agents:
  - name: solo
    role: worker
schedules:
  - cron: "@hourly"
    task: "tick"
    strategy: fastest
`)
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for unknown schedule strategy")
	}
}

func TestConfig_AgentExtraSettings(t *testing.T) {
	path := writeConfig(t, `
agents:
  - name: helper
    role: assistant
    kind: llm
    provider: anthropic
    model: claude-sonnet-4
    api_key: sk-test
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Agents[0].GetString("api_key", ""); got != "sk-test" {
		t.Errorf("expected inline extra api_key to survive, got %q", got)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if len(cfg.Agents) == 0 {
		t.Error("default config should include an agent")
	}
}
