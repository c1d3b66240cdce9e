package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/agora/agent"
	"github.com/aixgo-dev/agora/agents"
	"github.com/aixgo-dev/agora/orchestrator"
	"github.com/aixgo-dev/agora/pkg/observability"
	"github.com/aixgo-dev/agora/provider"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(orchestrator.New(), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return srv, ts
}

func echoAgent(name string) *agent.Agent {
	return agent.New(name, "worker", agent.WithTaskFunc(
		func(ctx context.Context, task string) (string, error) {
			return name + " did " + task, nil
		},
	))
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func deleteAgent(t *testing.T, ts *httptest.Server, name string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/agents/"+name, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestListAgentsEmpty(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/agents")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Agents []agentInfo `json:"agents"`
	}
	decodeBody(t, resp, &body)
	assert.Empty(t, body.Agents)
}

func TestCreateAndListAgents(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/agents", map[string]string{
		"name":        "Echo",
		"role":        "assistant",
		"description": "repeats things",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Success bool              `json:"success"`
		Agent   map[string]string `json:"agent"`
	}
	decodeBody(t, resp, &created)
	assert.True(t, created.Success)
	assert.Equal(t, "Echo", created.Agent["name"])

	resp, err := http.Get(ts.URL + "/api/agents")
	require.NoError(t, err)
	var listed struct {
		Agents []agentInfo `json:"agents"`
	}
	decodeBody(t, resp, &listed)
	require.Len(t, listed.Agents, 1)
	assert.Equal(t, "Echo", listed.Agents[0].Name)
	assert.Equal(t, "assistant", listed.Agents[0].Role)
	assert.Equal(t, "repeats things", listed.Agents[0].Description)
	assert.Equal(t, agent.StateIdle, listed.Agents[0].State)
	assert.Equal(t, 0, listed.Agents[0].InboxCount)
}

func TestCreateAgentDuplicate(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/agents", map[string]string{"name": "Echo", "role": "a"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/agents", map[string]string{"name": "Echo", "role": "b"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Contains(t, body["error"], "already exists")
}

func TestCreateAgentValidation(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/agents", map[string]string{"role": "nameless"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/agents", map[string]string{"name": "X", "kind": "quantum"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Contains(t, body["error"], "unknown agent kind")

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/agents", strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateLLMAgentUsesProviderConfig(t *testing.T) {
	_, ts := newTestServer(t, WithProviderConfig(map[string]map[string]any{
		"mock": {"content": "scripted reply"},
	}))

	resp := postJSON(t, ts.URL+"/api/agents", map[string]string{
		"name":     "Bot",
		"role":     "assistant",
		"kind":     "llm",
		"provider": "mock",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/tasks", map[string]string{"agent": "Bot", "task": "say hi"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool   `json:"success"`
		Result  string `json:"result"`
	}
	decodeBody(t, resp, &body)
	assert.True(t, body.Success)
	assert.Equal(t, "scripted reply", body.Result)
}

func TestDeleteAgent(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.orch.AddAgent(echoAgent("Echo"))

	resp := deleteAgent(t, ts, "Echo")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	assert.Empty(t, srv.orch.Agents())

	resp = deleteAgent(t, ts, "Echo")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestAgentHistory(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.orch.AddAgent(echoAgent("Echo"))

	resp := postJSON(t, ts.URL+"/api/tasks", map[string]string{"agent": "Echo", "task": "remember this"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/api/agents/Echo/history")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		History struct {
			AgentID   string `json:"agent_id"`
			ShortTerm []struct {
				Content string `json:"content"`
			} `json:"short_term"`
			LongTermCount int `json:"long_term_count"`
		} `json:"history"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "Echo", body.History.AgentID)
	require.Len(t, body.History.ShortTerm, 1)
	assert.Contains(t, body.History.ShortTerm[0].Content, "remember this")

	resp, err = http.Get(ts.URL + "/api/agents/Ghost/history")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestSendMessage(t *testing.T) {
	srv, ts := newTestServer(t)
	alice := echoAgent("Alice")
	bob := echoAgent("Bob")
	carol := echoAgent("Carol")
	srv.orch.AddAgent(alice)
	srv.orch.AddAgent(bob)
	srv.orch.AddAgent(carol)

	resp := postJSON(t, ts.URL+"/api/messages", map[string]string{
		"sender": "Alice", "receiver": "Bob", "content": "hi Bob",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 1, bob.InboxLen())
	assert.Equal(t, 0, carol.InboxLen())

	resp = postJSON(t, ts.URL+"/api/messages", map[string]string{
		"sender": "Alice", "receiver": "all", "content": "hi everyone",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 2, bob.InboxLen())
	assert.Equal(t, 1, carol.InboxLen())
	assert.Equal(t, 0, alice.InboxLen())

	resp = postJSON(t, ts.URL+"/api/messages", map[string]string{
		"sender": "Ghost", "receiver": "Bob", "content": "boo",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/messages", map[string]string{
		"sender": "Alice", "receiver": "Ghost", "content": "anyone there",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestExecuteTask(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.orch.AddAgent(echoAgent("Echo"))
	srv.orch.AddAgent(agent.New("Broken", "worker", agent.WithTaskFunc(
		func(ctx context.Context, task string) (string, error) {
			return "", errors.New("task exploded")
		},
	)))

	resp := postJSON(t, ts.URL+"/api/tasks", map[string]string{"agent": "Echo", "task": "ship it"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var ok struct {
		Success bool   `json:"success"`
		Result  string `json:"result"`
	}
	decodeBody(t, resp, &ok)
	assert.True(t, ok.Success)
	assert.Equal(t, "Echo did ship it", ok.Result)

	resp = postJSON(t, ts.URL+"/api/tasks", map[string]string{"agent": "Broken", "task": "ship it"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var failed map[string]string
	decodeBody(t, resp, &failed)
	assert.Contains(t, failed["error"], "task exploded")

	resp = postJSON(t, ts.URL+"/api/tasks", map[string]string{"agent": "Ghost", "task": "ship it"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestBusHistoryReturnsLastFifty(t *testing.T) {
	srv, ts := newTestServer(t)
	alice := echoAgent("Alice")
	srv.orch.AddAgent(alice)
	srv.orch.AddAgent(echoAgent("Bob"))

	for i := 0; i < 55; i++ {
		require.NoError(t, alice.SendTo("Bob", fmt.Sprintf("message %d", i), agent.TypeText))
	}

	resp, err := http.Get(ts.URL + "/api/bus/history")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		History []struct {
			Content string `json:"content"`
		} `json:"history"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.History, 50)
	assert.Equal(t, "message 5", body.History[0].Content)
	assert.Equal(t, "message 54", body.History[49].Content)
}

func TestOrchestratorStatus(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.orch.AddAgent(echoAgent("Alice"))
	srv.orch.AddAgent(echoAgent("Bob"))
	srv.orch.CreateTask("audit the logs", "Alice")

	resp, err := http.Get(ts.URL + "/api/orchestrator/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var status orchestrator.Status
	decodeBody(t, resp, &status)
	assert.Len(t, status.Agents, 2)
	assert.Equal(t, "worker", status.Agents["Alice"].Role)
	assert.Equal(t, agent.StateIdle, status.Agents["Alice"].State)
	assert.Equal(t, 1, status.TasksCount)
}

func TestOrchestratorRun(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.orch.AddAgent(echoAgent("Alice"))
	srv.orch.AddAgent(echoAgent("Bob"))

	resp := postJSON(t, ts.URL+"/api/orchestrator/run", map[string]string{
		"task": "ship it", "strategy": "round_robin",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool                   `json:"success"`
		Result  orchestrator.RunResult `json:"result"`
	}
	decodeBody(t, resp, &body)
	assert.True(t, body.Success)
	assert.Equal(t, orchestrator.StrategyRoundRobin, body.Result.Strategy)
	assert.Equal(t, "Alice", body.Result.Agent)
	assert.Equal(t, "Alice did ship it", body.Result.Output)

	resp = postJSON(t, ts.URL+"/api/orchestrator/run", map[string]string{"strategy": "auto"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readWSText(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return data
}

func TestWebSocketHeartbeatAndEvents(t *testing.T) {
	_, ts := newTestServer(t)

	conn := dialWS(t, ts)
	defer conn.Close()

	// The pong round-trip also guarantees registration completed before
	// any event is published.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	assert.Equal(t, "pong", string(readWSText(t, conn)))

	resp := postJSON(t, ts.URL+"/api/agents", map[string]string{"name": "Echo", "role": "assistant"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	var event WSEvent
	require.NoError(t, json.Unmarshal(readWSText(t, conn), &event))
	assert.Equal(t, "agent_created", event.Type)
	assert.NotEmpty(t, event.Timestamp)
	data, ok := event.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Echo", data["name"])

	resp = postJSON(t, ts.URL+"/api/tasks", map[string]string{"agent": "Echo", "task": "wave"})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	resp.Body.Close()

	require.NoError(t, json.Unmarshal(readWSText(t, conn), &event))
	assert.Equal(t, "task_started", event.Type)
	require.NoError(t, json.Unmarshal(readWSText(t, conn), &event))
	assert.Equal(t, "task_failed", event.Type)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	_, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestWSClientSendAfterClose(t *testing.T) {
	c := &WSClient{send: make(chan []byte, 1)}

	assert.True(t, c.trySend([]byte("pong")))
	assert.False(t, c.trySend([]byte("pong")), "full queue should report false")

	c.closeSend()
	c.closeSend() // idempotent

	// A heartbeat reply racing the hub's close must not panic.
	assert.False(t, c.trySend([]byte("pong")))
}

func TestRateLimit(t *testing.T) {
	_, ts := newTestServer(t, WithRateLimit(1, 1))

	resp, err := http.Get(ts.URL + "/api/agents")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/agents")
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "rate limit exceeded", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	observability.InitMetrics()
	srv, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/agents")
	require.NoError(t, err)
	resp.Body.Close()

	// Drive a bus message and a provider completion so their counters
	// carry samples, not just registrations.
	srv.orch.AddAgent(echoAgent("Echo"))
	srv.orch.Bus().Send(agent.NewMessage("tester", "Echo", "hello", agent.TypeText))

	mock := provider.NewMockProvider("mock")
	mock.AddCompletionResponse(provider.MockCompletionResponse("done"))
	llm := agents.NewLLM("Scribe", "writer", mock)
	_, err = llm.ExecuteTask(context.Background(), "write a line")
	require.NoError(t, err)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "agora_http_requests_total")
	assert.Contains(t, string(body), `agora_bus_messages_total{type="text"}`)
	assert.Contains(t, string(body), `agora_provider_requests_total{provider="mock",status="ok"}`)
}

func TestHealthEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health struct {
		Status string `json:"status"`
	}
	decodeBody(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
