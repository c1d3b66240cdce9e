package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aixgo-dev/agora/agent"
	"github.com/aixgo-dev/agora/orchestrator"
)

// busHistoryLimit caps how many bus messages the history endpoint
// returns.
const busHistoryLimit = 50

// eventPayloadLimit caps result text embedded in WebSocket events.
const eventPayloadLimit = 500

type agentInfo struct {
	Name        string      `json:"name"`
	Role        string      `json:"role"`
	Description string      `json:"description"`
	State       agent.State `json:"state"`
	InboxCount  int         `json:"inbox_count"`
}

type sendMessageRequest struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
}

type executeTaskRequest struct {
	Agent string `json:"agent"`
	Task  string `json:"task"`
}

type runRequest struct {
	Task     string `json:"task"`
	Strategy string `json:"strategy"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	names := s.orch.Agents()
	infos := make([]agentInfo, 0, len(names))
	for _, name := range names {
		a, ok := s.orch.Agent(name)
		if !ok {
			continue
		}
		infos = append(infos, agentInfo{
			Name:        a.Name(),
			Role:        a.Role(),
			Description: a.Description(),
			State:       a.State(),
			InboxCount:  a.InboxLen(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": infos})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var def agent.Def
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if def.Name == "" {
		writeError(w, http.StatusBadRequest, "agent name is required")
		return
	}
	if _, exists := s.orch.Agent(def.Name); exists {
		writeError(w, http.StatusConflict, fmt.Sprintf("agent %q already exists", def.Name))
		return
	}

	a, err := agent.Create(def, s.env())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.orch.AddAgent(a)

	s.hub.Broadcast("agent_created", map[string]any{
		"name":        a.Name(),
		"role":        a.Role(),
		"description": a.Description(),
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"agent":   map[string]string{"name": a.Name(), "role": a.Role()},
	})
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.orch.RemoveAgent(name) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("agent %q not found", name))
		return
	}
	s.hub.Broadcast("agent_deleted", map[string]any{"name": name})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleAgentHistory(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	a, ok := s.orch.Agent(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("agent %q not found", name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": a.Memory().Summary()})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	sender, ok := s.orch.Agent(req.Sender)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("sender %q not found", req.Sender))
		return
	}
	if req.Receiver != agent.Everyone {
		if _, ok := s.orch.Agent(req.Receiver); !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("receiver %q not found", req.Receiver))
			return
		}
	}

	var err error
	if req.Receiver == agent.Everyone {
		err = sender.Broadcast(req.Content, agent.TypeText)
	} else {
		err = sender.SendTo(req.Receiver, req.Content, agent.TypeText)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.hub.Broadcast("message_sent", map[string]any{
		"sender":    req.Sender,
		"receiver":  req.Receiver,
		"content":   req.Content,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleExecuteTask(w http.ResponseWriter, r *http.Request) {
	var req executeTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	a, ok := s.orch.Agent(req.Agent)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("agent %q not found", req.Agent))
		return
	}

	s.hub.Broadcast("task_started", map[string]any{
		"agent": req.Agent,
		"task":  req.Task,
	})

	result, err := a.ExecuteTask(r.Context(), req.Task)
	if err != nil {
		s.hub.Broadcast("task_failed", map[string]any{
			"agent": req.Agent,
			"task":  req.Task,
			"error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.hub.Broadcast("task_completed", map[string]any{
		"agent":  req.Agent,
		"task":   req.Task,
		"result": truncate(result, eventPayloadLimit),
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

func (s *Server) handleBusHistory(w http.ResponseWriter, r *http.Request) {
	history := s.orch.Bus().History()
	if len(history) > busHistoryLimit {
		history = history[len(history)-busHistoryLimit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handleOrchestratorStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) handleOrchestratorRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Task == "" {
		writeError(w, http.StatusBadRequest, "task is required")
		return
	}

	s.hub.Broadcast("orchestrator_started", map[string]any{"task": req.Task})

	result, err := s.orch.Run(r.Context(), req.Task, orchestrator.Strategy(req.Strategy))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	summary := result.Output
	if len(result.Outputs) > 0 {
		summary = fmt.Sprintf("%v", result.Outputs)
	}
	s.hub.Broadcast("orchestrator_completed", map[string]any{
		"task":   req.Task,
		"result": truncate(summary, eventPayloadLimit),
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
