package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"swarmshield/pkg/enforce"
	"swarmshield/pkg/eventbus"
	"swarmshield/pkg/screen"
	"swarmshield/pkg/structlog"
	"swarmshield/pkg/trend"
)

// apiServer is the boundary surface for the orchestration collaborator:
// confirmed verdicts, predictive requests, second-opinion screens, and
// operational introspection.
type apiServer struct {
	p      *pipeline
	evolve func(ctx context.Context) error
	log    *structlog.Logger
}

func (s *apiServer) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /verdict", s.handleVerdict)
	mux.HandleFunc("POST /preemptive", s.handlePreemptive)
	mux.HandleFunc("POST /screen", s.handleScreen)
	mux.HandleFunc("POST /evolve", s.handleEvolve)
	mux.HandleFunc("GET /actions", s.handleActions)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "reason": reason})
}

type verdictRequest struct {
	SourceID            string  `json:"source_id"`
	PredictedAttackType string  `json:"predicted_attack_type"`
	Confidence          float64 `json:"confidence"`
	RecommendedAction   string  `json:"recommended_action"`
	AgentID             string  `json:"agent_id"`
	Explanation         string  `json:"explanation"`
}

func (s *apiServer) handleVerdict(w http.ResponseWriter, r *http.Request) {
	var req verdictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed payload")
		return
	}
	if req.SourceID == "" {
		badRequest(w, "source_id required")
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		badRequest(w, "confidence out of range")
		return
	}
	// an empty recommendation defers to the attack-type fallback
	var recommended enforce.ActionKind
	if req.RecommendedAction != "" {
		k, ok := enforce.ParseKind(req.RecommendedAction)
		if !ok {
			badRequest(w, "unknown recommended_action")
			return
		}
		recommended = k
	}

	kind := enforce.Decide(recommended, req.Confidence, attackType(req.PredictedAttackType))
	action, err := s.p.engine.Apply(r.Context(), enforce.ApplyRequest{
		SourceID:   req.SourceID,
		Kind:       kind,
		AttackType: attackType(req.PredictedAttackType),
		Confidence: req.Confidence,
		Window:     s.p.snapshotFor(req.SourceID),
		AgentID:    req.AgentID,
	})
	status := "ok"
	code := http.StatusOK
	if err != nil {
		status = "error"
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, map[string]any{
		"status":       status,
		"action_taken": string(action.Kind),
		"succeeded":    action.Succeeded,
		"agent_id":     req.AgentID,
		"at":           action.AppliedAt.Format(time.RFC3339),
	})
}

type preemptiveRequest struct {
	SourceID            string  `json:"source_id"`
	AlertState          string  `json:"alert_state"`
	CurrentConfidence   float64 `json:"current_confidence"`
	PredictedConfidence float64 `json:"predicted_confidence"`
	RecommendedAction   string  `json:"recommended_action"`
	AgentID             string  `json:"agent_id"`
}

func (s *apiServer) handlePreemptive(w http.ResponseWriter, r *http.Request) {
	var req preemptiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed payload")
		return
	}
	if req.SourceID == "" {
		badRequest(w, "source_id required")
		return
	}
	kind, ok := enforce.ParseKind(req.RecommendedAction)
	if !ok {
		badRequest(w, "unknown recommended_action")
		return
	}

	preemptiveGate, confirmGate := s.p.gates()
	res := enforce.DecidePreemptive(enforce.PreemptiveRequest{
		SourceID:            req.SourceID,
		AlertState:          trend.AlertState(req.AlertState),
		CurrentConfidence:   req.CurrentConfidence,
		PredictedConfidence: req.PredictedConfidence,
		RecommendedAction:   kind,
		AgentID:             req.AgentID,
	}, preemptiveGate, confirmGate)

	// a gate rejection is a successful call, not an error
	if !res.Accepted {
		s.p.met.gateRejections.Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "gate_rejected", "reason": res.Reason})
		return
	}

	_, err := s.p.engine.Apply(r.Context(), enforce.ApplyRequest{
		SourceID:   req.SourceID,
		Kind:       res.Kind,
		Confidence: req.CurrentConfidence,
		Window:     s.p.snapshotFor(req.SourceID),
		AgentID:    req.AgentID,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleScreen(w http.ResponseWriter, r *http.Request) {
	var v screen.Verdict
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		badRequest(w, "malformed payload")
		return
	}
	if v.SourceID == "" {
		badRequest(w, "source_id required")
		return
	}

	m := screen.Map(v, s.p.screenFloor())
	if m.Ignored {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": m.Reason})
		return
	}
	action, err := s.p.engine.Apply(r.Context(), enforce.ApplyRequest{
		SourceID:   v.SourceID,
		Kind:       m.Kind,
		AttackType: m.AttackType,
		Confidence: v.Confidence,
		Window:     s.p.snapshotFor(v.SourceID),
		AgentID:    s.p.agentID,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"action_taken": string(action.Kind),
	})
}

func (s *apiServer) handleEvolve(w http.ResponseWriter, r *http.Request) {
	if err := s.evolve(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"active": s.p.engine.ActiveActions()})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	preemptiveGate, confirmGate := s.p.gates()
	writeJSON(w, http.StatusOK, map[string]any{
		"thresholds":      s.p.thresholds.Load(),
		"preemptive_gate": preemptiveGate,
		"confirm_gate":    confirmGate,
		"active_actions":  len(s.p.engine.ActiveActions()),
		"bus":             s.p.bus.String(),
		"topics": []string{
			eventbus.TopicTick, eventbus.TopicEarlyWarning,
			eventbus.TopicAssessment, eventbus.TopicPreAssessment,
			eventbus.TopicAction, eventbus.TopicThresholds,
		},
	})
}
