package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/agent"
	"github.com/iksnae/chief-of-staff/internal/store"
	"go.uber.org/zap"
)

const (
	maxBodyBytes        = 1 << 20
	defaultSessionLimit = 20
	maxSessionLimit     = 200
)

type errorResponse struct {
	Error string `json:"error"`
	Gate  string `json:"gate,omitempty"`
}

type approveRequest struct {
	Data json.RawMessage `json:"data,omitempty"`
}

type runRequest struct {
	Instruction string `json:"instruction"`
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

type historyResponse struct {
	SessionID string              `json:"session_id"`
	Messages  []store.ChatMessage `json:"messages"`
}

type actionsResponse struct {
	Session *store.Session `json:"session"`
	Actions []store.Action `json:"actions"`
}

type costsResponse struct {
	store.CostSummary
	LimitUSD float64           `json:"limit_usd"`
	ByModel  []store.ModelCost `json:"by_model"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		internal.Logger().Debug("failed to write response", zap.Error(err))
	}
}

// respondError maps engine errors onto HTTP statuses.
func respondError(w http.ResponseWriter, err error) {
	var (
		gate       *internal.GateError
		validation *internal.ValidationError
		model      *internal.ModelError
	)
	switch {
	case errors.As(err, &gate):
		respondJSON(w, http.StatusTooManyRequests, errorResponse{Error: gate.Reason, Gate: gate.Gate})
	case errors.As(err, &validation):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: validation.Error()})
	case errors.Is(err, store.ErrNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrAlreadyResolved):
		respondJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &model):
		respondJSON(w, http.StatusBadGateway, errorResponse{Error: model.Error()})
	default:
		internal.Logger().Error("request failed", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

// decodeBody reads an optional JSON body into v. An empty body leaves v as is.
func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return &internal.ValidationError{Tool: "request", Reason: err.Error()}
	}
	if len(data) > maxBodyBytes {
		return &internal.ValidationError{Tool: "request", Reason: "body too large"}
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &internal.ValidationError{Tool: "request", Reason: fmt.Sprintf("invalid JSON body: %v", err)}
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"time":          s.now().UTC(),
		"autonomy_mode": s.cfg.Current().Agent.AutonomyMode,
	})
}

func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.approvals.Pending(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if pending == nil {
		pending = []store.Approval{}
	}
	respondJSON(w, http.StatusOK, pending)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	res, err := s.approvals.Resolve(r.Context(), mux.Vars(r)["id"], agent.Approve, req.Data)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	res, err := s.approvals.Resolve(r.Context(), mux.Vars(r)["id"], agent.Reject, nil)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, &internal.ValidationError{Tool: "request", Field: "limit", Reason: "must be a positive integer"})
			return
		}
		limit = min(n, maxSessionLimit)
	}
	sessions, err := s.store.RecentSessions(r.Context(), limit)
	if err != nil {
		respondError(w, err)
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	respondJSON(w, http.StatusOK, sessions)
}

// runSession starts a manual session and waits for it to finish.
func (s *Server) runSession(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	res, err := s.runner.RunNow(r.Context(), req.Instruction)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) sessionActions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	actions, err := s.store.SessionActions(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if actions == nil {
		actions = []store.Action{}
	}
	respondJSON(w, http.StatusOK, actionsResponse{Session: sess, Actions: actions})
}

// chat runs one turn. Model failures come back inline in the reply, as in
// the CLI; the streamed chunks go out on the event stream.
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	id, err := s.orch.EnsureChatSession(r.Context(), req.SessionID)
	if err != nil {
		respondError(w, err)
		return
	}
	reply, err := s.orch.SendChatMessage(r.Context(), id, req.Message)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, chatResponse{SessionID: id, Reply: reply})
}

// chatHistory reads the named chat, or the current one when no id is given.
// With no chat running it returns an empty history rather than starting one.
func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		current, err := s.orch.CurrentChatSession(r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		if current == "" {
			respondJSON(w, http.StatusOK, historyResponse{Messages: []store.ChatMessage{}})
			return
		}
		id = current
	}
	msgs, err := s.orch.ChatHistory(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if msgs == nil {
		msgs = []store.ChatMessage{}
	}
	respondJSON(w, http.StatusOK, historyResponse{SessionID: id, Messages: msgs})
}

func (s *Server) clearChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	id, err := s.orch.ClearChat(r.Context(), req.SessionID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) costs(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Current()
	loc := cfg.Location()
	summary, err := s.store.Summary(r.Context(), loc)
	if err != nil {
		respondError(w, err)
		return
	}
	byModel, err := s.store.CostByModelSince(r.Context(), store.StartOfDay(s.now().In(loc)))
	if err != nil {
		respondError(w, err)
		return
	}
	if byModel == nil {
		byModel = []store.ModelCost{}
	}
	respondJSON(w, http.StatusOK, costsResponse{CostSummary: summary, LimitUSD: cfg.API.MaxDailyCostUSD, ByModel: byModel})
}
