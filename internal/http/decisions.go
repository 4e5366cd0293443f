// Package http serves the decision engine over HTTP.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nextlevelbuilder/replyengine/internal/adjudicate"
	"github.com/nextlevelbuilder/replyengine/internal/config"
	"github.com/nextlevelbuilder/replyengine/internal/gate"
	"github.com/nextlevelbuilder/replyengine/internal/message"
	"github.com/nextlevelbuilder/replyengine/internal/store"
	"github.com/nextlevelbuilder/replyengine/pkg/protocol"
)

// DecisionsDeps wires the engine into the handler. Counters is optional.
type DecisionsDeps struct {
	Gate     *gate.Gate
	Reply    *adjudicate.ReplyAdjudicator
	Dedup    *adjudicate.DedupAdjudicator
	Override *adjudicate.OverrideAdjudicator
	Router   *adjudicate.ToolRouter
	Counters store.CounterStore
	// Policy returns the current reply policy (hot-reloaded).
	Policy func() config.PolicyConfig
	// RouteTimeout is used when a routing request carries no timeout.
	RouteTimeout func() time.Duration
}

// DecisionsHandler handles the gate and adjudicator endpoints.
type DecisionsHandler struct {
	token string
	DecisionsDeps
	now func() time.Time
}

// NewDecisionsHandler creates a handler for the decision endpoints.
func NewDecisionsHandler(token string, d DecisionsDeps) *DecisionsHandler {
	if d.Policy == nil {
		def := config.Default().Policy
		d.Policy = func() config.PolicyConfig { return def }
	}
	if d.RouteTimeout == nil {
		d.RouteTimeout = func() time.Duration { return 0 }
	}
	return &DecisionsHandler{token: token, DecisionsDeps: d, now: time.Now}
}

// RegisterRoutes registers all decision routes on the given mux.
func (h *DecisionsHandler) RegisterRoutes(mux *http.ServeMux) {
	// Local funnel
	mux.HandleFunc("POST "+protocol.RouteGate, h.auth(h.handleGate))
	mux.HandleFunc("GET "+protocol.RouteScoringModel, h.auth(h.handleScoringModel))

	// Adjudicators
	mux.HandleFunc("POST "+protocol.RouteReplyDecision, h.auth(h.handleReply))
	mux.HandleFunc("POST "+protocol.RouteDedupDecision, h.auth(h.handleDedup))
	mux.HandleFunc("POST "+protocol.RouteOverrideDecision, h.auth(h.handleOverride))
	mux.HandleFunc("POST "+protocol.RouteToolRouting, h.auth(h.handleRoute))

	// Counters
	mux.HandleFunc("GET "+protocol.RouteCounters, h.auth(h.handleGetCounters))
	mux.HandleFunc("POST "+protocol.RouteRecordReply, h.auth(h.handleRecordReply))

	// Unauthenticated
	mux.HandleFunc("GET "+protocol.RouteHealth, h.handleHealth)
	mux.Handle("GET "+protocol.RouteMetrics, promhttp.Handler())
}

func (h *DecisionsHandler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			if extractBearerToken(r) != h.token {
				writeJSON(w, http.StatusUnauthorized, protocol.ErrorResponse{Error: "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

// --- Local funnel ---

func (h *DecisionsHandler) handleGate(w http.ResponseWriter, r *http.Request) {
	var req protocol.GateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.FillSignals && !h.fillSignals(w, r, &req.Message, &req.Signals) {
		return
	}

	d := h.Gate.Evaluate(r.Context(), req.Message, req.Signals, req.History, gate.Options{
		LowThreshold:  req.LowThreshold,
		HighThreshold: req.HighThreshold,
	})
	if !req.Debug {
		d.Debug = nil
	}
	writeJSON(w, http.StatusOK, protocol.GateResponse{Decision: d})
}

func (h *DecisionsHandler) handleScoringModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Gate.Models().Current())
}

// --- Adjudicators ---

func (h *DecisionsHandler) handleReply(w http.ResponseWriter, r *http.Request) {
	var req protocol.ReplyDecisionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.FillSignals && !h.fillSignals(w, r, &req.Message, &req.Signals) {
		return
	}

	var resp protocol.ReplyDecisionResponse
	if !req.SkipGate {
		g := h.Gate.Evaluate(r.Context(), req.Message, req.Signals, req.History, gate.Options{})
		g.Debug = nil
		resp.Gate = &g
		if g.Action == gate.ActionIgnore {
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	policy := h.Policy()
	d := h.Reply.Decide(r.Context(), adjudicate.ReplyInput{
		Message: req.Message,
		Signals: req.Signals,
		History: req.History,
		Policy:  &policy,
	})
	resp.Decision = &d
	writeJSON(w, http.StatusOK, resp)
}

func (h *DecisionsHandler) handleDedup(w http.ResponseWriter, r *http.Request) {
	var req protocol.DedupDecisionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.BaseText) == "" || strings.TrimSpace(req.CandidateText) == "" {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "base_text and candidate_text are required"})
		return
	}
	d := h.Dedup.Decide(r.Context(), req.BaseText, req.CandidateText)
	writeJSON(w, http.StatusOK, protocol.DedupDecisionResponse{Decision: d})
}

func (h *DecisionsHandler) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req protocol.OverrideDecisionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	d := h.Override.Decide(r.Context(), req)
	writeJSON(w, http.StatusOK, protocol.OverrideDecisionResponse{Decision: d})
}

func (h *DecisionsHandler) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req protocol.ToolRoutingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserContent) == "" {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "user_content is required"})
		return
	}
	timeout := h.RouteTimeout()
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	out := h.Router.Route(r.Context(), adjudicate.RouteInput{
		Conversation:          req.Conversation,
		UserContent:           req.UserContent,
		OriginalRootDirective: req.OriginalRootDirective,
		Scope:                 req.Scope,
		Timeout:               timeout,
	})
	writeJSON(w, http.StatusOK, protocol.ToolRoutingResponse{Outcome: out})
}

// --- Counters ---

func (h *DecisionsHandler) handleGetCounters(w http.ResponseWriter, r *http.Request) {
	if !h.requireCounters(w) {
		return
	}
	key := r.PathValue("key")
	c, err := store.Load(r.Context(), h.Counters, key)
	if err != nil {
		slog.Error("counters.get", "key", key, "error", err)
		writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: "failed to load counters"})
		return
	}
	writeJSON(w, http.StatusOK, protocol.CountersResponse{Key: key, Counters: c})
}

func (h *DecisionsHandler) handleRecordReply(w http.ResponseWriter, r *http.Request) {
	if !h.requireCounters(w) {
		return
	}
	var req protocol.RecordReplyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Message.SenderID == "" {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "message.sender_id is required"})
		return
	}
	if err := store.RecordReply(r.Context(), h.Counters, req.Message, h.Policy(), h.now()); err != nil {
		slog.Error("counters.record", "sender", req.Message.SenderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: "failed to record reply"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DecisionsHandler) requireCounters(w http.ResponseWriter) bool {
	if h.Counters == nil {
		writeJSON(w, http.StatusNotImplemented, protocol.ErrorResponse{Error: "counter store not configured"})
		return false
	}
	return true
}

// fillSignals overlays counter-derived signals. A store failure is logged and
// the caller's signals are used unchanged.
func (h *DecisionsHandler) fillSignals(w http.ResponseWriter, r *http.Request, msg *message.Message, sig *message.Signals) bool {
	if !h.requireCounters(w) {
		return false
	}
	if err := store.FillSignals(r.Context(), h.Counters, *msg, h.Policy(), h.now(), sig); err != nil {
		slog.Warn("counters.fill_signals", "sender", msg.SenderID, "error", err)
	}
	return true
}

func (h *DecisionsHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"protocol":      protocol.ProtocolVersion,
		"model_version": h.Gate.Models().Current().Version,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "invalid JSON"})
		return false
	}
	return true
}

// extractBearerToken returns the token of an "Authorization: Bearer" header.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
