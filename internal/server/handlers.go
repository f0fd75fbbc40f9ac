package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/recoguard/recoguard/internal/evaluator"
	"github.com/recoguard/recoguard/internal/governance"
	"github.com/recoguard/recoguard/internal/monitor"
	"github.com/recoguard/recoguard/internal/pkg/errors"
	"github.com/recoguard/recoguard/internal/pkg/security"
	"github.com/recoguard/recoguard/internal/reco"
	"github.com/recoguard/recoguard/internal/threshold"
)

const (
	defaultStatsWindow  = time.Hour
	defaultReportWindow = 24 * time.Hour
)

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /v1/spans/{id}/start", s.handleSpanStart)
	mux.HandleFunc("POST /v1/spans/{id}/stages/{stage}", s.handleSpanMark)
	mux.HandleFunc("GET /v1/spans/stats", s.handleSpanStats)

	mux.HandleFunc("POST /v1/governance/evaluate", s.handleEvaluate)

	mux.HandleFunc("GET /v1/records", s.handleRecords)
	mux.HandleFunc("GET /v1/records/{id}", s.handleRecord)
	mux.HandleFunc("GET /v1/reports", s.handleReport)
	mux.HandleFunc("GET /v1/alerts", s.handleAlerts)

	mux.HandleFunc("GET /v1/thresholds", s.handleThresholds)
	mux.HandleFunc("POST /v1/thresholds/reload", s.handleThresholdReload)
	mux.HandleFunc("GET /v1/thresholds/audit", s.handleThresholdAudit)

	if s.deps.Metrics != nil {
		mux.Handle("GET "+s.cfg.MetricsPath, s.deps.Metrics.Handler())
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":             "ok",
		"version":            s.cfg.Version,
		"spans_in_flight":    s.deps.Tracker.InFlight(),
		"records_retained":   s.deps.Store.Len(),
		"thresholds_version": s.deps.Thresholds.Version(),
	})
}

func (s *Server) handleSpanStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := security.ValidateRequestID(id); err != nil {
		errors.WriteError(w, errors.ValidationError(err.Error()))
		return
	}
	if err := s.deps.Tracker.Start(id); err != nil {
		if errors.IsCode(err, errors.CodeDuplicateSpan) && s.deps.Metrics != nil {
			s.deps.Metrics.RecordDuplicate("span")
		}
		errors.WriteError(w, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]string{"request_id": id})
}

func (s *Server) handleSpanMark(w http.ResponseWriter, r *http.Request) {
	id, stage := r.PathValue("id"), r.PathValue("stage")
	if err := security.ValidateRequestID(id); err != nil {
		errors.WriteError(w, errors.ValidationError(err.Error()))
		return
	}
	if err := security.ValidateStageName(stage); err != nil {
		errors.WriteError(w, errors.ValidationError(err.Error()))
		return
	}
	s.deps.Tracker.Mark(id, stage)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSpanStats(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, "window", defaultStatsWindow)
	if err != nil {
		errors.WriteError(w, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Tracker.Statistics(window))
}

// EvaluateRequest is the body of POST /v1/governance/evaluate. A missing
// request id is generated; a request without an open span gets one now.
type EvaluateRequest struct {
	RequestID  string              `json:"request_id"`
	Candidates []reco.Candidate    `json:"candidates" validate:"dive"`
	Member     reco.MemberContext  `json:"member"`
	History    *reco.MemberHistory `json:"history,omitempty"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		errors.WriteError(w, err)
		return
	}
	if req.Candidates == nil {
		errors.WriteError(w, errors.InvalidInputError("candidates is required"))
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	} else if err := security.ValidateRequestID(req.RequestID); err != nil {
		errors.WriteError(w, errors.ValidationError(err.Error()))
		return
	}
	if _, err := s.deps.Tracker.Ensure(req.RequestID); err != nil {
		errors.WriteError(w, err)
		return
	}

	res, err := s.deps.Coordinator.Govern(r.Context(), governance.Request{
		RequestID:  req.RequestID,
		Candidates: req.Candidates,
		Member:     req.Member,
		History:    req.History,
	})
	if err != nil {
		errors.WriteError(w, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, "window", defaultStatsWindow)
	if err != nil {
		errors.WriteError(w, err)
		return
	}
	records := s.deps.Store.Query(window, r.URL.Query().Get("member"))
	writeJSON(w, r, http.StatusOK, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := security.ValidateRequestID(id); err != nil {
		errors.WriteError(w, errors.ValidationError(err.Error()))
		return
	}
	rec, ok := s.deps.Store.Get(id)
	if !ok {
		errors.WriteError(w, errors.NotFoundError("record").WithDetail("request_id", id))
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	g, err := monitor.ParseGranularity(r.URL.Query().Get("granularity"))
	if err != nil {
		errors.WriteError(w, errors.ValidationError(err.Error()))
		return
	}
	window, err := parseWindow(r, "window", defaultReportWindow)
	if err != nil {
		errors.WriteError(w, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Store.ReportFor(g, window))
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, "window", defaultReportWindow)
	if err != nil {
		errors.WriteError(w, err)
		return
	}
	minSeverity := evaluator.SeverityInfo
	if raw := r.URL.Query().Get("severity"); raw != "" {
		if minSeverity, err = evaluator.ParseSeverity(raw); err != nil {
			errors.WriteError(w, errors.ValidationError(err.Error()))
			return
		}
	}
	alerts := s.deps.Store.Alerts(window, minSeverity)
	writeJSON(w, r, http.StatusOK, map[string]any{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

// ThresholdsResponse describes the active threshold set.
type ThresholdsResponse struct {
	Version    uint64         `json:"version"`
	LoadedAt   time.Time      `json:"loaded_at"`
	Path       string         `json:"path,omitempty"`
	Thresholds *threshold.Set `json:"thresholds"`
}

func (s *Server) thresholdsResponse() ThresholdsResponse {
	h := s.deps.Thresholds
	return ThresholdsResponse{
		Version:    h.Version(),
		LoadedAt:   h.LoadedAt(),
		Path:       h.Path(),
		Thresholds: h.Load(),
	}
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.thresholdsResponse())
}

func (s *Server) handleThresholdReload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Thresholds.Path() == "" {
		errors.WriteError(w, errors.ValidationError("no threshold file configured"))
		return
	}
	if err := s.deps.Thresholds.Reload(); err != nil {
		errors.WriteError(w, errors.Wrap(errors.CodeValidation, "threshold reload failed: "+err.Error(), err))
		return
	}
	writeJSON(w, r, http.StatusOK, s.thresholdsResponse())
}

func (s *Server) handleThresholdAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		errors.WriteError(w, errors.NotFoundError("threshold audit log"))
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errors.WriteError(w, errors.ValidationError("limit must be a positive integer").WithDetail("limit", raw))
			return
		}
		limit = n
	}
	entries, err := s.deps.Audit.Entries(limit)
	if err != nil {
		errors.WriteError(w, errors.InternalError("failed to read threshold audit log", err))
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}
