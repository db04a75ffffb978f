package server

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/copyleftdev/SORREL/internal/config"
	"github.com/copyleftdev/SORREL/internal/logging"
	"github.com/copyleftdev/SORREL/internal/optimization"
	"github.com/copyleftdev/SORREL/internal/optimization/sampling"
	"github.com/copyleftdev/SORREL/internal/optimization/strategy"
)

var (
	runsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sorrel_runs_started_total",
		Help: "Number of optimization runs created",
	})
	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sorrel_runs_active",
		Help: "Number of optimization runs currently held in memory",
	})
	proposalsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sorrel_proposals_issued_total",
		Help: "Proposals handed to workers, by kind",
	}, []string{"kind"})
	evaluationsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sorrel_evaluations_completed_total",
		Help: "Objective evaluations reported back by workers",
	})
	evaluationsAborted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sorrel_evaluations_aborted_total",
		Help: "Objective evaluations that died or were cancelled",
	})
	proposalsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sorrel_proposals_rejected_total",
		Help: "Proposals the worker pool declined",
	})
	pendingEvals = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sorrel_run_pending_evaluations",
		Help: "In-flight evaluations per run",
	}, []string{"run_id"})
	bestValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sorrel_run_best_value",
		Help: "Best completed objective value per run",
	}, []string{"run_id"})
)

// run binds one strategy instance to its serialization lock. Every
// strategy transition for a run goes through mu, which is what makes the
// event stream the strategy sees single-threaded.
type run struct {
	ID        string
	StartTime time.Time

	mu       sync.Mutex
	strategy strategy.Strategy

	LastUpdated time.Time
}

// syncMetrics refreshes the per-run gauges; callers hold rn.mu.
func (rn *run) syncMetrics() {
	st := rn.strategy.State()
	pendingEvals.WithLabelValues(rn.ID).Set(float64(st.FevalPending))
	if !math.IsInf(st.FBest, 0) {
		bestValue.WithLabelValues(rn.ID).Set(st.FBest)
	}
}

// Server manages optimization runs and exposes the worker-pool REST
// surface. The runs map is guarded separately from the per-run locks so
// status lookups never contend with a long strategy transition.
type Server struct {
	cfg    *config.Config
	logger *logging.Logger

	runs   map[string]*run
	runsMu sync.RWMutex
}

// NewServer creates a server with the given config and logger.
func NewServer(cfg *config.Config, logger *logging.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		runs:   make(map[string]*run),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/runs", func(r chi.Router) {
		r.Post("/", s.handleCreateRun)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleRunStatus)
			r.Delete("/", s.handleDeleteRun)
			r.Get("/action", s.handleProposeAction)
			r.Get("/evals", s.handleListEvals)
			r.Post("/checkpoint", s.handleCheckpoint)
			r.Post("/proposals/{ev}/accept", s.handleAcceptProposal)
			r.Post("/proposals/{ev}/reject", s.handleRejectProposal)
			r.Post("/records/{ev}/complete", s.handleCompleteRecord)
			r.Post("/records/{ev}/abort", s.handleAbortRecord)
		})
	})
}

// createRunRequest is the body of POST /api/v1/runs.
type createRunRequest struct {
	Dim              int       `json:"dim"`
	LowerBounds      []float64 `json:"lower_bounds"`
	UpperBounds      []float64 `json:"upper_bounds"`
	IntegerVariables []int     `json:"integer_variables,omitempty"`

	// MaxEvals is the evaluation budget; negative means a wall-clock
	// budget in seconds. Zero falls back to the server default.
	MaxEvals     int    `json:"max_evals"`
	BatchSize    int    `json:"batch_size,omitempty"`
	Asynchronous *bool  `json:"asynchronous,omitempty"`
	Variant      string `json:"variant,omitempty"` // "global" (default) or "srbf"
	Sampler      string `json:"sampler,omitempty"` // "srbf" (default) or "dycors"
	Seed         int64  `json:"seed,omitempty"`
	Checkpoint   bool   `json:"checkpoint,omitempty"`

	// ResumeID names a previously checkpointed run to restore instead
	// of starting fresh
	ResumeID string `json:"resume_id,omitempty"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	problem := &optimization.Problem{
		Dim:         req.Dim,
		LowerBounds: req.LowerBounds,
		UpperBounds: req.UpperBounds,
		IntVars:     req.IntegerVariables,
	}
	if err := problem.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	maxEvals := req.MaxEvals
	if maxEvals == 0 {
		maxEvals = s.cfg.Optimization.MaxEvals
	}
	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = s.cfg.Optimization.BatchSize
	}
	asynchronous := s.cfg.Optimization.Asynchronous
	if req.Asynchronous != nil {
		asynchronous = *req.Asynchronous
	}

	id := fmt.Sprintf("run_%d", time.Now().UnixNano())
	if req.ResumeID != "" {
		id = req.ResumeID
	}

	scfg := strategy.Config{
		Problem:      problem,
		MaxEvals:     maxEvals,
		BatchSize:    batchSize,
		Asynchronous: asynchronous,
		Seed:         req.Seed,
		Logger:       logging.NewZapLogger(s.logger.WithField("run_id", id)),
	}
	if req.Checkpoint || req.ResumeID != "" {
		if s.cfg.Optimization.CheckpointDir == "" {
			s.respondError(w, http.StatusBadRequest, "checkpointing is disabled on this server")
			return
		}
		scfg.CheckpointPath = filepath.Join(s.cfg.Optimization.CheckpointDir, id+".json")
	}

	switch req.Sampler {
	case "", "srbf":
	case "dycors":
		scfg.Sampler = sampling.NewCandidateDYCORS(problem, maxEvals, req.Seed,
			scfg.Logger)
	default:
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown sampler %q", req.Sampler))
		return
	}

	var (
		st  strategy.Strategy
		err error
	)
	switch {
	case req.ResumeID != "":
		st, err = strategy.Resume(scfg)
	case req.Variant == "" || req.Variant == "global":
		st, err = strategy.NewGlobalStrategy(scfg)
	case req.Variant == "srbf":
		st, err = strategy.NewSRBFStrategy(scfg)
	default:
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown variant %q", req.Variant))
		return
	}
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	rn := &run{ID: id, StartTime: now, strategy: st, LastUpdated: now}
	s.runsMu.Lock()
	if _, exists := s.runs[id]; exists {
		s.runsMu.Unlock()
		s.respondError(w, http.StatusConflict, fmt.Sprintf("run %q already exists", id))
		return
	}
	s.runs[id] = rn
	s.runsMu.Unlock()

	runsStarted.Inc()
	activeRuns.Inc()
	s.logger.Info("Run created", map[string]interface{}{
		"run_id":       id,
		"dim":          req.Dim,
		"max_evals":    maxEvals,
		"asynchronous": asynchronous,
		"variant":      req.Variant,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"run_id": id,
		"status": "created",
	})
}

// getRun looks the run up and reports the miss to the client.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) *run {
	id := chi.URLParam(r, "id")
	s.runsMu.RLock()
	rn, ok := s.runs[id]
	s.runsMu.RUnlock()
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("run %q not found", id))
		return nil
	}
	return rn
}

// eventID parses the {ev} URL parameter.
func (s *Server) eventID(w http.ResponseWriter, r *http.Request) (int, bool) {
	ev, err := strconv.Atoi(chi.URLParam(r, "ev"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "event id must be an integer")
		return 0, false
	}
	return ev, true
}

func (s *Server) handleProposeAction(w http.ResponseWriter, r *http.Request) {
	rn := s.getRun(w, r)
	if rn == nil {
		return
	}

	rn.mu.Lock()
	p, err := rn.strategy.ProposeAction()
	rn.syncMetrics()
	rn.LastUpdated = time.Now()
	rn.mu.Unlock()

	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if p == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"action": "wait"})
		return
	}

	proposalsIssued.WithLabelValues(string(p.Kind)).Inc()
	resp := map[string]interface{}{
		"action":   string(p.Kind),
		"event_id": p.EvID,
	}
	if p.Kind == strategy.ProposalEval {
		resp["point"] = p.Point
		if p.PredVal != nil {
			resp["predicted_value"] = *p.PredVal
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAcceptProposal(w http.ResponseWriter, r *http.Request) {
	rn := s.getRun(w, r)
	if rn == nil {
		return
	}
	ev, ok := s.eventID(w, r)
	if !ok {
		return
	}

	rn.mu.Lock()
	rec, err := rn.strategy.AcceptProposal(ev)
	done := rn.strategy.Done()
	rn.syncMetrics()
	rn.LastUpdated = time.Now()
	rn.mu.Unlock()

	if err != nil {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if rec == nil {
		// Terminate acknowledged
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"status": "terminated",
			"done":   done,
		})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "accepted",
		"event_id": rec.EvID,
		"point":    rec.Point,
	})
}

func (s *Server) handleRejectProposal(w http.ResponseWriter, r *http.Request) {
	rn := s.getRun(w, r)
	if rn == nil {
		return
	}
	ev, ok := s.eventID(w, r)
	if !ok {
		return
	}

	rn.mu.Lock()
	err := rn.strategy.RejectProposal(ev)
	rn.syncMetrics()
	rn.LastUpdated = time.Now()
	rn.mu.Unlock()

	if err != nil {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	proposalsRejected.Inc()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "rejected"})
}

func (s *Server) handleCompleteRecord(w http.ResponseWriter, r *http.Request) {
	rn := s.getRun(w, r)
	if rn == nil {
		return
	}
	ev, ok := s.eventID(w, r)
	if !ok {
		return
	}

	var body struct {
		Value *float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Value == nil {
		s.respondError(w, http.StatusBadRequest, "a numeric value is required")
		return
	}
	if math.IsNaN(*body.Value) || math.IsInf(*body.Value, 0) {
		s.respondError(w, http.StatusBadRequest, "value must be finite")
		return
	}

	rn.mu.Lock()
	err := rn.strategy.CompleteRecord(ev, *body.Value)
	st := rn.strategy.State()
	numEval, fbest := st.NumEval, st.FBest
	rn.syncMetrics()
	rn.LastUpdated = time.Now()
	rn.mu.Unlock()

	if err != nil {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	evaluationsCompleted.Inc()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "completed",
		"num_eval": numEval,
		"f_best":   finiteOrNil(fbest),
	})
}

func (s *Server) handleAbortRecord(w http.ResponseWriter, r *http.Request) {
	rn := s.getRun(w, r)
	if rn == nil {
		return
	}
	ev, ok := s.eventID(w, r)
	if !ok {
		return
	}

	rn.mu.Lock()
	err := rn.strategy.AbortRecord(ev)
	rn.syncMetrics()
	rn.LastUpdated = time.Now()
	rn.mu.Unlock()

	if err != nil {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	evaluationsAborted.Inc()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "aborted"})
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	rn := s.getRun(w, r)
	if rn == nil {
		return
	}

	rn.mu.Lock()
	st := rn.strategy.State()
	xbest, fbest := st.Best()
	resp := map[string]interface{}{
		"run_id":        rn.ID,
		"phase":         string(st.Phase),
		"num_eval":      st.NumEval,
		"max_evals":     st.MaxEvals,
		"feval_pending": st.FevalPending,
		"feval_budget":  st.FevalBudget,
		"accepted":      st.AcceptedCount,
		"rejected":      st.RejectedCount,
		"terminate":     st.Terminate,
		"done":          rn.strategy.Done(),
		"start_time":    rn.StartTime.Format(time.RFC3339),
		"last_update":   rn.LastUpdated.Format(time.RFC3339),
	}
	if xbest != nil {
		resp["best"] = map[string]interface{}{
			"point": xbest,
			"value": fbest,
		}
	}
	rn.mu.Unlock()

	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListEvals(w http.ResponseWriter, r *http.Request) {
	rn := s.getRun(w, r)
	if rn == nil {
		return
	}

	rn.mu.Lock()
	fevals := rn.strategy.Fevals()
	items := make([]map[string]interface{}, len(fevals))
	for i, rec := range fevals {
		item := map[string]interface{}{
			"event_id": rec.EvID,
			"point":    rec.Point,
			"value":    rec.Value,
			"ordinal":  rec.WorkerNumEval,
		}
		if rec.PredVal != nil {
			item["predicted_value"] = *rec.PredVal
		}
		items[i] = item
	}
	rn.mu.Unlock()

	s.respondJSON(w, http.StatusOK, map[string]interface{}{"evals": items})
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	rn := s.getRun(w, r)
	if rn == nil {
		return
	}

	rn.mu.Lock()
	err := rn.strategy.Save()
	rn.mu.Unlock()

	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "saved"})
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.runsMu.Lock()
	_, ok := s.runs[id]
	if ok {
		delete(s.runs, id)
	}
	s.runsMu.Unlock()

	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("run %q not found", id))
		return
	}
	activeRuns.Dec()
	pendingEvals.DeleteLabelValues(id)
	bestValue.DeleteLabelValues(id)
	s.logger.Info("Run deleted", map[string]interface{}{"run_id": id})
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "deleted"})
}

// Close drops all runs.
func (s *Server) Close() error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	activeRuns.Sub(float64(len(s.runs)))
	for id := range s.runs {
		pendingEvals.DeleteLabelValues(id)
		bestValue.DeleteLabelValues(id)
	}
	s.runs = make(map[string]*run)
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.logger.Error("Request error", map[string]interface{}{
		"status":  status,
		"message": message,
	})
	s.respondJSON(w, status, map[string]interface{}{"error": message})
}

// finiteOrNil keeps the +Inf best-value sentinel out of JSON responses.
func finiteOrNil(v float64) interface{} {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return v
}
