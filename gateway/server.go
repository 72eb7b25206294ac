package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gigchain/core/state"
	"gigchain/crypto"
	"gigchain/gateway/middleware"
	"gigchain/native/common"
	"gigchain/native/marketplace"
	"gigchain/native/reputation"
)

const (
	headerCaller    = "X-Caller"
	headerRequestID = "X-Request-Id"
)

// Server exposes the marketplace operations over HTTP. Each handler runs one
// engine operation as a single unit of work: staged state is committed on
// success and discarded on failure.
type Server struct {
	engine   *marketplace.Engine
	state    *state.Manager
	profiles *reputation.Ledger
	owner    [20]byte
	logger   *slog.Logger
	obs      *middleware.Observability

	// Serializes operations so units of work never interleave.
	mu sync.Mutex
}

// NewServer wires the gateway against the engine and its state manager.
func NewServer(engine *marketplace.Engine, mgr *state.Manager, profiles *reputation.Ledger, owner [20]byte, logger *slog.Logger, obs *middleware.Observability) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:   engine,
		state:    mgr,
		profiles: profiles,
		owner:    owner,
		logger:   logger,
		obs:      obs,
	}
}

// Handler builds the chi router for the marketplace API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	if s.obs != nil {
		r.Use(s.obs.Middleware("marketplace"))
		r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.handlePostJob)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Post("/jobs/{jobID}/cancel", s.handleCancelJob)
		r.Post("/jobs/{jobID}/proposals", s.handleSubmitProposal)
		r.Post("/jobs/{jobID}/accept", s.handleAcceptProposal)
		r.Post("/jobs/{jobID}/bonus", s.handleAddBonus)
		r.Post("/jobs/{jobID}/milestones", s.handleAddMilestone)
		r.Post("/jobs/{jobID}/milestones/{milestoneID}/release", s.handleReleaseMilestone)
		r.Post("/jobs/{jobID}/completion", s.handleSubmitCompletion)
		r.Post("/jobs/{jobID}/approve", s.handleApproveCompletion)
		r.Post("/jobs/{jobID}/dispute", s.handleInitiateDispute)
		r.Post("/jobs/{jobID}/dispute/evidence", s.handleSubmitEvidence)
		r.Post("/jobs/{jobID}/dispute/arbiter", s.handleTakeArbiter)
		r.Post("/jobs/{jobID}/dispute/resolve", s.handleResolveDispute)
		r.Get("/profiles/{address}", s.handleGetProfile)
		r.Post("/admin/arbiters", s.handleAdminArbiter)
		r.Post("/admin/pause", s.handleAdminPause)
	})
	return r
}

// run executes op as one unit of work under the server lock.
func (s *Server) run(op func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := op(); err != nil {
		s.state.Discard()
		return err
	}
	return s.state.Commit()
}

// read executes op under the server lock so a reader can never observe
// another request's staged, not yet committed writes.
func (s *Server) read(op func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return op()
}

func (s *Server) caller(r *http.Request) ([20]byte, error) {
	var caller [20]byte
	raw := r.Header.Get(headerCaller)
	if raw == "" {
		return caller, fmt.Errorf("%w: missing %s header", marketplace.ErrNotAuthorized, headerCaller)
	}
	decoded, err := crypto.DecodeAddress(raw)
	if err != nil {
		return caller, fmt.Errorf("%w: %v", marketplace.ErrNotAuthorized, err)
	}
	copy(caller[:], decoded.Bytes())
	return caller, nil
}

func jobIDParam(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "jobID")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: job id %q", marketplace.ErrJobNotFound, raw)
	}
	return id, nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", marketplace.ErrInvalidAmount, raw)
	}
	return amount, nil
}

func (s *Server) decode(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", marketplace.ErrInvalidAmount, err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(headerRequestID, uuid.NewString())
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, marketplace.ErrJobNotFound),
		errors.Is(err, marketplace.ErrProposalNotFound),
		errors.Is(err, marketplace.ErrMilestoneNotFound),
		errors.Is(err, marketplace.ErrNoActiveDispute),
		errors.Is(err, reputation.ErrProfileNotFound):
		status = http.StatusNotFound
	case errors.Is(err, marketplace.ErrNotAuthorized),
		errors.Is(err, marketplace.ErrNotClient),
		errors.Is(err, marketplace.ErrNotAssignee),
		errors.Is(err, marketplace.ErrNotArbiter):
		status = http.StatusForbidden
	case errors.Is(err, marketplace.ErrInvalidStatus),
		errors.Is(err, marketplace.ErrAlreadyExists),
		errors.Is(err, marketplace.ErrProposalAlreadySubmitted),
		errors.Is(err, marketplace.ErrMilestoneAlreadyPaid),
		errors.Is(err, marketplace.ErrJobClosed),
		errors.Is(err, common.ErrModulePaused):
		status = http.StatusConflict
	case errors.Is(err, marketplace.ErrInvalidAmount),
		errors.Is(err, marketplace.ErrDeadlinePassed),
		errors.Is(err, marketplace.ErrInsufficientFunds):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("operation failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

type jobResponse struct {
	ID        uint64 `json:"id"`
	Client    string `json:"client"`
	Title     string `json:"title"`
	Total     string `json:"total"`
	Remaining string `json:"remaining"`
	Deadline  int64  `json:"deadline"`
	Status    string `json:"status"`
	Assignee  string `json:"assignee,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

func renderJob(job *marketplace.Job) jobResponse {
	resp := jobResponse{
		ID:        job.ID,
		Client:    crypto.NewAddress(crypto.GigPrefix, job.Client[:]).String(),
		Title:     job.Title,
		Total:     job.Total.String(),
		Remaining: job.Remaining.String(),
		Deadline:  job.Deadline,
		Status:    job.Status.String(),
		CreatedAt: job.CreatedAt,
	}
	if job.HasAssignee {
		resp.Assignee = crypto.NewAddress(crypto.GigPrefix, job.Assignee[:]).String()
	}
	return resp
}

func (s *Server) handlePostJob(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Total       string `json:"total"`
		Deadline    int64  `json:"deadline"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	total, err := parseAmount(req.Total)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var jobID uint64
	err = s.run(func() error {
		id, err := s.engine.PostJob(caller, req.Title, req.Description, total, req.Deadline)
		jobID = id
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]uint64{"jobId": jobID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var job *marketplace.Job
	err = s.read(func() error {
		loaded, err := s.engine.GetJob(jobID)
		job = loaded
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, renderJob(job))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	s.simpleJobOp(w, r, func(caller [20]byte, jobID uint64) error {
		return s.engine.CancelJob(caller, jobID)
	})
}

func (s *Server) handleSubmitProposal(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jobID, err := jobIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		Text     string `json:"text"`
		Amount   string `json:"amount"`
		Deadline int64  `json:"deadline"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	err = s.run(func() error {
		return s.engine.SubmitProposal(caller, jobID, req.Text, amount, req.Deadline)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, nil)
}

func (s *Server) handleAcceptProposal(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jobID, err := jobIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		Freelancer string `json:"freelancer"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	freelancer, err := crypto.DecodeAddress(req.Freelancer)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", marketplace.ErrProposalNotFound, err))
		return
	}
	var addr [20]byte
	copy(addr[:], freelancer.Bytes())
	err = s.run(func() error {
		return s.engine.AcceptProposal(caller, jobID, addr)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleAddBonus(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jobID, err := jobIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	err = s.run(func() error {
		return s.engine.AddBonus(caller, jobID, amount)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleAddMilestone(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jobID, err := jobIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		Description string `json:"description"`
		Amount      string `json:"amount"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var milestoneID uint64
	err = s.run(func() error {
		id, err := s.engine.AddMilestone(caller, jobID, req.Description, amount)
		milestoneID = id
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]uint64{"milestoneId": milestoneID})
}

func (s *Server) handleReleaseMilestone(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jobID, err := jobIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rawMilestone := chi.URLParam(r, "milestoneID")
	milestoneID, err := strconv.ParseUint(rawMilestone, 10, 64)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: milestone id %q", marketplace.ErrMilestoneNotFound, rawMilestone))
		return
	}
	err = s.run(func() error {
		return s.engine.ReleaseMilestone(caller, jobID, milestoneID)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleSubmitCompletion(w http.ResponseWriter, r *http.Request) {
	s.simpleJobOp(w, r, func(caller [20]byte, jobID uint64) error {
		return s.engine.SubmitCompletion(caller, jobID)
	})
}

func (s *Server) handleApproveCompletion(w http.ResponseWriter, r *http.Request) {
	s.simpleJobOp(w, r, func(caller [20]byte, jobID uint64) error {
		return s.engine.ApproveCompletion(caller, jobID)
	})
}

func (s *Server) handleInitiateDispute(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jobID, err := jobIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	err = s.run(func() error {
		return s.engine.InitiateDispute(caller, jobID, req.Reason)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, nil)
}

func (s *Server) handleSubmitEvidence(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jobID, err := jobIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		Evidence string `json:"evidence"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	err = s.run(func() error {
		return s.engine.SubmitEvidence(caller, jobID, req.Evidence)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleTakeArbiter(w http.ResponseWriter, r *http.Request) {
	s.simpleJobOp(w, r, func(caller [20]byte, jobID uint64) error {
		return s.engine.TakeArbiter(caller, jobID)
	})
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jobID, err := jobIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		ClientPct     uint32 `json:"clientPct"`
		FreelancerPct uint32 `json:"freelancerPct"`
		Resolution    string `json:"resolution"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	err = s.run(func() error {
		return s.engine.ResolveDispute(caller, jobID, req.ClientPct, req.FreelancerPct, req.Resolution)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "address")
	decoded, err := crypto.DecodeAddress(raw)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", reputation.ErrProfileNotFound, err))
		return
	}
	var addr [20]byte
	copy(addr[:], decoded.Bytes())
	var (
		profile *reputation.Profile
		ok      bool
	)
	err = s.read(func() error {
		loaded, found, err := s.profiles.Get(addr)
		profile, ok = loaded, found
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		s.writeError(w, fmt.Errorf("%w: %s", reputation.ErrProfileNotFound, raw))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":       raw,
		"jobsCompleted": profile.JobsCompleted,
		"jobsPosted":    profile.JobsPosted,
		"totalEarned":   profile.TotalEarned.String(),
		"totalPaid":     profile.TotalPaid.String(),
		"disputesWon":   profile.DisputesWon,
		"disputesLost":  profile.DisputesLost,
		"score":         profile.Score,
		"createdAt":     profile.CreatedAt,
	})
}

func (s *Server) handleAdminArbiter(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if caller != s.owner {
		s.writeError(w, marketplace.ErrNotAuthorized)
		return
	}
	var req struct {
		Address  string `json:"address"`
		Approved bool   `json:"approved"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	decoded, err := crypto.DecodeAddress(req.Address)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", marketplace.ErrNotAuthorized, err))
		return
	}
	var addr [20]byte
	copy(addr[:], decoded.Bytes())
	err = s.run(func() error {
		return s.state.ArbiterSet(addr, req.Approved)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleAdminPause(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if caller != s.owner {
		s.writeError(w, marketplace.ErrNotAuthorized)
		return
	}
	var req struct {
		Module string `json:"module"`
		Paused bool   `json:"paused"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	err = s.run(func() error {
		return s.state.SetPaused(req.Module, req.Paused)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) simpleJobOp(w http.ResponseWriter, r *http.Request, op func(caller [20]byte, jobID uint64) error) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jobID, err := jobIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.run(func() error { return op(caller, jobID) }); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}
