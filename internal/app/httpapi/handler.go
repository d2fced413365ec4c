// Package httpapi exposes the shipyard ledger over REST.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/shipyard/internal/app"
	"github.com/R3E-Network/shipyard/internal/app/domain/grant"
	"github.com/R3E-Network/shipyard/internal/app/metrics"
	"github.com/R3E-Network/shipyard/internal/app/services/allocations"
	"github.com/R3E-Network/shipyard/internal/app/services/applications"
	"github.com/R3E-Network/shipyard/internal/app/services/rounds"
	svcerrors "github.com/R3E-Network/shipyard/internal/errors"
	"github.com/R3E-Network/shipyard/internal/httputil"
	"github.com/R3E-Network/shipyard/internal/middleware"
	"github.com/R3E-Network/shipyard/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Options configures the HTTP surface.
type Options struct {
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	AdminTokens    []string
	AuditCapacity  int
	AuditLogPath   string
}

// Handler serves the REST API.
type Handler struct {
	app     *app.Application
	root    http.Handler
	limiter *middleware.RateLimiter
	audit   *auditLog
	sink    *fileAuditSink
	log     *logger.Logger
}

// NewHandler builds the router and its middleware chain.
func NewHandler(application *app.Application, opts Options, log *logger.Logger) (*Handler, error) {
	if log == nil {
		log = logger.NewDefault("http")
	}
	sink, err := newFileAuditSink(opts.AuditLogPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	var persist auditSink
	if sink != nil {
		persist = sink
	}

	h := &Handler{
		app:   application,
		audit: newAuditLog(opts.AuditCapacity, persist),
		sink:  sink,
		log:   log,
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteErrorResponse(w, req, http.StatusNotFound, string(svcerrors.CodeNotFound), "no such endpoint", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteErrorResponse(w, req, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	r.Use(
		middleware.TracingMiddleware,
		middleware.RecoveryMiddleware(log),
		middleware.MetricsMiddleware(),
		middleware.LoggingMiddleware(log),
		h.auditMiddleware,
	)

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
	r.HandleFunc("/services", h.services).Methods(http.MethodGet)

	r.HandleFunc("/ships", h.createRound).Methods(http.MethodPost)
	r.HandleFunc("/ships", h.listRounds).Methods(http.MethodGet)
	r.HandleFunc("/ships/{id}", h.getRound).Methods(http.MethodGet)
	r.HandleFunc("/ships/{id}/fund", h.fundRound).Methods(http.MethodPost)
	r.HandleFunc("/ships/{id}/fundings", h.listFundings).Methods(http.MethodGet)
	r.HandleFunc("/ships/{id}/applications", h.createApplication).Methods(http.MethodPost)
	r.HandleFunc("/ships/{id}/applications", h.listRoundApplications).Methods(http.MethodGet)
	r.HandleFunc("/ships/{id}/allocations", h.listAllocations).Methods(http.MethodGet)
	r.HandleFunc("/ships/{id}/distribute", h.distribute).Methods(http.MethodPost)
	r.HandleFunc("/ships/{id}/distributions", h.listDistributions).Methods(http.MethodGet)

	r.HandleFunc("/applications", h.listApplications).Methods(http.MethodGet)
	r.HandleFunc("/applications/{id}", h.getApplication).Methods(http.MethodGet)
	r.HandleFunc("/applications/{id}/decision", h.decide).Methods(http.MethodPost)

	admin := middleware.NewAdminAuth(opts.AdminTokens, log)
	r.Handle("/audit", admin.Handler(http.HandlerFunc(h.listAudit))).Methods(http.MethodGet)

	var root http.Handler = r
	if opts.RateLimitRPS > 0 {
		h.limiter = middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, log)
		root = h.limiter.Handler(root)
	}
	h.root = middleware.NewCORSMiddleware(opts.CORSOrigins).Handler(root)
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

// StartCleanup evicts idle rate-limit buckets until ctx is done.
func (h *Handler) StartCleanup(ctx context.Context) {
	if h.limiter != nil {
		h.limiter.StartCleanup(ctx, time.Minute)
	}
}

// Close releases the audit file.
func (h *Handler) Close() error {
	if h.sink == nil {
		return nil
	}
	return h.sink.Close()
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.app.Health(r.Context()))
}

func (h *Handler) services(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.app.Descriptors())
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.app.Stats.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

func (h *Handler) createRound(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name         string   `json:"name"`
		Description  string   `json:"description"`
		Approver     string   `json:"approver"`
		Criteria     []string `json:"criteria"`
		DurationDays *int     `json:"duration_days"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	noteActor(r, payload.Approver)

	round, err := h.app.Rounds.CreateRound(r.Context(), rounds.CreateInput{
		Name:         payload.Name,
		Description:  payload.Description,
		Approver:     payload.Approver,
		Criteria:     payload.Criteria,
		DurationDays: payload.DurationDays,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, round)
}

func (h *Handler) listRounds(w http.ResponseWriter, r *http.Request) {
	var status grant.RoundStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := grant.ParseRoundStatus(raw)
		if err != nil {
			h.fail(w, r, svcerrors.InvalidInput(err.Error()).WithDetails("field", "status"))
			return
		}
		status = parsed
	}
	list, err := h.app.Rounds.ListRounds(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) getRound(w http.ResponseWriter, r *http.Request) {
	round, err := h.app.Rounds.GetRound(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, round)
}

func (h *Handler) fundRound(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TxHash string `json:"tx_hash"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	round, err := h.app.Funding.VerifyAndCredit(r.Context(), mux.Vars(r)["id"], payload.TxHash)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, round)
}

func (h *Handler) listFundings(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Funding.ListFundings(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) createApplication(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Applicant       string    `json:"applicant"`
		ProjectName     string    `json:"project_name"`
		Description     string    `json:"description"`
		RequestedAmount rawAmount `json:"requested_amount"`
		Links           []string  `json:"links"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	noteActor(r, payload.Applicant)

	created, err := h.app.Applications.CreateApplication(r.Context(), applications.CreateInput{
		RoundID:         mux.Vars(r)["id"],
		Applicant:       payload.Applicant,
		ProjectName:     payload.ProjectName,
		Description:     payload.Description,
		RequestedAmount: string(payload.RequestedAmount),
		Links:           payload.Links,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) listRoundApplications(w http.ResponseWriter, r *http.Request) {
	h.writeApplications(w, r, mux.Vars(r)["id"])
}

func (h *Handler) listApplications(w http.ResponseWriter, r *http.Request) {
	h.writeApplications(w, r, "")
}

func (h *Handler) writeApplications(w http.ResponseWriter, r *http.Request, roundID string) {
	var status grant.ApplicationStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := grant.ParseApplicationStatus(raw)
		if err != nil {
			h.fail(w, r, svcerrors.InvalidInput(err.Error()).WithDetails("field", "status"))
			return
		}
		status = parsed
	}
	list, err := h.app.Applications.ListApplications(r.Context(), roundID, status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) getApplication(w http.ResponseWriter, r *http.Request) {
	found, err := h.app.Applications.GetApplication(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, found)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Actor    string    `json:"actor"`
		Approved *bool     `json:"approved"`
		Amount   rawAmount `json:"amount"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	if payload.Approved == nil {
		h.fail(w, r, svcerrors.InvalidInput("approved is required").WithDetails("field", "approved"))
		return
	}
	noteActor(r, payload.Actor)

	decision, err := h.app.Allocations.Decide(r.Context(), allocations.DecideInput{
		ApplicationID: mux.Vars(r)["id"],
		Actor:         payload.Actor,
		Approved:      *payload.Approved,
		Amount:        string(payload.Amount),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decision)
}

func (h *Handler) listAllocations(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Allocations.ListAllocations(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) distribute(w http.ResponseWriter, r *http.Request) {
	run, err := h.app.Distribution.Distribute(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, run)
}

func (h *Handler) listDistributions(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Distribution.ListDistributions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.fail(w, r, svcerrors.InvalidInput("limit must be a non-negative integer").WithDetails("field", "limit"))
			return
		}
		limit = n
	}
	httputil.WriteJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// decode reads a JSON body, rejecting unknown fields. On failure it writes
// the error response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), dst); err != nil {
		h.fail(w, r, svcerrors.InvalidInput("malformed request body: "+err.Error()))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if se := svcerrors.GetServiceError(err); se == nil || se.HTTPStatus >= http.StatusInternalServerError {
		h.log.WithContext(r.Context()).WithError(err).Error("request failed")
	}
	httputil.WriteServiceError(w, r, err)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON object")
	}
	return nil
}

// rawAmount captures an amount field verbatim so the ledger, not the JSON
// decoder, decides whether it is valid. Non-string tokens keep their JSON text.
type rawAmount string

func (a *rawAmount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "null":
		*a = ""
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = rawAmount(s)
	default:
		*a = rawAmount(raw)
	}
	return nil
}
