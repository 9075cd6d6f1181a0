package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	cascadedistribution "splitflow/contexts/finance-core/cascade-distribution"
	distributionerrors "splitflow/contexts/finance-core/cascade-distribution/domain/errors"
	distributionhttp "splitflow/contexts/finance-core/cascade-distribution/transport/http"

	httpSwagger "github.com/swaggo/http-swagger"
	_ "splitflow/internal/platform/httpserver/docs"
)

type Options struct {
	// TriggerSecret guards every distribution route. An empty secret rejects
	// all protected requests.
	TriggerSecret string
	Metrics       http.Handler
	StaleAfter    time.Duration
}

type Server struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	addr         string
	server       *http.Server
	distribution cascadedistribution.Module
	options      Options
}

func New(
	distribution cascadedistribution.Module,
	options Options,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}
	if options.StaleAfter <= 0 {
		options.StaleAfter = 15 * time.Minute
	}

	s := &Server{
		mux:          http.NewServeMux(),
		logger:       logger,
		addr:         addr,
		distribution: distribution,
		options:      options,
	}
	s.registerRoutes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.options.Metrics != nil {
		s.mux.Handle("GET /metrics", s.options.Metrics)
	}

	s.mux.HandleFunc("POST /api/distribution/v1/process", s.requireTrigger(s.handleProcessBatch))
	s.mux.HandleFunc("POST /api/distribution/v1/payments", s.requireTrigger(s.handleEnqueuePayment))
	s.mux.HandleFunc("GET /api/distribution/v1/jobs/{job_id}", s.requireTrigger(s.handleGetJob))
	s.mux.HandleFunc("POST /api/distribution/v1/jobs/{job_id}/requeue", s.requireTrigger(s.handleRequeueJob))
	s.mux.HandleFunc("POST /api/distribution/v1/jobs/reset-stale", s.requireTrigger(s.handleResetStale))
	s.mux.HandleFunc("GET /api/distribution/v1/cascades/{source_ref}", s.requireTrigger(s.handleGetCascade))
	s.mux.HandleFunc("GET /api/distribution/v1/identifiers/{identifier}/balances", s.requireTrigger(s.handleGetBalances))
}

// requireTrigger checks the bearer token against the shared secret in
// constant time.
func (s *Server) requireTrigger(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		secret := s.options.TriggerSecret
		if !ok || secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			s.logger.Warn("distribution trigger unauthorized",
				"event", "distribution_trigger_unauthorized",
				"module", "internal/platform/httpserver",
				"layer", "platform",
				"path", r.URL.Path,
			)
			writeDistributionError(w, http.StatusUnauthorized, "unauthorized", "valid bearer token is required")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProcessBatch(w http.ResponseWriter, r *http.Request) {
	resp, err := s.distribution.Handler.ProcessBatchHandler(r.Context())
	if err != nil {
		s.logger.Error("distribution batch trigger failed",
			"event", "distribution_batch_trigger_failed",
			"module", "internal/platform/httpserver",
			"layer", "platform",
			"error", err.Error(),
		)
		writeDistributionDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEnqueuePayment(w http.ResponseWriter, r *http.Request) {
	var req distributionhttp.EnqueuePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDistributionError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.distribution.Handler.EnqueuePaymentHandler(
		r.Context(),
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writeDistributionDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	resp, err := s.distribution.Handler.GetJobHandler(r.Context(), r.PathValue("job_id"))
	if err != nil {
		writeDistributionDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRequeueJob(w http.ResponseWriter, r *http.Request) {
	resp, err := s.distribution.Handler.RequeueJobHandler(r.Context(), r.PathValue("job_id"))
	if err != nil {
		writeDistributionDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResetStale(w http.ResponseWriter, r *http.Request) {
	var req distributionhttp.ResetStaleRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDistributionError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
			return
		}
	}
	resp, err := s.distribution.Handler.ResetStaleHandler(r.Context(), req, s.options.StaleAfter)
	if err != nil {
		writeDistributionDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetCascade(w http.ResponseWriter, r *http.Request) {
	resp, err := s.distribution.Handler.GetCascadeHandler(r.Context(), r.PathValue("source_ref"))
	if err != nil {
		writeDistributionDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	resp, err := s.distribution.Handler.GetBalancesHandler(
		r.Context(),
		r.PathValue("identifier"),
		r.URL.Query().Get("asset"),
	)
	if err != nil {
		writeDistributionDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeDistributionDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, distributionerrors.ErrJobNotFound):
		writeDistributionError(w, http.StatusNotFound, "job_not_found", err.Error())
	case errors.Is(err, distributionerrors.ErrBatchInProgress):
		writeDistributionError(w, http.StatusConflict, "batch_in_progress", err.Error())
	case errors.Is(err, distributionerrors.ErrJobNotFailed):
		writeDistributionError(w, http.StatusConflict, "job_not_failed", err.Error())
	case errors.Is(err, distributionerrors.ErrIdempotencyConflict):
		writeDistributionError(w, http.StatusConflict, "idempotency_conflict", err.Error())
	case errors.Is(err, distributionerrors.ErrIdempotencyKeyMissing):
		writeDistributionError(w, http.StatusBadRequest, "idempotency_key_required", err.Error())
	case errors.Is(err, distributionerrors.ErrInvalidPaymentInput),
		errors.Is(err, distributionerrors.ErrInvalidJobInput),
		errors.Is(err, distributionerrors.ErrDepthExceeded):
		writeDistributionError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, distributionerrors.ErrSettlementOffline):
		writeDistributionError(w, http.StatusServiceUnavailable, "settlement_offline", err.Error())
	default:
		writeDistributionError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeDistributionError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, distributionhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
