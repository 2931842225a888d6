// Package handlers provides HTTP request handlers for the payments service.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/i3lani/paywatch/common/httputil"
	"github.com/i3lani/paywatch/common/logging"
	"github.com/i3lani/paywatch/common/messaging"
	"github.com/i3lani/paywatch/payments/internal/audit"
	"github.com/i3lani/paywatch/payments/internal/auth"
	"github.com/i3lani/paywatch/payments/internal/confirmation"
	"github.com/i3lani/paywatch/payments/internal/models"
	"github.com/i3lani/paywatch/payments/internal/repository"
	"github.com/i3lani/paywatch/payments/internal/service"
)

const serviceName = "payments"

// Handler provides HTTP handlers for the payments service
type Handler struct {
	svc    *service.Service
	bus    messaging.Client
	logger *logging.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(svc *service.Service, logger *logging.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// WithBus reports bus health on /readyz. A disconnected bus degrades
// readiness but does not fail it: webhooks still deliver.
func (h *Handler) WithBus(bus messaging.Client) *Handler {
	h.bus = bus
	return h
}

// =============================================================================
// Health Check Handlers
// =============================================================================

// HealthCheck handles GET /healthz
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, models.HealthResponse{Status: "ok", Service: serviceName})
}

// ReadyCheck handles GET /readyz
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, models.HealthResponse{
			Status:  "unavailable",
			Service: serviceName,
			Error:   err.Error(),
		})
		return
	}
	resp := models.HealthResponse{Status: "ready", Service: serviceName}
	if h.bus != nil {
		bus := messaging.CheckClientHealth(r.Context(), h.bus)
		resp.Bus = &bus
		if !bus.Connected {
			resp.Status = "degraded"
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Payment Handlers
// =============================================================================

// InitiatePayment handles POST /api/v1/payments
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req models.InitiatePaymentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteErrorCode(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	resp, err := h.svc.InitiatePayment(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

// GetPayment handles GET /api/v1/payments/{memo}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.GetStatus(r.Context(), chi.URLParam(r, "memo"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// SettleCredit handles POST /api/v1/payments/{memo}/credits
func (h *Handler) SettleCredit(w http.ResponseWriter, r *http.Request) {
	var req models.SettleCreditRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteErrorCode(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	result, err := h.svc.SettleCredit(r.Context(), chi.URLParam(r, "memo"), &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// ProceedWithExcess handles POST /api/v1/payments/{memo}/proceed-with-excess
func (h *Handler) ProceedWithExcess(w http.ResponseWriter, r *http.Request) {
	var req models.ProceedWithExcessRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteErrorCode(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if req.OwnerID == "" {
		httputil.WriteErrorCode(w, http.StatusBadRequest, "validation_error", service.ErrInvalidOwner.Error())
		return
	}

	rec, err := h.svc.ProceedWithExcess(r.Context(), req.OwnerID, chi.URLParam(r, "memo"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// =============================================================================
// Helper Methods
// =============================================================================

// writeServiceError maps service and repository errors to HTTP responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		httputil.WriteErrorCode(w, http.StatusNotFound, "not_found", "payment not found")
	case errors.Is(err, service.ErrInvalidOwner),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrUnsupportedCurrency),
		errors.Is(err, service.ErrUnsupportedMethod),
		errors.Is(err, service.ErrInvalidChargeID),
		errors.Is(err, service.ErrInvalidResolution),
		errors.Is(err, service.ErrEmptyQuery),
		errors.Is(err, repository.ErrInvalidTransition):
		httputil.WriteErrorCode(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, service.ErrForbidden):
		httputil.WriteErrorCode(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, repository.ErrAlreadyResolved):
		httputil.WriteErrorCode(w, http.StatusConflict, "already_resolved", err.Error())
	case errors.Is(err, repository.ErrTxAlreadyBound):
		httputil.WriteErrorCode(w, http.StatusConflict, "tx_already_bound", err.Error())
	case errors.Is(err, confirmation.ErrNotPending):
		httputil.WriteErrorCode(w, http.StatusConflict, "not_pending", err.Error())
	case errors.Is(err, service.ErrNotConfirmed):
		httputil.WriteErrorCode(w, http.StatusConflict, "not_confirmed", err.Error())
	case errors.Is(err, service.ErrNotCreditPayment):
		httputil.WriteErrorCode(w, http.StatusConflict, "not_credit_payment", err.Error())
	case errors.Is(err, service.ErrNoPendingReview):
		httputil.WriteErrorCode(w, http.StatusConflict, "no_pending_review", err.Error())
	case errors.Is(err, service.ErrMemoExhausted),
		errors.Is(err, service.ErrReconcilerUnavailable),
		errors.Is(err, audit.ErrSearchUnavailable):
		httputil.WriteErrorCode(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "request failed", logging.Method(r.Method), logging.Path(r.URL.Path), logging.Error(err))
		httputil.WriteErrorCode(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// parseID reads a numeric {id} path parameter.
func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// operator names the admin behind the request.
func operator(r *http.Request) string {
	if sub := auth.SubjectFromContext(r.Context()); sub != "" {
		return sub
	}
	return "admin"
}
