package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/i3lani/paywatch/common/httputil"
	"github.com/i3lani/paywatch/payments/internal/models"
)

// Reconcile handles POST /api/v1/admin/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.ForceReconcile(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// ListReview handles GET /api/v1/admin/review
func (h *Handler) ListReview(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParsePagination(r, 50, 100)
	resp, err := h.svc.ListReview(r.Context(), models.ReviewStatus(r.URL.Query().Get("status")), p.Page, p.Limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// ResolveReview handles POST /api/v1/admin/review/{id}/resolve
func (h *Handler) ResolveReview(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		httputil.WriteErrorCode(w, http.StatusBadRequest, "validation_error", "invalid review id")
		return
	}
	var req models.ResolveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteErrorCode(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	item, err := h.svc.ResolveReview(r.Context(), id, &req, operator(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}

// ListUntracked handles GET /api/v1/admin/untracked
func (h *Handler) ListUntracked(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParsePagination(r, 50, 100)
	resp, err := h.svc.ListUntracked(r.Context(), models.ReviewStatus(r.URL.Query().Get("status")), p.Page, p.Limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// ResolveUntracked handles POST /api/v1/admin/untracked/{id}/resolve
func (h *Handler) ResolveUntracked(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		httputil.WriteErrorCode(w, http.StatusBadRequest, "validation_error", "invalid untracked payment id")
		return
	}
	var req models.ResolveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteErrorCode(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	p, err := h.svc.ResolveUntracked(r.Context(), id, &req, operator(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

// Refund handles POST /api/v1/admin/payments/{memo}/refund
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	var req models.RefundRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteErrorCode(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
	}

	rec, err := h.svc.Refund(r.Context(), chi.URLParam(r, "memo"), operator(r), req.Note)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// AuditTrail handles GET /api/v1/admin/payments/{memo}/audit
func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	trail, err := h.svc.AuditTrail(r.Context(), chi.URLParam(r, "memo"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"memo": chi.URLParam(r, "memo"), "entries": trail})
}

// SearchAudit handles GET /api/v1/admin/audit/search?q=&size=
func (h *Handler) SearchAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	entries, err := h.svc.SearchAudit(r.Context(), q, size)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"query": q, "entries": entries})
}
