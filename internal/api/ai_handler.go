package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/obrasoft/aigateway/internal/gateway"
	"github.com/obrasoft/aigateway/internal/upstream"
)

// tenantHeader overrides any tenant id carried in the request body. A
// trusted reverse proxy sets it; body ids are a convenience for direct
// callers.
const tenantHeader = "X-Tenant-Id"

type aiHandler struct {
	gw *gateway.Gateway
}

func newAIHandler(gw *gateway.Gateway) *aiHandler {
	return &aiHandler{gw: gw}
}

// GenerateScope handles POST /api/ai/scope.
func (h *aiHandler) GenerateScope(w http.ResponseWriter, r *http.Request) {
	var req gateway.ScopeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if tenant := r.Header.Get(tenantHeader); tenant != "" {
		req.TenantID = tenant
	}

	result, err := h.gw.GenerateScope(r.Context(), req)
	if err != nil {
		writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// LookupMaterialPrices handles POST /api/ai/material-prices.
func (h *aiHandler) LookupMaterialPrices(w http.ResponseWriter, r *http.Request) {
	var req gateway.PriceRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if tenant := r.Header.Get(tenantHeader); tenant != "" {
		req.TenantID = tenant
	}

	result, err := h.gw.LookupMaterialPrices(r.Context(), req)
	if err != nil {
		writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetUsage handles GET /api/ai/usage?tenant=.
func (h *aiHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	usage := h.gw.TenantUsage(tenant)
	writeJSON(w, http.StatusOK, usage)
}

// writeGatewayError maps pipeline failures to the error envelope.
func writeGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *gateway.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "validation_error", verr.Message)
	case errors.Is(err, gateway.ErrBudgetExceeded):
		writeError(w, http.StatusTooManyRequests, "budget_exceeded", err.Error())
	case isShapeFailure(err):
		writeError(w, http.StatusBadGateway, "upstream_invalid_response", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away; the status is cosmetic at this point.
		writeError(w, 499, "request_canceled", "request canceled")
	case isUpstreamFailure(err):
		writeError(w, http.StatusBadGateway, "upstream_error", "AI provider request failed")
	default:
		slog.Error("unhandled gateway error",
			"error", err,
			"request_id", RequestIDFromContext(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func isShapeFailure(err error) bool {
	return errors.Is(err, gateway.ErrInvalidResponseFormat) ||
		errors.Is(err, gateway.ErrEmptyResponse) ||
		errors.Is(err, gateway.ErrNoValidOptions)
}

func isUpstreamFailure(err error) bool {
	var ue *upstream.Error
	if errors.As(err, &ue) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
