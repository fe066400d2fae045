package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mhollis/tally/internal/auth"
	"github.com/mhollis/tally/internal/billing"
	"github.com/mhollis/tally/internal/metrics"
	"github.com/mhollis/tally/internal/usage"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// billingHandler groups the organization-facing billing endpoints.
type billingHandler struct {
	engine  *billing.Engine
	metrics *metrics.Metrics
}

func newBillingHandler(engine *billing.Engine, m *metrics.Metrics) *billingHandler {
	return &billingHandler{engine: engine, metrics: m}
}

// GetBalance handles GET /api/v1/balance.
func (h *billingHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	org := auth.OrganizationFromContext(r.Context())

	bal, err := h.engine.GetLedger(r.Context(), org.ID)
	if err != nil {
		writeBillingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"organization_id": bal.OrganizationID,
		"balance":         bal.Balance,
		"tariff_plan":     bal.TariffPlan,
		"team_members":    bal.TeamMembers,
		"last_updated":    bal.LastUpdated,
	})
}

// topUpRequest is the JSON body for a balance top-up.
type topUpRequest struct {
	Amount float64 `json:"amount"`
}

// TopUp handles POST /api/v1/balance/topup.
func (h *billingHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	org := auth.OrganizationFromContext(r.Context())

	var req topUpRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "amount must be positive")
		return
	}

	newBalance, err := h.engine.TopUp(r.Context(), org.ID, req.Amount)
	if err != nil {
		writeBillingError(w, err)
		return
	}

	h.metrics.IncTopUp(req.Amount)
	auditLog(r, "topup", "balance", org.ID, "amount", req.Amount)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"organization_id": org.ID,
		"balance":         newBalance,
	})
}

// GetUsageSummary handles GET /api/v1/usage.
func (h *billingHandler) GetUsageSummary(w http.ResponseWriter, r *http.Request) {
	org := auth.OrganizationFromContext(r.Context())

	q, err := usageQueryFromRequest(r, org.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	sum, err := h.engine.UsageSummary(r.Context(), q)
	if err != nil {
		writeBillingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sum)
}

// GetUsageHistory handles GET /api/v1/usage/history.
func (h *billingHandler) GetUsageHistory(w http.ResponseWriter, r *http.Request) {
	org := auth.OrganizationFromContext(r.Context())

	q, err := usageQueryFromRequest(r, org.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	entries, cursor, err := h.engine.UsageHistory(r.Context(), q)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	if entries == nil {
		entries = []*usage.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries":     entries,
		"next_cursor": cursor,
	})
}

// GetLimit handles GET /api/v1/limits/{feature}.
func (h *billingHandler) GetLimit(w http.ResponseWriter, r *http.Request) {
	org := auth.OrganizationFromContext(r.Context())

	feature := chi.URLParam(r, "feature")
	if feature == "" {
		writeError(w, http.StatusBadRequest, "invalid_feature", "feature name is required")
		return
	}

	remaining, total, err := h.engine.CheckLimit(r.Context(), org.ID, feature)
	if err != nil {
		writeBillingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"feature":   feature,
		"remaining": remaining,
		"total":     total,
	})
}

// ListFeatures handles GET /api/v1/features.
func (h *billingHandler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	org := auth.OrganizationFromContext(r.Context())

	feats, err := h.engine.FeaturesFor(r.Context(), org.ID)
	if err != nil {
		writeBillingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"features": feats})
}

// usageQueryFromRequest builds a usage query from the common filter
// parameters, scoped to the given organization.
func usageQueryFromRequest(r *http.Request, orgID string) (usage.Query, error) {
	q := usage.Query{
		OrganizationID: orgID,
		Feature:        r.URL.Query().Get("feature"),
		Cursor:         r.URL.Query().Get("cursor"),
		Limit:          defaultPageLimit,
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 {
			return q, errors.New("limit must be a positive integer")
		}
		if l > maxPageLimit {
			l = maxPageLimit
		}
		q.Limit = l
	}

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return q, errors.New("from must be an RFC3339 timestamp")
		}
		q.From = from
	}

	if toStr := r.URL.Query().Get("to"); toStr != "" {
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return q, errors.New("to must be an RFC3339 timestamp")
		}
		q.To = to
	}

	return q, nil
}
