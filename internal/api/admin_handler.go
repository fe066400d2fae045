package api

import (
	"errors"
	"net/http"

	"github.com/mhollis/tally/internal/auth"
	"github.com/mhollis/tally/internal/billing"
	"github.com/mhollis/tally/internal/catalog"
	"github.com/mhollis/tally/internal/ledger"
	"github.com/mhollis/tally/internal/metrics"
)

// adminHandler groups the admin endpoints: organization provisioning,
// charging on behalf of organizations, and catalog inspection.
type adminHandler struct {
	engine  *billing.Engine
	tokens  *billing.TokenMeter
	catalog *catalog.Catalog
	metrics *metrics.Metrics
}

func newAdminHandler(engine *billing.Engine, tokens *billing.TokenMeter, cat *catalog.Catalog, m *metrics.Metrics) *adminHandler {
	return &adminHandler{
		engine:  engine,
		tokens:  tokens,
		catalog: cat,
		metrics: m,
	}
}

// createOrganizationRequest is the JSON body for provisioning an organization.
type createOrganizationRequest struct {
	OrganizationID string  `json:"organization_id"`
	TariffPlan     string  `json:"tariff_plan"`
	InitialBalance float64 `json:"initial_balance"`
}

// CreateOrganization handles POST /api/v1/admin/organizations.
// Generates an API key and returns the plaintext key in the response (only
// time it is shown).
func (h *adminHandler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	if req.OrganizationID == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "organization_id is required")
		return
	}
	if req.InitialBalance < 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "initial_balance must not be negative")
		return
	}

	apiKey, plaintext, err := auth.GenerateAPIKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to generate api key")
		return
	}

	b, err := h.engine.InitializeOrganization(r.Context(), ledger.CreateInput{
		OrganizationID: req.OrganizationID,
		TariffPlan:     req.TariffPlan,
		InitialBalance: req.InitialBalance,
		APIKeyHash:     apiKey.Hash,
		APIKeyPrefix:   apiKey.Prefix,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "already_exists", "organization ledger already exists")
			return
		}
		writeBillingError(w, err)
		return
	}

	auditLog(r, "create", "organization", b.OrganizationID, "tariff", b.TariffPlan)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"organization_id": b.OrganizationID,
		"balance":         b.Balance,
		"tariff_plan":     b.TariffPlan,
		"team_members":    b.TeamMembers,
		"api_key":         plaintext,
		"api_key_prefix":  b.APIKeyPrefix,
		"created_at":      b.CreatedAt,
	})
}

// chargeRequest is the JSON body for charging a feature call.
type chargeRequest struct {
	OrganizationID string `json:"organization_id"`
	Feature        string `json:"feature"`
	Units          int64  `json:"units"`
	UserID         string `json:"user_id"`
}

// Charge handles POST /api/v1/admin/charges.
func (h *adminHandler) Charge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.OrganizationID == "" || req.Feature == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "organization_id and feature are required")
		return
	}

	charged, err := h.engine.Charge(r.Context(), req.OrganizationID, req.Feature, req.Units, req.UserID)
	if err != nil {
		h.countRejection(err)
		writeBillingError(w, err)
		return
	}

	h.metrics.IncCharge(req.Feature, charged)
	auditLog(r, "charge", "organization", req.OrganizationID,
		"feature", req.Feature, "units", req.Units, "charged", charged)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"organization_id": req.OrganizationID,
		"feature":         req.Feature,
		"units":           req.Units,
		"charged":         charged,
	})
}

// tokenChargeRequest is the JSON body for charging token consumption.
type tokenChargeRequest struct {
	OrganizationID string `json:"organization_id"`
	InputTokens    int64  `json:"input_tokens"`
	LLMTokens      int64  `json:"llm_tokens"`
	OutputTokens   int64  `json:"output_tokens"`
	UserID         string `json:"user_id"`
}

// ChargeTokens handles POST /api/v1/admin/tokens/charge.
func (h *adminHandler) ChargeTokens(w http.ResponseWriter, r *http.Request) {
	var req tokenChargeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.OrganizationID == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "organization_id is required")
		return
	}
	if req.InputTokens < 0 || req.LLMTokens < 0 || req.OutputTokens < 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "token counts must not be negative")
		return
	}

	counts := billing.TokenCounts{
		Input:  req.InputTokens,
		LLM:    req.LLMTokens,
		Output: req.OutputTokens,
	}

	cost, err := h.tokens.Charge(r.Context(), req.OrganizationID, req.UserID, counts)
	if err != nil {
		h.countRejection(err)
		writeBillingError(w, err)
		return
	}

	h.metrics.AddTokensCharged("input", counts.Input)
	h.metrics.AddTokensCharged("llm", counts.LLM)
	h.metrics.AddTokensCharged("output", counts.Output)
	auditLog(r, "charge_tokens", "organization", req.OrganizationID,
		"tokens", counts.Total(), "cost", cost)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"organization_id": req.OrganizationID,
		"tokens":          counts.Total(),
		"cost":            cost,
	})
}

// GetUsage handles GET /api/v1/admin/usage.
func (h *adminHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organization_id")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "invalid_query", "organization_id is required")
		return
	}

	q, err := usageQueryFromRequest(r, orgID)
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

// GetUsageHistory handles GET /api/v1/admin/usage/history.
func (h *adminHandler) GetUsageHistory(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organization_id")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "invalid_query", "organization_id is required")
		return
	}

	q, err := usageQueryFromRequest(r, orgID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	entries, cursor, err := h.engine.UsageHistory(r.Context(), q)
	if err != nil {
		writeBillingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries":     entries,
		"next_cursor": cursor,
	})
}

// ListTariffs handles GET /api/v1/admin/tariffs.
func (h *adminHandler) ListTariffs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"tariffs": h.catalog.Tariffs()})
}

// ListFeatures handles GET /api/v1/admin/features.
func (h *adminHandler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"features": h.catalog.Features()})
}

func (h *adminHandler) countRejection(err error) {
	var be *billing.Error
	if errors.As(err, &be) && be.Kind != billing.KindStorage {
		h.metrics.IncChargeRejection(be.Kind.Code())
	}
}
