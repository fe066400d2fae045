package api

import (
	"net/http"

	"github.com/mhollis/tally/internal/auth"
	"github.com/mhollis/tally/internal/billing"
	"github.com/mhollis/tally/internal/metrics"
)

// teamHandler groups the team seat endpoints.
type teamHandler struct {
	manager *billing.TeamManager
	metrics *metrics.Metrics
}

func newTeamHandler(manager *billing.TeamManager, m *metrics.Metrics) *teamHandler {
	return &teamHandler{manager: manager, metrics: m}
}

// GetTeam handles GET /api/v1/team.
func (h *teamHandler) GetTeam(w http.ResponseWriter, r *http.Request) {
	org := auth.OrganizationFromContext(r.Context())

	info, err := h.manager.Info(r.Context(), org.ID)
	if err != nil {
		writeBillingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// AddMember handles POST /api/v1/team/members.
func (h *teamHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	org := auth.OrganizationFromContext(r.Context())

	if err := h.manager.AddMember(r.Context(), org.ID); err != nil {
		writeBillingError(w, err)
		return
	}

	h.metrics.IncSeatChange("add")
	auditLog(r, "add_member", "team", org.ID)

	info, err := h.manager.Info(r.Context(), org.ID)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// RemoveMember handles DELETE /api/v1/team/members.
func (h *teamHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	org := auth.OrganizationFromContext(r.Context())

	if err := h.manager.RemoveMember(r.Context(), org.ID); err != nil {
		writeBillingError(w, err)
		return
	}

	h.metrics.IncSeatChange("remove")
	auditLog(r, "remove_member", "team", org.ID)

	info, err := h.manager.Info(r.Context(), org.ID)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// changeTariffRequest is the JSON body for a tariff change.
type changeTariffRequest struct {
	Tariff string `json:"tariff"`
}

// ChangeTariff handles POST /api/v1/team/tariff.
func (h *teamHandler) ChangeTariff(w http.ResponseWriter, r *http.Request) {
	org := auth.OrganizationFromContext(r.Context())

	var req changeTariffRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.Tariff == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "tariff is required")
		return
	}

	if err := h.manager.UpgradeTariff(r.Context(), org.ID, req.Tariff); err != nil {
		writeBillingError(w, err)
		return
	}

	h.metrics.IncTariffUpgrade(req.Tariff)
	auditLog(r, "change_tariff", "organization", org.ID, "tariff", req.Tariff)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"organization_id": org.ID,
		"tariff_plan":     req.Tariff,
	})
}
