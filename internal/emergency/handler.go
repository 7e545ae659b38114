package emergency

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hearthside-app/hearthside/internal/authz"
	"github.com/hearthside-app/hearthside/internal/platform/httpx"
)

// Handler wires HTTP endpoints for emergency overrides.
type Handler struct {
	logger    *slog.Logger
	manager   *Manager
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, manager *Manager) *Handler {
	return &Handler{logger: logger, manager: manager, validator: validator.New()}
}

// MountRoutes registers override routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/v1/overrides", h.handleActivate)
	r.Post("/v1/overrides/{overrideID}/deactivate", h.handleDeactivate)
}

type activateRequest struct {
	TriggeredBy     string `json:"triggeredBy" validate:"required"`
	AffectedUser    string `json:"affectedUser" validate:"required"`
	Reason          string `json:"reason" validate:"required"`
	DurationMinutes int    `json:"durationMinutes" validate:"required,min=1,max=1440"`
	Justification   string `json:"justification" validate:"required"`
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	o, err := h.manager.Activate(r.Context(), ActivateInput{
		TriggeredBy:     req.TriggeredBy,
		AffectedUser:    req.AffectedUser,
		Reason:          authz.OverrideReason(req.Reason),
		DurationMinutes: req.DurationMinutes,
		Justification:   req.Justification,
	})
	if err != nil {
		h.logger.Warn("activate override", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, o)
}

type deactivateRequest struct {
	DeactivatedBy string `json:"deactivatedBy" validate:"required"`
	Reason        string `json:"reason"`
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	var req deactivateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.manager.Deactivate(r.Context(), chi.URLParam(r, "overrideID"), req.DeactivatedBy, req.Reason); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}
