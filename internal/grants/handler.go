package grants

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hearthside-app/hearthside/internal/authz"
	"github.com/hearthside-app/hearthside/internal/platform/httpx"
)

// Handler wires HTTP endpoints for role grant administration.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers grant routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/v1/grants", h.handleAssign)
	r.Post("/v1/grants/{grantID}/approve", h.handleApprove)
	r.Post("/v1/grants/{grantID}/suspend", h.handleSuspend)
	r.Post("/v1/grants/{grantID}/resume", h.handleResume)
	r.Post("/v1/grants/{grantID}/revoke", h.handleRevoke)
}

type scopeEntryDTO struct {
	EntityType string `json:"entityType" validate:"required"`
	EntityID   string `json:"entityId" validate:"required"`
	ScopeType  string `json:"scopeType"`
}

type assignRequest struct {
	UserID          string          `json:"userId" validate:"required"`
	RoleType        string          `json:"roleType" validate:"required"`
	GrantedBy       string          `json:"grantedBy" validate:"required"`
	Reason          string          `json:"reason"`
	Scopes          []scopeEntryDTO `json:"scopes" validate:"dive"`
	ValidFrom       *time.Time      `json:"validFrom"`
	ValidUntil      *time.Time      `json:"validUntil"`
	RequireApproval bool            `json:"requireApproval"`
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	in := AssignInput{
		UserID:          req.UserID,
		RoleType:        authz.RoleType(req.RoleType),
		GrantedBy:       req.GrantedBy,
		Reason:          req.Reason,
		ValidUntil:      req.ValidUntil,
		RequireApproval: req.RequireApproval,
	}
	if req.ValidFrom != nil {
		in.ValidFrom = *req.ValidFrom
	}
	for _, s := range req.Scopes {
		in.Scopes = append(in.Scopes, authz.ScopeEntry{
			EntityType: s.EntityType,
			EntityID:   s.EntityID,
			ScopeType:  authz.Scope(s.ScopeType),
		})
	}

	grant, err := h.service.AssignRole(r.Context(), in)
	if err != nil {
		h.logger.Warn("assign role", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, grant)
}

type actorRequest struct {
	Actor  string `json:"actor" validate:"required"`
	Reason string `json:"reason"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.ApproveGrant)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, grantID, actor string) error) {
	var req actorRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := fn(r.Context(), chi.URLParam(r, "grantID"), req.Actor); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleSuspend(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, h.service.SuspendGrant)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, h.service.ResumeGrant)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, h.service.RevokeRole)
}

func (h *Handler) withReason(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, grantID, actor, reason string) error) {
	var req actorRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := fn(r.Context(), chi.URLParam(r, "grantID"), req.Actor, req.Reason); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
