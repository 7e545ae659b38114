package delegation

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hearthside-app/hearthside/internal/authz"
	"github.com/hearthside-app/hearthside/internal/platform/httpx"
)

// Handler wires HTTP endpoints for delegation administration.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers delegation routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/v1/delegations", h.handleCreate)
	r.Post("/v1/delegations/{delegationID}/approve", h.handleApprove)
	r.Post("/v1/delegations/{delegationID}/revoke", h.handleRevoke)
}

type scopeEntryDTO struct {
	EntityType string `json:"entityType" validate:"required"`
	EntityID   string `json:"entityId" validate:"required"`
	ScopeType  string `json:"scopeType"`
}

type createRequest struct {
	FromUserID    string          `json:"fromUserId" validate:"required"`
	ToUserID      string          `json:"toUserId" validate:"required"`
	RoleID        string          `json:"roleId" validate:"required"`
	SourceGrantID string          `json:"sourceGrantId"`
	ValidFrom     time.Time       `json:"validFrom" validate:"required"`
	ValidUntil    time.Time       `json:"validUntil" validate:"required"`
	Reason        string          `json:"reason"`
	Scopes        []scopeEntryDTO `json:"scopes" validate:"dive"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	in := CreateInput{
		FromUserID:    req.FromUserID,
		ToUserID:      req.ToUserID,
		RoleID:        req.RoleID,
		SourceGrantID: req.SourceGrantID,
		ValidFrom:     req.ValidFrom,
		ValidUntil:    req.ValidUntil,
		Reason:        req.Reason,
	}
	for _, s := range req.Scopes {
		in.Scopes = append(in.Scopes, authz.ScopeEntry{
			EntityType: s.EntityType,
			EntityID:   s.EntityID,
			ScopeType:  authz.Scope(s.ScopeType),
		})
	}

	d, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.logger.Warn("create delegation", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

type approveRequest struct {
	ApprovedBy string `json:"approvedBy" validate:"required"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.Approve(r.Context(), chi.URLParam(r, "delegationID"), req.ApprovedBy); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "active"})
}

type revokeRequest struct {
	Actor  string `json:"actor" validate:"required"`
	Reason string `json:"reason"`
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.Revoke(r.Context(), chi.URLParam(r, "delegationID"), req.Actor, req.Reason); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
