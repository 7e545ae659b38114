package authz

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hearthside-app/hearthside/internal/platform/httpx"
)

// DecisionObserver counts decisions for monitoring.
type DecisionObserver interface {
	ObserveDecision(reason string)
}

// Handler wires the decision endpoint.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	observer  DecisionObserver
	validator *validator.Validate
}

// NewHandler constructs a Handler instance. observer may be nil.
func NewHandler(logger *slog.Logger, service *Service, observer DecisionObserver) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		observer:  observer,
		validator: validator.New(),
	}
}

// MountRoutes registers decision routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/v1/authorize", h.handleAuthorize)
}

type authorizeRequest struct {
	UserID       string            `json:"userId" validate:"required"`
	Action       string            `json:"action" validate:"required"`
	ResourceID   string            `json:"resourceId"`
	ResourceType string            `json:"resourceType" validate:"required"`
	Context      map[string]string `json:"context"`
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		// Same shape the evaluator reports for blank fields; callers see
		// one vocabulary regardless of where validation tripped.
		httpx.JSON(w, http.StatusOK, Result{Reason: ReasonInvalidInput})
		return
	}

	res := h.service.Authorize(r.Context(), Request{
		UserID:       req.UserID,
		Action:       req.Action,
		ResourceID:   req.ResourceID,
		ResourceType: req.ResourceType,
		Context:      req.Context,
	})
	if h.observer != nil {
		h.observer.ObserveDecision(res.Reason)
	}
	status := http.StatusOK
	if res.Reason == ReasonRateLimitExceeded {
		status = http.StatusTooManyRequests
	}
	httpx.JSON(w, status, res)
}
