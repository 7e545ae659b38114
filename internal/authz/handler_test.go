package authz_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hearthside-app/hearthside/internal/authz"
	_ "github.com/hearthside-app/hearthside/testing"
)

type handlerStore struct {
	grants []authz.UserRole
	sets   map[string]authz.PermissionSet
}

func (s *handlerStore) GrantsForUser(ctx context.Context, userID string) ([]authz.UserRole, error) {
	return s.grants, nil
}

func (s *handlerStore) DelegationsForUser(ctx context.Context, userID string) ([]authz.Delegation, error) {
	return nil, nil
}

func (s *handlerStore) OverridesForUser(ctx context.Context, userID string) ([]authz.EmergencyOverride, error) {
	return nil, nil
}

func (s *handlerStore) PermissionSet(ctx context.Context, id string) (authz.PermissionSet, error) {
	return s.sets[id], nil
}

type handlerResolver struct{}

func (handlerResolver) OwnerOf(ctx context.Context, resourceType, resourceID string) (string, error) {
	return "", nil
}
func (handlerResolver) FamilyOf(ctx context.Context, resourceType, resourceID string) (string, error) {
	return "", nil
}
func (handlerResolver) UserFamilies(ctx context.Context, userID string) ([]string, error) {
	return nil, nil
}

type handlerLimiter struct {
	decision authz.RateDecision
}

func (l *handlerLimiter) Allow(ctx context.Context, userID string) (authz.RateDecision, error) {
	return l.decision, nil
}

func newAuthorizeRouter(store *handlerStore, limiter authz.RateLimiter) http.Handler {
	svc := authz.NewService(store, handlerResolver{}, nil, limiter, nil, nil, authz.Config{})
	r := chi.NewRouter()
	authz.NewHandler(nil, svc, nil).MountRoutes(r)
	return r
}

func TestHandleAuthorize(t *testing.T) {
	until := time.Now().Add(time.Hour)
	store := &handlerStore{
		grants: []authz.UserRole{{
			ID: "g1", UserID: "u1", RoleID: "role-caregiver", RoleType: authz.RoleCaregiver,
			ValidFrom: time.Now().Add(-time.Hour), ValidUntil: &until,
			State: authz.GrantActive, PermissionSets: []string{"ps1"},
		}},
		sets: map[string]authz.PermissionSet{"ps1": {ID: "ps1", Rules: []authz.Permission{
			{Resource: "schedule", Action: "read", Effect: authz.EffectAllow, Scope: authz.ScopeAll},
		}}},
	}
	router := newAuthorizeRouter(store, nil)

	body := `{"userId":"u1","action":"schedule.read","resourceId":"s1","resourceType":"schedule"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/authorize", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res authz.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Allowed || res.Reason != authz.ReasonDirectRoleAllow {
		t.Fatalf("result = %+v", res)
	}
}

func TestHandleAuthorizeMissingFields(t *testing.T) {
	router := newAuthorizeRouter(&handlerStore{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/authorize", strings.NewReader(`{"userId":"u1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// Missing fields are a decision outcome, not a transport error.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var res authz.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Allowed || res.Reason != authz.ReasonInvalidInput {
		t.Fatalf("result = %+v", res)
	}
}

func TestHandleAuthorizeMalformedJSON(t *testing.T) {
	router := newAuthorizeRouter(&handlerStore{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/authorize", strings.NewReader(`{`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleAuthorizeRateLimited(t *testing.T) {
	limiter := &handlerLimiter{decision: authz.RateDecision{Allowed: false, RetryAfter: 2 * time.Second}}
	router := newAuthorizeRouter(&handlerStore{}, limiter)

	body := `{"userId":"u1","action":"schedule.read","resourceType":"schedule"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/authorize", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	var res authz.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Reason != authz.ReasonRateLimitExceeded || res.RetryAfter != 2 {
		t.Fatalf("result = %+v", res)
	}
}
