package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cabinethq/scheduling-platform/internal/tenancy"
)

const testSecret = "test-secret"

func signToken(t *testing.T, tenantID, userID uuid.UUID, secret string) string {
	t.Helper()
	claims := TenantClaims{
		TenantID: tenantID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestTenantJWTResolvesTenantAndUser(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	var gotTenant, gotUser uuid.UUID
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant, _ = tenancy.TenantIDFromContext(r.Context())
		gotUser, _ = tenancy.UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, tenantID, userID, testSecret))
	rec := httptest.NewRecorder()

	TenantJWT(testSecret)(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotTenant != tenantID {
		t.Fatalf("tenant not resolved: got %s want %s", gotTenant, tenantID)
	}
	if gotUser != userID {
		t.Fatalf("user not resolved: got %s want %s", gotUser, userID)
	}
}

func TestTenantJWTRejections(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	})
	mw := TenantJWT(testSecret)

	cases := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"missing header", func(r *http.Request) {}},
		{"wrong secret", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, uuid.New(), uuid.New(), "other-secret"))
		}},
		{"no tenant claim", func(r *http.Request) {
			claims := jwt.RegisteredClaims{
				Subject:   uuid.NewString(),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			}
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
			if err != nil {
				t.Fatalf("sign token: %v", err)
			}
			r.Header.Set("Authorization", "Bearer "+token)
		}},
		{"expired token", func(r *http.Request) {
			claims := TenantClaims{
				TenantID: uuid.NewString(),
				RegisteredClaims: jwt.RegisteredClaims{
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
				},
			}
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
			if err != nil {
				t.Fatalf("sign token: %v", err)
			}
			r.Header.Set("Authorization", "Bearer "+token)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			mw(handler).ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestTenantJWTDisabledWithoutSecret(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	})
	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, uuid.New(), uuid.New(), testSecret))
	rec := httptest.NewRecorder()

	TenantJWT("")(handler).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when auth secret unset, got %d", rec.Code)
	}
}
