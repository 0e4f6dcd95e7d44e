package middleware

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apiContext "orgdesk/internal/api/context"
	"orgdesk/internal/engine/access"
	apperrors "orgdesk/internal/pkg/errors"
	"orgdesk/internal/platform/auth"
	"orgdesk/internal/platform/config"
	"orgdesk/internal/platform/models"
)

type stubBuilder map[string]*access.UserContext

func (b stubBuilder) Build(_ context.Context, actorID string) (*access.UserContext, error) {
	uc, ok := b[actorID]
	if !ok {
		return nil, apperrors.NotFound("User not found")
	}
	return uc, nil
}

func withClaims(r *http.Request, userID, orgID string) *http.Request {
	claims := &auth.Claims{UserID: userID, OrganizationID: orgID}
	return r.WithContext(context.WithValue(r.Context(), apiContext.Claims, claims))
}

func TestAuthMiddleware(t *testing.T) {
	tokens := auth.NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	accessToken, _ := tokens.GenerateAccessToken("u1", "o1", "u1@example.com")
	refresh, _ := tokens.GenerateRefreshToken("u1", "o1")
	mw := NewAuthMiddleware(tokens)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + accessToken, http.StatusUnauthorized},
		{"refresh token", "Bearer " + refresh, http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + accessToken, http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			mw.Handle(func(w http.ResponseWriter, r *http.Request) {
				claims, ok := apiContext.ClaimsFrom(r.Context())
				if !ok || claims.UserID != "u1" {
					t.Errorf("unexpected claims %+v", claims)
				}
				w.WriteHeader(http.StatusOK)
			})(rr, req)

			if rr.Code != tc.want {
				t.Errorf("status = %d, want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestUserContextMiddleware(t *testing.T) {
	member := access.NewUserContext(&models.User{ID: "u1", OrganizationID: "o1"}, nil, nil)
	mw := NewUserContextMiddleware(stubBuilder{"u1": member})

	t.Run("Valid Actor", func(t *testing.T) {
		req := withClaims(httptest.NewRequest(http.MethodGet, "/", nil), "u1", "o1")
		rr := httptest.NewRecorder()
		mw.Handle(func(w http.ResponseWriter, r *http.Request) {
			uc, ok := apiContext.ActorFrom(r.Context())
			if !ok || uc.UserID() != "u1" {
				t.Errorf("expected actor u1, got %+v", uc)
			}
			w.WriteHeader(http.StatusOK)
		})(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
		}
	})

	for name, req := range map[string]*http.Request{
		"Missing Claims": httptest.NewRequest(http.MethodGet, "/", nil),
		"Disabled Actor": withClaims(httptest.NewRequest(http.MethodGet, "/", nil), "ghost", "o1"),
		"Org Mismatch":   withClaims(httptest.NewRequest(http.MethodGet, "/", nil), "u1", "o2"),
	} {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			mw.Handle(func(w http.ResponseWriter, r *http.Request) {
				t.Error("Handler should not be called")
			})(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestRequirePermission(t *testing.T) {
	admin := access.NewUserContext(&models.User{ID: "a", OrganizationID: "o1", IsAdmin: true}, nil, nil)
	holder := access.NewUserContext(&models.User{ID: "h", OrganizationID: "o1"}, []access.PermissionName{access.RegisterUser}, nil)
	plain := access.NewUserContext(&models.User{ID: "p", OrganizationID: "o1"}, nil, nil)

	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	cases := []struct {
		name    string
		uc      *access.UserContext
		handler http.HandlerFunc
		want    int
	}{
		{"admin passes permission gate", admin, RequirePermission(access.RegisterUser)(ok), http.StatusOK},
		{"holder passes permission gate", holder, RequirePermission(access.RegisterUser)(ok), http.StatusOK},
		{"plain fails permission gate", plain, RequirePermission(access.RegisterUser)(ok), http.StatusForbidden},
		{"holder fails other permission", holder, RequirePermission(access.ManagePermissions)(ok), http.StatusForbidden},
		{"admin passes admin gate", admin, RequireAdmin(ok), http.StatusOK},
		{"holder fails admin gate", holder, RequireAdmin(ok), http.StatusForbidden},
		{"no actor", nil, RequireAdmin(ok), http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tc.uc != nil {
				req = req.WithContext(context.WithValue(req.Context(), apiContext.Actor, tc.uc))
			}
			rr := httptest.NewRecorder()
			tc.handler(rr, req)
			if rr.Code != tc.want {
				t.Errorf("status = %d, want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestRateLimiterKeysByDepartmentAndClient(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{IssueWindow: time.Hour, IssueBurst: 1})
	defer rl.Close()

	var seen []string
	h := rl.PerDepartment("register")(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen = append(seen, string(body))
		w.WriteHeader(http.StatusOK)
	})

	send := func(dept, ip string) int {
		body := `{"department_id":"` + dept + `","emails":["a@example.com"]}`
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
		req.RemoteAddr = ip + ":40000"
		rr := httptest.NewRecorder()
		h(rr, req)
		return rr.Code
	}

	if code := send("d1", "1.1.1.1"); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := send("d1", "1.1.1.1"); code != http.StatusTooManyRequests {
		t.Fatalf("repeat request: expected 429, got %d", code)
	}
	if code := send("d2", "1.1.1.1"); code != http.StatusOK {
		t.Fatalf("other department: %d", code)
	}
	if code := send("d1", "2.2.2.2"); code != http.StatusOK {
		t.Fatalf("other client: %d", code)
	}
	if len(seen) != 3 || seen[0] == "" {
		t.Errorf("body must reach the handler intact, got %q", seen)
	}
}

func TestRateLimiterIgnoresForwardedFor(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{IssueWindow: time.Hour, IssueBurst: 1})
	defer rl.Close()
	h := rl.PerDepartment("register")(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	allowed := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"department_id":"d1"}`))
		req.RemoteAddr = "203.0.113.7:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rr := httptest.NewRecorder()
		h(rr, req)
		if rr.Code == http.StatusOK {
			allowed++
		}
	}
	if allowed != 1 {
		t.Errorf("allowed = %d, want 1", allowed)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	if got := ClientIP(req); got != "192.0.2.1" {
		t.Errorf("ClientIP = %q, want the peer address", got)
	}
}

func TestForwardedFor(t *testing.T) {
	var got string
	h := ForwardedFor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIP(r)
	}))

	cases := []struct {
		name string
		xff  string
		want string
	}{
		{"no header", "", "10.0.0.1"},
		{"proxy appended", "6.6.6.6, 203.0.113.7", "203.0.113.7"},
		{"single entry", " 203.0.113.9 ", "203.0.113.9"},
		{"garbage", "not-an-ip", "10.0.0.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "10.0.0.1:443"
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tc.want {
				t.Errorf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAccessLogRecoversPanics(t *testing.T) {
	h := AccessLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}
