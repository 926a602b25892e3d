package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/gin-gonic/gin"
)

type stubValidator struct {
	claims map[string]*goGuard.SessionClaims
}

func (s stubValidator) ValidateAccessToken(token string) (*goGuard.SessionClaims, error) {
	if c, ok := s.claims[token]; ok {
		return c, nil
	}
	return nil, errors.New("bad token")
}

var validator = stubValidator{claims: map[string]*goGuard.SessionClaims{
	"user-token":  {Email: "a@x.com", Role: "user"},
	"admin-token": {Email: "root@x.com", Role: "admin"},
}}

func TestGuard(t *testing.T) {
	var seen *goGuard.SessionClaims
	h := Guard(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SessionFromContext(r.Context())
	}))

	cases := []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"Basic abc", http.StatusUnauthorized},
		{"Bearer ", http.StatusUnauthorized},
		{"Bearer nope", http.StatusUnauthorized},
		{"Bearer user-token", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%q: expected %d, got %d", tc.header, tc.want, rec.Code)
		}
	}
	if seen == nil || seen.Email != "a@x.com" {
		t.Fatalf("claims not propagated: %+v", seen)
	}
}

func TestClientIPStripsPort(t *testing.T) {
	var got string
	h := ClientIP()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = goGuard.ClientIPFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.9:5555"
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != "198.51.100.9" {
		t.Fatalf("unexpected client ip %q", got)
	}
}

func TestGinClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinClientIP())
	var got string
	r.GET("/", func(c *gin.Context) {
		got = goGuard.ClientIPFromContext(c.Request.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:1234"
	r.ServeHTTP(httptest.NewRecorder(), req)
	if got != "192.0.2.10" {
		t.Fatalf("unexpected client ip %q", got)
	}
}

func newGinRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinClientIP())
	r.GET("/me", RequireSession(validator), func(c *gin.Context) {
		claims, _ := Session(c)
		c.String(http.StatusOK, claims.Email)
	})
	r.GET("/admin", RequireSession(validator), RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestRequireSessionAndRole(t *testing.T) {
	r := newGinRouter()

	cases := []struct {
		path, token string
		want        int
	}{
		{"/me", "", http.StatusUnauthorized},
		{"/me", "user-token", http.StatusOK},
		{"/admin", "user-token", http.StatusForbidden},
		{"/admin", "admin-token", http.StatusNoContent},
		{"/admin", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.token != "" {
			req.Header.Set("Authorization", "Bearer "+tc.token)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s with %q: expected %d, got %d", tc.path, tc.token, tc.want, rec.Code)
		}
	}
}

func TestRequireRoleWithoutSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", RequireRole("admin"), func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
