package middlewares

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/bills_backend/config"
)

type stubResolver struct {
	sessions map[string]string
	err      error
}

func (s stubResolver) Resolve(_ context.Context, token string) (string, bool, error) {
	if s.err != nil {
		return "", false, s.err
	}
	owner, ok := s.sessions[token]
	return owner, ok, nil
}

var testSessionConfig = config.SessionConfig{CookieName: "bills_session", IdleTimeout: time.Hour}

func newSessionRouter(resolver SessionResolver) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SessionMiddleware(resolver, testSessionConfig))
	r.GET("/public", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"owner": OwnerId(c)})
	})
	r.GET("/private", RequireSession(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"owner": OwnerId(c), "token": Token(c)})
	})
	return r
}

func TestSessionFromCookie(t *testing.T) {
	r := newSessionRouter(stubResolver{sessions: map[string]string{"tok-1": "admin"}})

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.AddCookie(&http.Cookie{Name: "bills_session", Value: "tok-1"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"owner":"admin"`) {
		t.Fatalf("body = %s", w.Body.String())
	}
	// cookie is re-issued so the idle expiry rolls
	if cookie := w.Header().Get("Set-Cookie"); !strings.Contains(cookie, "bills_session=tok-1") || !strings.Contains(cookie, "HttpOnly") {
		t.Fatalf("Set-Cookie = %q", cookie)
	}
}

func TestSessionFromTokenHeader(t *testing.T) {
	r := newSessionRouter(stubResolver{sessions: map[string]string{"tok-1": "admin"}})

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("token", "tok-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("Set-Cookie") != "" {
		t.Fatalf("unexpected Set-Cookie for header auth: %q", w.Header().Get("Set-Cookie"))
	}
}

func TestUnknownSessionIsAnonymous(t *testing.T) {
	cases := map[string]SessionResolver{
		"unknown token":  stubResolver{sessions: map[string]string{}},
		"resolver error": stubResolver{err: errors.New("redis down")},
	}
	for name, resolver := range cases {
		r := newSessionRouter(resolver)

		req := httptest.NewRequest(http.MethodGet, "/private", nil)
		req.Header.Set("token", "stale")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want 401", name, w.Code)
		}
		if !strings.Contains(w.Body.String(), `"error":"authentication required"`) {
			t.Fatalf("%s: body = %s", name, w.Body.String())
		}

		req = httptest.NewRequest(http.MethodGet, "/public", nil)
		req.Header.Set("token", "stale")
		w = httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"owner":""`) {
			t.Fatalf("%s: public route = %d %s", name, w.Code, w.Body.String())
		}
	}
}
