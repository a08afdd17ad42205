package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/your-org/faceattr/internal/analysis"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type nopAnalyzer struct{}

func (nopAnalyzer) Analyze(context.Context, analysis.Request) (*analysis.Outcome, error) {
	return nil, nil
}

func TestRouterAuth(t *testing.T) {
	r := NewRouter(RouterConfig{APIKeys: []string{"secret", "next"}, Analyzer: nopAnalyzer{}})

	tests := []struct {
		name   string
		path   string
		key    string
		status int
	}{
		{"health needs no key", "/healthz", "", http.StatusOK},
		{"metrics needs no key", "/metrics", "", http.StatusOK},
		{"missing key", "/v1/labels", "", http.StatusUnauthorized},
		{"wrong key", "/v1/labels", "nope", http.StatusForbidden},
		{"valid key", "/v1/labels", "secret", http.StatusOK},
		{"rotated key", "/v1/labels", "next", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRouterOptionalRoutes(t *testing.T) {
	r := NewRouter(RouterConfig{Analyzer: nopAnalyzer{}})

	for _, path := range []string{"/v1/history", "/v1/stats", "/v1/ws"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/tasks", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
