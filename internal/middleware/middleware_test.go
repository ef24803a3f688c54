package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medquote/internal/apperr"
	"medquote/internal/audit"
	"medquote/internal/middleware"
	"medquote/internal/models"
)

type authFunc func(token string) (models.Caller, error)

func (f authFunc) Authenticate(token string) (models.Caller, error) { return f(token) }

type recorder struct {
	mu   sync.Mutex
	logs []audit.Record
}

func (r *recorder) Log(l audit.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, l)
}

func echoCaller() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(middleware.CallerFrom(r.Context()).UserID))
	})
}

func TestBearerAuth(t *testing.T) {
	auth := authFunc(func(token string) (models.Caller, error) {
		if token == "good" {
			return models.Caller{UserID: "c1", Role: models.UserTypeCustomer}, nil
		}
		return models.Caller{}, apperr.ErrUnauthenticated
	})
	h := middleware.BearerAuth(auth)(echoCaller())

	cases := []struct {
		header string
		code   int
	}{
		{"", http.StatusUnauthorized},
		{"Basic abc", http.StatusUnauthorized},
		{"Bearer bad", http.StatusUnauthorized},
		{"Bearer good", http.StatusOK},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, "/requests", nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, c.code, rec.Code, c.header)
		if c.code == http.StatusOK {
			assert.Equal(t, "c1", rec.Body.String())
			continue
		}
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Unauthenticated", body["kind"])
	}
}

func TestBasicAuthMiddleware(t *testing.T) {
	h := middleware.BasicAuthMiddleware("admin", "secret", http.MethodPut)(echoCaller())

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPut, "/admin", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "operator")

	req = httptest.NewRequest(http.MethodPut, "/admin", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogMiddleware(t *testing.T) {
	rec := &recorder{}
	h := middleware.LogMiddleware(rec, http.MethodPost)(echoCaller())

	req := httptest.NewRequest(http.MethodPost, "/requests", nil)
	req = req.WithContext(middleware.WithCaller(req.Context(), models.Caller{UserID: "c1"}))
	h.ServeHTTP(httptest.NewRecorder(), req)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/requests", nil))

	require.Len(t, rec.logs, 1)
	assert.Equal(t, "POST /requests", rec.logs[0].Endpoint)
	assert.Equal(t, "c1", rec.logs[0].Actor)
	assert.False(t, rec.logs[0].Timestamp.IsZero())
}
