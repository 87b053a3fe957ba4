package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
)

func newAuditServer(t *testing.T, events *int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
	})
	mux.HandleFunc("/api/v1/events", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(events, 1)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeRouter(client *Client, enabled func(ctx context.Context) bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(WriteAuditMiddleware(client, nil, enabled))
	r.POST("/api/v1/things", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/things", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestWriteAuditMiddleware_MirrorsWrites(t *testing.T) {
	var events int64
	srv := newAuditServer(t, &events)
	client := &Client{BaseURL: srv.URL, APIKey: "key"}

	r := writeRouter(client, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/things", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if n := atomic.LoadInt64(&events); n != 1 {
		t.Fatalf("events=%d want 1", n)
	}

	// Reads are never mirrored.
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/things", nil))
	if n := atomic.LoadInt64(&events); n != 1 {
		t.Fatalf("events=%d after GET want 1", n)
	}
}

func TestWriteAuditMiddleware_GateDisablesMirror(t *testing.T) {
	var events int64
	srv := newAuditServer(t, &events)
	client := &Client{BaseURL: srv.URL, APIKey: "key"}

	r := writeRouter(client, func(ctx context.Context) bool { return false })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/things", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if n := atomic.LoadInt64(&events); n != 0 {
		t.Fatalf("events=%d want 0 while gate is off", n)
	}
}
