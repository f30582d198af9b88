package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/auth"
	"github.com/vovakirdan/wirechat-sync/internal/backend"
	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/metrics"
	"github.com/vovakirdan/wirechat-sync/internal/realtime"
	"github.com/vovakirdan/wirechat-sync/internal/store"
	"github.com/vovakirdan/wirechat-sync/internal/store/sqlite"
)

const testSecret = "test-secret"

type testServer struct {
	*httptest.Server
	cfg      config.Config
	svc      *backend.Service
	messages *realtime.Hub[*store.Message]
	changes  *realtime.Hub[*store.Change]
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	messages := realtime.NewHub[*store.Message]()
	changes := realtime.NewHub[*store.Change]()
	svc := backend.NewService(st, messages, changes)

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.JWTSecret = testSecret
	cfg.JWTIssuer = "test"

	disabledLogger := zerolog.New(nil)
	reg := prometheus.NewRegistry()
	router := NewRouter(svc, &cfg, &disabledLogger, WithMetrics(metrics.New(reg), reg))

	ts := httptest.NewServer(router)
	t.Cleanup(func() {
		ts.Close()
		_ = messages.Close()
		_ = changes.Close()
		_ = st.Close()
	})

	return &testServer{Server: ts, cfg: cfg, svc: svc, messages: messages, changes: changes}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()

	token, err := auth.GenerateToken(JWTConfig(&s.cfg), userID, "")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

// do sends an authenticated JSON request and decodes the response into out
// when out is not nil.
func (s *testServer) do(t *testing.T, token, method, path string, body any, out any) int {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.URL+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}
