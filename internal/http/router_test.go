package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/averline/roomchat/internal/config"
	"github.com/averline/roomchat/internal/hub"
	"github.com/averline/roomchat/internal/push"
	"github.com/averline/roomchat/internal/repo"
	"github.com/averline/roomchat/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		APIBasePath:  "/api/v1",
		MaxTextRunes: 4000,
		RateRPS:      1000,
		RateBurst:    1000,
		Storage: config.StorageConfig{
			Driver:        "local",
			LocalPath:     t.TempDir(),
			UploadTimeout: 5 * time.Second,
		},
		Push: config.PushConfig{
			BatchMax:        100,
			DispatchTimeout: 2 * time.Second,
		},
		WS: config.WSConfig{
			SendBuffer:     16,
			MaxMessageSize: 1 << 20,
			WriteWait:      5 * time.Second,
			PongWait:       30 * time.Second,
			PingInterval:   20 * time.Second,
		},
		OTEL: config.OTELConfig{ServiceName: "roomchat-test"},
	}
}

// newTestServer assembles the full route stack over a throwaway SQLite file,
// seeded with one room and one user.
func newTestServer(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	cfg := testConfig(t)

	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "router.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	if _, err := repo.CreateRoom(ctx, db, "general", "General", ""); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	if _, err := repo.CreateUser(ctx, db, "u1", "Ada", ""); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	store, err := storage.NewLocalStore(cfg.Storage.LocalPath, "http://localhost/uploads")
	if err != nil {
		t.Fatalf("local store: %v", err)
	}

	hb := hub.New(hub.Config{SendBuffer: cfg.WS.SendBuffer})
	go hb.Run()

	r := gin.New()
	RegisterRoutes(r, db, hb, store, push.NewClient("http://127.0.0.1:1/unreachable", time.Second), cfg)
	return r, db
}

func do(t *testing.T, r *gin.Engine, method, path string, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_Health(t *testing.T) {
	r, _ := newTestServer(t)

	w := do(t, r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"ok"`)) {
		t.Fatalf("body = %s", w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}
}

func TestRouter_NoRouteEnvelope(t *testing.T) {
	r, _ := newTestServer(t)

	w := do(t, r, http.MethodGet, "/api/v1/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v (body %s)", err, w.Body.String())
	}
	if resp.Code != "not_found" {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	r, _ := newTestServer(t)

	w := do(t, r, http.MethodDelete, "/api/v1/rooms/general/messages", "", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRouter_MetricsExposed(t *testing.T) {
	r, _ := newTestServer(t)

	// Generate one request so counters exist.
	do(t, r, http.MethodGet, "/health", "", nil)

	w := do(t, r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("go_goroutines")) {
		t.Fatal("metrics output missing standard collectors")
	}
}

func TestRouter_EndToEndMessageFlow(t *testing.T) {
	r, _ := newTestServer(t)
	hdr := map[string]string{"X-User-ID": "u1"}

	if w := do(t, r, http.MethodPost, "/api/v1/rooms/general/join", "", hdr); w.Code != http.StatusOK {
		t.Fatalf("join status = %d, body %s", w.Code, w.Body.String())
	}

	w := do(t, r, http.MethodPost, "/api/v1/rooms/general/messages", `{"text":"hello"}`, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("post status = %d, body %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodGet, "/api/v1/rooms/general/messages", "", hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Messages []struct {
			Text   string `json:"text"`
			Sender struct {
				Name string `json:"name"`
			} `json:"sender"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v (body %s)", err, w.Body.String())
	}
	if len(resp.Messages) != 1 || resp.Messages[0].Text != "hello" || resp.Messages[0].Sender.Name != "Ada" {
		t.Fatalf("messages = %+v", resp.Messages)
	}

	w = do(t, r, http.MethodGet, "/api/v1/rooms/general/members", "", hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("members status = %d, body %s", w.Code, w.Body.String())
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"general"`)) {
		t.Fatalf("members body = %s", w.Body.String())
	}
}

func TestRouter_CORSDefaultAllowAll(t *testing.T) {
	r, _ := newTestServer(t)

	w := do(t, r, http.MethodGet, "/health", "", map[string]string{"Origin": "https://app.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("ACAO = %q", got)
	}
}
