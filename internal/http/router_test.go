package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bazaarhq/chat-backend/internal/config"
	"github.com/bazaarhq/chat-backend/internal/repo"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "router.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   100,
		CORS:        config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:    config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		Chat: config.ChatConfig{
			MasterSecret:    "router-test-secret",
			MutationWindow:  30 * time.Minute,
			MaxMessageRunes: 4000,
			ReadDebounce:    1500 * time.Millisecond,
			ReadVisibility:  0.5,
			PresenceTTL:     45 * time.Second,
			StoreTimeout:    5 * time.Second,
		},
		IdempotencyTTL: 24 * time.Hour,
	}
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), nil, testConfig())

	// /health works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// Unknown route → structured 404
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body["code"] != "not_found" {
		t.Fatalf("fallback code = %v", body["code"])
	}

	// Wrong method on a known route → structured 405
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE /health = %d", w.Code)
	}
}

func TestRegisterRoutes_CORSAllowlistEchoesOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"https://app.example.com"}
	RegisterRoutes(r, newTestDB(t), nil, cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("allowlisted origin not echoed, got %q", got)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got == "https://evil.example.com" {
		t.Fatalf("unlisted origin must not be echoed")
	}
}

func TestRegisterRoutes_EndToEndChatFlow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), nil, testConfig())

	do := func(method, path, userID string, payload any) *httptest.ResponseRecorder {
		t.Helper()
		var buf bytes.Buffer
		if payload != nil {
			if err := json.NewEncoder(&buf).Encode(payload); err != nil {
				t.Fatalf("encode: %v", err)
			}
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		if userID != "" {
			req.Header.Set("X-User-ID", userID)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	// Open the chat.
	w := do(http.MethodPost, "/api/v1/chats", "u1",
		map[string]string{"peer_id": "u2", "peer_display_name": "Maria"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create chat = %d body=%s", w.Code, w.Body.String())
	}
	var chat struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &chat); err != nil {
		t.Fatalf("json: %v", err)
	}
	if chat.ID != "u1_u2" {
		t.Fatalf("chat id = %q", chat.ID)
	}

	// Send a message through the full middleware chain.
	w = do(http.MethodPost, "/api/v1/chats/"+chat.ID+"/messages", "u1",
		map[string]string{"receiver_id": "u2", "content": "hello"})
	if w.Code != http.StatusCreated {
		t.Fatalf("send = %d body=%s", w.Code, w.Body.String())
	}

	// The counterpart sees it in their chat list.
	w = do(http.MethodGet, "/api/v1/chats", "u2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var list struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("json: %v", err)
	}
	if list.Total != 1 {
		t.Fatalf("total = %d; want 1", list.Total)
	}

	// Without identity the API refuses.
	w = do(http.MethodGet, "/api/v1/chats", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous list = %d", w.Code)
	}

	// Presence endpoints degrade to 503 without a presence store.
	w = do(http.MethodPost, "/api/v1/presence/heartbeat", "u1", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("heartbeat without redis = %d", w.Code)
	}
}
