package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"

	"pubarmour/internal/api/handlers"
	"pubarmour/internal/api/middleware"
	"pubarmour/internal/engine/gatekeeper"
	"pubarmour/internal/engine/licenses"
	"pubarmour/internal/engine/payload"
	"pubarmour/internal/engine/scripts"
	"pubarmour/internal/engine/tokens"
	"pubarmour/internal/platform/audit"
	"pubarmour/internal/platform/config"
	"pubarmour/internal/platform/database"
)

const (
	testSecret = "test-secret"
	testHWID   = "HWID-123456"
	testUA     = "Roblox/WinInet"
)

type testServer struct {
	router   http.Handler
	db       *sql.DB
	licenses *licenses.Service
}

func newTestServer(t *testing.T, rateMax int) *testServer {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	gate := config.GateConfig{
		RateWindow:        time.Minute,
		RateMax:           rateMax,
		MinFingerprintLen: 4,
		MinDeviceIDLen:    6,
	}

	licenseSvc := licenses.NewService(licenses.NewRepository(db))
	scriptRepo := scripts.NewRepository(db)
	auditLog := audit.NewLogger(db)
	registry := prometheus.NewRegistry()
	metrics := handlers.NewMetrics(registry)

	delivery := handlers.NewDeliveryHandler(handlers.DeliveryDeps{
		Licenses: licenseSvc,
		Scripts:  scriptRepo,
		Tokens:   tokens.NewBroker(30*time.Second, 5*time.Second),
		Payloads: payload.NewGenerator(120, 3),
		Limiter:  gatekeeper.NewRateLimiter(gate.RateWindow, gate.RateMax),
		Bans:     gatekeeper.NewBanlist(),
		Audit:    auditLog,
		Metrics:  metrics,
		Gate:     gate,
	})

	router := NewRouter(&Dependencies{
		Delivery:  delivery,
		Keys:      handlers.NewKeyHandler(licenseSvc, auditLog),
		Scripts:   handlers.NewScriptHandler(scriptRepo, licenseSvc, auditLog),
		Audit:     handlers.NewAuditHandler(auditLog),
		Health:    handlers.NewHealthHandler(db),
		AdminAuth: middleware.NewAdminAuth(config.AdminConfig{Secret: testSecret}),
		Registry:  registry,
	})

	return &testServer{router: router, db: db, licenses: licenseSvc}
}

func (ts *testServer) do(method, target string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) admin(method, target string, body interface{}) *httptest.ResponseRecorder {
	return ts.do(method, target, body, map[string]string{"X-Admin-Password": testSecret})
}

func (ts *testServer) uploadScript(t *testing.T, name, content string, skip bool) {
	rec := ts.admin("POST", "/api/upload", map[string]interface{}{
		"name":            name,
		"content":         content,
		"skipObfuscation": skip,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("upload failed: %d %s", rec.Code, rec.Body.String())
	}
}

func (ts *testServer) issueKey(t *testing.T, hours int) string {
	rec := ts.admin("POST", "/api/keys/generate", map[string]interface{}{
		"duration_hours": hours,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("key issue failed: %d %s", rec.Code, rec.Body.String())
	}
	var res struct {
		Key string `json:"key"`
	}
	json.NewDecoder(rec.Body).Decode(&res)
	return res.Key
}

func deliveryHeaders() map[string]string {
	return map[string]string{"User-Agent": testUA, "X-HWID": testHWID}
}

func TestAdminAuthRequired(t *testing.T) {
	ts := newTestServer(t, 100)

	rec := ts.do("GET", "/api/keys/list", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without secret, got %d", rec.Code)
	}

	rec = ts.admin("GET", "/api/keys/list", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with secret, got %d", rec.Code)
	}
}

func TestAdminAuthBodyPassword(t *testing.T) {
	ts := newTestServer(t, 100)

	// Clients may carry the secret in the JSON body instead of the header.
	rec := ts.do("POST", "/api/stats", map[string]interface{}{"password": testSecret}, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with body password, got %d %s", rec.Code, rec.Body.String())
	}

	rec = ts.do("POST", "/api/stats", map[string]interface{}{"password": "wrong"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong body password, got %d", rec.Code)
	}
}

func TestOneStepDelivery(t *testing.T) {
	ts := newTestServer(t, 100)
	ts.uploadScript(t, "demo", `print("secret sauce")`, false)
	key := ts.issueKey(t, 1)

	rec := ts.do("GET", "/load/demo?key="+key+"&hwid="+testHWID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "-- PubArmour Protected") {
		t.Error("expected wrapped payload")
	}
	if strings.Contains(body, "secret sauce") {
		t.Error("raw source leaked through obfuscation")
	}
	if rec.Header().Get("Cache-Control") == "" {
		t.Error("delivery should disable caching")
	}

	// Execution counter incremented exactly once
	list := ts.admin("GET", "/api/scripts", nil)
	var infos []scripts.Info
	json.NewDecoder(list.Body).Decode(&infos)
	if len(infos) != 1 || infos[0].Executions != 1 {
		t.Errorf("expected 1 execution, got %+v", infos)
	}
}

func TestTwoStepDelivery(t *testing.T) {
	ts := newTestServer(t, 100)
	ts.uploadScript(t, "demo", `print("secret sauce")`, false)
	key := ts.issueKey(t, 1)

	// Step one: license proof buys a token
	rec := ts.do("GET", "/auth/demo?key="+key, nil, deliveryHeaders())
	if rec.Code != http.StatusOK {
		t.Fatalf("auth step: expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	token := rec.Body.String()
	if len(token) != 96 {
		t.Fatalf("expected 96-char token, got %q", token)
	}

	// Step two: token buys the payload
	rec = ts.do("GET", "/fetch/"+token, nil, deliveryHeaders())
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch step: expected 200, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "-- PubArmour Protected") {
		t.Error("expected wrapped payload")
	}

	// Replay is refused with an executable denial
	rec = ts.do("GET", "/fetch/"+token, nil, deliveryHeaders())
	if rec.Code != http.StatusForbidden {
		t.Errorf("replayed token: expected 403, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "token_already_used") {
		t.Errorf("expected token_already_used denial, got %s", rec.Body.String())
	}
}

func TestLicenseDenialIsExecutablePayload(t *testing.T) {
	ts := newTestServer(t, 100)
	ts.uploadScript(t, "demo", "print(1)", false)

	rec := ts.do("GET", "/load/demo?key=PA-BOGUS&hwid="+testHWID, nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "load(string.char(") {
		t.Error("denial should be the executable kick payload")
	}
	if strings.Contains(body, "KEY_INVALID") || strings.Contains(body, "Invalid key") {
		t.Error("denial must not reveal the failure subcase in plain text")
	}
}

func TestBrowserTrafficGetsNotFound(t *testing.T) {
	ts := newTestServer(t, 100)
	ts.uploadScript(t, "demo", "print(1)", false)
	key := ts.issueKey(t, 1)

	rec := ts.do("GET", "/auth/demo?key="+key, nil, map[string]string{
		"User-Agent": "Mozilla/5.0 (X11; Linux x86_64)",
		"X-HWID":     testHWID,
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected indistinguishable 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "404 Not Found") {
		t.Error("expected the shared not-found page")
	}
}

func TestDecoyBansPermanently(t *testing.T) {
	ts := newTestServer(t, 100)
	ts.uploadScript(t, "demo", "print(1)", false)
	key := ts.issueKey(t, 1)

	// Probe a decoy path
	rec := ts.do("GET", "/scripts/demo.lua", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("decoy should answer 404, got %d", rec.Code)
	}

	// The same source is now rejected everywhere, even with valid credentials
	rec = ts.do("GET", "/load/demo?key="+key+"&hwid="+testHWID, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("banned source should get 404 on legitimate routes, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "404 Not Found") {
		t.Error("ban response should be the shared not-found page")
	}
}

func TestRateLimitExhaustion(t *testing.T) {
	ts := newTestServer(t, 2)
	ts.uploadScript(t, "demo", "print(1)", false)
	key := ts.issueKey(t, 1)

	target := "/load/demo?key=" + key + "&hwid=" + testHWID
	for i := 0; i < 2; i++ {
		if rec := ts.do("GET", target, nil, nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := ts.do("GET", target, nil, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec.Body.String() != "-- rate_limited" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestSkipObfuscationWrapper(t *testing.T) {
	ts := newTestServer(t, 100)
	ts.uploadScript(t, "plain", `print("visible")`, true)
	key := ts.issueKey(t, 1)

	rec := ts.do("GET", "/load/plain?key="+key+"&hwid="+testHWID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "-- PubArmour Protected (pre-obfuscated)") {
		t.Error("expected the minimal wrapper")
	}
	if !strings.Contains(body, `print("visible")`) {
		t.Error("skip-obfuscation script should include source verbatim")
	}
}

func TestMissingScriptIsPlainSentinel(t *testing.T) {
	ts := newTestServer(t, 100)
	key := ts.issueKey(t, 1)

	rec := ts.do("GET", "/load/ghost?key="+key+"&hwid="+testHWID, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec.Body.String() != "-- not_found" {
		t.Errorf("script absence is not a security event; expected sentinel, got %q", rec.Body.String())
	}
}

func TestStatsAggregation(t *testing.T) {
	ts := newTestServer(t, 100)
	ts.uploadScript(t, "a", "12345", false)
	ts.uploadScript(t, "b", "123", false)
	key := ts.issueKey(t, 1)
	ts.issueKey(t, 1)

	ts.do("GET", "/load/a?key="+key+"&hwid="+testHWID, nil, nil)

	rec := ts.admin("POST", "/api/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", rec.Code)
	}

	var stats scripts.Stats
	json.NewDecoder(rec.Body).Decode(&stats)
	if stats.ScriptCount != 2 || stats.TotalExecutions != 1 || stats.TotalSize != 8 {
		t.Errorf("unexpected script stats: %+v", stats)
	}
	if stats.TotalKeys != 2 || stats.ActiveKeys != 2 {
		t.Errorf("unexpected key stats: %+v", stats)
	}
}

func TestAuditTrailRecordsDenials(t *testing.T) {
	ts := newTestServer(t, 100)
	ts.uploadScript(t, "demo", "print(1)", false)

	ts.do("GET", "/load/demo?key=PA-BOGUS&hwid="+testHWID, nil, nil)

	rec := ts.admin("GET", "/api/audit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit: expected 200, got %d", rec.Code)
	}

	var events []audit.Event
	json.NewDecoder(rec.Body).Decode(&events)

	found := false
	for _, e := range events {
		if e.Action == "license_denied" && e.Detail == "KEY_INVALID" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a license_denied audit event, got %+v", events)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 100)

	rec := ts.do("GET", "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var res struct {
		Status string `json:"status"`
	}
	json.NewDecoder(rec.Body).Decode(&res)
	if res.Status != "ok" {
		t.Errorf("expected ok, got %s", res.Status)
	}
}

func TestKeyAdminLifecycle(t *testing.T) {
	ts := newTestServer(t, 100)
	key := ts.issueKey(t, 1)

	// Revoke, then verify the derived flags
	rec := ts.admin("POST", "/api/keys/revoke", map[string]string{"key": key})
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d", rec.Code)
	}

	rec = ts.admin("GET", "/api/keys/list", nil)
	var statuses []licenses.Status
	json.NewDecoder(rec.Body).Decode(&statuses)
	if len(statuses) != 1 || !statuses[0].Revoked || statuses[0].Active {
		t.Errorf("unexpected status after revoke: %+v", statuses)
	}

	// Mutations against missing keys report structured not-found
	rec = ts.admin("POST", "/api/keys/revoke", map[string]string{"key": "PA-GHOST"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing key, got %d", rec.Code)
	}

	rec = ts.admin("DELETE", "/api/keys/delete", map[string]string{"key": key})
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}

	rec = ts.admin("GET", "/api/keys/list", nil)
	statuses = nil
	json.NewDecoder(rec.Body).Decode(&statuses)
	if len(statuses) != 0 {
		t.Errorf("expected empty list after delete, got %+v", statuses)
	}
}

func TestBatchIssue(t *testing.T) {
	ts := newTestServer(t, 100)

	rec := ts.admin("POST", "/api/keys/generate-batch", map[string]interface{}{
		"duration_hours": 1,
		"count":          5,
		"note":           "giveaway",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("batch: expected 200, got %d %s", rec.Code, rec.Body.String())
	}

	var res struct {
		Keys []struct {
			Key     string `json:"key"`
			Expires string `json:"expires"`
		} `json:"keys"`
		Note string `json:"note"`
	}
	json.NewDecoder(rec.Body).Decode(&res)
	if len(res.Keys) != 5 || res.Note != "giveaway" {
		t.Errorf("unexpected batch response: %+v", res)
	}

	rec = ts.admin("POST", "/api/keys/generate-batch", map[string]interface{}{
		"duration_hours": 1,
		"count":          51,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("count 51: expected 400, got %d", rec.Code)
	}
}
