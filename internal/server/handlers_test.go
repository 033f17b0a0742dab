package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"sitehook/internal/config"
	"sitehook/internal/deployment"
	"sitehook/internal/notify"
)

const pushPayload = `{"ref":"refs/heads/release","after":"deadbeef","repository":{"full_name":"u/r"},"pusher":{"name":"u"},"commits":[{},{}]}`

// stubDeployer counts invocations and returns a fixed result.
type stubDeployer struct {
	calls  atomic.Int32
	result deployment.Result
	ctxErr error
}

func (d *stubDeployer) Deploy(ctx context.Context) *deployment.Result {
	d.calls.Add(1)
	d.ctxErr = ctx.Err()
	r := d.result
	return &r
}

type statusCall struct {
	Repository, SHA string
	State           notify.State
}

// recordingNotifier records commit status calls.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []statusCall
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, repository, sha string, state notify.State, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, statusCall{repository, sha, state})
	return n.err
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Secret = testSecret
	cfg.AllowedBranches = []string{"release"}
	cfg.GlobalRateLimit = 0
	cfg.WebhookRateLimit = 0
	return cfg
}

func setupTestServer(t *testing.T, result deployment.Result) (*Server, *stubDeployer, *recordingNotifier) {
	t.Helper()
	deployer := &stubDeployer{result: result}
	notifier := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	return NewServer(testConfig(), deployer, notifier, logger), deployer, notifier
}

func newWebhookRequest(payload, event, signature string) *http.Request {
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if event != "" {
		req.Header.Set(EventHeader, event)
	}
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	return req
}

func serve(s *Server, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	var body map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	return rr, body
}

func TestHandleWebhook_DeploysAllowedBranch(t *testing.T) {
	server, deployer, notifier := setupTestServer(t, deployment.Result{Success: true, Output: "ok"})

	req := newWebhookRequest(pushPayload, "push", MakeTestSignature([]byte(pushPayload), testSecret))
	rr, body := serve(server, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	want := map[string]any{
		"message":    "Deployment triggered successfully",
		"repository": "u/r",
		"branch":     "release",
		"pusher":     "u",
		"commits":    float64(2),
		"output":     "ok",
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("body[%q] = %v, want %v", k, body[k], v)
		}
	}

	if deployer.calls.Load() != 1 {
		t.Errorf("Expected 1 deployment, got %d", deployer.calls.Load())
	}

	wantCalls := []statusCall{
		{"u/r", "deadbeef", notify.StatePending},
		{"u/r", "deadbeef", notify.StateSuccess},
	}
	if len(notifier.calls) != len(wantCalls) {
		t.Fatalf("Expected %d status calls, got %+v", len(wantCalls), notifier.calls)
	}
	for i := range wantCalls {
		if notifier.calls[i] != wantCalls[i] {
			t.Errorf("status call %d = %+v, want %+v", i, notifier.calls[i], wantCalls[i])
		}
	}
}

func TestHandleWebhook_DeploymentFailure(t *testing.T) {
	server, deployer, notifier := setupTestServer(t, deployment.Result{Success: false, ExitCode: 1, Output: "git pull failed"})

	req := newWebhookRequest(pushPayload, "push", MakeTestSignature([]byte(pushPayload), testSecret))
	rr, body := serve(server, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", rr.Code)
	}
	if body["error"] != "Deployment failed" {
		t.Errorf("error = %v", body["error"])
	}
	if body["repository"] != "u/r" || body["branch"] != "release" || body["output"] != "git pull failed" {
		t.Errorf("Unexpected failure body: %v", body)
	}
	if deployer.calls.Load() != 1 {
		t.Errorf("Expected 1 deployment, got %d", deployer.calls.Load())
	}
	if last := notifier.calls[len(notifier.calls)-1]; last.State != notify.StateFailure {
		t.Errorf("Last status = %s, want failure", last.State)
	}
}

func TestHandleWebhook_NotifierErrorIgnored(t *testing.T) {
	server, _, notifier := setupTestServer(t, deployment.Result{Success: true, Output: "ok"})
	notifier.err = io.ErrUnexpectedEOF

	req := newWebhookRequest(pushPayload, "push", MakeTestSignature([]byte(pushPayload), testSecret))
	rr, _ := serve(server, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200 despite notifier errors, got %d", rr.Code)
	}
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	tests := []struct {
		name      string
		signature string
	}{
		{"wrong secret", MakeTestSignature([]byte(pushPayload), "wrong-secret-32-chars-long-xxxxxxx")},
		{"missing", ""},
		{"unsupported algorithm", "md5=abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, deployer, _ := setupTestServer(t, deployment.Result{Success: true})

			rr, body := serve(server, newWebhookRequest(pushPayload, "push", tt.signature))

			if rr.Code != http.StatusForbidden {
				t.Errorf("Expected status 403, got %d", rr.Code)
			}
			if body["error"] != "Invalid signature" {
				t.Errorf("Expected 'Invalid signature' error, got %v", body)
			}
			if deployer.calls.Load() != 0 {
				t.Errorf("Deployer ran %d times for an unsigned request", deployer.calls.Load())
			}
		})
	}
}

func TestHandleWebhook_SignatureCheckedBeforeJSON(t *testing.T) {
	server, _, _ := setupTestServer(t, deployment.Result{Success: true})

	rr, _ := serve(server, newWebhookRequest("not json", "push", "sha256=00"))

	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 for unsigned invalid JSON, got %d", rr.Code)
	}
}

func TestHandleWebhook_InvalidJSON(t *testing.T) {
	server, deployer, _ := setupTestServer(t, deployment.Result{Success: true})

	payload := `{"ref":`
	rr, body := serve(server, newWebhookRequest(payload, "push", MakeTestSignature([]byte(payload), testSecret)))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
	if body["error"] != "Invalid JSON" {
		t.Errorf("Expected 'Invalid JSON' error, got %v", body)
	}
	if deployer.calls.Load() != 0 {
		t.Error("Deployer should not run for invalid JSON")
	}
}

func TestHandleWebhook_NonPushEvent(t *testing.T) {
	tests := []struct {
		event string
		want  string
	}{
		{"pull_request", "Event pull_request ignored"},
		{"ping", "Event ping ignored"},
		{"", "Event unknown ignored"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			server, deployer, _ := setupTestServer(t, deployment.Result{Success: true})

			rr, body := serve(server, newWebhookRequest(pushPayload, tt.event, MakeTestSignature([]byte(pushPayload), testSecret)))

			if rr.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d", rr.Code)
			}
			if body["message"] != tt.want {
				t.Errorf("message = %v, want %q", body["message"], tt.want)
			}
			if deployer.calls.Load() != 0 {
				t.Error("Deployer should not run for non-push events")
			}
		})
	}
}

func TestHandleWebhook_NonTargetBranch(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"other branch", `{"ref":"refs/heads/feature-x"}`, "Branch feature-x not configured for auto-deployment"},
		{"tag", `{"ref":"refs/tags/release"}`, "Branch refs/tags/release not configured for auto-deployment"},
		{"missing ref", `{}`, "Branch  not configured for auto-deployment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, deployer, notifier := setupTestServer(t, deployment.Result{Success: true})

			rr, body := serve(server, newWebhookRequest(tt.payload, "push", MakeTestSignature([]byte(tt.payload), testSecret)))

			if rr.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d", rr.Code)
			}
			if body["message"] != tt.want {
				t.Errorf("message = %v, want %q", body["message"], tt.want)
			}
			if deployer.calls.Load() != 0 {
				t.Error("Deployer should not run for non-target branches")
			}
			if len(notifier.calls) != 0 {
				t.Error("No status should be reported for ignored pushes")
			}
		})
	}
}

func TestHandleWebhook_MissingFieldsDefaultToUnknown(t *testing.T) {
	server, _, _ := setupTestServer(t, deployment.Result{Success: true, Output: "ok"})

	payload := `{"ref":"refs/heads/release"}`
	rr, body := serve(server, newWebhookRequest(payload, "push", MakeTestSignature([]byte(payload), testSecret)))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if body["repository"] != "unknown" || body["pusher"] != "unknown" || body["commits"] != float64(0) {
		t.Errorf("Unexpected defaults: %v", body)
	}
}

func TestHandleWebhook_PayloadTooLarge(t *testing.T) {
	server, deployer, _ := setupTestServer(t, deployment.Result{Success: true})

	largePayload := make([]byte, MaxPayloadBytes+1)
	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(largePayload))
	req.Header.Set(EventHeader, "push")

	rr, body := serve(server, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", rr.Code)
	}
	if body["error"] != "Payload too large" {
		t.Errorf("Expected 'Payload too large' error, got %v", body)
	}
	if deployer.calls.Load() != 0 {
		t.Error("Deployer should not run for oversized payloads")
	}
}

func TestProcessWebhook_DeployOutlivesRequestContext(t *testing.T) {
	server, deployer, _ := setupTestServer(t, deployment.Result{Success: true, Output: "ok"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status, _ := server.ProcessWebhook(ctx, WebhookRequest{
		Body:      []byte(pushPayload),
		Signature: MakeTestSignature([]byte(pushPayload), testSecret),
		EventType: "push",
	})

	if status != http.StatusOK {
		t.Errorf("Expected status 200, got %d", status)
	}
	if deployer.ctxErr != nil {
		t.Errorf("Deployer saw a cancelled context: %v", deployer.ctxErr)
	}
}

func TestHandleIndex(t *testing.T) {
	server, _, _ := setupTestServer(t, deployment.Result{})

	rr, body := serve(server, httptest.NewRequest("GET", "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if body["service"] != ServiceName || body["status"] != "running" {
		t.Errorf("Unexpected index body: %v", body)
	}

	endpoints, _ := body["endpoints"].(map[string]any)
	for _, path := range []string{"/", "/health", "/webhook", "/metrics"} {
		if _, ok := endpoints[path]; !ok {
			t.Errorf("Endpoint %s not listed", path)
		}
	}

	cfg, _ := body["configuration"].(map[string]any)
	if cfg["service_name"] != config.DefaultServiceName {
		t.Errorf("service_name = %v", cfg["service_name"])
	}
	if cfg["port"] != float64(config.DefaultPort) {
		t.Errorf("port = %v", cfg["port"])
	}
	if branches, _ := cfg["allowed_branches"].([]any); len(branches) != 1 || branches[0] != "release" {
		t.Errorf("allowed_branches = %v", cfg["allowed_branches"])
	}
	if strings.Contains(rr.Body.String(), testSecret) {
		t.Error("Index must not expose the secret")
	}
}

func TestHandleHealth(t *testing.T) {
	server, _, _ := setupTestServer(t, deployment.Result{})

	rr, body := serve(server, httptest.NewRequest("GET", "/health", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", body["status"])
	}
	if body["service"] != config.DefaultServiceName {
		t.Errorf("service = %v", body["service"])
	}
	if body["port"] != float64(config.DefaultPort) {
		t.Errorf("port = %v", body["port"])
	}
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	server, _, _ := setupTestServer(t, deployment.Result{})

	rr, body := serve(server, httptest.NewRequest("GET", "/nope", nil))
	if rr.Code != http.StatusNotFound || body["error"] != "Not found" {
		t.Errorf("GET /nope = %d %v", rr.Code, body)
	}

	rr, body = serve(server, httptest.NewRequest("GET", "/webhook", nil))
	if rr.Code != http.StatusMethodNotAllowed || body["error"] != "Method not allowed" {
		t.Errorf("GET /webhook = %d %v", rr.Code, body)
	}
}

func TestRouter_Metrics(t *testing.T) {
	server, _, _ := setupTestServer(t, deployment.Result{Success: true})

	serve(server, newWebhookRequest(pushPayload, "ping", MakeTestSignature([]byte(pushPayload), testSecret)))

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `sitehook_webhook_requests_total{outcome="ignored_event"}`) {
		t.Error("webhook counter missing from /metrics")
	}
}

func TestRouter_WebhookRateLimit(t *testing.T) {
	server, _, _ := setupTestServer(t, deployment.Result{Success: true})
	server.Config.WebhookRateLimit = 2
	router := server.Router()

	codes := make([]int, 3)
	for i := range codes {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, newWebhookRequest(pushPayload, "ping", MakeTestSignature([]byte(pushPayload), testSecret)))
		codes[i] = rr.Code
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("First two requests should pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("Third request should be rate limited, got %d", codes[2])
	}

	// Other routes are unaffected
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("Health should not be webhook rate limited, got %d", rr.Code)
	}
}
