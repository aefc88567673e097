package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/timeax/fortiplugin/internal/audit"
	"github.com/timeax/fortiplugin/internal/config"
	"github.com/timeax/fortiplugin/internal/manifest"
	"github.com/timeax/fortiplugin/internal/permission"
	"github.com/timeax/fortiplugin/internal/service"
)

// testConfig returns a defaulted in-memory configuration.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Reload.Enabled = false
	return cfg
}

func TestNew_BuildsWithoutBackends(t *testing.T) {
	srv, err := New(testConfig(t), "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if srv.Service() != nil {
		t.Error("service should be nil before Start")
	}
	if srv.Verifier() == nil {
		t.Error("verifier should be available immediately")
	}
}

func TestBuildEngine_MemoryBackends(t *testing.T) {
	srv, err := New(testConfig(t), "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.buildEngine(context.Background()); err != nil {
		t.Fatalf("buildEngine: %v", err)
	}
	if srv.Service() == nil {
		t.Fatal("expected service after buildEngine")
	}
	if srv.caps == nil {
		t.Fatal("expected capability manager after buildEngine")
	}
}

// TestEngineEndToEnd ingests a manifest through the wired service and
// checks requests against the resulting capabilities.
func TestEngineEndToEnd(t *testing.T) {
	srv, err := New(testConfig(t), "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.buildEngine(context.Background()); err != nil {
		t.Fatalf("buildEngine: %v", err)
	}
	svc := srv.Service()
	ctx := context.Background()

	manifestJSON := `{
		"required_permissions": [
			{
				"type": "network",
				"target": {
					"hosts": ["*.example.com"],
					"methods": ["GET"],
					"schemes": ["https"]
				}
			}
		]
	}`
	m, err := manifest.Parse([]byte(manifestJSON))
	if err != nil {
		t.Fatalf("parsing manifest: %v", err)
	}

	summary, err := svc.IngestManifest(ctx, "plug-1", m, service.IngestOptions{})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if summary.Created != 1 {
		t.Fatalf("created = %d, want 1", summary.Created)
	}

	res := svc.Check(ctx, "plug-1", permission.NetworkRequest{
		Method: "GET",
		Scheme: "https",
		Host:   "cdn.example.com",
		Path:   "/assets/app.js",
	}, nil)
	if !res.Allowed {
		t.Errorf("expected allow, got deny (%s)", res.Reason)
	}

	res = svc.Check(ctx, "plug-1", permission.NetworkRequest{
		Method: "POST",
		Scheme: "https",
		Host:   "cdn.example.com",
	}, nil)
	if res.Allowed {
		t.Error("expected deny for method not in allow-list")
	}
}

func TestOnConfigReload_AppliesCacheTTL(t *testing.T) {
	srv, err := New(testConfig(t), "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.buildEngine(context.Background()); err != nil {
		t.Fatalf("buildEngine: %v", err)
	}

	newCfg := testConfig(t)
	newCfg.Cache.TTL.Duration = 5 * time.Minute

	if err := srv.OnConfigReload(newCfg); err != nil {
		t.Fatalf("OnConfigReload: %v", err)
	}
	if got := srv.caps.TTL(); got != 5*time.Minute {
		t.Errorf("cache ttl = %v, want 5m", got)
	}
}

func TestOnConfigReload_AppliesLogLevel(t *testing.T) {
	srv, err := New(testConfig(t), "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if srv.logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should be disabled at the default level")
	}

	newCfg := testConfig(t)
	newCfg.Logging.Level = "debug"
	if err := srv.OnConfigReload(newCfg); err != nil {
		t.Fatalf("OnConfigReload: %v", err)
	}
	if !srv.logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("reloaded log level not applied to the live logger")
	}
}

// TestOnConfigReload_AppliesRedactPaths drives a decision through the
// wired service before and after a reload that adds a redaction rule.
func TestOnConfigReload_AppliesRedactPaths(t *testing.T) {
	srv, err := New(testConfig(t), "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var buf bytes.Buffer
	srv.emitter = audit.NewEmitter(
		slog.New(slog.NewJSONHandler(&buf, nil)),
		audit.Sampling{Rate: 1, DenyRate: 1}, 0, nil, nil,
	)
	if err := srv.buildEngine(context.Background()); err != nil {
		t.Fatalf("buildEngine: %v", err)
	}
	svc := srv.Service()
	ctx := context.Background()

	m, err := manifest.Parse([]byte(`{
		"required_permissions": [
			{"type": "network", "target": {"hosts": ["api.example.com"], "methods": ["GET"], "schemes": ["https"]}}
		]
	}`))
	if err != nil {
		t.Fatalf("parsing manifest: %v", err)
	}
	if _, err := svc.IngestManifest(ctx, "plug-1", m, service.IngestOptions{}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	req := permission.NetworkRequest{Method: "GET", Scheme: "https", Host: "api.example.com", Path: "/v1"}
	cctx := &permission.CheckContext{Extra: map[string]any{"session_ref": "sess-94021"}}

	svc.Check(ctx, "plug-1", req, cctx)
	if !strings.Contains(buf.String(), "sess-94021") {
		t.Fatalf("context value unexpectedly masked before reload:\n%s", buf.String())
	}

	newCfg := testConfig(t)
	newCfg.Logging.Audit.RedactPaths = []string{"session_ref"}
	if err := srv.OnConfigReload(newCfg); err != nil {
		t.Fatalf("OnConfigReload: %v", err)
	}

	buf.Reset()
	svc.Check(ctx, "plug-1", req, cctx)
	if buf.Len() == 0 {
		t.Fatal("no audit record written after reload")
	}
	if strings.Contains(buf.String(), "sess-94021") {
		t.Errorf("reloaded redact_paths not applied:\n%s", buf.String())
	}
}

func TestServer_ObservabilityEndpoints(t *testing.T) {
	cfg := testConfig(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	srv, err := New(cfg, "v-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv.listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitReady(t, base+"/healthz")

	// healthz reports the build version.
	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	var health map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decoding healthz: %v", err)
	}
	resp.Body.Close()
	if health["version"] != "v-test" {
		t.Errorf("healthz version = %q, want v-test", health["version"])
	}

	// readyz flips to ready once serving.
	resp, err = http.Get(base + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz status = %d, want 200", resp.StatusCode)
	}

	// metrics endpoint serves the custom registry.
	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func waitReady(t *testing.T, url string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("server did not become ready")
}
