package service

import (
	"context"
	"testing"
	"time"

	"github.com/timeax/fortiplugin/internal/capability"
	"github.com/timeax/fortiplugin/internal/evaluate"
	"github.com/timeax/fortiplugin/internal/manifest"
	"github.com/timeax/fortiplugin/internal/permission"
	"github.com/timeax/fortiplugin/internal/registry"
	"github.com/timeax/fortiplugin/internal/repo"
)

func newTestService(t *testing.T) (*Service, *repo.MemoryRepository) {
	t.Helper()
	r := repo.NewMemoryRepository()
	caps := capability.NewManager(capability.NewMemoryCache(), capability.NewCompiler(r, time.Now, nil), time.Minute, nil, nil)
	reg := registry.New(r, caps, evaluate.NewConditions(nil, nil), time.Now)
	return New(r, reg, caps, nil, nil, nil), r
}

func sampleManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse([]byte(`{
		"required_permissions": [
			{
				"type": "network",
				"target": {
					"hosts": ["*.example.com"],
					"methods": ["GET"],
					"schemes": ["https"]
				}
			},
			{
				"type": "db",
				"actions": ["select"],
				"target": {
					"model": "Invoice",
					"all_columns": ["id", "total", "status"]
				}
			}
		],
		"optional_permissions": [
			{
				"type": "file",
				"actions": ["read"],
				"target": {
					"base_dir": "/srv/plugins/reports",
					"patterns": ["**/*.csv"]
				}
			}
		]
	}`))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestIngestManifest(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sum, err := svc.IngestManifest(ctx, "plug-1", sampleManifest(t), IngestOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Created != 3 || sum.Linked != 0 || len(sum.Items) != 3 || len(sum.Errors) != 0 {
		t.Fatalf("summary = %+v", sum)
	}

	// Ingesting the same manifest again links every rule.
	again, err := svc.IngestManifest(ctx, "plug-1", sampleManifest(t), IngestOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if again.Created != 0 || again.Linked != 3 {
		t.Fatalf("re-ingest summary = %+v", again)
	}
	for i, item := range again.Items {
		if item.ConcreteID != sum.Items[i].ConcreteID {
			t.Errorf("item %d resolved to a different row", i)
		}
	}
}

func TestIngestManifest_UningestibleRuleContinues(t *testing.T) {
	svc, _ := newTestService(t)
	m := &manifest.Manifest{
		RequiredPermissions: []manifest.Rule{
			{Type: permission.TypeRoute, Target: manifest.Target{}},
			{Type: permission.TypeModule, Target: manifest.Target{"module": "billing"}},
		},
	}

	sum, err := svc.IngestManifest(context.Background(), "plug-1", m, IngestOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Errors) != 1 || sum.Errors[0].Index != 0 || sum.Errors[0].Type != permission.TypeRoute {
		t.Fatalf("errors = %+v", sum.Errors)
	}
	if sum.Created != 1 {
		t.Errorf("sibling rule should still ingest, summary = %+v", sum)
	}
}

func TestCheck_EndToEnd(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.IngestManifest(ctx, "plug-1", sampleManifest(t), IngestOptions{}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		req        permission.Request
		want       bool
		wantReason string
	}{
		{
			name: "network allow",
			req:  permission.NetworkRequest{Method: "GET", Scheme: "https", Host: "cdn.example.com", Path: "/assets/app.js"},
			want: true,
		},
		{
			name:       "network method denied",
			req:        permission.NetworkRequest{Method: "POST", Scheme: "https", Host: "cdn.example.com"},
			want:       false,
			wantReason: permission.ReasonMethodNotAllowed,
		},
		{
			name: "db select allowed columns",
			req:  permission.DBRequest{Model: "Invoice", Action: "select", Columns: []string{"id", "total"}},
			want: true,
		},
		{
			name:       "db select forbidden column",
			req:        permission.DBRequest{Model: "Invoice", Action: "select", Columns: []string{"ssn"}},
			want:       false,
			wantReason: permission.ReasonColumnsNotAllowed,
		},
		{
			name: "file read inside sandbox",
			req:  permission.FileRequest{Action: "read", Path: "2024/q1.csv"},
			want: true,
		},
		{
			name:       "file escape denied",
			req:        permission.FileRequest{Action: "read", Path: "../../etc/passwd"},
			want:       false,
			wantReason: permission.ReasonSandboxEscape,
		},
		{
			name:       "ungranted type denied",
			req:        permission.NotificationRequest{Channel: "mail"},
			want:       false,
			wantReason: permission.ReasonNoPermission,
		},
		{
			name:       "unapproved route denied",
			req:        permission.RouteRequest{RouteID: "r-1"},
			want:       false,
			wantReason: permission.ReasonRouteNotApproved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := svc.Check(ctx, "plug-1", tt.req, nil)
			if res.Allowed != tt.want {
				t.Fatalf("allowed = %v (%s), want %v", res.Allowed, res.Reason, tt.want)
			}
			if !tt.want && res.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", res.Reason, tt.wantReason)
			}
		})
	}
}

func TestCheck_UnknownPluginDenied(t *testing.T) {
	svc, _ := newTestService(t)
	res := svc.Check(context.Background(), "ghost",
		permission.NetworkRequest{Method: "GET", Scheme: "https", Host: "api.example.com"}, nil)
	if res.Allowed || res.Reason != permission.ReasonNoPermission {
		t.Errorf("result = %+v", res)
	}
}

func TestCheck_UnknownType(t *testing.T) {
	svc, _ := newTestService(t)
	res := svc.Check(context.Background(), "plug-1", bogusRequest{}, nil)
	if res.Allowed || res.Reason != permission.ReasonUnknownType {
		t.Errorf("result = %+v", res)
	}
}

type bogusRequest struct{}

func (bogusRequest) PermissionType() permission.Type { return permission.Type("queue") }

func TestDeactivate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sum, err := svc.IngestManifest(ctx, "plug-1", sampleManifest(t), IngestOptions{})
	if err != nil {
		t.Fatal(err)
	}
	var netID string
	for _, item := range sum.Items {
		if item.Type == permission.TypeNetwork {
			netID = item.ConcreteID
		}
	}

	req := permission.NetworkRequest{Method: "GET", Scheme: "https", Host: "cdn.example.com"}
	if res := svc.Check(ctx, "plug-1", req, nil); !res.Allowed {
		t.Fatalf("precondition failed: %s", res.Reason)
	}

	if err := svc.Deactivate(ctx, "plug-1", permission.TypeNetwork, netID); err != nil {
		t.Fatal(err)
	}
	if res := svc.Check(ctx, "plug-1", req, nil); res.Allowed {
		t.Error("deactivated grant still allows")
	}

	// Re-ingestion reactivates the assignment and flushes the cache.
	if _, err := svc.IngestManifest(ctx, "plug-1", sampleManifest(t), IngestOptions{}); err != nil {
		t.Fatal(err)
	}
	if res := svc.Check(ctx, "plug-1", req, nil); !res.Allowed {
		t.Errorf("re-ingested grant denied: %s", res.Reason)
	}
}

func TestDeactivate_Unknown(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.Deactivate(context.Background(), "plug-1", permission.TypeNetwork, "nope"); err == nil {
		t.Error("deactivating a missing assignment must error")
	}
}

func TestIngestOptions_WindowApplied(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	started := time.Now().Add(-2 * time.Hour)
	opts := IngestOptions{
		Window:    &permission.TimeWindow{Limited: true, Kind: permission.WindowTTL, Value: "3600"},
		StartedAt: started,
	}
	if _, err := svc.IngestManifest(ctx, "plug-1", sampleManifest(t), opts); err != nil {
		t.Fatal(err)
	}

	res := svc.Check(ctx, "plug-1",
		permission.NetworkRequest{Method: "GET", Scheme: "https", Host: "cdn.example.com"}, nil)
	if res.Allowed {
		t.Error("grants past their window must deny")
	}
	if res.Reason != permission.ReasonNoPermission {
		t.Errorf("reason = %q", res.Reason)
	}
}

func TestWarmCache(t *testing.T) {
	svc, r := newTestService(t)
	ctx := context.Background()

	if _, err := svc.IngestManifest(ctx, "plug-1", sampleManifest(t), IngestOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := svc.WarmCache(ctx, "plug-1"); err != nil {
		t.Fatal(err)
	}

	// A grant added behind the cache stays invisible until invalidation,
	// proving the warmed entry is served.
	if _, err := r.UpsertForPlugin(ctx, "plug-1", repo.UpsertDTO{
		Type: permission.TypeNetwork,
		Spec: permission.NetworkSpec{Hosts: []string{"direct.example.com"}, Access: true},
	}, repo.AssignMeta{Active: true}); err != nil {
		t.Fatal(err)
	}

	res := svc.Check(ctx, "plug-1",
		permission.NetworkRequest{Method: "GET", Scheme: "https", Host: "direct.example.com"}, nil)
	if res.Allowed {
		t.Error("cached capabilities should not include the new grant yet")
	}
}
