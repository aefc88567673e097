package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/timeax/fortiplugin/internal/permission"
)

func newCaptureEmitter(sampling Sampling, perSecond float64, redactor *Redactor) (*Emitter, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return NewEmitter(logger, sampling, perSecond, redactor, nil), &buf
}

func TestEmit_WritesRecord(t *testing.T) {
	e, buf := newCaptureEmitter(Sampling{Rate: 1, DenyRate: 1}, 0, nil)

	err := e.Emit(context.Background(), Record{
		PluginID: "plug-1",
		Type:     permission.TypeNetwork,
		Action:   ActionDeny,
		Resource: "GET https://api.example.com/x",
		Reason:   permission.ReasonHostNotAllowed,
		Context:  map[string]any{"guard": "web"},
	})
	if err != nil {
		t.Fatal(err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("audit line is not JSON: %v\n%s", err, buf.String())
	}
	if entry["msg"] != "audit" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["audit_id"] == "" || entry["audit_id"] == nil {
		t.Error("audit_id not assigned")
	}
	perm := entry["permission"].(map[string]any)
	if perm["plugin"] != "plug-1" || perm["action"] != ActionDeny || perm["reason"] != permission.ReasonHostNotAllowed {
		t.Errorf("permission group = %v", perm)
	}
}

func TestEmit_MissingPluginID(t *testing.T) {
	e, buf := newCaptureEmitter(Sampling{Rate: 1, DenyRate: 1}, 0, nil)
	if err := e.Emit(context.Background(), Record{Action: ActionAllow}); err == nil {
		t.Fatal("records without a plugin id must be rejected")
	}
	if buf.Len() != 0 {
		t.Error("rejected record still written")
	}
}

func TestEmit_RedactsContext(t *testing.T) {
	e, buf := newCaptureEmitter(Sampling{Rate: 1, DenyRate: 1}, 0, NewRedactor(nil))

	e.Emit(context.Background(), Record{
		PluginID: "plug-1",
		Action:   ActionAllow,
		Context: map[string]any{
			"authorization": "Bearer abc123",
			"host":          "api.example.com",
		},
	})

	out := buf.String()
	if strings.Contains(out, "abc123") {
		t.Error("credential leaked into the audit line")
	}
	if !strings.Contains(out, "Bearer ***") {
		t.Errorf("auth scheme prefix missing: %s", out)
	}
	if !strings.Contains(out, "api.example.com") {
		t.Error("non-sensitive context dropped")
	}
}

func TestEmit_SamplingDropsEverythingAtZero(t *testing.T) {
	e, buf := newCaptureEmitter(Sampling{Rate: 0, DenyRate: 0}, 0, nil)
	for i := 0; i < 50; i++ {
		if err := e.Emit(context.Background(), Record{PluginID: "plug-1", Action: ActionAllow}); err != nil {
			t.Fatal(err)
		}
		e.Emit(context.Background(), Record{PluginID: "plug-1", Action: ActionDeny})
	}
	if buf.Len() != 0 {
		t.Errorf("zero sampling still wrote records:\n%s", buf.String())
	}
}

func TestEmit_DenySampledIndependently(t *testing.T) {
	e, buf := newCaptureEmitter(Sampling{Rate: 0, DenyRate: 1}, 0, nil)

	e.Emit(context.Background(), Record{PluginID: "plug-1", Action: ActionAllow})
	if buf.Len() != 0 {
		t.Fatal("allow should have been sampled out")
	}
	e.Emit(context.Background(), Record{PluginID: "plug-1", Action: ActionDeny})
	if buf.Len() == 0 {
		t.Fatal("deny should always be written at rate 1")
	}
}

func TestEmit_ThrottleDropsBurst(t *testing.T) {
	e, buf := newCaptureEmitter(Sampling{Rate: 1, DenyRate: 1}, 1, nil)

	for i := 0; i < 20; i++ {
		e.Emit(context.Background(), Record{PluginID: "plug-1", Action: ActionAllow})
	}
	written := strings.Count(buf.String(), "\n")
	if written == 0 {
		t.Fatal("throttle dropped everything including the initial burst")
	}
	if written >= 20 {
		t.Errorf("throttle let all %d records through", written)
	}
}

func TestReconfigure(t *testing.T) {
	e, buf := newCaptureEmitter(Sampling{Rate: 1, DenyRate: 1}, 0, nil)

	e.Reconfigure(Sampling{Rate: 0, DenyRate: 0}, 0, nil)
	e.Emit(context.Background(), Record{PluginID: "plug-1", Action: ActionAllow})
	if buf.Len() != 0 {
		t.Fatal("reconfigured sampling not applied")
	}

	e.Reconfigure(Sampling{Rate: 1, DenyRate: 1}, 0, nil)
	e.Emit(context.Background(), Record{PluginID: "plug-1", Action: ActionAllow})
	if buf.Len() == 0 {
		t.Fatal("restored sampling not applied")
	}
}

func TestReconfigure_SwapsRedactor(t *testing.T) {
	e, buf := newCaptureEmitter(Sampling{Rate: 1, DenyRate: 1}, 0, nil)

	rec := Record{
		PluginID: "plug-1",
		Action:   ActionAllow,
		Context:  map[string]any{"payload": map[string]any{"invoice_total": "1200"}},
	}

	e.Emit(context.Background(), rec)
	if !strings.Contains(buf.String(), "1200") {
		t.Fatal("default rules should not touch payload.invoice_total")
	}

	buf.Reset()
	e.Reconfigure(Sampling{Rate: 1, DenyRate: 1}, 0, NewRedactor([]string{"payload.invoice_total"}))
	e.Emit(context.Background(), rec)
	if strings.Contains(buf.String(), "1200") {
		t.Errorf("reconfigured redaction rule not applied:\n%s", buf.String())
	}

	buf.Reset()
	e.Reconfigure(Sampling{Rate: 1, DenyRate: 1}, 0, nil)
	e.Emit(context.Background(), rec)
	if strings.Contains(buf.String(), "1200") {
		t.Error("nil redactor must keep the previous rules")
	}
}

func TestSampling_ShouldLog(t *testing.T) {
	always := Sampling{Rate: 1, DenyRate: 1}
	if !always.ShouldLog(ActionAllow) || !always.ShouldLog(ActionDeny) || !always.ShouldLog(ActionIngest) {
		t.Error("rate 1 must always log")
	}

	never := Sampling{}
	for i := 0; i < 100; i++ {
		if never.ShouldLog(ActionAllow) || never.ShouldLog(ActionDeny) {
			t.Fatal("rate 0 must never log")
		}
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		req  permission.Request
		want string
	}{
		{permission.NetworkRequest{Method: "GET", Scheme: "https", Host: "api.example.com", Path: "/v1"}, "GET https://api.example.com/v1"},
		{permission.NetworkRequest{Method: "GET", Scheme: "https", Host: "api.example.com", Port: 8443}, "GET https://api.example.com:8443"},
		{permission.FileRequest{Action: "read", Path: "reports/q1.csv"}, "file:read reports/q1.csv"},
		{permission.DBRequest{Model: "Invoice", Action: "select", Columns: []string{"id"}}, "db:select Invoice[id]"},
		{permission.DBRequest{Model: "Invoice", Action: "delete"}, "db:delete Invoice"},
		{permission.NotificationRequest{Channel: "mail", Template: "invoice_ready", Recipient: "a@b.c"}, "notify:mail/invoice_ready -> a@b.c"},
		{permission.ModuleRequest{Module: "billing", API: "createInvoice"}, "module:billing.createInvoice"},
		{permission.CodecRequest{Group: "json", Primitive: "encode"}, "codec:json/encode"},
		{permission.RouteRequest{RouteID: "r-1"}, "route:r-1"},
	}
	for _, tt := range tests {
		if got := Summarize(tt.req); got != tt.want {
			t.Errorf("Summarize(%#v) = %q, want %q", tt.req, got, tt.want)
		}
	}
}
