package permission

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestType_Valid(t *testing.T) {
	for _, typ := range Types() {
		if !typ.Valid() {
			t.Errorf("%s should be valid", typ)
		}
	}
	for _, typ := range []Type{"", "queue", "DB"} {
		if typ.Valid() {
			t.Errorf("%q should be invalid", typ)
		}
	}
}

func TestType_HasConcrete(t *testing.T) {
	if TypeRoute.HasConcrete() {
		t.Error("route has no concrete rows")
	}
	if Type("queue").HasConcrete() {
		t.Error("invalid types have no concrete rows")
	}
	for _, typ := range []Type{TypeDB, TypeFile, TypeNotification, TypeModule, TypeNetwork, TypeCodec} {
		if !typ.HasConcrete() {
			t.Errorf("%s should have concrete rows", typ)
		}
	}
}

func TestConditions_Empty(t *testing.T) {
	tests := []struct {
		name string
		cond *Conditions
		want bool
	}{
		{"nil", nil, true},
		{"zero value", &Conditions{}, true},
		{"empty env lists", &Conditions{Env: &EnvCondition{}}, true},
		{"guard set", &Conditions{Guard: "web"}, false},
		{"setting link set", &Conditions{SettingLink: "x"}, false},
		{"env allow set", &Conditions{Env: &EnvCondition{Allow: []string{"production"}}}, false},
		{"env deny set", &Conditions{Env: &EnvCondition{Deny: []string{"staging"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cond.Empty(); got != tt.want {
				t.Errorf("Empty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIdentity_FoldsCase(t *testing.T) {
	a := NetworkSpec{
		Hosts:   []string{"API.Example.COM"},
		Methods: []string{"get"},
		Schemes: []string{"HTTPS"},
		Access:  true,
	}
	b := NetworkSpec{
		Hosts:   []string{"api.example.com"},
		Methods: []string{"GET"},
		Schemes: []string{"https"},
		Access:  true,
	}
	if !reflect.DeepEqual(a.Identity(), b.Identity()) {
		t.Error("network identity should fold host/method/scheme case")
	}

	// Ports differ: identities must differ too.
	c := b
	c.Ports = []int{8443}
	if reflect.DeepEqual(b.Identity(), c.Identity()) {
		t.Error("differing ports must produce differing identities")
	}
}

func TestIdentity_ExcludesLabel(t *testing.T) {
	// Label lives on the row, not in the spec, so it cannot reach the
	// natural key. The identity payload only carries spec fields.
	id := FileSpec{BaseDir: "/srv/x", Actions: []string{"READ"}, Access: true}.Identity()
	want := map[string]any{
		"base_dir":        "/srv/x",
		"patterns":        []string(nil),
		"actions":         []string{"read"},
		"follow_symlinks": false,
		"access":          true,
	}
	if !reflect.DeepEqual(id, want) {
		t.Errorf("identity = %#v, want %#v", id, want)
	}
}

func TestIdentity_DBActionsFolded(t *testing.T) {
	a := DBSpec{Model: "Invoice", Actions: []string{"SELECT"}, Access: true}
	b := DBSpec{Model: "Invoice", Actions: []string{"select"}, Access: true}
	if !reflect.DeepEqual(a.Identity(), b.Identity()) {
		t.Error("db identity should fold action case")
	}
	// Model case is preserved; the matcher folds at decision time.
	c := DBSpec{Model: "invoice", Actions: []string{"select"}, Access: true}
	if reflect.DeepEqual(b.Identity(), c.Identity()) {
		t.Error("model case is part of identity")
	}
}

func TestDecodeSpec(t *testing.T) {
	tests := []struct {
		typ  Type
		data string
		want Spec
	}{
		{TypeNetwork, `{"hosts":["a.example.com"],"access":true}`, NetworkSpec{Hosts: []string{"a.example.com"}, Access: true}},
		{TypeFile, `{"base_dir":"/srv/x","access":true}`, FileSpec{BaseDir: "/srv/x", Access: true}},
		{TypeDB, `{"model":"Invoice","access":true}`, DBSpec{Model: "Invoice", Access: true}},
		{TypeNotification, `{"channels":["mail"],"access":true}`, NotificationSpec{Channels: []string{"mail"}, Access: true}},
		{TypeModule, `{"module":"billing","access":true}`, ModuleSpec{Module: "billing", Access: true}},
		{TypeCodec, `{"group":"json","access":true}`, CodecSpec{Group: "json", Access: true}},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			got, err := DecodeSpec(tt.typ, []byte(tt.data))
			if err != nil {
				t.Fatalf("DecodeSpec: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DecodeSpec = %#v, want %#v", got, tt.want)
			}
			if got.PermissionType() != tt.typ {
				t.Errorf("PermissionType = %s, want %s", got.PermissionType(), tt.typ)
			}
		})
	}

	if _, err := DecodeSpec(TypeRoute, []byte(`{}`)); err == nil {
		t.Error("route has no concrete spec and must not decode")
	}
	if _, err := DecodeSpec(TypeDB, []byte(`{`)); err == nil {
		t.Error("malformed payload must error")
	}
}

func TestConcrete_JSONRoundTrip(t *testing.T) {
	row := Concrete{
		ID:         "c-1",
		Type:       TypeNetwork,
		NaturalKey: "deadbeef",
		Label:      "cdn access",
		Spec:       NetworkSpec{Hosts: []string{"*.example.com"}, Methods: []string{"GET"}, Access: true},
		CreatedAt:  time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := json.Marshal(row)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Concrete
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got, row) {
		t.Errorf("round trip changed the row:\n got %#v\nwant %#v", got, row)
	}
}

func TestConcrete_UnmarshalUnknownType(t *testing.T) {
	payload := `{"id":"c-1","type":"queue","natural_key":"x","spec":{},"created_at":"2025-01-01T00:00:00Z"}`
	var got Concrete
	if err := json.Unmarshal([]byte(payload), &got); err == nil {
		t.Error("unknown type must fail to decode")
	}
}

func TestResultConstructors(t *testing.T) {
	allow := Allow(TypeDB, "c-9", map[string]any{"model": "Invoice"})
	if !allow.Allowed || allow.Matched == nil || allow.Matched.ID != "c-9" || allow.Matched.Type != TypeDB {
		t.Errorf("Allow() = %#v", allow)
	}
	if allow.Reason != "" {
		t.Errorf("allow carries no reason, got %q", allow.Reason)
	}

	deny := Deny(ReasonWindowExpired, nil)
	if deny.Allowed || deny.Reason != ReasonWindowExpired || deny.Matched != nil {
		t.Errorf("Deny() = %#v", deny)
	}
}
