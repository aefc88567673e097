package permission

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Spec is the type-specific identity of a concrete permission row.
// Identity returns the payload that is canonicalized and hashed into the
// row's natural key; two semantically identical rules must produce equal
// identity payloads after canonicalization.
type Spec interface {
	PermissionType() Type
	Identity() map[string]any
}

// NetworkSpec grants outbound network access.
type NetworkSpec struct {
	Hosts             []string `json:"hosts"`
	Methods           []string `json:"methods,omitempty"`
	Schemes           []string `json:"schemes,omitempty"`
	Ports             []int    `json:"ports,omitempty"`
	Paths             []string `json:"paths,omitempty"`
	HeadersAllowed    []string `json:"headers_allowed,omitempty"`
	IPsAllowed        []string `json:"ips_allowed,omitempty"`
	AuthViaHostSecret bool     `json:"auth_via_host_secret,omitempty"`
	Access            bool     `json:"access"`
}

func (s NetworkSpec) PermissionType() Type { return TypeNetwork }

func (s NetworkSpec) Identity() map[string]any {
	return map[string]any{
		"hosts":                foldLower(s.Hosts),
		"methods":              foldUpper(s.Methods),
		"schemes":              foldLower(s.Schemes),
		"ports":                s.Ports,
		"paths":                s.Paths,
		"headers_allowed":      foldLower(s.HeadersAllowed),
		"ips_allowed":          s.IPsAllowed,
		"auth_via_host_secret": s.AuthViaHostSecret,
		"access":               s.Access,
	}
}

// FileSpec grants filesystem access inside a sandbox root.
type FileSpec struct {
	BaseDir        string   `json:"base_dir"`
	Patterns       []string `json:"patterns,omitempty"`
	Actions        []string `json:"actions,omitempty"`
	FollowSymlinks bool     `json:"follow_symlinks,omitempty"`
	Access         bool     `json:"access"`
}

func (s FileSpec) PermissionType() Type { return TypeFile }

func (s FileSpec) Identity() map[string]any {
	return map[string]any{
		"base_dir":        s.BaseDir,
		"patterns":        s.Patterns,
		"actions":         foldLower(s.Actions),
		"follow_symlinks": s.FollowSymlinks,
		"access":          s.Access,
	}
}

// DBSpec grants access to one model/table. A nil column list means the
// catalog does not constrain that axis.
type DBSpec struct {
	Model           string   `json:"model"`
	Actions         []string `json:"actions,omitempty"`
	AllColumns      []string `json:"all_columns,omitempty"`
	WritableColumns []string `json:"writable_columns,omitempty"`
	Access          bool     `json:"access"`
}

func (s DBSpec) PermissionType() Type { return TypeDB }

func (s DBSpec) Identity() map[string]any {
	return map[string]any{
		"model":            s.Model,
		"actions":          foldLower(s.Actions),
		"all_columns":      s.AllColumns,
		"writable_columns": s.WritableColumns,
		"access":           s.Access,
	}
}

// NotificationSpec grants sending on channels/templates to recipients.
// An empty list imposes no constraint on that axis.
type NotificationSpec struct {
	Channels   []string `json:"channels,omitempty"`
	Templates  []string `json:"templates,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	Access     bool     `json:"access"`
}

func (s NotificationSpec) PermissionType() Type { return TypeNotification }

func (s NotificationSpec) Identity() map[string]any {
	return map[string]any{
		"channels":   s.Channels,
		"templates":  s.Templates,
		"recipients": s.Recipients,
		"access":     s.Access,
	}
}

// ModuleSpec grants calls into a host module's APIs. An empty API list
// grants the whole module.
type ModuleSpec struct {
	Module string   `json:"module"`
	APIs   []string `json:"apis,omitempty"`
	Access bool     `json:"access"`
}

func (s ModuleSpec) PermissionType() Type { return TypeModule }

func (s ModuleSpec) Identity() map[string]any {
	return map[string]any{
		"module": s.Module,
		"apis":   s.APIs,
		"access": s.Access,
	}
}

// CodecSpec grants use of payload codec primitives within a codec group.
// Primitives flagged as dangerous (deserialize) additionally require a
// non-empty class allow-list.
type CodecSpec struct {
	Group          string   `json:"group"`
	Primitives     []string `json:"primitives,omitempty"`
	AllowedClasses []string `json:"allowed_classes,omitempty"`
	Access         bool     `json:"access"`
}

func (s CodecSpec) PermissionType() Type { return TypeCodec }

func (s CodecSpec) Identity() map[string]any {
	return map[string]any{
		"group":           s.Group,
		"primitives":      foldLower(s.Primitives),
		"allowed_classes": s.AllowedClasses,
		"access":          s.Access,
	}
}

// DecodeSpec unmarshals a stored spec payload into its typed form.
func DecodeSpec(t Type, data []byte) (Spec, error) {
	var (
		spec Spec
		err  error
	)
	switch t {
	case TypeNetwork:
		var s NetworkSpec
		err = json.Unmarshal(data, &s)
		spec = s
	case TypeFile:
		var s FileSpec
		err = json.Unmarshal(data, &s)
		spec = s
	case TypeDB:
		var s DBSpec
		err = json.Unmarshal(data, &s)
		spec = s
	case TypeNotification:
		var s NotificationSpec
		err = json.Unmarshal(data, &s)
		spec = s
	case TypeModule:
		var s ModuleSpec
		err = json.Unmarshal(data, &s)
		spec = s
	case TypeCodec:
		var s CodecSpec
		err = json.Unmarshal(data, &s)
		spec = s
	default:
		return nil, fmt.Errorf("type %q has no concrete spec", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s spec: %w", t, err)
	}
	return spec, nil
}

func foldLower(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func foldUpper(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(s)
	}
	return out
}
