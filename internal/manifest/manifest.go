// Package manifest models the pre-validated permission manifest a
// plugin declares, and verifies signed manifests against trusted JWKS
// endpoints before they reach ingestion.
package manifest

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/timeax/fortiplugin/internal/permission"
)

// Manifest is the permission section of a plugin's manifest. Shape
// validation happens upstream; the engine assumes well-formed rules.
type Manifest struct {
	RequiredPermissions []Rule `json:"required_permissions" yaml:"required_permissions"`
	OptionalPermissions []Rule `json:"optional_permissions" yaml:"optional_permissions"`
}

// Rules returns required then optional rules in declaration order.
func (m *Manifest) Rules() []Rule {
	out := make([]Rule, 0, len(m.RequiredPermissions)+len(m.OptionalPermissions))
	out = append(out, m.RequiredPermissions...)
	return append(out, m.OptionalPermissions...)
}

// Rule is one declared permission: a resource type, the actions it
// covers, a type-specific target, and optional runtime conditions.
type Rule struct {
	Type       permission.Type        `json:"type" yaml:"type"`
	Actions    []string               `json:"actions,omitempty" yaml:"actions,omitempty"`
	Target     Target                 `json:"target" yaml:"target"`
	Conditions *permission.Conditions `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Target is the loosely-typed target block of a rule. Accessors
// normalize the YAML/JSON decoding artifacts (any-typed lists, float
// numbers) into the shapes ingestors need.
type Target map[string]any

// String returns a string field, or "" when absent.
func (t Target) String(key string) string {
	s, _ := t[key].(string)
	return s
}

// Bool returns a bool field, or def when absent.
func (t Target) Bool(key string, def bool) bool {
	v, ok := t[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// Strings returns a string-list field. A scalar string becomes a
// one-element list; nil stays nil.
func (t Target) Strings(key string) []string {
	switch v := t[key].(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprintf("%v", e))
			}
		}
		return out
	}
	return nil
}

// Ints returns an int-list field, tolerating JSON's float64 and string
// digits.
func (t Target) Ints(key string) []int {
	raw, ok := t[key]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		if n, ok := asInt(raw); ok {
			return []int{n}
		}
		return nil
	}
	out := make([]int, 0, len(list))
	for _, e := range list {
		if n, ok := asInt(e); ok {
			out = append(out, n)
		}
	}
	return out
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}

// Parse decodes a JSON manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

// ParseYAML decodes a YAML manifest.
func ParseYAML(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}
