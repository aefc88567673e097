// Package permission defines the core data model of the plugin permission
// engine: the closed resource-type taxonomy, type-specific permission
// specs, concrete rows, assignments, time windows, runtime conditions,
// and check requests/results.
package permission

import "time"

// Type identifies one of the seven supported resource types.
// The set is closed; the engine never dispatches on anything else.
type Type string

const (
	TypeDB           Type = "db"
	TypeFile         Type = "file"
	TypeNotification Type = "notification"
	TypeModule       Type = "module"
	TypeNetwork      Type = "network"
	TypeCodec        Type = "codec"
	TypeRoute        Type = "route"
)

// Types returns all resource types in a stable order.
func Types() []Type {
	return []Type{TypeDB, TypeFile, TypeNotification, TypeModule, TypeNetwork, TypeCodec, TypeRoute}
}

// Valid reports whether t is a member of the closed taxonomy.
func (t Type) Valid() bool {
	switch t {
	case TypeDB, TypeFile, TypeNotification, TypeModule, TypeNetwork, TypeCodec, TypeRoute:
		return true
	}
	return false
}

// HasConcrete reports whether the type is backed by concrete permission
// rows. Route permissions are install-time approval records and have
// neither rows nor an ingestor.
func (t Type) HasConcrete() bool {
	return t.Valid() && t != TypeRoute
}

// Window kinds.
const (
	WindowUntil = "until"
	WindowTTL   = "ttl"
)

// TimeWindow is an optional expiry constraint on an assignment.
// When Limited is false the assignment never expires. "until" carries an
// absolute RFC 3339 instant in Value; "ttl" carries a duration (raw
// seconds or ISO-8601) relative to the assignment's effective start.
type TimeWindow struct {
	Limited bool   `json:"limited" yaml:"limited"`
	Kind    string `json:"type" yaml:"type"`
	Value   string `json:"value" yaml:"value"`
}

// Conditions are optional runtime gates on an assignment. An absent
// field imposes no constraint on that axis.
type Conditions struct {
	Guard       string        `json:"guard,omitempty" yaml:"guard,omitempty"`
	Env         *EnvCondition `json:"env,omitempty" yaml:"env,omitempty"`
	SettingLink string        `json:"setting_link,omitempty" yaml:"setting_link,omitempty"`
}

// EnvCondition restricts an assignment to (or away from) named
// deployment environments. Deny wins when both lists match.
type EnvCondition struct {
	Allow []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty" yaml:"deny,omitempty"`
}

// Empty reports whether the conditions impose no constraint at all.
func (c *Conditions) Empty() bool {
	if c == nil {
		return true
	}
	return c.Guard == "" && c.SettingLink == "" &&
		(c.Env == nil || (len(c.Env.Allow) == 0 && len(c.Env.Deny) == 0))
}

// Assignment sources.
const (
	SourceDirect = "direct"
	SourceTag    = "tag"
)

// Provenance records how a plugin came to hold a permission: granted
// directly, or via a named tag bundle.
type Provenance struct {
	Source string `json:"source"`
	Tag    string `json:"tag,omitempty"`
}

// Assignment links a plugin to a concrete permission row. For
// tag-mediated assignments the window and active flag come from the
// plugin↔tag pivot while conditions and audit come from the tag item.
type Assignment struct {
	PluginID   string         `json:"plugin_id"`
	Type       Type           `json:"type"`
	ConcreteID string         `json:"concrete_id"`
	Active     bool           `json:"active"`
	Window     *TimeWindow    `json:"window,omitempty"`
	StartedAt  time.Time      `json:"started_at,omitempty"`
	Conditions *Conditions    `json:"conditions,omitempty"`
	Audit      map[string]any `json:"audit,omitempty"`
	Provenance Provenance     `json:"provenance"`
}
