package evaluate

import (
	"context"
	"encoding/json"

	"github.com/timeax/fortiplugin/internal/permission"
)

// EnvProvider resolves the current deployment environment name.
type EnvProvider func(ctx context.Context) string

// SettingProvider looks up a named host setting; ok is false when the
// setting does not exist.
type SettingProvider func(ctx context.Context, name string) (any, bool)

// Conditions evaluates assignment conditions against the runtime
// context. Providers come from the host's catalog snapshots; nil
// providers resolve to an empty environment and no settings.
type Conditions struct {
	env     EnvProvider
	setting SettingProvider
}

// NewConditions builds an evaluator over the given providers.
func NewConditions(env EnvProvider, setting SettingProvider) *Conditions {
	return &Conditions{env: env, setting: setting}
}

// Matches reports whether the conditions admit the check context. Empty
// conditions always match. Guard requires exact equality with the
// context guard; env deny wins over allow; setting_link requires the
// named setting to be truthy.
func (e *Conditions) Matches(ctx context.Context, c *permission.Conditions, cctx *permission.CheckContext) bool {
	if c.Empty() {
		return true
	}

	guard := ""
	if cctx != nil {
		guard = cctx.Guard
	}
	if c.Guard != "" && c.Guard != guard {
		return false
	}

	if c.Env != nil {
		env := ""
		if cctx != nil {
			env = cctx.Env
		}
		if env == "" && e.env != nil {
			env = e.env(ctx)
		}
		for _, d := range c.Env.Deny {
			if d == env {
				return false
			}
		}
		if len(c.Env.Allow) > 0 {
			allowed := false
			for _, a := range c.Env.Allow {
				if a == env {
					allowed = true
					break
				}
			}
			if !allowed {
				return false
			}
		}
	}

	if c.SettingLink != "" {
		if e.setting == nil {
			return false
		}
		v, ok := e.setting(ctx, c.SettingLink)
		if !ok || !Truthy(v) {
			return false
		}
	}
	return true
}

// Truthy reports setting truthiness. The explicit falsy set is nil,
// false, 0, "0" and ""; everything else is truthy.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "0"
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	}
	return true
}
