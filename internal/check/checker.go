// Package check holds the per-type authorization deciders. Each checker
// walks the plugin's compiled grants for its type, re-verifies time
// window and conditions per candidate, and runs the type's matcher.
// First match wins; everything that goes wrong resolves to deny.
package check

import (
	"context"
	"time"

	"github.com/timeax/fortiplugin/internal/capability"
	"github.com/timeax/fortiplugin/internal/evaluate"
	"github.com/timeax/fortiplugin/internal/permission"
)

// Checker decides one resource type's requests.
type Checker interface {
	Type() permission.Type
	Check(ctx context.Context, pluginID string, req permission.Request, cctx *permission.CheckContext) permission.Result
}

// CapabilitySource supplies compiled capability maps. *capability.Manager
// satisfies it.
type CapabilitySource interface {
	Get(ctx context.Context, pluginID string) (*capability.Capabilities, error)
}

// deps is the shared wiring of all concrete-row checkers.
type deps struct {
	caps  CapabilitySource
	conds *evaluate.Conditions
	now   func() time.Time
}

func newDeps(caps CapabilitySource, conds *evaluate.Conditions, now func() time.Time) deps {
	if now == nil {
		now = time.Now
	}
	return deps{caps: caps, conds: conds, now: now}
}

// decide runs the common candidate loop: fetch grants, gate each on its
// window and conditions, and apply the matcher. The deny reason is the
// first specific reason seen, including why a candidate was gated out,
// falling back to no_matching_permission when nothing was even close.
func (d deps) decide(
	ctx context.Context,
	pluginID string,
	t permission.Type,
	cctx *permission.CheckContext,
	matcher func(g capability.Grant) (bool, string),
) permission.Result {
	if err := ctx.Err(); err != nil {
		return permission.Deny(permission.ReasonCheckTimeout, nil)
	}

	caps, err := d.caps.Get(ctx, pluginID)
	if err != nil {
		// Repository or cache outage: fail closed.
		return permission.Deny(permission.ReasonCapabilityUnavailable, nil)
	}

	now := d.now()
	if cctx != nil && !cctx.Now.IsZero() {
		now = cctx.Now
	}

	reason := permission.ReasonNoPermission
	for _, g := range caps.Grants(t) {
		if err := ctx.Err(); err != nil {
			return permission.Deny(permission.ReasonCheckTimeout, nil)
		}
		if !evaluate.WindowActive(g.Window, g.StartedAt, now) {
			if reason == permission.ReasonNoPermission {
				reason = permission.ReasonWindowExpired
			}
			continue
		}
		if g.Conditions != nil && !d.conds.Matches(ctx, g.Conditions, cctx) {
			if reason == permission.ReasonNoPermission {
				reason = permission.ReasonConditionsNotMet
			}
			continue
		}
		ok, why := matcher(g)
		if ok {
			return permission.Allow(t, g.Concrete.ID, map[string]any{
				"provenance": g.Provenance,
			})
		}
		if reason == permission.ReasonNoPermission && why != "" {
			reason = why
		}
	}
	return permission.Deny(reason, nil)
}
