package check

import (
	"context"
	"errors"

	"github.com/timeax/fortiplugin/internal/permission"
	"github.com/timeax/fortiplugin/internal/repo"
)

// RouteChecker decides route registration against install-time approval
// records. Route is check-only: there are no concrete rows and no
// ingestion path.
type RouteChecker struct {
	repo repo.Repository
}

// NewRoute builds the route checker.
func NewRoute(r repo.Repository) *RouteChecker {
	return &RouteChecker{repo: r}
}

func (*RouteChecker) Type() permission.Type { return permission.TypeRoute }

func (c *RouteChecker) Check(ctx context.Context, pluginID string, req permission.Request, cctx *permission.CheckContext) permission.Result {
	r, ok := req.(permission.RouteRequest)
	if !ok {
		return permission.Deny(permission.ReasonUnknownType, nil)
	}
	if err := ctx.Err(); err != nil {
		return permission.Deny(permission.ReasonCheckTimeout, nil)
	}

	ap, err := c.repo.RoutePermission(ctx, pluginID, r.RouteID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return permission.Deny(permission.ReasonRouteNotApproved, nil)
		}
		return permission.Deny(permission.ReasonCapabilityUnavailable, nil)
	}
	if !ap.Approved {
		return permission.Deny(permission.ReasonRouteNotApproved, nil)
	}
	if ap.Guard != "" {
		guard := ""
		if cctx != nil {
			guard = cctx.Guard
		}
		if ap.Guard != guard {
			return permission.Deny(permission.ReasonGuardMismatch, nil)
		}
	}
	return permission.Allow(permission.TypeRoute, r.RouteID, nil)
}
