package check

import (
	"context"
	"time"

	"github.com/timeax/fortiplugin/internal/capability"
	"github.com/timeax/fortiplugin/internal/evaluate"
	"github.com/timeax/fortiplugin/internal/match"
	"github.com/timeax/fortiplugin/internal/permission"
)

// NetworkChecker decides outbound network requests.
type NetworkChecker struct{ deps }

// NewNetwork builds the network checker.
func NewNetwork(caps CapabilitySource, conds *evaluate.Conditions, now func() time.Time) *NetworkChecker {
	return &NetworkChecker{newDeps(caps, conds, now)}
}

func (*NetworkChecker) Type() permission.Type { return permission.TypeNetwork }

func (c *NetworkChecker) Check(ctx context.Context, pluginID string, req permission.Request, cctx *permission.CheckContext) permission.Result {
	r, ok := req.(permission.NetworkRequest)
	if !ok {
		return permission.Deny(permission.ReasonUnknownType, nil)
	}
	return c.decide(ctx, pluginID, permission.TypeNetwork, cctx, func(g capability.Grant) (bool, string) {
		spec, ok := g.Concrete.Spec.(permission.NetworkSpec)
		if !ok {
			return false, permission.ReasonUnknownType
		}
		return match.Network(spec, r)
	})
}

// FileChecker decides filesystem requests.
type FileChecker struct{ deps }

// NewFile builds the file checker.
func NewFile(caps CapabilitySource, conds *evaluate.Conditions, now func() time.Time) *FileChecker {
	return &FileChecker{newDeps(caps, conds, now)}
}

func (*FileChecker) Type() permission.Type { return permission.TypeFile }

func (c *FileChecker) Check(ctx context.Context, pluginID string, req permission.Request, cctx *permission.CheckContext) permission.Result {
	r, ok := req.(permission.FileRequest)
	if !ok {
		return permission.Deny(permission.ReasonUnknownType, nil)
	}
	return c.decide(ctx, pluginID, permission.TypeFile, cctx, func(g capability.Grant) (bool, string) {
		spec, ok := g.Concrete.Spec.(permission.FileSpec)
		if !ok {
			return false, permission.ReasonUnknownType
		}
		return match.File(spec, r)
	})
}

// DBChecker decides database requests.
type DBChecker struct{ deps }

// NewDB builds the db checker.
func NewDB(caps CapabilitySource, conds *evaluate.Conditions, now func() time.Time) *DBChecker {
	return &DBChecker{newDeps(caps, conds, now)}
}

func (*DBChecker) Type() permission.Type { return permission.TypeDB }

func (c *DBChecker) Check(ctx context.Context, pluginID string, req permission.Request, cctx *permission.CheckContext) permission.Result {
	r, ok := req.(permission.DBRequest)
	if !ok {
		return permission.Deny(permission.ReasonUnknownType, nil)
	}
	return c.decide(ctx, pluginID, permission.TypeDB, cctx, func(g capability.Grant) (bool, string) {
		spec, ok := g.Concrete.Spec.(permission.DBSpec)
		if !ok {
			return false, permission.ReasonUnknownType
		}
		return match.DB(spec, r)
	})
}

// NotificationChecker decides notification requests.
type NotificationChecker struct{ deps }

// NewNotification builds the notification checker.
func NewNotification(caps CapabilitySource, conds *evaluate.Conditions, now func() time.Time) *NotificationChecker {
	return &NotificationChecker{newDeps(caps, conds, now)}
}

func (*NotificationChecker) Type() permission.Type { return permission.TypeNotification }

func (c *NotificationChecker) Check(ctx context.Context, pluginID string, req permission.Request, cctx *permission.CheckContext) permission.Result {
	r, ok := req.(permission.NotificationRequest)
	if !ok {
		return permission.Deny(permission.ReasonUnknownType, nil)
	}
	return c.decide(ctx, pluginID, permission.TypeNotification, cctx, func(g capability.Grant) (bool, string) {
		spec, ok := g.Concrete.Spec.(permission.NotificationSpec)
		if !ok {
			return false, permission.ReasonUnknownType
		}
		return match.Notification(spec, r)
	})
}

// ModuleChecker decides host-module API requests.
type ModuleChecker struct{ deps }

// NewModule builds the module checker.
func NewModule(caps CapabilitySource, conds *evaluate.Conditions, now func() time.Time) *ModuleChecker {
	return &ModuleChecker{newDeps(caps, conds, now)}
}

func (*ModuleChecker) Type() permission.Type { return permission.TypeModule }

func (c *ModuleChecker) Check(ctx context.Context, pluginID string, req permission.Request, cctx *permission.CheckContext) permission.Result {
	r, ok := req.(permission.ModuleRequest)
	if !ok {
		return permission.Deny(permission.ReasonUnknownType, nil)
	}
	return c.decide(ctx, pluginID, permission.TypeModule, cctx, func(g capability.Grant) (bool, string) {
		spec, ok := g.Concrete.Spec.(permission.ModuleSpec)
		if !ok {
			return false, permission.ReasonUnknownType
		}
		return match.Module(spec, r)
	})
}

// CodecChecker decides codec primitive requests.
type CodecChecker struct{ deps }

// NewCodec builds the codec checker.
func NewCodec(caps CapabilitySource, conds *evaluate.Conditions, now func() time.Time) *CodecChecker {
	return &CodecChecker{newDeps(caps, conds, now)}
}

func (*CodecChecker) Type() permission.Type { return permission.TypeCodec }

func (c *CodecChecker) Check(ctx context.Context, pluginID string, req permission.Request, cctx *permission.CheckContext) permission.Result {
	r, ok := req.(permission.CodecRequest)
	if !ok {
		return permission.Deny(permission.ReasonUnknownType, nil)
	}
	return c.decide(ctx, pluginID, permission.TypeCodec, cctx, func(g capability.Grant) (bool, string) {
		spec, ok := g.Concrete.Spec.(permission.CodecSpec)
		if !ok {
			return false, permission.ReasonUnknownType
		}
		return match.Codec(spec, r)
	})
}
