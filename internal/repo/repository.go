// Package repo defines the persistence boundary of the permission
// engine and ships two implementations: an in-memory store and a
// Postgres store built on pgx.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/timeax/fortiplugin/internal/canonical"
	"github.com/timeax/fortiplugin/internal/permission"
)

// ErrNotFound is returned for lookups that match nothing.
var ErrNotFound = errors.New("not found")

// UpsertDTO is the payload of one idempotent concrete-row upsert: the
// identity-bearing spec plus the mutable label.
type UpsertDTO struct {
	Type  permission.Type
	Spec  permission.Spec
	Label string
}

// NaturalKey computes the DTO's content-addressed identity.
func (d UpsertDTO) NaturalKey() string {
	return canonical.Key(d.Spec.Identity())
}

// AssignMeta carries assignment state applied alongside an upsert.
type AssignMeta struct {
	Active     bool
	Window     *permission.TimeWindow
	StartedAt  time.Time
	Conditions *permission.Conditions
	Audit      map[string]any
	Provenance permission.Provenance
}

// UpsertOutcome reports what an upsert did. Warning is a non-fatal
// identity-drift note; the natural key remains authoritative.
type UpsertOutcome struct {
	ConcreteID string
	Created    bool
	Assigned   bool
	Warning    string
}

// RouteApproval is an install-time route registration approval,
// optionally scoped to a guard.
type RouteApproval struct {
	Approved bool
	Guard    string
}

// Repository is the storage contract consumed by the engine. The
// concrete upsert and the assignment upsert of UpsertForPlugin must be
// atomic: partial application is never observable, and concurrent
// upserts of the same natural key must not create duplicate rows.
type Repository interface {
	// GetDirectMorphs returns the plugin's direct assignments.
	GetDirectMorphs(ctx context.Context, pluginID string) ([]permission.Assignment, error)
	// GetTagMorphs returns the plugin's tag-mediated assignments, with
	// active state and window from the plugin↔tag pivot and conditions
	// and audit from the tag item.
	GetTagMorphs(ctx context.Context, pluginID string) ([]permission.Assignment, error)
	// FetchConcreteByType batch-loads concrete rows of one type.
	FetchConcreteByType(ctx context.Context, t permission.Type, ids []string) ([]*permission.Concrete, error)
	// EnsurePluginAssignment creates the plugin→(type,id) assignment if
	// absent, applying meta.
	EnsurePluginAssignment(ctx context.Context, pluginID string, t permission.Type, id string, meta AssignMeta) error
	// UpsertForPlugin runs the idempotent upsert protocol for one rule.
	UpsertForPlugin(ctx context.Context, pluginID string, dto UpsertDTO, meta AssignMeta) (UpsertOutcome, error)
	// DeactivatePluginPermission soft-deactivates one direct assignment.
	DeactivatePluginPermission(ctx context.Context, pluginID string, t permission.Type, id string) error
	// RoutePermission returns the install-time approval record for a
	// route, or ErrNotFound.
	RoutePermission(ctx context.Context, pluginID, routeID string) (*RouteApproval, error)
}

// identityDrift compares the stored identity payload with the incoming
// one. Both hash to the same natural key, so a difference means the
// stored attributes drifted; the caller reports it as a warning, never
// an error.
func identityDrift(existing, incoming permission.Spec) bool {
	return string(canonical.Marshal(existing.Identity())) != string(canonical.Marshal(incoming.Identity()))
}
