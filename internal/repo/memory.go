package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/timeax/fortiplugin/internal/permission"
)

// TagItem is one permission inside a tag bundle. Conditions and audit
// ride on the item; the grant window and active state come from the
// plugin↔tag pivot.
type TagItem struct {
	Type       permission.Type
	ConcreteID string
	Conditions *permission.Conditions
	Audit      map[string]any
}

// TagPivot attaches a plugin to a tag with its own window and active
// state.
type TagPivot struct {
	Active    bool
	Window    *permission.TimeWindow
	StartedAt time.Time
}

// MemoryRepository is a mutex-guarded in-process Repository. It backs
// tests and single-node deployments; one lock covers each upsert, so
// the protocol's atomicity holds trivially.
type MemoryRepository struct {
	mu sync.RWMutex

	concretes map[permission.Type]map[string]*permission.Concrete // by id
	byKey     map[string]string                                   // naturalKey → id

	assignments map[string]map[string]*permission.Assignment // pluginID → type/id → assignment

	tagItems map[string][]TagItem            // tag → items
	pivots   map[string]map[string]*TagPivot // pluginID → tag → pivot

	routes map[string]map[string]*RouteApproval // pluginID → routeID

	now func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		concretes:   make(map[permission.Type]map[string]*permission.Concrete),
		byKey:       make(map[string]string),
		assignments: make(map[string]map[string]*permission.Assignment),
		tagItems:    make(map[string][]TagItem),
		pivots:      make(map[string]map[string]*TagPivot),
		routes:      make(map[string]map[string]*RouteApproval),
		now:         time.Now,
	}
}

func assignKey(t permission.Type, id string) string { return string(t) + "/" + id }

// UpsertForPlugin implements the idempotent upsert protocol under a
// single lock.
func (r *MemoryRepository) UpsertForPlugin(_ context.Context, pluginID string, dto UpsertDTO, meta AssignMeta) (UpsertOutcome, error) {
	if !dto.Type.HasConcrete() {
		return UpsertOutcome{}, fmt.Errorf("type %q has no concrete rows", dto.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := dto.NaturalKey()
	var out UpsertOutcome

	id, ok := r.byKey[key]
	if !ok {
		id = uuid.NewString()
		row := &permission.Concrete{
			ID:         id,
			Type:       dto.Type,
			NaturalKey: key,
			Label:      dto.Label,
			Spec:       dto.Spec,
			CreatedAt:  r.now(),
		}
		if r.concretes[dto.Type] == nil {
			r.concretes[dto.Type] = make(map[string]*permission.Concrete)
		}
		r.concretes[dto.Type][id] = row
		r.byKey[key] = id
		out.Created = true
	} else {
		row := r.concretes[dto.Type][id]
		if row == nil {
			return UpsertOutcome{}, fmt.Errorf("natural key %s maps to missing %s row %s", key, dto.Type, id)
		}
		if identityDrift(row.Spec, dto.Spec) {
			out.Warning = fmt.Sprintf("identity drift under natural key %s on %s row %s", key, dto.Type, id)
		}
		if dto.Label != "" {
			row.Label = dto.Label
		}
	}

	r.ensureAssignmentLocked(pluginID, dto.Type, id, meta)
	out.ConcreteID = id
	out.Assigned = true
	return out, nil
}

// EnsurePluginAssignment creates the plugin→(type,id) link if absent.
func (r *MemoryRepository) EnsurePluginAssignment(_ context.Context, pluginID string, t permission.Type, id string, meta AssignMeta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureAssignmentLocked(pluginID, t, id, meta)
	return nil
}

func (r *MemoryRepository) ensureAssignmentLocked(pluginID string, t permission.Type, id string, meta AssignMeta) {
	if r.assignments[pluginID] == nil {
		r.assignments[pluginID] = make(map[string]*permission.Assignment)
	}
	k := assignKey(t, id)
	if existing, ok := r.assignments[pluginID][k]; ok {
		// Re-ingestion reactivates and refreshes meta on the existing link.
		existing.Active = meta.Active
		existing.Window = meta.Window
		if !meta.StartedAt.IsZero() {
			existing.StartedAt = meta.StartedAt
		}
		existing.Conditions = meta.Conditions
		existing.Audit = meta.Audit
		return
	}
	started := meta.StartedAt
	if started.IsZero() {
		started = r.now()
	}
	prov := meta.Provenance
	if prov.Source == "" {
		prov.Source = permission.SourceDirect
	}
	r.assignments[pluginID][k] = &permission.Assignment{
		PluginID:   pluginID,
		Type:       t,
		ConcreteID: id,
		Active:     meta.Active,
		Window:     meta.Window,
		StartedAt:  started,
		Conditions: meta.Conditions,
		Audit:      meta.Audit,
		Provenance: prov,
	}
}

// GetDirectMorphs returns copies of the plugin's direct assignments.
func (r *MemoryRepository) GetDirectMorphs(_ context.Context, pluginID string) ([]permission.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []permission.Assignment
	for _, a := range r.assignments[pluginID] {
		out = append(out, *a)
	}
	return out, nil
}

// GetTagMorphs materializes assignments from the plugin's tag pivots.
func (r *MemoryRepository) GetTagMorphs(_ context.Context, pluginID string) ([]permission.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []permission.Assignment
	for tag, pivot := range r.pivots[pluginID] {
		for _, item := range r.tagItems[tag] {
			out = append(out, permission.Assignment{
				PluginID:   pluginID,
				Type:       item.Type,
				ConcreteID: item.ConcreteID,
				Active:     pivot.Active,
				Window:     pivot.Window,
				StartedAt:  pivot.StartedAt,
				Conditions: item.Conditions,
				Audit:      item.Audit,
				Provenance: permission.Provenance{Source: permission.SourceTag, Tag: tag},
			})
		}
	}
	return out, nil
}

// FetchConcreteByType batch-loads rows of one type; unknown ids are
// skipped.
func (r *MemoryRepository) FetchConcreteByType(_ context.Context, t permission.Type, ids []string) ([]*permission.Concrete, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*permission.Concrete, 0, len(ids))
	for _, id := range ids {
		if row, ok := r.concretes[t][id]; ok {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

// DeactivatePluginPermission soft-deactivates one direct assignment.
func (r *MemoryRepository) DeactivatePluginPermission(_ context.Context, pluginID string, t permission.Type, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assignments[pluginID][assignKey(t, id)]
	if !ok {
		return fmt.Errorf("assignment %s/%s for plugin %s: %w", t, id, pluginID, ErrNotFound)
	}
	a.Active = false
	return nil
}

// RoutePermission returns the stored approval record for a route.
func (r *MemoryRepository) RoutePermission(_ context.Context, pluginID, routeID string) (*RouteApproval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ap, ok := r.routes[pluginID][routeID]
	if !ok {
		return nil, fmt.Errorf("route %s for plugin %s: %w", routeID, pluginID, ErrNotFound)
	}
	cp := *ap
	return &cp, nil
}

// SetTag replaces the items of a tag bundle.
func (r *MemoryRepository) SetTag(tag string, items []TagItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tagItems[tag] = items
}

// AttachTag links a plugin to a tag with the pivot's window and state.
func (r *MemoryRepository) AttachTag(pluginID, tag string, pivot TagPivot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pivots[pluginID] == nil {
		r.pivots[pluginID] = make(map[string]*TagPivot)
	}
	if pivot.StartedAt.IsZero() {
		pivot.StartedAt = r.now()
	}
	r.pivots[pluginID][tag] = &pivot
}

// SetRouteApproval records an install-time route approval.
func (r *MemoryRepository) SetRouteApproval(pluginID, routeID string, approval RouteApproval) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.routes[pluginID] == nil {
		r.routes[pluginID] = make(map[string]*RouteApproval)
	}
	r.routes[pluginID][routeID] = &approval
}
