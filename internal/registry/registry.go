// Package registry maps the closed resource-type taxonomy to its
// checker/ingestor pairs. Entries are constructed and injected
// explicitly, never discovered reflectively.
package registry

import (
	"time"

	"github.com/timeax/fortiplugin/internal/check"
	"github.com/timeax/fortiplugin/internal/evaluate"
	"github.com/timeax/fortiplugin/internal/ingest"
	"github.com/timeax/fortiplugin/internal/permission"
	"github.com/timeax/fortiplugin/internal/repo"
)

// Entry pairs a type's checker with its ingestor. Route carries a
// checker only.
type Entry struct {
	Checker  check.Checker
	Ingestor ingest.Ingestor
}

// Registry is the static dispatch table over the taxonomy.
type Registry struct {
	entries map[permission.Type]Entry
}

// New wires the standard entry for every resource type.
func New(r repo.Repository, caps check.CapabilitySource, conds *evaluate.Conditions, now func() time.Time) *Registry {
	return &Registry{entries: map[permission.Type]Entry{
		permission.TypeNetwork: {
			Checker:  check.NewNetwork(caps, conds, now),
			Ingestor: ingest.NewNetwork(),
		},
		permission.TypeFile: {
			Checker:  check.NewFile(caps, conds, now),
			Ingestor: ingest.NewFile(),
		},
		permission.TypeDB: {
			Checker:  check.NewDB(caps, conds, now),
			Ingestor: ingest.NewDB(),
		},
		permission.TypeNotification: {
			Checker:  check.NewNotification(caps, conds, now),
			Ingestor: ingest.NewNotification(),
		},
		permission.TypeModule: {
			Checker:  check.NewModule(caps, conds, now),
			Ingestor: ingest.NewModule(),
		},
		permission.TypeCodec: {
			Checker:  check.NewCodec(caps, conds, now),
			Ingestor: ingest.NewCodec(),
		},
		permission.TypeRoute: {
			Checker: check.NewRoute(r),
		},
	}}
}

// Checker returns the checker for a type.
func (r *Registry) Checker(t permission.Type) (check.Checker, bool) {
	e, ok := r.entries[t]
	if !ok || e.Checker == nil {
		return nil, false
	}
	return e.Checker, true
}

// Ingestor returns the ingestor for a type; route has none.
func (r *Registry) Ingestor(t permission.Type) (ingest.Ingestor, bool) {
	e, ok := r.entries[t]
	if !ok || e.Ingestor == nil {
		return nil, false
	}
	return e.Ingestor, true
}
