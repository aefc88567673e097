// Package capability compiles a plugin's effective grants from direct
// and tag-mediated assignments into a cacheable map with ETag and TTL
// based invalidation.
package capability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/timeax/fortiplugin/internal/evaluate"
	"github.com/timeax/fortiplugin/internal/permission"
	"github.com/timeax/fortiplugin/internal/repo"
)

// Grant is one compiled entry: a concrete row plus the assignment state
// that gates it, with provenance retained for audit fidelity.
type Grant struct {
	Concrete   *permission.Concrete   `json:"concrete"`
	Window     *permission.TimeWindow `json:"window,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	Conditions *permission.Conditions `json:"conditions,omitempty"`
	Provenance permission.Provenance  `json:"provenance"`
}

// Capabilities is the compiled per-plugin capability map. The ETag is a
// hash of the compiled content; it changes iff the effective grants do.
type Capabilities struct {
	PluginID string                      `json:"plugin_id"`
	ByType   map[permission.Type][]Grant `json:"by_type"`
	ETag     string                      `json:"etag"`
	BuiltAt  time.Time                   `json:"built_at"`
}

// Grants returns the compiled grants for one type.
func (c *Capabilities) Grants(t permission.Type) []Grant {
	if c == nil {
		return nil
	}
	return c.ByType[t]
}

// Compiler builds capability maps from the repository.
type Compiler struct {
	repo   repo.Repository
	now    func() time.Time
	logger *slog.Logger
}

// NewCompiler creates a Compiler. A nil logger is replaced with
// slog.Default(); a nil clock with time.Now.
func NewCompiler(r repo.Repository, now func() time.Time, logger *slog.Logger) *Compiler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{repo: r, now: now, logger: logger}
}

// Compile merges direct and tag-derived assignments, batch-fetches the
// referenced concrete rows per type, drops assignments that are
// inactive or outside their time window right now, and hashes the
// result into an ETag. Direct and tag sources stay independent: the
// same concrete row may appear once per source, each with its own
// window and conditions.
func (c *Compiler) Compile(ctx context.Context, pluginID string) (*Capabilities, error) {
	direct, err := c.repo.GetDirectMorphs(ctx, pluginID)
	if err != nil {
		return nil, fmt.Errorf("loading direct assignments for %s: %w", pluginID, err)
	}
	tagged, err := c.repo.GetTagMorphs(ctx, pluginID)
	if err != nil {
		return nil, fmt.Errorf("loading tag assignments for %s: %w", pluginID, err)
	}

	now := c.now()
	assignments := make([]permission.Assignment, 0, len(direct)+len(tagged))
	for _, a := range append(direct, tagged...) {
		if !a.Active {
			continue
		}
		if !evaluate.WindowActive(a.Window, a.StartedAt, now) {
			continue
		}
		assignments = append(assignments, a)
	}

	// Batch-fetch concrete rows per type.
	idsByType := make(map[permission.Type][]string)
	for _, a := range assignments {
		idsByType[a.Type] = append(idsByType[a.Type], a.ConcreteID)
	}
	rowsByType := make(map[permission.Type]map[string]*permission.Concrete)
	for t, ids := range idsByType {
		rows, err := c.repo.FetchConcreteByType(ctx, t, dedupe(ids))
		if err != nil {
			return nil, fmt.Errorf("fetching %s rows for %s: %w", t, pluginID, err)
		}
		m := make(map[string]*permission.Concrete, len(rows))
		for _, row := range rows {
			m[row.ID] = row
		}
		rowsByType[t] = m
	}

	caps := &Capabilities{
		PluginID: pluginID,
		ByType:   make(map[permission.Type][]Grant),
		BuiltAt:  now,
	}
	for _, a := range assignments {
		row := rowsByType[a.Type][a.ConcreteID]
		if row == nil {
			c.logger.Warn("assignment references missing concrete row",
				"plugin", pluginID, "type", a.Type, "concrete_id", a.ConcreteID)
			continue
		}
		caps.ByType[a.Type] = append(caps.ByType[a.Type], Grant{
			Concrete:   row,
			Window:     a.Window,
			StartedAt:  a.StartedAt,
			Conditions: a.Conditions,
			Provenance: a.Provenance,
		})
	}
	caps.ETag = etag(caps)
	return caps, nil
}

// etag hashes the compiled grant references in a stable order.
func etag(caps *Capabilities) string {
	var lines []string
	for t, grants := range caps.ByType {
		for _, g := range grants {
			window := ""
			if g.Window != nil {
				window = fmt.Sprintf("%v/%s/%s", g.Window.Limited, g.Window.Kind, g.Window.Value)
			}
			lines = append(lines, fmt.Sprintf("%s|%s|%s|%s|%s|%d|%s",
				t, g.Concrete.ID, g.Concrete.NaturalKey,
				g.Provenance.Source, g.Provenance.Tag,
				g.StartedAt.Unix(), window))
		}
	}
	sort.Strings(lines)
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
