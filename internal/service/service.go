// Package service is the facade the host application talks to: manifest
// ingestion, authorization checks, deactivation, and cache warm-up.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/timeax/fortiplugin/internal/audit"
	"github.com/timeax/fortiplugin/internal/capability"
	"github.com/timeax/fortiplugin/internal/ingest"
	"github.com/timeax/fortiplugin/internal/manifest"
	"github.com/timeax/fortiplugin/internal/permission"
	"github.com/timeax/fortiplugin/internal/registry"
	"github.com/timeax/fortiplugin/internal/repo"
)

// Service orchestrates the permission engine.
type Service struct {
	repo     repo.Repository
	registry *registry.Registry
	caps     *capability.Manager
	emitter  *audit.Emitter
	metrics  *audit.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New creates the service. Nil logger falls back to slog.Default();
// emitter and metrics may be nil (audit and metrics become no-ops).
func New(r repo.Repository, reg *registry.Registry, caps *capability.Manager, emitter *audit.Emitter, metrics *audit.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     r,
		registry: reg,
		caps:     caps,
		emitter:  emitter,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// IngestOptions carries grant-time assignment state applied to every
// rule of one manifest ingestion.
type IngestOptions struct {
	Window    *permission.TimeWindow
	StartedAt time.Time
	Audit     map[string]any
}

// RuleError is a per-rule ingestion failure. Sibling rules continue
// independently.
type RuleError struct {
	Index int             `json:"index"`
	Type  permission.Type `json:"type"`
	Err   string          `json:"error"`
}

// IngestSummary aggregates per-rule outcomes of one manifest ingestion.
type IngestSummary struct {
	Created  int                       `json:"created"`
	Linked   int                       `json:"linked"`
	Items    []ingest.RuleIngestResult `json:"items"`
	Warnings []string                  `json:"warnings,omitempty"`
	Errors   []RuleError               `json:"errors,omitempty"`
}

// IngestManifest ingests every rule of a pre-validated manifest. Rules
// are processed independently: one rule's persistence failure lands in
// Errors without aborting the rest. The plugin's capability cache is
// invalidated afterwards.
func (s *Service) IngestManifest(ctx context.Context, pluginID string, m *manifest.Manifest, opts IngestOptions) (IngestSummary, error) {
	var summary IngestSummary

	for i, rule := range m.Rules() {
		ing, ok := s.registry.Ingestor(rule.Type)
		if !ok {
			summary.Errors = append(summary.Errors, RuleError{
				Index: i, Type: rule.Type,
				Err: fmt.Sprintf("no ingestor for type %q", rule.Type),
			})
			s.ingestMetric(rule.Type, "error")
			continue
		}

		meta := repo.AssignMeta{
			Active:     true,
			Window:     opts.Window,
			StartedAt:  opts.StartedAt,
			Audit:      opts.Audit,
			Provenance: permission.Provenance{Source: permission.SourceDirect},
		}
		res, err := ing.Ingest(ctx, pluginID, rule, s.repo, meta)
		if err != nil {
			s.logger.Error("rule ingestion failed",
				"plugin", pluginID, "type", rule.Type, "index", i, "error", err)
			summary.Errors = append(summary.Errors, RuleError{Index: i, Type: rule.Type, Err: err.Error()})
			s.ingestMetric(rule.Type, "error")
			continue
		}

		summary.Items = append(summary.Items, res)
		if res.Created {
			summary.Created++
			s.ingestMetric(rule.Type, "created")
		} else {
			summary.Linked++
			s.ingestMetric(rule.Type, "linked")
		}
		if res.Warning != "" {
			summary.Warnings = append(summary.Warnings, res.Warning)
			s.logger.Warn("natural-key identity drift", "plugin", pluginID, "type", rule.Type, "warning", res.Warning)
			if s.metrics != nil {
				s.metrics.DriftWarning(rule.Type)
			}
		}

		s.emit(ctx, audit.Record{
			PluginID: pluginID,
			Type:     rule.Type,
			Action:   audit.ActionIngest,
			Resource: res.NaturalKey,
			Context:  map[string]any{"created": res.Created, "concrete_id": res.ConcreteID},
		})
	}

	if s.caps != nil {
		s.caps.Invalidate(ctx, pluginID)
	}
	return summary, nil
}

// Check answers ALLOW/DENY for one request. Unknown types and expired
// contexts deny; the decision is audited and measured.
func (s *Service) Check(ctx context.Context, pluginID string, req permission.Request, cctx *permission.CheckContext) permission.Result {
	start := s.now()

	t := req.PermissionType()
	checker, ok := s.registry.Checker(t)
	var result permission.Result
	if !ok {
		result = permission.Deny(permission.ReasonUnknownType, nil)
	} else {
		result = checker.Check(ctx, pluginID, req, cctx)
	}

	if s.metrics != nil {
		s.metrics.Decision(t, result.Allowed, s.now().Sub(start).Seconds())
	}

	action := audit.ActionDeny
	if result.Allowed {
		action = audit.ActionAllow
	}
	recCtx := map[string]any{}
	if cctx != nil && cctx.Extra != nil {
		recCtx = cctx.Extra
	}
	s.emit(ctx, audit.Record{
		PluginID: pluginID,
		Type:     t,
		Action:   action,
		Resource: audit.Summarize(req),
		Reason:   result.Reason,
		Context:  recCtx,
	})
	return result
}

// Deactivate soft-deactivates one direct assignment and invalidates the
// plugin's capability cache.
func (s *Service) Deactivate(ctx context.Context, pluginID string, t permission.Type, concreteID string) error {
	if err := s.repo.DeactivatePluginPermission(ctx, pluginID, t, concreteID); err != nil {
		return err
	}
	if s.caps != nil {
		s.caps.Invalidate(ctx, pluginID)
	}
	return nil
}

// WarmCache compiles and stores the plugin's capability map.
func (s *Service) WarmCache(ctx context.Context, pluginID string) error {
	if s.caps == nil {
		return nil
	}
	_, err := s.caps.Warm(ctx, pluginID)
	return err
}

// emit wraps audit emission in the result-swallowing boundary: failures
// are logged at debug and never surfaced.
func (s *Service) emit(ctx context.Context, rec audit.Record) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, rec); err != nil {
		s.logger.Debug("audit emission failed", "plugin", rec.PluginID, "error", err)
	}
}

func (s *Service) ingestMetric(t permission.Type, result string) {
	if s.metrics != nil {
		s.metrics.Ingested(t, result)
	}
}
