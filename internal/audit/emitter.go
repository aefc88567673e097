// Package audit produces one structured, redacted record per decision
// and per ingestion. Emission is best-effort: call sites swallow emitter
// errors so audit can never abort the primary operation.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/timeax/fortiplugin/internal/permission"
)

// Record actions.
const (
	ActionAllow  = "allow"
	ActionDeny   = "deny"
	ActionIngest = "ingest"
)

// Record is one audit entry.
type Record struct {
	ID       string
	PluginID string
	Type     permission.Type
	Action   string
	Resource string // terse per-type resource summary
	Reason   string
	Context  map[string]any
	Time     time.Time
}

// Emitter writes audit records through slog, sampling by action and
// bounding volume with a rate limiter. Dropped records are counted, not
// retried.
type Emitter struct {
	logger  *slog.Logger
	metrics *Metrics

	mu       sync.Mutex
	sampling Sampling
	limiter  *rate.Limiter
	redactor *Redactor
}

// NewEmitter creates an audit emitter. perSecond <= 0 disables the
// throttle; a nil redactor redacts with the default rules.
func NewEmitter(logger *slog.Logger, sampling Sampling, perSecond float64, redactor *Redactor, metrics *Metrics) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if redactor == nil {
		redactor = NewRedactor(nil)
	}
	var limiter *rate.Limiter
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1)
	}
	return &Emitter{
		logger:   logger,
		sampling: sampling,
		limiter:  limiter,
		redactor: redactor,
		metrics:  metrics,
	}
}

// Reconfigure replaces the sampling rates, throttle, and redaction
// rules at runtime. A nil redactor keeps the current one. Used when the
// audit section of the configuration is reloaded.
func (e *Emitter) Reconfigure(sampling Sampling, perSecond float64, redactor *Redactor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sampling = sampling
	if perSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1)
	} else {
		e.limiter = nil
	}
	if redactor != nil {
		e.redactor = redactor
	}
}

// Emit writes one record. Sampling and throttling drop records
// silently; the returned error only reports malformed records and is
// ignored by call sites anyway.
func (e *Emitter) Emit(ctx context.Context, rec Record) error {
	if rec.PluginID == "" {
		return fmt.Errorf("audit record missing plugin id")
	}

	e.mu.Lock()
	sampling := e.sampling
	limiter := e.limiter
	redactor := e.redactor
	e.mu.Unlock()

	if !sampling.ShouldLog(rec.Action) {
		return nil
	}
	if limiter != nil && !limiter.Allow() {
		if e.metrics != nil {
			e.metrics.AuditDropped()
		}
		return nil
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	e.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("audit_id", rec.ID),
		slog.Group("permission",
			slog.String("plugin", rec.PluginID),
			slog.String("type", string(rec.Type)),
			slog.String("action", rec.Action),
			slog.String("resource", rec.Resource),
			slog.String("reason", rec.Reason),
			slog.Time("time", rec.Time),
		),
		slog.Any("context", redactor.Redact(rec.Context)),
	)
	return nil
}

// Summarize renders a terse per-type resource summary for a request.
func Summarize(req permission.Request) string {
	switch r := req.(type) {
	case permission.NetworkRequest:
		port := ""
		if r.Port != 0 {
			port = fmt.Sprintf(":%d", r.Port)
		}
		return fmt.Sprintf("%s %s://%s%s%s", r.Method, r.Scheme, r.Host, port, r.Path)
	case permission.FileRequest:
		return fmt.Sprintf("file:%s %s", r.Action, r.Path)
	case permission.DBRequest:
		if len(r.Columns) > 0 {
			return fmt.Sprintf("db:%s %s%v", r.Action, r.Model, r.Columns)
		}
		return fmt.Sprintf("db:%s %s", r.Action, r.Model)
	case permission.NotificationRequest:
		return fmt.Sprintf("notify:%s/%s -> %s", r.Channel, r.Template, r.Recipient)
	case permission.ModuleRequest:
		return fmt.Sprintf("module:%s.%s", r.Module, r.API)
	case permission.CodecRequest:
		return fmt.Sprintf("codec:%s/%s", r.Group, r.Primitive)
	case permission.RouteRequest:
		return fmt.Sprintf("route:%s", r.RouteID)
	}
	return fmt.Sprintf("%s", req.PermissionType())
}
