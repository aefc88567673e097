// Package ingest translates normalized manifest rules into concrete-row
// upserts, one ingestor per resource type. Ingestion is idempotent: the
// second ingestion of an identical rule links the existing row instead
// of creating a new one.
package ingest

import (
	"context"
	"fmt"

	"github.com/timeax/fortiplugin/internal/manifest"
	"github.com/timeax/fortiplugin/internal/permission"
	"github.com/timeax/fortiplugin/internal/repo"
)

// RuleIngestResult reports the outcome for one manifest rule.
type RuleIngestResult struct {
	Type         permission.Type `json:"type"`
	NaturalKey   string          `json:"natural_key"`
	ConcreteID   string          `json:"concrete_id"`
	ConcreteType permission.Type `json:"concrete_type"`
	Created      bool            `json:"created"`
	Assigned     bool            `json:"assigned"`
	Warning      string          `json:"warning,omitempty"`
}

// Ingestor maps one resource type's manifest rules onto the upsert
// protocol.
type Ingestor interface {
	Type() permission.Type
	Ingest(ctx context.Context, pluginID string, rule manifest.Rule, r repo.Repository, meta repo.AssignMeta) (RuleIngestResult, error)
}

// specIngestor implements Ingestor for every concrete-backed type; the
// per-type part is the spec builder.
type specIngestor struct {
	t     permission.Type
	build func(rule manifest.Rule) permission.Spec
}

func (i specIngestor) Type() permission.Type { return i.t }

func (i specIngestor) Ingest(ctx context.Context, pluginID string, rule manifest.Rule, r repo.Repository, meta repo.AssignMeta) (RuleIngestResult, error) {
	dto := repo.UpsertDTO{
		Type:  i.t,
		Spec:  i.build(rule),
		Label: rule.Target.String("label"),
	}
	// Rule-level conditions gate the assignment, not the row identity.
	if rule.Conditions != nil && !rule.Conditions.Empty() {
		meta.Conditions = rule.Conditions
	}

	out, err := r.UpsertForPlugin(ctx, pluginID, dto, meta)
	if err != nil {
		return RuleIngestResult{}, fmt.Errorf("ingesting %s rule: %w", i.t, err)
	}
	return RuleIngestResult{
		Type:         i.t,
		NaturalKey:   dto.NaturalKey(),
		ConcreteID:   out.ConcreteID,
		ConcreteType: i.t,
		Created:      out.Created,
		Assigned:     out.Assigned,
		Warning:      out.Warning,
	}, nil
}

// NewNetwork builds the network ingestor.
func NewNetwork() Ingestor {
	return specIngestor{t: permission.TypeNetwork, build: func(rule manifest.Rule) permission.Spec {
		return permission.NetworkSpec{
			Hosts:             rule.Target.Strings("hosts"),
			Methods:           rule.Target.Strings("methods"),
			Schemes:           rule.Target.Strings("schemes"),
			Ports:             rule.Target.Ints("ports"),
			Paths:             rule.Target.Strings("paths"),
			HeadersAllowed:    rule.Target.Strings("headers_allowed"),
			IPsAllowed:        rule.Target.Strings("ips_allowed"),
			AuthViaHostSecret: rule.Target.Bool("auth_via_host_secret", false),
			Access:            rule.Target.Bool("access", true),
		}
	}}
}

// NewFile builds the file ingestor.
func NewFile() Ingestor {
	return specIngestor{t: permission.TypeFile, build: func(rule manifest.Rule) permission.Spec {
		return permission.FileSpec{
			BaseDir:        rule.Target.String("base_dir"),
			Patterns:       rule.Target.Strings("patterns"),
			Actions:        rule.Actions,
			FollowSymlinks: rule.Target.Bool("follow_symlinks", false),
			Access:         rule.Target.Bool("access", true),
		}
	}}
}

// NewDB builds the db ingestor.
func NewDB() Ingestor {
	return specIngestor{t: permission.TypeDB, build: func(rule manifest.Rule) permission.Spec {
		return permission.DBSpec{
			Model:           rule.Target.String("model"),
			Actions:         rule.Actions,
			AllColumns:      rule.Target.Strings("all_columns"),
			WritableColumns: rule.Target.Strings("writable_columns"),
			Access:          rule.Target.Bool("access", true),
		}
	}}
}

// NewNotification builds the notification ingestor.
func NewNotification() Ingestor {
	return specIngestor{t: permission.TypeNotification, build: func(rule manifest.Rule) permission.Spec {
		return permission.NotificationSpec{
			Channels:   rule.Target.Strings("channels"),
			Templates:  rule.Target.Strings("templates"),
			Recipients: rule.Target.Strings("recipients"),
			Access:     rule.Target.Bool("access", true),
		}
	}}
}

// NewModule builds the module ingestor.
func NewModule() Ingestor {
	return specIngestor{t: permission.TypeModule, build: func(rule manifest.Rule) permission.Spec {
		return permission.ModuleSpec{
			Module: rule.Target.String("module"),
			APIs:   rule.Target.Strings("apis"),
			Access: rule.Target.Bool("access", true),
		}
	}}
}

// NewCodec builds the codec ingestor.
func NewCodec() Ingestor {
	return specIngestor{t: permission.TypeCodec, build: func(rule manifest.Rule) permission.Spec {
		return permission.CodecSpec{
			Group:          rule.Target.String("group"),
			Primitives:     rule.Target.Strings("primitives"),
			AllowedClasses: rule.Target.Strings("allowed_classes"),
			Access:         rule.Target.Bool("access", true),
		}
	}}
}
