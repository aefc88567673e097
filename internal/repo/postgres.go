package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/timeax/fortiplugin/internal/permission"
)

// Schema is the reference DDL for the Postgres repository. The unique
// index on natural_key is what makes concurrent ingestion of the same
// rule collapse to one row.
const Schema = `
CREATE TABLE IF NOT EXISTS permission_concretes (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    type        TEXT NOT NULL,
    natural_key TEXT NOT NULL UNIQUE,
    label       TEXT NOT NULL DEFAULT '',
    spec        JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS permission_assignments (
    plugin_id   TEXT NOT NULL,
    type        TEXT NOT NULL,
    concrete_id UUID NOT NULL REFERENCES permission_concretes(id),
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    win         JSONB,
    started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    conditions  JSONB,
    audit       JSONB,
    PRIMARY KEY (plugin_id, type, concrete_id)
);

CREATE TABLE IF NOT EXISTS permission_tag_items (
    tag         TEXT NOT NULL,
    type        TEXT NOT NULL,
    concrete_id UUID NOT NULL REFERENCES permission_concretes(id),
    conditions  JSONB,
    audit       JSONB,
    PRIMARY KEY (tag, type, concrete_id)
);

CREATE TABLE IF NOT EXISTS plugin_tags (
    plugin_id  TEXT NOT NULL,
    tag        TEXT NOT NULL,
    active     BOOLEAN NOT NULL DEFAULT TRUE,
    win        JSONB,
    started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (plugin_id, tag)
);

CREATE TABLE IF NOT EXISTS route_permissions (
    plugin_id TEXT NOT NULL,
    route_id  TEXT NOT NULL,
    approved  BOOLEAN NOT NULL DEFAULT FALSE,
    guard     TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (plugin_id, route_id)
);
`

// PostgresRepository implements Repository on a pgx connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository wraps an existing pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// ConnectPostgres opens a pool for the given DSN and pings it.
func ConnectPostgres(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

// Close releases the underlying pool.
func (r *PostgresRepository) Close() { r.pool.Close() }

// UpsertForPlugin runs the upsert protocol in one transaction:
// insert-or-fetch by natural key, identity drift check, mutable update,
// then the assignment upsert.
func (r *PostgresRepository) UpsertForPlugin(ctx context.Context, pluginID string, dto UpsertDTO, meta AssignMeta) (UpsertOutcome, error) {
	if !dto.Type.HasConcrete() {
		return UpsertOutcome{}, fmt.Errorf("type %q has no concrete rows", dto.Type)
	}
	specJSON, err := json.Marshal(dto.Spec)
	if err != nil {
		return UpsertOutcome{}, fmt.Errorf("encoding %s spec: %w", dto.Type, err)
	}
	key := dto.NaturalKey()

	var out UpsertOutcome
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx,
			`INSERT INTO permission_concretes (type, natural_key, label, spec)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (natural_key) DO NOTHING
			 RETURNING id`,
			dto.Type, key, dto.Label, specJSON,
		).Scan(&id)
		switch {
		case err == nil:
			out.Created = true
		case errors.Is(err, pgx.ErrNoRows):
			// Row exists; fetch it and verify identity.
			var storedSpec []byte
			if err := tx.QueryRow(ctx,
				`SELECT id, spec FROM permission_concretes WHERE natural_key = $1`,
				key,
			).Scan(&id, &storedSpec); err != nil {
				return fmt.Errorf("fetching concrete by natural key: %w", err)
			}
			stored, err := permission.DecodeSpec(dto.Type, storedSpec)
			if err != nil {
				return err
			}
			if identityDrift(stored, dto.Spec) {
				out.Warning = fmt.Sprintf("identity drift under natural key %s on %s row %s", key, dto.Type, id)
			}
			if dto.Label != "" {
				if _, err := tx.Exec(ctx,
					`UPDATE permission_concretes SET label = $1 WHERE id = $2`,
					dto.Label, id,
				); err != nil {
					return fmt.Errorf("updating label: %w", err)
				}
			}
		default:
			return fmt.Errorf("inserting concrete: %w", err)
		}

		if err := r.upsertAssignment(ctx, tx, pluginID, dto.Type, id, meta); err != nil {
			return err
		}
		out.ConcreteID = id
		out.Assigned = true
		return nil
	})
	if err != nil {
		return UpsertOutcome{}, err
	}
	return out, nil
}

func (r *PostgresRepository) upsertAssignment(ctx context.Context, tx pgx.Tx, pluginID string, t permission.Type, id string, meta AssignMeta) error {
	winJSON, condJSON, auditJSON, err := marshalMeta(meta)
	if err != nil {
		return err
	}
	started := meta.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO permission_assignments (plugin_id, type, concrete_id, active, win, started_at, conditions, audit)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (plugin_id, type, concrete_id)
		 DO UPDATE SET active = EXCLUDED.active, win = EXCLUDED.win,
		               conditions = EXCLUDED.conditions, audit = EXCLUDED.audit`,
		pluginID, t, id, meta.Active, winJSON, started, condJSON, auditJSON,
	)
	if err != nil {
		return fmt.Errorf("upserting assignment: %w", err)
	}
	return nil
}

func marshalMeta(meta AssignMeta) (win, cond, audit []byte, err error) {
	if meta.Window != nil {
		if win, err = json.Marshal(meta.Window); err != nil {
			return nil, nil, nil, fmt.Errorf("encoding window: %w", err)
		}
	}
	if meta.Conditions != nil {
		if cond, err = json.Marshal(meta.Conditions); err != nil {
			return nil, nil, nil, fmt.Errorf("encoding conditions: %w", err)
		}
	}
	if meta.Audit != nil {
		if audit, err = json.Marshal(meta.Audit); err != nil {
			return nil, nil, nil, fmt.Errorf("encoding audit: %w", err)
		}
	}
	return win, cond, audit, nil
}

// EnsurePluginAssignment creates the assignment if absent without
// touching an existing one.
func (r *PostgresRepository) EnsurePluginAssignment(ctx context.Context, pluginID string, t permission.Type, id string, meta AssignMeta) error {
	winJSON, condJSON, auditJSON, err := marshalMeta(meta)
	if err != nil {
		return err
	}
	started := meta.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO permission_assignments (plugin_id, type, concrete_id, active, win, started_at, conditions, audit)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (plugin_id, type, concrete_id) DO NOTHING`,
		pluginID, t, id, meta.Active, winJSON, started, condJSON, auditJSON,
	)
	if err != nil {
		return fmt.Errorf("ensuring assignment: %w", err)
	}
	return nil
}

// GetDirectMorphs loads the plugin's direct assignments.
func (r *PostgresRepository) GetDirectMorphs(ctx context.Context, pluginID string) ([]permission.Assignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT plugin_id, type, concrete_id, active, win, started_at, conditions, audit
		 FROM permission_assignments WHERE plugin_id = $1`,
		pluginID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying direct assignments: %w", err)
	}
	defer rows.Close()

	var out []permission.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows, permission.Provenance{Source: permission.SourceDirect})
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetTagMorphs joins tag pivots with tag items. Active state and window
// come from the pivot; conditions and audit from the item.
func (r *PostgresRepository) GetTagMorphs(ctx context.Context, pluginID string) ([]permission.Assignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT pt.plugin_id, ti.type, ti.concrete_id, pt.active, pt.win, pt.started_at, ti.conditions, ti.audit, pt.tag
		 FROM plugin_tags pt
		 JOIN permission_tag_items ti ON ti.tag = pt.tag
		 WHERE pt.plugin_id = $1`,
		pluginID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying tag assignments: %w", err)
	}
	defer rows.Close()

	var out []permission.Assignment
	for rows.Next() {
		var (
			a                       permission.Assignment
			winRaw, condRaw, audRaw []byte
			tag                     string
		)
		if err := rows.Scan(&a.PluginID, &a.Type, &a.ConcreteID, &a.Active, &winRaw, &a.StartedAt, &condRaw, &audRaw, &tag); err != nil {
			return nil, fmt.Errorf("scanning tag assignment: %w", err)
		}
		if err := decodeAssignmentBlobs(&a, winRaw, condRaw, audRaw); err != nil {
			return nil, err
		}
		a.Provenance = permission.Provenance{Source: permission.SourceTag, Tag: tag}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAssignment(rows pgx.Rows, prov permission.Provenance) (permission.Assignment, error) {
	var (
		a                       permission.Assignment
		winRaw, condRaw, audRaw []byte
	)
	if err := rows.Scan(&a.PluginID, &a.Type, &a.ConcreteID, &a.Active, &winRaw, &a.StartedAt, &condRaw, &audRaw); err != nil {
		return a, fmt.Errorf("scanning assignment: %w", err)
	}
	if err := decodeAssignmentBlobs(&a, winRaw, condRaw, audRaw); err != nil {
		return a, err
	}
	a.Provenance = prov
	return a, nil
}

func decodeAssignmentBlobs(a *permission.Assignment, winRaw, condRaw, audRaw []byte) error {
	if len(winRaw) > 0 {
		a.Window = &permission.TimeWindow{}
		if err := json.Unmarshal(winRaw, a.Window); err != nil {
			return fmt.Errorf("decoding window: %w", err)
		}
	}
	if len(condRaw) > 0 {
		a.Conditions = &permission.Conditions{}
		if err := json.Unmarshal(condRaw, a.Conditions); err != nil {
			return fmt.Errorf("decoding conditions: %w", err)
		}
	}
	if len(audRaw) > 0 {
		if err := json.Unmarshal(audRaw, &a.Audit); err != nil {
			return fmt.Errorf("decoding audit blob: %w", err)
		}
	}
	return nil
}

// FetchConcreteByType batch-loads concrete rows of one type.
func (r *PostgresRepository) FetchConcreteByType(ctx context.Context, t permission.Type, ids []string) ([]*permission.Concrete, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, type, natural_key, label, spec, created_at
		 FROM permission_concretes WHERE type = $1 AND id = ANY($2)`,
		t, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("querying concretes: %w", err)
	}
	defer rows.Close()

	var out []*permission.Concrete
	for rows.Next() {
		var (
			c       permission.Concrete
			specRaw []byte
		)
		if err := rows.Scan(&c.ID, &c.Type, &c.NaturalKey, &c.Label, &specRaw, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning concrete: %w", err)
		}
		spec, err := permission.DecodeSpec(c.Type, specRaw)
		if err != nil {
			return nil, err
		}
		c.Spec = spec
		out = append(out, &c)
	}
	return out, rows.Err()
}

// DeactivatePluginPermission soft-deactivates one direct assignment.
func (r *PostgresRepository) DeactivatePluginPermission(ctx context.Context, pluginID string, t permission.Type, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE permission_assignments SET active = FALSE
		 WHERE plugin_id = $1 AND type = $2 AND concrete_id = $3`,
		pluginID, t, id,
	)
	if err != nil {
		return fmt.Errorf("deactivating assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("assignment %s/%s for plugin %s: %w", t, id, pluginID, ErrNotFound)
	}
	return nil
}

// RoutePermission returns the install-time approval record for a route.
func (r *PostgresRepository) RoutePermission(ctx context.Context, pluginID, routeID string) (*RouteApproval, error) {
	var ap RouteApproval
	err := r.pool.QueryRow(ctx,
		`SELECT approved, guard FROM route_permissions WHERE plugin_id = $1 AND route_id = $2`,
		pluginID, routeID,
	).Scan(&ap.Approved, &ap.Guard)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("route %s for plugin %s: %w", routeID, pluginID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying route permission: %w", err)
	}
	return &ap, nil
}
