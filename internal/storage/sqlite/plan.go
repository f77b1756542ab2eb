package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/hybridplanner/internal/domain"
	"github.com/example/hybridplanner/internal/storage"
)

type planRepo struct {
	tx *sql.Tx
}

func (r *planRepo) Save(ctx context.Context, p *domain.Plan) error {
	if !p.Frozen() {
		return fmt.Errorf("plan %s is not accepted: %w", p.ID, domain.ErrInvalidState)
	}

	latest, err := r.LatestVersion(ctx, p.LineageID)
	if err != nil {
		return err
	}
	if p.Version <= latest {
		return &storage.PersistenceError{
			Kind: storage.KindConflict,
			Op:   "save plan",
			Err:  fmt.Errorf("lineage %s already at version %d, got %d", p.LineageID, latest, p.Version),
		}
	}

	contextJSON, err := json.Marshal(p.Context)
	if err != nil {
		return err
	}
	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return err
	}

	_, err = r.tx.ExecContext(ctx, `
		INSERT INTO plans (id, lineage_id, version, created_at, intent, context_json,
			domain_id, domain_version, root_id, fingerprint, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.LineageID, p.Version, p.CreatedAt.UnixNano(), p.Intent, string(contextJSON),
		p.DomainID, int64(p.DomainVersion), p.RootID, p.Metadata.Fingerprint, string(metadataJSON))
	if err != nil {
		return classify("save plan", err)
	}

	for i, t := range p.Tasks {
		if err := r.insertTask(ctx, p.ID, i, t); err != nil {
			return err
		}
	}

	for i, d := range p.Dependencies {
		_, err := r.tx.ExecContext(ctx, `
			INSERT INTO plan_dependencies (plan_id, idx, from_id, to_id)
			VALUES (?, ?, ?, ?)
		`, p.ID, i, d.From, d.To)
		if err != nil {
			return classify("save dependency", err)
		}
	}

	return nil
}

func (r *planRepo) insertTask(ctx context.Context, planID string, idx int, t *domain.Task) error {
	paramsJSON, err := json.Marshal(t.Params)
	if err != nil {
		return err
	}
	childrenJSON, err := json.Marshal(t.Children)
	if err != nil {
		return err
	}
	preJSON, err := json.Marshal(t.Preconditions)
	if err != nil {
		return err
	}
	effJSON, err := json.Marshal(t.Effects)
	if err != nil {
		return err
	}

	_, err = r.tx.ExecContext(ctx, `
		INSERT INTO plan_tasks (plan_id, idx, id, name, kind, operator, method, params_json,
			children_json, terminal, preconditions_json, effects_json, cost, duration_ns, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, planID, idx, t.ID, t.Name, string(t.Kind), t.Operator, t.Method, string(paramsJSON),
		string(childrenJSON), t.Terminal, string(preJSON), string(effJSON), t.Cost, int64(t.Duration), string(t.Status))
	if err != nil {
		return classify("save task", err)
	}
	return nil
}

func (r *planRepo) Load(ctx context.Context, id string) (*domain.Plan, error) {
	row := r.tx.QueryRowContext(ctx, `
		SELECT id, lineage_id, version, created_at, intent, context_json,
			domain_id, domain_version, root_id, metadata_json
		FROM plans WHERE id = ?
	`, id)
	return r.loadRow(ctx, row)
}

func (r *planRepo) Latest(ctx context.Context, lineageID string) (*domain.Plan, error) {
	row := r.tx.QueryRowContext(ctx, `
		SELECT id, lineage_id, version, created_at, intent, context_json,
			domain_id, domain_version, root_id, metadata_json
		FROM plans WHERE lineage_id = ?
		ORDER BY version DESC LIMIT 1
	`, lineageID)
	return r.loadRow(ctx, row)
}

func (r *planRepo) LatestVersion(ctx context.Context, lineageID string) (int64, error) {
	var v int64
	err := r.tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM plans WHERE lineage_id = ?
	`, lineageID).Scan(&v)
	if err != nil {
		return 0, classify("latest version", err)
	}
	return v, nil
}

func (r *planRepo) ListVersions(ctx context.Context, lineageID string) ([]storage.VersionInfo, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT id, lineage_id, version, created_at, intent, fingerprint
		FROM plans WHERE lineage_id = ?
		ORDER BY version
	`, lineageID)
	if err != nil {
		return nil, classify("list versions", err)
	}
	defer rows.Close()

	var out []storage.VersionInfo
	for rows.Next() {
		var vi storage.VersionInfo
		var createdAt int64
		var fingerprint sql.NullString
		if err := rows.Scan(&vi.PlanID, &vi.LineageID, &vi.Version, &createdAt, &vi.Intent, &fingerprint); err != nil {
			return nil, err
		}
		vi.CreatedAt = time.Unix(0, createdAt).UTC()
		vi.Fingerprint = fingerprint.String
		out = append(out, vi)
	}
	return out, rows.Err()
}

func (r *planRepo) loadRow(ctx context.Context, row *sql.Row) (*domain.Plan, error) {
	p := &domain.Plan{}
	var createdAt int64
	var domainVersion int64
	var contextJSON, metadataJSON sql.NullString

	err := row.Scan(&p.ID, &p.LineageID, &p.Version, &createdAt, &p.Intent, &contextJSON,
		&p.DomainID, &domainVersion, &p.RootID, &metadataJSON)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, classify("load plan", err)
	}
	p.CreatedAt = time.Unix(0, createdAt).UTC()
	p.DomainVersion = uint64(domainVersion)

	if err := unmarshalNullable(contextJSON, &p.Context); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(metadataJSON, &p.Metadata); err != nil {
		return nil, err
	}

	if p.Tasks, err = r.loadTasks(ctx, p.ID); err != nil {
		return nil, err
	}
	if p.Dependencies, err = r.loadDependencies(ctx, p.ID); err != nil {
		return nil, err
	}

	p.Freeze()
	return p, nil
}

func (r *planRepo) loadTasks(ctx context.Context, planID string) ([]*domain.Task, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT id, name, kind, operator, method, params_json, children_json, terminal,
			preconditions_json, effects_json, cost, duration_ns, status
		FROM plan_tasks WHERE plan_id = ?
		ORDER BY idx
	`, planID)
	if err != nil {
		return nil, classify("load tasks", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t := &domain.Task{}
		var kind, status string
		var operator, method, paramsJSON, childrenJSON, preJSON, effJSON sql.NullString
		var duration int64

		err := rows.Scan(&t.ID, &t.Name, &kind, &operator, &method, &paramsJSON, &childrenJSON,
			&t.Terminal, &preJSON, &effJSON, &t.Cost, &duration, &status)
		if err != nil {
			return nil, err
		}
		t.Kind = domain.TaskKind(kind)
		t.Status = domain.TaskStatus(status)
		t.Operator = operator.String
		t.Method = method.String
		t.Duration = time.Duration(duration)

		for _, f := range []struct {
			raw sql.NullString
			dst any
		}{
			{paramsJSON, &t.Params},
			{childrenJSON, &t.Children},
			{preJSON, &t.Preconditions},
			{effJSON, &t.Effects},
		} {
			if err := unmarshalNullable(f.raw, f.dst); err != nil {
				return nil, fmt.Errorf("task %s: %w", t.ID, err)
			}
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *planRepo) loadDependencies(ctx context.Context, planID string) ([]domain.Dependency, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT from_id, to_id FROM plan_dependencies WHERE plan_id = ?
		ORDER BY idx
	`, planID)
	if err != nil {
		return nil, classify("load dependencies", err)
	}
	defer rows.Close()

	var deps []domain.Dependency
	for rows.Next() {
		var d domain.Dependency
		if err := rows.Scan(&d.From, &d.To); err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

func unmarshalNullable(raw sql.NullString, dst any) error {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dst)
}
