package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/example/hybridplanner/internal/storage"
)

type outcomeRepo struct {
	tx *sql.Tx
}

func (r *outcomeRepo) Append(ctx context.Context, rec *storage.OutcomeRecord) error {
	lessonsJSON, err := json.Marshal(rec.Lessons)
	if err != nil {
		return err
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	result, err := r.tx.ExecContext(ctx, `
		INSERT INTO learning_outcomes (plan_id, intent, category, success, attempts, lessons_json, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.PlanID, rec.Intent, rec.Category, rec.Success, rec.Attempts, string(lessonsJSON), rec.RecordedAt.UnixNano())
	if err != nil {
		return classify("append outcome", err)
	}

	rec.ID, err = result.LastInsertId()
	return err
}

func (r *outcomeRepo) List(ctx context.Context, category string, limit int) ([]*storage.OutcomeRecord, error) {
	query := `
		SELECT id, plan_id, intent, category, success, attempts, lessons_json, recorded_at
		FROM learning_outcomes`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list outcomes", err)
	}
	defer rows.Close()

	var out []*storage.OutcomeRecord
	for rows.Next() {
		rec := &storage.OutcomeRecord{}
		var planID, lessonsJSON sql.NullString
		var recordedAt int64
		err := rows.Scan(&rec.ID, &planID, &rec.Intent, &rec.Category, &rec.Success,
			&rec.Attempts, &lessonsJSON, &recordedAt)
		if err != nil {
			return nil, err
		}
		rec.PlanID = planID.String
		rec.RecordedAt = time.Unix(0, recordedAt).UTC()
		if err := unmarshalNullable(lessonsJSON, &rec.Lessons); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
