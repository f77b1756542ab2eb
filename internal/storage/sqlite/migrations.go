package sqlite

import (
	"context"
	"database/sql"
)

// Migrate runs all database migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		// Plans table; one row per accepted version
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			lineage_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			intent TEXT NOT NULL,
			context_json TEXT,
			domain_id TEXT NOT NULL,
			domain_version INTEGER NOT NULL,
			root_id TEXT NOT NULL,
			fingerprint TEXT,
			metadata_json TEXT,
			UNIQUE(lineage_id, version)
		)`,

		// Plan tasks, in arena order
		`CREATE TABLE IF NOT EXISTS plan_tasks (
			plan_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			operator TEXT,
			method TEXT,
			params_json TEXT,
			children_json TEXT,
			terminal BOOLEAN NOT NULL DEFAULT FALSE,
			preconditions_json TEXT,
			effects_json TEXT,
			cost REAL NOT NULL DEFAULT 0,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			status TEXT,
			PRIMARY KEY (plan_id, id),
			FOREIGN KEY (plan_id) REFERENCES plans(id) ON DELETE CASCADE
		)`,

		// Ordering edges
		`CREATE TABLE IF NOT EXISTS plan_dependencies (
			plan_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			PRIMARY KEY (plan_id, idx),
			FOREIGN KEY (plan_id) REFERENCES plans(id) ON DELETE CASCADE
		)`,

		// Learning outcomes
		`CREATE TABLE IF NOT EXISTS learning_outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			plan_id TEXT,
			intent TEXT NOT NULL,
			category TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			lessons_json TEXT,
			recorded_at INTEGER NOT NULL
		)`,

		// Indexes for efficient queries
		`CREATE INDEX IF NOT EXISTS idx_plans_lineage ON plans(lineage_id, version)`,
		`CREATE INDEX IF NOT EXISTS idx_plan_tasks ON plan_tasks(plan_id, idx)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_category ON learning_outcomes(category, id)`,
	}

	for _, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return err
		}
	}

	return nil
}
