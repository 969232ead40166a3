package store

func (s *Store) migrate() error {
	return s.migrateV1()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		broken_reason TEXT,
		display_order INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_project ON rules(project_id, display_order);
	CREATE INDEX IF NOT EXISTS idx_rules_enabled ON rules(enabled);
	`
	_, err := s.db.Exec(schema)
	return err
}
