package persistence

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

// CurrentSchemaVersion defines the current schema version for migration
// support. Increment on every schema change and add a migration.
const CurrentSchemaVersion = 3

// InitializeDatabase creates and initializes a standalone SQLite database
// with the required schema. Idempotent. Most callers should use Initialize
// and the singleton instead; this exists for tests and tooling.
func InitializeDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_foreign_keys=ON&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// initializeSchemaWithMigrations ensures the schema is at the current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	if currentVersion == 0 {
		return createSchema(db)
	}
	if currentVersion == CurrentSchemaVersion {
		return nil
	}
	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int) error {
	switch version {
	case 1:
		return nil
	case 2:
		return migrateToVersion2(db)
	case 3:
		return migrateToVersion3(db)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// migrateToVersion2 adds cross-book asset reuse tracking.
func migrateToVersion2(db *sql.DB) error {
	migrations := []string{
		"ALTER TABLE assets ADD COLUMN reused_from_book TEXT",
	}
	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %s: %w", migration, err)
		}
	}
	return nil
}

// migrateToVersion3 widens the asset kind constraint to include props.
// SQLite cannot alter a CHECK constraint in place, so the table is rebuilt.
func migrateToVersion3(db *sql.DB) error {
	migrations := []string{
		"PRAGMA foreign_keys = OFF",
		`CREATE TABLE assets_new (
			id TEXT PRIMARY KEY,
			book_id TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
			kind TEXT NOT NULL CHECK (kind IN ('character','environment','prop')),
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			image_url TEXT,
			image_prompt TEXT,
			memory_id TEXT,
			reused_from_book TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			UNIQUE (book_id, kind, name)
		)`,
		"INSERT INTO assets_new SELECT * FROM assets",
		"DROP TABLE assets",
		"ALTER TABLE assets_new RENAME TO assets",
		"CREATE INDEX IF NOT EXISTS idx_assets_book_kind ON assets(book_id, kind)",
		"CREATE INDEX IF NOT EXISTS idx_assets_name ON assets(kind, name)",
		"PRAGMA foreign_keys = ON",
	}
	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %s: %w", migration, err)
		}
	}
	return nil
}

// createSchema creates all required tables and indices.
func createSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Books table: one row per book run.
		`CREATE TABLE IF NOT EXISTS books (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			book_type TEXT NOT NULL DEFAULT 'picture_book' CHECK (book_type IN ('picture_book','chapter_book','early_reader')),
			premise TEXT NOT NULL,
			plan TEXT,
			style_bible TEXT,
			status TEXT DEFAULT 'in_progress' CHECK (status IN ('in_progress','completed','abandoned')),
			target_age TEXT,
			chapter_count INTEGER DEFAULT 1,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			completed_at DATETIME
		)`,

		// Chapters table: drafted prose per chapter.
		`CREATE TABLE IF NOT EXISTS chapters (
			book_id TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
			number INTEGER NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			word_count INTEGER DEFAULT 0,
			approved INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			PRIMARY KEY (book_id, number)
		)`,

		// Scenes table: segmented scenes per chapter.
		`CREATE TABLE IF NOT EXISTS scenes (
			id TEXT NOT NULL,
			book_id TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
			chapter_number INTEGER NOT NULL,
			scene_number INTEGER NOT NULL,
			synopsis TEXT NOT NULL,
			excerpt TEXT,
			characters TEXT,
			environment TEXT,
			PRIMARY KEY (book_id, id)
		)`,

		// Assets table: characters, environments, and props. Uniqueness is
		// enforced by key, not by searching generated text.
		`CREATE TABLE IF NOT EXISTS assets (
			id TEXT PRIMARY KEY,
			book_id TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
			kind TEXT NOT NULL CHECK (kind IN ('character','environment','prop')),
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			image_url TEXT,
			image_prompt TEXT,
			memory_id TEXT,
			reused_from_book TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			UNIQUE (book_id, kind, name)
		)`,

		// Renders table: final composed scene images.
		`CREATE TABLE IF NOT EXISTS renders (
			id TEXT PRIMARY KEY,
			book_id TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
			scene_id TEXT NOT NULL,
			image_url TEXT NOT NULL,
			strategy TEXT NOT NULL CHECK (strategy IN ('generate','edit','merge')),
			prompt TEXT,
			approved INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Approvals table: audit trail of every gate decision.
		`CREATE TABLE IF NOT EXISTS approvals (
			id TEXT PRIMARY KEY,
			book_id TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
			step INTEGER NOT NULL,
			approval_type TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('APPROVED', 'REJECTED', 'NEEDS_CHANGES', 'PENDING')),
			content TEXT,
			feedback TEXT,
			requested_at DATETIME,
			reviewed_at DATETIME
		)`,

		// Dead letters table: background tasks that exhausted their retries.
		`CREATE TABLE IF NOT EXISTS dead_letters (
			id TEXT PRIMARY KEY,
			book_id TEXT,
			operation TEXT NOT NULL,
			payload TEXT,
			last_error TEXT,
			attempts INTEGER NOT NULL,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_books_status ON books(status)",
		"CREATE INDEX IF NOT EXISTS idx_scenes_chapter ON scenes(book_id, chapter_number)",
		"CREATE INDEX IF NOT EXISTS idx_assets_book_kind ON assets(book_id, kind)",
		"CREATE INDEX IF NOT EXISTS idx_assets_name ON assets(kind, name)",
		"CREATE INDEX IF NOT EXISTS idx_renders_book ON renders(book_id)",
		"CREATE INDEX IF NOT EXISTS idx_renders_scene ON renders(book_id, scene_id)",
		"CREATE INDEX IF NOT EXISTS idx_approvals_book ON approvals(book_id)",
		"CREATE INDEX IF NOT EXISTS idx_dead_letters_book ON dead_letters(book_id)",
	}

	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	for _, ddl := range indices {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := setSchemaVersion(db, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version)
	if err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}
