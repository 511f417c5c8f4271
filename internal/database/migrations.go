package database

// Migration is one versioned schema step. Versions are applied in order and
// recorded in schema_migrations.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

var sqliteMigrations = []Migration{
	{
		Version: 1,
		Name:    "offline_queue",
		SQL: `
			CREATE TABLE IF NOT EXISTS pending_submissions (
				question_id INTEGER PRIMARY KEY,
				attempt_id INTEGER NOT NULL,
				audio BLOB NOT NULL,
				recording_time_seconds REAL NOT NULL DEFAULT 0,
				mime_type TEXT NOT NULL DEFAULT '',
				timestamp INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_pending_submissions_attempt ON pending_submissions(attempt_id);

			CREATE TABLE IF NOT EXISTS audio_drafts (
				question_id INTEGER PRIMARY KEY,
				attempt_id INTEGER NOT NULL,
				audio BLOB NOT NULL,
				recording_time_seconds REAL NOT NULL DEFAULT 0,
				mime_type TEXT NOT NULL DEFAULT '',
				saved_at INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_audio_drafts_attempt ON audio_drafts(attempt_id);
		`,
	},
}

var postgresMigrations = []Migration{
	{
		Version: 1,
		Name:    "offline_queue",
		SQL: `
			CREATE TABLE IF NOT EXISTS pending_submissions (
				question_id INTEGER PRIMARY KEY,
				attempt_id INTEGER NOT NULL,
				audio BYTEA NOT NULL,
				recording_time_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
				mime_type TEXT NOT NULL DEFAULT '',
				timestamp BIGINT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_pending_submissions_attempt ON pending_submissions(attempt_id);

			CREATE TABLE IF NOT EXISTS audio_drafts (
				question_id INTEGER PRIMARY KEY,
				attempt_id INTEGER NOT NULL,
				audio BYTEA NOT NULL,
				recording_time_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
				mime_type TEXT NOT NULL DEFAULT '',
				saved_at BIGINT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_audio_drafts_attempt ON audio_drafts(attempt_id);
		`,
	},
}
