package store

// schemaStatements is applied in order on every open; all statements are
// idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		parent_id TEXT,
		tenant_id TEXT NOT NULL,
		depth INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		deadline_at TEXT NOT NULL,
		system TEXT NOT NULL DEFAULT '',
		user_input TEXT NOT NULL DEFAULT '',
		tool_schema_digest TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_tenant ON sessions(tenant_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_parent ON sessions(parent_id)`,

	`CREATE TABLE IF NOT EXISTS steps (
		session_id TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		generator_output TEXT NOT NULL DEFAULT '',
		tool_intent TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		PRIMARY KEY (session_id, step_index)
	)`,

	`CREATE TABLE IF NOT EXISTS tool_calls (
		call_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		tool TEXT NOT NULL,
		parameters TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tool_calls_step ON tool_calls(session_id, step_index)`,

	`CREATE TABLE IF NOT EXISTS tool_results (
		call_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		ok INTEGER NOT NULL,
		output TEXT NOT NULL DEFAULT '',
		error_kind TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		bytes_truncated INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		call_id TEXT NOT NULL,
		tool TEXT NOT NULL,
		ok INTEGER NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL,
		size_before INTEGER NOT NULL DEFAULT 0,
		size_after INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_session ON audit(session_id, step_index)`,

	`CREATE TABLE IF NOT EXISTS responses (
		response_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		model TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		previous_response_id TEXT,
		response_json TEXT NOT NULL,
		transcript_json TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_responses_tenant ON responses(tenant_id)`,
}
