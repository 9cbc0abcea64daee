package store

// Migration is one versioned schema change. Up and Down are ordered statement
// lists; each migration applies inside its own transaction. Destructive
// migrations (ones that drop data) are refused unless the runner is given an
// explicit opt-in.
type Migration struct {
	Version     int
	Name        string
	Destructive bool
	Up          []string
	Down        []string
}

// legacyMigrationNames are the pre-rename migration names. When all of 1-8 are
// recorded under these names the runner treats the schema as already at
// baseline and synthesizes version 1 of the current sequence.
var legacyMigrationNames = []string{
	"create_executions",
	"create_steps",
	"create_artifacts",
	"create_events",
	"add_step_token",
	"add_execution_metadata",
	"create_indexes",
	"create_update_triggers",
}

// Migrations is the canonical schema sequence, ascending and contiguous.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "baseline",
		Up: []string{
			`CREATE TABLE workflow_executions (
				execution_id  TEXT PRIMARY KEY,
				workflow_name TEXT NOT NULL,
				state         TEXT NOT NULL DEFAULT 'idle'
					CHECK (state IN ('idle','running','paused','completed','failed','abandoned','diverged')),
				current_step  TEXT,
				started_at    TIMESTAMP NOT NULL,
				updated_at    TIMESTAMP NOT NULL,
				completed_at  TIMESTAMP,
				duration_ms   INTEGER,
				metadata      TEXT
			)`,
			`CREATE TABLE workflow_steps (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				execution_id TEXT NOT NULL REFERENCES workflow_executions(execution_id) ON DELETE CASCADE,
				step_name    TEXT NOT NULL,
				agent_name   TEXT NOT NULL,
				status       TEXT NOT NULL DEFAULT 'pending'
					CHECK (status IN ('pending','running','completed','failed')),
				started_at   TIMESTAMP NOT NULL,
				updated_at   TIMESTAMP NOT NULL,
				completed_at TIMESTAMP,
				duration_ms  INTEGER,
				output       TEXT,
				token        TEXT,
				UNIQUE (execution_id, step_name)
			)`,
			`CREATE TABLE workflow_artifacts (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				execution_id  TEXT NOT NULL REFERENCES workflow_executions(execution_id) ON DELETE CASCADE,
				step_name     TEXT NOT NULL,
				artifact_type TEXT NOT NULL CHECK (artifact_type IN ('file','data','report','finding')),
				name          TEXT NOT NULL,
				content       TEXT NOT NULL,
				content_type  TEXT NOT NULL CHECK (content_type IN ('text','markdown','json','binary')),
				size_bytes    INTEGER NOT NULL CHECK (size_bytes >= 0),
				metadata      TEXT,
				created_at    TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE telemetry_events (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				event_type   TEXT NOT NULL,
				execution_id TEXT,
				step_name    TEXT,
				agent_name   TEXT,
				metadata     TEXT,
				created_at   TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX idx_executions_state ON workflow_executions(state)`,
			`CREATE INDEX idx_executions_workflow ON workflow_executions(workflow_name)`,
			`CREATE INDEX idx_steps_execution ON workflow_steps(execution_id)`,
			`CREATE INDEX idx_steps_phase ON workflow_steps(step_name)`,
			`CREATE INDEX idx_artifacts_execution ON workflow_artifacts(execution_id)`,
			`CREATE INDEX idx_telemetry_created ON telemetry_events(created_at)`,
			`CREATE INDEX idx_telemetry_execution ON telemetry_events(execution_id)`,
			`CREATE TRIGGER trg_executions_updated_at AFTER UPDATE ON workflow_executions
				FOR EACH ROW WHEN NEW.updated_at = OLD.updated_at
				BEGIN
					UPDATE workflow_executions SET updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
					WHERE execution_id = NEW.execution_id;
				END`,
			`CREATE TRIGGER trg_steps_updated_at AFTER UPDATE ON workflow_steps
				FOR EACH ROW WHEN NEW.updated_at = OLD.updated_at
				BEGIN
					UPDATE workflow_steps SET updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
					WHERE id = NEW.id;
				END`,
		},
		Down: []string{
			`DROP TRIGGER IF EXISTS trg_steps_updated_at`,
			`DROP TRIGGER IF EXISTS trg_executions_updated_at`,
			`DROP TABLE IF EXISTS telemetry_events`,
			`DROP TABLE IF EXISTS workflow_artifacts`,
			`DROP TABLE IF EXISTS workflow_steps`,
			`DROP TABLE IF EXISTS workflow_executions`,
		},
	},
	{
		Version: 2,
		Name:    "create_projects",
		Up: []string{
			`CREATE TABLE projects (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				name          TEXT NOT NULL,
				path          TEXT NOT NULL UNIQUE,
				is_git_repo   INTEGER NOT NULL DEFAULT 0,
				metadata      TEXT,
				discovered_at TIMESTAMP NOT NULL,
				last_used_at  TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX idx_projects_path ON projects(path)`,
		},
		Down: []string{
			`DROP TABLE IF EXISTS projects`,
		},
	},
	{
		Version: 3,
		Name:    "create_knowledge_findings",
		Up: []string{
			`CREATE TABLE knowledge_findings (
				id                  INTEGER PRIMARY KEY AUTOINCREMENT,
				scope               TEXT NOT NULL CHECK (scope IN ('global','project','system')),
				project_id          INTEGER REFERENCES projects(id),
				category            TEXT NOT NULL
					CHECK (category IN ('security','architecture','performance','constraint','pattern')),
				severity            TEXT NOT NULL CHECK (severity IN ('info','low','medium','high','critical')),
				status              TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','deprecated')),
				title               TEXT NOT NULL CHECK (length(title) > 0),
				content             TEXT NOT NULL CHECK (length(content) > 0),
				tags                TEXT CHECK (tags IS NULL OR json_valid(tags)),
				source_execution_id TEXT,
				source_agent        TEXT,
				created_at          TIMESTAMP NOT NULL,
				updated_at          TIMESTAMP NOT NULL,
				CHECK (scope != 'project' OR project_id IS NOT NULL)
			)`,
			`CREATE INDEX idx_findings_severity ON knowledge_findings(severity)`,
			`CREATE INDEX idx_findings_project ON knowledge_findings(project_id)`,
			`CREATE INDEX idx_findings_status ON knowledge_findings(status)`,
			`CREATE VIRTUAL TABLE knowledge_findings_fts USING fts5(
				title, content, tags, category, scope,
				content='knowledge_findings', content_rowid='id'
			)`,
			`CREATE TRIGGER trg_findings_fts_insert AFTER INSERT ON knowledge_findings
				BEGIN
					INSERT INTO knowledge_findings_fts(rowid, title, content, tags, category, scope)
					VALUES (NEW.id, NEW.title, NEW.content, COALESCE(NEW.tags,''), NEW.category, NEW.scope);
				END`,
			`CREATE TRIGGER trg_findings_fts_delete AFTER DELETE ON knowledge_findings
				BEGIN
					INSERT INTO knowledge_findings_fts(knowledge_findings_fts, rowid, title, content, tags, category, scope)
					VALUES ('delete', OLD.id, OLD.title, OLD.content, COALESCE(OLD.tags,''), OLD.category, OLD.scope);
				END`,
			`CREATE TRIGGER trg_findings_fts_update AFTER UPDATE ON knowledge_findings
				BEGIN
					INSERT INTO knowledge_findings_fts(knowledge_findings_fts, rowid, title, content, tags, category, scope)
					VALUES ('delete', OLD.id, OLD.title, OLD.content, COALESCE(OLD.tags,''), OLD.category, OLD.scope);
					INSERT INTO knowledge_findings_fts(rowid, title, content, tags, category, scope)
					VALUES (NEW.id, NEW.title, NEW.content, COALESCE(NEW.tags,''), NEW.category, NEW.scope);
				END`,
		},
		Down: []string{
			`DROP TRIGGER IF EXISTS trg_findings_fts_update`,
			`DROP TRIGGER IF EXISTS trg_findings_fts_delete`,
			`DROP TRIGGER IF EXISTS trg_findings_fts_insert`,
			`DROP TABLE IF EXISTS knowledge_findings_fts`,
			`DROP TABLE IF EXISTS knowledge_findings`,
		},
	},
	{
		Version: 4,
		Name:    "add_execution_timeout",
		Up: []string{
			`ALTER TABLE workflow_executions ADD COLUMN timeout_ms INTEGER`,
			`CREATE INDEX idx_executions_running_timeout ON workflow_executions(state, timeout_ms)
				WHERE state = 'running' AND timeout_ms IS NOT NULL`,
		},
		Down: []string{
			`DROP INDEX IF EXISTS idx_executions_running_timeout`,
			`ALTER TABLE workflow_executions DROP COLUMN timeout_ms`,
		},
	},
	{
		Version: 5,
		Name:    "create_content_tables",
		Up: []string{
			`CREATE TABLE workflow_defs (
				name        TEXT PRIMARY KEY,
				description TEXT,
				content     TEXT NOT NULL,
				updated_at  TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE agent_defs (
				name        TEXT PRIMARY KEY,
				description TEXT,
				content     TEXT NOT NULL,
				updated_at  TIMESTAMP NOT NULL
			)`,
		},
		Down: []string{
			`DROP TABLE IF EXISTS agent_defs`,
			`DROP TABLE IF EXISTS workflow_defs`,
		},
	},
}
