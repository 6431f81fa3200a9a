package repositories

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	email            TEXT NOT NULL UNIQUE,
	password_hash    TEXT NOT NULL,
	telegram_chat_id BIGINT,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	title       TEXT NOT NULL CHECK (length(trim(title)) > 0),
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	priority    TEXT NOT NULL DEFAULT 'medium',
	due_date    TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id, created_at);

CREATE TABLE IF NOT EXISTS task_attachments (
	id            TEXT PRIMARY KEY,
	task_id       TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	sort_index    INTEGER NOT NULL,
	stored_name   TEXT NOT NULL,
	original_name TEXT NOT NULL,
	storage_path  TEXT NOT NULL UNIQUE,
	size          BIGINT NOT NULL,
	mime_type     TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_attachments_task ON task_attachments(task_id, sort_index);

CREATE TABLE IF NOT EXISTS telegram_links (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	code       TEXT NOT NULL UNIQUE,
	expires_at TIMESTAMPTZ NOT NULL,
	used       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
)
`

// SQLite schema carries no foreign keys; the task repository removes
// attachment rows itself.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	email            TEXT NOT NULL UNIQUE,
	password_hash    TEXT NOT NULL,
	telegram_chat_id INTEGER,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	title       TEXT NOT NULL CHECK (length(trim(title)) > 0),
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	priority    TEXT NOT NULL DEFAULT 'medium',
	due_date    DATETIME,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id, created_at);

CREATE TABLE IF NOT EXISTS task_attachments (
	id            TEXT PRIMARY KEY,
	task_id       TEXT NOT NULL,
	sort_index    INTEGER NOT NULL,
	stored_name   TEXT NOT NULL,
	original_name TEXT NOT NULL,
	storage_path  TEXT NOT NULL UNIQUE,
	size          INTEGER NOT NULL,
	mime_type     TEXT NOT NULL,
	created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_attachments_task ON task_attachments(task_id, sort_index);

CREATE TABLE IF NOT EXISTS telegram_links (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	code       TEXT NOT NULL UNIQUE,
	expires_at DATETIME NOT NULL,
	used       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at DATETIME NOT NULL
)
`
