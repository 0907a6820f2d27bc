package repository

const schema = `
CREATE TABLE IF NOT EXISTS todo_lists (
	list_id    TEXT NOT NULL PRIMARY KEY,
	list_name  TEXT NOT NULL,
	owner_id   TEXT NOT NULL,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS todo_items (
	item_id     TEXT NOT NULL PRIMARY KEY,
	list_id     TEXT NOT NULL REFERENCES todo_lists(list_id),
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	due_date    TEXT,
	status      TEXT NOT NULL DEFAULT 'not_started',
	done        INTEGER NOT NULL DEFAULT 0,
	media_url   TEXT NOT NULL DEFAULT '',
	is_deleted  INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_todo_items_list_id ON todo_items(list_id);

CREATE TABLE IF NOT EXISTS todo_list_members (
	list_id TEXT NOT NULL REFERENCES todo_lists(list_id),
	user_id TEXT NOT NULL,
	role    TEXT NOT NULL,
	PRIMARY KEY (list_id, user_id)
);

CREATE TRIGGER IF NOT EXISTS trg_todo_lists_updated_at
AFTER UPDATE ON todo_lists
WHEN NEW.updated_at = OLD.updated_at
BEGIN
	UPDATE todo_lists SET updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now') WHERE list_id = NEW.list_id;
END;

CREATE TRIGGER IF NOT EXISTS trg_todo_items_updated_at
AFTER UPDATE ON todo_items
WHEN NEW.updated_at = OLD.updated_at
BEGIN
	UPDATE todo_items SET updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now') WHERE item_id = NEW.item_id;
END;
`
