package storage

// Schema 建表语句，全部幂等，启动时直接执行
const Schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
	room_id INTEGER PRIMARY KEY,
	uid INTEGER NOT NULL DEFAULT 0,
	uname TEXT NOT NULL DEFAULT '',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS targets (
	room_id INTEGER NOT NULL,
	target_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	notify_start INTEGER NOT NULL DEFAULT 1,
	notify_end INTEGER NOT NULL DEFAULT 1,
	report INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (room_id, target_id),
	FOREIGN KEY (room_id) REFERENCES subscriptions(room_id)
);

CREATE INDEX IF NOT EXISTS idx_targets_room ON targets(room_id);

CREATE TABLE IF NOT EXISTS checkpoints (
	room_id INTEGER NOT NULL,
	session_start INTEGER NOT NULL,
	payload BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (room_id, session_start)
);

CREATE TABLE IF NOT EXISTS system_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`
