package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS vehicles (
	id            TEXT PRIMARY KEY,
	brand         TEXT NOT NULL,
	model         TEXT NOT NULL,
	license_plate TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS pending_rentals (
	id            TEXT PRIMARY KEY,
	vehicle_id    TEXT NOT NULL REFERENCES vehicles(id),
	customer_name TEXT NOT NULL,
	start_date    DATETIME NOT NULL,
	end_date      DATETIME NOT NULL,
	price         REAL,
	notes         TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	confirmed     INTEGER NOT NULL DEFAULT 0 CHECK(confirmed IN (0, 1)),
	message_uid   INTEGER NOT NULL,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS email_history (
	id                TEXT PRIMARY KEY,
	message_uid       INTEGER NOT NULL UNIQUE,
	from_addr         TEXT NOT NULL DEFAULT '',
	subject           TEXT NOT NULL DEFAULT '',
	received_at       DATETIME NOT NULL,
	parse_outcome     TEXT NOT NULL,
	match_outcome     TEXT NOT NULL DEFAULT '',
	failure_detail    TEXT NOT NULL DEFAULT '',
	created_rental_id TEXT NOT NULL DEFAULT '',
	processed_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id          TEXT PRIMARY KEY,
	history_id  TEXT NOT NULL,
	message_uid INTEGER NOT NULL,
	reason      TEXT NOT NULL,
	message     TEXT NOT NULL,
	read        INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_vehicles_license_plate ON vehicles(license_plate);
CREATE INDEX IF NOT EXISTS idx_pending_rentals_vehicle ON pending_rentals(vehicle_id);
CREATE INDEX IF NOT EXISTS idx_pending_rentals_status ON pending_rentals(status);
CREATE INDEX IF NOT EXISTS idx_email_history_processed ON email_history(processed_at);
CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications(read);
CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_pending_rentals_message_uid
	ON pending_rentals(message_uid);

CREATE INDEX IF NOT EXISTS idx_notifications_history_id
	ON notifications(history_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
