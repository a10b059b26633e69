package storage

const schemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS devices (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	name                TEXT    NOT NULL UNIQUE,
	host                TEXT    NOT NULL,
	device_type         TEXT    NOT NULL DEFAULT 'GENERIC',
	enabled             INTEGER NOT NULL DEFAULT 1,
	transport           TEXT    NOT NULL DEFAULT 'ssh',
	port                INTEGER NOT NULL DEFAULT 0,
	username            TEXT    NOT NULL DEFAULT '',
	password            TEXT    NOT NULL DEFAULT '',
	terminal            INTEGER NOT NULL DEFAULT 1,
	http                INTEGER NOT NULL DEFAULT 0,
	http_scheme         TEXT    NOT NULL DEFAULT 'https',
	http_port           INTEGER NOT NULL DEFAULT 0,
	snmp                INTEGER NOT NULL DEFAULT 0,
	snmp_community      TEXT    NOT NULL DEFAULT '',
	forwarded_tcp_ports TEXT    NOT NULL DEFAULT '[]',
	attributes          TEXT    NOT NULL DEFAULT '{}',
	created_at          TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now')),
	updated_at          TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);

CREATE INDEX IF NOT EXISTS idx_devices_device_type ON devices(device_type);

CREATE TABLE IF NOT EXISTS command_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id  TEXT    NOT NULL DEFAULT '',
	device_name TEXT    NOT NULL,
	command     TEXT    NOT NULL,
	exec_status TEXT    NOT NULL,
	message     TEXT    NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);

CREATE INDEX IF NOT EXISTS idx_command_log_device ON command_log(device_name, created_at DESC);

CREATE TABLE IF NOT EXISTS snapshots (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT    NOT NULL UNIQUE,
	device_name TEXT    NOT NULL,
	command     TEXT    NOT NULL,
	os          TEXT    NOT NULL DEFAULT '',
	data        TEXT    NOT NULL DEFAULT '{}',
	created_at  TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);

CREATE INDEX IF NOT EXISTS idx_snapshots_device ON snapshots(device_name, created_at DESC);
`

type migration struct {
	version int
	sql     string
}

// migrations apply on top of the base schema for databases created before
// the current version.
var migrations = []migration{
	{
		version: 2,
		sql:     `ALTER TABLE devices ADD COLUMN snmp_community TEXT NOT NULL DEFAULT '';`,
	},
}
