package migrations

import "time"

// InitialSchema creates the historian's hypertables.
var InitialSchema = &Migration{
	ID:   "001_initial_schema",
	Name: "001_initial_schema",
	UpSQL: `
		CREATE EXTENSION IF NOT EXISTS timescaledb;

		CREATE TABLE IF NOT EXISTS vehicle_state_history (
			time TIMESTAMPTZ NOT NULL,
			entity_id INTEGER NOT NULL,
			op_mode INTEGER NOT NULL,
			maneuver_type INTEGER,
			error_count INTEGER,
			error_ents TEXT,
			control_loops BIGINT,
			flags INTEGER
		);

		SELECT create_hypertable('vehicle_state_history', 'time');

		CREATE INDEX IF NOT EXISTS idx_vehicle_state_history_entity ON vehicle_state_history (entity_id);

		CREATE TABLE IF NOT EXISTS path_control_history (
			time TIMESTAMPTZ NOT NULL,
			entity_id INTEGER NOT NULL,
			track_bearing DOUBLE PRECISION,
			range DOUBLE PRECISION,
			course_error DOUBLE PRECISION,
			along DOUBLE PRECISION,
			cross DOUBLE PRECISION,
			diverging BOOLEAN NOT NULL,
			divergence_reason TEXT
		);

		SELECT create_hypertable('path_control_history', 'time');

		CREATE INDEX IF NOT EXISTS idx_path_control_history_entity ON path_control_history (entity_id);
		CREATE INDEX IF NOT EXISTS idx_path_control_history_diverging ON path_control_history (diverging) WHERE diverging;

		CREATE TABLE IF NOT EXISTS entity_error_events (
			time TIMESTAMPTZ NOT NULL,
			error_count INTEGER NOT NULL,
			error_ents TEXT
		);

		SELECT create_hypertable('entity_error_events', 'time');
	`,
	DownSQL: `
		DROP TABLE IF EXISTS entity_error_events;
		DROP TABLE IF EXISTS path_control_history;
		DROP TABLE IF EXISTS vehicle_state_history;
	`,
	CreatedAt: time.Now(),
}
