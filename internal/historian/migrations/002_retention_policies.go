package migrations

// RetentionPolicies bounds how long mission history is kept and rolls up a
// coarse divergence-rate aggregate for dashboards.
var RetentionPolicies = &Migration{
	ID:   "002_retention_policies",
	Name: "002_retention_policies",
	UpSQL: `
	SELECT add_retention_policy('path_control_history', INTERVAL '30 days');
	SELECT add_retention_policy('vehicle_state_history', INTERVAL '90 days');
	SELECT add_retention_policy('entity_error_events', INTERVAL '90 days');

	CREATE MATERIALIZED VIEW IF NOT EXISTS path_control_divergence_hourly
	WITH (timescaledb.continuous) AS
	SELECT
		time_bucket('1 hour', time) AS hour,
		entity_id,
		COUNT(*) FILTER (WHERE diverging) AS divergence_count,
		COUNT(*) AS report_count
	FROM path_control_history
	GROUP BY hour, entity_id
	WITH NO DATA;
	`,
	DownSQL: `
	DROP MATERIALIZED VIEW IF EXISTS path_control_divergence_hourly;
	SELECT remove_retention_policy('entity_error_events');
	SELECT remove_retention_policy('vehicle_state_history');
	SELECT remove_retention_policy('path_control_history');
	`,
}
