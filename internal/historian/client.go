// Package historian persists mode transitions, path-control reports and
// entity-error events to PostgreSQL for post-mission replay and audit
// (§4.5). It is an ordinary bus subscriber: it observes VehicleState,
// PathControlState and EntityMonitoringState, it never mutates them.
package historian

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// VehicleStateRecord is one row of vehicle_state_history.
type VehicleStateRecord struct {
	Time         time.Time
	EntityID     int32
	OpMode       int
	ManeuverType uint16
	ErrorCount   uint32
	ErrorEnts    string
	ControlLoops uint32
	Flags        uint32
}

// PathControlRecord is one row of path_control_history.
type PathControlRecord struct {
	Time             time.Time
	EntityID         int32
	TrackBearing     float64
	Range            float64
	CourseError      float64
	Along            float64
	Cross            float64
	Diverging        bool
	DivergenceReason string
}

// EntityErrorRecord is one row of entity_error_events.
type EntityErrorRecord struct {
	Time       time.Time
	ErrorCount uint32
	ErrorEnts  string
}

// DBClient is the narrow interface the Historian task depends on, the way
// a tracker-style component depends on a DBClient seam rather than *sql.DB
// directly, so tests can substitute a mock.
type DBClient interface {
	InsertVehicleStates(records []VehicleStateRecord) error
	InsertPathControlStates(records []PathControlRecord) error
	InsertEntityErrors(records []EntityErrorRecord) error
	Close() error
}

// Client is the Postgres-backed DBClient implementation.
type Client struct {
	db *sql.DB
}

// Connect opens a Postgres connection pool against dsn and verifies it
// with a ping.
func Connect(dsn string) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("historian: failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("historian: failed to connect to database: %w", err)
	}
	return &Client{db: db}, nil
}

// NewWithDB wraps an already-open *sql.DB, for tests (sqlmock) and callers
// that manage the pool themselves.
func NewWithDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// InsertVehicleStates writes records inside a single transaction.
func (c *Client) InsertVehicleStates(records []VehicleStateRecord) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("historian: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := `
		INSERT INTO vehicle_state_history (
			time, entity_id, op_mode, maneuver_type, error_count, error_ents, control_loops, flags
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, r := range records {
		if _, err := tx.Exec(stmt, r.Time, r.EntityID, r.OpMode, r.ManeuverType, r.ErrorCount, r.ErrorEnts, r.ControlLoops, r.Flags); err != nil {
			return fmt.Errorf("historian: failed to insert vehicle state record: %w", err)
		}
	}
	return tx.Commit()
}

// InsertPathControlStates writes records inside a single transaction.
func (c *Client) InsertPathControlStates(records []PathControlRecord) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("historian: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := `
		INSERT INTO path_control_history (
			time, entity_id, track_bearing, range, course_error, along, cross, diverging, divergence_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, r := range records {
		if _, err := tx.Exec(stmt, r.Time, r.EntityID, r.TrackBearing, r.Range, r.CourseError, r.Along, r.Cross, r.Diverging, r.DivergenceReason); err != nil {
			return fmt.Errorf("historian: failed to insert path control record: %w", err)
		}
	}
	return tx.Commit()
}

// InsertEntityErrors writes records inside a single transaction.
func (c *Client) InsertEntityErrors(records []EntityErrorRecord) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("historian: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := `INSERT INTO entity_error_events (time, error_count, error_ents) VALUES ($1, $2, $3)`
	for _, r := range records {
		if _, err := tx.Exec(stmt, r.Time, r.ErrorCount, r.ErrorEnts); err != nil {
			return fmt.Errorf("historian: failed to insert entity error record: %w", err)
		}
	}
	return tx.Commit()
}
