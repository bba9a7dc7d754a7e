package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB represents the SQLite database connection and operations
type DB struct {
	conn *sql.DB
	path string
}

// CommandRecord represents one executed (or rejected) shell command
type CommandRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Command    string    `json:"command"`
	Mode       string    `json:"mode"` // "foreground", "background" or "rejected"
	Status     string    `json:"status"`
	Output     string    `json:"output"`
	Warnings   string    `json:"warnings"`
	ExitCode   int       `json:"exit_code"`
	Duration   int64     `json:"duration_ms"`
	WorkingDir string    `json:"working_dir"`
	Timestamp  time.Time `json:"timestamp"`
}

// LaunchRecord represents a background launch
type LaunchRecord struct {
	ID         string    `json:"id"`
	CommandID  string    `json:"command_id"`
	SessionID  string    `json:"session_id"`
	Command    string    `json:"command"`
	PID        int       `json:"pid"`
	LogPath    string    `json:"log_path"`
	Status     string    `json:"status"`
	WorkingDir string    `json:"working_dir"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ErrLaunchNotFound is returned when no launch has the requested id
var ErrLaunchNotFound = errors.New("launch not found")

// SessionStats summarizes the stored commands of one session
type SessionStats struct {
	TotalCommands      int     `json:"total_commands"`
	SuccessfulCommands int     `json:"successful_commands"`
	FailedCommands     int     `json:"failed_commands"`
	BackgroundCommands int     `json:"background_commands"`
	AvgDurationMs      float64 `json:"avg_duration_ms"`
}

// CommandFilter narrows SearchCommands; zero values are ignored
type CommandFilter struct {
	SessionID string
	Command   string
	Output    string
	Status    string
	Mode      string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// NewDB creates a new database connection
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "go-shell.db")

	conn, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	db := &DB{
		conn: conn,
		path: dbPath,
	}

	if err := db.initialize(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// initialize creates the database schema
func (db *DB) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS commands (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		command TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		output TEXT DEFAULT '',
		warnings TEXT DEFAULT '',
		exit_code INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		working_dir TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS background_launches (
		id TEXT PRIMARY KEY,
		command_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		command TEXT NOT NULL,
		pid INTEGER NOT NULL,
		log_path TEXT NOT NULL,
		status TEXT NOT NULL,
		working_dir TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_commands_session_id ON commands(session_id);
	CREATE INDEX IF NOT EXISTS idx_commands_timestamp ON commands(timestamp);
	CREATE INDEX IF NOT EXISTS idx_launches_session_id ON background_launches(session_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// HealthCheck verifies the connection is usable
func (db *DB) HealthCheck() error {
	var one int
	if err := db.conn.QueryRow("SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Command operations

// StoreCommand stores a command execution record
func (db *DB) StoreCommand(rec *CommandRecord) error {
	query := `
	INSERT INTO commands (id, session_id, command, mode, status, output, warnings, exit_code, duration_ms, working_dir, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.conn.Exec(query, rec.ID, rec.SessionID, rec.Command, rec.Mode, rec.Status, rec.Output,
		rec.Warnings, rec.ExitCode, rec.Duration, rec.WorkingDir, rec.Timestamp)

	return err
}

// SearchCommands searches command history, newest first
func (db *DB) SearchCommands(filter CommandFilter) ([]*CommandRecord, error) {
	query := `
	SELECT id, session_id, command, mode, status, output, warnings, exit_code, duration_ms, working_dir, timestamp
	FROM commands WHERE 1=1
	`

	var args []interface{}

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}

	if filter.Command != "" {
		query += " AND command LIKE ?"
		args = append(args, "%"+filter.Command+"%")
	}

	if filter.Output != "" {
		query += " AND (output LIKE ? OR warnings LIKE ?)"
		args = append(args, "%"+filter.Output+"%", "%"+filter.Output+"%")
	}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	if filter.Mode != "" {
		query += " AND mode = ?"
		args = append(args, filter.Mode)
	}

	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since)
	}

	if !filter.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.Until)
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []*CommandRecord

	for rows.Next() {
		var rec CommandRecord

		err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Command, &rec.Mode, &rec.Status, &rec.Output,
			&rec.Warnings, &rec.ExitCode, &rec.Duration, &rec.WorkingDir, &rec.Timestamp)
		if err != nil {
			return nil, err
		}

		commands = append(commands, &rec)
	}

	return commands, rows.Err()
}

// Launch operations

// StoreLaunch stores a background launch record
func (db *DB) StoreLaunch(rec *LaunchRecord) error {
	query := `
	INSERT INTO background_launches (id, command_id, session_id, command, pid, log_path, status, working_dir, started_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.conn.Exec(query, rec.ID, rec.CommandID, rec.SessionID, rec.Command, rec.PID,
		rec.LogPath, rec.Status, rec.WorkingDir, rec.StartedAt, rec.UpdatedAt)

	return err
}

// UpdateLaunchStatus records the latest observed status of a launch
func (db *DB) UpdateLaunchStatus(id, status string) error {
	result, err := db.conn.Exec(`UPDATE background_launches SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("launch not found: %s", id)
	}

	return nil
}

// GetLaunch retrieves a launch by ID
func (db *DB) GetLaunch(id string) (*LaunchRecord, error) {
	query := `
	SELECT id, command_id, session_id, command, pid, log_path, status, working_dir, started_at, updated_at
	FROM background_launches WHERE id = ?
	`

	var rec LaunchRecord
	err := db.conn.QueryRow(query, id).Scan(&rec.ID, &rec.CommandID, &rec.SessionID, &rec.Command,
		&rec.PID, &rec.LogPath, &rec.Status, &rec.WorkingDir, &rec.StartedAt, &rec.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrLaunchNotFound, id)
		}
		return nil, err
	}

	return &rec, nil
}

// ListLaunches returns launches, newest first, optionally for one session
func (db *DB) ListLaunches(sessionID string, limit int) ([]*LaunchRecord, error) {
	query := `
	SELECT id, command_id, session_id, command, pid, log_path, status, working_dir, started_at, updated_at
	FROM background_launches
	`

	var args []interface{}
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}

	query += " ORDER BY started_at DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var launches []*LaunchRecord

	for rows.Next() {
		var rec LaunchRecord

		err := rows.Scan(&rec.ID, &rec.CommandID, &rec.SessionID, &rec.Command,
			&rec.PID, &rec.LogPath, &rec.Status, &rec.WorkingDir, &rec.StartedAt, &rec.UpdatedAt)
		if err != nil {
			return nil, err
		}

		launches = append(launches, &rec)
	}

	return launches, rows.Err()
}

// Utility methods

// GetSessionStats returns statistics for a session
func (db *DB) GetSessionStats(sessionID string) (*SessionStats, error) {
	query := `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'Successful' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN mode = 'background' THEN 1 ELSE 0 END), 0),
		COALESCE(AVG(duration_ms), 0)
	FROM commands WHERE session_id = ?
	`

	var stats SessionStats
	err := db.conn.QueryRow(query, sessionID).Scan(&stats.TotalCommands, &stats.SuccessfulCommands,
		&stats.BackgroundCommands, &stats.AvgDurationMs)
	if err != nil {
		return nil, err
	}

	stats.FailedCommands = stats.TotalCommands - stats.SuccessfulCommands
	return &stats, nil
}
