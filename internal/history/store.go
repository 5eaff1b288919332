// Package history persists readings and the command log in SQLite so the
// fleet and cooldown state survive a restart.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/joshp123/plantcare/internal/automation"
	"github.com/joshp123/plantcare/internal/core"
)

// Command is one row of the command log.
type Command struct {
	ID          string      `json:"id"`
	PlantID     string      `json:"plant_id"`
	DeviceID    string      `json:"device_id"`
	Action      core.Action `json:"action"`
	Origin      string      `json:"origin"`
	IssuedAt    time.Time   `json:"issued_at"`
	CompletedAt time.Time   `json:"completed_at"`
	Outcome     string      `json:"outcome"`
	Error       string      `json:"error,omitempty"`
	AckID       string      `json:"ack_id,omitempty"`
	AckStatus   string      `json:"ack_status,omitempty"`
}

// FromResult converts a resolved command into a log row.
func FromResult(res automation.Result) Command {
	t := res.Ticket
	c := Command{
		ID:          t.ID,
		PlantID:     t.PlantID,
		DeviceID:    t.DeviceID,
		Action:      t.Action,
		Origin:      string(t.Origin),
		IssuedAt:    t.IssuedAt,
		CompletedAt: res.CompletedAt,
		Outcome:     res.Outcome,
		Error:       res.Error,
	}
	if res.Ack != nil {
		c.AckID = res.Ack.CommandID
		c.AckStatus = res.Ack.Status
	}
	return c
}

// Store provides SQLite-backed persistence for readings and commands.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and migrates it.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history: path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: busy_timeout: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordReading appends a fresh reading for a plant.
func (s *Store) RecordReading(ctx context.Context, plantID string, r core.Reading) error {
	if plantID == "" {
		return fmt.Errorf("record reading: plant id is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (plant_id, moisture, temperature, light, water_detected, captured_at, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		plantID, r.Moisture, r.Temperature, r.Light, boolInt(r.WaterDetected), formatTime(r.CapturedAt), formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("record reading: insert: %w", err)
	}
	return nil
}

// RecordCommand appends a resolved command to the log.
func (s *Store) RecordCommand(ctx context.Context, res automation.Result) error {
	c := FromResult(res)
	if c.ID == "" {
		return fmt.Errorf("record command: ticket id is empty")
	}
	var errText, ackID, ackStatus any
	if c.Error != "" {
		errText = c.Error
	}
	if c.AckID != "" || c.AckStatus != "" {
		ackID = c.AckID
		ackStatus = c.AckStatus
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO commands (id, plant_id, device_id, action, origin, issued_at, completed_at, outcome, error, ack_id, ack_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET completed_at = excluded.completed_at, outcome = excluded.outcome, error = excluded.error, ack_id = excluded.ack_id, ack_status = excluded.ack_status`,
		c.ID, c.PlantID, c.DeviceID, string(c.Action), c.Origin, formatTime(c.IssuedAt), formatTime(c.CompletedAt), c.Outcome, errText, ackID, ackStatus,
	)
	if err != nil {
		return fmt.Errorf("record command: insert: %w", err)
	}
	return nil
}

// LatestReadings returns the newest stored reading per plant.
func (s *Store) LatestReadings(ctx context.Context) (map[string]core.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.plant_id, r.moisture, r.temperature, r.light, r.water_detected, r.captured_at
		FROM readings r
		WHERE r.id = (SELECT id FROM readings WHERE plant_id = r.plant_id ORDER BY captured_at DESC, id DESC LIMIT 1)`)
	if err != nil {
		return nil, fmt.Errorf("latest readings: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]core.Reading)
	for rows.Next() {
		var (
			plantID    string
			r          core.Reading
			water      int
			capturedAt string
		)
		if err := rows.Scan(&plantID, &r.Moisture, &r.Temperature, &r.Light, &water, &capturedAt); err != nil {
			return nil, fmt.Errorf("latest readings: scan: %w", err)
		}
		r.WaterDetected = water != 0
		if r.CapturedAt, err = parseTime(capturedAt); err != nil {
			return nil, fmt.Errorf("latest readings: %s: %w", plantID, err)
		}
		out[plantID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("latest readings: rows: %w", err)
	}
	return out, nil
}

// LastCommandTimes returns the latest completion time per plant.
func (s *Store) LastCommandTimes(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT plant_id, MAX(completed_at) FROM commands GROUP BY plant_id`)
	if err != nil {
		return nil, fmt.Errorf("last command times: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var plantID, completedAt string
		if err := rows.Scan(&plantID, &completedAt); err != nil {
			return nil, fmt.Errorf("last command times: scan: %w", err)
		}
		at, err := parseTime(completedAt)
		if err != nil {
			return nil, fmt.Errorf("last command times: %s: %w", plantID, err)
		}
		out[plantID] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("last command times: rows: %w", err)
	}
	return out, nil
}

// Commands returns the newest commands for a plant, newest first.
func (s *Store) Commands(ctx context.Context, plantID string, limit int) ([]Command, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plant_id, device_id, action, origin, issued_at, completed_at, outcome, error, ack_id, ack_status
		FROM commands WHERE plant_id = ? ORDER BY completed_at DESC LIMIT ?`, plantID, limit)
	if err != nil {
		return nil, fmt.Errorf("commands: query: %w", err)
	}
	defer rows.Close()

	var out []Command
	for rows.Next() {
		var (
			c                       Command
			action                  string
			issuedAt, completedAt   string
			errText, ackID, ackStat sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.PlantID, &c.DeviceID, &action, &c.Origin, &issuedAt, &completedAt, &c.Outcome, &errText, &ackID, &ackStat); err != nil {
			return nil, fmt.Errorf("commands: scan: %w", err)
		}
		c.Action = core.Action(action)
		if c.IssuedAt, err = parseTime(issuedAt); err != nil {
			return nil, fmt.Errorf("commands: %s: %w", c.ID, err)
		}
		if c.CompletedAt, err = parseTime(completedAt); err != nil {
			return nil, fmt.Errorf("commands: %s: %w", c.ID, err)
		}
		c.Error = errText.String
		c.AckID = ackID.String
		c.AckStatus = ackStat.String
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("commands: rows: %w", err)
	}
	return out, nil
}

// PruneReadings deletes readings captured before cutoff, keeping the newest
// row of every plant so restore still has something to work with.
func (s *Store) PruneReadings(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM readings
		WHERE captured_at < ?
		AND id NOT IN (SELECT MAX(id) FROM readings GROUP BY plant_id)`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune readings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune readings: rows affected: %w", err)
	}
	return n, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
