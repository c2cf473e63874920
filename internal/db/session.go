package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is one run of the fusion pipeline.
type Session struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	ConfigJSON string     `json:"config_json"`
}

// StartSession records a new session and returns it.
func (db *DB) StartSession(ctx context.Context, configJSON string, at time.Time) (*Session, error) {
	if configJSON == "" {
		configJSON = "{}"
	}
	s := &Session{ID: uuid.NewString(), StartedAt: at, ConfigJSON: configJSON}
	_, err := db.ExecContext(ctx,
		`INSERT INTO fusion_sessions (session_id, started_unix_nanos, config_json) VALUES (?, ?, ?)`,
		s.ID, at.UnixNano(), configJSON)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// EndSession stamps the session's end time.
func (db *DB) EndSession(ctx context.Context, id string, at time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE fusion_sessions SET ended_unix_nanos = ? WHERE session_id = ?`, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

// ListSessions returns the most recent sessions, newest first.
func (db *DB) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT session_id, started_unix_nanos, ended_unix_nanos, config_json
		   FROM fusion_sessions ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			s       Session
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &started, &ended, &s.ConfigJSON); err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(0, started)
		if ended.Valid {
			t := time.Unix(0, ended.Int64)
			s.EndedAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
