package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/truckpilot/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a session id matches no row.
var ErrNotFound = errors.New("session not found")

// Store manages the PostgreSQL connection holding drive telemetry.
type Store struct {
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS drive_sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL,
			source TEXT NOT NULL,
			source_id TEXT NOT NULL DEFAULT '',
			strategy TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ended_at TIMESTAMPTZ,
			frames INT NOT NULL DEFAULT 0,
			bails INT NOT NULL DEFAULT 0,
			end_reason TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS decisions (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES drive_sessions(id) ON DELETE CASCADE,
			frame INT NOT NULL,
			state TEXT NOT NULL,
			direction INT NOT NULL,
			speed INT NOT NULL,
			depth INT NOT NULL,
			route_len INT NOT NULL,
			stop_reason TEXT NOT NULL,
			blocked BOOLEAN NOT NULL,
			no_path BOOLEAN NOT NULL,
			obstacles INT NOT NULL,
			latency_us BIGINT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS bail_episodes (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES drive_sessions(id) ON DELETE CASCADE,
			start_frame INT NOT NULL,
			end_frame INT,
			bail_right BOOLEAN NOT NULL,
			reason TEXT NOT NULL,
			end_reason TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS decisions_session_frame_idx ON decisions (session_id, frame);
		CREATE INDEX IF NOT EXISTS bail_episodes_session_idx ON bail_episodes (session_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// CreateSession registers a new run. Re-creating an existing id resets its totals.
func (s *Store) CreateSession(ctx context.Context, info types.SessionInfo) error {
	if info.Started.IsZero() {
		info.Started = time.Now()
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO drive_sessions (id, name, mode, source, source_id, strategy, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET started_at = EXCLUDED.started_at, ended_at = NULL, frames = 0, bails = 0, end_reason = ''
	`, info.ID, info.Name, info.Mode, info.Source, info.SourceID, info.Strategy, info.Started)
	return err
}

// FinishSession stores the totals and why the run ended.
func (s *Store) FinishSession(ctx context.Context, id string, frames, bails int, reason string) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE drive_sessions SET ended_at = NOW(), frames = $2, bails = $3, end_reason = $4 WHERE id = $1
	`, id, frames, bails, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var decisionColumns = []string{
	"session_id", "frame", "state", "direction", "speed", "depth", "route_len",
	"stop_reason", "blocked", "no_path", "obstacles", "latency_us", "recorded_at",
}

// InsertDecisions bulk loads a batch of per-frame records with COPY.
func (s *Store) InsertDecisions(ctx context.Context, recs []types.DecisionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	_, err := s.conn.CopyFrom(ctx, pgx.Identifier{"decisions"}, decisionColumns,
		pgx.CopyFromSlice(len(recs), func(i int) ([]any, error) {
			r := recs[i]
			return []any{
				r.SessionID, r.Frame, r.State, r.Direction, r.Speed, r.Depth, r.RouteLen,
				r.StopReason, r.Blocked, r.NoPath, r.Obstacles, r.LatencyUS, r.RecordedAt,
			}, nil
		}))
	return err
}

// StartEpisode opens a bail episode and returns its id.
func (s *Store) StartEpisode(ctx context.Context, sessionID string, frame int, bailRight bool, reason string) (int64, error) {
	var id int64
	err := s.conn.QueryRow(ctx, `
		INSERT INTO bail_episodes (session_id, start_frame, bail_right, reason)
		VALUES ($1, $2, $3, $4) RETURNING id
	`, sessionID, frame, bailRight, reason).Scan(&id)
	return id, err
}

// EndEpisode closes a bail episode.
func (s *Store) EndEpisode(ctx context.Context, id int64, frame int, reason string) error {
	_, err := s.conn.Exec(ctx, "UPDATE bail_episodes SET end_frame = $2, end_reason = $3 WHERE id = $1", id, frame, reason)
	return err
}

// ListSessions returns the most recent sessions first, with the mean commanded speed.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]types.SessionSummary, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT s.id, s.name, s.mode, s.source, s.source_id, s.strategy, s.started_at, s.ended_at,
		       s.frames, s.bails, s.end_reason, COALESCE(AVG(d.speed), 0)::float8
		FROM drive_sessions s
		LEFT JOIN decisions d ON d.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.SessionSummary
	for rows.Next() {
		var ss types.SessionSummary
		if err := rows.Scan(&ss.ID, &ss.Name, &ss.Mode, &ss.Source, &ss.SourceID, &ss.Strategy,
			&ss.Started, &ss.Ended, &ss.Frames, &ss.Bails, &ss.EndReason, &ss.MeanSpeed); err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// ListEpisodes returns the bail episodes of a session in order.
func (s *Store) ListEpisodes(ctx context.Context, sessionID string) ([]types.Episode, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, session_id, start_frame, end_frame, bail_right, reason, end_reason
		FROM bail_episodes WHERE session_id = $1 ORDER BY start_frame
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Episode
	for rows.Next() {
		var e types.Episode
		if err := rows.Scan(&e.ID, &e.SessionID, &e.StartFrame, &e.EndFrame, &e.BailRight, &e.Reason, &e.EndReason); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RenameSession updates the human readable label of a session.
func (s *Store) RenameSession(ctx context.Context, id, name string) error {
	tag, err := s.conn.Exec(ctx, "UPDATE drive_sessions SET name = $1 WHERE id = $2", name, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS decisions CASCADE;
		DROP TABLE IF EXISTS bail_episodes CASCADE;
		DROP TABLE IF EXISTS drive_sessions CASCADE;
	`)
	return err
}
