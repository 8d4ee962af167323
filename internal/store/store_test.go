package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/andresmejia3/truckpilot/internal/types"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Explicitly check for Docker availability and fail hard if missing
	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	// Start Postgres Container
	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("truckpilot_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	// Get Connection String
	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	id := NewSessionID()
	info := types.SessionInfo{ID: id, Mode: "replay", Source: "/tmp/lap1.mp4", SourceID: "abc", Strategy: "corridor"}
	if err := s.CreateSession(ctx, info); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// Decisions are bulk loaded with COPY
	now := time.Now()
	recs := []types.DecisionRecord{
		{SessionID: id, Frame: 1, State: "FORWARD", Speed: 100, StopReason: "top", RecordedAt: now},
		{SessionID: id, Frame: 2, State: "FORWARD", Direction: 12, Speed: 70, StopReason: "top", RecordedAt: now},
		{SessionID: id, Frame: 3, State: "BAIL_BACKUP", Speed: -40, StopReason: "blocked", Blocked: true, NoPath: true, Obstacles: 1, RecordedAt: now},
	}
	if err := s.InsertDecisions(ctx, recs); err != nil {
		t.Fatalf("InsertDecisions failed: %v", err)
	}
	if err := s.InsertDecisions(ctx, nil); err != nil {
		t.Errorf("Empty batch should be a no-op, got %v", err)
	}

	epID, err := s.StartEpisode(ctx, id, 3, true, "hard block")
	if err != nil {
		t.Fatalf("StartEpisode failed: %v", err)
	}
	if err := s.EndEpisode(ctx, epID, 9, "obstacle cleared"); err != nil {
		t.Fatalf("EndEpisode failed: %v", err)
	}
	if err := s.FinishSession(ctx, id, 3, 1, "camera empty"); err != nil {
		t.Fatalf("FinishSession failed: %v", err)
	}
	if err := s.RenameSession(ctx, id, "lap one"); err != nil {
		t.Fatalf("RenameSession failed: %v", err)
	}
	if err := s.RenameSession(ctx, "missing", "x"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound for an unknown session, got %v", err)
	}

	sessions, err := s.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}
	got := sessions[0]
	if got.Name != "lap one" || got.Frames != 3 || got.Bails != 1 || got.Ended == nil {
		t.Errorf("Unexpected session summary %+v", got)
	}
	if got.MeanSpeed < 43.3 || got.MeanSpeed > 43.4 {
		t.Errorf("Expected mean speed ~43.33, got %f", got.MeanSpeed)
	}

	episodes, err := s.ListEpisodes(ctx, id)
	if err != nil {
		t.Fatalf("ListEpisodes failed: %v", err)
	}
	if len(episodes) != 1 || episodes[0].EndFrame == nil || *episodes[0].EndFrame != 9 || !episodes[0].BailRight {
		t.Errorf("Unexpected episodes %+v", episodes)
	}

	// Reset drops everything; the schema is rebuilt on the next connect
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.ListSessions(ctx, 10); err == nil {
		t.Error("Expected queries to fail after Reset")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
