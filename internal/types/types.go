package types

import "time"

// SessionInfo describes a drive or replay run when it starts.
type SessionInfo struct {
	ID       string
	Name     string
	Mode     string // "drive" or "replay"
	Source   string // camera device or video path
	SourceID string // content hash of a replayed file, empty for live devices
	Strategy string // tracer strategy
	Started  time.Time
}

// SessionSummary is a stored session with its totals.
type SessionSummary struct {
	SessionInfo
	Ended     *time.Time
	Frames    int
	Bails     int
	EndReason string
	MeanSpeed float64
}

// DecisionRecord is the per-frame trace persisted for later analysis.
type DecisionRecord struct {
	SessionID  string
	Frame      int
	State      string
	Direction  int
	Speed      int
	Depth      int
	RouteLen   int
	StopReason string
	Blocked    bool
	NoPath     bool
	Obstacles  int
	LatencyUS  int64
	RecordedAt time.Time
}

// Episode is one bail maneuver from FORWARD back to FORWARD.
type Episode struct {
	ID         int64
	SessionID  string
	StartFrame int
	EndFrame   *int
	BailRight  bool
	Reason     string
	EndReason  string
}
