package nav

import (
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/truckpilot/internal/vision"
)

// ErrStalled is returned by the drive loop once the bail retry limit is exhausted.
var ErrStalled = errors.New("navigation stalled: bail retry limit reached")

// State is the navigation mode.
type State int

const (
	StateForward State = iota
	StateBailBackup
	StateBailTurn
)

func (s State) String() string {
	switch s {
	case StateForward:
		return "FORWARD"
	case StateBailBackup:
		return "BAIL_BACKUP"
	case StateBailTurn:
		return "BAIL_TURN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SessionConfig holds the hysteresis and bail maneuver settings.
type SessionConfig struct {
	BailFrames       int     `yaml:"bail_frames"`
	NoPathBailFrames int     `yaml:"no_path_bail_frames"`
	ClearRows        float64 `yaml:"clear_rows"`
	ClearFrames      int     `yaml:"clear_frames"`
	ExitOffset       float64 `yaml:"exit_offset"`
	ExitFrames       int     `yaml:"exit_frames"`
	ReverseSpeed     int     `yaml:"reverse_speed"`
	TurnSpeed        int     `yaml:"turn_speed"`
	TurnDirection    int     `yaml:"turn_direction"`
	MaxEpisodeFrames int     `yaml:"max_episode_frames"`
	RetryWindow      int     `yaml:"retry_window"`
	MaxRetries       int     `yaml:"max_retries"`
}

// DefaultSessionConfig returns the bail tuning used on the course.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		BailFrames:       5,
		NoPathBailFrames: 15,
		ClearRows:        0.4,
		ClearFrames:      1,
		ExitOffset:       0.25,
		ExitFrames:       1,
		ReverseSpeed:     -40,
		TurnSpeed:        -40,
		TurnDirection:    50,
		MaxEpisodeFrames: 300,
		RetryWindow:      30,
		MaxRetries:       3,
	}
}

// Validate checks the session tuning.
func (c SessionConfig) Validate() error {
	if c.BailFrames < 1 {
		return fmt.Errorf("bail_frames must be >= 1, got %d", c.BailFrames)
	}
	if c.ClearFrames < 1 || c.ExitFrames < 1 {
		return fmt.Errorf("clear_frames and exit_frames must be >= 1")
	}
	if c.NoPathBailFrames < 0 || c.MaxEpisodeFrames < 0 || c.RetryWindow < 0 || c.MaxRetries < 0 {
		return fmt.Errorf("frame limits must not be negative")
	}
	if c.ClearRows <= 0 || c.ClearRows > 1 {
		return fmt.Errorf("clear_rows must be within (0,1], got %v", c.ClearRows)
	}
	if c.ExitOffset < 0 || c.ExitOffset > 1 {
		return fmt.Errorf("exit_offset must be within [0,1], got %v", c.ExitOffset)
	}
	if c.ReverseSpeed > 0 || c.TurnSpeed > 0 || c.ReverseSpeed < -100 || c.TurnSpeed < -100 {
		return fmt.Errorf("reverse_speed and turn_speed must be within [-100,0]")
	}
	if c.TurnDirection < 0 || c.TurnDirection > 100 {
		return fmt.Errorf("turn_direction must be within [0,100], got %d", c.TurnDirection)
	}
	return nil
}

// Observation is what the session sees of one frame.
type Observation struct {
	Route    Route
	Estimate Estimate
	Obstacle *vision.Mask
}

// Transition is reported on the frame a state change happens.
type Transition struct {
	From      State
	To        State
	Reason    string
	BailRight bool
	Frame     int
}

// Decision is the command for one frame.
type Decision struct {
	Direction  int
	Speed      int
	Bail       bool
	State      State
	Stalled    bool
	Transition *Transition
}

// Session is the cross-frame navigation state. It is owned by a single control loop.
type Session struct {
	cfg SessionConfig

	state     State
	frame     int
	blockRun  int
	noPathRun int
	clearRun  int
	exitRun   int
	bailRight bool

	episodeStart int
	lastExit     int
	retries      int
	stalled      bool
}

// NewSession starts in FORWARD.
func NewSession(cfg SessionConfig) *Session {
	s := &Session{cfg: cfg}
	s.Reset()
	return s
}

// Reset returns to FORWARD and clears every counter, including a stall.
func (s *Session) Reset() {
	cfg := s.cfg
	*s = Session{cfg: cfg, lastExit: -1}
}

// State returns the current mode.
func (s *Session) State() State { return s.state }

// Stalled reports whether the retry limit was hit.
func (s *Session) Stalled() bool { return s.stalled }

// BailRight reports the latched bail side while bailing.
func (s *Session) BailRight() (right, bailing bool) {
	return s.bailRight, s.state != StateForward
}

// Step advances one frame and returns the command to send.
func (s *Session) Step(obs Observation) Decision {
	s.frame++
	if s.stalled {
		return Decision{State: s.state, Bail: true, Stalled: true}
	}

	var tr *Transition
	switch s.state {
	case StateForward:
		tr = s.stepForward(obs)
	case StateBailBackup:
		switch {
		case s.episodeExpired():
			tr = s.finishEpisode("episode timeout")
		case lowerClear(obs.Obstacle, s.cfg.ClearRows):
			s.clearRun++
			if s.clearRun >= s.cfg.ClearFrames {
				tr = s.enter(StateBailTurn, "lower frame clear")
			}
		default:
			s.clearRun = 0
		}
	case StateBailTurn:
		switch {
		case s.episodeExpired():
			tr = s.finishEpisode("episode timeout")
		case exitClear(obs.Obstacle, s.bailRight, s.cfg.ExitOffset):
			s.exitRun++
			if s.exitRun >= s.cfg.ExitFrames {
				tr = s.finishEpisode("obstacle cleared")
			}
		default:
			s.exitRun = 0
		}
	}

	var d Decision
	if s.stalled {
		d = Decision{State: s.state, Bail: true, Stalled: true}
	} else {
		d = s.command(obs.Estimate)
	}
	d.Transition = tr
	return d
}

func (s *Session) stepForward(obs Observation) *Transition {
	if b := obs.Route.Block; b != nil {
		s.blockRun++
		s.noPathRun = 0
		if s.blockRun >= s.cfg.BailFrames {
			return s.beginBail(b.BailRight, "hard block")
		}
		return nil
	}
	s.blockRun = 0

	if obs.Estimate.NoPath && obs.Estimate.Collision {
		s.noPathRun++
		if s.cfg.NoPathBailFrames > 0 && s.noPathRun >= s.cfg.NoPathBailFrames {
			return s.beginBail(true, "no path")
		}
		return nil
	}
	s.noPathRun = 0
	return nil
}

func (s *Session) beginBail(right bool, reason string) *Transition {
	if s.lastExit >= 0 && s.frame-s.lastExit <= s.cfg.RetryWindow {
		s.retries++
	} else {
		s.retries = 0
	}
	if s.retries > s.cfg.MaxRetries {
		s.stalled = true
		return &Transition{From: s.state, To: s.state, Reason: "stalled", BailRight: right, Frame: s.frame}
	}
	s.bailRight = right
	s.episodeStart = s.frame
	return s.enter(StateBailBackup, reason)
}

func (s *Session) finishEpisode(reason string) *Transition {
	tr := s.enter(StateForward, reason)
	s.lastExit = s.frame
	s.bailRight = false
	return tr
}

func (s *Session) enter(next State, reason string) *Transition {
	tr := &Transition{From: s.state, To: next, Reason: reason, BailRight: s.bailRight, Frame: s.frame}
	s.state = next
	s.blockRun, s.noPathRun, s.clearRun, s.exitRun = 0, 0, 0, 0
	return tr
}

func (s *Session) episodeExpired() bool {
	return s.cfg.MaxEpisodeFrames > 0 && s.frame-s.episodeStart >= s.cfg.MaxEpisodeFrames
}

func (s *Session) command(est Estimate) Decision {
	switch s.state {
	case StateBailBackup:
		return Decision{Speed: s.cfg.ReverseSpeed, State: s.state, Bail: true}
	case StateBailTurn:
		// Reversing with the wheels away from the exit swings the nose toward it.
		dir := s.cfg.TurnDirection
		if s.bailRight {
			dir = -dir
		}
		return Decision{Speed: s.cfg.TurnSpeed, Direction: dir, State: s.state, Bail: true}
	default:
		return Decision{Speed: est.Speed, Direction: est.Direction, State: s.state}
	}
}

// lowerClear reports whether the bottom frac of the obstacle mask is empty.
func lowerClear(obstacle *vision.Mask, frac float64) bool {
	if obstacle == nil {
		return true
	}
	h := obstacle.Height
	y0 := h - int(math.Round(frac*float64(h)))
	return obstacle.CountRows(y0, h) == 0
}

// exitClear scans up from the bottom for the first row with obstacle pixels and checks that
// the obstacle's exit-facing boundary has moved far enough to the other side of center.
func exitClear(obstacle *vision.Mask, bailRight bool, offset float64) bool {
	if obstacle == nil {
		return true
	}
	w := obstacle.Width
	mid := w / 2
	shift := int(math.Round(offset * float64(w/2)))
	for y := obstacle.Height - 1; y >= 0; y-- {
		lo, hi := -1, -1
		for x := 0; x < w; x++ {
			if obstacle.At(x, y) {
				if lo < 0 {
					lo = x
				}
				hi = x
			}
		}
		if lo < 0 {
			continue
		}
		if bailRight {
			return hi < mid-shift
		}
		return lo > mid+shift
	}
	return true
}
