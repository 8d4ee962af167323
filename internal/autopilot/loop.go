// Package autopilot runs the synchronous capture, perceive, decide, command cycle.
package autopilot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/andresmejia3/truckpilot/internal/annotate"
	"github.com/andresmejia3/truckpilot/internal/camera"
	"github.com/andresmejia3/truckpilot/internal/nav"
	"github.com/andresmejia3/truckpilot/internal/telemetry"
	"github.com/andresmejia3/truckpilot/internal/types"
	"github.com/andresmejia3/truckpilot/internal/vehicle"
	"github.com/andresmejia3/truckpilot/internal/vision"
	"github.com/sirupsen/logrus"
)

// Why a run ended.
const (
	EndCameraEmpty = "camera empty"
	EndCancelled   = "cancelled"
	EndQuit        = "operator quit"
	EndStalled     = "stalled"
	EndFrameLimit  = "frame limit"
)

// Commander delivers decisions to the vehicle. *vehicle.Mapper implements it.
type Commander interface {
	Apply(ctx context.Context, direction, speed int) error
	Stop(ctx context.Context) error
}

// Recorder receives the per-frame trace. *telemetry.Recorder implements it.
type Recorder interface {
	Decision(rec types.DecisionRecord)
	Transition(tr nav.Transition)
}

// Mode is the operator-selected driving mode.
type Mode int

const (
	ModeIdle Mode = iota
	ModeAutopilot
)

func (m Mode) String() string {
	if m == ModeAutopilot {
		return "autopilot"
	}
	return "idle"
}

// Options wires the optional outputs of a run. Only Log is required.
type Options struct {
	Commander Commander
	Recorder  Recorder
	Monitor   *telemetry.Monitor
	Debug     *annotate.DebugWriter
	Video     *annotate.VideoRecorder
	Render    annotate.Options
	Events    <-chan Command
	StartMode Mode
	MaxFrames int
	Log       logrus.FieldLogger
	// OnFrame is called after every processed frame, e.g. to advance a progress bar.
	OnFrame func(frame int, d nav.Decision, per nav.Perception)
}

// Result summarises a finished run.
type Result struct {
	Frames        int
	Bails         int
	CommandErrors int
	SpeedSum      int
	Reason        string
}

// MeanSpeed is the average commanded speed over all frames.
func (r Result) MeanSpeed() float64 {
	if r.Frames == 0 {
		return 0
	}
	return float64(r.SpeedSum) / float64(r.Frames)
}

// Run processes frames until the source is empty, ctx is cancelled, the operator quits or the
// session stalls. A stop command is always sent on the way out when a Commander is set.
func Run(ctx context.Context, src camera.Source, p *nav.Pipeline, s *nav.Session, opts Options) (Result, error) {
	log := opts.Log
	mode := opts.StartMode
	var res Result

	defer func() {
		if opts.Commander == nil {
			return
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := opts.Commander.Stop(stopCtx); err != nil {
			log.WithError(err).Warn("final stop command failed")
		}
	}()

	for {
		if ctx.Err() != nil {
			res.Reason = EndCancelled
			return res, nil
		}

		var quit bool
		mode, quit = drainEvents(ctx, opts, mode, log)
		if quit {
			res.Reason = EndQuit
			return res, nil
		}

		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			res.Reason = EndCameraEmpty
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("frame %d: %w", res.Frames+1, err)
		}

		start := time.Now()
		res.Frames++

		var d nav.Decision
		var per nav.Perception
		if mode == ModeAutopilot {
			d, per = p.Process(f, s)
		} else {
			per = p.Perceive(f)
			d = nav.Decision{State: s.State()}
		}

		if tr := d.Transition; tr != nil {
			log.WithFields(logrus.Fields{
				"frame":      res.Frames,
				"from":       tr.From.String(),
				"to":         tr.To.String(),
				"bail_right": tr.BailRight,
			}).Info(tr.Reason)
			if tr.From == nav.StateForward && tr.To == nav.StateBailBackup {
				res.Bails++
			}
			if opts.Recorder != nil {
				rec := *tr
				rec.Frame = res.Frames
				opts.Recorder.Transition(rec)
			}
		}

		if opts.Commander != nil && mode == ModeAutopilot && !d.Stalled {
			if err := opts.Commander.Apply(ctx, d.Direction, d.Speed); err != nil {
				var cmdErr *vehicle.CommandError
				if !errors.As(err, &cmdErr) {
					res.Reason = EndCancelled
					return res, nil
				}
				res.CommandErrors++
				log.WithError(err).Warn("command skipped")
			}
		}
		res.SpeedSum += d.Speed

		latency := time.Since(start)
		if opts.Recorder != nil {
			opts.Recorder.Decision(decisionRecord(res.Frames, d, per, latency))
		}
		if opts.Monitor != nil {
			opts.Monitor.Update(func(st *telemetry.Status) {
				st.Operator = mode.String()
				st.Frame = res.Frames
				st.State = d.State.String()
				st.Direction = d.Direction
				st.Speed = d.Speed
				st.Depth = per.Estimate.Depth
				st.StopReason = per.Route.Stop.String()
				st.Bail = d.Bail
				st.Stalled = d.Stalled
				st.Bails = res.Bails
				st.CommandErrors = res.CommandErrors
				if latency > 0 {
					st.FPS = float64(time.Second) / float64(latency)
				}
			})
		}
		if err := writeDebug(opts, res.Frames, f, per, d); err != nil {
			log.WithError(err).Warn("debug output failed")
		}
		if opts.OnFrame != nil {
			opts.OnFrame(res.Frames, d, per)
		}

		if d.Stalled {
			res.Reason = EndStalled
			return res, nav.ErrStalled
		}
		if opts.MaxFrames > 0 && res.Frames >= opts.MaxFrames {
			res.Reason = EndFrameLimit
			return res, nil
		}
	}
}

func drainEvents(ctx context.Context, opts Options, mode Mode, log logrus.FieldLogger) (Mode, bool) {
	for {
		select {
		case cmd, ok := <-opts.Events:
			if !ok {
				return mode, false
			}
			switch cmd {
			case CommandQuit:
				return mode, true
			case CommandAutopilot:
				mode = ModeAutopilot
			case CommandIdle:
				mode = idle(ctx, opts, log)
			default:
				log.Warnf("%s mode is not available while driving, switching to idle", cmd)
				mode = idle(ctx, opts, log)
			}
			log.Infof("operator mode: %s", mode)
		default:
			return mode, false
		}
	}
}

func idle(ctx context.Context, opts Options, log logrus.FieldLogger) Mode {
	if opts.Commander != nil {
		if err := opts.Commander.Stop(ctx); err != nil {
			log.WithError(err).Warn("stop command failed")
		}
	}
	return ModeIdle
}

func writeDebug(opts Options, frame int, f *vision.Frame, per nav.Perception, d nav.Decision) error {
	if opts.Debug == nil && opts.Video == nil {
		return nil
	}
	img := annotate.Render(f, per, d, opts.Render)
	if opts.Debug != nil && opts.Debug.Due(frame) {
		if _, err := opts.Debug.Write(frame, img); err != nil {
			return err
		}
	}
	if opts.Video != nil {
		return opts.Video.Write(img)
	}
	return nil
}

func decisionRecord(frame int, d nav.Decision, per nav.Perception, latency time.Duration) types.DecisionRecord {
	obstacles := 0
	for _, c := range per.Components {
		if c.Class == vision.ClassObstacle {
			obstacles++
		}
	}
	return types.DecisionRecord{
		Frame:      frame,
		State:      d.State.String(),
		Direction:  d.Direction,
		Speed:      d.Speed,
		Depth:      per.Estimate.Depth,
		RouteLen:   len(per.Route.Entries),
		StopReason: per.Route.Stop.String(),
		Blocked:    per.Route.Block != nil,
		NoPath:     per.Estimate.NoPath,
		Obstacles:  obstacles,
		LatencyUS:  latency.Microseconds(),
		RecordedAt: time.Now(),
	}
}
