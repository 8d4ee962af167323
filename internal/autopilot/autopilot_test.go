package autopilot

import (
	"context"
	"errors"
	"image"
	"io"
	"strings"
	"testing"

	"github.com/andresmejia3/truckpilot/internal/nav"
	"github.com/andresmejia3/truckpilot/internal/telemetry"
	"github.com/andresmejia3/truckpilot/internal/types"
	"github.com/andresmejia3/truckpilot/internal/vehicle"
	"github.com/andresmejia3/truckpilot/internal/vision"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testW = 160
	testH = 90
)

type sliceSource struct {
	frames []*vision.Frame
	next   int
}

func (s *sliceSource) Next() (*vision.Frame, error) {
	if s.next >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

func (s *sliceSource) Close() error { return nil }

type command struct {
	dir, speed int
}

type fakeCommander struct {
	applied []command
	stops   int
	failOn  map[int]error
}

func (c *fakeCommander) Apply(_ context.Context, dir, speed int) error {
	c.applied = append(c.applied, command{dir, speed})
	if err, ok := c.failOn[len(c.applied)]; ok {
		return err
	}
	return nil
}

func (c *fakeCommander) Stop(context.Context) error {
	c.stops++
	return nil
}

type fakeRecorder struct {
	decisions   []types.DecisionRecord
	transitions []nav.Transition
}

func (r *fakeRecorder) Decision(rec types.DecisionRecord) { r.decisions = append(r.decisions, rec) }
func (r *fakeRecorder) Transition(tr nav.Transition)      { r.transitions = append(r.transitions, tr) }

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func courseFrame() *vision.Frame {
	f := vision.NewFrame(testW, testH)
	f.Fill(f.Bounds(), 128, 128, 128)
	f.Fill(image.Rect(0, 0, 1, testH), 0, 153, 255)
	f.Fill(image.Rect(testW-1, 0, testW, testH), 0, 153, 255)
	return f
}

func blockedFrame() *vision.Frame {
	f := courseFrame()
	f.Fill(image.Rect(20, 54, 140, testH), 255, 60, 0)
	return f
}

func repeat(f *vision.Frame, n int) *sliceSource {
	src := &sliceSource{}
	for i := 0; i < n; i++ {
		src.frames = append(src.frames, f)
	}
	return src
}

func newPipeline(t *testing.T) *nav.Pipeline {
	t.Helper()
	tracer, err := nav.NewTracer(nav.DefaultTracerConfig())
	require.NoError(t, err)
	return nav.NewPipeline(vision.NewHSVSegmenter(vision.DefaultSegmenterConfig()), tracer, nav.NewEstimator(nav.DefaultEstimatorConfig()))
}

func TestRunDrivesUntilCameraEmpty(t *testing.T) {
	cmd := &fakeCommander{}
	rec := &fakeRecorder{}
	mon := telemetry.NewMonitor()

	res, err := Run(context.Background(), repeat(courseFrame(), 3), newPipeline(t), nav.NewSession(nav.DefaultSessionConfig()), Options{
		Commander: cmd,
		Recorder:  rec,
		Monitor:   mon,
		StartMode: ModeAutopilot,
		Log:       quietLogger(),
	})
	require.NoError(t, err)

	assert.Equal(t, EndCameraEmpty, res.Reason)
	assert.Equal(t, 3, res.Frames)
	assert.Equal(t, []command{{0, 100}, {0, 100}, {0, 100}}, cmd.applied)
	assert.Equal(t, 1, cmd.stops, "final stop on exit")
	assert.Equal(t, 100.0, res.MeanSpeed())

	require.Len(t, rec.decisions, 3)
	assert.Equal(t, 3, rec.decisions[2].Frame)
	assert.Equal(t, "FORWARD", rec.decisions[2].State)
	assert.Equal(t, testH, rec.decisions[2].RouteLen)

	st := mon.Snapshot()
	assert.Equal(t, 3, st.Frame)
	assert.Equal(t, "autopilot", st.Operator)
	assert.Equal(t, 100, st.Speed)
}

func TestRunIdleSendsNoDriveCommands(t *testing.T) {
	cmd := &fakeCommander{}
	s := nav.NewSession(nav.DefaultSessionConfig())

	res, err := Run(context.Background(), repeat(blockedFrame(), 10), newPipeline(t), s, Options{
		Commander: cmd,
		Log:       quietLogger(),
	})
	require.NoError(t, err)

	assert.Equal(t, 10, res.Frames)
	assert.Empty(t, cmd.applied)
	assert.Zero(t, res.Bails)
	assert.Equal(t, nav.StateForward, s.State(), "idle frames do not advance the session")
}

func TestRunOperatorCommands(t *testing.T) {
	cmd := &fakeCommander{}
	events := make(chan Command, 4)
	events <- CommandAutopilot

	res, err := Run(context.Background(), repeat(courseFrame(), 10), newPipeline(t), nav.NewSession(nav.DefaultSessionConfig()), Options{
		Commander: cmd,
		Events:    events,
		Log:       quietLogger(),
		OnFrame: func(frame int, _ nav.Decision, _ nav.Perception) {
			switch frame {
			case 2:
				events <- CommandManual
			case 3:
				events <- CommandQuit
			}
		},
	})
	require.NoError(t, err)

	assert.Equal(t, EndQuit, res.Reason)
	assert.Equal(t, 3, res.Frames)
	assert.Len(t, cmd.applied, 2, "manual falls back to idle")
	assert.Equal(t, 2, cmd.stops, "one stop on entering idle, one on exit")
}

func TestRunStalls(t *testing.T) {
	cfg := nav.DefaultSessionConfig()
	cfg.BailFrames = 1
	cfg.MaxEpisodeFrames = 2
	cfg.MaxRetries = 0
	cmd := &fakeCommander{}
	rec := &fakeRecorder{}
	mon := telemetry.NewMonitor()

	res, err := Run(context.Background(), repeat(blockedFrame(), 20), newPipeline(t), nav.NewSession(cfg), Options{
		Commander: cmd,
		Recorder:  rec,
		Monitor:   mon,
		StartMode: ModeAutopilot,
		Log:       quietLogger(),
	})
	require.True(t, errors.Is(err, nav.ErrStalled))

	assert.Equal(t, EndStalled, res.Reason)
	assert.Equal(t, 4, res.Frames)
	assert.Equal(t, 1, res.Bails)
	assert.Len(t, cmd.applied, 3, "no drive command on the stalled frame")
	assert.Equal(t, 1, cmd.stops)

	require.Len(t, rec.transitions, 3)
	assert.Equal(t, nav.StateBailBackup, rec.transitions[0].To)
	assert.Equal(t, "episode timeout", rec.transitions[1].Reason)
	assert.Equal(t, "stalled", rec.transitions[2].Reason)
	assert.True(t, mon.Snapshot().Stalled)
}

func TestRunContinuesAfterCommandError(t *testing.T) {
	cmd := &fakeCommander{failOn: map[int]error{
		2: &vehicle.CommandError{Channel: vehicle.ChannelDrive, Value: 100, Attempts: 3, Err: vehicle.ErrNoAck},
	}}

	res, err := Run(context.Background(), repeat(courseFrame(), 4), newPipeline(t), nav.NewSession(nav.DefaultSessionConfig()), Options{
		Commander: cmd,
		StartMode: ModeAutopilot,
		Log:       quietLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Frames)
	assert.Equal(t, 1, res.CommandErrors)
	assert.Len(t, cmd.applied, 4)
}

func TestRunFrameLimitAndCancel(t *testing.T) {
	res, err := Run(context.Background(), repeat(courseFrame(), 10), newPipeline(t), nav.NewSession(nav.DefaultSessionConfig()), Options{
		StartMode: ModeAutopilot,
		MaxFrames: 5,
		Log:       quietLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, EndFrameLimit, res.Reason)
	assert.Equal(t, 5, res.Frames)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err = Run(ctx, repeat(courseFrame(), 10), newPipeline(t), nav.NewSession(nav.DefaultSessionConfig()), Options{Log: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, EndCancelled, res.Reason)
	assert.Zero(t, res.Frames)
}

func TestParseKey(t *testing.T) {
	cases := map[rune]Command{
		'a': CommandAutopilot,
		'A': CommandAutopilot,
		'i': CommandIdle,
		's': CommandIdle,
		'm': CommandManual,
		'c': CommandCalibrate,
		'q': CommandQuit,
	}
	for key, want := range cases {
		got, ok := ParseKey(key)
		assert.True(t, ok, "key %q", key)
		assert.Equal(t, want, got, "key %q", key)
	}
	_, ok := ParseKey('z')
	assert.False(t, ok)
}

func TestReadConsole(t *testing.T) {
	out := make(chan Command, 8)
	var unknown []rune
	ReadConsole(context.Background(), strings.NewReader("a x\ns\nq\n"), out, func(r rune) { unknown = append(unknown, r) })
	close(out)

	var got []Command
	for c := range out {
		got = append(got, c)
	}
	assert.Equal(t, []Command{CommandAutopilot, CommandIdle, CommandQuit}, got)
	assert.Equal(t, []rune{'x'}, unknown)
}
