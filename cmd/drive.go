package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/andresmejia3/truckpilot/internal/annotate"
	"github.com/andresmejia3/truckpilot/internal/autopilot"
	"github.com/andresmejia3/truckpilot/internal/camera"
	"github.com/andresmejia3/truckpilot/internal/config"
	"github.com/andresmejia3/truckpilot/internal/nav"
	"github.com/andresmejia3/truckpilot/internal/store"
	"github.com/andresmejia3/truckpilot/internal/telemetry"
	"github.com/andresmejia3/truckpilot/internal/types"
	"github.com/andresmejia3/truckpilot/internal/utils"
	"github.com/andresmejia3/truckpilot/internal/vehicle"
	"github.com/andresmejia3/truckpilot/internal/vision"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Options holds the flags shared by drive and replay
type Options struct {
	Input       string
	Name        string
	Persist     bool
	DebugFrames bool
	Record      string
	MaxFrames   int
}

type driveOptions struct {
	Options
	Port       string
	DryRun     bool
	StatusAddr string
	Autopilot  bool
	Handshake  bool
	Console    bool
}

var driveOpts driveOptions

var driveCmd = &cobra.Command{
	Use:         "drive",
	Short:       "Drive the truck from the live camera",
	Long:        "Runs the perception and control loop on a camera device (or a video file) and sends commands to the motor controller. Type a/i/s/m/c/q + Enter on stdin to switch modes.",
	Annotations: map[string]string{needsDB: dbOptional},
	Run: func(cmd *cobra.Command, args []string) {
		runDrive(cmd.Context(), driveOpts)
	},
}

func init() {
	driveCmd.Flags().StringVarP(&driveOpts.Input, "input", "i", "", "Camera device or video file (default: camera.device from config)")
	driveCmd.Flags().StringVarP(&driveOpts.Port, "port", "p", "", "Serial device of the motor controller (default: vehicle.device from config)")
	driveCmd.Flags().BoolVar(&driveOpts.DryRun, "dry-run", false, "Acknowledge commands locally instead of opening the serial port")
	driveCmd.Flags().BoolVar(&driveOpts.Persist, "persist", false, "Store the session, decisions and bail episodes in PostgreSQL")
	driveCmd.Flags().StringVarP(&driveOpts.Name, "name", "n", "", "Human readable session name")
	driveCmd.Flags().StringVar(&driveOpts.StatusAddr, "status-addr", "", "Serve live status on this address (default: telemetry.status_addr from config, \"off\" disables)")
	driveCmd.Flags().BoolVarP(&driveOpts.DebugFrames, "debug-frames", "d", false, "Save annotated frames to telemetry.debug_dir")
	driveCmd.Flags().StringVarP(&driveOpts.Record, "record", "r", "", "Write an annotated video to this path")
	driveCmd.Flags().BoolVarP(&driveOpts.Autopilot, "autopilot", "a", false, "Start in autopilot instead of idle")
	driveCmd.Flags().BoolVar(&driveOpts.Handshake, "handshake", true, "Identify with the controller before driving")
	driveCmd.Flags().BoolVar(&driveOpts.Console, "console", true, "Read operator keys from stdin")
	driveCmd.Flags().IntVar(&driveOpts.MaxFrames, "max-frames", 0, "Stop after this many frames (0 = unlimited)")
	rootCmd.AddCommand(driveCmd)
}

// runDrive wires camera, pipeline, vehicle and telemetry and runs the control loop until it ends.
func runDrive(ctx context.Context, opts driveOptions) {
	input := opts.Input
	if input == "" {
		input = Cfg.Camera.Device
	}

	// 1. Perception and navigation
	pipeline, err := newPipeline(Cfg)
	if err != nil {
		utils.Die("Invalid tracer configuration", err, nil)
	}
	session := nav.NewSession(Cfg.Session)

	// 2. Vehicle link
	port, err := openPort(opts)
	if err != nil {
		utils.Die("Failed to open motor controller", err, nil)
	}
	defer port.Close()
	mapper := vehicle.NewMapper(port, Cfg.Vehicle, Log.WithField("component", "vehicle"))
	if opts.Handshake && opts.DryRun {
		Log.Info("dry run: skipping controller handshake")
	}
	if handshakeNeeded(opts) {
		if _, err := mapper.Handshake(ctx); err != nil {
			utils.Die("Controller handshake failed", err, nil)
		}
	}

	// 3. Camera
	src, err := camera.Open(ctx, input, Cfg.Camera)
	if err != nil {
		utils.Die("Failed to start camera decoder", err, nil)
	}

	// 4. Telemetry
	info := newSessionInfo("drive", input, opts.Name)
	monitor := telemetry.NewMonitor()
	monitor.Update(func(st *telemetry.Status) {
		st.SessionID = info.ID
		st.Mode = info.Mode
	})
	if addr := statusAddr(opts.StatusAddr); addr != "" {
		telemetry.Serve(ctx, addr, monitor, Log.WithField("component", "status"))
	}
	recorder := startRecorder(ctx, info)

	// 5. Debug outputs
	render := annotate.DefaultOptions()
	debug, video := openDebugOutputs(ctx, opts.Options, render)

	// 6. Operator console
	events := make(chan autopilot.Command, 8)
	if opts.Console {
		fmt.Fprintln(os.Stderr, "🕹️  Keys: a=autopilot  i/s=idle  m=manual  c=calibrate  q=quit  (then Enter)")
		go autopilot.ReadConsole(ctx, os.Stdin, events, func(r rune) {
			Log.Warnf("unknown key %q", r)
		})
	}

	startMode := autopilot.ModeIdle
	if opts.Autopilot {
		startMode = autopilot.ModeAutopilot
	}
	Log.WithFields(logrus.Fields{
		"session": info.ID,
		"input":   input,
		"mode":    startMode.String(),
	}).Info("drive started")

	// 7. Control loop
	runOpts := autopilot.Options{
		Commander: mapper,
		Monitor:   monitor,
		Debug:     debug,
		Video:     video,
		Render:    render,
		Events:    events,
		StartMode: startMode,
		MaxFrames: opts.MaxFrames,
		Log:       Log.WithField("component", "autopilot"),
	}
	if recorder != nil {
		runOpts.Recorder = recorder
	}
	res, runErr := autopilot.Run(ctx, src, pipeline, session, runOpts)

	// 8. Teardown
	if err := src.Close(); err != nil && runErr == nil && res.Reason != autopilot.EndCancelled {
		utils.ShowError("Camera decoder exited with an error", err, src.Command())
	}
	finishOutputs(recorder, video, res, monitor)

	switch {
	case errors.Is(runErr, nav.ErrStalled):
		Log.WithError(runErr).Error("drive stopped; reset the session to continue")
	case runErr != nil:
		utils.Die("Drive loop failed", runErr, src.Command())
	}
	printSummary(info, res)
}

func newPipeline(cfg *config.Config) (*nav.Pipeline, error) {
	tracer, err := nav.NewTracer(cfg.Tracer)
	if err != nil {
		return nil, err
	}
	return nav.NewPipeline(vision.NewHSVSegmenter(cfg.Vision), tracer, nav.NewEstimator(cfg.Estimator)), nil
}

func openPort(opts driveOptions) (vehicle.Port, error) {
	if opts.DryRun {
		Log.Info("dry run: commands are acknowledged locally")
		return vehicle.NewDryRunPort(), nil
	}
	device := opts.Port
	if device == "" {
		device = Cfg.Vehicle.Device
	}
	port, err := vehicle.OpenSerial(device, Cfg.Vehicle.Baud)
	if err != nil {
		if ports, listErr := vehicle.ListPorts(); listErr == nil && len(ports) > 0 {
			return nil, fmt.Errorf("%w (available: %s)", err, strings.Join(ports, ", "))
		}
		return nil, err
	}
	return port, nil
}

// handshakeNeeded is false for dry runs; the local port never identifies itself.
func handshakeNeeded(opts driveOptions) bool {
	return opts.Handshake && !opts.DryRun
}

func statusAddr(flag string) string {
	switch flag {
	case "off":
		return ""
	case "":
		return Cfg.Telemetry.StatusAddr
	default:
		return flag
	}
}

func newSessionInfo(mode, source, name string) types.SessionInfo {
	return types.SessionInfo{
		ID:       store.NewSessionID(),
		Name:     name,
		Mode:     mode,
		Source:   source,
		Strategy: Cfg.Tracer.Strategy,
		Started:  time.Now(),
	}
}

// startRecorder returns nil when persistence is off or the session cannot be registered.
func startRecorder(ctx context.Context, info types.SessionInfo) *telemetry.Recorder {
	if DB == nil {
		return nil
	}
	recorder := telemetry.NewRecorder(DB, info, Log.WithField("component", "recorder"), telemetry.RecorderOptions{
		Buffer:        Cfg.Telemetry.Buffer,
		BatchSize:     Cfg.Telemetry.BatchSize,
		FlushInterval: telemetry.DefaultRecorderOptions().FlushInterval,
	})
	if err := recorder.Start(ctx); err != nil {
		Log.WithError(err).Warn("session will not be persisted")
		return nil
	}
	return recorder
}

func openDebugOutputs(ctx context.Context, opts Options, render annotate.Options) (*annotate.DebugWriter, *annotate.VideoRecorder) {
	var debug *annotate.DebugWriter
	if opts.DebugFrames {
		var err error
		debug, err = annotate.NewDebugWriter(Cfg.Telemetry.DebugDir, Cfg.Telemetry.DebugEvery)
		if err != nil {
			utils.Die("Failed to prepare debug frame directory", err, nil)
		}
		fmt.Fprintf(os.Stderr, "📸 Debug frames: %s (every %d frames)\n", Cfg.Telemetry.DebugDir, Cfg.Telemetry.DebugEvery)
	}

	var video *annotate.VideoRecorder
	if opts.Record != "" {
		scale := render.Scale
		if scale < 1 {
			scale = 1
		}
		var err error
		video, err = annotate.NewVideoRecorder(ctx, opts.Record, Cfg.Camera.FPS, Cfg.Camera.Width*scale, Cfg.Camera.Height*scale)
		if err != nil {
			utils.Die("Failed to start video encoder", err, nil)
		}
	}
	return debug, video
}

func finishOutputs(recorder *telemetry.Recorder, video *annotate.VideoRecorder, res autopilot.Result, monitor *telemetry.Monitor) {
	if video != nil {
		if err := video.Close(); err != nil {
			utils.ShowError("Video encoder failed", err, video.Command())
		}
	}
	if recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := recorder.Close(ctx, res.Frames, res.Bails, res.Reason); err != nil {
			Log.WithError(err).Warn("failed to finish session record")
		}
		if monitor != nil {
			monitor.Update(func(st *telemetry.Status) { st.Dropped = recorder.Dropped() })
		}
	}
}

func printSummary(info types.SessionInfo, res autopilot.Result) {
	fmt.Printf("\n✅ Session %s finished: %s\n", info.ID[:8], res.Reason)
	fmt.Printf("   Frames:         %d\n", res.Frames)
	fmt.Printf("   Bail episodes:  %d\n", res.Bails)
	fmt.Printf("   Mean speed:     %.1f\n", res.MeanSpeed())
	if res.CommandErrors > 0 {
		fmt.Printf("   Command errors: %d\n", res.CommandErrors)
	}
}
