package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/truckpilot/internal/annotate"
	"github.com/andresmejia3/truckpilot/internal/autopilot"
	"github.com/andresmejia3/truckpilot/internal/camera"
	"github.com/andresmejia3/truckpilot/internal/nav"
	"github.com/andresmejia3/truckpilot/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var replayOpts Options

var replayCmd = &cobra.Command{
	Use:         "replay",
	Short:       "Run the autopilot over a recorded video without driving",
	Annotations: map[string]string{needsDB: dbOptional},
	Run: func(cmd *cobra.Command, args []string) {
		runReplay(cmd.Context(), replayOpts)
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayOpts.Input, "input", "i", "", "Path to video")
	replayCmd.Flags().StringVarP(&replayOpts.Name, "name", "n", "", "Human readable session name")
	replayCmd.Flags().BoolVar(&replayOpts.Persist, "persist", false, "Store the session, decisions and bail episodes in PostgreSQL")
	replayCmd.Flags().BoolVarP(&replayOpts.DebugFrames, "debug-frames", "d", false, "Save annotated frames to telemetry.debug_dir")
	replayCmd.Flags().StringVarP(&replayOpts.Record, "output", "o", "", "Write an annotated video to this path")
	replayCmd.Flags().IntVar(&replayOpts.MaxFrames, "max-frames", 0, "Stop after this many frames (0 = whole video)")

	replayCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(replayCmd)
}

// runReplay streams a video through the pipeline and session with no vehicle attached.
func runReplay(ctx context.Context, opts Options) {
	// 1. Validate input & identify the video
	if _, err := os.Stat(opts.Input); err != nil {
		utils.Die("Input video not found", err, nil)
	}
	videoID, err := utils.GenerateVideoID(opts.Input)
	if err != nil {
		utils.Die("Failed to generate video ID", err, nil)
	}
	fmt.Fprintf(os.Stderr, "📼 Replaying Video ID: %s\n", videoID[:12])

	// 2. Pipeline
	pipeline, err := newPipeline(Cfg)
	if err != nil {
		utils.Die("Invalid tracer configuration", err, nil)
	}
	session := nav.NewSession(Cfg.Session)

	// 3. Decoder
	src, err := camera.Open(ctx, opts.Input, Cfg.Camera)
	if err != nil {
		utils.Die("Failed to start video decoder", err, nil)
	}

	// 4. Telemetry & outputs
	info := newSessionInfo("replay", opts.Input, opts.Name)
	info.SourceID = videoID
	recorder := startRecorder(ctx, info)
	render := annotate.DefaultOptions()
	debug, video := openDebugOutputs(ctx, opts, render)

	// 5. Progress bar (spinner when the frame count is unknown)
	total := utils.GetTotalFrames(opts.Input)
	if opts.MaxFrames > 0 && (total <= 0 || opts.MaxFrames < total) {
		total = opts.MaxFrames
	}
	if total <= 0 {
		total = -1
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🚚 Replaying"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	runOpts := autopilot.Options{
		Debug:     debug,
		Video:     video,
		Render:    render,
		StartMode: autopilot.ModeAutopilot,
		MaxFrames: opts.MaxFrames,
		Log:       Log.WithField("component", "autopilot"),
		OnFrame: func(int, nav.Decision, nav.Perception) {
			bar.Add(1)
		},
	}
	if recorder != nil {
		runOpts.Recorder = recorder
	}

	// 6. Run
	res, runErr := autopilot.Run(ctx, src, pipeline, session, runOpts)
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	if err := src.Close(); err != nil && runErr == nil && res.Reason != autopilot.EndCancelled {
		utils.ShowError("Video decoder exited with an error", err, src.Command())
	}
	finishOutputs(recorder, video, res, nil)

	switch {
	case errors.Is(runErr, nav.ErrStalled):
		fmt.Fprintf(os.Stderr, "⚠️  Replay stopped at frame %d: %v\n", res.Frames, runErr)
	case runErr != nil:
		utils.Die("Replay failed", runErr, src.Command())
	}
	printSummary(info, res)
	if opts.Record != "" {
		fmt.Printf("   Annotated video: %s\n", opts.Record)
	}
}
