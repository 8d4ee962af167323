package cmd

import (
	"fmt"
	"image"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/truckpilot/internal/camera"
	"github.com/andresmejia3/truckpilot/internal/utils"
	"github.com/andresmejia3/truckpilot/internal/vision"
	"github.com/spf13/cobra"
)

type calibrateOptions struct {
	ImagePath string
	Rect      []int
	Class     string
	Margin    int
	WritePath string
	Native    bool
}

var calibrateOpts calibrateOptions

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Inspect segmentation of a still image and suggest HSV thresholds",
	Long:  "Segments a still image with the current calibration, lists what was found and samples the HSV range of a rectangle. With --class and --write the sampled band is saved into a new calibration file.",
	Run: func(cmd *cobra.Command, args []string) {
		runCalibrate(calibrateOpts)
	},
}

func init() {
	calibrateCmd.Flags().StringVarP(&calibrateOpts.ImagePath, "image", "i", "", "Still image (JPEG, PNG or BMP)")
	calibrateCmd.Flags().IntSliceVar(&calibrateOpts.Rect, "rect", nil, "Sample rectangle x0,y0,x1,y1 in working-resolution pixels")
	calibrateCmd.Flags().StringVar(&calibrateOpts.Class, "class", "", "Band to replace with the sample (edge or obstacle)")
	calibrateCmd.Flags().IntVar(&calibrateOpts.Margin, "margin", 6, "Widen the suggested band by this much on every axis")
	calibrateCmd.Flags().StringVarP(&calibrateOpts.WritePath, "write", "w", "", "Write the resulting calibration as YAML to this path")
	calibrateCmd.Flags().BoolVar(&calibrateOpts.Native, "native", false, "Keep the image size instead of scaling to the camera resolution")

	calibrateCmd.MarkFlagRequired("image")
	rootCmd.AddCommand(calibrateCmd)
}

func runCalibrate(opts calibrateOptions) {
	// 1. Load the frame at the resolution the pipeline sees
	w, h := Cfg.Camera.Width, Cfg.Camera.Height
	if opts.Native {
		w, h = 0, 0
	}
	f, err := camera.NewImageSource([]string{opts.ImagePath}, w, h).Next()
	if err != nil {
		utils.Die("Failed to load image", err, nil)
	}

	// 2. Segment & trace with the current calibration
	pipeline, err := newPipeline(Cfg)
	if err != nil {
		utils.Die("Invalid tracer configuration", err, nil)
	}
	per := pipeline.Perceive(f)

	fmt.Printf("🖼️  %s (%dx%d)\n", opts.ImagePath, f.Width, f.Height)
	total := f.Width * f.Height
	edge, obstacle := per.Edge.Count(), per.Obstacle.Count()
	fmt.Printf("   edge:       %6d px (%.1f%%)\n", edge, percent(edge, total))
	fmt.Printf("   obstacle:   %6d px (%.1f%%)\n", obstacle, percent(obstacle, total))
	fmt.Printf("   background: %6d px (%.1f%%)\n", total-edge-obstacle, percent(total-edge-obstacle, total))
	fmt.Printf("   route: %d rows, stop %s at row %d, direction %d, speed %d\n",
		len(per.Route.Entries), per.Route.Stop, per.Route.StopRow, per.Estimate.Direction, per.Estimate.Speed)

	if len(per.Components) > 0 {
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(tw, "\nCLASS\tAREA\tBOX\tCENTROID")
		fmt.Fprintln(tw, "-----\t----\t---\t--------")
		for _, c := range per.Components {
			fmt.Fprintf(tw, "%s\t%d\t%v\t(%.1f, %.1f)\n", c.Class, c.Area, c.Bounds(), c.CX, c.CY)
		}
		tw.Flush()
	}

	// 3. Sample a rectangle
	if len(opts.Rect) == 0 {
		return
	}
	if len(opts.Rect) != 4 {
		utils.Die("Invalid --rect", fmt.Errorf("want x0,y0,x1,y1, got %d values", len(opts.Rect)), nil)
	}
	rect := image.Rect(opts.Rect[0], opts.Rect[1], opts.Rect[2], opts.Rect[3])
	st := vision.SampleHSV(f, rect, Cfg.Vision.SwapRB)
	if st.Pixels == 0 {
		utils.Die("Empty sample", fmt.Errorf("%v does not overlap the %dx%d frame", rect, f.Width, f.Height), nil)
	}
	fmt.Printf("\n🎯 Sample %v, %d px\n", rect.Intersect(f.Bounds()), st.Pixels)
	fmt.Printf("   H min %3d  max %3d  mean %6.1f\n", st.Min[0], st.Max[0], st.Mean[0])
	fmt.Printf("   S min %3d  max %3d  mean %6.1f\n", st.Min[1], st.Max[1], st.Mean[1])
	fmt.Printf("   V min %3d  max %3d  mean %6.1f\n", st.Min[2], st.Max[2], st.Mean[2])

	band := vision.BandFromStats(st, opts.Margin)
	fmt.Printf("   suggested band: hue %d ±%d, sat >= %d, val >= %d\n", band.Hue, band.HueRange, band.SatMin, band.ValMin)

	// 4. Optionally store it
	switch opts.Class {
	case "":
	case "edge":
		Cfg.Vision.Edge = band
	case "obstacle":
		Cfg.Vision.Obstacle = band
	default:
		utils.Die("Invalid --class", fmt.Errorf("want edge or obstacle, got %q", opts.Class), nil)
	}
	if opts.WritePath == "" {
		return
	}
	if err := Cfg.Validate(); err != nil {
		utils.Die("Suggested calibration is invalid", err, nil)
	}
	data, err := Cfg.Marshal()
	if err != nil {
		utils.Die("Failed to encode calibration", err, nil)
	}
	if err := os.WriteFile(opts.WritePath, data, 0644); err != nil {
		utils.Die("Failed to write calibration", err, nil)
	}
	fmt.Printf("✅ Calibration written to %s\n", opts.WritePath)
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(total)
}
