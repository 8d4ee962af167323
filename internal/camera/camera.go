// Package camera produces vision frames from a V4L2 device, a video file or still images.
package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/truckpilot/internal/utils"
	"github.com/andresmejia3/truckpilot/internal/vision"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// Source yields frames until it returns io.EOF.
type Source interface {
	Next() (*vision.Frame, error)
	Close() error
}

const (
	FormatRaw   = "rawvideo"
	FormatMJPEG = "mjpeg"
)

// Config selects the capture device and the working resolution.
type Config struct {
	Device string `yaml:"device"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
	Format string `yaml:"format"`
}

func DefaultConfig() Config {
	return Config{Device: "/dev/video0", Width: 160, Height: 90, FPS: 30, Format: FormatRaw}
}

func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("camera size must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("camera fps must be > 0, got %d", c.FPS)
	}
	if c.Format != FormatRaw && c.Format != FormatMJPEG {
		return fmt.Errorf("camera format must be %s or %s, got %q", FormatRaw, FormatMJPEG, c.Format)
	}
	return nil
}

// IsDevice reports whether input names a V4L2 capture device rather than a file.
func IsDevice(input string) bool {
	return strings.HasPrefix(input, "/dev/video")
}

// FFmpegSource decodes frames through an ffmpeg subprocess.
type FFmpegSource struct {
	cmd    *utils.SafeCommand
	out    io.ReadCloser
	width  int
	height int
	buf    []byte
	jpegs  *bufio.Scanner
}

// Open starts ffmpeg on input, a device path or a video file, using cfg for size, rate and format.
func Open(ctx context.Context, input string, cfg Config) (*FFmpegSource, error) {
	device := IsDevice(input)
	var cmd *utils.SafeCommand
	if cfg.Format == FormatMJPEG {
		cmd = utils.NewFFmpegMJPEGDecoder(ctx, input, device, cfg.FPS, cfg.Width, cfg.Height)
	} else {
		cmd = utils.NewFFmpegRawDecoder(ctx, input, device, cfg.FPS, cfg.Width, cfg.Height)
	}

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("decoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start decoder: %w", err)
	}

	s := &FFmpegSource{cmd: cmd, out: out, width: cfg.Width, height: cfg.Height}
	if cfg.Format == FormatMJPEG {
		s.jpegs = bufio.NewScanner(out)
		s.jpegs.Buffer(make([]byte, 0, 256*1024), 16*1024*1024)
		s.jpegs.Split(utils.SplitJpeg)
	} else {
		s.buf = make([]byte, cfg.Width*cfg.Height*3)
	}
	return s, nil
}

// Next returns the next frame, or io.EOF once the stream ends.
func (s *FFmpegSource) Next() (*vision.Frame, error) {
	if s.jpegs != nil {
		if !s.jpegs.Scan() {
			if err := s.jpegs.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		img, err := jpeg.Decode(bytes.NewReader(s.jpegs.Bytes()))
		if err != nil {
			return nil, fmt.Errorf("decode jpeg: %w", err)
		}
		return vision.FrameFromImage(img), nil
	}

	if _, err := io.ReadFull(s.out, s.buf); err != nil {
		// A partial trailing frame is treated as the end of the stream.
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	pix := make([]uint8, len(s.buf))
	copy(pix, s.buf)
	return vision.FrameFromRGB(s.width, s.height, pix)
}

// Command exposes the decoder process so its captured stderr can be reported.
func (s *FFmpegSource) Command() *utils.SafeCommand {
	return s.cmd
}

// Close stops the decoder. A decoder killed by cancellation is not an error.
func (s *FFmpegSource) Close() error {
	s.out.Close()
	if s.cmd == nil {
		return nil
	}
	err := s.cmd.Wait()
	if err != nil && s.cmd.ProcessState != nil && !s.cmd.ProcessState.Exited() {
		return nil
	}
	return err
}

// ImageSource serves still images in order, scaled to a fixed size when one is set.
type ImageSource struct {
	paths  []string
	next   int
	width  int
	height int
}

// NewImageSource reads paths lazily. Width and height of 0 keep each image's own size.
func NewImageSource(paths []string, width, height int) *ImageSource {
	return &ImageSource{paths: paths, width: width, height: height}
}

func (s *ImageSource) Next() (*vision.Frame, error) {
	if s.next >= len(s.paths) {
		return nil, io.EOF
	}
	path := s.paths[s.next]
	s.next++

	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	if s.width > 0 && s.height > 0 && img.Bounds().Size() != image.Pt(s.width, s.height) {
		img = Scale(img, s.width, s.height)
	}
	return vision.FrameFromImage(img), nil
}

func (s *ImageSource) Close() error { return nil }

// LoadImage decodes a JPEG, PNG or BMP file.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Scale resamples img to width x height.
func Scale(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
