package annotate

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"

	"github.com/andresmejia3/truckpilot/internal/utils"
)

// DebugWriter saves every Nth annotated frame as a JPEG.
type DebugWriter struct {
	dir     string
	every   int
	quality int
}

// NewDebugWriter creates dir if needed. every < 1 saves every frame.
func NewDebugWriter(dir string, every int) (*DebugWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create debug dir: %w", err)
	}
	if every < 1 {
		every = 1
	}
	return &DebugWriter{dir: dir, every: every, quality: 85}, nil
}

// Due reports whether frame index should be written.
func (w *DebugWriter) Due(index int) bool {
	return index%w.every == 0
}

// Write stores img as frame_<index>.jpg and returns the path.
func (w *DebugWriter) Write(index int, img image.Image) (string, error) {
	path := filepath.Join(w.dir, fmt.Sprintf("frame_%06d.jpg", index))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: w.quality}); err != nil {
		f.Close()
		return "", fmt.Errorf("encode %s: %w", path, err)
	}
	return path, f.Close()
}

// VideoRecorder pipes annotated frames into an ffmpeg encoder.
type VideoRecorder struct {
	cmd    *utils.SafeCommand
	in     io.WriteCloser
	width  int
	height int
	buf    []byte
}

func NewVideoRecorder(ctx context.Context, path string, fps, width, height int) (*VideoRecorder, error) {
	cmd := utils.NewFFmpegEncoder(ctx, path, fps, width, height)
	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}
	return newVideoRecorder(cmd, in, width, height), nil
}

func newVideoRecorder(cmd *utils.SafeCommand, in io.WriteCloser, width, height int) *VideoRecorder {
	return &VideoRecorder{cmd: cmd, in: in, width: width, height: height, buf: make([]byte, width*height*3)}
}

// Write appends one frame. Its size must match the recorder.
func (r *VideoRecorder) Write(img *image.RGBA) error {
	if img.Bounds().Dx() != r.width || img.Bounds().Dy() != r.height {
		return fmt.Errorf("frame is %dx%d, recorder expects %dx%d", img.Bounds().Dx(), img.Bounds().Dy(), r.width, r.height)
	}
	packRGB(r.buf, img)
	_, err := r.in.Write(r.buf)
	return err
}

// Close flushes the encoder and waits for it to finish the file.
func (r *VideoRecorder) Close() error {
	if err := r.in.Close(); err != nil {
		return err
	}
	if r.cmd == nil {
		return nil
	}
	return r.cmd.Wait()
}

func (r *VideoRecorder) Command() *utils.SafeCommand {
	return r.cmd
}

func packRGB(dst []byte, img *image.RGBA) {
	b := img.Bounds()
	j := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			dst[j] = row[x*4]
			dst[j+1] = row[x*4+1]
			dst[j+2] = row[x*4+2]
			j += 3
		}
	}
}
