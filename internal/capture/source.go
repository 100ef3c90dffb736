// Directory-backed frame source. A camera source behind the same
// interface is a deployment detail left to
// EYED_CAMERA_SOURCE/EYED_CAMERA_DEVICE, unused by this core.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	pb "github.com/hasbegun/eyed/pb/eyed"
)

// frame-producing file extensions; anything else under ImageDir is
// skipped.
var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// DirectorySource walks a directory of still images, treating each file
// as one captured frame. It loops over the directory once it's exhausted,
// so a small fixture dataset can drive a long-running demo.
type DirectorySource struct {
	dir       string
	deviceID  string
	quality   *QualityGate
	ring      *Ring
	rateEvery time.Duration
	logger    *slog.Logger

	nextFrameID uint64
}

// NewDirectorySource builds a source that pushes one frame onto ring every
// rateEvery, dropping frames the quality gate rejects or the ring refuses.
func NewDirectorySource(dir, deviceID string, quality *QualityGate, ring *Ring, rateEvery time.Duration, logger *slog.Logger) *DirectorySource {
	if logger == nil {
		logger = slog.Default()
	}
	if rateEvery <= 0 {
		rateEvery = 100 * time.Millisecond
	}
	return &DirectorySource{
		dir:       dir,
		deviceID:  deviceID,
		quality:   quality,
		ring:      ring,
		rateEvery: rateEvery,
		logger:    logger,
	}
}

// Run lists the directory once and then cycles through it, encoding and
// quality-gating each frame, until ctx is cancelled. It is the producer
// half of the SPSC pair; StreamingClient.Run is the consumer.
func (s *DirectorySource) Run(ctx context.Context) error {
	paths, err := s.listImages()
	if err != nil {
		return fmt.Errorf("capture: list image dir %s: %w", s.dir, err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("capture: no images under %s", s.dir)
	}

	ticker := time.NewTicker(s.rateEvery)
	defer ticker.Stop()

	idx := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			path := paths[idx%len(paths)]
			idx++
			s.produceOne(path)
		}
	}
}

func (s *DirectorySource) listImages() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if imageExts[filepath.Ext(path)] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *DirectorySource) produceOne(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("capture: read image failed", "path", path, "error", err)
		return
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		s.logger.Warn("capture: decode image failed", "path", path, "error", err)
		return
	}

	gray, width, height := toGray(img)
	score := Score(gray, width, height)
	normalized := normalizeScore(score)
	if !s.quality.Passes(score) {
		s.logger.Debug("capture: frame dropped by quality gate", "path", path, "score", normalized)
		return
	}

	jpegData, err := reencodeJPEG(img)
	if err != nil {
		s.logger.Warn("capture: jpeg encode failed", "path", path, "error", err)
		return
	}

	s.nextFrameID++
	frame := &pb.CaptureFrame{
		JpegData:     jpegData,
		QualityScore: normalized,
		TimestampUs:  uint64(time.Now().UnixMicro()),
		FrameId:      s.nextFrameID,
		DeviceId:     s.deviceID,
		EyeSide:      "left",
		IsNir:        false,
	}

	if !s.ring.TryPush(frame) {
		s.logger.Warn("capture: ring full, dropping frame", "frame_id", frame.FrameId)
	}
}

func reencodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toGray(img image.Image) ([]byte, int, int) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	gray := make([]byte, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			lum := (299*r + 587*g + 114*b) / 1000
			gray[y*width+x] = byte(lum >> 8)
		}
	}
	return gray, width, height
}

// normalizeScore squashes an unbounded Sobel magnitude sum into [0,1] for
// the wire-level quality_score field; the gate itself compares against
// the raw magnitude.
func normalizeScore(score float64) float64 {
	const ceiling = 400.0
	n := score / ceiling
	if n > 1 {
		n = 1
	}
	if n < 0 {
		n = 0
	}
	return n
}
