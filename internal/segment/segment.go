package segment

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// cutTimeout bounds a single ffmpeg extraction.
const cutTimeout = 30 * time.Second

// Error indicates segment extraction failed. Segmentation is all-or-nothing:
// by the time this surfaces, every segment file written for the run has
// already been removed.
type Error struct {
	Index int
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("segment %d: %v", e.Index, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Range is one planned slice of the source recording, in seconds.
type Range struct {
	Index int
	Start float64
	End   float64
}

// Segment is an extracted, re-encoded slice of the source recording.
// The caller owns cleanup of the file.
type Segment struct {
	Range
	Path string
}

// Plan computes the segment ranges for a recording of the given duration.
// Ranges are contiguous, non-overlapping, 0-indexed, and cover [0, duration)
// exactly. A non-positive duration yields no ranges.
func Plan(duration, segmentSeconds float64) []Range {
	if duration <= 0 || segmentSeconds <= 0 {
		return nil
	}
	n := int(duration / segmentSeconds)
	if float64(n)*segmentSeconds < duration {
		n++
	}
	ranges := make([]Range, n)
	for i := 0; i < n; i++ {
		start := float64(i) * segmentSeconds
		end := start + segmentSeconds
		if end > duration {
			end = duration
		}
		ranges[i] = Range{Index: i, Start: start, End: end}
	}
	return ranges
}

// Segmenter cuts recordings into ASR-ready segment files.
type Segmenter struct {
	segmentSeconds float64
	log            zerolog.Logger
}

// New creates a Segmenter producing segments of at most segmentSeconds.
func New(segmentSeconds float64, log zerolog.Logger) *Segmenter {
	return &Segmenter{segmentSeconds: segmentSeconds, log: log}
}

// Cut extracts one mono 16kHz mp3 file per planned range into a fresh
// temp directory. On any extraction failure, all files produced so far and
// the temp directory are removed before the error is returned.
func (s *Segmenter) Cut(ctx context.Context, srcPath string, duration float64) ([]Segment, error) {
	plan := Plan(duration, s.segmentSeconds)
	if len(plan) == 0 {
		return nil, &Error{Index: 0, Err: fmt.Errorf("nothing to segment: duration=%v", duration)}
	}

	tmpDir, err := os.MkdirTemp("", "vn-segments-")
	if err != nil {
		return nil, &Error{Index: 0, Err: fmt.Errorf("create temp dir: %w", err)}
	}

	s.log.Info().
		Float64("duration_sec", duration).
		Float64("segment_sec", s.segmentSeconds).
		Int("segments", len(plan)).
		Msg("splitting audio")

	start := time.Now()
	segments := make([]Segment, 0, len(plan))
	for _, r := range plan {
		outPath := filepath.Join(tmpDir, fmt.Sprintf("segment_%03d.mp3", r.Index))
		if err := s.cutOne(ctx, srcPath, r, outPath); err != nil {
			Cleanup(segments, tmpDir, s.log)
			return nil, &Error{Index: r.Index, Err: err}
		}
		segments = append(segments, Segment{Range: r, Path: outPath})
		s.log.Debug().
			Int("index", r.Index).
			Float64("start_sec", r.Start).
			Float64("end_sec", r.End).
			Msg("segment extracted")
	}

	s.log.Info().
		Int("segments", len(segments)).
		Dur("elapsed_ms", time.Since(start)).
		Msg("audio split complete")
	return segments, nil
}

func (s *Segmenter) cutOne(ctx context.Context, srcPath string, r Range, outPath string) error {
	ctx, cancel := context.WithTimeout(ctx, cutTimeout)
	defer cancel()

	// Re-encode to mono 16kHz mp3 for the ASR service. -t is the nominal
	// segment length; ffmpeg stops at EOF so the last segment comes out short.
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", srcPath,
		"-ss", formatSeconds(r.Start),
		"-t", formatSeconds(s.segmentSeconds),
		"-acodec", "mp3",
		"-ar", "16000",
		"-ac", "1",
		"-y",
		"-loglevel", "error",
		outPath,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(outPath)
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("ffmpeg: %s", msg)
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

// Cleanup removes segment files and their temp directory. Failures are
// logged, never returned: cleanup must not change an already-decided outcome.
func Cleanup(segments []Segment, tmpDir string, log zerolog.Logger) {
	for _, seg := range segments {
		if err := os.Remove(seg.Path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", seg.Path).Msg("could not remove segment file")
		}
	}
	if tmpDir != "" {
		if err := os.Remove(tmpDir); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("dir", tmpDir).Msg("could not remove segment temp dir")
		}
	}
}

// TempDir returns the directory holding the given segments, or "" if none.
func TempDir(segments []Segment) string {
	if len(segments) == 0 {
		return ""
	}
	return filepath.Dir(segments[0].Path)
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
