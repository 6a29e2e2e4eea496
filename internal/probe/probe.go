package probe

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// probeTimeout bounds a single ffprobe invocation. Duration extraction reads
// only the container header, so anything slower than this is a hung process.
const probeTimeout = 10 * time.Second

// Error indicates the duration of a recording could not be determined.
// It is fatal to a processing run: without a duration there is no segment plan.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// toolsAvailable caches whether ffmpeg and ffprobe are in PATH (checked once at startup).
var toolsAvailable *bool

// CheckTools checks that ffmpeg and ffprobe are available in PATH. Call once at startup.
func CheckTools() bool {
	if toolsAvailable != nil {
		return *toolsAvailable
	}
	avail := true
	for _, tool := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(tool); err != nil {
			avail = false
			break
		}
	}
	toolsAvailable = &avail
	return avail
}

// Duration returns the duration of an audio file in seconds using ffprobe.
// The file is only read, never modified.
func Duration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return 0, &Error{Path: path, Err: fmt.Errorf("ffprobe: %s", strings.TrimSpace(string(ee.Stderr)))}
		}
		return 0, &Error{Path: path, Err: fmt.Errorf("ffprobe: %w", err)}
	}

	dur, err := ParseDuration(string(out))
	if err != nil {
		return 0, &Error{Path: path, Err: err}
	}
	return dur, nil
}

// ParseDuration parses ffprobe's duration output. ffprobe prints "N/A" for
// streams without a known duration; that is treated as unparsable.
func ParseDuration(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "N/A" {
		return 0, fmt.Errorf("no duration in ffprobe output %q", raw)
	}
	dur, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	if dur <= 0 {
		return 0, fmt.Errorf("non-positive duration %v", dur)
	}
	return dur, nil
}
