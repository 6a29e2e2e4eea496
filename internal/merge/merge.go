// Package merge assembles per-segment transcription outcomes into one document.
package merge

import "strings"

// Sentinel replaces the transcript of a segment whose transcription failed.
const Sentinel = "[SEGMENT FAILED]"

// Outcome is the terminal result of transcribing one segment.
type Outcome struct {
	Index    int
	Text     string // present iff OK
	OK       bool
	Attempts int
}

// Merge joins outcomes into a single document in segment-index order.
// Failed outcomes contribute the sentinel. Chunks are separated by a blank
// line; whitespace inside each chunk is normalized (space runs collapsed,
// blank-line runs dropped, edges trimmed) without altering wording.
// Merge never fails: an all-failed input yields an all-sentinel document.
func Merge(outcomes []Outcome) string {
	chunks := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if !o.OK {
			chunks = append(chunks, Sentinel)
			continue
		}
		if text := normalize(o.Text); text != "" {
			chunks = append(chunks, text)
		}
	}
	return strings.Join(chunks, "\n\n")
}

// FailedCount returns how many outcomes ended without text.
func FailedCount(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if !o.OK {
			n++
		}
	}
	return n
}

// normalize collapses runs of spaces within lines and drops blank lines,
// keeping each remaining line's wording intact.
func normalize(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
