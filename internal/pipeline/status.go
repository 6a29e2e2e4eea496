package pipeline

import "fmt"

// Status is the processing state of a recording. The zero value is
// StatusUploaded. Transitions are validated by CanTransitionTo; the
// Processor is the only writer.
type Status uint8

const (
	StatusUploaded Status = iota
	StatusProcessing
	StatusDone
	StatusFailed
)

var statusNames = map[Status]string{
	StatusUploaded:   "uploaded",
	StatusProcessing: "processing",
	StatusDone:       "done",
	StatusFailed:     "failed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// ParseStatus converts a stored status string back to a Status.
func ParseStatus(raw string) (Status, error) {
	for s, name := range statusNames {
		if name == raw {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", raw)
}

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CanTransitionTo reports whether the transition is part of the state
// machine: uploaded → processing → done|failed.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusUploaded:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusDone || next == StatusFailed
	default:
		return false
	}
}
