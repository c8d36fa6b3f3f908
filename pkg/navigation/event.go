package navigation

import (
	"encoding/json"
	"fmt"
)

// State is the observable scan state of a navigator.
type State int

const (
	Idle State = iota
	Scanning
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s State) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for _, st := range []State{Idle, Scanning, Failed, Cancelled} {
		if st.String() == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown navigator state %q", name)
}

type EventKind int

const (
	Navigated EventKind = iota
	ScanStarted
	ScanCompleted
	ScanFailed
	ScanCancelled
	Invalidated
)

var eventKindNames = map[EventKind]string{
	Navigated:     "navigated",
	ScanStarted:   "scan_started",
	ScanCompleted: "scan_completed",
	ScanFailed:    "scan_failed",
	ScanCancelled: "scan_cancelled",
	Invalidated:   "invalidated",
}

func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}
	return "unknown"
}

func (k EventKind) MarshalJSON() ([]byte, error) { return json.Marshal(k.String()) }

// Event describes one navigator transition.
type Event struct {
	Kind     EventKind `json:"kind"`
	Path     string    `json:"path"`
	Previous string    `json:"previous,omitempty"`
	// Entries is the number of entries found by a completed scan.
	Entries int    `json:"entries,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Listener receives events on the navigator's goroutine, in order. It must
// not call back into the navigator synchronously.
type Listener func(Event)
