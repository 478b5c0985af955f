package status

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status represents audit job status
type Status int

const (
	// Queued - job accepted, waiting for a worker
	Queued Status = iota + 1
	// Processing - pipeline is running
	Processing
	// Completed - final step, report is ready
	Completed
	// Failed - final step, error is set
	Failed
)

// ErrInvalidTransition is returned on a status change the state machine does not allow
var ErrInvalidTransition = errors.New("invalid status transition")

var (
	statusName = map[Status]string{Queued: "queued", Processing: "processing",
		Completed: "completed", Failed: "failed"}
	nameStatus = map[string]Status{"queued": Queued, "processing": Processing,
		"completed": Completed, "failed": Failed}
)

func (st Status) String() string {
	return statusName[st]
}

// From returns status obj from string
func From(st string) Status {
	return nameStatus[st]
}

// Terminal reports if no further transition is possible
func (st Status) Terminal() bool {
	return st == Completed || st == Failed
}

// CanTransition checks the queued -> processing -> completed|failed edges
func CanTransition(from, to Status) bool {
	if from == to {
		return !from.Terminal()
	}
	switch from {
	case Queued:
		return to == Processing
	case Processing:
		return to == Completed || to == Failed
	}
	return false
}

// CheckTransition returns ErrInvalidTransition if the change is not allowed
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (st Status) MarshalText() ([]byte, error) {
	return []byte(st.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (st *Status) UnmarshalText(b []byte) error {
	v := From(string(b))
	if v == 0 {
		return errors.Errorf("unknown status '%s'", string(b))
	}
	*st = v
	return nil
}
