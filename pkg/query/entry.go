// Package query provides a keyed fetch orchestration core: a Store holding the
// lifecycle state of each query key and a Controller binding a producer to a key.
package query

import (
	"fmt"
	"time"
)

// Key names one independent query channel.
type Key string

// The keys served by queryflow.
const (
	KeyDog  Key = "dog"
	KeyJoke Key = "joke"
	KeyUser Key = "user"
)

// Status is the lifecycle state of a single key.
type Status int

const (
	Idle Status = iota
	Loading
	Success
	Error
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText lets Status render as its name in JSON and logs.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a name produced by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	for _, candidate := range []Status{Idle, Loading, Success, Error} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown query status %q", text)
}

// Entry is a point-in-time copy of a key's state.
// Data is the last successful payload and survives later Loading and Error
// transitions. Err is only cleared by a successful fetch.
type Entry struct {
	Status    Status
	Data      any
	HasData   bool
	Err       error
	Version   uint64
	UpdatedAt time.Time
}
