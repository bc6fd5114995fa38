package query

import (
	"errors"
	"fmt"
)

// ErrProducerPanic is recorded when a producer panics instead of returning.
var ErrProducerPanic = errors.New("producer panicked")

// ProducerError is the error attached to an entry whose fetch failed.
// The core never inspects Err; it is carried for the presentation layer.
type ProducerError struct {
	Key Key
	Err error
}

func (e *ProducerError) Error() string {
	return fmt.Sprintf("query %q: %v", e.Key, e.Err)
}

func (e *ProducerError) Unwrap() error {
	return e.Err
}
