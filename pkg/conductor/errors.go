package conductor

import (
	"errors"
	"math/rand/v2"
	"time"
)

// permanentError marks a failure that no amount of redelivery can fix. The
// worker acks the message with an error report instead of leaving it on its
// lease.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

const (
	backoffBase = 250 * time.Millisecond
	backoffCap  = 30 * time.Second
)

// backoffDuration derives the post-failure delay from how many times the
// message has been delivered. Keying backoff off the delivery count means it
// survives worker crashes and replica handoffs without shared state; the
// jitter keeps competing consumers from thundering in lockstep.
func backoffDuration(readCount int64) time.Duration {
	if readCount < 1 {
		readCount = 1
	}
	d := backoffBase << min(readCount-1, 7)
	if d > backoffCap {
		d = backoffCap
	}
	return d + rand.N(d/2+1)
}
