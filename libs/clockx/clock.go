// Package clockx provides the clock capability the scheduling engine depends
// on instead of reading ambient system time. Production code passes Real;
// tests pass a Fixed clock to make every availability decision deterministic.
package clockx

import "time"

type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Fixed always reports the same instant.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now() time.Time { return f.T }

// At is shorthand for a Fixed clock frozen at t.
func At(t time.Time) Fixed { return Fixed{T: t} }
