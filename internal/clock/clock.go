package clock

import "time"

// Clock abstracts wall-clock reads so time-sensitive paths stay testable.
// Params: none.
// Returns: current time source.
type Clock interface {
	Now() time.Time
}

// NowFunc adapts a plain function into a Clock.
// Params: closure returning the current instant.
// Returns: Clock backed by the closure.
type NowFunc func() time.Time

// Now invokes the wrapped closure.
// Params: none.
// Returns: closure-provided timestamp.
func (f NowFunc) Now() time.Time {
	return f()
}

// RealClock reads the system clock.
// Params: none.
// Returns: current UTC timestamp.
type RealClock struct{}

// Now returns the current UTC time.
// Params: none.
// Returns: current UTC timestamp.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}
