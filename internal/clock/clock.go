// Package clock abstracts time for services that compare against deadlines,
// so tests can advance time deterministically.
package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock supplies the current time. Implementations must return UTC.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return SystemClock{} }),
)
