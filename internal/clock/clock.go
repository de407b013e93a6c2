package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock is the time source for anything that stamps records.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// System returns a clock backed by time.Now in UTC.
func System() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

var Module = fx.Module("clock",
	fx.Provide(System),
)
