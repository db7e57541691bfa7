package journal

import "time"

// Clock abstracts time.Now for timers, following the same injection
// pattern as andreyvit-journal's Options.Now.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the default Clock, backed by time.Now.
var SystemClock Clock = systemClock{}
