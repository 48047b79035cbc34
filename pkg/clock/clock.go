package clock

import "time"

// Clock is the time source used by stores, the streaming simulator and the
// persistence adapter. Timestamps are always returned in UTC.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the subset of *time.Timer the packages rely on.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now().UTC() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Later returns the later of prev and now, so that stamped times never move backwards.
func Later(prev, now time.Time) time.Time {
	if now.Before(prev) {
		return prev
	}
	return now
}
