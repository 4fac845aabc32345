package flake

import (
	"math"
	"time"
)

// TimeUnit is the resolution of the time field.
const TimeUnit = 10 * time.Millisecond

const timeUnitNanos = int64(TimeUnit)

var (
	minClockTime = time.Unix(0, 0)
	maxClockTime = time.Unix(0, math.MaxInt64)
)

func unixNanos(t time.Time) (int64, error) {
	if t.Before(minClockTime) || t.After(maxClockTime) {
		return 0, ErrClockUnavailable
	}
	return t.UnixNano(), nil
}

// toFlakeTime converts t to 10ms ticks since the unix epoch.
func toFlakeTime(t time.Time) (int64, error) {
	nanos, err := unixNanos(t)
	if err != nil {
		return 0, err
	}
	return nanos / timeUnitNanos, nil
}

func fromFlakeTime(ticks int64) time.Time {
	return time.Unix(0, ticks*timeUnitNanos).UTC()
}
