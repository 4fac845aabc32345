package flake

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCheckMachineIDFailed = errors.New("check machine id returned false")
	ErrOverTimeLimit        = errors.New("over the time limit")
	ErrNoPrivateIPv4        = errors.New("could not find any private ipv4 address")
	ErrNoMachineIDFn        = errors.New("no machine id function configured")
	ErrPoisoned             = errors.New("generator state is poisoned (a panic happened while it was locked)")
	ErrClockUnavailable     = errors.New("failed to get current time")
)

// StartTimeAheadError is returned by New when the configured start time is
// later than the current time.
type StartTimeAheadError struct {
	StartTime time.Time
}

func (e *StartTimeAheadError) Error() string {
	return fmt.Sprintf("start time %s is ahead of current time", e.StartTime.Format(time.RFC3339Nano))
}

// MachineIDError wraps the error returned by a caller supplied machine id function.
type MachineIDError struct {
	Err error
}

func (e *MachineIDError) Error() string {
	return fmt.Sprintf("machine id returned an error: %v", e.Err)
}

func (e *MachineIDError) Unwrap() error { return e.Err }
