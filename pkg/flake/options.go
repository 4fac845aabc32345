package flake

import "time"

// DefaultStartTime is the epoch used when no start time is configured.
var DefaultStartTime = time.Date(2014, 9, 1, 0, 0, 0, 0, time.UTC)

type settings struct {
	startTime      time.Time
	machineID      func() (uint16, error)
	customID       bool
	checkMachineID func(uint16) bool
	now            func() time.Time
	sleep          func(time.Duration)
}

// Option configures a Generator built by New.
type Option func(*settings)

// WithStartTime sets the epoch of the time field. New fails if it is ahead of
// the current time.
func WithStartTime(t time.Time) Option {
	return func(s *settings) {
		s.startTime = t
	}
}

// WithMachineID sets the function resolving the machine id. An error returned
// by fn makes New fail with a *MachineIDError.
func WithMachineID(fn func() (uint16, error)) Option {
	return func(s *settings) {
		s.machineID = fn
		s.customID = true
	}
}

// WithMachineIDCheck sets a predicate validating the resolved machine id,
// typically against ids in use by other generators.
func WithMachineIDCheck(fn func(uint16) bool) Option {
	return func(s *settings) {
		s.checkMachineID = fn
	}
}

// WithClock replaces time.Now as the clock source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

// WithSleeper replaces time.Sleep, used while waiting for the next tick.
func WithSleeper(sleep func(time.Duration)) Option {
	return func(s *settings) {
		s.sleep = sleep
	}
}

// New validates the options and builds a Generator. It never returns a
// partially initialized generator.
func New(opts ...Option) (*Generator, error) {
	s := settings{
		startTime: DefaultStartTime,
		machineID: defaultMachineID,
		now:       time.Now,
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(&s)
	}

	if s.startTime.After(s.now()) {
		return nil, &StartTimeAheadError{StartTime: s.startTime}
	}
	startTime, err := toFlakeTime(s.startTime)
	if err != nil {
		return nil, err
	}

	if s.machineID == nil {
		return nil, ErrNoMachineIDFn
	}
	machineID, err := s.machineID()
	if err != nil {
		if s.customID {
			return nil, &MachineIDError{Err: err}
		}
		return nil, err
	}

	if s.checkMachineID != nil && !s.checkMachineID(machineID) {
		return nil, ErrCheckMachineIDFailed
	}

	return &Generator{
		startTime: startTime,
		machineID: machineID,
		now:       s.now,
		sleep:     s.sleep,
		sequence:  initialSequenceSeed,
	}, nil
}
