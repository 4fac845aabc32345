package flake

import (
	"sync"
	"time"
)

// Generator is a distributed unique id generator. A *Generator is safe for
// concurrent use; share the pointer to share the sequence state.
type Generator struct {
	startTime int64 // ticks since unix epoch
	machineID uint16
	now       func() time.Time
	sleep     func(time.Duration)

	mu          sync.Mutex
	elapsedTime int64
	sequence    uint16
	poisoned    bool
}

// NewDefault creates a generator with the default start time and the default
// machine id resolver.
func NewDefault() (*Generator, error) {
	return New()
}

// StartTime returns the epoch the time field is counted from, truncated to
// the tick resolution.
func (g *Generator) StartTime() time.Time { return fromFlakeTime(g.startTime) }

func (g *Generator) MachineID() uint16 { return g.machineID }

// Time returns the wall clock time encoded in an id produced by g.
func (g *Generator) Time(id ID) time.Time {
	return fromFlakeTime(g.startTime + int64(Decompose(id).Time))
}

// NextID generates the next unique id. It may block for up to one tick when
// the sequence of the current tick is exhausted. After the time field
// overflows every call returns ErrOverTimeLimit.
func (g *Generator) NextID() (ID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.poisoned {
		return 0, ErrPoisoned
	}

	completed := false
	defer func() {
		if !completed {
			g.poisoned = true
		}
	}()

	id, err := g.nextIDLocked()
	completed = true
	return id, err
}

// nextIDLocked must be called with g.mu held.
func (g *Generator) nextIDLocked() (ID, error) {
	current, err := g.currentElapsedTime()
	if err != nil {
		return 0, err
	}

	if g.elapsedTime < current {
		g.elapsedTime = current
		g.sequence = 0
	} else {
		g.sequence = (g.sequence + 1) & maskSequence
		if g.sequence == 0 {
			g.elapsedTime++
			overtime := g.elapsedTime - current
			d, err := g.sleepTime(overtime)
			if err != nil {
				return 0, err
			}
			g.sleep(d)
		}
	}

	if g.elapsedTime >= maxElapsedTime {
		return 0, ErrOverTimeLimit
	}

	return pack(g.elapsedTime, g.sequence, g.machineID), nil
}

func (g *Generator) currentElapsedTime() (int64, error) {
	now, err := toFlakeTime(g.now())
	if err != nil {
		return 0, err
	}
	return now - g.startTime, nil
}

// sleepTime is the time left until the clock reaches overtime ticks past the
// start of the current tick.
func (g *Generator) sleepTime(overtime int64) (time.Duration, error) {
	nanos, err := unixNanos(g.now())
	if err != nil {
		return 0, err
	}
	d := time.Duration(overtime)*TimeUnit - time.Duration(nanos%timeUnitNanos)
	if d < 0 {
		d = 0
	}
	return d, nil
}
