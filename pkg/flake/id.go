package flake

import (
	"fmt"
	"strconv"
	"time"
)

const (
	BitLenTime      = 39
	BitLenSequence  = 8
	BitLenMachineID = 63 - BitLenTime - BitLenSequence

	maskSequence        = (1 << BitLenSequence) - 1
	maskMachineID       = (1 << BitLenMachineID) - 1
	decomposeMaskSeq    = uint64(maskSequence) << BitLenMachineID
	maxElapsedTime      = int64(1) << BitLenTime
	shiftTime           = BitLenSequence + BitLenMachineID
	shiftSequence       = BitLenMachineID
	maxSequence         = maskSequence
	initialSequenceSeed = 1 << (BitLenSequence - 1)
)

// ID is a generated identifier. Only the low 63 bits are used.
type ID uint64

func (id ID) Uint64() uint64 { return uint64(id) }

func (id ID) String() string { return strconv.FormatUint(uint64(id), 10) }

func (id ID) MarshalText() ([]byte, error) {
	return strconv.AppendUint(nil, uint64(id), 10), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseID parses the decimal form of an id. Values with the most significant
// bit set are rejected since no generator produces them.
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	if n>>63 != 0 {
		return 0, fmt.Errorf("invalid id %q: most significant bit is set", s)
	}
	return ID(n), nil
}

func pack(elapsedTime int64, sequence uint16, machineID uint16) ID {
	return ID(uint64(elapsedTime)<<shiftTime |
		uint64(sequence)<<shiftSequence |
		uint64(machineID))
}

// Parts holds the fields of a decomposed ID.
type Parts struct {
	ID        uint64
	MSB       uint64
	Time      uint64 // ticks since the generator start time
	Sequence  uint64
	MachineID uint64
}

// Nanos returns the time field in nanoseconds. The result is relative to the
// start time of the generator that produced the id.
func (p Parts) Nanos() int64 {
	return int64(p.Time) * timeUnitNanos
}

// Timestamp returns the wall clock time of the id given the start time of
// the generator that produced it. startTime is truncated to TimeUnit.
func (p Parts) Timestamp(startTime time.Time) time.Time {
	return fromFlakeTime(startTime.UnixNano()/timeUnitNanos + int64(p.Time))
}

// Decompose splits any uint64 value into the id fields. It does not check
// that the value came from a generator.
func Decompose(id ID) Parts {
	v := uint64(id)
	return Parts{
		ID:        v,
		MSB:       v >> 63,
		Time:      v >> shiftTime,
		Sequence:  (v & decomposeMaskSeq) >> shiftSequence,
		MachineID: v & maskMachineID,
	}
}
