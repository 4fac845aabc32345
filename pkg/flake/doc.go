// Package flake generates 63-bit, roughly time-ordered identifiers that are
// unique across independent processes without a central coordinator.
//
// # Format
//
// An ID packs three fields into the low 63 bits of a uint64, most significant
// first:
//
//	| 39 bits time | 8 bits sequence | 16 bits machine id |
//
// The time field counts 10ms ticks elapsed since the generator's start time.
// The sequence distinguishes ids issued within one tick. The machine id is
// fixed for the lifetime of a generator and must be unique among the
// generators running at the same time.
//
// # Monotonicity
//
// A Generator emits strictly increasing ids:
//   - When the clock enters a new tick the sequence restarts at zero.
//   - When 256 ids were already issued in the current tick, the generator moves
//     to the next tick and sleeps, with its lock held, until the wall clock
//     reaches that tick.
//   - After 2^39 ticks (about 174 years) from the start time NextID fails
//     with ErrOverTimeLimit.
//
// Usage
//
//	g, err := flake.New(flake.WithMachineID(func() (uint16, error) { return 42, nil }))
//	if err != nil {
//		return err
//	}
//	id, err := g.NextID()
//	parts := flake.Decompose(id)
package flake
