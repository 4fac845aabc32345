//go:build flake_nonet

package flake

// Interface scanning is compiled out; New requires WithMachineID.
var defaultMachineID func() (uint16, error)
