//go:build !flake_nonet

package flake

var defaultMachineID = Lower16BitPrivateIP
