//go:build !deterministic

package clock

// Deterministic reports whether this build uses the virtual clock.
const Deterministic = false

// Default returns the process clock for this build: the system clock.
func Default() Clock { return Real{} }
