//go:build deterministic

package clock

// Deterministic reports whether this build uses the virtual clock.
const Deterministic = true

var shared = NewVirtual(Epoch)

// Default returns the process-wide Virtual clock shared by deterministic builds.
func Default() Clock { return shared }
