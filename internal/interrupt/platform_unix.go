//go:build !windows

package interrupt

// Supported reports whether interrupt-driven context capture is available
// on this platform.
func Supported() bool { return true }
