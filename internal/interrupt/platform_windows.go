//go:build windows

package interrupt

// Supported reports whether interrupt-driven context capture is available
// on this platform. Windows has no per-thread signal delivery to hook.
func Supported() bool { return false }
