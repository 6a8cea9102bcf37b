//go:build !linux
// +build !linux

package guda

// getSystemMemory returns the fallback memory size on platforms without
// a sysinfo call.
func getSystemMemory() uint64 {
	return defaultSystemMemory
}
