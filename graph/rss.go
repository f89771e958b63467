package graph

import (
	"runtime"
	"syscall"
)

// currentRSSMaxBytes samples the process's maximum resident set size via
// getrusage, normalized to bytes. Linux reports Ru_maxrss in kilobytes;
// Darwin reports it in bytes directly. No pack dependency wraps getrusage, so
// this is built directly on syscall — see DESIGN.md.
func currentRSSMaxBytes() int64 {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	maxrss := int64(ru.Maxrss)
	if runtime.GOOS == "linux" {
		return maxrss * 1024
	}
	return maxrss
}
