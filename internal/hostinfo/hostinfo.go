// Package hostinfo collects host and process information for envelope
// metadata and periodic health snapshots.
package hostinfo

import (
	"os"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is a point-in-time view of the agent process.
type Snapshot struct {
	Hostname   string
	PID        int
	CPUPercent float64
	MemRSS     uint64
	NumFDs     int
	NumThreads int
}

// Hostname returns the machine hostname, preferring the kernel's view over
// the HOSTNAME environment variable so containerized hosts report stable
// names.
func Hostname() string {
	if info, err := host.Info(); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	if name, err := os.Hostname(); err == nil {
		return name
	}
	return os.Getenv("HOSTNAME")
}

// Collect gathers a snapshot of this process. Fields that cannot be read
// on the current platform are left at zero.
func Collect() Snapshot {
	s := Snapshot{
		Hostname: Hostname(),
		PID:      os.Getpid(),
	}

	proc, err := process.NewProcess(int32(s.PID))
	if err != nil {
		return s
	}

	if cpuPct, err := proc.CPUPercent(); err == nil {
		s.CPUPercent = cpuPct
	}
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		s.MemRSS = memInfo.RSS
	}

	// File descriptors (Unix only, ignore error on Windows)
	if numFDs, err := proc.NumFDs(); err == nil {
		s.NumFDs = int(numFDs)
	}
	if numThreads, err := proc.NumThreads(); err == nil {
		s.NumThreads = int(numThreads)
	}

	return s
}
