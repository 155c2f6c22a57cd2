// Package probe supplies the OS-backed collaborators of the memory
// monitor: a Provider reading real process counters and a PressureSource
// watching the host pressure signal.
package probe

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"memwatch/internal/telemetry"
)

// cgroup v2 and v1 memory limit files, checked in that order.
var cgroupLimitFiles = []string{
	"/sys/fs/cgroup/memory.max",
	"/sys/fs/cgroup/memory/memory.limit_in_bytes",
}

// SystemProvider reads the running process's resident set against the
// enforced memory budget: an explicit override, the cgroup limit when one
// is set, or total host memory as the last resort.
type SystemProvider struct {
	limitOverride uint64
	proc          *process.Process
}

// NewSystemProvider builds a provider for the current process.
// limitOverride of zero means use the host-enforced limit.
func NewSystemProvider(limitOverride uint64) (*SystemProvider, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open current process: %w", err)
	}
	return &SystemProvider{limitOverride: limitOverride, proc: proc}, nil
}

// Provide implements telemetry.Provider.
func (p *SystemProvider) Provide(pressureHint telemetry.Severity) (telemetry.RawSample, error) {
	info, err := p.proc.MemoryInfo()
	if err != nil {
		return telemetry.RawSample{}, fmt.Errorf("failed to read process memory: %w", err)
	}

	limit, err := p.limit()
	if err != nil {
		return telemetry.RawSample{}, err
	}

	used := info.RSS
	var remaining uint64
	if used < limit {
		remaining = limit - used
	}

	return telemetry.RawSample{
		Used:       used,
		Remaining:  remaining,
		Compressed: info.Swap,
	}, nil
}

func (p *SystemProvider) limit() (uint64, error) {
	if p.limitOverride > 0 {
		return p.limitOverride, nil
	}
	if limit, ok := cgroupLimit(); ok {
		return limit, nil
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("failed to read host memory: %w", err)
	}
	return vm.Total, nil
}

// cgroupLimit reads the container memory limit when the process runs under
// one. "max" (v2) and the kernel's no-limit sentinel (v1) both mean
// unlimited.
func cgroupLimit() (uint64, bool) {
	for _, path := range cgroupLimitFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if limit, ok := parseCgroupLimit(string(data)); ok {
			return limit, true
		}
		return 0, false
	}
	return 0, false
}

func parseCgroupLimit(raw string) (uint64, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "max" {
		return 0, false
	}
	limit, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil || limit == 0 {
		return 0, false
	}
	// v1 reports a huge page-aligned number when unlimited.
	if limit > 1<<60 {
		return 0, false
	}
	return limit, true
}
