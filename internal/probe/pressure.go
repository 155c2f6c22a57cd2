package probe

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"memwatch/internal/telemetry"
)

const psiPath = "/proc/pressure/memory"

// PSI avg10 thresholds for the "some" line, percent of wall time stalled.
const (
	psiWarning  = 10.0
	psiCritical = 50.0
)

// Available-memory thresholds for the derived fallback, percent of total.
const (
	availWarning  = 15
	availCritical = 5
)

// pollInterval is how often the underlying kernel signal is consulted.
// Emission stays edge-triggered: a level is sent only when it changed.
const pollInterval = time.Second

// PressureWatcher turns a host memory-pressure signal into an
// edge-triggered level stream restricted to normal/warning/critical.
type PressureWatcher struct {
	readLevel func() (telemetry.Severity, error)
}

// NewPressureWatcher builds a watcher for the named source: "psi" or
// "derived". "psi" falls back to the derived heuristic when the kernel
// does not expose pressure stall information.
func NewPressureWatcher(source string) (*PressureWatcher, error) {
	switch source {
	case "psi":
		if _, err := os.Stat(psiPath); err == nil {
			return &PressureWatcher{readLevel: readPSILevel}, nil
		}
		return &PressureWatcher{readLevel: readDerivedLevel}, nil
	case "derived":
		return &PressureWatcher{readLevel: readDerivedLevel}, nil
	default:
		return nil, fmt.Errorf("unknown pressure source: %s", source)
	}
}

// Watch implements telemetry.PressureSource. The returned channel carries a
// value only when the level moved and closes when ctx is cancelled.
func (w *PressureWatcher) Watch(ctx context.Context) <-chan telemetry.Severity {
	ch := make(chan telemetry.Severity, 1)
	go func() {
		defer close(ch)

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		last := telemetry.SeverityNormal
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				level, err := w.readLevel()
				if err != nil {
					continue
				}
				if level == last {
					continue
				}
				last = level
				select {
				case ch <- level:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}

// readPSILevel maps the kernel's memory pressure stall average to the
// 3-value pressure axis.
func readPSILevel() (telemetry.Severity, error) {
	data, err := os.ReadFile(psiPath)
	if err != nil {
		return telemetry.SeverityNormal, err
	}
	avg10, err := parsePSISomeAvg10(string(data))
	if err != nil {
		return telemetry.SeverityNormal, err
	}
	return classifyPSI(avg10), nil
}

// parsePSISomeAvg10 extracts avg10 from the "some" line of
// /proc/pressure/memory, e.g.:
//
//	some avg10=0.00 avg60=0.00 avg300=0.00 total=0
//	full avg10=0.00 avg60=0.00 avg300=0.00 total=0
func parsePSISomeAvg10(contents string) (float64, error) {
	for _, line := range strings.Split(contents, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "some" {
			continue
		}
		for _, field := range fields[1:] {
			if !strings.HasPrefix(field, "avg10=") {
				continue
			}
			return strconv.ParseFloat(strings.TrimPrefix(field, "avg10="), 64)
		}
	}
	return 0, fmt.Errorf("no some/avg10 entry in pressure data")
}

func classifyPSI(avg10 float64) telemetry.Severity {
	switch {
	case avg10 >= psiCritical:
		return telemetry.SeverityCritical
	case avg10 >= psiWarning:
		return telemetry.SeverityWarning
	default:
		return telemetry.SeverityNormal
	}
}

// readDerivedLevel approximates pressure from the host's available memory
// percentage when no kernel pressure signal is exposed.
func readDerivedLevel() (telemetry.Severity, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return telemetry.SeverityNormal, err
	}
	if vm.Total == 0 {
		return telemetry.SeverityNormal, fmt.Errorf("host reports zero total memory")
	}
	return classifyAvailable(vm.Available * 100 / vm.Total), nil
}

func classifyAvailable(availablePercent uint64) telemetry.Severity {
	switch {
	case availablePercent < availCritical:
		return telemetry.SeverityCritical
	case availablePercent < availWarning:
		return telemetry.SeverityWarning
	default:
		return telemetry.SeverityNormal
	}
}
