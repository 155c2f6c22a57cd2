package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		name  string
		used  uint64
		limit uint64
		want  Severity
	}{
		{"zero usage", 0, 10000, SeverityNormal},
		{"just under warning", 2499, 10000, SeverityNormal},
		{"warning boundary", 2500, 10000, SeverityWarning},
		{"just under urgent", 4999, 10000, SeverityWarning},
		{"urgent boundary", 5000, 10000, SeverityUrgent},
		{"just under critical", 7499, 10000, SeverityUrgent},
		{"critical boundary", 7500, 10000, SeverityCritical},
		{"just under terminal", 8999, 10000, SeverityCritical},
		{"terminal boundary", 9000, 10000, SeverityTerminal},
		{"fully used", 10000, 10000, SeverityTerminal},
		{"over limit", 12000, 10000, SeverityTerminal},
		{"zero limit fails safe", 0, 0, SeverityTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.used, tt.limit)
			assert.Equal(t, tt.want, got, "classify(%d, %d)", tt.used, tt.limit)
		})
	}
}

func TestClassify_MonotonicInRatio(t *testing.T) {
	const limit = 1_000_000
	prev := SeverityNormal
	for used := uint64(0); used <= limit; used += 1000 {
		got := Classify(used, limit)
		assert.GreaterOrEqual(t, int(got), int(prev), "classification regressed at used=%d", used)
		prev = got
	}
	assert.Equal(t, SeverityTerminal, prev)
}

func TestSeverity_Ordering(t *testing.T) {
	ordered := []Severity{SeverityNormal, SeverityWarning, SeverityUrgent, SeverityCritical, SeverityTerminal}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, int(ordered[i-1]), int(ordered[i]))
	}
}

func TestSeverity_String(t *testing.T) {
	assert.Equal(t, "normal", SeverityNormal.String())
	assert.Equal(t, "terminal", SeverityTerminal.String())
	assert.Equal(t, "unknown", Severity(42).String())
}
