package probe

import (
	"testing"

	"memwatch/internal/telemetry"
)

func TestParseCgroupLimit(t *testing.T) {
	tests := []struct {
		raw    string
		want   uint64
		wantOK bool
	}{
		{"536870912\n", 536870912, true},
		{"  1073741824  ", 1073741824, true},
		{"max\n", 0, false},
		{"9223372036854771712\n", 0, false}, // v1 unlimited sentinel
		{"0\n", 0, false},
		{"garbage", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseCgroupLimit(tt.raw)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("parseCgroupLimit(%q) = (%d, %t), want (%d, %t)", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSystemProvider_SatisfiesInterface(t *testing.T) {
	provider, err := NewSystemProvider(0)
	if err != nil {
		t.Fatalf("failed to build provider for current process: %v", err)
	}
	var _ telemetry.Provider = provider

	raw, err := provider.Provide(telemetry.SeverityNormal)
	if err != nil {
		t.Fatalf("provide failed: %v", err)
	}
	if raw.Used == 0 {
		t.Error("a running test process must have nonzero resident memory")
	}
	if raw.Used+raw.Remaining == 0 {
		t.Error("limit must be derivable from the host")
	}
}

func TestSystemProvider_LimitOverride(t *testing.T) {
	const limit = 1 << 40
	provider, err := NewSystemProvider(limit)
	if err != nil {
		t.Fatalf("failed to build provider: %v", err)
	}

	raw, err := provider.Provide(telemetry.SeverityNormal)
	if err != nil {
		t.Fatalf("provide failed: %v", err)
	}
	if raw.Used+raw.Remaining != limit {
		t.Errorf("override limit not honored: used+remaining = %d, want %d", raw.Used+raw.Remaining, limit)
	}
}
