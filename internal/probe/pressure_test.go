package probe

import (
	"testing"

	"memwatch/internal/telemetry"
)

func TestParsePSISomeAvg10(t *testing.T) {
	contents := "some avg10=12.34 avg60=5.00 avg300=1.00 total=123456\n" +
		"full avg10=0.50 avg60=0.10 avg300=0.00 total=9876\n"

	avg10, err := parsePSISomeAvg10(contents)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if avg10 != 12.34 {
		t.Errorf("expected avg10 12.34, got %f", avg10)
	}
}

func TestParsePSISomeAvg10_Malformed(t *testing.T) {
	cases := []string{
		"",
		"full avg10=1.00 avg60=0.00 avg300=0.00 total=0\n",
		"some avg60=1.00\n",
		"garbage\n",
	}
	for _, contents := range cases {
		if _, err := parsePSISomeAvg10(contents); err == nil {
			t.Errorf("expected parse error for %q", contents)
		}
	}
}

func TestClassifyPSI(t *testing.T) {
	tests := []struct {
		avg10 float64
		want  telemetry.Severity
	}{
		{0.0, telemetry.SeverityNormal},
		{9.99, telemetry.SeverityNormal},
		{10.0, telemetry.SeverityWarning},
		{49.99, telemetry.SeverityWarning},
		{50.0, telemetry.SeverityCritical},
		{100.0, telemetry.SeverityCritical},
	}
	for _, tt := range tests {
		if got := classifyPSI(tt.avg10); got != tt.want {
			t.Errorf("classifyPSI(%f) = %s, want %s", tt.avg10, got, tt.want)
		}
	}
}

func TestClassifyAvailable(t *testing.T) {
	tests := []struct {
		availablePercent uint64
		want             telemetry.Severity
	}{
		{50, telemetry.SeverityNormal},
		{15, telemetry.SeverityNormal},
		{14, telemetry.SeverityWarning},
		{5, telemetry.SeverityWarning},
		{4, telemetry.SeverityCritical},
		{0, telemetry.SeverityCritical},
	}
	for _, tt := range tests {
		if got := classifyAvailable(tt.availablePercent); got != tt.want {
			t.Errorf("classifyAvailable(%d) = %s, want %s", tt.availablePercent, got, tt.want)
		}
	}
}

func TestNewPressureWatcher_UnknownSource(t *testing.T) {
	if _, err := NewPressureWatcher("bogus"); err == nil {
		t.Error("expected error for unknown source")
	}
}
