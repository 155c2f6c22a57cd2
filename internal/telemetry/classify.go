package telemetry

// Classifier thresholds on the used/limit ratio. Fixed properties of the
// severity scale, not runtime configuration.
const (
	thresholdWarning  = 0.25
	thresholdUrgent   = 0.50
	thresholdCritical = 0.75
	thresholdTerminal = 0.90
)

// Classify maps a used/limit ratio to a severity. A zero limit means the
// budget could not be determined; the ratio is defined as 1.0 so the
// classification fails safe to terminal.
func Classify(used, limit uint64) Severity {
	ratio := 1.0
	if limit > 0 {
		ratio = float64(used) / float64(limit)
	}

	switch {
	case ratio < thresholdWarning:
		return SeverityNormal
	case ratio < thresholdUrgent:
		return SeverityWarning
	case ratio < thresholdCritical:
		return SeverityUrgent
	case ratio < thresholdTerminal:
		return SeverityCritical
	default:
		return SeverityTerminal
	}
}
