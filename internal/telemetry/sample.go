// Package telemetry is the process memory telemetry core: it samples how
// much memory the process has used against its enforced limit on a fixed
// heartbeat, classifies the usage into severity levels, fuses it with the
// host pressure signal, debounces changes and fans accepted updates out to
// subscribers so the application can shed memory before being killed.
//
// The core only informs; it never reclaims memory itself.
package telemetry

// Severity is a point on the ordered memory severity scale. Both the
// usage-derived state axis and the host-reported pressure axis use it;
// pressure is restricted to normal/warning/critical in practice.
type Severity int

const (
	SeverityNormal Severity = iota
	SeverityWarning
	SeverityUrgent
	SeverityCritical
	SeverityTerminal
)

func (s Severity) String() string {
	switch s {
	case SeverityNormal:
		return "normal"
	case SeverityWarning:
		return "warning"
	case SeverityUrgent:
		return "urgent"
	case SeverityCritical:
		return "critical"
	case SeverityTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// ChangeSet records which axes of a candidate sample differ from the
// stored one. ChangeFootprint is the umbrella bit: set whenever state or
// pressure moved, or when used bytes moved by more than footprintDeltaBytes.
type ChangeSet uint8

const (
	ChangeState ChangeSet = 1 << iota
	ChangePressure
	ChangeFootprint
)

// Has reports whether all bits in flag are present.
func (c ChangeSet) Has(flag ChangeSet) bool {
	return c&flag == flag
}

// Empty reports whether no change was detected.
func (c ChangeSet) Empty() bool {
	return c == 0
}

func (c ChangeSet) String() string {
	if c.Empty() {
		return "none"
	}
	out := ""
	appendTag := func(tag string) {
		if out != "" {
			out += "|"
		}
		out += tag
	}
	if c.Has(ChangeState) {
		appendTag("state")
	}
	if c.Has(ChangePressure) {
		appendTag("pressure")
	}
	if c.Has(ChangeFootprint) {
		appendTag("footprint")
	}
	return out
}

// MemorySample is an immutable reading of process memory use. A sample is
// built fresh on every heartbeat or pressure tick and either discarded by
// the debounce policy or swapped into the store whole; it is never mutated
// after construction.
type MemorySample struct {
	// Used and Remaining are byte counts against the enforced limit.
	Used      uint64 `json:"used"`
	Remaining uint64 `json:"remaining"`

	// Compressed is the host's compressed-memory figure when exposed,
	// zero otherwise. Informational only.
	Compressed uint64 `json:"compressed"`

	// State is the classified severity of Used against Limit().
	State Severity `json:"state"`

	// Pressure is the host-reported severity axis, independent of Used.
	Pressure Severity `json:"pressure"`

	// Timestamp is monotonic milliseconds since monitor construction,
	// non-decreasing across accepted samples.
	Timestamp int64 `json:"timestamp_ms"`
}

// Limit is the enforced memory budget the sample was taken against.
// Always recomputed from its parts, never stored independently.
func (s MemorySample) Limit() uint64 {
	return s.Used + s.Remaining
}

// ChangeEvent is the structured notification delivered when an accepted
// sample moved the state or pressure axis.
type ChangeEvent struct {
	Old     MemorySample
	New     MemorySample
	Changes ChangeSet
}
