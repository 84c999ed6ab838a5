package models

import "time"

// Snapshot is one point-in-time capture of a UPS: the raw protocol
// fields plus derived metrics. Derived values are pointers; nil means
// the metric could not be computed for this poll.
type Snapshot struct {
	Fields         Fields    `json:"fields"`
	Watts          *float64  `json:"watts,omitempty"`
	RuntimeMinutes *float64  `json:"runtime_minutes,omitempty"`
	HeadroomPct    *float64  `json:"headroom_pct,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Derived carries the computed metrics for one raw field mapping.
type Derived struct {
	Watts          *float64
	RuntimeMinutes *float64
	HeadroomPct    *float64
}

// HistoryEntry is one append-only history record for a UPS.
type HistoryEntry struct {
	Timestamp time.Time `json:"ts"`
	Snapshot  Snapshot  `json:"snapshot"`
}

// MinuteAverage is a finalized per-minute wattage aggregate. Minute is
// formatted YYYYMMDDHHMM in UTC.
type MinuteAverage struct {
	Minute   string  `json:"minute"`
	AvgWatts float64 `json:"avg_watts"`
	Samples  int     `json:"samples"`
}

// Transition records an observed change of STATUS or LASTXFER between
// consecutive polls.
type Transition struct {
	OccurredAt time.Time `json:"ts"`
	Kind       string    `json:"type"` // STATUS | XFER
	Detail     string    `json:"detail"`
}

// VoltageSample is recorded when line voltage deviates from nominal
// beyond the accepted band.
type VoltageSample struct {
	OccurredAt   time.Time `json:"ts"`
	DeviationPct float64   `json:"deviation_pct"`
}

// VoltageStats summarizes retained deviation samples for health checks.
type VoltageStats struct {
	AvgPct  *float64 `json:"avg_pct"`
	MaxPct  *float64 `json:"max_pct"`
	Samples int      `json:"samples"`
}
