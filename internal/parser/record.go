package parser

import "time"

// Depth labels for the two thermistor pairs of a heat-pulse sensor.
const (
	DepthOuter = "outer"
	DepthInner = "inner"
)

// ParsedFile is the hierarchical record produced by parsing one raw file:
// a logger-level table plus an ordered list of sensor blocks.
//
// Invariant: every per-row slice in every sensor and thermistor-pair block
// has exactly Logger.Len() entries. Parsers must uphold this; the flattener
// treats a violation as a bug, not as bad input.
type ParsedFile struct {
	LoggerID string
	Format   string
	Logger   LoggerTable
	Sensors  []Sensor
}

// LoggerTable holds the per-row logger columns.
// Timestamps are naive local wall-clock values.
type LoggerTable struct {
	Timestamps []time.Time
	Records    []int64
	BattVolt   []*float64
	PanelTemp  []*float64
}

// Len returns the number of data rows in the file.
func (t LoggerTable) Len() int { return len(t.Timestamps) }

// Sensor is one heat-pulse sensor on the logger's SDI-12 bus.
//
// Extra carries optional sensor-level per-row columns (pulse timing,
// diagnostics) keyed by canonical metric name. Pairs is ordered outer, inner.
type Sensor struct {
	Address string
	Extra   map[string][]*float64
	Pairs   []ThermistorPair
}

// ThermistorPair holds the per-row pulse measurements for one probe depth.
// Alpha and Beta are always present; TimeToMax is nil when the file's
// firmware does not report it.
type ThermistorPair struct {
	Depth     string
	Alpha     []*float64
	Beta      []*float64
	TimeToMax []*float64
}
