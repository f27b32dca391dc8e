// Package pipeline turns hierarchical parsed files into one normalized,
// timestamp-corrected, metadata-enriched measurement table.
//
// The stages are pure: they touch no storage and share nothing beyond the
// read-only DST and deployment snapshots their callers pass in. The ingest
// engine runs them in order: Flatten, then Corrector.Correct, then Enrich.
package pipeline

import (
	"fmt"
	"time"

	"github.com/treelab/sapflow/internal/parser"
)

// Row is one normalized measurement: one (timestamp, logger, sdi address,
// thermistor depth) observation carrying every physical measurement plus a
// back-reference to the source file.
//
// LocalTime is the naive wall-clock value exactly as the logger recorded it,
// retained for audit. UTCTime is zero until the corrector runs. The
// metadata fields are nil until enrichment, and stay nil for rows no
// deployment interval covers.
type Row struct {
	FileHash string
	LoggerID string
	Address  string
	Depth    string

	LocalTime time.Time
	UTCTime   time.Time
	Record    int64

	BattVolt  *float64
	PanelTemp *float64
	Alpha     *float64
	Beta      *float64
	TimeToMax *float64
	Extra     map[string]*float64

	Site     *string
	Tree     *string
	SensorID *string
	Attrs    map[string]string
}

// SourceFile pairs a parsed file with its content hash for flattening.
type SourceFile struct {
	Hash string
	File *parser.ParsedFile
}

// LengthMismatchError reports a sensor- or pair-level table whose row count
// differs from its logger table. This is a parser invariant violation, never
// an expected input error.
type LengthMismatchError struct {
	Hash    string
	Address string
	Depth   string
	Column  string
	Got     int
	Want    int
}

func (e *LengthMismatchError) Error() string {
	where := fmt.Sprintf("file %s sensor %s", e.Hash, e.Address)
	if e.Depth != "" {
		where += " depth " + e.Depth
	}
	if e.Column != "" {
		where += " column " + e.Column
	}
	return fmt.Sprintf("%s: %d rows, logger table has %d", where, e.Got, e.Want)
}
