package parser

// legacy.go parses the fixed-layout single-sensor format written by
// pre-TOA5 logger firmware. The file opens with an identity row
// ("HPVLOGGER,<logger id>"), then a fixed column-name row, then data.
// The single sensor sits at SDI-12 address 0 and always reports both
// thermistor pairs plus time-to-max.

import (
	"fmt"
	"strings"
)

// FormatLegacy is the format code recorded for files parsed by LegacyParser.
const FormatLegacy = "hpv-legacy"

// legacyDeviceTag is the identity cell that marks the legacy format.
const legacyDeviceTag = "HPVLOGGER"

// legacyColumns is the fixed header layout, in order.
var legacyColumns = []string{
	"Timestamp", "Record", "BattV", "PTemp",
	"AlphaOut", "AlphaIn", "BetaOut", "BetaIn", "TmaxOut", "TmaxIn",
}

// LegacyParser parses the single-sensor legacy format.
type LegacyParser struct{}

// NewLegacyParser returns the legacy single-sensor parser.
func NewLegacyParser() *LegacyParser { return &LegacyParser{} }

func (p *LegacyParser) Name() string { return FormatLegacy }

func (p *LegacyParser) Parse(data []byte) (*ParsedFile, error) {
	records, err := readCSV(data)
	if err != nil {
		return nil, &FormatMismatchError{Parser: p.Name(), Reason: fmt.Sprintf("not parseable as CSV: %v", err)}
	}
	if len(records) == 0 {
		return nil, &FormatMismatchError{Parser: p.Name(), Reason: "empty file"}
	}

	identity := records[0]
	if !equalFoldCell(identity[0], legacyDeviceTag) {
		return nil, &FormatMismatchError{Parser: p.Name(), Reason: "first field is not " + legacyDeviceTag}
	}

	// Recognized from here on.
	if len(identity) < 2 || CleanCell(identity[1]) == "" {
		return nil, &HeaderError{Parser: p.Name(), Reason: "identity row is missing the logger id"}
	}
	loggerID := CleanCell(identity[1])

	if len(records) < 2 {
		return nil, &HeaderError{Parser: p.Name(), Reason: "missing column-name row"}
	}
	header := records[1]
	if len(header) < len(legacyColumns) {
		return nil, &HeaderError{Parser: p.Name(), Reason: fmt.Sprintf("expected %d columns, got %d", len(legacyColumns), len(header))}
	}
	for i, want := range legacyColumns {
		if !equalFoldCell(header[i], want) {
			return nil, &HeaderError{Parser: p.Name(), Reason: fmt.Sprintf("column %d is %q, want %q", i, CleanCell(header[i]), want)}
		}
	}

	file := &ParsedFile{
		LoggerID: loggerID,
		Format:   p.Name(),
		Sensors: []Sensor{{
			Address: "0",
			Extra:   map[string][]*float64{},
			Pairs: []ThermistorPair{
				{Depth: DepthOuter},
				{Depth: DepthInner},
			},
		}},
	}
	sensor := &file.Sensors[0]

	for i, row := range records[2:] {
		if isEmptyRow(row) {
			continue
		}

		ts, err := parseNaiveTime(cellAt(row, 0))
		if err != nil {
			return nil, &DataRowError{Parser: p.Name(), Row: i, Reason: fmt.Sprintf("invalid timestamp %q", cellAt(row, 0))}
		}
		rec, err := parseRecordNumber(cellAt(row, 1))
		if err != nil {
			return nil, &DataRowError{Parser: p.Name(), Row: i, Reason: fmt.Sprintf("invalid record number %q", cellAt(row, 1))}
		}

		file.Logger.Timestamps = append(file.Logger.Timestamps, ts)
		file.Logger.Records = append(file.Logger.Records, rec)
		file.Logger.BattVolt = append(file.Logger.BattVolt, optionalMeasurement(row, 2))
		file.Logger.PanelTemp = append(file.Logger.PanelTemp, optionalMeasurement(row, 3))

		// AlphaOut AlphaIn BetaOut BetaIn are required; Tmax is permissive.
		for pi, cols := range [][2]int{{4, 6}, {5, 7}} {
			alpha, err := requiredMeasurement(row, cols[0], i, header, p.Name())
			if err != nil {
				return nil, err
			}
			beta, err := requiredMeasurement(row, cols[1], i, header, p.Name())
			if err != nil {
				return nil, err
			}
			sensor.Pairs[pi].Alpha = append(sensor.Pairs[pi].Alpha, alpha)
			sensor.Pairs[pi].Beta = append(sensor.Pairs[pi].Beta, beta)
			sensor.Pairs[pi].TimeToMax = append(sensor.Pairs[pi].TimeToMax, optionalMeasurement(row, 8+pi))
		}
	}

	if file.Logger.Len() == 0 {
		return nil, &EmptyDataError{Parser: p.Name()}
	}

	return file, nil
}

func equalFoldCell(cell, want string) bool {
	return strings.EqualFold(CleanCell(cell), want)
}
