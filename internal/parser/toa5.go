package parser

// toa5.go parses the TOA5 multi-sensor heat-pulse table format.
//
// Campbell-style TOA5 files carry four header lines (environment, field
// names, units, processing) followed by data rows. The logger columns are
// TIMESTAMP, RECORD, BattV_Min and PTemp_C_Avg; each sensor k on the SDI-12
// bus contributes columns prefixed S<k>_. The sensor count varies per file
// and per program build, so the parser discovers it by scanning the header
// rather than assuming a fixed bus population.

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// FormatTOA5 is the format code recorded for files parsed by TOA5Parser.
const FormatTOA5 = "toa5-hpv"

// toa5HeaderRows is the number of header lines before data begins.
const toa5HeaderRows = 4

var sensorColRe = regexp.MustCompile(`^[Ss](\d+)_(.+)$`)

// pairMetric maps a canonical column suffix to its thermistor depth and slot.
type pairMetric struct {
	depth    string
	metric   string
	required bool
}

// pairMetricCols is the canonical pair-level vocabulary, keyed by lowercased
// suffix after the S<k>_ prefix is stripped.
var pairMetricCols = map[string]pairMetric{
	"alpha_outer": {DepthOuter, "alpha", true},
	"alpha_inner": {DepthInner, "alpha", true},
	"beta_outer":  {DepthOuter, "beta", true},
	"beta_inner":  {DepthInner, "beta", true},
	"tmax_outer":  {DepthOuter, "tmax", false},
	"tmax_inner":  {DepthInner, "tmax", false},
}

// sensorExtraCols is the canonical sensor-level vocabulary: optional pulse
// timing and diagnostic columns, keyed by lowercased suffix. The value is
// the canonical name used in the output record.
var sensorExtraCols = map[string]string{
	"pulsedur":   "pulse_dur",
	"tini_outer": "tini_outer",
	"tini_inner": "tini_inner",
	"diag":       "diag",
}

// TOA5Parser parses the TOA5 multi-sensor format.
type TOA5Parser struct{}

// NewTOA5Parser returns the TOA5 multi-sensor parser.
func NewTOA5Parser() *TOA5Parser { return &TOA5Parser{} }

func (p *TOA5Parser) Name() string { return FormatTOA5 }

// toa5Pair holds the column indexes for one thermistor pair. -1 means the
// column is absent.
type toa5Pair struct {
	alpha int
	beta  int
	tmax  int
}

// toa5Sensor holds the discovered column layout for one sensor block.
type toa5Sensor struct {
	num    int
	pairs  map[string]*toa5Pair       // by depth
	extras map[string]int             // canonical name -> column index
	names  map[string]map[string]bool // depth -> metric -> seen (for required check)
}

func (p *TOA5Parser) Parse(data []byte) (*ParsedFile, error) {
	records, err := readCSV(data)
	if err != nil {
		return nil, &FormatMismatchError{Parser: p.Name(), Reason: fmt.Sprintf("not parseable as CSV: %v", err)}
	}
	if len(records) < 2 {
		return nil, &FormatMismatchError{Parser: p.Name(), Reason: "too few lines for a TOA5 table"}
	}

	env := records[0]
	if !strings.EqualFold(CleanCell(env[0]), "TOA5") {
		return nil, &FormatMismatchError{Parser: p.Name(), Reason: "first header field is not TOA5"}
	}

	header := records[1]
	sensors, err := p.discoverSensors(header)
	if err != nil {
		return nil, err
	}
	if len(sensors) == 0 {
		// A TOA5 table from some other datalogger program.
		return nil, &FormatMismatchError{Parser: p.Name(), Reason: "no S<k>_ heat-pulse sensor columns in header"}
	}

	// Recognized from here on: every further problem is fatal for this file.
	loggerID := p.loggerID(env)
	if loggerID == "" {
		return nil, &HeaderError{Parser: p.Name(), Reason: "environment line has neither station name nor serial number"}
	}
	if len(records) < toa5HeaderRows {
		return nil, &HeaderError{Parser: p.Name(), Reason: "truncated header: expected field-name, unit and processing rows"}
	}

	tsCol, recCol := -1, -1
	battCol, ptempCol := -1, -1
	for i, h := range header {
		switch key := strings.ToLower(CleanCell(h)); {
		case key == "timestamp":
			tsCol = i
		case key == "record":
			recCol = i
		case strings.HasPrefix(key, "battv"):
			battCol = i
		case strings.HasPrefix(key, "ptemp"):
			ptempCol = i
		}
	}
	if tsCol < 0 {
		return nil, &HeaderError{Parser: p.Name(), Reason: "missing TIMESTAMP column"}
	}
	if recCol < 0 {
		return nil, &HeaderError{Parser: p.Name(), Reason: "missing RECORD column"}
	}

	dataRows := records[toa5HeaderRows:]
	file := &ParsedFile{
		LoggerID: loggerID,
		Format:   p.Name(),
		Sensors:  make([]Sensor, len(sensors)),
	}
	for i, s := range sensors {
		file.Sensors[i] = Sensor{
			Address: strconv.Itoa(s.num),
			Extra:   make(map[string][]*float64),
			Pairs: []ThermistorPair{
				{Depth: DepthOuter},
				{Depth: DepthInner},
			},
		}
		for name := range s.extras {
			file.Sensors[i].Extra[name] = nil
		}
	}

	for i, row := range dataRows {
		if isEmptyRow(row) {
			continue
		}

		ts, err := parseNaiveTime(cellAt(row, tsCol))
		if err != nil {
			return nil, &DataRowError{Parser: p.Name(), Row: i, Reason: fmt.Sprintf("invalid timestamp %q", cellAt(row, tsCol))}
		}
		rec, err := parseRecordNumber(cellAt(row, recCol))
		if err != nil {
			return nil, &DataRowError{Parser: p.Name(), Row: i, Reason: fmt.Sprintf("invalid record number %q", cellAt(row, recCol))}
		}

		file.Logger.Timestamps = append(file.Logger.Timestamps, ts)
		file.Logger.Records = append(file.Logger.Records, rec)
		file.Logger.BattVolt = append(file.Logger.BattVolt, optionalMeasurement(row, battCol))
		file.Logger.PanelTemp = append(file.Logger.PanelTemp, optionalMeasurement(row, ptempCol))

		for si, s := range sensors {
			out := &file.Sensors[si]
			for pi := range out.Pairs {
				pair := out.Pairs[pi].Depth
				cols := s.pairs[pair]

				alpha, err := requiredMeasurement(row, cols.alpha, i, header, p.Name())
				if err != nil {
					return nil, err
				}
				beta, err := requiredMeasurement(row, cols.beta, i, header, p.Name())
				if err != nil {
					return nil, err
				}
				out.Pairs[pi].Alpha = append(out.Pairs[pi].Alpha, alpha)
				out.Pairs[pi].Beta = append(out.Pairs[pi].Beta, beta)
				if cols.tmax >= 0 {
					out.Pairs[pi].TimeToMax = append(out.Pairs[pi].TimeToMax, optionalMeasurement(row, cols.tmax))
				}
			}
			for name, col := range s.extras {
				out.Extra[name] = append(out.Extra[name], optionalMeasurement(row, col))
			}
		}
	}

	if file.Logger.Len() == 0 {
		return nil, &EmptyDataError{Parser: p.Name()}
	}

	return file, nil
}

// discoverSensors scans the header for S<k>_ columns and groups them by
// sensor number. Unrecognized suffixes are ignored for forward compatibility;
// a recognized sensor missing a required pair metric is a DataRowError.
func (p *TOA5Parser) discoverSensors(header []string) ([]*toa5Sensor, error) {
	byNum := make(map[int]*toa5Sensor)

	for i, h := range header {
		m := sensorColRe.FindStringSubmatch(CleanCell(h))
		if m == nil {
			continue
		}
		num, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		suffix := strings.ToLower(m[2])

		pm, isPair := pairMetricCols[suffix]
		canon, isExtra := sensorExtraCols[suffix]
		if !isPair && !isExtra {
			continue
		}

		s := byNum[num]
		if s == nil {
			s = &toa5Sensor{
				num:    num,
				pairs:  map[string]*toa5Pair{DepthOuter: {-1, -1, -1}, DepthInner: {-1, -1, -1}},
				extras: make(map[string]int),
				names:  map[string]map[string]bool{DepthOuter: {}, DepthInner: {}},
			}
			byNum[num] = s
		}

		if isPair {
			cols := s.pairs[pm.depth]
			switch pm.metric {
			case "alpha":
				cols.alpha = i
			case "beta":
				cols.beta = i
			case "tmax":
				cols.tmax = i
			}
			s.names[pm.depth][pm.metric] = true
		} else {
			s.extras[canon] = i
		}
	}

	nums := make([]int, 0, len(byNum))
	for n := range byNum {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	sensors := make([]*toa5Sensor, 0, len(nums))
	for _, n := range nums {
		s := byNum[n]
		for _, depth := range []string{DepthOuter, DepthInner} {
			for _, metric := range []string{"alpha", "beta"} {
				if !s.names[depth][metric] {
					return nil, &DataRowError{
						Parser: p.Name(),
						Row:    -1,
						Reason: fmt.Sprintf("sensor S%d: missing required column S%d_%s_%s", n, n, titleMetric(metric), titleDepth(depth)),
					}
				}
			}
		}
		sensors = append(sensors, s)
	}

	return sensors, nil
}

// loggerID picks the logger identity from the TOA5 environment line:
// the station name, falling back to the serial number.
func (p *TOA5Parser) loggerID(env []string) string {
	if len(env) > 1 {
		if name := CleanCell(env[1]); name != "" {
			return name
		}
	}
	if len(env) > 3 {
		return CleanCell(env[3])
	}
	return ""
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// optionalMeasurement parses a non-required numeric cell. Sentinels and
// unparseable content both become missing.
func optionalMeasurement(row []string, col int) *float64 {
	if col < 0 {
		return nil
	}
	v, _ := parseMeasurement(cellAt(row, col))
	return v
}

// requiredMeasurement parses a required numeric cell. Sentinels are still
// allowed (a failed pulse is a legitimate missing measurement); only
// non-numeric garbage is an error.
func requiredMeasurement(row []string, col int, rowIdx int, header []string, parserName string) (*float64, error) {
	cell := cellAt(row, col)
	v, ok := parseMeasurement(cell)
	if !ok {
		colName := ""
		if col >= 0 && col < len(header) {
			colName = CleanCell(header[col])
		}
		return nil, &DataRowError{
			Parser: parserName,
			Row:    rowIdx,
			Reason: fmt.Sprintf("non-numeric value %q in column %s", CleanCell(cell), colName),
		}
	}
	return v, nil
}

func titleMetric(m string) string {
	switch m {
	case "alpha":
		return "Alpha"
	case "beta":
		return "Beta"
	default:
		return m
	}
}

func titleDepth(d string) string {
	switch d {
	case DepthOuter:
		return "Outer"
	case DepthInner:
		return "Inner"
	default:
		return d
	}
}
