package parser

// cell.go provides permissive cell-level parsing shared by all format parsers.
//
// Datalogger output is messy: firmware writes NAN for failed pulses, -7999
// for disconnected probes, and field laptops introduce BOMs and stray quotes.
// Missing-value sentinels become nil; genuinely non-numeric content in a
// required field is the caller's DataRowError.

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// missingTokens are sentinel values that mean "no measurement".
var missingTokens = map[string]bool{
	"":      true,
	"nan":   true,
	"-nan":  true,
	"inf":   true,
	"-inf":  true,
	"-7999": true,
	"7999":  true,
}

// timestampLayouts accepted for the naive local wall-clock column.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.9",
	"2006/01/02 15:04:05",
	"2006-01-02T15:04:05",
}

// CleanCell removes common CSV artifacts from a cell value:
// leading/trailing whitespace, a UTF-8 BOM, and surrounding quotes.
func CleanCell(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

// parseMeasurement converts a cell to a measurement value.
// Returns (nil, true) for missing-value sentinels and (nil, false) for
// content that is neither numeric nor a known sentinel.
func parseMeasurement(cell string) (*float64, bool) {
	tok := strings.ToLower(CleanCell(cell))
	if missingTokens[tok] {
		return nil, true
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil, false
	}
	return &v, true
}

// parseRecordNumber converts the logger's record-counter cell.
func parseRecordNumber(cell string) (int64, error) {
	return strconv.ParseInt(CleanCell(cell), 10, 64)
}

// parseNaiveTime parses a timestamp cell as a naive local wall-clock value.
// The result is in the UTC location purely as a container; no offset has
// been applied yet.
func parseNaiveTime(cell string) (time.Time, error) {
	s := CleanCell(cell)
	var firstErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// sanitizeUTF8 replaces invalid UTF-8 byte sequences with the replacement
// rune so encoding/csv never chokes on serial-line corruption.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('\uFFFD')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}

// readCSV parses the raw bytes as CSV with relaxed quoting and variable
// field counts, after UTF-8 sanitization.
func readCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(sanitizeUTF8(data)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

// isEmptyRow reports whether every cell in the row is blank.
func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
