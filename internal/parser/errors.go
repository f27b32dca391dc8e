package parser

import (
	"fmt"
	"strings"
)

// The error taxonomy drives dispatch:
//
//   - FormatMismatchError: "not my format". Recoverable; the registry moves
//     on to the next parser.
//   - HeaderError, DataRowError, EmptyDataError: the parser recognized the
//     format but the file is malformed. Fatal for this file; dispatch stops.
//   - NoMatchError: every registered parser mismatched. Carries the full
//     attempt trail for diagnosis.

// FormatMismatchError reports that a file is not in the parser's format.
type FormatMismatchError struct {
	Parser string
	Reason string
}

func (e *FormatMismatchError) Error() string {
	return fmt.Sprintf("%s: format mismatch: %s", e.Parser, e.Reason)
}

// HeaderError reports a recognized file with an invalid or truncated header.
type HeaderError struct {
	Parser string
	Reason string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("%s: invalid header: %s", e.Parser, e.Reason)
}

// DataRowError reports malformed content in a data row, or a required metric
// column missing from a recognized sensor block. Row is the zero-based index
// of the offending data row, or -1 when the problem is not row-specific.
type DataRowError struct {
	Parser string
	Row    int
	Reason string
}

func (e *DataRowError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("%s: %s", e.Parser, e.Reason)
	}
	return fmt.Sprintf("%s: row %d: %s", e.Parser, e.Row, e.Reason)
}

// EmptyDataError reports a recognized file with no data rows.
type EmptyDataError struct {
	Parser string
}

func (e *EmptyDataError) Error() string {
	return fmt.Sprintf("%s: file contains no data rows", e.Parser)
}

// Attempt records one parser's rejection during dispatch.
type Attempt struct {
	Parser string
	Reason string
}

// NoMatchError reports that no registered parser recognized the file.
type NoMatchError struct {
	Attempts []Attempt
}

func (e *NoMatchError) Error() string {
	var b strings.Builder
	b.WriteString("no parser matched the file:")
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "\n  %s: %s", a.Parser, a.Reason)
	}
	return b.String()
}
