package pipeline

// enrich.go attaches deployment metadata to normalized rows by
// time-interval matching. Enrichment never filters: a row no interval
// covers keeps nil metadata and flows through to the output table.

import (
	"fmt"
	"time"
)

// Interval is one deployment: the assignment of a sensor position to a
// project site and tree for a bounded time. Start is inclusive and End
// exclusive, both UTC; a nil End means the deployment is still active.
type Interval struct {
	LoggerID string
	Address  string

	Site     string
	Tree     string
	SensorID string

	Start time.Time
	End   *time.Time

	Attrs map[string]string
}

// Contains reports whether the interval covers the UTC instant.
func (iv *Interval) Contains(utc time.Time) bool {
	if utc.Before(iv.Start) {
		return false
	}
	return iv.End == nil || utc.Before(*iv.End)
}

// Enrich attaches site/tree/sensor identity and attributes to every row
// whose (logger id, sdi address, UTC timestamp) key falls inside a
// deployment interval.
//
// At most one interval should match any row. When malformed reference data
// produces several matches, the most-recently-started interval wins and a
// data-integrity warning is returned; resolution is never silently
// arbitrary. The returned warnings are informational, not errors.
func Enrich(rows []Row, intervals []Interval) []string {
	byKey := make(map[string][]*Interval)
	for i := range intervals {
		iv := &intervals[i]
		k := iv.LoggerID + "\x00" + iv.Address
		byKey[k] = append(byKey[k], iv)
	}

	var warnings []string
	warned := make(map[string]bool)

	for i := range rows {
		row := &rows[i]

		var match *Interval
		matches := 0
		for _, iv := range byKey[row.LoggerID+"\x00"+row.Address] {
			if !iv.Contains(row.UTCTime) {
				continue
			}
			matches++
			if match == nil || iv.Start.After(match.Start) {
				match = iv
			}
		}

		if matches > 1 {
			k := fmt.Sprintf("%s/%s", row.LoggerID, row.Address)
			if !warned[k] {
				warned[k] = true
				warnings = append(warnings, fmt.Sprintf(
					"logger %s address %s: %d overlapping deployment intervals at %s; using the most recently started",
					row.LoggerID, row.Address, matches, row.UTCTime.Format(time.RFC3339)))
			}
		}

		if match == nil {
			continue
		}
		row.Site = strPtr(match.Site)
		row.Tree = strPtr(match.Tree)
		row.SensorID = strPtr(match.SensorID)
		if len(match.Attrs) > 0 {
			row.Attrs = match.Attrs
		}
	}

	return warnings
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
