package pipeline

import (
	"strings"
	"testing"
	"time"
)

func utc(month time.Month, day, hour int) time.Time {
	return time.Date(2023, month, day, hour, 0, 0, 0, time.UTC)
}

func tp(t time.Time) *time.Time { return &t }

func TestEnrichMatches(t *testing.T) {
	intervals := []Interval{
		{
			LoggerID: "TREE-07", Address: "1",
			Site: "north-ridge", Tree: "beech-04", SensorID: "HPV-031",
			Start: utc(time.May, 1, 0), End: tp(utc(time.September, 1, 0)),
			Attrs: map[string]string{"azimuth": "120"},
		},
		{
			LoggerID: "TREE-07", Address: "2",
			Site: "north-ridge", Tree: "beech-05", SensorID: "HPV-032",
			Start: utc(time.May, 1, 0),
		},
	}

	rows := []Row{
		{LoggerID: "TREE-07", Address: "1", UTCTime: utc(time.June, 15, 12)},
		{LoggerID: "TREE-07", Address: "2", UTCTime: utc(time.June, 15, 12)},
		{LoggerID: "TREE-07", Address: "1", UTCTime: utc(time.October, 1, 12)}, // after interval end
		{LoggerID: "TREE-99", Address: "1", UTCTime: utc(time.June, 15, 12)},  // unknown logger
	}

	warnings := Enrich(rows, intervals)
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none", warnings)
	}

	if rows[0].Tree == nil || *rows[0].Tree != "beech-04" {
		t.Errorf("rows[0].Tree = %v, want beech-04", rows[0].Tree)
	}
	if rows[0].Attrs["azimuth"] != "120" {
		t.Errorf("rows[0].Attrs = %v, want azimuth 120", rows[0].Attrs)
	}
	if rows[1].SensorID == nil || *rows[1].SensorID != "HPV-032" {
		t.Errorf("rows[1].SensorID = %v, want HPV-032 (open-ended interval)", rows[1].SensorID)
	}

	// Enrichment never filters: unmatched rows stay, with nil metadata.
	for _, i := range []int{2, 3} {
		if rows[i].Site != nil || rows[i].Tree != nil || rows[i].SensorID != nil {
			t.Errorf("rows[%d] got metadata despite matching no interval", i)
		}
	}
}

func TestEnrichBoundaries(t *testing.T) {
	intervals := []Interval{{
		LoggerID: "L", Address: "0", Tree: "oak-01",
		Start: utc(time.May, 1, 0), End: tp(utc(time.June, 1, 0)),
	}}

	rows := []Row{
		{LoggerID: "L", Address: "0", UTCTime: utc(time.May, 1, 0)},  // start is inclusive
		{LoggerID: "L", Address: "0", UTCTime: utc(time.June, 1, 0)}, // end is exclusive
	}
	Enrich(rows, intervals)

	if rows[0].Tree == nil {
		t.Error("row at interval start not matched; start must be inclusive")
	}
	if rows[1].Tree != nil {
		t.Error("row at interval end matched; end must be exclusive")
	}
}

func TestEnrichOverlapWarnsAndPicksMostRecent(t *testing.T) {
	intervals := []Interval{
		{LoggerID: "L", Address: "0", Tree: "old", Start: utc(time.January, 1, 0)},
		{LoggerID: "L", Address: "0", Tree: "new", Start: utc(time.June, 1, 0)},
	}

	rows := []Row{
		{LoggerID: "L", Address: "0", UTCTime: utc(time.July, 1, 0)},
		{LoggerID: "L", Address: "0", UTCTime: utc(time.July, 2, 0)},
	}
	warnings := Enrich(rows, intervals)

	for i := range rows {
		if rows[i].Tree == nil || *rows[i].Tree != "new" {
			t.Errorf("rows[%d].Tree = %v, want the most recently started interval", i, rows[i].Tree)
		}
	}
	// One warning per (logger, address) key, not per row.
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", warnings)
	}
	if !strings.Contains(warnings[0], "overlapping") {
		t.Errorf("warning = %q, want overlap description", warnings[0])
	}
}

func TestEnrichEmptyFieldsStayNil(t *testing.T) {
	intervals := []Interval{{
		LoggerID: "L", Address: "0", Tree: "oak-01",
		Start: utc(time.January, 1, 0),
	}}
	rows := []Row{{LoggerID: "L", Address: "0", UTCTime: utc(time.June, 1, 0)}}

	Enrich(rows, intervals)

	if rows[0].Site != nil {
		t.Errorf("Site = %q, want nil for an interval without a site", *rows[0].Site)
	}
	if rows[0].Tree == nil || *rows[0].Tree != "oak-01" {
		t.Errorf("Tree = %v, want oak-01", rows[0].Tree)
	}
}

func TestEnrichNoIntervals(t *testing.T) {
	rows := []Row{{LoggerID: "L", Address: "0", UTCTime: utc(time.June, 1, 0)}}
	if warnings := Enrich(rows, nil); len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
	if rows[0].Site != nil || rows[0].Tree != nil {
		t.Error("row enriched with no intervals defined")
	}
}
