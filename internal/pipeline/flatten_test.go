package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/treelab/sapflow/internal/parser"
)

func f(v float64) *float64 { return &v }

// twoSensorFile builds a parsed file with two sensors of two pairs each and
// n data rows.
func twoSensorFile(n int) *parser.ParsedFile {
	file := &parser.ParsedFile{
		LoggerID: "TREE-07",
		Format:   parser.FormatTOA5,
	}
	base := time.Date(2023, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		file.Logger.Timestamps = append(file.Logger.Timestamps, base.Add(time.Duration(i)*30*time.Minute))
		file.Logger.Records = append(file.Logger.Records, int64(100+i))
		file.Logger.BattVolt = append(file.Logger.BattVolt, f(12.5))
		file.Logger.PanelTemp = append(file.Logger.PanelTemp, f(21.0))
	}

	for s := 1; s <= 2; s++ {
		sensor := parser.Sensor{
			Address: map[int]string{1: "1", 2: "2"}[s],
			Extra:   map[string][]*float64{},
			Pairs: []parser.ThermistorPair{
				{Depth: parser.DepthOuter},
				{Depth: parser.DepthInner},
			},
		}
		for i := 0; i < n; i++ {
			for pi := range sensor.Pairs {
				sensor.Pairs[pi].Alpha = append(sensor.Pairs[pi].Alpha, f(float64(s)+float64(i)/10))
				sensor.Pairs[pi].Beta = append(sensor.Pairs[pi].Beta, f(1.2))
				sensor.Pairs[pi].TimeToMax = append(sensor.Pairs[pi].TimeToMax, f(35))
			}
			sensor.Extra["pulse_dur"] = append(sensor.Extra["pulse_dur"], f(2.5))
		}
		file.Sensors = append(file.Sensors, sensor)
	}
	return file
}

func TestFlattenRowCount(t *testing.T) {
	// Two sensors x two pairs x three rows = twelve output rows per file.
	rows, err := Flatten([]SourceFile{
		{Hash: "aaa", File: twoSensorFile(3)},
		{Hash: "bbb", File: twoSensorFile(3)},
	})
	if err != nil {
		t.Fatalf("Flatten() error = %v", err)
	}
	if len(rows) != 24 {
		t.Fatalf("len(rows) = %d, want 24", len(rows))
	}

	first := rows[0]
	if first.FileHash != "aaa" || first.LoggerID != "TREE-07" {
		t.Errorf("row identity = %q/%q, want aaa/TREE-07", first.FileHash, first.LoggerID)
	}
	if first.Address != "1" || first.Depth != parser.DepthOuter {
		t.Errorf("row position = %q/%q, want sensor 1 outer", first.Address, first.Depth)
	}
	if first.Record != 100 {
		t.Errorf("Record = %d, want 100", first.Record)
	}
	if first.Extra["pulse_dur"] == nil || *first.Extra["pulse_dur"] != 2.5 {
		t.Errorf("Extra[pulse_dur] = %v, want 2.5", first.Extra["pulse_dur"])
	}

	// Rows come out block-wise: sensor 1 outer, sensor 1 inner, sensor 2...
	if rows[3].Depth != parser.DepthInner || rows[3].Address != "1" {
		t.Errorf("row 3 = sensor %q depth %q, want sensor 1 inner", rows[3].Address, rows[3].Depth)
	}
	if rows[6].Address != "2" {
		t.Errorf("row 6 address = %q, want sensor 2", rows[6].Address)
	}
	if rows[12].FileHash != "bbb" {
		t.Errorf("row 12 hash = %q, want second file", rows[12].FileHash)
	}
}

func TestFlattenEmptyTimeToMax(t *testing.T) {
	file := twoSensorFile(2)
	file.Sensors[0].Pairs[0].TimeToMax = nil

	rows, err := Flatten([]SourceFile{{Hash: "aaa", File: file}})
	if err != nil {
		t.Fatalf("Flatten() error = %v", err)
	}
	if rows[0].TimeToMax != nil {
		t.Errorf("TimeToMax = %v, want nil for a pair without the column", *rows[0].TimeToMax)
	}
}

func TestFlattenLengthMismatch(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(*parser.ParsedFile)
	}{
		{"short alpha", func(pf *parser.ParsedFile) {
			pf.Sensors[1].Pairs[0].Alpha = pf.Sensors[1].Pairs[0].Alpha[:1]
		}},
		{"short beta", func(pf *parser.ParsedFile) {
			pf.Sensors[0].Pairs[1].Beta = pf.Sensors[0].Pairs[1].Beta[:1]
		}},
		{"short tmax", func(pf *parser.ParsedFile) {
			pf.Sensors[0].Pairs[0].TimeToMax = pf.Sensors[0].Pairs[0].TimeToMax[:1]
		}},
		{"short extra", func(pf *parser.ParsedFile) {
			pf.Sensors[0].Extra["pulse_dur"] = pf.Sensors[0].Extra["pulse_dur"][:1]
		}},
		{"short records", func(pf *parser.ParsedFile) {
			pf.Logger.Records = pf.Logger.Records[:1]
		}},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			file := twoSensorFile(3)
			tt.mutate(file)

			_, err := Flatten([]SourceFile{{Hash: "aaa", File: file}})
			var mismatch *LengthMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("Flatten() error = %v, want LengthMismatchError", err)
			}
			if mismatch.Hash != "aaa" {
				t.Errorf("Hash = %q, want aaa", mismatch.Hash)
			}
		})
	}
}

func TestFlattenNoFiles(t *testing.T) {
	rows, err := Flatten(nil)
	if err != nil {
		t.Fatalf("Flatten(nil) error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("len(rows) = %d, want 0", len(rows))
	}
}
