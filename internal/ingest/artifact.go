package ingest

// artifact.go encodes the normalized, enriched table as the CSV artifact
// handed to the blob store. Column order is deterministic: fixed columns,
// then sorted sensor-extra names, then metadata, then sorted attribute
// names, so identical inputs always produce identical artifact bytes.

import (
	"bytes"
	"encoding/csv"
	"sort"
	"strconv"
	"time"

	"github.com/treelab/sapflow/internal/pipeline"
)

const (
	localTimeLayout = "2006-01-02 15:04:05"
)

var artifactFixedColumns = []string{
	"file_hash", "logger_id", "sdi_address", "depth",
	"local_time", "utc_time", "record",
	"batt_volt", "panel_temp", "alpha", "beta", "tmax",
}

var artifactMetaColumns = []string{"site", "tree", "sensor_id"}

// EncodeArtifact renders the normalized table as CSV bytes.
func EncodeArtifact(rows []pipeline.Row) ([]byte, error) {
	extraCols := collectKeys(rows, func(r pipeline.Row) map[string]*float64 { return r.Extra })
	attrCols := collectAttrKeys(rows)

	header := make([]string, 0, len(artifactFixedColumns)+len(extraCols)+len(artifactMetaColumns)+len(attrCols))
	header = append(header, artifactFixedColumns...)
	header = append(header, extraCols...)
	header = append(header, artifactMetaColumns...)
	for _, a := range attrCols {
		header = append(header, "attr_"+a)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}

	line := make([]string, len(header))
	for _, r := range rows {
		line = line[:0]
		line = append(line,
			r.FileHash,
			r.LoggerID,
			r.Address,
			r.Depth,
			r.LocalTime.Format(localTimeLayout),
			r.UTCTime.Format(time.RFC3339),
			strconv.FormatInt(r.Record, 10),
			formatMeasurement(r.BattVolt),
			formatMeasurement(r.PanelTemp),
			formatMeasurement(r.Alpha),
			formatMeasurement(r.Beta),
			formatMeasurement(r.TimeToMax),
		)
		for _, c := range extraCols {
			line = append(line, formatMeasurement(r.Extra[c]))
		}
		line = append(line, strOrEmpty(r.Site), strOrEmpty(r.Tree), strOrEmpty(r.SensorID))
		for _, a := range attrCols {
			line = append(line, r.Attrs[a])
		}
		if err := w.Write(line); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func formatMeasurement(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func collectKeys(rows []pipeline.Row, get func(pipeline.Row) map[string]*float64) []string {
	seen := make(map[string]bool)
	for _, r := range rows {
		for k := range get(r) {
			seen[k] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func collectAttrKeys(rows []pipeline.Row) []string {
	seen := make(map[string]bool)
	for _, r := range rows {
		for k := range r.Attrs {
			seen[k] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
