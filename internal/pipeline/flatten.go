package pipeline

import "github.com/treelab/sapflow/internal/parser"

// Flatten joins each file's hierarchical record into normalized rows:
// {logger columns} x {sensor extras} x {pair columns} per thermistor pair,
// appended vertically across sensors, pairs and files. A file with S sensors
// of P pairs each yields S*P row-blocks, each as tall as the source file.
func Flatten(files []SourceFile) ([]Row, error) {
	var out []Row

	for _, src := range files {
		f := src.File
		n := f.Logger.Len()

		if err := checkLoggerLengths(src.Hash, f, n); err != nil {
			return nil, err
		}

		for _, sensor := range f.Sensors {
			for name, col := range sensor.Extra {
				if len(col) != n {
					return nil, &LengthMismatchError{Hash: src.Hash, Address: sensor.Address, Column: name, Got: len(col), Want: n}
				}
			}

			for _, pair := range sensor.Pairs {
				if err := checkPairLengths(src.Hash, sensor.Address, pair, n); err != nil {
					return nil, err
				}

				for i := 0; i < n; i++ {
					row := Row{
						FileHash:  src.Hash,
						LoggerID:  f.LoggerID,
						Address:   sensor.Address,
						Depth:     pair.Depth,
						LocalTime: f.Logger.Timestamps[i],
						Record:    f.Logger.Records[i],
						BattVolt:  f.Logger.BattVolt[i],
						PanelTemp: f.Logger.PanelTemp[i],
						Alpha:     pair.Alpha[i],
						Beta:      pair.Beta[i],
					}
					if pair.TimeToMax != nil {
						row.TimeToMax = pair.TimeToMax[i]
					}
					if len(sensor.Extra) > 0 {
						row.Extra = make(map[string]*float64, len(sensor.Extra))
						for name, col := range sensor.Extra {
							row.Extra[name] = col[i]
						}
					}
					out = append(out, row)
				}
			}
		}
	}

	return out, nil
}

func checkLoggerLengths(hash string, f *parser.ParsedFile, n int) error {
	if len(f.Logger.Records) != n {
		return &LengthMismatchError{Hash: hash, Column: "record", Got: len(f.Logger.Records), Want: n}
	}
	if len(f.Logger.BattVolt) != n {
		return &LengthMismatchError{Hash: hash, Column: "battv", Got: len(f.Logger.BattVolt), Want: n}
	}
	if len(f.Logger.PanelTemp) != n {
		return &LengthMismatchError{Hash: hash, Column: "ptemp", Got: len(f.Logger.PanelTemp), Want: n}
	}
	return nil
}

func checkPairLengths(hash, address string, pair parser.ThermistorPair, n int) error {
	if len(pair.Alpha) != n {
		return &LengthMismatchError{Hash: hash, Address: address, Depth: pair.Depth, Column: "alpha", Got: len(pair.Alpha), Want: n}
	}
	if len(pair.Beta) != n {
		return &LengthMismatchError{Hash: hash, Address: address, Depth: pair.Depth, Column: "beta", Got: len(pair.Beta), Want: n}
	}
	if pair.TimeToMax != nil && len(pair.TimeToMax) != n {
		return &LengthMismatchError{Hash: hash, Address: address, Depth: pair.Depth, Column: "tmax", Got: len(pair.TimeToMax), Want: n}
	}
	return nil
}
