package parser

import (
	"errors"
	"testing"
)

func TestRegistryDispatch(t *testing.T) {
	reg := Default()

	toa5 := buildTOA5(`"2023-06-01 10:00:00",1,12.5,21,0.5,0.4,1.2,1.1,35,41,2.5,0.6,0.5,1.3,1.2`)
	legacy := []byte(legacyHeader + "2023-06-01 10:00:00,1,12.5,21.0,0.5,0.4,1.2,1.1,35,41\n")

	tests := []struct {
		name       string
		data       []byte
		wantFormat string
	}{
		{"toa5 handled by first parser", toa5, FormatTOA5},
		{"legacy falls through to second parser", legacy, FormatLegacy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, err := reg.Parse(tt.data)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if file.Format != tt.wantFormat {
				t.Errorf("Format = %q, want %q", file.Format, tt.wantFormat)
			}
		})
	}
}

func TestRegistryNoMatch(t *testing.T) {
	reg := Default()

	_, err := reg.Parse([]byte("GARBAGE,file\n1,2\n"))
	var noMatch *NoMatchError
	if !errors.As(err, &noMatch) {
		t.Fatalf("Parse() error = %v, want NoMatchError", err)
	}
	if len(noMatch.Attempts) != 2 {
		t.Fatalf("Attempts = %d, want one per registered parser", len(noMatch.Attempts))
	}
	if noMatch.Attempts[0].Parser != FormatTOA5 || noMatch.Attempts[1].Parser != FormatLegacy {
		t.Errorf("attempt order = %q, %q; want priority order", noMatch.Attempts[0].Parser, noMatch.Attempts[1].Parser)
	}
}

func TestRegistryStopsOnRecognizedMalformedFile(t *testing.T) {
	reg := Default()

	// A recognized TOA5 file with a truncated header must not fall through
	// to the legacy parser and come back as NoMatch.
	data := []byte(`"TOA5","Station","CR1000","1","os","prog","sig","tbl"` + "\n" +
		`"TIMESTAMP","RECORD","S1_Alpha_Outer","S1_Alpha_Inner","S1_Beta_Outer","S1_Beta_Inner"` + "\n")

	_, err := reg.Parse(data)
	var headerErr *HeaderError
	if !errors.As(err, &headerErr) {
		t.Fatalf("Parse() error = %v, want the TOA5 HeaderError", err)
	}
	if headerErr.Parser != FormatTOA5 {
		t.Errorf("Parser = %q, want %q", headerErr.Parser, FormatTOA5)
	}
}

func TestRegistryNames(t *testing.T) {
	got := Default().Names()
	want := []string{FormatTOA5, FormatLegacy}
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
