package parser

import "errors"

// Parser parses one raw file into a hierarchical record.
//
// Parse returns a *FormatMismatchError when the file is not in this parser's
// format. Any other error means the parser recognized the format but found
// the file malformed.
type Parser interface {
	Name() string
	Parse(data []byte) (*ParsedFile, error)
}

// Registry dispatches a raw file across a fixed priority order of parsers.
// Construct one at process start and pass it down; there is no package-level
// mutable registry.
type Registry struct {
	parsers []Parser
}

// NewRegistry creates a registry that tries parsers in the given order.
func NewRegistry(parsers ...Parser) *Registry {
	return &Registry{parsers: parsers}
}

// Default returns the registry with all known logger formats, most specific
// first.
func Default() *Registry {
	return NewRegistry(
		NewTOA5Parser(),
		NewLegacyParser(),
	)
}

// Names returns the registered parser names in priority order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		names[i] = p.Name()
	}
	return names
}

// Parse tries each registered parser in order.
//
// A format mismatch moves on to the next parser. Any other error is returned
// immediately: the file was recognized but is malformed, so trying laxer
// parsers would mask the real problem. If every parser mismatches, the
// returned *NoMatchError carries each parser's rejection reason.
func (r *Registry) Parse(data []byte) (*ParsedFile, error) {
	attempts := make([]Attempt, 0, len(r.parsers))

	for _, p := range r.parsers {
		parsed, err := p.Parse(data)
		if err == nil {
			return parsed, nil
		}

		var mismatch *FormatMismatchError
		if errors.As(err, &mismatch) {
			attempts = append(attempts, Attempt{Parser: p.Name(), Reason: mismatch.Reason})
			continue
		}

		return nil, err
	}

	return nil, &NoMatchError{Attempts: attempts}
}
