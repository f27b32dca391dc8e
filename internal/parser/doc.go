// Package parser recognizes and parses raw datalogger output files into a
// hierarchical measurement record.
//
// Each hardware/firmware variant gets its own [Parser] implementation.
// Recognition is structural (device identifier, column-name signatures), never
// based on file name or extension. A [Registry] tries parsers in priority
// order: a format mismatch moves on to the next parser, while any other error
// means the parser recognized the file but found it malformed, so dispatch
// stops there.
//
// Adding a new logger format means adding one Parser implementation and
// listing it in the registry; dispatch logic never changes.
//
// Timestamps are parsed as naive local wall-clock values. Resolving them to
// UTC is the pipeline package's job, since it needs the DST rule snapshot.
package parser
