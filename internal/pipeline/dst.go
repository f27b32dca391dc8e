package pipeline

// dst.go resolves naive local wall-clock timestamps to UTC instants.
//
// Loggers in the field record local time with no zone information. The
// correction rules are an ordered list of DST transitions loaded from the
// relational store, not a tz database lookup: field sites have historically
// run ad hoc DST policies (and occasional firmware clock patches) that the
// IANA tables do not describe, so the rules live in data.
//
// Two ambiguous cases are resolved deterministically:
//
//   - Fall-back repeated hour: a wall-clock value that occurred twice is
//     assigned the pre-transition (DST) offset.
//   - Spring-forward gap: a wall-clock value that never legally occurred is
//     clamped to the transition instant itself.
//
// The mapping from naive time to UTC is non-decreasing, so a non-decreasing
// naive sequence from one logger always corrects to a non-decreasing UTC
// sequence. Downstream interval matching depends on that.

import (
	"fmt"
	"time"
)

// TransitionAction marks which way a DST boundary shifts the clock.
type TransitionAction string

const (
	TransitionStart TransitionAction = "start" // clocks spring forward
	TransitionEnd   TransitionAction = "end"   // clocks fall back
)

// Transition is one DST boundary. At is the local wall-clock instant at
// which the change takes effect, expressed in pre-transition local time.
type Transition struct {
	Action TransitionAction
	At     time.Time
}

// Corrector resolves naive local timestamps against an ordered transition
// list. Standard is the site's standard-time offset from UTC; Shift is the
// DST adjustment (one hour almost everywhere).
type Corrector struct {
	standard    time.Duration
	shift       time.Duration
	transitions []Transition
}

// NewCorrector validates the transition list (strictly increasing, known
// actions) and returns a corrector.
func NewCorrector(standard, shift time.Duration, transitions []Transition) (*Corrector, error) {
	if shift <= 0 {
		return nil, fmt.Errorf("dst shift must be positive, got %v", shift)
	}
	for i, t := range transitions {
		if t.Action != TransitionStart && t.Action != TransitionEnd {
			return nil, fmt.Errorf("transition %d: unknown action %q", i, t.Action)
		}
		if i > 0 && !transitions[i-1].At.Before(t.At) {
			return nil, fmt.Errorf("transition %d: instants must be strictly increasing", i)
		}
	}
	return &Corrector{standard: standard, shift: shift, transitions: transitions}, nil
}

// Correct sets UTCTime on every row from its LocalTime. LocalTime itself is
// left untouched for audit.
func (c *Corrector) Correct(rows []Row) {
	for i := range rows {
		rows[i].UTCTime = c.Resolve(rows[i].LocalTime)
	}
}

// Resolve maps one naive local wall-clock value to its UTC instant.
func (c *Corrector) Resolve(naive time.Time) time.Time {
	// Offset in force before the first listed transition: if the list opens
	// with a fall-back, we are currently inside DST.
	offset := c.standard
	if len(c.transitions) > 0 && c.transitions[0].Action == TransitionEnd {
		offset += c.shift
	}

	for _, t := range c.transitions {
		if naive.Before(t.At) {
			break
		}
		if t.Action == TransitionStart {
			// Wall clocks in [At, At+shift) never happened; clamp to the
			// transition instant.
			if naive.Before(t.At.Add(c.shift)) {
				return t.At.Add(-offset)
			}
			offset += c.shift
		} else {
			// Values in the repeated hour [At-shift, At) sort before At and
			// never reach this branch, so they keep the pre-transition
			// offset: the deterministic fall-back resolution.
			offset -= c.shift
		}
	}

	return naive.Add(-offset)
}
