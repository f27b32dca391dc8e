// Package ingest is the transactional ingest engine: it hashes and
// deduplicates incoming files, dispatches them to the parser registry, runs
// the normalization pipeline, and commits everything atomically, exactly
// once per unique file content.
package ingest

import "time"

// FileStatus is the per-file outcome within one ingest call.
type FileStatus string

const (
	// StatusParsed marks a new file that parsed successfully.
	StatusParsed FileStatus = "parsed"
	// StatusDuplicate marks a file whose content hash is already stored,
	// whether found during the pre-check or lost to a concurrent writer at
	// commit time.
	StatusDuplicate FileStatus = "duplicate"
	// StatusFailed marks a file rejected by the parsers or size checks.
	// A failed file never aborts its siblings.
	StatusFailed FileStatus = "failed"
)

// Outcome is the overall result of one ingest call.
type Outcome string

const (
	// OutcomeAccepted: at least one file was normalized and the transaction
	// committed (or would have, under dry-run).
	OutcomeAccepted Outcome = "accepted"
	// OutcomeSkipped: nothing to normalize — every file was duplicate or
	// failed, or no deployment metadata exists yet. Raw bytes of parseable
	// new files are still recorded unless dry-run.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeRejected: a storage failure aborted the call; every database
	// write of this transaction was rolled back.
	OutcomeRejected Outcome = "rejected"
)

// FileReport is one file's line in the receipt.
type FileReport struct {
	Path   string     `json:"path"`
	Hash   string     `json:"hash"`
	Format string     `json:"format,omitempty"`
	Status FileStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

// Receipt is the full result of one ingest call. Per-file statuses from the
// read-only pre-checks survive even when a later storage failure rejects
// the transaction.
type Receipt struct {
	TransactionID string       `json:"transactionId,omitempty"`
	Outcome       Outcome      `json:"outcome"`
	Files         []FileReport `json:"files"`
	Rows          int          `json:"rows"`
	Artifact      string       `json:"artifact,omitempty"`
	Warnings      []string     `json:"warnings,omitempty"`
	DryRun        bool         `json:"dryRun,omitempty"`
	Duration      time.Duration `json:"-"`
}
