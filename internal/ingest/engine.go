package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/treelab/sapflow/internal/parser"
	"github.com/treelab/sapflow/internal/pipeline"
	"github.com/treelab/sapflow/internal/store"
)

// Config carries the engine's tunables. UTCOffset is the deployment site's
// standard-time offset from UTC; DSTShift is the daylight-saving adjustment
// applied at each "start" transition.
type Config struct {
	MaxFileSize    int64
	MaxParallel    int
	StorageTimeout time.Duration
	UTCOffset      time.Duration
	DSTShift       time.Duration
}

// Input is one file handed to Execute. Path is carried for reporting only;
// identity is the content hash.
type Input struct {
	Path string
	Data []byte
}

// Engine orchestrates one ingest call end to end: hash, dedup, parse,
// flatten, timestamp-correct, enrich, and atomic commit.
//
// The parse/flatten/correct/enrich stages are pure; the engine is the only
// component that touches shared state, and the commit is the only write.
type Engine struct {
	registry *parser.Registry
	db       store.Relational
	blobs    store.Blobs
	cfg      Config
}

// New builds an engine. The registry, stores and config are fixed for the
// engine's lifetime; Execute is safe for concurrent use.
func New(registry *parser.Registry, db store.Relational, blobs store.Blobs, cfg Config) *Engine {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.DSTShift <= 0 {
		cfg.DSTShift = time.Hour
	}
	return &Engine{registry: registry, db: db, blobs: blobs, cfg: cfg}
}

// parsedFile pairs a receipt entry with its parse result while the call is
// in flight.
type parsedFile struct {
	report *FileReport
	data   []byte
	file   *parser.ParsedFile
}

// Execute runs one ingest call over a batch of files.
//
// Per-file parse failures and duplicates degrade only their own status;
// storage failures reject the whole call and roll back every write of this
// transaction. With dryRun set, all pipeline stages run but nothing is
// written and the receipt carries no transaction id.
//
// Execute returns a non-nil receipt even on error: the per-file statuses
// from the read-only pre-checks reflect work done before the failure.
func (e *Engine) Execute(ctx context.Context, files []Input, user, message string, dryRun bool) (*Receipt, error) {
	start := time.Now()
	log := slog.Default().With("user", user, "files", len(files), "dry_run", dryRun)

	receipt := &Receipt{DryRun: dryRun, Files: make([]FileReport, len(files))}
	defer func() { receipt.Duration = time.Since(start) }()

	// Stage 1-2: content hash and duplicate partition. Hash depends only on
	// bytes; two identical payloads in one batch are one new file.
	seen := make(map[string]int)
	var fresh []*parsedFile
	for i, f := range files {
		rep := &receipt.Files[i]
		rep.Path = f.Path
		rep.Hash = ContentHash(f.Data)

		if e.cfg.MaxFileSize > 0 && int64(len(f.Data)) > e.cfg.MaxFileSize {
			rep.Status = StatusFailed
			rep.Reason = fmt.Sprintf("file exceeds %d byte limit", e.cfg.MaxFileSize)
			continue
		}
		if _, dup := seen[rep.Hash]; dup {
			rep.Status = StatusDuplicate
			rep.Reason = "identical content earlier in this batch"
			continue
		}
		seen[rep.Hash] = i

		exists, err := e.rawFileExists(ctx, rep.Hash)
		if err != nil {
			receipt.Outcome = OutcomeRejected
			return receipt, fmt.Errorf("duplicate check for %s: %w", f.Path, err)
		}
		if exists {
			rep.Status = StatusDuplicate
			continue
		}

		fresh = append(fresh, &parsedFile{report: rep, data: f.Data})
	}

	// Read-only snapshot of the DST rules and deployment metadata, fetched
	// once before any processing begins.
	transitions, intervals, err := e.snapshot(ctx)
	if err != nil {
		receipt.Outcome = OutcomeRejected
		return receipt, err
	}
	corrector, err := pipeline.NewCorrector(e.cfg.UTCOffset, e.cfg.DSTShift, transitions)
	if err != nil {
		receipt.Outcome = OutcomeRejected
		return receipt, fmt.Errorf("dst rules: %w", err)
	}

	// Stage 3: parse new files, in parallel. Parsers share no state, so
	// independent files fan out across workers; a parse failure marks only
	// its own file.
	e.parseAll(ctx, fresh)

	var parsed []*parsedFile
	for _, pf := range fresh {
		if pf.report.Status == StatusParsed {
			parsed = append(parsed, pf)
		}
	}

	txID := uuid.New()

	// Stages 4-6, with one retry loop: losing a commit race on a content
	// hash converts that file to Duplicate and the remaining set is
	// re-planned, so a concurrent writer's file is never double-stored.
	for {
		outcome, rows, warnings, err := e.plan(parsed, intervals, corrector)
		if err != nil {
			receipt.Outcome = OutcomeRejected
			return receipt, err
		}
		receipt.Outcome = outcome
		receipt.Rows = len(rows)
		receipt.Warnings = warnings

		if dryRun {
			log.Info("ingest dry run complete", "outcome", outcome, "rows", len(rows))
			return receipt, nil
		}

		artifact := ""
		if outcome == OutcomeAccepted {
			data, err := EncodeArtifact(rows)
			if err != nil {
				receipt.Outcome = OutcomeRejected
				return receipt, fmt.Errorf("encode artifact: %w", err)
			}
			artifact, err = e.putArtifact(ctx, txID, data)
			if err != nil {
				receipt.Outcome = OutcomeRejected
				return receipt, fmt.Errorf("store artifact: %w", err)
			}
		}

		rec, rawFiles := e.commitSet(txID, user, message, outcome, artifact, parsed)
		err = e.commitIngest(ctx, rec, rawFiles)
		if err == nil {
			receipt.TransactionID = txID.String()
			receipt.Artifact = artifact
			log.Info("ingest committed",
				"transaction_id", txID.String(),
				"outcome", outcome,
				"rows", len(rows),
				"warnings", len(warnings),
			)
			return receipt, nil
		}

		var dup *store.DuplicateHashError
		if errors.As(err, &dup) && dup.Hash != "" {
			if !demoteToDuplicate(&parsed, dup.Hash) {
				receipt.Outcome = OutcomeRejected
				return receipt, fmt.Errorf("commit conflict on unknown hash %s: %w", dup.Hash, err)
			}
			log.Info("lost ingest race, re-planning without duplicate", "hash", dup.Hash)
			continue
		}

		receipt.Outcome = OutcomeRejected
		return receipt, fmt.Errorf("commit ingest: %w", err)
	}
}

// plan computes the pipeline outcome for the current parsed set. With
// nothing to normalize, or no deployment metadata defined at all, the call
// is a skip: raw bytes may still be recorded but no artifact is derived.
func (e *Engine) plan(parsed []*parsedFile, intervals []pipeline.Interval, corrector *pipeline.Corrector) (Outcome, []pipeline.Row, []string, error) {
	if len(parsed) == 0 || len(intervals) == 0 {
		return OutcomeSkipped, nil, nil, nil
	}

	sources := make([]pipeline.SourceFile, len(parsed))
	for i, pf := range parsed {
		sources[i] = pipeline.SourceFile{Hash: pf.report.Hash, File: pf.file}
	}

	rows, err := pipeline.Flatten(sources)
	if err != nil {
		// Row-count invariant broken: a parser bug, not bad input. Nothing
		// is safe to persist.
		return OutcomeRejected, nil, nil, fmt.Errorf("flatten: %w", err)
	}

	corrector.Correct(rows)
	warnings := pipeline.Enrich(rows, intervals)
	return OutcomeAccepted, rows, warnings, nil
}

// parseAll dispatches each fresh file through the registry on a bounded
// worker group and records per-file statuses.
func (e *Engine) parseAll(ctx context.Context, fresh []*parsedFile) {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxParallel)

	for _, pf := range fresh {
		pf := pf
		g.Go(func() error {
			file, err := e.registry.Parse(pf.data)
			if err != nil {
				pf.report.Status = StatusFailed
				pf.report.Reason = err.Error()
				return nil
			}
			pf.report.Status = StatusParsed
			pf.report.Format = file.Format
			pf.file = file
			return nil
		})
	}

	g.Wait()
}

// commitSet assembles the transaction record and the raw-file rows to
// persist: every new file that parsed, plus the hash list for the audit
// record.
func (e *Engine) commitSet(txID uuid.UUID, user, message string, outcome Outcome, artifact string, parsed []*parsedFile) (store.TransactionRecord, []store.RawFileRecord) {
	now := time.Now().UTC()

	rawFiles := make([]store.RawFileRecord, len(parsed))
	hashes := make([]string, len(parsed))
	for i, pf := range parsed {
		rawFiles[i] = store.RawFileRecord{
			Hash:       pf.report.Hash,
			Data:       pf.data,
			Format:     pf.report.Format,
			IngestedAt: now,
		}
		hashes[i] = pf.report.Hash
	}

	rec := store.TransactionRecord{
		ID:         txID,
		User:       user,
		Message:    message,
		Outcome:    string(outcome),
		FileHashes: hashes,
		Artifact:   artifact,
		CreatedAt:  now,
	}
	return rec, rawFiles
}

// demoteToDuplicate flips the named file's status to Duplicate and drops it
// from the parsed set. Reports false if no parsed file carries the hash.
func demoteToDuplicate(parsed *[]*parsedFile, hash string) bool {
	for i, pf := range *parsed {
		if pf.report.Hash != hash {
			continue
		}
		pf.report.Status = StatusDuplicate
		pf.report.Reason = "stored concurrently by another transaction"
		*parsed = append((*parsed)[:i], (*parsed)[i+1:]...)
		return true
	}
	return false
}

// storageCtx bounds a single storage operation; a timeout is treated like
// any other storage failure and rolls back only the in-flight transaction.
func (e *Engine) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.StorageTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.cfg.StorageTimeout)
}

func (e *Engine) rawFileExists(ctx context.Context, hash string) (bool, error) {
	sctx, cancel := e.storageCtx(ctx)
	defer cancel()
	return e.db.RawFileExists(sctx, hash)
}

func (e *Engine) snapshot(ctx context.Context) ([]pipeline.Transition, []pipeline.Interval, error) {
	sctx, cancel := e.storageCtx(ctx)
	defer cancel()

	transitions, err := e.db.DstTransitions(sctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load dst transitions: %w", err)
	}
	intervals, err := e.db.Deployments(sctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load deployments: %w", err)
	}
	return transitions, intervals, nil
}

func (e *Engine) putArtifact(ctx context.Context, txID uuid.UUID, data []byte) (string, error) {
	sctx, cancel := e.storageCtx(ctx)
	defer cancel()
	return e.blobs.Put(sctx, fmt.Sprintf("normalized-%s.csv", txID), data)
}

func (e *Engine) commitIngest(ctx context.Context, rec store.TransactionRecord, files []store.RawFileRecord) error {
	sctx, cancel := e.storageCtx(ctx)
	defer cancel()
	return e.db.CommitIngest(sctx, rec, files)
}
