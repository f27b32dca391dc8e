// Package store holds the persistence collaborators the ingest engine
// consumes: the content-addressed raw-file store, the relational store, and
// the blob store for derived artifacts. The engine only sees the narrow
// interfaces here; the pgx and filesystem implementations live alongside.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/treelab/sapflow/internal/pipeline"
)

// DBTX is the subset of pgx operations the query layer needs.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// RawFileRecord is one raw file as persisted: write-once, identified by its
// content hash, never by path or filename.
type RawFileRecord struct {
	Hash       string
	Data       []byte
	Format     string
	IngestedAt time.Time
}

// TransactionRecord is the immutable audit record of one ingest call.
type TransactionRecord struct {
	ID         uuid.UUID
	User       string
	Message    string
	Outcome    string
	FileHashes []string
	Artifact   string
	CreatedAt  time.Time
}

// Relational is the transactional store behind the ingest engine.
//
// The read methods are snapshot/lookup operations. CommitIngest is the only
// writer: it persists the transaction record and its raw files as one atomic
// unit, rolling everything back on any failure. A unique constraint on the
// content hash backs idempotency under concurrent ingest; losing that race
// surfaces as a *DuplicateHashError.
type Relational interface {
	RawFileExists(ctx context.Context, hash string) (bool, error)
	RawFileData(ctx context.Context, hash string) ([]byte, error)
	DstTransitions(ctx context.Context) ([]pipeline.Transition, error)
	Deployments(ctx context.Context) ([]pipeline.Interval, error)
	CommitIngest(ctx context.Context, rec TransactionRecord, files []RawFileRecord) error
}

// Blobs stores derived artifacts and returns a location handle.
type Blobs interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// DuplicateHashError reports that a commit lost the race on a content hash:
// another transaction stored the same bytes first.
type DuplicateHashError struct {
	Hash string
}

func (e *DuplicateHashError) Error() string {
	return fmt.Sprintf("raw file %s already stored", e.Hash)
}

// ErrNotFound is returned for lookups of hashes that were never stored.
var ErrNotFound = errors.New("not found")
