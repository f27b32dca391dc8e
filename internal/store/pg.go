package store

// pg.go is the PostgreSQL implementation of the Relational contract,
// written as a hand-rolled pgx query layer over the DBTX interface so the
// same queries run against the pool or inside a transaction.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/treelab/sapflow/internal/pipeline"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

// PG implements Relational on a pgx connection pool.
type PG struct {
	pool *pgxpool.Pool
}

// NewPG wraps a connection pool. Schema setup and migration happen outside
// this package.
func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool}
}

// Ping verifies connectivity, for health checks.
func (s *PG) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PG) RawFileExists(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM raw_files WHERE content_hash = $1)`, hash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check raw file %s: %w", hash, err)
	}
	return exists, nil
}

func (s *PG) RawFileData(ctx context.Context, hash string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM raw_files WHERE content_hash = $1`, hash,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get raw file %s: %w", hash, err)
	}
	return data, nil
}

// DstTransitions returns the DST rule snapshot ordered by local instant.
// The at_local column is a zone-less timestamp; it is read into the UTC
// location as a plain wall-clock container.
func (s *PG) DstTransitions(ctx context.Context) ([]pipeline.Transition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT action, at_local FROM dst_transitions ORDER BY at_local`)
	if err != nil {
		return nil, fmt.Errorf("list dst transitions: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Transition
	for rows.Next() {
		var action string
		var at time.Time
		if err := rows.Scan(&action, &at); err != nil {
			return nil, fmt.Errorf("scan dst transition: %w", err)
		}
		out = append(out, pipeline.Transition{
			Action: pipeline.TransitionAction(action),
			At:     at.UTC(),
		})
	}
	return out, rows.Err()
}

// Deployments returns every deployment interval, bounded or not.
func (s *PG) Deployments(ctx context.Context) ([]pipeline.Interval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT logger_id, sdi_address, site, tree, sensor_id, starts_at, ends_at, attrs
		FROM deployments
		ORDER BY logger_id, sdi_address, starts_at`)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Interval
	for rows.Next() {
		var (
			iv    pipeline.Interval
			ends  pgtype.Timestamptz
			attrs []byte
		)
		if err := rows.Scan(&iv.LoggerID, &iv.Address, &iv.Site, &iv.Tree, &iv.SensorID,
			&iv.Start, &ends, &attrs); err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		iv.Start = iv.Start.UTC()
		if ends.Valid {
			t := ends.Time.UTC()
			iv.End = &t
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &iv.Attrs); err != nil {
				return nil, fmt.Errorf("decode deployment attrs for %s/%s: %w", iv.LoggerID, iv.Address, err)
			}
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// CommitIngest persists the transaction record and its raw files as one
// atomic unit. A unique-constraint hit on the content hash means a
// concurrent ingest stored the same bytes first; that surfaces as a
// *DuplicateHashError so the engine can re-plan rather than fail the call.
func (s *PG) CommitIngest(ctx context.Context, rec TransactionRecord, files []RawFileRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ingest transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.insertTransaction(ctx, tx, rec); err != nil {
		return err
	}
	for _, f := range files {
		if err := s.insertRawFile(ctx, tx, f, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return &DuplicateHashError{Hash: ""}
		}
		return fmt.Errorf("commit ingest transaction: %w", err)
	}
	return nil
}

// CreateDeployment inserts a deployment interval, closing any still-open
// interval for the same (logger, address) key in the same transaction so at
// most one unbounded interval exists per key.
func (s *PG) CreateDeployment(ctx context.Context, iv pipeline.Interval) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin deployment transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE deployments SET ends_at = $3
		WHERE logger_id = $1 AND sdi_address = $2 AND ends_at IS NULL`,
		iv.LoggerID, iv.Address, iv.Start)
	if err != nil {
		return fmt.Errorf("close prior deployment for %s/%s: %w", iv.LoggerID, iv.Address, err)
	}

	var attrs []byte
	if len(iv.Attrs) > 0 {
		attrs, err = json.Marshal(iv.Attrs)
		if err != nil {
			return fmt.Errorf("encode deployment attrs: %w", err)
		}
	}

	var ends pgtype.Timestamptz
	if iv.End != nil {
		ends = pgtype.Timestamptz{Time: *iv.End, Valid: true}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO deployments (logger_id, sdi_address, site, tree, sensor_id, starts_at, ends_at, attrs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		iv.LoggerID, iv.Address, iv.Site, iv.Tree, iv.SensorID, iv.Start, ends, attrs)
	if err != nil {
		return fmt.Errorf("insert deployment for %s/%s: %w", iv.LoggerID, iv.Address, err)
	}

	return tx.Commit(ctx)
}

func (s *PG) insertTransaction(ctx context.Context, q DBTX, rec TransactionRecord) error {
	_, err := q.Exec(ctx, `
		INSERT INTO transactions (id, username, message, outcome, file_hashes, artifact_location, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.User, textOrNull(rec.Message), rec.Outcome, rec.FileHashes,
		textOrNull(rec.Artifact), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PG) insertRawFile(ctx context.Context, q DBTX, f RawFileRecord, rec TransactionRecord) error {
	_, err := q.Exec(ctx, `
		INSERT INTO raw_files (content_hash, data, format, transaction_id, ingested_at)
		VALUES ($1, $2, $3, $4, $5)`,
		f.Hash, f.Data, f.Format, rec.ID, f.IngestedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &DuplicateHashError{Hash: f.Hash}
		}
		return fmt.Errorf("insert raw file %s: %w", f.Hash, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
