package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/policy"
	"github.com/roach88/denorm/internal/registry"
	"github.com/roach88/denorm/internal/transform"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// ErrMappingConflict is returned when a saved mapping disagrees with one
// already in the ledger.
var ErrMappingConflict = errors.New("mapping conflict")

// Run is one row of the runs table.
type Run struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Status     Status          `json:"status"`
	FatalCause string          `json:"fatal_cause,omitempty"`
	Overflow   policy.Overflow `json:"overflow_policy"`
	DryRun     bool            `json:"dry_run"`
}

// NewRunID returns a time-ordered UUIDv7 run id.
func NewRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}

// BeginRun records a new run in the running state.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("begin run: empty id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, status, overflow_policy, dry_run)
		VALUES (?, ?, ?, ?, ?)
	`,
		run.ID,
		formatTime(run.StartedAt),
		string(StatusRunning),
		string(run.Overflow),
		run.DryRun,
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun sets the final status of a running run. Finishing a run twice is
// an error.
func (s *Store) FinishRun(ctx context.Context, id string, status Status, fatalCause string, at time.Time) error {
	if status == StatusRunning {
		return fmt.Errorf("finish run %s: status %q is not final", id, status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, fatal_cause = ?, finished_at = ?
		WHERE id = ? AND status = 'running'
	`, string(status), fatalCause, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w or already finished", id, ErrNotFound)
	}
	return nil
}

// SaveMappings persists a registry snapshot. Mappings already in the ledger
// are kept; a mapping whose generated id disagrees with the stored one, or
// whose generated id belongs to another key, fails the whole save with
// ErrMappingConflict. Returns the number of new mappings.
func (s *Store) SaveMappings(ctx context.Context, runID string, snap registry.Snapshot) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("save mappings: begin tx: %w", err)
	}
	defer tx.Rollback()

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO id_mappings (entity_type, original_id, generated_id, first_run_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("save mappings: %w", err)
	}
	defer insert.Close()

	verify, err := tx.PrepareContext(ctx, `
		SELECT entity_type, original_id FROM id_mappings WHERE generated_id = ?
	`)
	if err != nil {
		return 0, fmt.Errorf("save mappings: %w", err)
	}
	defer verify.Close()

	inserted := 0
	for _, m := range snap {
		res, err := insert.ExecContext(ctx, string(m.Entity), m.OriginalID, m.GeneratedID.Hex(), runID)
		if err != nil {
			return 0, fmt.Errorf("save mapping %s: %w", m.Key(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("save mapping %s: %w", m.Key(), err)
		}
		if n == 1 {
			inserted++
			continue
		}

		// Either the key or the generated id already existed. Both must
		// belong to this exact mapping.
		var entity string
		var originalID int64
		err = verify.QueryRowContext(ctx, m.GeneratedID.Hex()).Scan(&entity, &originalID)
		if err != nil || model.KeyOf(model.EntityType(entity), originalID) != m.Key() {
			return 0, fmt.Errorf("save mapping %s -> %s: %w", m.Key(), m.GeneratedID.Hex(), ErrMappingConflict)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("save mappings: commit: %w", err)
	}
	return inserted, nil
}

// SaveErrors appends errs to the run's error log in order.
func (s *Store) SaveErrors(ctx context.Context, runID string, errs []transform.Error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save errors: begin tx: %w", err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM run_errors WHERE run_id = ?`, runID,
	).Scan(&next); err != nil {
		return fmt.Errorf("save errors: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_errors (run_id, seq, kind, entity_type, original_id, message, skipped, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("save errors: %w", err)
	}
	defer stmt.Close()

	for _, e := range errs {
		next++
		details, err := marshalDetails(e.Details)
		if err != nil {
			return fmt.Errorf("save errors: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			runID, next, string(e.Kind), string(e.Entity), e.OriginalID, e.Message, e.Skipped, details,
		); err != nil {
			return fmt.Errorf("save error %d: %w", next, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save errors: commit: %w", err)
	}
	return nil
}

// SaveDigests records the content digest of every document. Saving the same
// document twice for a run keeps the first digest.
func (s *Store) SaveDigests(ctx context.Context, runID string, docs []model.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save digests: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_digests (run_id, collection, original_id, generated_id, digest)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("save digests: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		digest, err := model.DocumentDigest(d)
		if err != nil {
			return fmt.Errorf("save digests: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			runID, string(d.Collection()), d.SourceID(), d.DocumentID().Hex(), digest,
		); err != nil {
			return fmt.Errorf("save digest %s %d: %w", d.Collection(), d.SourceID(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save digests: commit: %w", err)
	}
	return nil
}
