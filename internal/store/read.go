package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/policy"
	"github.com/roach88/denorm/internal/registry"
	"github.com/roach88/denorm/internal/transform"
)

const runColumns = `id, started_at, finished_at, status, fatal_cause, overflow_policy, dry_run`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run                 Run
		started, status, of string
		finished            sql.NullString
	)
	if err := row.Scan(&run.ID, &started, &finished, &status, &run.FatalCause, &of, &run.DryRun); err != nil {
		return Run{}, err
	}
	var err error
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, err
	}
	if finished.Valid {
		t, err := parseTime(finished.String)
		if err != nil {
			return Run{}, err
		}
		run.FinishedAt = &t
	}
	run.Status = Status(status)
	run.Overflow = policy.Overflow(of)
	return run, nil
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns every run, oldest first. UUIDv7 ids break ties.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT 1
	`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("latest run: %w", ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// LoadMappings returns the persisted registry ordered by entity type then
// original id. An empty entity returns every mapping.
func (s *Store) LoadMappings(ctx context.Context, entity model.EntityType) (registry.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, original_id, generated_id FROM id_mappings
		WHERE ? = '' OR entity_type = ?
		ORDER BY entity_type COLLATE BINARY ASC, original_id ASC
	`, string(entity), string(entity))
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()

	snap := registry.Snapshot{}
	for rows.Next() {
		var (
			m   registry.Mapping
			et  string
			hex string
		)
		if err := rows.Scan(&et, &m.OriginalID, &hex); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		m.Entity = model.EntityType(et)
		if m.GeneratedID, err = parseObjectID(hex); err != nil {
			return nil, err
		}
		snap = append(snap, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings: %w", err)
	}
	return snap, nil
}

// RestoreRegistry loads every persisted mapping into reg.
func (s *Store) RestoreRegistry(ctx context.Context, reg *registry.Registry) (int, error) {
	snap, err := s.LoadMappings(ctx, "")
	if err != nil {
		return 0, err
	}
	if err := reg.Restore(snap); err != nil {
		return 0, fmt.Errorf("restore registry: %w", err)
	}
	return len(snap), nil
}

// ReadErrors returns a run's error log in the order it was written.
func (s *Store) ReadErrors(ctx context.Context, runID string) ([]transform.Error, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, entity_type, original_id, message, skipped, details
		FROM run_errors
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run errors: %w", err)
	}
	defer rows.Close()

	errs := []transform.Error{}
	for rows.Next() {
		var (
			e                      transform.Error
			kind, entity, details string
		)
		if err := rows.Scan(&kind, &entity, &e.OriginalID, &e.Message, &e.Skipped, &details); err != nil {
			return nil, fmt.Errorf("scan run error: %w", err)
		}
		e.Kind = transform.Kind(kind)
		e.Entity = model.EntityType(entity)
		if e.Details, err = unmarshalDetails(details); err != nil {
			return nil, err
		}
		errs = append(errs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run errors: %w", err)
	}
	return errs, nil
}

// DigestKey locates one document in the ledger.
type DigestKey struct {
	Collection model.Collection `json:"collection"`
	OriginalID int64            `json:"original_id"`
}

// Digest is one document_digests row.
type Digest struct {
	DigestKey
	GeneratedID string `json:"generated_id"`
	Digest      string `json:"digest"`
}

// ReadDigests returns a run's document digests ordered by collection load
// order, then original id.
func (s *Store) ReadDigests(ctx context.Context, runID string) ([]Digest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT collection, original_id, generated_id, digest
		FROM document_digests
		WHERE run_id = ?
		ORDER BY CASE collection
			WHEN 'organizations' THEN 0
			WHEN 'users' THEN 1
			WHEN 'labels' THEN 2
			WHEN 'projects' THEN 3
			ELSE 4 END ASC,
			original_id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query digests: %w", err)
	}
	defer rows.Close()

	digests := []Digest{}
	for rows.Next() {
		var (
			d Digest
			c string
		)
		if err := rows.Scan(&c, &d.OriginalID, &d.GeneratedID, &d.Digest); err != nil {
			return nil, fmt.Errorf("scan digest: %w", err)
		}
		d.Collection = model.Collection(c)
		digests = append(digests, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate digests: %w", err)
	}
	return digests, nil
}

// RunDiff compares the documents of two runs.
type RunDiff struct {
	From      string      `json:"from"`
	To        string      `json:"to"`
	Added     []DigestKey `json:"added"`
	Removed   []DigestKey `json:"removed"`
	Changed   []DigestKey `json:"changed"`
	Unchanged int         `json:"unchanged"`
}

// Identical reports whether both runs produced the same documents.
func (d *RunDiff) Identical() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// CompareRuns diffs the document digests of two runs. A document is changed
// when its digest or its generated id differs.
func (s *Store) CompareRuns(ctx context.Context, from, to string) (*RunDiff, error) {
	for _, id := range []string{from, to} {
		if _, err := s.GetRun(ctx, id); err != nil {
			return nil, fmt.Errorf("compare runs: %w", err)
		}
	}
	a, err := s.ReadDigests(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("compare runs: %w", err)
	}
	b, err := s.ReadDigests(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("compare runs: %w", err)
	}

	diff := &RunDiff{From: from, To: to, Added: []DigestKey{}, Removed: []DigestKey{}, Changed: []DigestKey{}}
	before := make(map[DigestKey]Digest, len(a))
	for _, d := range a {
		before[d.DigestKey] = d
	}
	seen := make(map[DigestKey]bool, len(b))
	for _, d := range b {
		seen[d.DigestKey] = true
		old, ok := before[d.DigestKey]
		switch {
		case !ok:
			diff.Added = append(diff.Added, d.DigestKey)
		case old.Digest != d.Digest || old.GeneratedID != d.GeneratedID:
			diff.Changed = append(diff.Changed, d.DigestKey)
		default:
			diff.Unchanged++
		}
	}
	for _, d := range a {
		if !seen[d.DigestKey] {
			diff.Removed = append(diff.Removed, d.DigestKey)
		}
	}
	return diff, nil
}
