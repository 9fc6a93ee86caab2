package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/denorm/internal/logger"
	"github.com/roach88/denorm/internal/model"
)

// DefaultPageSize is the number of rows fetched per keyset page.
const DefaultPageSize = 1000

// Extractor produces the dataset for one run.
type Extractor interface {
	Extract(ctx context.Context) (*model.Dataset, error)
}

// Querier is the subset of pgxpool.Pool the extractor uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Connect opens and pings a pgx pool for dsn.
func Connect(ctx context.Context, dsn string, log *slog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("source database connected",
		logger.Scope("extract"),
		slog.String("host", cfg.ConnConfig.Host),
		slog.String("database", cfg.ConnConfig.Database),
	)
	return pool, nil
}

// PostgresExtractor reads every source table through a Querier.
type PostgresExtractor struct {
	db       Querier
	pageSize int
	logger   *slog.Logger
}

// PostgresOption configures a PostgresExtractor.
type PostgresOption func(*PostgresExtractor)

// WithPageSize sets the keyset page size. Values below 1 are ignored.
func WithPageSize(n int) PostgresOption {
	return func(e *PostgresExtractor) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) PostgresOption {
	return func(e *PostgresExtractor) {
		e.logger = l
	}
}

// NewPostgres creates an extractor over db, typically a *pgxpool.Pool.
func NewPostgres(db Querier, opts ...PostgresOption) *PostgresExtractor {
	e := &PostgresExtractor{db: db, pageSize: DefaultPageSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logger.Scope("extract"))
	return e
}

// Extract reads all tables concurrently. Each table is paged independently.
func (e *PostgresExtractor) Extract(ctx context.Context) (*model.Dataset, error) {
	ds := &model.Dataset{}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		ds.Organizations, err = fetchAll(ctx, e, organizationsTable, func(r model.Organization) []any { return []any{r.ID} })
		return err
	})
	g.Go(func() (err error) {
		ds.Users, err = fetchAll(ctx, e, usersTable, func(r model.User) []any { return []any{r.ID} })
		return err
	})
	g.Go(func() (err error) {
		ds.Memberships, err = fetchAll(ctx, e, orgMembersTable, func(r model.OrgMembership) []any { return []any{r.OrgID, r.UserID} })
		return err
	})
	g.Go(func() (err error) {
		ds.Projects, err = fetchAll(ctx, e, projectsTable, func(r model.Project) []any { return []any{r.ID} })
		return err
	})
	g.Go(func() (err error) {
		ds.Tasks, err = fetchAll(ctx, e, tasksTable, func(r model.Task) []any { return []any{r.ID} })
		return err
	})
	g.Go(func() (err error) {
		ds.Labels, err = fetchAll(ctx, e, labelsTable, func(r model.Label) []any { return []any{r.ID} })
		return err
	})
	g.Go(func() (err error) {
		ds.TaskLabels, err = fetchAll(ctx, e, taskLabelsTable, func(r model.TaskLabel) []any { return []any{r.TaskID, r.LabelID} })
		return err
	})
	g.Go(func() (err error) {
		ds.TaskAssignees, err = fetchAll(ctx, e, taskAssigneesTable, func(r model.TaskAssignee) []any { return []any{r.TaskID, r.UserID} })
		return err
	})
	g.Go(func() (err error) {
		ds.Comments, err = fetchAll(ctx, e, commentsTable, func(r model.Comment) []any { return []any{r.ID} })
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ds, nil
}

// fetchAll pages through t until a short page, scanning rows into T by
// column name.
func fetchAll[T any](ctx context.Context, e *PostgresExtractor, t table, keyOf func(T) []any) ([]T, error) {
	var (
		out   []T
		after []any
		pages int
	)
	for {
		sql, args := t.page(after, e.pageSize)
		rows, err := e.db.Query(ctx, sql, args...)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", t.name, err)
		}
		page, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.name, err)
		}
		pages++
		out = append(out, page...)

		if len(page) < e.pageSize {
			break
		}
		after = keyOf(page[len(page)-1])
	}

	e.logger.Info("table extracted",
		slog.String("table", t.name),
		slog.Int("rows", len(out)),
		slog.Int("pages", pages),
	)
	return out, nil
}
