package load

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/denorm/internal/logger"
	"github.com/roach88/denorm/internal/model"
)

// DefaultBatchSize is the number of documents per bulk write.
const DefaultBatchSize = 1000

// Sink performs one bulk upsert. A returned error means the sink itself
// failed (connection, auth); per-document failures are reported in the
// BatchStats instead.
type Sink interface {
	Upsert(ctx context.Context, c model.Collection, docs []model.Document) (BatchStats, error)
}

// BatchStats are the outcome of one bulk write.
type BatchStats struct {
	Collection model.Collection `json:"collection"`
	Batch      int              `json:"batch"`
	Inserted   int              `json:"inserted"`
	Updated    int              `json:"updated"`
	Failed     int              `json:"failed"`
	Causes     []string         `json:"causes,omitempty"`
}

// Loader splits documents into batches and hands them to a Sink in
// dependency order.
type Loader struct {
	sink      Sink
	batchSize int
	logger    *slog.Logger
	loaded    map[model.Collection]bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithBatchSize sets the bulk write size. Values below 1 are ignored.
func WithBatchSize(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = log
	}
}

// New creates a Loader writing to sink.
func New(sink Sink, opts ...Option) *Loader {
	l := &Loader{
		sink:      sink,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
		loaded:    make(map[model.Collection]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(logger.Scope("load"))
	return l
}

// loadAfter lists the collections whose documents a collection references.
var loadAfter = map[model.Collection][]model.Collection{
	model.CollectionOrganizations: nil,
	model.CollectionUsers:         {model.CollectionOrganizations},
	model.CollectionLabels:        {model.CollectionOrganizations},
	model.CollectionProjects:      {model.CollectionOrganizations, model.CollectionUsers, model.CollectionLabels},
}

// Load upserts docs into c in batches. Every collection c references must
// have been loaded first.
func (l *Loader) Load(ctx context.Context, c model.Collection, docs []model.Document) ([]BatchStats, error) {
	deps, ok := loadAfter[c]
	if !ok {
		return nil, fmt.Errorf("load: unknown collection %q", c)
	}
	for _, d := range deps {
		if !l.loaded[d] {
			return nil, fmt.Errorf("load %s: %s must be loaded first", c, d)
		}
	}

	var stats []BatchStats
	for start, batch := 0, 1; start < len(docs); start, batch = start+l.batchSize, batch+1 {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := min(start+l.batchSize, len(docs))

		s, err := l.sink.Upsert(ctx, c, docs[start:end])
		if err != nil {
			return stats, fmt.Errorf("load %s batch %d: %w", c, batch, err)
		}
		s.Collection = c
		s.Batch = batch
		stats = append(stats, s)

		log := l.logger.With(slog.String("collection", string(c)), slog.Int("batch", batch))
		if s.Failed > 0 {
			log.Warn("batch had failures", slog.Int("failed", s.Failed), slog.Any("causes", s.Causes))
		}
		log.Debug("batch loaded", slog.Int("inserted", s.Inserted), slog.Int("updated", s.Updated))
	}

	l.loaded[c] = true
	total := Totals(stats)
	l.logger.Info("collection loaded",
		slog.String("collection", string(c)),
		slog.Int("inserted", total.Inserted),
		slog.Int("updated", total.Updated),
		slog.Int("failed", total.Failed),
	)
	return stats, nil
}

// LoadAll loads every collection in dependency order, checking ctx between
// collections.
func (l *Loader) LoadAll(ctx context.Context, docs map[model.Collection][]model.Document) ([]BatchStats, error) {
	var all []BatchStats
	for _, c := range model.Collections {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		stats, err := l.Load(ctx, c, docs[c])
		all = append(all, stats...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

// Totals sums batch stats. Collection and Batch are left zero.
func Totals(stats []BatchStats) BatchStats {
	var t BatchStats
	for _, s := range stats {
		t.Inserted += s.Inserted
		t.Updated += s.Updated
		t.Failed += s.Failed
		t.Causes = append(t.Causes, s.Causes...)
	}
	return t
}
