package extract

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/denorm/internal/model"
)

// FileExtractor reads a dataset from a YAML fixture. Top-level keys follow
// the source table names:
//
//	organizations:
//	  - {id: 1, name: Acme, created_at: 2024-01-15T10:00:00Z}
//	org_members:
//	  - {org_id: 1, user_id: 5, role: admin, joined_at: 2024-01-15T10:00:00Z}
type FileExtractor struct {
	path string
}

// NewFile creates an extractor for the YAML file at path.
func NewFile(path string) *FileExtractor {
	return &FileExtractor{path: path}
}

// Extract reads and decodes the file.
func (f *FileExtractor) Extract(ctx context.Context) (*model.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer file.Close()

	ds, err := DecodeDataset(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}
	return ds, nil
}

// DecodeDataset decodes a YAML dataset. Unknown keys are rejected so typos in
// fixtures do not silently drop rows.
func DecodeDataset(r io.Reader) (*model.Dataset, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var ds model.Dataset
	if err := dec.Decode(&ds); err != nil {
		if err == io.EOF {
			return &ds, nil
		}
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	return &ds, nil
}

// StaticExtractor returns a dataset already in memory.
type StaticExtractor struct {
	ds *model.Dataset
}

// NewStatic creates an extractor that always returns ds.
func NewStatic(ds *model.Dataset) *StaticExtractor {
	return &StaticExtractor{ds: ds}
}

// Extract returns the dataset.
func (s *StaticExtractor) Extract(ctx context.Context) (*model.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.ds, nil
}
