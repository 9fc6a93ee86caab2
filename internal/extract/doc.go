// Package extract reads one run's source rows into a model.Dataset.
//
// PostgresExtractor pages through every source table with keyset
// pagination over the table's primary key, so rows stream in a stable order
// without OFFSET scans. FileExtractor reads the same dataset from a YAML
// fixture for offline runs and tests.
package extract
