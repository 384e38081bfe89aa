package store

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// MaxBulkLimit is the largest number of operations DynamoDB accepts in one
// TransactWriteItems or BatchGetItem request.
const MaxBulkLimit = 100

// Config holds configuration for the Store.
type Config struct {
	// DataTable is the name of the table backing the data container.
	// Default: "data"
	DataTable string

	// MetadataTable is the name of the table backing the metadata container.
	// Default: "metadata"
	MetadataTable string

	// BulkLimit is the maximum number of operations per physical bulk request.
	// Default: 100
	// Max: 100
	BulkLimit int

	// Registry is the type table. Default: DefaultRegistry().
	Registry *Registry

	// Logger receives operational logs. Default: slog.Default().
	Logger *slog.Logger

	// Registerer, if set, receives the store's Prometheus collectors.
	Registerer prometheus.Registerer
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DataTable:     "data",
		MetadataTable: "metadata",
		BulkLimit:     MaxBulkLimit,
		Registry:      DefaultRegistry(),
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.DataTable == "" {
		c.DataTable = "data"
	}
	if c.MetadataTable == "" {
		c.MetadataTable = "metadata"
	}
	if c.BulkLimit < 1 || c.BulkLimit > MaxBulkLimit {
		c.BulkLimit = MaxBulkLimit
	}
	if c.Registry == nil {
		c.Registry = DefaultRegistry()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
