// Package state persists the harvester's durable state: the record table,
// the page checkpoint and the error queue.
//
// Every store assumes a single writer. Running two harvesters against the
// same storage is unsafe: the record table is rewritten wholesale on each
// flush, so the last writer wins.
package state

import (
	"context"
	"errors"

	"github.com/researchaccelerator-hub/catalog-harvester/model"
)

// DefaultCheckpointPage is where a crawl starts when no usable checkpoint exists.
const DefaultCheckpointPage = 1

// ErrCheckpointCorrupt marks a checkpoint value that cannot be parsed.
var ErrCheckpointCorrupt = errors.New("checkpoint corrupt")

// RecordStore holds the table of ingested articles. It is loaded wholesale and
// rewritten wholesale; implementations must leave the previous table intact
// when Save fails.
type RecordStore interface {
	Load(ctx context.Context) (*model.Table, error)
	Save(ctx context.Context, table *model.Table) error
	Close() error
}

// CheckpointStore holds the last fully processed catalog page.
type CheckpointStore interface {
	// Load returns the stored page, or DefaultCheckpointPage when nothing
	// usable is stored. A corrupt value is not an error.
	Load(ctx context.Context) (int, error)
	Save(ctx context.Context, page int) error
}

// ErrorQueue holds URLs whose extraction failed. Entries may repeat; readers
// deduplicate.
type ErrorQueue interface {
	LoadAll(ctx context.Context) ([]string, error)
	Append(ctx context.Context, url string) error
	Clear(ctx context.Context) error
}

// Config selects and configures the storage backends.
type Config struct {
	// RecordBackend is "csv" or "sqlite".
	RecordBackend string
	RecordsPath   string
	SQLitePath    string

	// StateBackend is "file" or "dapr" and applies to the checkpoint and the
	// error queue.
	StateBackend   string
	CheckpointPath string
	ErrorQueuePath string

	DaprConfig *DaprConfig
}

// DaprConfig contains Dapr-specific configuration
type DaprConfig struct {
	StateStoreName string
	GRPCPort       string
	KeyPrefix      string
}
