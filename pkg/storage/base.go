// Package storage defines the durable store interface the engine is
// built on, along with the query options shared by all backends.
//
// A backend is plain CRUD plus filter predicates: memory records with a
// filtered query, knowledge nodes unique by normalized key, preferences
// upserted by composite key, conversations and episodes by owner. All
// (de)serialization of typed containers (tags, relationships, metadata)
// is confined to the backend implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/engramlabs/engram-go/pkg/conversation"
	"github.com/engramlabs/engram-go/pkg/episodic"
	"github.com/engramlabs/engram-go/pkg/graph"
	"github.com/engramlabs/engram-go/pkg/memory"
	"github.com/engramlabs/engram-go/pkg/profile"
)

// ErrNotFound indicates a record lookup missed. Get/Update callers treat
// it as a soft miss, not a failure.
var ErrNotFound = errors.New("record not found")

// QueryOptions filters record queries. Zero values mean "no filter".
type QueryOptions struct {
	// Types restricts results to the given memory types.
	Types []memory.Type

	// Since/Until bound CreatedAt.
	Since time.Time
	Until time.Time

	// MinImportance is the importance floor.
	MinImportance float64

	// UserID/ConversationID/WorkspaceID filter by owner context.
	UserID         string
	ConversationID string
	WorkspaceID    string

	// Limit caps the number of results; 0 means no cap. Offset skips
	// results for pagination.
	Limit  int
	Offset int
}

// RecordStore is CRUD plus filtered query over memory records.
type RecordStore interface {
	// InsertRecord stores a new record.
	InsertRecord(ctx context.Context, rec *memory.Record) error

	// GetRecord returns the record with the given ID, or ErrNotFound.
	GetRecord(ctx context.Context, id int64) (*memory.Record, error)

	// UpdateRecord fully replaces a record by its ID, or returns
	// ErrNotFound.
	UpdateRecord(ctx context.Context, rec *memory.Record) error

	// DeleteRecord removes a record by ID, or returns ErrNotFound.
	DeleteRecord(ctx context.Context, id int64) error

	// QueryRecords returns records matching the filter, newest first.
	QueryRecords(ctx context.Context, opts *QueryOptions) ([]*memory.Record, error)

	// CountRecords returns the number of stored records.
	CountRecords(ctx context.Context) (int, error)
}

// Store is the full durable interface a backend provides.
type Store interface {
	RecordStore
	graph.Store
	conversation.Store
	episodic.Store
	profile.Store

	// Close releases the backend's resources.
	Close() error
}
