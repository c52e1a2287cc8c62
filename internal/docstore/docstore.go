// Package docstore abstracts the managed document database used by the admin
// console: collections of JSON-like documents keyed by id, atomic write
// batches, and per-collection change streams.
package docstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the document does not exist
	ErrNotFound = errors.New("document not found")
	// ErrIteratorStopped is returned by SnapshotIterator.Next after Stop
	ErrIteratorStopped = errors.New("snapshot iterator stopped")
	// ErrBatchTooLarge is returned by Commit when the backend write limit is exceeded
	ErrBatchTooLarge = errors.New("batch exceeds maximum number of writes")
)

// Document is one stored entity. Data never contains the id.
type Document struct {
	ID   string
	Data map[string]interface{}
}

// ChangeKind classifies a document delta
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// Change is one delta inside a snapshot. For removals Doc carries the last known data.
type Change struct {
	Kind ChangeKind
	Doc  Document
}

// Operator is a comparison operator usable in a Filter
type Operator string

const (
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
)

// Filter restricts a query to documents whose Field compares true against Value
type Filter struct {
	Field string
	Op    Operator
	Value interface{}
}

// Query selects documents from one collection
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Where returns a copy of q with an extra filter
func (q Query) Where(field string, op Operator, value interface{}) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

// Store is the document database boundary
type Store interface {
	// Get returns ErrNotFound when the document is absent
	Get(ctx context.Context, collection, id string) (*Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	// Add stores data under a generated id and returns it
	Add(ctx context.Context, collection string, data map[string]interface{}) (string, error)
	// Set overwrites the document, or deep-merges into it when merge is true
	Set(ctx context.Context, collection, id string, data map[string]interface{}, merge bool) error
	// Delete is idempotent
	Delete(ctx context.Context, collection, id string) error
	Batch() Batch
	Snapshots(ctx context.Context, collection string) (SnapshotIterator, error)
	Close() error
}

// Batch accumulates overwrites that are committed atomically
type Batch interface {
	Set(collection, id string, data map[string]interface{})
	Len() int
	Commit(ctx context.Context) error
}

// SnapshotIterator streams the changes of one collection. The first call to
// Next reports every existing document as added; later calls block until the
// next non-empty delta.
type SnapshotIterator interface {
	Next() ([]Change, error)
	Stop()
}

// Subscriber is the part of Store needed to follow a collection
type Subscriber interface {
	Snapshots(ctx context.Context, collection string) (SnapshotIterator, error)
}

type batchOp struct {
	collection string
	id         string
	data       map[string]interface{}
}
