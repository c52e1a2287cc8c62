package docstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig selects the Firebase project backing the console
type FirestoreConfig struct {
	ProjectID       string `mapstructure:"project_id" yaml:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	DatabaseID      string `mapstructure:"database_id" yaml:"database_id"`
}

// Validate checks the Firestore configuration
func (c *FirestoreConfig) Validate() error {
	if c.ProjectID == "" {
		return errors.New("firestore project_id is required")
	}
	return nil
}

// FirestoreStore is the production Store
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore opens a Firestore client
func NewFirestoreStore(ctx context.Context, config FirestoreConfig) (*FirestoreStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	var (
		client *firestore.Client
		err    error
	)
	if config.DatabaseID != "" {
		client, err = firestore.NewClientWithDatabase(ctx, config.ProjectID, config.DatabaseID, opts...)
	} else {
		client, err = firestore.NewClient(ctx, config.ProjectID, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s/%s: %w", collection, id, err)
	}
	return &Document{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

func (s *FirestoreStore) Query(ctx context.Context, q Query) ([]Document, error) {
	query := s.client.Collection(q.Collection).Query
	for _, f := range q.Filters {
		query = query.Where(f.Field, string(f.Op), f.Value)
	}
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Descending {
			dir = firestore.Desc
		}
		query = query.OrderBy(q.OrderBy, dir)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
		}
		docs = append(docs, Document{ID: snap.Ref.ID, Data: snap.Data()})
	}
	return docs, nil
}

func (s *FirestoreStore) Add(ctx context.Context, collection string, data map[string]interface{}) (string, error) {
	ref, _, err := s.client.Collection(collection).Add(ctx, data)
	if err != nil {
		return "", fmt.Errorf("failed to add to %s: %w", collection, err)
	}
	return ref.ID, nil
}

func (s *FirestoreStore) Set(ctx context.Context, collection, id string, data map[string]interface{}, merge bool) error {
	var opts []firestore.SetOption
	if merge {
		opts = append(opts, firestore.MergeAll)
	}
	if _, err := s.client.Collection(collection).Doc(id).Set(ctx, data, opts...); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *FirestoreStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.client.Collection(collection).Doc(id).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *FirestoreStore) Batch() Batch {
	return &firestoreBatch{client: s.client}
}

func (s *FirestoreStore) Snapshots(ctx context.Context, collection string) (SnapshotIterator, error) {
	return &firestoreIterator{it: s.client.Collection(collection).Snapshots(ctx)}, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

type firestoreBatch struct {
	client *firestore.Client
	ops    []batchOp
}

func (b *firestoreBatch) Set(collection, id string, data map[string]interface{}) {
	b.ops = append(b.ops, batchOp{collection: collection, id: id, data: data})
}

func (b *firestoreBatch) Len() int {
	return len(b.ops)
}

// Commit sends every write in one atomic request. The backend rejects
// batches above 500 writes and that error is returned as is.
func (b *firestoreBatch) Commit(ctx context.Context) error {
	wb := b.client.Batch()
	for _, op := range b.ops {
		wb.Set(b.client.Collection(op.collection).Doc(op.id), op.data)
	}
	_, err := wb.Commit(ctx)
	return err
}

type firestoreIterator struct {
	it *firestore.QuerySnapshotIterator
}

func (i *firestoreIterator) Next() ([]Change, error) {
	snap, err := i.it.Next()
	if err != nil {
		if errors.Is(err, iterator.Done) {
			return nil, ErrIteratorStopped
		}
		return nil, err
	}

	changes := make([]Change, 0, len(snap.Changes))
	for _, c := range snap.Changes {
		var kind ChangeKind
		switch c.Kind {
		case firestore.DocumentAdded:
			kind = ChangeAdded
		case firestore.DocumentModified:
			kind = ChangeModified
		case firestore.DocumentRemoved:
			kind = ChangeRemoved
		default:
			continue
		}
		changes = append(changes, Change{Kind: kind, Doc: Document{ID: c.Doc.Ref.ID, Data: c.Doc.Data()}})
	}
	return changes, nil
}

func (i *firestoreIterator) Stop() {
	i.it.Stop()
}
