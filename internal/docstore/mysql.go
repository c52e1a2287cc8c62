package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/google/uuid"

	apperrors "tourapp-admin/internal/errors"
	"tourapp-admin/internal/logging"
)

const createDocumentsTable = `CREATE TABLE IF NOT EXISTS documents (
	collection VARCHAR(128) NOT NULL,
	id VARCHAR(128) NOT NULL,
	data JSON NOT NULL,
	created_at DATETIME(3) NOT NULL,
	updated_at DATETIME(3) NOT NULL,
	PRIMARY KEY (collection, id)
)`

const upsertDocument = `INSERT INTO documents (collection, id, data, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE data = VALUES(data), updated_at = VALUES(updated_at)`

// MySQLConfig holds the parameters of the self-hosted document table
type MySQLConfig struct {
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         int           `mapstructure:"port" yaml:"port"`
	Username     string        `mapstructure:"username" yaml:"username"`
	Password     string        `mapstructure:"password" yaml:"password"`
	Database     string        `mapstructure:"database" yaml:"database"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// SetDefaults fills unset fields
func (c *MySQLConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 3306
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
}

// Validate checks that the connection parameters are usable
func (c *MySQLConfig) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}
	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("database name is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("mysql configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// DSN returns the Data Source Name for the MySQL driver
func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?timeout=%s&parseTime=true",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.Timeout)
}

// MySQLStore keeps documents as JSON rows in a single table. Change streams
// are produced by polling.
type MySQLStore struct {
	db           *sql.DB
	pollInterval time.Duration
	logger       *logging.Logger
	now          func() time.Time
}

// OpenMySQL connects with retries and ensures the documents table exists
func OpenMySQL(ctx context.Context, config MySQLConfig, logger *logging.Logger) (*MySQLStore, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	logger.WithFields(map[string]interface{}{
		"host":     config.Host,
		"database": config.Database,
		"dsn":      logging.SanitizeDSN(config.DSN()),
	}).Info("Connecting to MySQL document store")

	connectCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	var db *sql.DB
	err := apperrors.NewDefaultRetryHandler().Retry(connectCtx, func() error {
		var openErr error
		db, openErr = sql.Open("mysql", config.DSN())
		if openErr != nil {
			return apperrors.WrapError(openErr, "failed to open database connection")
		}

		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if pingErr := db.PingContext(connectCtx); pingErr != nil {
			db.Close()
			return pingErr
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	store := NewMySQLStore(db, config.PollInterval, logger)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewMySQLStore wraps an open connection
func NewMySQLStore(db *sql.DB, pollInterval time.Duration, logger *logging.Logger) *MySQLStore {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &MySQLStore{
		db:           db,
		pollInterval: pollInterval,
		logger:       logger,
		now:          time.Now,
	}
}

// Migrate creates the documents table if needed
func (s *MySQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createDocumentsTable); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

func (s *MySQLStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE collection = ? AND id = ?", collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", collection, id, err)
	}

	data, err := decodeData(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", collection, id, err)
	}
	return &Document{ID: id, Data: data}, nil
}

func (s *MySQLStore) Query(ctx context.Context, q Query) ([]Document, error) {
	rows, err := s.loadCollection(ctx, q.Collection)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.doc)
	}
	return applyQuery(docs, q), nil
}

func (s *MySQLStore) Add(ctx context.Context, collection string, data map[string]interface{}) (string, error) {
	id := uuid.New().String()
	if err := s.Set(ctx, collection, id, data, false); err != nil {
		return "", err
	}
	return id, nil
}

func (s *MySQLStore) Set(ctx context.Context, collection, id string, data map[string]interface{}, merge bool) error {
	if !merge {
		raw, err := encodeData(data)
		if err != nil {
			return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
		}
		now := s.now().UTC()
		if _, err := s.db.ExecContext(ctx, upsertDocument, collection, id, raw, now, now); err != nil {
			return fmt.Errorf("failed to write %s/%s: %w", collection, id, err)
		}
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing map[string]interface{}
	var raw []byte
	err = tx.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE collection = ? AND id = ? FOR UPDATE", collection, id).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to read %s/%s: %w", collection, id, err)
	default:
		if existing, err = decodeData(raw); err != nil {
			return fmt.Errorf("failed to decode %s/%s: %w", collection, id, err)
		}
	}

	merged, err := encodeData(deepMerge(existing, data))
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}
	now := s.now().UTC()
	if _, err := tx.ExecContext(ctx, upsertDocument, collection, id, merged, now, now); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, id, err)
	}
	return tx.Commit()
}

func (s *MySQLStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ? AND id = ?", collection, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *MySQLStore) Batch() Batch {
	return &mysqlBatch{store: s}
}

func (s *MySQLStore) Snapshots(ctx context.Context, collection string) (SnapshotIterator, error) {
	ctx, cancel := context.WithCancel(ctx)
	return &pollingIterator{
		store:      s,
		collection: collection,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

type mysqlRow struct {
	doc       Document
	raw       string
	updatedAt time.Time
}

func (s *MySQLStore) loadCollection(ctx context.Context, collection string) ([]mysqlRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, data, updated_at FROM documents WHERE collection = ? ORDER BY id", collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []mysqlRow
	for rows.Next() {
		var (
			id        string
			raw       []byte
			updatedAt time.Time
		)
		if err := rows.Scan(&id, &raw, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", collection, err)
		}
		data, err := decodeData(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s/%s: %w", collection, id, err)
		}
		out = append(out, mysqlRow{doc: Document{ID: id, Data: data}, raw: string(raw), updatedAt: updatedAt})
	}
	return out, rows.Err()
}

type mysqlBatch struct {
	store *MySQLStore
	ops   []batchOp
}

func (b *mysqlBatch) Set(collection, id string, data map[string]interface{}) {
	b.ops = append(b.ops, batchOp{collection: collection, id: id, data: cloneData(data)})
}

func (b *mysqlBatch) Len() int {
	return len(b.ops)
}

func (b *mysqlBatch) Commit(ctx context.Context) error {
	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := b.store.now().UTC()
	for _, op := range b.ops {
		raw, err := encodeData(op.data)
		if err != nil {
			return fmt.Errorf("failed to encode %s/%s: %w", op.collection, op.id, err)
		}
		if _, err := tx.ExecContext(ctx, upsertDocument, op.collection, op.id, raw, now, now); err != nil {
			return fmt.Errorf("failed to write %s/%s: %w", op.collection, op.id, err)
		}
	}
	return tx.Commit()
}

// pollingIterator diffs successive reads of a collection
type pollingIterator struct {
	store      *MySQLStore
	collection string
	ctx        context.Context
	cancel     context.CancelFunc

	seen    map[string]mysqlRow
	started bool
}

func (it *pollingIterator) Next() ([]Change, error) {
	if !it.started {
		it.started = true
		rows, err := it.store.loadCollection(it.ctx, it.collection)
		if err != nil {
			return nil, it.wrapErr(err)
		}
		it.seen = make(map[string]mysqlRow, len(rows))
		changes := make([]Change, 0, len(rows))
		for _, r := range rows {
			it.seen[r.doc.ID] = r
			changes = append(changes, Change{Kind: ChangeAdded, Doc: r.doc})
		}
		return changes, nil
	}

	ticker := time.NewTicker(it.store.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-it.ctx.Done():
			return nil, it.wrapErr(it.ctx.Err())
		case <-ticker.C:
		}

		rows, err := it.store.loadCollection(it.ctx, it.collection)
		if err != nil {
			return nil, it.wrapErr(err)
		}
		if changes := it.diff(rows); len(changes) > 0 {
			return changes, nil
		}
	}
}

func (it *pollingIterator) diff(rows []mysqlRow) []Change {
	var changes []Change
	current := make(map[string]mysqlRow, len(rows))

	for _, r := range rows {
		current[r.doc.ID] = r
		prev, ok := it.seen[r.doc.ID]
		switch {
		case !ok:
			changes = append(changes, Change{Kind: ChangeAdded, Doc: r.doc})
		case prev.raw != r.raw:
			changes = append(changes, Change{Kind: ChangeModified, Doc: r.doc})
		}
	}
	for id, prev := range it.seen {
		if _, ok := current[id]; !ok {
			changes = append(changes, Change{Kind: ChangeRemoved, Doc: prev.doc})
		}
	}

	it.seen = current
	return changes
}

func (it *pollingIterator) wrapErr(err error) error {
	if errors.Is(err, context.Canceled) && it.ctx.Err() != nil {
		return ErrIteratorStopped
	}
	return err
}

func (it *pollingIterator) Stop() {
	it.cancel()
}
