// Package bunstore implements offline.Storage on the Bun ORM
// (PostgreSQL dialect), for hosts that already run their schema through
// Bun and want the offline queue in the same database, managed the same
// way.
package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/helixrun/conduit"
	"github.com/helixrun/conduit/id"
	"github.com/helixrun/conduit/offline"
)

// Compile-time interface checks.
var (
	_ offline.Storage = (*Store)(nil)
	_ offline.Claimer = (*Store)(nil)
)

type recordModel struct {
	bun.BaseModel `bun:"table:conduit_offline_jobs"`

	ID         string            `bun:"id,pk"`
	JobID      string            `bun:"job_id,notnull"`
	DedupKey   string            `bun:"dedup_key,notnull,unique"`
	Name       string            `bun:"name,notnull"`
	Payload    []byte            `bun:"payload,notnull,type:bytea"`
	Metadata   map[string]string `bun:"metadata,type:jsonb"`
	Status     string            `bun:"status,notnull,default:'pending'"`
	RetryCount int               `bun:"retry_count,notnull,default:0"`
	LastError  string            `bun:"last_error"`
	EnqueuedAt time.Time         `bun:"enqueued_at,notnull,default:current_timestamp"`
}

func toModel(rec *offline.Record) *recordModel {
	return &recordModel{
		ID:         rec.ID.String(),
		JobID:      rec.JobID.String(),
		DedupKey:   rec.DedupKey,
		Name:       rec.Name,
		Payload:    rec.Payload,
		Metadata:   rec.Metadata,
		Status:     string(rec.Status),
		RetryCount: rec.RetryCount,
		LastError:  rec.LastError,
		EnqueuedAt: rec.Timestamp,
	}
}

func fromModel(m *recordModel) (*offline.Record, error) {
	recID, err := id.ParseRecordID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conduit/bun: parse record id %q: %w", m.ID, err)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("conduit/bun: parse job id %q: %w", m.JobID, err)
	}
	return &offline.Record{
		ID:         recID,
		JobID:      jobID,
		DedupKey:   m.DedupKey,
		Name:       m.Name,
		Payload:    m.Payload,
		Metadata:   m.Metadata,
		Status:     offline.Status(m.Status),
		RetryCount: m.RetryCount,
		LastError:  m.LastError,
		Timestamp:  m.EnqueuedAt,
	}, nil
}

// Store is a Bun ORM offline.Storage. The caller owns the *bun.DB
// lifecycle; Store never closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a Bun store. The caller owns the db lifecycle.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate creates the offline queue table.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*recordModel)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conduit/bun: create table: %w", err)
	}
	return nil
}

// SaveJob inserts a record, ignoring a concurrent insert with the same
// dedup key.
func (s *Store) SaveJob(ctx context.Context, rec *offline.Record) error {
	_, err := s.db.NewInsert().
		Model(toModel(rec)).
		On("CONFLICT (dedup_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conduit/bun: save record: %w", err)
	}
	return nil
}

// GetJob retrieves a record by ID.
func (s *Store) GetJob(ctx context.Context, recID id.RecordID) (*offline.Record, error) {
	m := new(recordModel)
	err := s.db.NewSelect().Model(m).Where("id = ?", recID.String()).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conduit.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conduit/bun: get record: %w", err)
	}
	return fromModel(m)
}

// GetJobByDedupKey retrieves the record holding the given key.
func (s *Store) GetJobByDedupKey(ctx context.Context, key string) (*offline.Record, error) {
	m := new(recordModel)
	err := s.db.NewSelect().Model(m).Where("dedup_key = ?", key).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conduit.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conduit/bun: get record by dedup key: %w", err)
	}
	return fromModel(m)
}

// GetAllJobs returns every record, oldest first.
func (s *Store) GetAllJobs(ctx context.Context) ([]*offline.Record, error) {
	var models []recordModel
	err := s.db.NewSelect().
		Model(&models).
		OrderExpr("enqueued_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("conduit/bun: list records: %w", err)
	}

	recs := make([]*offline.Record, 0, len(models))
	for i := range models {
		rec, convErr := fromModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// UpdateJob rewrites a record's mutable columns.
func (s *Store) UpdateJob(ctx context.Context, rec *offline.Record) error {
	res, err := s.db.NewUpdate().
		Model(toModel(rec)).
		Column("payload", "metadata", "status", "retry_count", "last_error").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conduit/bun: update record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return conduit.ErrRecordNotFound
	}
	return nil
}

// RemoveJob deletes a record.
func (s *Store) RemoveJob(ctx context.Context, recID id.RecordID) error {
	res, err := s.db.NewDelete().
		Model((*recordModel)(nil)).
		Where("id = ?", recID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conduit/bun: remove record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return conduit.ErrRecordNotFound
	}
	return nil
}

// ClearAll deletes every record.
func (s *Store) ClearAll(ctx context.Context) error {
	_, err := s.db.NewDelete().
		Model((*recordModel)(nil)).
		Where("1 = 1").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conduit/bun: clear records: %w", err)
	}
	return nil
}

// ClaimNextPending atomically claims the oldest pending record via
// SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Store) ClaimNextPending(ctx context.Context) (*offline.Record, error) {
	var models []recordModel
	_, err := s.db.NewRaw(`
		UPDATE conduit_offline_jobs
		SET status = 'processing'
		WHERE id = (
			SELECT id FROM conduit_offline_jobs
			WHERE status = 'pending'
			ORDER BY enqueued_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING *`).
		Exec(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("conduit/bun: claim record: %w", err)
	}
	if len(models) == 0 {
		return nil, conduit.ErrNoPendingJobs
	}
	return fromModel(&models[0])
}
