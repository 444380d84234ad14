// Package remote adapts the cloud Postgres database to the offline layer's RemoteStore port.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/erp/agency/internal/domain/business"
	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/domain/shared"
	"github.com/erp/agency/internal/infrastructure/config"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Store is a RemoteStore backed by a Postgres database through gorm.
// Every table carries an owning user_id; reads and deletes are scoped to it.
type Store struct {
	db      *gorm.DB
	logger  *zap.Logger
	tables  map[string]struct{}
	timeout time.Duration
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithTables restricts the store to the given table names
func WithTables(tables ...string) Option {
	return func(s *Store) {
		s.tables = make(map[string]struct{}, len(tables))
		for _, t := range tables {
			s.tables[t] = struct{}{}
		}
	}
}

// WithRequestTimeout bounds each call that arrives without a deadline
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

// Open connects to the remote database. The connection is lazy: opening
// succeeds while the host is offline and calls fail until it is reachable.
func Open(cfg config.RemoteConfig, gormLogger gormlogger.Interface, opts ...Option) (*Store, error) {
	if gormLogger == nil {
		gormLogger = gormlogger.Default.LogMode(gormlogger.Silent)
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open remote database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)

	if cfg.RequestTimeout > 0 {
		opts = append([]Option{WithRequestTimeout(cfg.RequestTimeout)}, opts...)
	}
	return NewStore(db, opts...), nil
}

// NewStore wraps an existing gorm connection
func NewStore(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: zap.NewNop()}
	WithTables(business.AllCollections()...)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the gorm handle, used to attach plugins
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks that the remote database answers
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return translateError("ping", "", err)
	}
	return nil
}

// Upsert inserts the record or replaces the existing row with the same id.
// A row owned by another user is left untouched and reported as rejected.
func (s *Store) Upsert(ctx context.Context, table string, record offline.Record) (offline.Record, error) {
	if err := s.checkTable(table); err != nil {
		return nil, err
	}
	id := record.ID()
	if id == "" {
		return nil, shared.ErrInvalidInput.WithMessage("record id is required")
	}
	userID := record.String(offline.FieldUserID)
	if userID == "" {
		return nil, shared.ErrInvalidInput.WithMessage("record user_id is required")
	}

	values, err := toColumns(record)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.db.WithContext(ctx).
		Table(table).
		Clauses(upsertClause(table, values)).
		Create(values).Error
	if err != nil {
		return nil, translateError("upsert", table, err)
	}

	var row map[string]any
	err = s.db.WithContext(ctx).
		Table(table).
		Where("id = ? AND user_id = ?", id, userID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrRemoteRejected.WithMessage("record " + id + " belongs to another user")
	}
	if err != nil {
		return nil, translateError("reload", table, err)
	}

	s.logger.Debug("Remote upsert",
		zap.String("table", table),
		zap.String("record_id", id),
	)
	return normalizeRow(row), nil
}

// Delete removes the user's row with the given id. Deleting a missing row is not an error.
func (s *Store) Delete(ctx context.Context, table, id, userID string) error {
	if err := s.checkTable(table); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res := s.db.WithContext(ctx).Exec("DELETE FROM ? WHERE id = ? AND user_id = ?",
		clause.Table{Name: table}, id, userID)
	if res.Error != nil {
		return translateError("delete", table, res.Error)
	}
	s.logger.Debug("Remote delete",
		zap.String("table", table),
		zap.String("record_id", id),
		zap.Int64("rows", res.RowsAffected),
	)
	return nil
}

// Select returns every row the user owns, newest first
func (s *Store) Select(ctx context.Context, table, userID string) ([]offline.Record, error) {
	if err := s.checkTable(table); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []map[string]any
	err := s.db.WithContext(ctx).
		Table(table).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, translateError("select", table, err)
	}

	out := make([]offline.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, normalizeRow(row))
	}
	return out, nil
}

func (s *Store) checkTable(table string) error {
	if _, ok := s.tables[table]; !ok {
		return shared.ErrInvalidInput.WithMessage("unknown table " + table)
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// upsertClause builds ON CONFLICT (id) DO UPDATE for every non-id column,
// guarded so a conflicting row of another user is not overwritten.
func upsertClause(table string, values map[string]any) clause.OnConflict {
	cols := make([]string, 0, len(values))
	for k := range values {
		if k != offline.FieldID && k != offline.FieldUpdatedAt {
			cols = append(cols, k)
		}
	}
	sort.Strings(cols)

	set := clause.AssignmentColumns(cols)
	set = append(set, clause.Assignment{
		Column: clause.Column{Name: offline.FieldUpdatedAt},
		Value:  gorm.Expr("now()"),
	})

	return clause.OnConflict{
		Columns:   []clause.Column{{Name: offline.FieldID}},
		DoUpdates: set,
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: table, Name: offline.FieldUserID},
				Value:  clause.Column{Table: "excluded", Name: offline.FieldUserID},
			},
		}},
	}
}

// toColumns flattens a record into column values. Nested objects and
// arrays are stored as JSON text.
func toColumns(record offline.Record) (map[string]any, error) {
	out := make(map[string]any, len(record))
	for k, v := range record {
		switch v.(type) {
		case map[string]any, []any, offline.Record, []offline.Record, []map[string]any:
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, shared.ErrInvalidInput.Wrap(fmt.Errorf("field %s: %w", k, err))
			}
			out[k] = string(raw)
		default:
			out[k] = v
		}
	}
	return out, nil
}

// normalizeRow turns driver values into JSON-friendly ones
func normalizeRow(row map[string]any) offline.Record {
	out := make(offline.Record, len(row))
	for k, v := range row {
		switch val := v.(type) {
		case time.Time:
			out[k] = val.UTC().Format(time.RFC3339Nano)
		case []byte:
			var decoded any
			if json.Valid(val) && json.Unmarshal(val, &decoded) == nil {
				out[k] = decoded
			} else {
				out[k] = string(val)
			}
		default:
			out[k] = v
		}
	}
	return out
}

var _ offline.RemoteStore = (*Store)(nil)
