package business

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	appoffline "github.com/erp/agency/internal/application/offline"
	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/infrastructure/config"
	"github.com/erp/agency/internal/infrastructure/connectivity"
	"github.com/erp/agency/internal/infrastructure/persistence"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testUser = "user-1"

// memoryRemote is an in-memory remote store that can be taken down
type memoryRemote struct {
	mu     sync.Mutex
	tables map[string]map[string]offline.Record
	down   bool
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{tables: make(map[string]map[string]offline.Record)}
}

func (r *memoryRemote) unavailable(op, table string) error {
	if r.down {
		return fmt.Errorf("%s %s: %w: connection refused", op, table, offline.ErrRemoteUnavailable)
	}
	return nil
}

func (r *memoryRemote) Upsert(_ context.Context, table string, rec offline.Record) (offline.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.unavailable("upsert", table); err != nil {
		return nil, err
	}
	if r.tables[table] == nil {
		r.tables[table] = make(map[string]offline.Record)
	}
	r.tables[table][rec.ID()] = rec.Clone()
	return rec.Clone(), nil
}

func (r *memoryRemote) Delete(_ context.Context, table, id, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.unavailable("delete", table); err != nil {
		return err
	}
	delete(r.tables[table], id)
	return nil
}

func (r *memoryRemote) Select(_ context.Context, table, userID string) ([]offline.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.unavailable("select", table); err != nil {
		return nil, err
	}
	out := make([]offline.Record, 0, len(r.tables[table]))
	for _, rec := range r.tables[table] {
		if rec.String(offline.FieldUserID) == userID {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (r *memoryRemote) Ping(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unavailable("ping", "")
}

func (r *memoryRemote) seed(table string, rec offline.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tables[table] == nil {
		r.tables[table] = make(map[string]offline.Record)
	}
	rec = rec.Clone()
	rec[offline.FieldUserID] = testUser
	r.tables[table][rec.ID()] = rec
}

func (r *memoryRemote) get(table, id string) (offline.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.tables[table][id]
	return rec, ok
}

func (r *memoryRemote) count(table string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tables[table])
}

func (r *memoryRemote) setDown(down bool) {
	r.mu.Lock()
	r.down = down
	r.mu.Unlock()
}

// MockImageStore is a mock implementation of ImageStore
type MockImageStore struct {
	mock.Mock
}

func (m *MockImageStore) DeleteByURL(ctx context.Context, imageURL string) error {
	args := m.Called(ctx, imageURL)
	return args.Error(0)
}

type fixture struct {
	remote  *memoryRemote
	store   *persistence.DurableStore
	signal  *connectivity.Switch
	engine  *appoffline.Engine
	service *Service
}

func newFixture(t *testing.T, online bool, opts ...Option) *fixture {
	t.Helper()
	db, err := persistence.Open(config.LocalStoreConfig{Path: filepath.Join(t.TempDir(), "agency.db")},
		persistence.WithDatabaseLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		remote: newMemoryRemote(),
		store:  persistence.NewDurableStore(db),
		signal: connectivity.NewSwitch(online),
	}
	f.remote.down = !online

	cfg := appoffline.DefaultEngineConfig()
	cfg.DrainOnStart = false
	f.engine = appoffline.NewEngine(testUser, appoffline.EngineDeps{
		Remote: f.remote,
		Store:  f.store,
		Signal: f.signal,
		Logger: zaptest.NewLogger(t),
	}, cfg)
	t.Cleanup(f.engine.Close)

	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	f.service = NewService(f.engine.Gateway(), opts...)
	f.service.RegisterReplay(f.engine.Syncer())
	return f
}

// reconnect brings the remote back and drains the queue
func (f *fixture) reconnect(t *testing.T) appoffline.DrainResult {
	t.Helper()
	f.remote.setDown(false)
	f.signal.Set(true)
	res, err := f.engine.Drain(context.Background())
	require.NoError(t, err)
	return res
}

func (f *fixture) queued(t *testing.T) []*offline.QueuedMutation {
	t.Helper()
	ms, err := f.store.ListMutations(context.Background(), testUser)
	require.NoError(t, err)
	return ms
}

func sale(qty, price float64) SaleInput {
	return SaleInput{
		TransactionInput: TransactionInput{
			QatType:   "سوتي",
			Quantity:  qty,
			UnitPrice: price,
			Status:    StatusCash,
			Currency:  "YER",
		},
		CustomerID:   "c-1",
		CustomerName: "Ahmed",
	}
}
