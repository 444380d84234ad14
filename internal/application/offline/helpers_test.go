package offline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/domain/shared"
	"github.com/erp/agency/internal/infrastructure/cache"
	"github.com/erp/agency/internal/infrastructure/config"
	"github.com/erp/agency/internal/infrastructure/connectivity"
	"github.com/erp/agency/internal/infrastructure/persistence"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testUser = "user-1"

var errConnRefused = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

// fakeRemote is an in-memory remote store keyed by table and id
type fakeRemote struct {
	mu      sync.Mutex
	tables  map[string]map[string]offline.Record
	calls   []string
	selects int

	// fail returns an error for a call, or nil to let it through
	fail func(op, table string, rec offline.Record) error
	// assignID returns the id the server keeps for a new record
	assignID func(rec offline.Record) string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{tables: make(map[string]map[string]offline.Record)}
}

func (f *fakeRemote) Upsert(ctx context.Context, table string, rec offline.Record) (offline.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "upsert:"+table+":"+rec.ID())
	if f.fail != nil {
		if err := f.fail("upsert", table, rec); err != nil {
			return nil, err
		}
	}
	if f.tables[table] == nil {
		f.tables[table] = make(map[string]offline.Record)
	}
	saved := rec.Clone()
	if _, exists := f.tables[table][rec.ID()]; !exists && f.assignID != nil {
		saved[offline.FieldID] = f.assignID(rec)
	}
	f.tables[table][saved.ID()] = saved
	return saved.Clone(), nil
}

func (f *fakeRemote) Delete(ctx context.Context, table, id, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "delete:"+table+":"+id)
	if f.fail != nil {
		if err := f.fail("delete", table, offline.Record{offline.FieldID: id}); err != nil {
			return err
		}
	}
	delete(f.tables[table], id)
	return nil
}

func (f *fakeRemote) Select(ctx context.Context, table, userID string) ([]offline.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.selects++
	if f.fail != nil {
		if err := f.fail("select", table, nil); err != nil {
			return nil, err
		}
	}
	out := make([]offline.Record, 0, len(f.tables[table]))
	for _, rec := range f.tables[table] {
		if rec.String(offline.FieldUserID) == userID {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (f *fakeRemote) Ping(ctx context.Context) error {
	return nil
}

func (f *fakeRemote) rows(table string) []offline.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]offline.Record, 0, len(f.tables[table]))
	for _, rec := range f.tables[table] {
		out = append(out, rec.Clone())
	}
	return out
}

func (f *fakeRemote) setFail(fn func(op, table string, rec offline.Record) error) {
	f.mu.Lock()
	f.fail = fn
	f.mu.Unlock()
}

func (f *fakeRemote) selectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selects
}

func unreachable(op, table string, rec offline.Record) error {
	return fmt.Errorf("%s %s: %w: %w", op, table, offline.ErrRemoteUnavailable, errConnRefused)
}

func openStore(t *testing.T) *persistence.DurableStore {
	t.Helper()
	db, err := persistence.Open(config.LocalStoreConfig{Path: filepath.Join(t.TempDir(), "agency.db")},
		persistence.WithDatabaseLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return persistence.NewDurableStore(db)
}

func staticUser(uid string) offline.UserResolver {
	return offline.UserResolverFunc(func(context.Context) (string, bool) {
		return uid, uid != ""
	})
}

type gatewayFixture struct {
	remote  *fakeRemote
	store   *persistence.DurableStore
	cache   *cache.EphemeralCache[[]offline.Record]
	signal  *connectivity.Switch
	gateway *Gateway
}

func newGatewayFixture(t *testing.T, online bool, opts ...GatewayOption) *gatewayFixture {
	t.Helper()
	f := &gatewayFixture{
		remote: newFakeRemote(),
		store:  openStore(t),
		cache:  cache.NewEphemeralCache[[]offline.Record](),
		signal: connectivity.NewSwitch(online),
	}
	opts = append([]GatewayOption{WithGatewayLogger(zaptest.NewLogger(t))}, opts...)
	f.gateway = NewGateway(f.remote, f.store, f.cache, f.signal, staticUser(testUser), opts...)
	t.Cleanup(f.gateway.Wait)
	return f
}

func (f *gatewayFixture) queued(t *testing.T) []*offline.QueuedMutation {
	t.Helper()
	ms, err := f.store.ListMutations(context.Background(), testUser)
	require.NoError(t, err)
	return ms
}

// upsertHandler replays a mutation into table through the gateway, like a save function would
func upsertHandler(g *Gateway, table string) Handler {
	return HandlerFunc(func(ctx context.Context, m *offline.QueuedMutation) (offline.Record, error) {
		res, err := g.SafeUpsert(ctx, table, m.Payload, m.Action, UpsertOptions{SkipQueue: true})
		if err != nil {
			return nil, err
		}
		return res.Record, nil
	})
}

var errValidation = shared.ErrRemoteRejected.Wrap(errors.New(`null value in column "name" violates not-null constraint`))
