package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/erp/agency/internal/application/business"
	appoffline "github.com/erp/agency/internal/application/offline"
	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/infrastructure/cache"
	"github.com/erp/agency/internal/infrastructure/config"
	"github.com/erp/agency/internal/infrastructure/connectivity"
	"github.com/erp/agency/internal/infrastructure/persistence"
	"github.com/erp/agency/internal/interfaces/http/dto"
	"github.com/erp/agency/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testUser = "user-1"

// memRemote is an in-memory remote store keyed by table and id
type memRemote struct {
	mu     sync.Mutex
	tables map[string]map[string]offline.Record
	down   bool
}

func newMemRemote() *memRemote {
	return &memRemote{tables: make(map[string]map[string]offline.Record)}
}

func (m *memRemote) setDown(down bool) {
	m.mu.Lock()
	m.down = down
	m.mu.Unlock()
}

func (m *memRemote) unavailable(op, table string) error {
	if m.down {
		return fmt.Errorf("%s %s: %w", op, table, offline.ErrRemoteUnavailable)
	}
	return nil
}

func (m *memRemote) Upsert(ctx context.Context, table string, rec offline.Record) (offline.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailable("upsert", table); err != nil {
		return nil, err
	}
	if m.tables[table] == nil {
		m.tables[table] = make(map[string]offline.Record)
	}
	saved := rec.Clone()
	m.tables[table][saved.ID()] = saved
	return saved.Clone(), nil
}

func (m *memRemote) Delete(ctx context.Context, table, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailable("delete", table); err != nil {
		return err
	}
	delete(m.tables[table], id)
	return nil
}

func (m *memRemote) Select(ctx context.Context, table, userID string) ([]offline.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailable("select", table); err != nil {
		return nil, err
	}
	out := make([]offline.Record, 0, len(m.tables[table]))
	for _, rec := range m.tables[table] {
		if rec.String(offline.FieldUserID) == userID {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (m *memRemote) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unavailable("ping", "")
}

func (m *memRemote) count(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}

// testEnv is one signed-in user's session behind a gin router
type testEnv struct {
	remote   *memRemote
	store    *persistence.DurableStore
	signal   *connectivity.Switch
	hub      *appoffline.QueueHub
	engine   *appoffline.Engine
	services *ServiceFactory
	router   *gin.Engine
}

func newTestEnv(t *testing.T, online bool) *testEnv {
	t.Helper()
	log := zaptest.NewLogger(t)

	db, err := persistence.Open(config.LocalStoreConfig{Path: filepath.Join(t.TempDir(), "agency.db")},
		persistence.WithDatabaseLogger(log))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{
		remote:   newMemRemote(),
		store:    persistence.NewDurableStore(db),
		signal:   connectivity.NewSwitch(online),
		hub:      appoffline.NewQueueHub(),
		services: &ServiceFactory{Logger: log},
	}
	if !online {
		env.remote.setDown(true)
	}

	cfg := appoffline.DefaultEngineConfig()
	cfg.CacheTTL = time.Minute
	cfg.DrainOnStart = false
	env.engine = appoffline.NewEngine(testUser, appoffline.EngineDeps{
		Remote: env.remote,
		Store:  env.store,
		Signal: env.signal,
		Ledger: cache.NewInMemoryLedger(),
		Logger: log,
	}, cfg)
	env.services.Business(env.engine).RegisterReplay(env.engine.Syncer())
	env.engine.Notifier().AddQueueListener(env.hub)
	env.engine.Start()
	t.Cleanup(env.engine.Close)

	env.router = gin.New()
	env.router.Use(middleware.RequestID(), env.session())
	return env
}

// session stands in for SessionAuth with an already validated user
func (env *testEnv) session() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.SessionUserIDKey, testUser)
		c.Set(middleware.SessionEngineKey, env.engine)
		c.Next()
	}
}

// goOffline makes the remote store unreachable for both reads and writes,
// once pending snapshot writes have landed
func (env *testEnv) goOffline() {
	env.engine.Gateway().Wait()
	env.signal.Set(false)
	env.remote.setDown(true)
}

func (env *testEnv) goOnline() {
	env.remote.setDown(false)
	env.signal.Set(true)
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// dataAs re-decodes the response data into out
func dataAs(t *testing.T, resp dto.Response, out any) {
	t.Helper()
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

func queued(t *testing.T, env *testEnv) []*offline.QueuedMutation {
	t.Helper()
	ms, err := env.store.ListMutations(context.Background(), testUser)
	require.NoError(t, err)
	return ms
}

func saleBody() map[string]any {
	return map[string]any{
		"qat_type":      "Sabri",
		"quantity":      2,
		"unit_price":    1500,
		"status":        "نقدي",
		"currency":      "YER",
		"customer_id":   "c-1",
		"customer_name": "Ali",
	}
}

var _ business.ImageStore = (*fakeImages)(nil)

// fakeImages records image deletions
type fakeImages struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeImages) DeleteByURL(ctx context.Context, url string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, url)
	f.mu.Unlock()
	return nil
}

// fakeObjects is an in-memory backup object store
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeObjects) Download(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}
