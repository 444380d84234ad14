package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/domain/shared"
	"github.com/erp/agency/internal/infrastructure/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestSyncer(t *testing.T, f *gatewayFixture, opts ...SyncerOption) *Syncer {
	t.Helper()
	opts = append([]SyncerOption{
		WithSyncerLogger(zaptest.NewLogger(t)),
		WithSyncerNotifier(f.gateway.Notifier()),
	}, opts...)
	s := NewSyncer(f.store, SyncerConfig{}, opts...)
	s.Register(offline.ActionSaveCustomer, upsertHandler(f.gateway, "customers"))
	s.Register(offline.ActionSaveSale, upsertHandler(f.gateway, "sales"))
	s.Register(offline.ActionSaveVoucher, upsertHandler(f.gateway, "vouchers"))
	return s
}

func queueWrite(t *testing.T, f *gatewayFixture, table string, action offline.Action, rec offline.Record) offline.WriteResult {
	t.Helper()
	res, err := f.gateway.SafeUpsert(context.Background(), table, rec, action, UpsertOptions{})
	require.NoError(t, err)
	require.True(t, res.IsPending())
	return res
}

func TestSyncer_ReplaysInOrderAndRemapsTempIDs(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, false)
	s := newTestSyncer(t, f)

	// the server assigns its own ids and enforces references
	f.remote.assignID = func(rec offline.Record) string { return "srv-" + rec.ID() }
	f.remote.fail = func(op, table string, rec offline.Record) error {
		switch table {
		case "sales":
			if _, ok := f.remote.tables["customers"][rec.String("customer_id")]; !ok {
				return shared.ErrRemoteRejected.Wrap(errors.New("sales_customer_id_fkey"))
			}
		case "vouchers":
			if _, ok := f.remote.tables["sales"][rec.String("sale_id")]; !ok {
				return shared.ErrRemoteRejected.Wrap(errors.New("vouchers_sale_id_fkey"))
			}
		}
		return nil
	}

	queueWrite(t, f, "customers", offline.ActionSaveCustomer, offline.Record{"id": "c-tmp", "name": "Ali"})
	queueWrite(t, f, "sales", offline.ActionSaveSale, offline.Record{"id": "s-tmp", "customer_id": "c-tmp", "total": 500})
	queueWrite(t, f, "vouchers", offline.ActionSaveVoucher, offline.Record{"id": "v-tmp", "sale_id": "s-tmp", "amount": 200})

	var reconciled []string
	f.gateway.Notifier().AddReconcileListener(offline.ReconcileListenerFunc(func(uid, tempID, serverID string) {
		reconciled = append(reconciled, tempID+"->"+serverID)
	}))

	f.signal.Set(true)
	res, err := s.Drain(ctx, testUser)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Applied)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 2, res.Remapped)
	assert.Equal(t, []string{"upsert:customers:c-tmp", "upsert:sales:s-tmp", "upsert:vouchers:v-tmp"}, f.remote.calls)
	assert.Equal(t, []string{"c-tmp->srv-c-tmp", "s-tmp->srv-s-tmp", "v-tmp->srv-v-tmp"}, reconciled)

	sales := f.remote.rows("sales")
	require.Len(t, sales, 1)
	assert.Equal(t, "srv-c-tmp", sales[0]["customer_id"])

	mappings, err := f.store.ListMappings(ctx, testUser)
	require.NoError(t, err)
	assert.Len(t, mappings, 3)
}

func TestSyncer_ReorderingBreaksDependentChain(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, false)
	s := newTestSyncer(t, f)
	f.remote.fail = func(op, table string, rec offline.Record) error {
		if table == "sales" {
			if _, ok := f.remote.tables["customers"][rec.String("customer_id")]; !ok {
				return shared.ErrRemoteRejected.Wrap(errors.New("sales_customer_id_fkey"))
			}
		}
		return nil
	}

	queueWrite(t, f, "sales", offline.ActionSaveSale, offline.Record{"id": "s-1", "customer_id": "c-1"})
	queueWrite(t, f, "customers", offline.ActionSaveCustomer, offline.Record{"id": "c-1"})

	_, err := s.Drain(ctx, testUser)
	assert.ErrorIs(t, err, shared.ErrRemoteRejected)
	assert.Empty(t, f.remote.rows("customers"), "drain must not skip ahead of a failed mutation")
}

func TestSyncer_ScenarioB_DrainAfterReconnect(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, false)
	s := newTestSyncer(t, f)

	res := queueWrite(t, f, "sales", offline.ActionSaveSale, offline.Record{"quantity": 5, "unit_price": 100, "total": 500})
	count, err := f.store.CountMutations(ctx, testUser)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	f.signal.Set(true)
	result, err := s.Drain(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)

	count, err = f.store.CountMutations(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	rows := f.remote.rows("sales")
	require.Len(t, rows, 1)
	assert.Equal(t, res.Record.ID(), rows[0].ID())
	assert.NotContains(t, rows[0], offline.FieldOffline)
	assert.NotContains(t, rows[0], offline.FieldCreatedAt)

	_, err = s.Drain(ctx, testUser)
	require.NoError(t, err)
	assert.Len(t, f.remote.rows("sales"), 1)
}

func TestSyncer_ScenarioC_StopsAtFirstRejection(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, false)
	s := newTestSyncer(t, f)

	queueWrite(t, f, "customers", offline.ActionSaveCustomer, offline.Record{"id": "c-1", "name": "A"})
	queueWrite(t, f, "customers", offline.ActionSaveCustomer, offline.Record{"id": "c-2"})
	queueWrite(t, f, "customers", offline.ActionSaveCustomer, offline.Record{"id": "c-3", "name": "C"})

	f.signal.Set(true)
	f.remote.setFail(func(op, table string, rec offline.Record) error {
		if rec.ID() == "c-2" {
			return errValidation
		}
		return nil
	})

	res, err := s.Drain(ctx, testUser)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrRemoteRejected)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, res.Remaining)

	left := f.queued(t)
	require.Len(t, left, 2)
	assert.Equal(t, "c-2", left[0].TempID)
	assert.Equal(t, "c-3", left[1].TempID)

	health := s.Health(testUser)
	assert.Equal(t, 1, health.ConsecutiveFailures)
	assert.Contains(t, health.LastError, "not-null")
	assert.False(t, health.Draining)

	f.remote.setFail(nil)
	res, err = s.Drain(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 0, s.Health(testUser).ConsecutiveFailures)
}

func TestSyncer_TransientFailureLeavesQueue(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, false)
	s := newTestSyncer(t, f)
	queueWrite(t, f, "sales", offline.ActionSaveSale, offline.Record{"id": "s-1"})
	f.remote.setFail(unreachable)

	res, err := s.Drain(ctx, testUser)
	require.Error(t, err)
	assert.True(t, offline.IsTransient(err))
	assert.Equal(t, 1, res.Remaining)
	assert.Len(t, f.queued(t), 1, "a failed replay is not queued a second time")
}

func TestSyncer_Idempotence(t *testing.T) {
	ctx := context.Background()

	// the first delivery lands remotely but the process dies before the
	// mutation leaves the queue, so the next drain delivers it again
	interrupted := func(t *testing.T, f *gatewayFixture) *offline.QueuedMutation {
		t.Helper()
		queueWrite(t, f, "sales", offline.ActionSaveSale, offline.Record{"id": "s-1", "total": 500})
		queued := f.queued(t)
		require.Len(t, queued, 1)
		_, err := upsertHandler(f.gateway, "sales").Replay(ctx, queued[0])
		require.NoError(t, err)
		return queued[0]
	}

	t.Run("upsert keyed by id keeps one record", func(t *testing.T) {
		f := newGatewayFixture(t, false)
		s := newTestSyncer(t, f)
		interrupted(t, f)

		f.signal.Set(true)
		res, err := s.Drain(ctx, testUser)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Applied)
		assert.Equal(t, 0, res.Remaining)
		assert.Len(t, f.remote.calls, 2)
		assert.Len(t, f.remote.rows("sales"), 1)
	})

	t.Run("ledger skips the remote call for an applied mutation", func(t *testing.T) {
		f := newGatewayFixture(t, false)
		ledger := cache.NewInMemoryLedger()
		t.Cleanup(func() { _ = ledger.Close() })
		s := newTestSyncer(t, f, WithLedger(ledger))
		m := interrupted(t, f)
		_, err := ledger.MarkProcessed(ctx, m.ID.String(), time.Hour)
		require.NoError(t, err)

		f.signal.Set(true)
		res, err := s.Drain(ctx, testUser)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Applied)
		assert.Equal(t, 1, res.Duplicates)
		assert.Equal(t, 0, res.Remaining)
		assert.Len(t, f.remote.calls, 1)
		assert.Len(t, f.remote.rows("sales"), 1)
	})

	t.Run("applied mutations are recorded in the ledger", func(t *testing.T) {
		f := newGatewayFixture(t, false)
		ledger := cache.NewInMemoryLedger()
		t.Cleanup(func() { _ = ledger.Close() })
		s := newTestSyncer(t, f, WithLedger(ledger))
		res := queueWrite(t, f, "sales", offline.ActionSaveSale, offline.Record{"id": "s-1"})

		_, err := s.Drain(ctx, testUser)
		require.NoError(t, err)
		done, err := ledger.IsProcessed(ctx, res.MutationID.String())
		require.NoError(t, err)
		assert.True(t, done)
	})
}

func TestSyncer_UnsupportedAction(t *testing.T) {
	f := newGatewayFixture(t, false)
	s := NewSyncer(f.store, SyncerConfig{})
	queueWrite(t, f, "waste", offline.ActionSaveWaste, offline.Record{"id": "w-1"})

	_, err := s.Drain(context.Background(), testUser)
	assert.ErrorIs(t, err, shared.ErrUnsupportedAction)
	assert.Len(t, f.queued(t), 1)
}

func TestSyncer_MutationTimeout(t *testing.T) {
	f := newGatewayFixture(t, false)
	s := NewSyncer(f.store, SyncerConfig{MutationTimeout: 20 * time.Millisecond})
	s.Register(offline.ActionSaveSale, HandlerFunc(func(ctx context.Context, m *offline.QueuedMutation) (offline.Record, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	queueWrite(t, f, "sales", offline.ActionSaveSale, offline.Record{"id": "s-1"})

	start := time.Now()
	_, err := s.Drain(context.Background(), testUser)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Len(t, f.queued(t), 1)
}

func TestSyncer_SingleFlightPerUser(t *testing.T) {
	f := newGatewayFixture(t, false)
	s := NewSyncer(f.store, SyncerConfig{})

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	var replays atomic.Int32
	s.Register(offline.ActionSaveSale, HandlerFunc(func(ctx context.Context, m *offline.QueuedMutation) (offline.Record, error) {
		replays.Add(1)
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return m.Payload, nil
	}))
	queueWrite(t, f, "sales", offline.ActionSaveSale, offline.Record{"id": "s-1"})

	var wg sync.WaitGroup
	results := make([]DrainResult, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = s.Drain(context.Background(), testUser)
	}()
	<-entered
	assert.True(t, s.Health(testUser).Draining)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = s.Drain(context.Background(), testUser)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), replays.Load())
	assert.Equal(t, 1, results[0].Applied)
	assert.Equal(t, 1, results[1].Applied)
}

func TestSyncer_CallerCancellationKeepsSharedDrain(t *testing.T) {
	f := newGatewayFixture(t, false)
	s := NewSyncer(f.store, SyncerConfig{})

	entered := make(chan struct{})
	release := make(chan struct{})
	var replayCtx context.Context
	s.Register(offline.ActionSaveCustomer, HandlerFunc(func(ctx context.Context, m *offline.QueuedMutation) (offline.Record, error) {
		replayCtx = ctx
		close(entered)
		<-release
		return m.Payload, ctx.Err()
	}))
	queueWrite(t, f, "customers", offline.ActionSaveCustomer, offline.Record{"id": "c-1"})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := s.Drain(ctxA, testUser)
		errA <- err
	}()
	<-entered

	errB := make(chan error, 1)
	go func() {
		_, err := s.Drain(context.Background(), testUser)
		errB <- err
	}()

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)
	assert.NoError(t, replayCtx.Err(), "the shared drain outlives the first caller")

	close(release)
	require.NoError(t, <-errB)
	assert.Empty(t, f.queued(t))
	assert.Empty(t, s.Health(testUser).LastError)
}

func TestSyncer_ContextBoundsDrains(t *testing.T) {
	f := newGatewayFixture(t, false)
	base, cancel := context.WithCancel(context.Background())
	s := NewSyncer(f.store, SyncerConfig{}, WithSyncerContext(base))

	entered := make(chan struct{})
	s.Register(offline.ActionSaveSale, HandlerFunc(func(ctx context.Context, m *offline.QueuedMutation) (offline.Record, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	queueWrite(t, f, "sales", offline.ActionSaveSale, offline.Record{"id": "s-1"})

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Drain(context.Background(), testUser)
		errCh <- err
	}()
	<-entered

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	s.Wait()
	assert.Len(t, f.queued(t), 1)

	_, err := s.Drain(context.Background(), testUser)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyncer_ReportsRemainingCount(t *testing.T) {
	f := newGatewayFixture(t, false)
	s := newTestSyncer(t, f)
	queueWrite(t, f, "sales", offline.ActionSaveSale, offline.Record{"id": "s-1"})

	var got []string
	f.gateway.Notifier().AddQueueListener(offline.QueueListenerFunc(func(uid string, n int) {
		got = append(got, fmt.Sprintf("%s=%d", uid, n))
	}))

	f.signal.Set(true)
	_, err := s.Drain(context.Background(), testUser)
	require.NoError(t, err)
	_, err = s.Drain(context.Background(), "someone-else")
	require.NoError(t, err)

	assert.Equal(t, []string{testUser + "=0", "someone-else=0"}, got)
}

func TestRemapIDs(t *testing.T) {
	ids := map[string]string{"t1": "s1", "t2": "s2"}
	in := offline.Record{
		"id":          "t1",
		"customer_id": "t2",
		"items":       []any{map[string]any{"ref": "t1"}, "x"},
		"tags":        []string{"t2", "y"},
		"nested":      offline.Record{"ref": "t2"},
		"n":           5,
	}

	out, changed := RemapIDs(in, ids)
	require.True(t, changed)
	assert.Equal(t, "s1", out["id"])
	assert.Equal(t, "s2", out["customer_id"])
	assert.Equal(t, []any{map[string]any{"ref": "s1"}, "x"}, out["items"])
	assert.Equal(t, []string{"s2", "y"}, out["tags"])
	assert.Equal(t, offline.Record{"ref": "s2"}, out["nested"])
	assert.Equal(t, "t1", in["id"], "input is not modified")

	same, changed := RemapIDs(offline.Record{"id": "z"}, ids)
	assert.False(t, changed)
	assert.Equal(t, "z", same["id"])
}
