// Package offline implements the read and write paths that keep working while
// the remote store is unreachable, and the processor that replays queued writes.
package offline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/domain/shared"
	"github.com/erp/agency/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// RemoteFetch reads a dataset from the remote store
type RemoteFetch func(ctx context.Context) ([]offline.Record, error)

// RecordCache is the short-lived read cache in front of the remote store.
// Generation and PutIfGeneration keep a read that overlapped a write from
// caching the dataset the write replaced.
type RecordCache interface {
	Get(key string) ([]offline.Record, bool)
	Generation(key string) uint64
	PutIfGeneration(key string, value []offline.Record, gen uint64) bool
	Invalidate(key string)
	Clear()
}

// DurableStore is the local persistence the gateway and syncer share
type DurableStore interface {
	offline.SnapshotStore
	offline.MutationQueue
}

// UpsertOptions controls a single write
type UpsertOptions struct {
	// SkipQueue makes transient failures propagate instead of queueing.
	// Replays set it so a failed mutation is not queued a second time.
	SkipQueue bool
}

// Gateway wraps the remote store with cache fallback on reads and queueing on writes
type Gateway struct {
	remote  offline.RemoteStore
	store   DurableStore
	signal  offline.ConnectivitySignal
	users   offline.UserResolver
	cache   RecordCache
	notify  *Notifier
	metrics *telemetry.SyncMetrics
	logger  *zap.Logger
	now     func() time.Time

	persists sync.WaitGroup
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithGatewayLogger sets the logger
func WithGatewayLogger(logger *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithSyncMetrics records reads, writes and queue activity
func WithSyncMetrics(m *telemetry.SyncMetrics) GatewayOption {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithNotifier shares listeners with a Syncer
func WithNotifier(n *Notifier) GatewayOption {
	return func(g *Gateway) {
		if n != nil {
			g.notify = n
		}
	}
}

// WithGatewayClock replaces time.Now
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		g.now = now
	}
}

// NewGateway creates a gateway
func NewGateway(
	remote offline.RemoteStore,
	store DurableStore,
	cache RecordCache,
	signal offline.ConnectivitySignal,
	users offline.UserResolver,
	opts ...GatewayOption,
) *Gateway {
	g := &Gateway{
		remote: remote,
		store:  store,
		signal: signal,
		users:  users,
		cache:  cache,
		notify: NewNotifier(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Notifier returns the listeners notified on queue changes
func (g *Gateway) Notifier() *Notifier {
	return g.notify
}

// UserID resolves the owning user of ctx
func (g *Gateway) UserID(ctx context.Context) (string, error) {
	uid, ok := g.users.UserID(ctx)
	if !ok || uid == "" {
		return "", shared.ErrUnauthenticated
	}
	return uid, nil
}

// FetchWithFallback returns live cached data, else fresh remote data, else the
// last snapshot for key, else an empty slice. It never fails.
func (g *Gateway) FetchWithFallback(ctx context.Context, key string, fetch RemoteFetch, forceFresh bool) []offline.Record {
	collection := collectionOf(key)

	if !forceFresh {
		if data, ok := g.cache.Get(key); ok {
			g.metrics.RecordRead(ctx, collection, telemetry.ReadSourceCache)
			return data
		}
	}

	gen := g.cache.Generation(key)
	fetchedAt := g.now()
	data, err := fetch(ctx)
	if err == nil && data != nil {
		if g.cache.PutIfGeneration(key, data, gen) {
			g.persistSnapshot(key, data, fetchedAt)
		} else {
			g.logger.Debug("Dataset written during fetch, result not cached", zap.String("key", key))
		}
		g.metrics.RecordRead(ctx, collection, telemetry.ReadSourceRemote)
		return data
	}

	switch {
	case err == nil:
		g.logger.Debug("Remote fetch returned no data", zap.String("key", key))
	case offline.IsTransient(err):
		g.logger.Info("Remote unreachable, serving local snapshot", zap.String("key", key), zap.Error(err))
	default:
		g.logger.Error("Remote fetch failed", zap.String("key", key), zap.Error(err))
	}

	snapshot, snapErr := g.store.GetSnapshot(ctx, key)
	if snapErr != nil {
		g.logger.Warn("Failed to read snapshot", zap.String("key", key), zap.Error(snapErr))
	}
	if snapshot == nil {
		g.metrics.RecordRead(ctx, collection, telemetry.ReadSourceEmpty)
		return []offline.Record{}
	}
	g.metrics.RecordRead(ctx, collection, telemetry.ReadSourceSnapshot)
	return snapshot
}

// FetchCollection reads the calling user's rows of collection through FetchWithFallback.
// Without a user it returns an empty slice.
func (g *Gateway) FetchCollection(ctx context.Context, collection string, forceFresh bool) []offline.Record {
	uid, err := g.UserID(ctx)
	if err != nil {
		return []offline.Record{}
	}
	return g.FetchWithFallback(ctx, offline.CacheKey(collection, uid), func(ctx context.Context) ([]offline.Record, error) {
		return g.remote.Select(ctx, collection, uid)
	}, forceFresh)
}

func (g *Gateway) persistSnapshot(key string, data []offline.Record, fetchedAt time.Time) {
	g.persists.Add(1)
	go func() {
		defer g.persists.Done()
		if err := g.store.SaveSnapshot(context.Background(), key, data, fetchedAt); err != nil {
			g.logger.Warn("Snapshot persistence failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

// Wait blocks until background snapshot writes have finished
func (g *Gateway) Wait() {
	g.persists.Wait()
}

// InvalidateCache drops every cached dataset, for writes that bypass SafeUpsert
func (g *Gateway) InvalidateCache() {
	g.cache.Clear()
}

// SafeUpsert writes payload to collection. When the remote store cannot be
// reached the write is queued and an optimistic record is returned as PENDING.
func (g *Gateway) SafeUpsert(ctx context.Context, collection string, payload offline.Record, action offline.Action, opts UpsertOptions) (offline.WriteResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "gateway", "safe_upsert",
		telemetry.AttrCollection.String(collection),
		telemetry.AttrAction.String(string(action)),
	)
	defer span.End()

	uid, err := g.UserID(ctx)
	if err != nil {
		return offline.WriteResult{}, err
	}

	cleaned := payload.Clean(uid)
	if !g.signal.Online() && !opts.SkipQueue {
		return g.enqueue(ctx, uid, collection, action, payload, cleaned.ID())
	}

	saved, err := g.remote.Upsert(ctx, collection, cleaned)
	if err == nil {
		g.cache.Invalidate(offline.CacheKey(collection, uid))
		g.metrics.RecordWrite(ctx, collection, string(offline.WriteStateConfirmed))
		return offline.Confirmed(saved), nil
	}

	return g.handleWriteError(ctx, err, uid, collection, action, payload, cleaned.ID(), opts)
}

// Delete removes the record id from collection, queueing a deleteRecord
// mutation when the remote store cannot be reached.
func (g *Gateway) Delete(ctx context.Context, collection, id string, opts UpsertOptions) (offline.WriteResult, error) {
	uid, err := g.UserID(ctx)
	if err != nil {
		return offline.WriteResult{}, err
	}
	if id == "" {
		return offline.WriteResult{}, shared.ErrInvalidInput.WithMessage("delete requires a record id")
	}

	payload := DeletePayload(collection, id)
	if !g.signal.Online() && !opts.SkipQueue {
		return g.enqueue(ctx, uid, collection, offline.ActionDeleteRecord, payload, id)
	}

	if err := g.remote.Delete(ctx, collection, id, uid); err != nil {
		return g.handleWriteError(ctx, err, uid, collection, offline.ActionDeleteRecord, payload, id, opts)
	}
	g.cache.Invalidate(offline.CacheKey(collection, uid))
	g.metrics.RecordWrite(ctx, collection, string(offline.WriteStateConfirmed))
	return offline.Confirmed(offline.Record{offline.FieldID: id, offline.FieldUserID: uid}), nil
}

func (g *Gateway) handleWriteError(
	ctx context.Context,
	err error,
	uid, collection string,
	action offline.Action,
	payload offline.Record,
	id string,
	opts UpsertOptions,
) (offline.WriteResult, error) {
	switch offline.ClassifyError(err) {
	case offline.ErrorClassTransient:
		if opts.SkipQueue {
			return offline.WriteResult{}, fmt.Errorf("%s %s: %w", action, collection, err)
		}
		g.logger.Info("Remote write did not land, queueing",
			zap.String("collection", collection),
			zap.String("action", string(action)),
			zap.Error(err),
		)
		return g.enqueue(ctx, uid, collection, action, payload, id)
	case offline.ErrorClassRejected:
		return offline.WriteResult{}, err
	default:
		g.logger.Error("Unexpected write failure",
			zap.String("collection", collection),
			zap.String("action", string(action)),
			zap.Error(err),
		)
		if opts.SkipQueue {
			return offline.WriteResult{}, err
		}
		return g.enqueue(ctx, uid, collection, action, payload, id)
	}
}

// enqueue records the write and returns the optimistic record. The queue
// write outlives a cancelled request so the user's action is not lost.
func (g *Gateway) enqueue(ctx context.Context, uid, collection string, action offline.Action, payload offline.Record, id string) (offline.WriteResult, error) {
	queued := payload.Clone()
	queued[offline.FieldID] = id
	queued[offline.FieldUserID] = uid

	m, err := offline.NewQueuedMutation(uid, action, queued, g.now())
	if err != nil {
		return offline.WriteResult{}, shared.ErrQueueWrite.Wrap(err)
	}
	if orig := payload.String(offline.FieldOrigID); orig != "" {
		m.WithOriginalID(orig)
	}

	storeCtx := context.WithoutCancel(ctx)
	if err := g.store.AppendMutation(storeCtx, m); err != nil {
		g.logger.Error("Failed to queue mutation",
			zap.String("action", string(action)),
			zap.String("mutation_id", m.ID.String()),
			zap.Error(err),
		)
		return offline.WriteResult{}, shared.ErrQueueWrite.Wrap(err)
	}

	g.metrics.RecordQueued(ctx, string(action))
	g.metrics.RecordWrite(ctx, collection, string(offline.WriteStatePending))
	g.publishCount(storeCtx, uid)

	return offline.Pending(queued.Optimistic(g.now()), m.ID), nil
}

func (g *Gateway) publishCount(ctx context.Context, uid string) {
	count, err := g.store.CountMutations(ctx, uid)
	if err != nil {
		g.logger.Warn("Failed to count queued mutations", zap.String("user_id", uid), zap.Error(err))
		return
	}
	g.metrics.RecordQueueDepth(ctx, uid, count)
	g.notify.QueueCountChanged(uid, count)
}

// DeletePayload is the queued payload of a deleteRecord mutation
func DeletePayload(collection, id string) offline.Record {
	return offline.Record{offline.FieldTable: collection, offline.FieldID: id}
}

func collectionOf(key string) string {
	collection, _, _ := strings.Cut(key, ":")
	return collection
}
