package offline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/domain/shared"
	"github.com/erp/agency/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Handler replays one queued mutation through the save function the online
// path uses and returns the record the remote store holds afterwards.
type Handler interface {
	Replay(ctx context.Context, m *offline.QueuedMutation) (offline.Record, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, m *offline.QueuedMutation) (offline.Record, error)

// Replay calls f
func (f HandlerFunc) Replay(ctx context.Context, m *offline.QueuedMutation) (offline.Record, error) {
	return f(ctx, m)
}

// SyncerConfig holds replay settings
type SyncerConfig struct {
	// MutationTimeout bounds a single replayed mutation
	MutationTimeout time.Duration
	// LedgerTTL is how long an applied mutation id is remembered
	LedgerTTL time.Duration
}

// DefaultSyncerConfig returns default replay settings
func DefaultSyncerConfig() SyncerConfig {
	return SyncerConfig{
		MutationTimeout: 15 * time.Second,
		LedgerTTL:       shared.DefaultIdempotencyConfig().TTL,
	}
}

// DrainResult summarises one drain
type DrainResult struct {
	UserID     string `json:"user_id"`
	Applied    int    `json:"applied"`
	Duplicates int    `json:"duplicates"`
	Failed     int    `json:"failed"`
	Remaining  int    `json:"remaining"`
	Remapped   int    `json:"remapped"`
}

// Health is the sync-health indicator for one user
type Health struct {
	Draining            bool      `json:"draining"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastDrainAt         time.Time `json:"last_drain_at,omitempty"`
	LastSuccessAt       time.Time `json:"last_success_at,omitempty"`
}

// Syncer replays a user's queued mutations in order
type Syncer struct {
	queue   offline.MutationQueue
	ledger  shared.IdempotencyStore
	config  SyncerConfig
	notify  *Notifier
	metrics *telemetry.SyncMetrics
	logger  *zap.Logger
	now     func() time.Time

	handlersMu sync.RWMutex
	handlers   map[offline.Action]Handler

	group singleflight.Group

	// base bounds every shared drain; callers only bound their own wait
	base    context.Context
	runMu   sync.Mutex
	running sync.WaitGroup

	healthMu sync.Mutex
	health   map[string]Health
}

// SyncerOption configures a Syncer
type SyncerOption func(*Syncer)

// WithSyncerLogger sets the logger
func WithSyncerLogger(logger *zap.Logger) SyncerOption {
	return func(s *Syncer) {
		s.logger = logger
	}
}

// WithLedger short-circuits mutations already applied by an interrupted drain
func WithLedger(ledger shared.IdempotencyStore) SyncerOption {
	return func(s *Syncer) {
		s.ledger = ledger
	}
}

// WithSyncerNotifier shares listeners with a Gateway
func WithSyncerNotifier(n *Notifier) SyncerOption {
	return func(s *Syncer) {
		if n != nil {
			s.notify = n
		}
	}
}

// WithSyncerContext bounds drains by ctx instead of by any one caller.
// Cancelling it stops in-flight drains and refuses new ones.
func WithSyncerContext(ctx context.Context) SyncerOption {
	return func(s *Syncer) {
		if ctx != nil {
			s.base = ctx
		}
	}
}

// WithSyncerMetrics records replay outcomes
func WithSyncerMetrics(m *telemetry.SyncMetrics) SyncerOption {
	return func(s *Syncer) {
		s.metrics = m
	}
}

// NewSyncer creates a syncer with no handlers registered
func NewSyncer(queue offline.MutationQueue, config SyncerConfig, opts ...SyncerOption) *Syncer {
	defaults := DefaultSyncerConfig()
	if config.MutationTimeout <= 0 {
		config.MutationTimeout = defaults.MutationTimeout
	}
	if config.LedgerTTL <= 0 {
		config.LedgerTTL = defaults.LedgerTTL
	}
	s := &Syncer{
		queue:    queue,
		config:   config,
		notify:   NewNotifier(),
		logger:   zap.NewNop(),
		now:      time.Now,
		handlers: make(map[offline.Action]Handler),
		base:     context.Background(),
		health:   make(map[string]Health),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register sets the handler for action, replacing any previous one
func (s *Syncer) Register(action offline.Action, h Handler) {
	s.handlersMu.Lock()
	s.handlers[action] = h
	s.handlersMu.Unlock()
}

func (s *Syncer) handler(action offline.Action) (Handler, bool) {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	h, ok := s.handlers[action]
	return h, ok
}

// Drain replays userID's queue in enqueue order and stops at the first failure.
// Concurrent calls for the same user share a single drain. Cancelling ctx
// abandons the wait but not the shared drain, which runs until it finishes
// or the syncer context is cancelled.
func (s *Syncer) Drain(ctx context.Context, userID string) (DrainResult, error) {
	if userID == "" {
		return DrainResult{}, shared.ErrUnauthenticated
	}
	ch := s.group.DoChan(userID, func() (any, error) {
		if !s.begin() {
			return DrainResult{UserID: userID}, fmt.Errorf("syncer stopped: %w", s.base.Err())
		}
		defer s.running.Done()

		dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		stop := context.AfterFunc(s.base, cancel)
		defer func() {
			stop()
			cancel()
		}()
		return s.drain(dctx, userID)
	})

	select {
	case r := <-ch:
		result, _ := r.Val.(DrainResult)
		return result, r.Err
	case <-ctx.Done():
		return DrainResult{UserID: userID}, ctx.Err()
	}
}

func (s *Syncer) begin() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.base.Err() != nil {
		return false
	}
	s.running.Add(1)
	return true
}

// Wait blocks until in-flight drains have returned. Call it after cancelling
// the syncer context.
func (s *Syncer) Wait() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.running.Wait()
}

func (s *Syncer) drain(ctx context.Context, userID string) (DrainResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "syncer", "drain", telemetry.AttrUserID.String(userID))
	defer span.End()

	start := s.now()
	s.setDraining(userID)
	result := DrainResult{UserID: userID}

	failErr := s.replayAll(ctx, userID, &result)

	remaining, err := s.queue.CountMutations(context.WithoutCancel(ctx), userID)
	if err != nil {
		s.logger.Warn("Failed to count queued mutations", zap.String("user_id", userID), zap.Error(err))
	} else {
		result.Remaining = remaining
		s.metrics.RecordQueueDepth(ctx, userID, remaining)
		s.notify.QueueCountChanged(userID, remaining)
	}

	s.finish(userID, failErr)
	s.metrics.RecordDrain(ctx, s.now().Sub(start))
	telemetry.RecordError(span, failErr)

	if failErr != nil {
		s.logger.Warn("Drain stopped",
			zap.String("user_id", userID),
			zap.Int("applied", result.Applied),
			zap.Int("remaining", result.Remaining),
			zap.Error(failErr),
		)
		return result, failErr
	}
	if result.Applied+result.Duplicates > 0 {
		s.logger.Info("Drain complete",
			zap.String("user_id", userID),
			zap.Int("applied", result.Applied),
			zap.Int("duplicates", result.Duplicates),
			zap.Int("remapped", result.Remapped),
		)
	}
	return result, nil
}

func (s *Syncer) replayAll(ctx context.Context, userID string, result *DrainResult) error {
	mutations, err := s.queue.ListMutations(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load queued mutations: %w", err)
	}
	if len(mutations) == 0 {
		return nil
	}

	mappings, err := s.queue.ListMappings(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load id mappings: %w", err)
	}
	ids := make(map[string]string, len(mappings))
	for _, mp := range mappings {
		ids[mp.TempID] = mp.ServerID
	}

	for _, m := range mutations {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.replayOne(ctx, m, ids, result); err != nil {
			result.Failed++
			return err
		}
	}
	return nil
}

func (s *Syncer) replayOne(ctx context.Context, m *offline.QueuedMutation, ids map[string]string, result *DrainResult) error {
	logger := s.logger.With(
		zap.String("mutation_id", m.ID.String()),
		zap.String("action", string(m.Action)),
	)

	if s.ledger != nil {
		done, err := s.ledger.IsProcessed(ctx, m.ID.String())
		if err != nil {
			logger.Warn("Ledger lookup failed, replaying anyway", zap.Error(err))
		} else if done {
			if err := s.queue.CompleteMutation(ctx, m.ID, nil); err != nil {
				return fmt.Errorf("failed to remove applied mutation %s: %w", m.ID, err)
			}
			result.Duplicates++
			s.metrics.RecordReplay(ctx, string(m.Action), telemetry.OutcomeDuplicate)
			logger.Debug("Mutation already applied, removed from queue")
			return nil
		}
	}

	h, ok := s.handler(m.Action)
	if !ok {
		return shared.ErrUnsupportedAction.WithMessage("no handler registered for " + string(m.Action))
	}

	replay := *m
	payload, changed := RemapIDs(m.Payload, ids)
	replay.Payload = payload
	if changed {
		result.Remapped++
	}

	mctx, cancel := context.WithTimeout(ctx, s.config.MutationTimeout)
	saved, err := h.Replay(mctx, &replay)
	cancel()
	if err != nil {
		outcome := telemetry.OutcomeRejected
		if offline.IsTransient(err) {
			outcome = telemetry.OutcomeDeferred
		}
		s.metrics.RecordReplay(ctx, string(m.Action), outcome)
		return fmt.Errorf("replay %s %s: %w", m.Action, m.ID, err)
	}

	var mapping *offline.IDMapping
	tempID := replay.TempID
	if mapped, ok := ids[tempID]; ok {
		tempID = mapped
	}
	if serverID := saved.ID(); serverID != "" && m.TempID != "" && serverID != tempID {
		mapping = &offline.IDMapping{
			UserID:    m.UserID,
			TempID:    m.TempID,
			ServerID:  serverID,
			CreatedAt: s.now(),
		}
	}

	if s.ledger != nil {
		if _, err := s.ledger.MarkProcessed(ctx, m.ID.String(), s.config.LedgerTTL); err != nil {
			logger.Warn("Failed to record applied mutation", zap.Error(err))
		}
	}
	if err := s.queue.CompleteMutation(context.WithoutCancel(ctx), m.ID, mapping); err != nil {
		return fmt.Errorf("failed to remove applied mutation %s: %w", m.ID, err)
	}

	result.Applied++
	s.metrics.RecordReplay(ctx, string(m.Action), telemetry.OutcomeApplied)
	if mapping != nil {
		ids[mapping.TempID] = mapping.ServerID
		s.notify.IDReconciled(m.UserID, mapping.TempID, mapping.ServerID)
		logger.Info("Temporary id reconciled",
			zap.String("temp_id", mapping.TempID),
			zap.String("server_id", mapping.ServerID),
		)
	}
	return nil
}

func (s *Syncer) setDraining(userID string) {
	s.healthMu.Lock()
	h := s.health[userID]
	h.Draining = true
	s.health[userID] = h
	s.healthMu.Unlock()
}

func (s *Syncer) finish(userID string, err error) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	h := s.health[userID]
	h.Draining = false
	h.LastDrainAt = s.now()
	if err != nil {
		h.ConsecutiveFailures++
		h.LastError = err.Error()
	} else {
		h.ConsecutiveFailures = 0
		h.LastError = ""
		h.LastSuccessAt = h.LastDrainAt
	}
	s.health[userID] = h
}

// Health returns the sync-health indicator for userID
func (s *Syncer) Health(userID string) Health {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	return s.health[userID]
}

// RemapIDs returns payload with every string equal to a known temporary id
// replaced by its server id, and whether anything changed. Nested maps and
// slices are rewritten too. payload itself is not modified.
func RemapIDs(payload offline.Record, ids map[string]string) (offline.Record, bool) {
	if len(ids) == 0 {
		return payload, false
	}
	out, changed := remapValue(map[string]any(payload), ids)
	if !changed {
		return payload, false
	}
	return offline.Record(out.(map[string]any)), true
}

func remapValue(v any, ids map[string]string) (any, bool) {
	switch t := v.(type) {
	case string:
		if server, ok := ids[t]; ok {
			return server, true
		}
		return t, false
	case offline.Record:
		out, changed := remapValue(map[string]any(t), ids)
		return offline.Record(out.(map[string]any)), changed
	case map[string]any:
		out := make(map[string]any, len(t))
		changed := false
		for k, val := range t {
			nv, c := remapValue(val, ids)
			out[k] = nv
			changed = changed || c
		}
		return out, changed
	case []any:
		out := make([]any, len(t))
		changed := false
		for i, val := range t {
			nv, c := remapValue(val, ids)
			out[i] = nv
			changed = changed || c
		}
		return out, changed
	case []string:
		out := make([]string, len(t))
		changed := false
		for i, val := range t {
			if server, ok := ids[val]; ok {
				out[i] = server
				changed = true
				continue
			}
			out[i] = val
		}
		return out, changed
	default:
		return v, false
	}
}
