package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	appoffline "github.com/erp/agency/internal/application/offline"
	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/domain/shared"
	"github.com/erp/agency/internal/infrastructure/cache"
	"github.com/erp/agency/internal/interfaces/http/dto"
	"github.com/erp/agency/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// QueueReader reads the pending mutation queue
type QueueReader interface {
	ListMutations(ctx context.Context, userID string) ([]*offline.QueuedMutation, error)
	CountMutations(ctx context.Context, userID string) (int, error)
}

// SyncHandler exposes queue inspection and manual drains
type SyncHandler struct {
	BaseHandler
	queue     QueueReader
	signal    offline.ConnectivitySignal
	hub       *appoffline.QueueHub
	logger    *zap.Logger
	heartbeat time.Duration
}

// SyncHandlerOption configures a SyncHandler
type SyncHandlerOption func(*SyncHandler)

// WithSyncLogger sets the logger
func WithSyncLogger(logger *zap.Logger) SyncHandlerOption {
	return func(h *SyncHandler) {
		h.logger = logger
	}
}

// WithStreamHeartbeat sets the interval between keep-alive events on the queue stream
func WithStreamHeartbeat(interval time.Duration) SyncHandlerOption {
	return func(h *SyncHandler) {
		if interval > 0 {
			h.heartbeat = interval
		}
	}
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(queue QueueReader, signal offline.ConnectivitySignal, hub *appoffline.QueueHub, opts ...SyncHandlerOption) *SyncHandler {
	h := &SyncHandler{
		queue:     queue,
		signal:    signal,
		hub:       hub,
		logger:    zap.NewNop(),
		heartbeat: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MutationResponse is one pending mutation as shown to clients
type MutationResponse struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	Payload    offline.Record `json:"payload"`
	TempID     string         `json:"temp_id,omitempty"`
	OriginalID string         `json:"original_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

func toMutationResponse(m *offline.QueuedMutation) MutationResponse {
	return MutationResponse{
		ID:         m.ID.String(),
		Action:     string(m.Action),
		Payload:    m.Payload,
		TempID:     m.TempID,
		OriginalID: m.OriginalID,
		Timestamp:  m.Timestamp,
	}
}

// StatusResponse is the caller's sync state
type StatusResponse struct {
	UserID     string            `json:"user_id"`
	Online     bool              `json:"online"`
	QueueCount int               `json:"queue_count"`
	Health     appoffline.Health `json:"health"`
	Cache      cache.CacheStats  `json:"cache"`
}

// Drain replays the caller's queue now.
//
//	POST /sync
func (h *SyncHandler) Drain(c *gin.Context) {
	engine, ok := h.Engine(c)
	if !ok {
		return
	}
	result, err := engine.Drain(c.Request.Context())
	if err == nil {
		h.Success(c, result)
		return
	}

	_ = c.Error(err)
	status, code, message := http.StatusInternalServerError, dto.ErrCodeInternal, "Sync failed"
	var domainErr *shared.DomainError
	switch {
	case errors.As(err, &domainErr):
		code = dto.NormalizeErrorCode(domainErr.Code)
		status, message = dto.GetHTTPStatus(code), domainErr.Message
	case offline.IsTransient(err):
		status, code, message = http.StatusServiceUnavailable, dto.ErrCodeRemoteUnavailable, "Remote store is unreachable, queue kept for the next attempt"
	default:
		h.logger.Warn("Drain failed", zap.String("user_id", engine.UserID()), zap.Error(err))
	}
	resp := dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c))
	resp.Data = result
	c.JSON(status, resp)
}

// Status reports connectivity, queue size, sync health and cache statistics.
//
//	GET /sync/status
func (h *SyncHandler) Status(c *gin.Context) {
	engine, ok := h.Engine(c)
	if !ok {
		return
	}
	userID := engine.UserID()
	count, err := h.queue.CountMutations(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, StatusResponse{
		UserID:     userID,
		Online:     h.signal.Online(),
		QueueCount: count,
		Health:     engine.Syncer().Health(userID),
		Cache:      engine.CacheStats(),
	})
}

// Queue lists the caller's pending mutations in replay order.
//
//	GET /sync/queue
func (h *SyncHandler) Queue(c *gin.Context) {
	engine, ok := h.Engine(c)
	if !ok {
		return
	}
	pending, err := h.queue.ListMutations(c.Request.Context(), engine.UserID())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]MutationResponse, 0, len(pending))
	for _, m := range pending {
		out = append(out, toMutationResponse(m))
	}
	c.JSON(http.StatusOK, dto.NewListResponse(out))
}

// QueueCount returns the number of pending mutations.
//
//	GET /sync/queue/count
func (h *SyncHandler) QueueCount(c *gin.Context) {
	engine, ok := h.Engine(c)
	if !ok {
		return
	}
	count, err := h.queue.CountMutations(c.Request.Context(), engine.UserID())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"count": count})
}

// sseMessage is one server-sent event
type sseMessage struct {
	Event string
	Data  string
}

// Stream pushes the caller's queue count as server-sent events: the current
// count on connect and every change after it.
//
//	GET /sync/queue/stream
func (h *SyncHandler) Stream(c *gin.Context) {
	engine, ok := h.Engine(c)
	if !ok {
		return
	}
	userID := engine.UserID()
	reqCtx := c.Request.Context()

	count, err := h.queue.CountMutations(reqCtx, userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	c.Status(http.StatusOK)

	updates, unsubscribe := h.hub.Subscribe(userID)
	defer unsubscribe()

	h.logger.Debug("Queue stream opened", zap.String("user_id", userID))

	h.sendEvent(c.Writer, sseMessage{
		Event: "connected",
		Data:  fmt.Sprintf(`{"user_id":%q,"timestamp":%d}`, userID, time.Now().Unix()),
	})
	h.sendEvent(c.Writer, countMessage(count))
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-reqCtx.Done():
			h.logger.Debug("Queue stream closed", zap.String("user_id", userID))
			return
		case n, ok := <-updates:
			if !ok {
				return
			}
			if n == count {
				continue
			}
			count = n
			h.sendEvent(c.Writer, countMessage(n))
			c.Writer.Flush()
		case <-ticker.C:
			if engine.Closed() {
				return
			}
			h.sendEvent(c.Writer, sseMessage{
				Event: "heartbeat",
				Data:  fmt.Sprintf(`{"timestamp":%d}`, time.Now().Unix()),
			})
			c.Writer.Flush()
		}
	}
}

func countMessage(count int) sseMessage {
	data, _ := json.Marshal(map[string]int{"count": count})
	return sseMessage{Event: "queue_count", Data: string(data)}
}

// sendEvent writes an SSE event to the response writer
func (h *SyncHandler) sendEvent(w io.Writer, msg sseMessage) {
	if msg.Event != "" {
		fmt.Fprintf(w, "event: %s\n", msg.Event)
	}
	fmt.Fprintf(w, "data: %s\n\n", msg.Data)
}
