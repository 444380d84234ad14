package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/infrastructure/logger"
	"github.com/erp/agency/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LocalPinger checks the local durable store
type LocalPinger interface {
	Ping(ctx context.Context) error
}

// SessionCounter reports how many sessions are open
type SessionCounter interface {
	Count() int
}

// SystemHandler handles system-related API endpoints
type SystemHandler struct {
	BaseHandler
	name      string
	version   string
	local     LocalPinger
	signal    offline.ConnectivitySignal
	sessions  SessionCounter
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(name, version string, local LocalPinger, signal offline.ConnectivitySignal, sessions SessionCounter) *SystemHandler {
	return &SystemHandler{
		name:      name,
		version:   version,
		local:     local,
		signal:    signal,
		sessions:  sessions,
		startTime: time.Now(),
	}
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Online    bool   `json:"online"`
	Sessions  int    `json:"sessions"`
}

// GetSystemInfo returns version, uptime, connectivity and open sessions.
//
//	GET /system/info
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	info := SystemInfoResponse{
		Name:      h.name,
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Online:    h.signal.Online(),
		Sessions:  h.sessions.Count(),
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(info))
}

// PingResponse represents the ping response
type PingResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Ping is a liveness probe.
//
//	GET /system/ping
func (h *SystemHandler) Ping(c *gin.Context) {
	response := PingResponse{
		Message:   "pong",
		Timestamp: time.Now().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(response))
}

// Health reports unhealthy only when the local store is unusable. An
// unreachable remote store is a degraded but serviceable state.
//
//	GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	remote := "online"
	if !h.signal.Online() {
		remote = "offline"
	}
	if err := h.local.Ping(c.Request.Context()); err != nil {
		logger.FromContext(c.Request.Context()).Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "error",
			"remote":   remote,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"time":     time.Now().Format(time.RFC3339),
		"database": "ok",
		"remote":   remote,
	})
}
