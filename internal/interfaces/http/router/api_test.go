package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	appoffline "github.com/erp/agency/internal/application/offline"
	"github.com/erp/agency/internal/infrastructure/connectivity"
	"github.com/erp/agency/internal/interfaces/http/handler"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type noopPinger struct{}

func (noopPinger) Ping(context.Context) error { return nil }

type noSessions struct{}

func (noSessions) Count() int              { return 0 }
func (noSessions) Close(userID string) bool { return false }

func TestRegistrars(t *testing.T) {
	signal := connectivity.NewSwitch(true)
	services := &handler.ServiceFactory{}
	h := Handlers{
		System:  handler.NewSystemHandler("agency", "test", noopPinger{}, signal, noSessions{}),
		Session: handler.NewSessionHandler(noSessions{}),
		Records: handler.NewRecordHandler(services),
		Sync:    handler.NewSyncHandler(nil, signal, appoffline.NewQueueHub()),
		Backup:  handler.NewBackupHandler(services),
	}

	engine := gin.New()
	deny := func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) }
	NewRouter(engine).Register(Registrars(h, deny)...).Setup()

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/system/ping", http.StatusOK},
		{http.MethodGet, "/api/v1/system/info", http.StatusOK},
		{http.MethodGet, "/api/v1/session", http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/session/logout", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/records/sales", http.StatusUnauthorized},
		{http.MethodDelete, "/api/v1/records/sales/s-1", http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/sales", http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/sales/s-1/return", http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/opening-balances", http.StatusUnauthorized},
		{http.MethodPut, "/api/v1/settings", http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/sync", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/sync/queue/stream", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/backup", http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/backup/restore-from", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
