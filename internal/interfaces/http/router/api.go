package router

import (
	"github.com/erp/agency/internal/interfaces/http/handler"
	"github.com/gin-gonic/gin"
)

// Handlers are the HTTP handlers the agency API serves
type Handlers struct {
	System  *handler.SystemHandler
	Session *handler.SessionHandler
	Records *handler.RecordHandler
	Sync    *handler.SyncHandler
	Backup  *handler.BackupHandler
}

// Registrars returns the agency API's route groups. Every group except
// system runs behind the protected middleware chain.
func Registrars(h Handlers, protected ...gin.HandlerFunc) []RouteRegistrar {
	system := NewDomainGroup("system", "/system").
		GET("/ping", h.System.Ping).
		GET("/info", h.System.GetSystemInfo)

	session := NewDomainGroup("session", "/session").
		Use(protected...).
		GET("", h.Session.Get).
		POST("/logout", h.Session.Logout)

	records := NewDomainGroup("records", "").
		Use(protected...).
		GET("/records/:collection", h.Records.List).
		DELETE("/records/:collection/:id", h.Records.Delete).
		POST("/sales", h.Records.AddSale()).
		POST("/sales/:id/return", h.Records.ReturnSale).
		POST("/purchases", h.Records.AddPurchase()).
		POST("/purchases/:id/return", h.Records.ReturnPurchase).
		POST("/customers", h.Records.SaveCustomer()).
		POST("/suppliers", h.Records.SaveSupplier()).
		POST("/vouchers", h.Records.SaveVoucher()).
		POST("/opening-balances", h.Records.SaveOpeningBalance()).
		POST("/categories", h.Records.SaveCategory()).
		POST("/expenses", h.Records.SaveExpense()).
		POST("/expense-templates", h.Records.SaveExpenseTemplate()).
		POST("/waste", h.Records.SaveWaste()).
		GET("/settings", h.Records.GetSettings).
		PUT("/settings", h.Records.UpdateSettings())

	sync := NewDomainGroup("sync", "/sync").
		Use(protected...).
		POST("", h.Sync.Drain).
		GET("/status", h.Sync.Status).
		GET("/queue", h.Sync.Queue).
		GET("/queue/count", h.Sync.QueueCount).
		GET("/queue/stream", h.Sync.Stream)

	backup := NewDomainGroup("backup", "/backup").
		Use(protected...).
		GET("", h.Backup.Export).
		POST("/upload", h.Backup.Upload).
		POST("/restore", h.Backup.Restore).
		POST("/restore-from", h.Backup.RestoreFrom)

	return []RouteRegistrar{system, session, records, sync, backup}
}
