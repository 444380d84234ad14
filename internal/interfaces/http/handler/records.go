package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/erp/agency/internal/application/business"
	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// RecordHandler exposes the agency's business records
type RecordHandler struct {
	BaseHandler
	services *ServiceFactory
}

// NewRecordHandler creates a new RecordHandler
func NewRecordHandler(services *ServiceFactory) *RecordHandler {
	return &RecordHandler{services: services}
}

func (h *RecordHandler) service(c *gin.Context) (*business.Service, bool) {
	engine, ok := h.Engine(c)
	if !ok {
		return nil, false
	}
	return h.services.Business(engine), true
}

// List returns a collection. ?fresh=true bypasses the cache.
//
//	GET /records/:collection
func (h *RecordHandler) List(c *gin.Context) {
	svc, ok := h.service(c)
	if !ok {
		return
	}
	fresh, _ := strconv.ParseBool(c.Query("fresh"))
	rows, err := svc.List(c.Request.Context(), c.Param("collection"), fresh)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewListResponse(rows))
}

// Delete removes a record and, best-effort, its image (?image_url=)
//
//	DELETE /records/:collection/:id
func (h *RecordHandler) Delete(c *gin.Context) {
	svc, ok := h.service(c)
	if !ok {
		return
	}
	res, err := svc.DeleteRecord(c.Request.Context(), c.Param("collection"), c.Param("id"), c.Query("image_url"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Written(c, res)
}

// write binds a typed input and hands it to one of the service's save methods
func write[T any](h *RecordHandler, save func(*business.Service, context.Context, T) (offline.WriteResult, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		svc, ok := h.service(c)
		if !ok {
			return
		}
		var in T
		if !h.BindJSON(c, &in) {
			return
		}
		res, err := save(svc, c.Request.Context(), in)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		h.Written(c, res)
	}
}

// AddSale handles POST /sales
func (h *RecordHandler) AddSale() gin.HandlerFunc {
	return write(h, (*business.Service).AddSale)
}

// AddPurchase handles POST /purchases
func (h *RecordHandler) AddPurchase() gin.HandlerFunc {
	return write(h, (*business.Service).AddPurchase)
}

// SaveCustomer handles POST /customers
func (h *RecordHandler) SaveCustomer() gin.HandlerFunc {
	return write(h, (*business.Service).SaveCustomer)
}

// SaveSupplier handles POST /suppliers
func (h *RecordHandler) SaveSupplier() gin.HandlerFunc {
	return write(h, (*business.Service).SaveSupplier)
}

// SaveVoucher handles POST /vouchers
func (h *RecordHandler) SaveVoucher() gin.HandlerFunc {
	return write(h, (*business.Service).SaveVoucher)
}

// SaveOpeningBalance handles POST /opening-balances
func (h *RecordHandler) SaveOpeningBalance() gin.HandlerFunc {
	return write(h, (*business.Service).SaveOpeningBalance)
}

// SaveCategory handles POST /categories
func (h *RecordHandler) SaveCategory() gin.HandlerFunc {
	return write(h, (*business.Service).SaveCategory)
}

// SaveExpense handles POST /expenses
func (h *RecordHandler) SaveExpense() gin.HandlerFunc {
	return write(h, (*business.Service).SaveExpense)
}

// SaveExpenseTemplate handles POST /expense-templates
func (h *RecordHandler) SaveExpenseTemplate() gin.HandlerFunc {
	return write(h, (*business.Service).SaveExpenseTemplate)
}

// SaveWaste handles POST /waste
func (h *RecordHandler) SaveWaste() gin.HandlerFunc {
	return write(h, (*business.Service).SaveWaste)
}

// UpdateSettings handles PUT /settings
func (h *RecordHandler) UpdateSettings() gin.HandlerFunc {
	return write(h, (*business.Service).UpdateSettings)
}

// GetSettings handles GET /settings
func (h *RecordHandler) GetSettings(c *gin.Context) {
	svc, ok := h.service(c)
	if !ok {
		return
	}
	h.Success(c, svc.Settings(c.Request.Context()))
}

// ReturnSale handles POST /sales/:id/return
func (h *RecordHandler) ReturnSale(c *gin.Context) {
	h.markReturned(c, (*business.Service).ReturnSale)
}

// ReturnPurchase handles POST /purchases/:id/return
func (h *RecordHandler) ReturnPurchase(c *gin.Context) {
	h.markReturned(c, (*business.Service).ReturnPurchase)
}

func (h *RecordHandler) markReturned(c *gin.Context, mark func(*business.Service, context.Context, string) (offline.WriteResult, error)) {
	svc, ok := h.service(c)
	if !ok {
		return
	}
	res, err := mark(svc, c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Written(c, res)
}
