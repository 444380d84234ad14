package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/erp/agency/internal/application/backup"
	"github.com/erp/agency/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// BackupHandler exports and restores the caller's data
type BackupHandler struct {
	BaseHandler
	services *ServiceFactory
}

// NewBackupHandler creates a new BackupHandler
func NewBackupHandler(services *ServiceFactory) *BackupHandler {
	return &BackupHandler{services: services}
}

func (h *BackupHandler) service(c *gin.Context) (*backup.Service, bool) {
	engine, ok := h.Engine(c)
	if !ok {
		return nil, false
	}
	return h.services.Backup(engine), true
}

// UploadResponse names where an uploaded package was stored
type UploadResponse struct {
	Key     string `json:"key"`
	Records int    `json:"records"`
}

// RestoreFromRequest selects a stored package
type RestoreFromRequest struct {
	Key string `json:"key"`
}

// Export returns a fresh backup package. ?download=true serves it as a file.
//
//	GET /backup
func (h *BackupHandler) Export(c *gin.Context) {
	svc, ok := h.service(c)
	if !ok {
		return
	}
	pkg, err := svc.Prepare(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if c.Query("download") == "true" {
		name := fmt.Sprintf("backup-%s.json", pkg.Timestamp.Format("20060102T150405Z"))
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
		c.JSON(http.StatusOK, pkg)
		return
	}
	h.Success(c, pkg)
}

// Upload prepares a package and stores it in object storage.
//
//	POST /backup/upload
func (h *BackupHandler) Upload(c *gin.Context) {
	svc, ok := h.service(c)
	if !ok {
		return
	}
	key, pkg, err := svc.Upload(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(UploadResponse{Key: key, Records: pkg.Size()}))
}

// Restore writes the package in the request body back to the remote store.
//
//	POST /backup/restore
func (h *BackupHandler) Restore(c *gin.Context) {
	svc, ok := h.service(c)
	if !ok {
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge, "Request body exceeds maximum allowed size")
			return
		}
		h.BadRequest(c, "Failed to read request body")
		return
	}
	pkg, err := backup.Decode(body)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	result, err := svc.Restore(c.Request.Context(), pkg)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// RestoreFrom restores a package previously uploaded under key.
//
//	POST /backup/restore-from
func (h *BackupHandler) RestoreFrom(c *gin.Context) {
	svc, ok := h.service(c)
	if !ok {
		return
	}
	var req RestoreFromRequest
	if !h.BindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeValidation, "key is required")
		return
	}
	result, err := svc.RestoreFrom(c.Request.Context(), req.Key)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}
