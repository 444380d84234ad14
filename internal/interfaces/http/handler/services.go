package handler

import (
	"github.com/erp/agency/internal/application/backup"
	"github.com/erp/agency/internal/application/business"
	appoffline "github.com/erp/agency/internal/application/offline"
	"go.uber.org/zap"
)

// ServiceFactory builds the application services a request needs over the
// caller's session. Services are cheap and hold no state of their own.
type ServiceFactory struct {
	// Images deletes record images; nil disables image deletion
	Images business.ImageStore
	// Backups stores uploaded packages; nil disables upload and restore-by-key
	Backups      backup.ObjectStore
	BackupPrefix string
	Logger       *zap.Logger
}

func (f *ServiceFactory) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

// Business returns the domain write service for engine
func (f *ServiceFactory) Business(engine *appoffline.Engine) *business.Service {
	opts := []business.Option{business.WithLogger(f.logger())}
	if f.Images != nil {
		opts = append(opts, business.WithImageStore(f.Images))
	}
	return business.NewService(engine.Gateway(), opts...)
}

// Backup returns the backup service for engine
func (f *ServiceFactory) Backup(engine *appoffline.Engine) *backup.Service {
	opts := []backup.Option{backup.WithLogger(f.logger()), backup.WithKeyPrefix(f.BackupPrefix)}
	if f.Backups != nil {
		opts = append(opts, backup.WithObjectStore(f.Backups))
	}
	return backup.NewService(engine.Gateway(), opts...)
}
