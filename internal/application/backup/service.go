// Package backup exports the user's business data into a versioned JSON
// package and restores it back into the remote store.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	appoffline "github.com/erp/agency/internal/application/offline"
	"github.com/erp/agency/internal/domain/business"
	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/domain/shared"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Package format constants
const (
	AppName       = "agency"
	FormatVersion = "1"
	ContentType   = "application/json"

	DefaultKeyPrefix = "backups"
)

// ErrInvalidPackage is returned for packages that cannot be restored
var ErrInvalidPackage = shared.ErrInvalidInput.WithMessage("backup package is invalid")

// ObjectStore holds uploaded backup packages
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
}

// Metadata describes who produced a package and in which format
type Metadata struct {
	App     string `json:"app"`
	Version string `json:"version"`
	UserID  string `json:"user_id"`
}

// Package is a point-in-time export of every backed-up collection
type Package struct {
	Timestamp time.Time                   `json:"timestamp"`
	Metadata  Metadata                    `json:"metadata"`
	Data      map[string][]offline.Record `json:"data"`
}

// Size returns the number of records in the package
func (p *Package) Size() int {
	n := 0
	for _, rows := range p.Data {
		n += len(rows)
	}
	return n
}

// RestoreResult counts the records written back per collection
type RestoreResult struct {
	Restored map[string]int `json:"restored"`
}

// restoreActions names the write each restored collection goes through
var restoreActions = map[string]offline.Action{
	business.CollectionCustomers:  offline.ActionSaveCustomer,
	business.CollectionSuppliers:  offline.ActionSaveSupplier,
	business.CollectionCategories: offline.ActionSaveCategory,
	business.CollectionSales:      offline.ActionSaveSale,
	business.CollectionPurchases:  offline.ActionSavePurchase,
	business.CollectionVouchers:   offline.ActionSaveVoucher,
	business.CollectionExpenses:   offline.ActionSaveExpense,
	business.CollectionWaste:      offline.ActionSaveWaste,
}

// Service builds and restores backup packages for a session
type Service struct {
	gateway *appoffline.Gateway
	objects ObjectStore
	prefix  string
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithObjectStore enables uploading and downloading packages
func WithObjectStore(objects ObjectStore) Option {
	return func(s *Service) {
		s.objects = objects
	}
}

// WithKeyPrefix sets the object key prefix uploaded packages are stored under
func WithKeyPrefix(prefix string) Option {
	return func(s *Service) {
		if prefix != "" {
			s.prefix = strings.Trim(prefix, "/")
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the package timestamp clock
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a backup service over a session gateway
func NewService(gateway *appoffline.Gateway, opts ...Option) *Service {
	s := &Service{
		gateway: gateway,
		prefix:  DefaultKeyPrefix,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Prepare reads every backed-up collection bypassing the cache. Collections
// that cannot be reached fall back to their last snapshot.
func (s *Service) Prepare(ctx context.Context) (*Package, error) {
	uid, err := s.gateway.UserID(ctx)
	if err != nil {
		return nil, err
	}

	collections := business.BackupCollections()
	results := make([][]offline.Record, len(collections))

	g, gctx := errgroup.WithContext(ctx)
	for i, collection := range collections {
		g.Go(func() error {
			results[i] = s.gateway.FetchCollection(gctx, collection, true)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pkg := &Package{
		Timestamp: s.now().UTC(),
		Metadata:  Metadata{App: AppName, Version: FormatVersion, UserID: uid},
		Data:      make(map[string][]offline.Record, len(collections)),
	}
	for i, collection := range collections {
		pkg.Data[collection] = results[i]
	}

	s.logger.Info("Backup package prepared", zap.String("user_id", uid), zap.Int("records", pkg.Size()))
	return pkg, nil
}

// Upload prepares a package and stores it, returning its object key
func (s *Service) Upload(ctx context.Context) (string, *Package, error) {
	if s.objects == nil {
		return "", nil, shared.ErrInvalidInput.WithMessage("backup storage is not configured")
	}
	pkg, err := s.Prepare(ctx)
	if err != nil {
		return "", nil, err
	}
	data, err := json.Marshal(pkg)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode backup package: %w", err)
	}

	key := ObjectKey(s.prefix, pkg.Metadata.UserID, pkg.Timestamp)
	if err := s.objects.Upload(ctx, key, data, ContentType); err != nil {
		return "", nil, fmt.Errorf("failed to upload backup package: %w", err)
	}
	s.logger.Info("Backup package uploaded", zap.String("key", key), zap.Int("bytes", len(data)))
	return key, pkg, nil
}

// ObjectKey is where a user's package taken at ts is stored
func ObjectKey(prefix, userID string, ts time.Time) string {
	return fmt.Sprintf("%s/%s/%s.json", prefix, userID, ts.UTC().Format("20060102T150405Z"))
}

// Decode parses a package produced by Prepare
func Decode(data []byte) (*Package, error) {
	var pkg Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, ErrInvalidPackage.Wrap(err)
	}
	if pkg.Data == nil {
		return nil, ErrInvalidPackage
	}
	return &pkg, nil
}

// RestoreFrom downloads the package at key and restores it
func (s *Service) RestoreFrom(ctx context.Context, key string) (RestoreResult, error) {
	if s.objects == nil {
		return RestoreResult{}, shared.ErrInvalidInput.WithMessage("backup storage is not configured")
	}
	data, err := s.objects.Download(ctx, key)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("failed to download backup package: %w", err)
	}
	pkg, err := Decode(data)
	if err != nil {
		return RestoreResult{}, err
	}
	return s.Restore(ctx, pkg)
}

// Restore writes every record of the package back to the remote store as the
// current user. Restores are not queued: the remote store must be reachable.
// Every cached dataset is dropped afterwards, whether or not the restore completed.
func (s *Service) Restore(ctx context.Context, pkg *Package) (RestoreResult, error) {
	if pkg == nil || pkg.Data == nil {
		return RestoreResult{}, ErrInvalidPackage
	}
	uid, err := s.gateway.UserID(ctx)
	if err != nil {
		return RestoreResult{}, err
	}
	defer s.gateway.InvalidateCache()

	var mu sync.Mutex
	result := RestoreResult{Restored: make(map[string]int)}

	g, gctx := errgroup.WithContext(ctx)
	for _, collection := range business.BackupCollections() {
		rows := pkg.Data[collection]
		if len(rows) == 0 {
			continue
		}
		action := restoreActions[collection]
		g.Go(func() error {
			for _, row := range rows {
				if _, err := s.gateway.SafeUpsert(gctx, collection, row, action, appoffline.UpsertOptions{SkipQueue: true}); err != nil {
					return fmt.Errorf("restore %s %s: %w", collection, row.ID(), err)
				}
				mu.Lock()
				result.Restored[collection]++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("Backup restore failed", zap.String("user_id", uid), zap.Error(err))
		return result, err
	}

	s.logger.Info("Backup restored", zap.String("user_id", uid), zap.Any("restored", result.Restored))
	return result, nil
}
