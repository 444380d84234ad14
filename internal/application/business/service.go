// Package business holds the agency's write services: validated sales,
// purchases, vouchers and the other records, all written through the
// offline gateway so they keep working without a connection.
package business

import (
	"context"
	"fmt"
	"time"

	appoffline "github.com/erp/agency/internal/application/offline"
	"github.com/erp/agency/internal/domain/business"
	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/domain/shared"
	"go.uber.org/zap"
)

// ImageStore removes uploaded receipt and invoice images
type ImageStore interface {
	DeleteByURL(ctx context.Context, imageURL string) error
}

// Service validates business inputs and writes them through the gateway
type Service struct {
	gateway *appoffline.Gateway
	images  ImageStore
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithImageStore sets the store images are deleted from
func WithImageStore(images ImageStore) Option {
	return func(s *Service) {
		s.images = images
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

// WithClock overrides the clock used for dates and return stamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a Service over a session gateway
func NewService(gateway *appoffline.Gateway, opts ...Option) *Service {
	s := &Service{
		gateway: gateway,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns a collection through the cache, remote and snapshot fallbacks
func (s *Service) List(ctx context.Context, collection string, forceFresh bool) ([]offline.Record, error) {
	if !business.IsCollection(collection) {
		return nil, shared.ErrInvalidInput.WithMessage(fmt.Sprintf("unknown collection %q", collection))
	}
	if _, err := s.gateway.UserID(ctx); err != nil {
		return nil, err
	}
	return s.gateway.FetchCollection(ctx, collection, forceFresh), nil
}

// Settings returns the user's settings, or defaults when none are stored
func (s *Service) Settings(ctx context.Context) Settings {
	uid, err := s.gateway.UserID(ctx)
	if err != nil {
		return Settings{}
	}
	for _, row := range s.gateway.FetchCollection(ctx, business.CollectionSettings, false) {
		if row.ID() != uid {
			continue
		}
		settings, err := settingsFromRecord(row)
		if err != nil {
			s.logger.Warn("Ignoring unreadable settings record", zap.String("user_id", uid), zap.Error(err))
			return Settings{}
		}
		return settings
	}
	return Settings{}
}

// AddSale validates a sale, checks stock and writes it with its computed total
func (s *Service) AddSale(ctx context.Context, in SaleInput) (offline.WriteResult, error) {
	if err := check(in); err != nil {
		return offline.WriteResult{}, err
	}
	settings := s.Settings(ctx)
	if !settings.AllowNegativeStock() {
		if err := s.checkStock(ctx, in); err != nil {
			return offline.WriteResult{}, err
		}
	}

	rec := in.record(lineTotal(in.Quantity, in.UnitPrice, settings.Precision()), s.dateOr(in.Date))
	rec["customer_id"] = in.CustomerID
	rec["customer_name"] = in.CustomerName
	return s.SaveSale(ctx, rec, appoffline.UpsertOptions{})
}

// AddPurchase validates a purchase and writes it with its computed total
func (s *Service) AddPurchase(ctx context.Context, in PurchaseInput) (offline.WriteResult, error) {
	if err := check(in); err != nil {
		return offline.WriteResult{}, err
	}
	settings := s.Settings(ctx)

	rec := in.record(lineTotal(in.Quantity, in.UnitPrice, settings.Precision()), s.dateOr(in.Date))
	rec["supplier_id"] = in.SupplierID
	rec["supplier_name"] = in.SupplierName
	return s.SavePurchase(ctx, rec, appoffline.UpsertOptions{})
}

// checkStock rejects a sale that needs more of its qat type than is on hand.
// Editing a sale only needs the difference from the stored quantity.
func (s *Service) checkStock(ctx context.Context, in SaleInput) error {
	need := numberOf(in.Quantity)
	if in.ID != "" {
		if old := s.find(ctx, business.CollectionSales, in.ID); old != nil {
			need = need.Sub(numberOf(old["quantity"]))
		}
	}
	for _, category := range s.gateway.FetchCollection(ctx, business.CollectionCategories, false) {
		if category.String("name") != in.QatType {
			continue
		}
		stock := numberOf(category["stock"])
		if stock.LessThan(need) {
			return shared.ErrInsufficientStock.WithMessage(
				fmt.Sprintf("only %s of %s in stock", stock.String(), in.QatType))
		}
		return nil
	}
	return nil
}

// ReturnSale marks a stored sale as returned
func (s *Service) ReturnSale(ctx context.Context, id string) (offline.WriteResult, error) {
	return s.markReturned(ctx, business.CollectionSales, offline.ActionReturnSale, id)
}

// ReturnPurchase marks a stored purchase as returned
func (s *Service) ReturnPurchase(ctx context.Context, id string) (offline.WriteResult, error) {
	return s.markReturned(ctx, business.CollectionPurchases, offline.ActionReturnPurchase, id)
}

func (s *Service) markReturned(ctx context.Context, collection string, action offline.Action, id string) (offline.WriteResult, error) {
	if id == "" {
		return offline.WriteResult{}, shared.ErrInvalidInput.WithMessage("return requires a record id")
	}
	if _, err := s.gateway.UserID(ctx); err != nil {
		return offline.WriteResult{}, err
	}
	original := s.find(ctx, collection, id)
	if original == nil {
		return offline.WriteResult{}, shared.ErrNotFound.WithMessage(fmt.Sprintf("%s %s not found", collection, id))
	}
	if returned, _ := original["is_returned"].(bool); returned {
		return offline.WriteResult{}, shared.ErrInvalidInput.WithMessage(fmt.Sprintf("%s %s was already returned", collection, id))
	}

	rec := original.Clone()
	rec["is_returned"] = true
	rec["returned_at"] = s.now().UTC().Format(time.RFC3339)
	rec[offline.FieldOrigID] = id
	return s.gateway.SafeUpsert(ctx, collection, rec, action, appoffline.UpsertOptions{})
}

// SaveCustomer validates and writes a customer
func (s *Service) SaveCustomer(ctx context.Context, in CustomerInput) (offline.WriteResult, error) {
	if err := check(in); err != nil {
		return offline.WriteResult{}, err
	}
	return s.save(ctx, offline.ActionSaveCustomer, in.record(), appoffline.UpsertOptions{})
}

// SaveSupplier validates and writes a supplier
func (s *Service) SaveSupplier(ctx context.Context, in SupplierInput) (offline.WriteResult, error) {
	if err := check(in); err != nil {
		return offline.WriteResult{}, err
	}
	return s.save(ctx, offline.ActionSaveSupplier, in.record(), appoffline.UpsertOptions{})
}

// SaveVoucher validates and writes a receipt or payment voucher
func (s *Service) SaveVoucher(ctx context.Context, in VoucherInput) (offline.WriteResult, error) {
	if err := check(in); err != nil {
		return offline.WriteResult{}, err
	}
	amount := numberOf(in.Amount).Round(s.Settings(ctx).Precision())
	return s.save(ctx, offline.ActionSaveVoucher, in.record(amount, s.dateOr(in.Date)), appoffline.UpsertOptions{})
}

// SaveOpeningBalance writes a carried-over balance as a voucher tagged with its balance type
func (s *Service) SaveOpeningBalance(ctx context.Context, in OpeningBalanceInput) (offline.WriteResult, error) {
	if err := check(in); err != nil {
		return offline.WriteResult{}, err
	}
	amount := numberOf(in.Amount).Round(s.Settings(ctx).Precision())
	return s.save(ctx, offline.ActionSaveOpeningBalance, in.record(amount, s.dateOr(in.Date)), appoffline.UpsertOptions{})
}

// SaveCategory validates and writes a stock item
func (s *Service) SaveCategory(ctx context.Context, in CategoryInput) (offline.WriteResult, error) {
	if err := check(in); err != nil {
		return offline.WriteResult{}, err
	}
	return s.save(ctx, offline.ActionSaveCategory, in.record(), appoffline.UpsertOptions{})
}

// SaveExpense validates and writes an expense
func (s *Service) SaveExpense(ctx context.Context, in ExpenseInput) (offline.WriteResult, error) {
	if err := check(in); err != nil {
		return offline.WriteResult{}, err
	}
	amount := numberOf(in.Amount).Round(s.Settings(ctx).Precision())
	return s.save(ctx, offline.ActionSaveExpense, in.record(amount, s.dateOr(in.Date)), appoffline.UpsertOptions{})
}

// SaveExpenseTemplate validates and writes a recurring expense template
func (s *Service) SaveExpenseTemplate(ctx context.Context, in ExpenseTemplateInput) (offline.WriteResult, error) {
	if err := check(in); err != nil {
		return offline.WriteResult{}, err
	}
	return s.save(ctx, offline.ActionSaveExpenseTemplate, in.record(), appoffline.UpsertOptions{})
}

// SaveWaste validates and writes a waste entry
func (s *Service) SaveWaste(ctx context.Context, in WasteInput) (offline.WriteResult, error) {
	if err := check(in); err != nil {
		return offline.WriteResult{}, err
	}
	return s.save(ctx, offline.ActionSaveWaste, in.record(s.dateOr(in.Date)), appoffline.UpsertOptions{})
}

// UpdateSettings replaces the user's settings record
func (s *Service) UpdateSettings(ctx context.Context, in Settings) (offline.WriteResult, error) {
	uid, err := s.gateway.UserID(ctx)
	if err != nil {
		return offline.WriteResult{}, err
	}
	if err := check(in); err != nil {
		return offline.WriteResult{}, err
	}
	rec, err := in.record()
	if err != nil {
		return offline.WriteResult{}, shared.ErrInvalidInput.Wrap(err)
	}
	rec[offline.FieldID] = uid
	return s.save(ctx, offline.ActionUpdateSettings, rec, appoffline.UpsertOptions{})
}

// DeleteRecord removes a record. Its image, if any, is deleted first on a
// best-effort basis: a failed image delete never blocks the record delete.
func (s *Service) DeleteRecord(ctx context.Context, table, id, imageURL string) (offline.WriteResult, error) {
	if !business.IsCollection(table) {
		return offline.WriteResult{}, shared.ErrInvalidInput.WithMessage(fmt.Sprintf("unknown collection %q", table))
	}
	if _, err := s.gateway.UserID(ctx); err != nil {
		return offline.WriteResult{}, err
	}
	if imageURL != "" && s.images != nil {
		if err := s.images.DeleteByURL(ctx, imageURL); err != nil {
			s.logger.Warn("Image deletion skipped during record delete",
				zap.String("table", table),
				zap.String("id", id),
				zap.Error(err),
			)
		}
	}
	return s.gateway.Delete(ctx, table, id, appoffline.UpsertOptions{})
}

// SaveSale writes a sale record as given
func (s *Service) SaveSale(ctx context.Context, rec offline.Record, opts appoffline.UpsertOptions) (offline.WriteResult, error) {
	return s.save(ctx, offline.ActionSaveSale, rec, opts)
}

// SavePurchase writes a purchase record as given
func (s *Service) SavePurchase(ctx context.Context, rec offline.Record, opts appoffline.UpsertOptions) (offline.WriteResult, error) {
	return s.save(ctx, offline.ActionSavePurchase, rec, opts)
}

// save writes rec to the collection action targets
func (s *Service) save(ctx context.Context, action offline.Action, rec offline.Record, opts appoffline.UpsertOptions) (offline.WriteResult, error) {
	collection, ok := CollectionFor(action)
	if !ok {
		return offline.WriteResult{}, shared.ErrUnsupportedAction.WithMessage(fmt.Sprintf("action %q does not write a record", action))
	}
	res, err := s.gateway.SafeUpsert(ctx, collection, rec, action, opts)
	if err != nil {
		return res, err
	}
	if res.IsPending() {
		s.logger.Debug("Write queued for later sync",
			zap.String("action", string(action)),
			zap.String("id", res.Record.ID()),
		)
	}
	return res, nil
}

func (s *Service) find(ctx context.Context, collection, id string) offline.Record {
	for _, row := range s.gateway.FetchCollection(ctx, collection, false) {
		if row.ID() == id {
			return row
		}
	}
	return nil
}

func (s *Service) dateOr(date string) string {
	if date != "" {
		return date
	}
	return s.now().UTC().Format(time.RFC3339)
}
