package business

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erp/agency/internal/domain/business"
	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAddSale_OfflineQueuesWithComputedTotal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	res, err := f.service.AddSale(ctx, sale(5, 100))
	require.NoError(t, err)

	assert.True(t, res.IsPending())
	assert.Equal(t, 500.0, res.Record["total"])
	assert.Equal(t, true, res.Record[offline.FieldOffline])
	assert.NotEmpty(t, res.Record.ID())

	queued := f.queued(t)
	require.Len(t, queued, 1)
	assert.Equal(t, offline.ActionSaveSale, queued[0].Action)
	assert.Equal(t, res.Record.ID(), queued[0].Payload.ID())

	drained := f.reconnect(t)
	assert.Equal(t, 1, drained.Applied)
	assert.Equal(t, 0, drained.Remaining)

	stored, ok := f.remote.get(business.CollectionSales, res.Record.ID())
	require.True(t, ok)
	assert.Equal(t, 500.0, stored["total"])
	assert.Equal(t, testUser, stored[offline.FieldUserID])
	assert.NotContains(t, stored, offline.FieldOffline)
}

func TestAddSale_Online(t *testing.T) {
	ctx := context.Background()

	t.Run("confirmed with rounded total", func(t *testing.T) {
		f := newFixture(t, true)
		res, err := f.service.AddSale(ctx, sale(3, 33.333))
		require.NoError(t, err)
		assert.False(t, res.IsPending())
		assert.Equal(t, 100.0, res.Record["total"])
		assert.Equal(t, 1, f.remote.count(business.CollectionSales))
	})

	t.Run("validation failure is not written", func(t *testing.T) {
		f := newFixture(t, true)
		in := sale(5, 100)
		in.CustomerID = ""
		_, err := f.service.AddSale(ctx, in)
		require.ErrorIs(t, err, shared.ErrValidation)
		assert.Contains(t, err.Error(), "customer_id")
		assert.Equal(t, []FieldError{{Field: "customer_id", Message: "This field is required"}}, FieldErrors(err))
		assert.Equal(t, 0, f.remote.count(business.CollectionSales))
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		f := newFixture(t, true)
		in := sale(5, 100)
		in.Status = "barter"
		_, err := f.service.AddSale(ctx, in)
		require.ErrorIs(t, err, shared.ErrValidation)
		assert.Contains(t, err.Error(), "status")
	})
}

func TestAddSale_StockCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient stock", func(t *testing.T) {
		f := newFixture(t, true)
		f.remote.seed(business.CollectionCategories, offline.Record{"id": "cat-1", "name": "سوتي", "stock": 3.0})

		_, err := f.service.AddSale(ctx, sale(5, 100))
		require.ErrorIs(t, err, shared.ErrInsufficientStock)
		assert.Equal(t, 0, f.remote.count(business.CollectionSales))
	})

	t.Run("negative stock allowed by settings", func(t *testing.T) {
		f := newFixture(t, true)
		f.remote.seed(business.CollectionCategories, offline.Record{"id": "cat-1", "name": "سوتي", "stock": 3.0})
		f.remote.seed(business.CollectionSettings, offline.Record{
			"id":                  testUser,
			"accounting_settings": map[string]any{"allow_negative_stock": true, "decimal_precision": 2.0},
		})

		res, err := f.service.AddSale(ctx, sale(5, 100))
		require.NoError(t, err)
		assert.False(t, res.IsPending())
	})

	t.Run("editing only needs the difference", func(t *testing.T) {
		f := newFixture(t, true)
		f.remote.seed(business.CollectionCategories, offline.Record{"id": "cat-1", "name": "سوتي", "stock": 2.0})
		f.remote.seed(business.CollectionSales, offline.Record{"id": "s-1", "qat_type": "سوتي", "quantity": 4.0})

		in := sale(5, 100)
		in.ID = "s-1"
		res, err := f.service.AddSale(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, "s-1", res.Record.ID())

		in.Quantity = 8
		_, err = f.service.AddSale(ctx, in)
		assert.ErrorIs(t, err, shared.ErrInsufficientStock)
	})

	t.Run("unknown qat type is not checked", func(t *testing.T) {
		f := newFixture(t, true)
		f.remote.seed(business.CollectionCategories, offline.Record{"id": "cat-1", "name": "بلدي", "stock": 0.0})

		_, err := f.service.AddSale(ctx, sale(5, 100))
		assert.NoError(t, err)
	})
}

func TestAddPurchase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.remote.seed(business.CollectionCategories, offline.Record{"id": "cat-1", "name": "سوتي", "stock": 0.0})

	res, err := f.service.AddPurchase(ctx, PurchaseInput{
		TransactionInput: TransactionInput{QatType: "سوتي", Quantity: 10, UnitPrice: 80, Status: StatusCredit, Currency: "SAR"},
		SupplierID:       "sup-1",
		SupplierName:     "Saleh",
	})
	require.NoError(t, err)
	assert.Equal(t, 800.0, res.Record["total"])
	assert.Equal(t, "sup-1", res.Record["supplier_id"])
}

func TestReturnSale(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("online", func(t *testing.T) {
		f := newFixture(t, true, WithClock(func() time.Time { return now }))
		f.remote.seed(business.CollectionSales, offline.Record{"id": "s-1", "quantity": 2.0, "is_returned": false})

		res, err := f.service.ReturnSale(ctx, "s-1")
		require.NoError(t, err)
		assert.False(t, res.IsPending())

		stored, _ := f.remote.get(business.CollectionSales, "s-1")
		assert.Equal(t, true, stored["is_returned"])
		assert.Equal(t, "2026-03-01T09:00:00Z", stored["returned_at"])
		assert.NotContains(t, stored, offline.FieldOrigID)

		_, err = f.service.ReturnSale(ctx, "s-1")
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("unknown sale", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.service.ReturnSale(ctx, "missing")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("offline return keeps the original id", func(t *testing.T) {
		f := newFixture(t, true)
		f.remote.seed(business.CollectionPurchases, offline.Record{"id": "p-1", "quantity": 2.0})
		_, err := f.service.List(ctx, business.CollectionPurchases, false)
		require.NoError(t, err)

		f.remote.setDown(true)
		f.signal.Set(false)
		res, err := f.service.ReturnPurchase(ctx, "p-1")
		require.NoError(t, err)
		require.True(t, res.IsPending())

		queued := f.queued(t)
		require.Len(t, queued, 1)
		assert.Equal(t, offline.ActionReturnPurchase, queued[0].Action)
		assert.Equal(t, "p-1", queued[0].OriginalID)

		assert.Equal(t, 1, f.reconnect(t).Applied)
		stored, _ := f.remote.get(business.CollectionPurchases, "p-1")
		assert.Equal(t, true, stored["is_returned"])
	})
}

func TestSaveRecords(t *testing.T) {
	ctx := context.Background()

	t.Run("customer", func(t *testing.T) {
		f := newFixture(t, true)
		res, err := f.service.SaveCustomer(ctx, CustomerInput{Name: "Ahmed", Phone: "777000000"})
		require.NoError(t, err)
		assert.Equal(t, 1, f.remote.count(business.CollectionCustomers))
		assert.NotContains(t, res.Record, "address")

		_, err = f.service.SaveCustomer(ctx, CustomerInput{})
		assert.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("supplier", func(t *testing.T) {
		f := newFixture(t, true)
		res, err := f.service.SaveSupplier(ctx, SupplierInput{Name: "Saleh", Region: "Sanaa"})
		require.NoError(t, err)
		assert.Equal(t, "Sanaa", res.Record["region"])
	})

	t.Run("voucher amount follows precision", func(t *testing.T) {
		f := newFixture(t, true)
		f.remote.seed(business.CollectionSettings, offline.Record{
			"id":                  testUser,
			"accounting_settings": map[string]any{"decimal_precision": 0.0},
		})
		res, err := f.service.SaveVoucher(ctx, VoucherInput{
			Type: VoucherReceipt, PersonID: "c-1", PersonName: "Ahmed", PersonType: PartyCustomer,
			Amount: 150.6, Currency: "YER",
		})
		require.NoError(t, err)
		assert.Equal(t, 151.0, res.Record["amount"])
	})

	t.Run("opening balance is a tagged voucher", func(t *testing.T) {
		f := newFixture(t, true)
		res, err := f.service.SaveOpeningBalance(ctx, OpeningBalanceInput{
			PersonID: "c-1", PersonName: "Ahmed", PersonType: PartyCustomer,
			Amount: 2000, Currency: "YER", BalanceType: BalanceDebit,
		})
		require.NoError(t, err)
		stored, ok := f.remote.get(business.CollectionVouchers, res.Record.ID())
		require.True(t, ok)
		assert.Equal(t, BalanceDebit, stored["balance_type"])
		assert.Equal(t, VoucherPayment, stored["type"])
		assert.Equal(t, openingBalanceNote, stored["notes"])
	})

	t.Run("category, expense, template and waste", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.service.SaveCategory(ctx, CategoryInput{Name: "سوتي", Stock: 40, Price: 100, Currency: "YER", LowStockThreshold: 5})
		require.NoError(t, err)
		_, err = f.service.SaveExpense(ctx, ExpenseInput{Title: "Rent", Category: "rent", Amount: 30000, Currency: "YER"})
		require.NoError(t, err)
		_, err = f.service.SaveExpenseTemplate(ctx, ExpenseTemplateInput{Title: "Rent", Category: "rent", Amount: 30000, Currency: "YER", Frequency: "monthly"})
		require.NoError(t, err)
		_, err = f.service.SaveWaste(ctx, WasteInput{QatType: "سوتي", Quantity: 2, EstimatedLoss: 200, Reason: "dried"})
		require.NoError(t, err)

		assert.Equal(t, 1, f.remote.count(business.CollectionCategories))
		assert.Equal(t, 1, f.remote.count(business.CollectionExpenses))
		assert.Equal(t, 1, f.remote.count(business.CollectionExpenseTemplates))
		assert.Equal(t, 1, f.remote.count(business.CollectionWaste))
	})
}

func TestUpdateSettings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	assert.Equal(t, int32(DefaultDecimalPrecision), f.service.Settings(ctx).Precision())

	_, err := f.service.UpdateSettings(ctx, Settings{
		AgencyName:    "Al-Noor",
		Accounting:    &AccountingSettings{AllowNegativeStock: true, DecimalPrecision: 3},
		ExchangeRates: &ExchangeRates{SARToYER: 140, OMRToYER: 1370},
	})
	require.NoError(t, err)

	stored, ok := f.remote.get(business.CollectionSettings, testUser)
	require.True(t, ok)
	assert.Equal(t, "Al-Noor", stored["agency_name"])

	settings := f.service.Settings(ctx)
	assert.Equal(t, int32(3), settings.Precision())
	assert.True(t, settings.AllowNegativeStock())

	_, err = f.service.UpdateSettings(ctx, Settings{Accounting: &AccountingSettings{DecimalPrecision: 9}})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeleteRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("image failure does not block the delete", func(t *testing.T) {
		images := new(MockImageStore)
		images.On("DeleteByURL", mock.Anything, "https://cdn.example.com/receipts/a.png").
			Return(errors.New("bucket unavailable"))

		f := newFixture(t, true, WithImageStore(images))
		f.remote.seed(business.CollectionExpenses, offline.Record{"id": "e-1"})

		res, err := f.service.DeleteRecord(ctx, business.CollectionExpenses, "e-1", "https://cdn.example.com/receipts/a.png")
		require.NoError(t, err)
		assert.False(t, res.IsPending())
		assert.Equal(t, 0, f.remote.count(business.CollectionExpenses))
		images.AssertExpectations(t)
	})

	t.Run("no image url skips the image store", func(t *testing.T) {
		images := new(MockImageStore)
		f := newFixture(t, true, WithImageStore(images))
		_, err := f.service.DeleteRecord(ctx, business.CollectionCustomers, "c-1", "")
		require.NoError(t, err)
		images.AssertNotCalled(t, "DeleteByURL", mock.Anything, mock.Anything)
	})

	t.Run("unknown table", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.service.DeleteRecord(ctx, "users", "u-1", "")
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("offline delete replays later", func(t *testing.T) {
		f := newFixture(t, false)
		f.remote.seed(business.CollectionSuppliers, offline.Record{"id": "sup-1"})

		res, err := f.service.DeleteRecord(ctx, business.CollectionSuppliers, "sup-1", "")
		require.NoError(t, err)
		require.True(t, res.IsPending())

		assert.Equal(t, 1, f.reconnect(t).Applied)
		assert.Equal(t, 0, f.remote.count(business.CollectionSuppliers))
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.remote.seed(business.CollectionCustomers, offline.Record{"id": "c-1", "name": "Ahmed"})

	rows, err := f.service.List(ctx, business.CollectionCustomers, false)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = f.service.List(ctx, "accounts", false)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}
