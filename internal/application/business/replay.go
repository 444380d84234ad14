package business

import (
	"context"
	"fmt"

	appoffline "github.com/erp/agency/internal/application/offline"
	"github.com/erp/agency/internal/domain/business"
	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/domain/shared"
)

var actionCollections = map[offline.Action]string{
	offline.ActionSaveSale:            business.CollectionSales,
	offline.ActionSavePurchase:        business.CollectionPurchases,
	offline.ActionSaveCustomer:        business.CollectionCustomers,
	offline.ActionSaveSupplier:        business.CollectionSuppliers,
	offline.ActionSaveVoucher:         business.CollectionVouchers,
	offline.ActionSaveExpense:         business.CollectionExpenses,
	offline.ActionSaveCategory:        business.CollectionCategories,
	offline.ActionSaveWaste:           business.CollectionWaste,
	offline.ActionSaveExpenseTemplate: business.CollectionExpenseTemplates,
	offline.ActionSaveOpeningBalance:  business.CollectionVouchers,
	offline.ActionReturnSale:          business.CollectionSales,
	offline.ActionReturnPurchase:      business.CollectionPurchases,
	offline.ActionUpdateSettings:      business.CollectionSettings,
}

// CollectionFor returns the table a record-writing action targets.
// deleteRecord carries its table in the payload and is not listed.
func CollectionFor(action offline.Action) (string, bool) {
	c, ok := actionCollections[action]
	return c, ok
}

// Replay applies a queued mutation through the same save path the online
// call uses. Transient failures propagate so the drain stops in order.
func (s *Service) Replay(ctx context.Context, m *offline.QueuedMutation) (offline.Record, error) {
	opts := appoffline.UpsertOptions{SkipQueue: true}

	if m.Action == offline.ActionDeleteRecord {
		table := m.Payload.String(offline.FieldTable)
		if !business.IsCollection(table) {
			return nil, shared.ErrInvalidInput.WithMessage(fmt.Sprintf("queued delete names unknown table %q", table))
		}
		res, err := s.gateway.Delete(ctx, table, m.Payload.ID(), opts)
		if err != nil {
			return nil, err
		}
		return res.Record, nil
	}

	res, err := s.save(ctx, m.Action, m.Payload, opts)
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

// RegisterReplay installs Replay as the syncer's handler for every action
func (s *Service) RegisterReplay(syncer *appoffline.Syncer) {
	handler := appoffline.HandlerFunc(s.Replay)
	for _, action := range offline.AllActions() {
		syncer.Register(action, handler)
	}
}
