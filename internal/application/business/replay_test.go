package business

import (
	"context"
	"testing"
	"time"

	"github.com/erp/agency/internal/domain/business"
	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionFor(t *testing.T) {
	for _, action := range offline.AllActions() {
		c, ok := CollectionFor(action)
		if action == offline.ActionDeleteRecord {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok, action)
		assert.True(t, business.IsCollection(c), "%s targets %s", action, c)
	}
}

func TestReplay_RoutesQueuedWritesInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	customer, err := f.service.SaveCustomer(ctx, CustomerInput{Name: "Ahmed"})
	require.NoError(t, err)
	_, err = f.service.SaveVoucher(ctx, VoucherInput{
		Type: VoucherReceipt, PersonID: customer.Record.ID(), PersonName: "Ahmed", PersonType: PartyCustomer,
		Amount: 1000, Currency: "YER",
	})
	require.NoError(t, err)
	_, err = f.service.SaveOpeningBalance(ctx, OpeningBalanceInput{
		PersonID: customer.Record.ID(), PersonName: "Ahmed", PersonType: PartyCustomer,
		Amount: 500, Currency: "YER", BalanceType: BalanceCredit,
	})
	require.NoError(t, err)
	_, err = f.service.UpdateSettings(ctx, Settings{AgencyName: "Al-Noor"})
	require.NoError(t, err)
	_, err = f.service.DeleteRecord(ctx, business.CollectionCustomers, customer.Record.ID(), "")
	require.NoError(t, err)

	queued := f.queued(t)
	require.Len(t, queued, 5)
	actions := make([]offline.Action, 0, len(queued))
	for _, m := range queued {
		actions = append(actions, m.Action)
	}
	assert.Equal(t, []offline.Action{
		offline.ActionSaveCustomer,
		offline.ActionSaveVoucher,
		offline.ActionSaveOpeningBalance,
		offline.ActionUpdateSettings,
		offline.ActionDeleteRecord,
	}, actions)

	res := f.reconnect(t)
	assert.Equal(t, 5, res.Applied)
	assert.Equal(t, 0, res.Remaining)

	assert.Equal(t, 0, f.remote.count(business.CollectionCustomers))
	assert.Equal(t, 2, f.remote.count(business.CollectionVouchers))
	settings, ok := f.remote.get(business.CollectionSettings, testUser)
	require.True(t, ok)
	assert.Equal(t, "Al-Noor", settings["agency_name"])
}

func TestReplay_RejectsUnknownDeleteTable(t *testing.T) {
	f := newFixture(t, true)
	m, err := offline.NewQueuedMutation(testUser, offline.ActionDeleteRecord,
		offline.Record{offline.FieldTable: "users", offline.FieldID: "u-1"}, time.Now())
	require.NoError(t, err)

	_, err = f.service.Replay(context.Background(), m)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestReplay_TransientFailureStopsDrain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	_, err := f.service.SaveCustomer(ctx, CustomerInput{Name: "Ahmed"})
	require.NoError(t, err)
	_, err = f.service.SaveSupplier(ctx, SupplierInput{Name: "Saleh"})
	require.NoError(t, err)

	// connectivity flips back on but the remote is still unreachable
	f.signal.Set(true)
	_, err = f.engine.Drain(ctx)
	require.Error(t, err)
	assert.True(t, offline.IsTransient(err))
	assert.Len(t, f.queued(t), 2)

	res := f.reconnect(t)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 1, f.remote.count(business.CollectionCustomers))
	assert.Equal(t, 1, f.remote.count(business.CollectionSuppliers))
}
