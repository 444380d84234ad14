package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/erp/agency/internal/domain/offline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormSnapshotRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("missing key returns nil without error", func(t *testing.T) {
		repo := NewGormSnapshotRepository(openTestDB(t).DB)

		data, err := repo.GetSnapshot(ctx, "customers:u1")
		require.NoError(t, err)
		assert.Nil(t, data)
	})

	t.Run("save then get round trips the dataset", func(t *testing.T) {
		repo := NewGormSnapshotRepository(openTestDB(t).DB)
		want := []offline.Record{{"id": "c1", "name": "Ali"}, {"id": "c2", "name": "Sara"}}

		require.NoError(t, repo.SaveSnapshot(ctx, "customers:u1", want, time.Now()))

		got, err := repo.GetSnapshot(ctx, "customers:u1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("a later read replaces the previous dataset", func(t *testing.T) {
		repo := NewGormSnapshotRepository(openTestDB(t).DB)
		first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		second := first.Add(time.Hour)

		require.NoError(t, repo.SaveSnapshot(ctx, "k", []offline.Record{{"id": "a"}}, first))
		require.NoError(t, repo.SaveSnapshot(ctx, "k", []offline.Record{{"id": "b"}}, second))

		snap, err := repo.FindSnapshot(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []offline.Record{{"id": "b"}}, snap.Data)
		assert.True(t, second.Equal(snap.UpdatedAt))
	})

	t.Run("an earlier read never overwrites a newer snapshot", func(t *testing.T) {
		repo := NewGormSnapshotRepository(openTestDB(t).DB)
		older := time.Date(2024, 1, 1, 12, 0, 5, 100_000_000, time.UTC)
		newer := time.Date(2024, 1, 1, 12, 0, 5, 120_000_000, time.UTC)

		require.NoError(t, repo.SaveSnapshot(ctx, "k", []offline.Record{{"id": "new"}}, newer))
		require.NoError(t, repo.SaveSnapshot(ctx, "k", []offline.Record{{"id": "old"}}, older))

		snap, err := repo.FindSnapshot(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []offline.Record{{"id": "new"}}, snap.Data)
		assert.True(t, newer.Equal(snap.UpdatedAt))

		// non-UTC input is normalised before comparing
		later := newer.Add(time.Second).In(time.FixedZone("AST", 3*60*60))
		require.NoError(t, repo.SaveSnapshot(ctx, "k", []offline.Record{{"id": "latest"}}, later))
		got, err := repo.GetSnapshot(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []offline.Record{{"id": "latest"}}, got)
	})
}
