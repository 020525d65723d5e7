package repositories

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/merchant-engine/pkg/models"
	"github.com/ledgerline/merchant-engine/pkg/testhelpers"
)

func TestMerchantMappingRepository_UpsertConvergesUnderConcurrency(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewMerchantMappingRepository()
	accountID := uuid.New()

	const callers = 4
	inserted := make([]bool, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			// Each caller gets its own scoped connection, the way concurrent
			// requests would.
			ctx, done := testhelpers.WithAccountScope(t, engineDB.DB, context.Background(), accountID)
			defer done()

			mapping := &models.MerchantMapping{
				AccountID:        accountID,
				RawPattern:       "NETFLIX.COM 8882099918",
				CanonicalPattern: "netflix",
				IsAutomatic:      true,
				Confidence:       1.0,
			}
			created, err := repo.Upsert(ctx, mapping)
			assert.NoError(t, err)
			inserted[i] = created
		}(i)
	}
	wg.Wait()

	creations := 0
	for _, c := range inserted {
		if c {
			creations++
		}
	}
	assert.Equal(t, 1, creations, "exactly one caller wins the insert")

	ctx, done := testhelpers.WithAccountScope(t, engineDB.DB, context.Background(), accountID)
	defer done()

	stored, err := repo.GetByCanonical(ctx, accountID, "netflix")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, callers, stored.UsageCount, "every sighting counted once")

	all, err := repo.ListByAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Len(t, all, 1, "concurrent callers converge on one mapping")
}

func TestMerchantGroupRepository_GetOrCreateConvergesUnderConcurrency(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewMerchantGroupRepository()
	accountID := uuid.New()

	const callers = 4
	ids := make([]uuid.UUID, callers)
	created := make([]bool, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			ctx, done := testhelpers.WithAccountScope(t, engineDB.DB, context.Background(), accountID)
			defer done()

			group, isNew, err := repo.GetOrCreateByName(ctx, accountID, "Netflix")
			assert.NoError(t, err)
			ids[i] = group.ID
			created[i] = isNew
		}(i)
	}
	wg.Wait()

	creations := 0
	for _, c := range created {
		if c {
			creations++
		}
	}
	assert.Equal(t, 1, creations)
	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id, "every caller sees the same group")
	}
}

func TestMerchantMappingRepository_ManualCurationWins(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	mappings := NewMerchantMappingRepository()
	groups := NewMerchantGroupRepository()
	accountID := uuid.New()

	ctx, done := testhelpers.WithAccountScope(t, engineDB.DB, context.Background(), accountID)
	defer done()

	curated, _, err := groups.GetOrCreateByName(ctx, accountID, "My Gym")
	require.NoError(t, err)
	clustered, _, err := groups.GetOrCreateByName(ctx, accountID, "Gym Chain")
	require.NoError(t, err)

	mapping := &models.MerchantMapping{
		AccountID:        accountID,
		RawPattern:       "GYM 4411",
		CanonicalPattern: "gym",
		IsAutomatic:      true,
		Confidence:       0.9,
	}
	_, err = mappings.Upsert(ctx, mapping)
	require.NoError(t, err)

	// User pins the mapping to their own group.
	require.NoError(t, mappings.SetGroupManual(ctx, mapping.ID, &curated.ID))

	// A later automatic run must not move it.
	assigned, err := mappings.AssignGroupAutomatic(ctx, accountID, "gym", clustered.ID, 0.95)
	require.NoError(t, err)
	assert.False(t, assigned)

	stored, err := mappings.GetByID(ctx, mapping.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.MerchantGroupID)
	assert.Equal(t, curated.ID, *stored.MerchantGroupID)
	assert.False(t, stored.IsAutomatic)
}
