package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/servicebus/internal/domain/identity"
	"github.com/erp/servicebus/internal/domain/shared"
	"github.com/erp/servicebus/internal/infrastructure/persistence"
)

func TestUserDirectoryRepository_Postgres(t *testing.T) {
	tdb := NewSharedTestDB(t)
	tdb.CleanTables()

	repo := persistence.NewGormUserDirectoryRepository(tdb.DB)
	ctx := context.Background()

	alice := identity.UserInfo{ID: "u-alice", Username: "alice", DisplayName: "Alice", Email: "alice@example.com"}
	bob := identity.UserInfo{ID: "u-bob", Username: "bob", DisplayName: "Bob"}

	t.Run("save and find", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, alice))
		require.NoError(t, repo.Save(ctx, bob))

		users, err := repo.FindByIDs(ctx, []string{"u-alice", "u-bob", "u-missing"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []identity.UserInfo{alice, bob}, users)
	})

	t.Run("save upserts", func(t *testing.T) {
		renamed := alice
		renamed.DisplayName = "Alice L."
		renamed.Avatar = "https://cdn.example.com/alice.png"
		require.NoError(t, repo.Save(ctx, renamed))

		users, err := repo.FindByIDs(ctx, []string{"u-alice"})
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, renamed, users[0])

		var count int64
		require.NoError(t, tdb.DB.Table("user_directory").Count(&count).Error)
		assert.Equal(t, int64(2), count)
	})

	t.Run("username is unique", func(t *testing.T) {
		err := repo.Save(ctx, identity.UserInfo{ID: "u-impostor", Username: "alice"})
		assert.Error(t, err)
	})

	t.Run("empty id is rejected", func(t *testing.T) {
		err := repo.Save(ctx, identity.UserInfo{Username: "nobody"})
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})
}
