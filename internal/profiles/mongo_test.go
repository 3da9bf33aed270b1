package profiles

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/matedash/authbridge/internal/database"
	"github.com/matedash/authbridge/internal/models"
)

func TestPatchToSet(t *testing.T) {
	balance := int64(7)
	set := patchToSet(models.ProfilePatch{
		Email:           models.Str("a@b.co"),
		DisplayName:     models.Str("A"),
		TokenBalance:    &balance,
		IsFirstTimeUser: models.Bool(false),
		Settings:        map[string]interface{}{"theme": "dark"},
	})
	assert.Equal(t, bson.M{
		"email":           "a@b.co",
		"displayName":     "A",
		"tokenBalance":    int64(7),
		"isFirstTimeUser": false,
		"settings":        map[string]interface{}{"theme": "dark"},
	}, set)
	assert.Empty(t, patchToSet(models.ProfilePatch{}))
}

// newMongoService runs against MONGODB_TEST_URI in a throwaway database.
func newMongoService(t *testing.T) *Service {
	t.Helper()
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}
	ctx := context.Background()
	client, err := database.ConnectMongo(ctx, uri, 5*time.Second)
	require.NoError(t, err)
	db := client.Database(fmt.Sprintf("authbridge_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	repo := NewMongoRepository(db.Collection(database.ProfilesCollection))
	require.NoError(t, repo.EnsureIndexes(ctx))
	return NewService(repo)
}

func TestMongoRepository_CreateAndOnboarding(t *testing.T) {
	svc := newMongoService(t)
	ctx := context.Background()

	p, created, err := svc.Create(ctx, models.ProfilePatch{ID: models.Str("sub-1"), Email: models.Str("One@Example.com")})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "one@example.com", p.Email)
	require.True(t, p.IsFirstTimeUser)

	again, created, err := svc.Create(ctx, models.ProfilePatch{ID: models.Str("sub-1"), Email: models.Str("one@example.com")})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "sub-1", again.ID)

	_, _, err = svc.Create(ctx, models.ProfilePatch{ID: models.Str("sub-2"), Email: models.Str("one@example.com")})
	require.ErrorIs(t, err, ErrDuplicate)

	for i := 0; i < 2; i++ {
		done, err := svc.CompleteOnboarding(ctx, "sub-1")
		require.NoError(t, err)
		require.False(t, done.IsFirstTimeUser)
	}
	_, err = svc.CompleteOnboarding(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	upd, err := svc.Update(ctx, "sub-1", models.ProfilePatch{DisplayName: models.Str("One"), IsFirstTimeUser: models.Bool(true)})
	require.NoError(t, err)
	require.Equal(t, "One", upd.DisplayName)
	require.False(t, upd.IsFirstTimeUser)
}

func TestMongoRepository_ListAndDelete(t *testing.T) {
	svc := newMongoService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := svc.Create(ctx, models.ProfilePatch{
			ID:    models.Str(fmt.Sprintf("sub-%d", i)),
			Email: models.Str(fmt.Sprintf("user%d@example.com", i)),
		})
		require.NoError(t, err)
	}
	_, err := svc.CompleteOnboarding(ctx, "sub-0")
	require.NoError(t, err)

	res, err := svc.List(ctx, ListOptions{Limit: 2, Sort: "email", FirstTimeOnly: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Total)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "user1@example.com", res.Items[0].Email)

	require.NoError(t, svc.Delete(ctx, "sub-1"))
	require.ErrorIs(t, svc.Delete(ctx, "sub-1"), ErrNotFound)
	_, err = svc.GetByID(ctx, "sub-1")
	require.ErrorIs(t, err, ErrNotFound)
}
