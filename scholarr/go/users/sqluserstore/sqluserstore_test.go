package sqluserstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scholarr/scholarr/go/deepequal/assertdeep"
	"github.com/scholarr/scholarr/scholarr/go/sql/sqltest"
	"github.com/scholarr/scholarr/scholarr/go/users"
	"github.com/scholarr/scholarr/scholarr/go/users/sqluserstore"
)

func setupForTest(t *testing.T) (context.Context, *sqluserstore.UserStore) {
	db := sqltest.NewCockroachDBForTests(t, "users")
	return context.Background(), sqluserstore.New(db)
}

func TestCreate_NewEmail_ReturnsUserWithDefaults(t *testing.T) {
	ctx, store := setupForTest(t)

	u, err := store.Create(ctx, "ada@example.org", true)
	require.NoError(t, err)
	require.NotZero(t, u.ID)
	require.Equal(t, "ada@example.org", u.Email)
	require.True(t, u.IsAdmin)
	require.True(t, u.IsActive)
	require.Equal(t, users.DefaultSettings(), u.Settings)
	require.Zero(t, u.LatestCompletedRunID)
	require.False(t, u.CreatedAt.IsZero())
}

func TestCreate_DuplicateEmail_ReturnsError(t *testing.T) {
	ctx, store := setupForTest(t)

	_, err := store.Create(ctx, "ada@example.org", false)
	require.NoError(t, err)
	_, err = store.Create(ctx, "ada@example.org", false)
	require.Error(t, err)
}

func TestGetByEmail_RoundTripsSettings(t *testing.T) {
	ctx, store := setupForTest(t)

	created, err := store.Create(ctx, "ada@example.org", false)
	require.NoError(t, err)

	settings := users.Settings{
		AutoRunEnabled:      true,
		RunIntervalMinutes:  90,
		RequestDelaySeconds: 5,
		NavVisiblePages:     7,
		APITokens:           map[string]string{"notify": "tok123"},
	}
	require.NoError(t, store.UpdateSettings(ctx, created.ID, settings))

	got, err := store.GetByEmail(ctx, "ada@example.org")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	assertdeep.Equal(t, settings, got.Settings)
}

func TestGet_UnknownID_ReturnsError(t *testing.T) {
	ctx, store := setupForTest(t)

	_, err := store.Get(ctx, 999)
	require.Error(t, err)
}

func TestListActive_SkipsDeactivatedUsers(t *testing.T) {
	ctx, store := setupForTest(t)

	ada, err := store.Create(ctx, "ada@example.org", false)
	require.NoError(t, err)
	grace, err := store.Create(ctx, "grace@example.org", false)
	require.NoError(t, err)
	require.NoError(t, store.SetActive(ctx, grace.ID, false))

	got, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, ada.ID, got[0].ID)
}

func TestSetLatestCompletedRun_ReadBackOnGet(t *testing.T) {
	ctx, store := setupForTest(t)

	u, err := store.Create(ctx, "ada@example.org", false)
	require.NoError(t, err)
	require.NoError(t, store.SetLatestCompletedRun(ctx, u.ID, 42))

	got, err := store.Get(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, int64(42), got.LatestCompletedRunID)
}

func TestUpdateSettings_UnknownUser_ReturnsError(t *testing.T) {
	ctx, store := setupForTest(t)

	err := store.UpdateSettings(ctx, 12345, users.DefaultSettings())
	require.Error(t, err)
}
