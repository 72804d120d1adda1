package database

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, key []byte) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "copier.db"), key)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestParseEncryptionKey(t *testing.T) {
	key, err := ParseEncryptionKey("")
	require.NoError(t, err)
	assert.Nil(t, key)

	key, err = ParseEncryptionKey(base64.StdEncoding.EncodeToString(testKey()))
	require.NoError(t, err)
	assert.Len(t, key, 32)

	_, err = ParseEncryptionKey(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)

	_, err = ParseEncryptionKey("not base64!")
	assert.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sealed, err := EncryptSecret("refresh-token", testKey())
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "refresh-token")

	plain, err := DecryptSecret(sealed, testKey())
	require.NoError(t, err)
	assert.Equal(t, "refresh-token", plain)

	other := testKey()
	other[0] = 0xff
	_, err = DecryptSecret(sealed, other)
	assert.Error(t, err)
}

func TestSellerCredentialsAreEncrypted(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, testKey())

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, db.UpsertSeller(ctx, &Seller{
		Slug:           "north",
		Name:           "North Store",
		UserID:         "1001",
		AppID:          "app-1",
		SecretKey:      "s3cret",
		AccessToken:    "access-1",
		RefreshToken:   "refresh-1",
		TokenExpiresAt: &expires,
		Active:         true,
	}))

	var raw []byte
	require.NoError(t, db.QueryRow(`SELECT refresh_token FROM sellers WHERE slug = 'north'`).Scan(&raw))
	assert.NotContains(t, string(raw), "refresh-1")

	s, err := db.GetSeller(ctx, "north")
	require.NoError(t, err)
	assert.Equal(t, "North Store", s.Name)
	assert.Equal(t, "s3cret", s.SecretKey)
	assert.Equal(t, "access-1", s.AccessToken)
	assert.Equal(t, "refresh-1", s.RefreshToken)
	require.NotNil(t, s.TokenExpiresAt)
	assert.True(t, expires.Equal(*s.TokenExpiresAt))
	assert.True(t, s.Active)
}

func TestSellerWithoutKeyStoresPlainText(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, nil)

	require.NoError(t, db.UpsertSeller(ctx, &Seller{Slug: "south", RefreshToken: "r", Active: true}))

	var raw []byte
	require.NoError(t, db.QueryRow(`SELECT refresh_token FROM sellers WHERE slug = 'south'`).Scan(&raw))
	assert.Equal(t, "r", string(raw))
}

func TestUpdateSellerToken(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, testKey())
	require.NoError(t, db.UpsertSeller(ctx, &Seller{Slug: "north", RefreshToken: "old", Active: true}))

	expires := time.Now().Add(6 * time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, db.UpdateSellerToken(ctx, "north", "new-access", "new-refresh", expires))

	s, err := db.GetSeller(ctx, "north")
	require.NoError(t, err)
	assert.Equal(t, "new-access", s.AccessToken)
	assert.Equal(t, "new-refresh", s.RefreshToken)

	err = db.UpdateSellerToken(ctx, "missing", "a", "b", expires)
	assert.ErrorIs(t, err, ErrSellerNotFound)
}

func TestGetSellerNotFound(t *testing.T) {
	db := openTestDB(t, nil)
	_, err := db.GetSeller(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrSellerNotFound)
}

func TestListSellers(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, nil)
	require.NoError(t, db.UpsertSeller(ctx, &Seller{Slug: "b", Active: true}))
	require.NoError(t, db.UpsertSeller(ctx, &Seller{Slug: "a", Active: false}))

	sellers, err := db.ListSellers(ctx)
	require.NoError(t, err)
	require.Len(t, sellers, 2)
	assert.Equal(t, "a", sellers[0].Slug)
	assert.False(t, sellers[0].Active)
	assert.Equal(t, "b", sellers[1].Slug)
}

func TestCopyLogLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, nil)

	l := &CopyLog{
		Operator:     "ops@example.com",
		SourceSeller: "north",
		DestSellers:  []string{"south", "east"},
		SourceItemID: "MLB1",
		Status:       StatusInProgress,
	}
	require.NoError(t, db.CreateCopyLog(ctx, l))
	require.NotEmpty(t, l.ID)

	l.Status = StatusPartial
	l.DestItemIDs = map[string]string{"south": "MLB2"}
	l.ErrorDetails = map[string]string{"east": "dimensions missing"}
	require.NoError(t, db.UpdateCopyLog(ctx, l))

	logs, err := db.ListCopyLogs(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	got := logs[0]
	assert.Equal(t, l.ID, got.ID)
	assert.Equal(t, "ops@example.com", got.Operator)
	assert.Equal(t, []string{"south", "east"}, got.DestSellers)
	assert.Equal(t, map[string]string{"south": "MLB2"}, got.DestItemIDs)
	assert.Equal(t, map[string]string{"east": "dimensions missing"}, got.ErrorDetails)
	assert.Equal(t, StatusPartial, got.Status)

	err = db.UpdateCopyLog(ctx, &CopyLog{ID: "nope"})
	assert.ErrorIs(t, err, ErrLogNotFound)
}

func TestCompatLogLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, nil)

	l := &CompatLog{SourceItemID: "MLB1", SKUs: []string{"SKU-1"}, TotalTargets: 2, Status: StatusInProgress}
	require.NoError(t, db.CreateCompatLog(ctx, l))

	l.Targets = []CompatTarget{
		{SellerSlug: "south", ItemID: "MLB2", Status: "ok"},
		{SellerSlug: "east", ItemID: "MLB3", Status: "error", Error: "boom"},
	}
	l.SuccessCount, l.ErrorCount, l.Status = 1, 1, StatusPartial
	require.NoError(t, db.UpdateCompatLog(ctx, l))

	logs, err := db.ListCompatLogs(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, []string{"SKU-1"}, logs[0].SKUs)
	assert.Equal(t, l.Targets, logs[0].Targets)
	assert.Equal(t, 1, logs[0].SuccessCount)
	assert.Equal(t, StatusPartial, logs[0].Status)
}

func TestAPIDebugLogs(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, nil)

	l := &APIDebugLog{
		Action:         "copy_item",
		SourceSeller:   "north",
		DestSeller:     "south",
		SourceItemID:   "MLB1",
		LogID:          "log-1",
		Method:         "POST",
		URL:            "https://api.example.com/items",
		ResponseStatus: 400,
		ResponseBody:   json.RawMessage(`{"message":"bad"}`),
		ErrorMessage:   "bad",
	}
	require.NoError(t, db.InsertAPIDebugLog(ctx, l))
	assert.NotZero(t, l.ID)

	logs, err := db.ListAPIDebugLogs(ctx, "log-1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 400, logs[0].ResponseStatus)
	assert.JSONEq(t, `{"message":"bad"}`, string(logs[0].ResponseBody))

	logs, err = db.ListAPIDebugLogs(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, logs)
}
