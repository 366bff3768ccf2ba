package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/auth"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/config"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/cryptostore"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/db"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenCryptoStore(t *testing.T) {
	ctx := context.Background()
	conn := testutil.SetupTestDB(t)
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "keys", "records.key")

	store, err := OpenCryptoStore(ctx, conn, keyFile)
	require.NoError(t, err)
	assert.FileExists(t, keyFile)

	canary, err := db.Canary(ctx, conn)
	require.NoError(t, err)
	require.NotNil(t, canary)
	assert.NoError(t, store.VerifyCanary(canary))

	t.Run("same key reopens", func(t *testing.T) {
		_, err := OpenCryptoStore(ctx, conn, keyFile)
		assert.NoError(t, err)
	})

	t.Run("missing key on a populated store is fatal", func(t *testing.T) {
		_, err := OpenCryptoStore(ctx, conn, filepath.Join(dir, "absent.key"))
		assert.ErrorIs(t, err, cryptostore.ErrKeyMissing)
	})

	t.Run("foreign key is rejected", func(t *testing.T) {
		foreign := filepath.Join(dir, "foreign.key")
		_, err := cryptostore.LoadOrCreateKey(foreign, true)
		require.NoError(t, err)

		_, err = OpenCryptoStore(ctx, conn, foreign)
		assert.ErrorIs(t, err, cryptostore.ErrKeyMismatch)
	})
}

func TestOpenExistingCryptoStore(t *testing.T) {
	ctx := context.Background()
	conn := testutil.SetupTestDB(t)
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "records.key")

	t.Run("missing key is not created", func(t *testing.T) {
		_, err := OpenExistingCryptoStore(ctx, conn, keyFile)
		assert.ErrorIs(t, err, cryptostore.ErrKeyMissing)
		assert.NoFileExists(t, keyFile)

		canary, err := db.Canary(ctx, conn)
		require.NoError(t, err)
		assert.Nil(t, canary)
	})

	t.Run("key without canary is refused", func(t *testing.T) {
		_, err := cryptostore.LoadOrCreateKey(keyFile, true)
		require.NoError(t, err)

		_, err = OpenExistingCryptoStore(ctx, conn, keyFile)
		assert.ErrorIs(t, err, cryptostore.ErrCanaryMissing)

		canary, err := db.Canary(ctx, conn)
		require.NoError(t, err)
		assert.Nil(t, canary, "nothing is written")
	})

	t.Run("initialised store opens", func(t *testing.T) {
		_, err := OpenCryptoStore(ctx, conn, keyFile)
		require.NoError(t, err)

		store, err := OpenExistingCryptoStore(ctx, conn, keyFile)
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("foreign key is rejected", func(t *testing.T) {
		foreign := filepath.Join(dir, "foreign.key")
		_, err := cryptostore.LoadOrCreateKey(foreign, true)
		require.NoError(t, err)

		_, err = OpenExistingCryptoStore(ctx, conn, foreign)
		assert.ErrorIs(t, err, cryptostore.ErrKeyMismatch)
	})
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "db", "records.db")
	cfg.Crypto.KeyFile = filepath.Join(dir, "records.key")
	cfg.Attachments.Root = filepath.Join(dir, "uploads")
	cfg.Auth.JWTSecret = "app-test-secret-that-is-long-enough!!"
	cfg.Auth.BcryptCost = 4
	return &cfg
}

func TestNew_WiresService(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, zap.NewNop(), Options{Revocations: auth.NewMemoryRevocations()})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 1, testutil.CountRows(t, a.DB, "users", "username = $1", "admin"))
	assert.Equal(t, 1, testutil.CountRows(t, a.DB, "audit_log", "action = $1", "SYSTEM_INIT"))
	assert.Equal(t, auth.DefaultPermissions, a.Permissions)

	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_RestartKeepsSeedAndKey(t *testing.T) {
	cfg := testConfig(t)
	opts := Options{Revocations: auth.NewMemoryRevocations()}

	first, err := New(context.Background(), cfg, zap.NewNop(), opts)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(context.Background(), cfg, zap.NewNop(), opts)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, 1, testutil.CountRows(t, second.DB, "users", ""))
	assert.Equal(t, 1, testutil.CountRows(t, second.DB, "audit_log", "action = $1", "SYSTEM_INIT"))
}

func TestNew_WeakSecretFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "short"

	_, err := New(context.Background(), cfg, zap.NewNop(), Options{})
	assert.ErrorIs(t, err, auth.ErrWeakSecret)
}
