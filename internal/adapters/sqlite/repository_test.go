package sqlite

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cryptoDataPipe/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "data-pipe-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, cleanup
}

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err)
}

func TestRepository_SaveAndLoad(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	fetched := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		namespace string
		rec       ports.Record
	}{
		{
			name:      "coin pool list",
			namespace: "coin_pool",
			rec:       ports.Record{Key: "latest", Payload: json.RawMessage(`[{"symbol":"BTC/USDT"}]`), FetchedAt: fetched, Source: "live"},
		},
		{
			name:      "per symbol score",
			namespace: "symbol_scores",
			rec:       ports.Record{Key: "ETH/USDT", Payload: json.RawMessage(`64`), FetchedAt: fetched.Add(time.Minute), Source: "live"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, repo.Save(ctx, tt.namespace, tt.rec))

			got, err := repo.Load(ctx, tt.namespace, tt.rec.Key)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.rec.Key, got.Key)
			assert.JSONEq(t, string(tt.rec.Payload), string(got.Payload))
			assert.True(t, tt.rec.FetchedAt.Equal(got.FetchedAt), "fetched_at %v != %v", tt.rec.FetchedAt, got.FetchedAt)
			assert.Equal(t, tt.rec.Source, got.Source)
		})
	}
}

func TestRepository_SaveReplaces(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "symbol_scores", ports.Record{Key: "BTC/USDT", Payload: json.RawMessage(`40`), FetchedAt: time.Now()}))
	require.NoError(t, repo.Save(ctx, "symbol_scores", ports.Record{Key: "BTC/USDT", Payload: json.RawMessage(`80`), FetchedAt: time.Now()}))

	got, err := repo.Load(ctx, "symbol_scores", "BTC/USDT")
	require.NoError(t, err)
	assert.JSONEq(t, `80`, string(got.Payload))
}

func TestRepository_LoadMissing(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	got, err := repo.Load(context.Background(), "coin_pool", "latest")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_DeleteAndClear(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for _, k := range []string{"BTC/USDT", "ETH/USDT"} {
		require.NoError(t, repo.Save(ctx, "symbol_scores", ports.Record{Key: k, Payload: json.RawMessage(`1`), FetchedAt: time.Now()}))
	}
	require.NoError(t, repo.Save(ctx, "coin_pool", ports.Record{Key: "latest", Payload: json.RawMessage(`[]`), FetchedAt: time.Now()}))

	require.NoError(t, repo.Delete(ctx, "symbol_scores", "BTC/USDT"))
	require.NoError(t, repo.Delete(ctx, "symbol_scores", "missing"))
	got, err := repo.Load(ctx, "symbol_scores", "BTC/USDT")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Clear(ctx, "symbol_scores"))
	got, err = repo.Load(ctx, "symbol_scores", "ETH/USDT")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.Load(ctx, "coin_pool", "latest")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestRepository_SignalHistory(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SaveSignals(ctx, []ports.SignalRecord{
		{CycleID: "c1", Symbol: "BTC/USDT", Price: 60000, Provenance: "stream", Payload: json.RawMessage(`{"rsi7":55}`), CreatedAt: base},
		{CycleID: "c1", Symbol: "ETH/USDT", Price: 3000, Provenance: "rest", Payload: json.RawMessage(`{}`), CreatedAt: base},
	}))
	require.NoError(t, repo.SaveSignals(ctx, []ports.SignalRecord{
		{CycleID: "c2", Symbol: "BTC/USDT", Price: 60100, Provenance: "stream", Payload: json.RawMessage(`{"rsi7":58}`), CreatedAt: base.Add(3 * time.Minute)},
	}))
	require.NoError(t, repo.SaveSignals(ctx, nil))

	recent, err := repo.RecentSignals(ctx, "BTC/USDT", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c2", recent[0].CycleID)
	assert.Equal(t, 60100.0, recent[0].Price)
	assert.JSONEq(t, `{"rsi7":58}`, string(recent[0].Payload))
	assert.Equal(t, "c1", recent[1].CycleID)

	recent, err = repo.RecentSignals(ctx, "BTC/USDT", 1)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	recent, err = repo.RecentSignals(ctx, "SOL/USDT", 5)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
