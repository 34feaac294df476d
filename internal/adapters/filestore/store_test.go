package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoDataPipe/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func setupStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(Config{Dir: dir, Logger: &mockLogger{}})
	require.NoError(t, err)
	return s, dir
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s, dir := setupStore(t)
	ctx := context.Background()
	fetched := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := ports.Record{Key: "BTC/USDT", Payload: json.RawMessage(`{"score":72}`), FetchedAt: fetched, Source: "live"}
	require.NoError(t, s.Save(ctx, "scores", rec))

	_, err := os.Stat(filepath.Join(dir, "scores", "BTC_USDT.json"))
	require.NoError(t, err, "one file per key with a filesystem-safe name")

	got, err := s.Load(ctx, "scores", "BTC/USDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "BTC/USDT", got.Key)
	assert.JSONEq(t, `{"score":72}`, string(got.Payload))
	assert.True(t, fetched.Equal(got.FetchedAt))
	assert.Equal(t, "live", got.Source)

	// Overwrite replaces.
	rec.Payload = json.RawMessage(`{"score":10}`)
	require.NoError(t, s.Save(ctx, "scores", rec))
	got, err = s.Load(ctx, "scores", "BTC/USDT")
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":10}`, string(got.Payload))
}

func TestStore_LoadMissing(t *testing.T) {
	s, _ := setupStore(t)
	got, err := s.Load(context.Background(), "coin_pool", "latest")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_LoadCorrupt(t *testing.T) {
	s, dir := setupStore(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "coin_pool"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "coin_pool", "latest.json"), []byte("{not json"), 0o644))

	_, err := s.Load(context.Background(), "coin_pool", "latest")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrMalformedPayload)
}

func TestStore_DeleteAndClear(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	for _, k := range []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"} {
		require.NoError(t, s.Save(ctx, "scores", ports.Record{Key: k, Payload: json.RawMessage(`1`), FetchedAt: time.Now()}))
	}
	require.NoError(t, s.Save(ctx, "coin_pool", ports.Record{Key: "latest", Payload: json.RawMessage(`[]`), FetchedAt: time.Now()}))

	require.NoError(t, s.Delete(ctx, "scores", "BTC/USDT"))
	require.NoError(t, s.Delete(ctx, "scores", "BTC/USDT"), "deleting twice is fine")
	got, err := s.Load(ctx, "scores", "BTC/USDT")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Clear(ctx, "scores"))
	got, err = s.Load(ctx, "scores", "ETH/USDT")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Other namespaces are untouched.
	got, err = s.Load(ctx, "coin_pool", "latest")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
