package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"jito-bundler-sol/internal/logic/core"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisBundleStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisBundleStore(rdb, time.Hour), mr
}

func TestRedisBundleStore_SaveAndGet(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	rec := &BundleRecord{
		RunID:       "run-1",
		BundleID:    "bundle-1",
		Status:      core.BundleLanded.String(),
		Txs:         2,
		TipLamports: 1000,
		LandedSlot:  42,
		Signatures:  []string{"s1", "s2"},
	}
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, "bundle-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, core.BundleLanded, got.BundleStatus())

	got, err = store.GetByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "bundle-1", got.BundleID)

	assert.Equal(t, time.Hour, mr.TTL(bundleKey("bundle-1")))
	mr.FastForward(2 * time.Hour)
	_, err = store.Get(ctx, "bundle-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisBundleStore_Missing(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetByRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, store.Save(context.Background(), &BundleRecord{RunID: "r"}))
}

func TestBundleRecord_Status(t *testing.T) {
	assert.Equal(t, core.BundleTimedOut, (&BundleRecord{Status: "TimedOut"}).BundleStatus())
	assert.False(t, (&BundleRecord{Status: "Pending"}).IsTerminal())
	assert.True(t, (&BundleRecord{Status: "Failed"}).IsTerminal())
}

type flakyStore struct {
	fail  bool
	saved []*BundleRecord
}

func (s *flakyStore) Save(_ context.Context, rec *BundleRecord) error {
	if s.fail {
		return errors.New("redis down")
	}
	cp := *rec
	s.saved = append(s.saved, &cp)
	return nil
}

func (s *flakyStore) Get(context.Context, string) (*BundleRecord, error) {
	return nil, ErrNotFound
}

func (s *flakyStore) GetByRun(context.Context, string) (*BundleRecord, error) {
	return nil, ErrNotFound
}

func TestProgressManager_BuffersAndReplays(t *testing.T) {
	store := &flakyStore{fail: true}
	pm := NewProgressManager(store)
	ctx := context.Background()

	pm.Record(ctx, &BundleRecord{BundleID: "a", Status: "Pending"})
	assert.Equal(t, 1, pm.Pending())

	store.fail = false
	pm.Record(ctx, &BundleRecord{BundleID: "b", Status: "Pending"})
	assert.Equal(t, 0, pm.Pending())
	require.Len(t, store.saved, 2)
	assert.Equal(t, "a", store.saved[0].BundleID)
	assert.Equal(t, "b", store.saved[1].BundleID)
}

func TestProgressManager_TerminalNotOverwritten(t *testing.T) {
	store := &flakyStore{fail: true}
	pm := NewProgressManager(store)
	ctx := context.Background()

	pm.Record(ctx, &BundleRecord{BundleID: "a", Status: "Pending"})
	pm.Record(ctx, &BundleRecord{BundleID: "a", Status: "Landed"})
	assert.Equal(t, 1, pm.Pending())

	store.fail = false
	pm.Flush(ctx)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "Landed", store.saved[0].Status)
}

func TestProgressManager_Nil(t *testing.T) {
	var pm *ProgressManager
	pm.Record(context.Background(), &BundleRecord{BundleID: "x"})
}

func TestProgressManager_LookupRun(t *testing.T) {
	store, _ := newTestStore(t)
	pm := NewProgressManager(store)
	ctx := context.Background()

	pm.Record(ctx, &BundleRecord{RunID: "run-7", BundleID: "bundle-7", Status: core.BundlePending.String()})
	pm.Record(ctx, &BundleRecord{RunID: "run-7", BundleID: "bundle-7", Status: core.BundleLanded.String(), LandedSlot: 9})

	rec, err := pm.LookupRun(ctx, "run-7")
	require.NoError(t, err)
	assert.Equal(t, "bundle-7", rec.BundleID)
	assert.Equal(t, core.BundleLanded, rec.BundleStatus())
	assert.NotZero(t, rec.UpdatedAt)

	_, err = pm.LookupRun(ctx, "run-8")
	assert.ErrorIs(t, err, ErrNotFound)
}
