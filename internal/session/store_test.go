package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/snapclass/internal/acquire"
	"github.com/Brownie44l1/snapclass/internal/apperr"
	"github.com/Brownie44l1/snapclass/internal/classifier"
	"github.com/Brownie44l1/snapclass/internal/logging"
	"github.com/Brownie44l1/snapclass/internal/metrics"
	"github.com/Brownie44l1/snapclass/internal/model/modeltest"
	"github.com/Brownie44l1/snapclass/internal/permission"
)

func newStore(t *testing.T, ttl time.Duration) (*Store, *acquire.FileProvider, *metrics.Metrics) {
	t.Helper()
	log := logging.Discard()
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	provider, err := acquire.NewFileProvider("test.fileprovider", filepath.Join(t.TempDir(), "captures"))
	require.NoError(t, err)
	clf := classifier.New(modeltest.New(1), []string{"only"}, classifier.WithLogger(log))

	store := NewStore(ttl, 0, func(id string) (*Controller, error) {
		return NewController(id, Deps{
			Classifier: clf,
			Camera:     acquire.NewCamera(provider, log),
			Requester:  permission.Static{Grant: true},
			Metrics:    m,
			Logger:     log,
		}), nil
	}, m, log)
	t.Cleanup(store.Close)
	return store, provider, m
}

func TestStoreCreateGetDelete(t *testing.T) {
	store, _, m := newStore(t, time.Minute)

	a, err := store.Create()
	require.NoError(t, err)
	b, err := store.Create()
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, store.Len())
	assert.InDelta(t, 2, testutil.ToFloat64(m.ActiveSessions), 0)

	got, err := store.Get(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)

	store.Delete(a.ID())
	_, err = store.Get(a.ID())
	assert.ErrorIs(t, err, apperr.ErrUnknownSession)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ActiveSessions), 0)

	_, err = a.Classify(context.Background())
	assert.ErrorIs(t, err, apperr.ErrUnknownSession, "deleted sessions are closed")
}

func TestStoreExpiryRemovesCaptures(t *testing.T) {
	store, provider, _ := newStore(t, 20*time.Millisecond)

	ctrl, err := store.Create()
	require.NoError(t, err)
	_, err = ctrl.CapturePhoto(context.Background(), acquire.UploadCamera{Data: jpegBytes(t, 8, 8)})
	require.NoError(t, err)

	entries, err := os.ReadDir(provider.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	time.Sleep(40 * time.Millisecond)
	_, err = store.Get(ctrl.ID())
	assert.ErrorIs(t, err, apperr.ErrUnknownSession)

	store.Sweep()
	assert.Zero(t, store.Len())
	entries, err = os.ReadDir(provider.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStoreCloseEndsAllSessions(t *testing.T) {
	store, _, m := newStore(t, time.Minute)
	for i := 0; i < 3; i++ {
		_, err := store.Create()
		require.NoError(t, err)
	}

	store.Close()
	assert.Zero(t, store.Len())
	assert.InDelta(t, 0, testutil.ToFloat64(m.ActiveSessions), 0)
}
