package detector

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpvbot/internal/storage"
	logx "gpvbot/pkg/logx"
)

type memStore struct {
	mu     sync.Mutex
	fps    map[string]storage.Fingerprint
	reads  atomic.Int32
	writes atomic.Int32
	err    error
}

func newMemStore() *memStore { return &memStore{fps: map[string]storage.Fingerprint{}} }

func (m *memStore) Fingerprint(ctx context.Context, date string) (storage.Fingerprint, bool, error) {
	m.reads.Add(1)
	if m.err != nil {
		return storage.Fingerprint{}, false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fp, ok := m.fps[date]
	return fp, ok, nil
}

func (m *memStore) PutFingerprint(ctx context.Context, fp storage.Fingerprint) error {
	m.writes.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fps[fp.Date] = fp
	return nil
}

func (m *memStore) PruneFingerprints(ctx context.Context, before string) (int, error) {
	return 0, nil
}

func TestFingerprintIsOrderIndependent(t *testing.T) {
	a := map[string]string{}
	a["10:00"] = "1"
	a["10:30"] = "0"
	a["11:00"] = "10"
	b := map[string]string{}
	b["11:00"] = "10"
	b["10:00"] = "1"
	b["10:30"] = "0"

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.Len(t, Fingerprint(a), 64)

	b["10:30"] = "1"
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintSeparatesKeysAndValues(t *testing.T) {
	assert.NotEqual(t,
		Fingerprint(map[string]string{"a": "bc"}),
		Fingerprint(map[string]string{"ab": "c"}),
	)
}

func TestHasChanged(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	d := New(st, logx.Nop())
	slots := map[string]string{"10:00": "1"}

	changed, err := d.HasChanged(ctx, "2024-05-01", slots)
	require.NoError(t, err)
	assert.True(t, changed, "first sighting")

	changed, err = d.HasChanged(ctx, "2024-05-01", map[string]string{"10:00": "1"})
	require.NoError(t, err)
	assert.False(t, changed, "same content")
	assert.EqualValues(t, 1, st.writes.Load())

	changed, err = d.HasChanged(ctx, "2024-05-01", map[string]string{"10:00": "0"})
	require.NoError(t, err)
	assert.True(t, changed)

	// Other dates are independent.
	changed, err = d.HasChanged(ctx, "2024-05-02", slots)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestHasChangedIgnoresEmpty(t *testing.T) {
	st := newMemStore()
	d := New(st, logx.Nop())

	changed, err := d.HasChanged(context.Background(), "2024-05-01", map[string]string{})
	require.NoError(t, err)
	assert.False(t, changed)
	changed, err = d.HasChanged(context.Background(), "2024-05-01", nil)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.EqualValues(t, 0, st.reads.Load())
	assert.EqualValues(t, 0, st.writes.Load())
}

func TestHasChangedStoreError(t *testing.T) {
	st := newMemStore()
	st.err = errors.New("disk gone")
	d := New(st, logx.Nop())

	changed, err := d.HasChanged(context.Background(), "2024-05-01", map[string]string{"10:00": "1"})
	assert.Error(t, err)
	assert.False(t, changed)
}

func TestHasChangedConcurrentSameContent(t *testing.T) {
	st := newMemStore()
	d := New(st, logx.Nop())

	var (
		wg      sync.WaitGroup
		changes atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := d.HasChanged(context.Background(), "2024-05-01", map[string]string{"10:00": "1", "10:30": "0"})
			assert.NoError(t, err)
			if ok {
				changes.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, changes.Load())
}

func TestHasChangedSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bot.db")
	slots := map[string]string{"10:00": "1"}

	st, err := storage.Open(storage.Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	changed, err := New(st, logx.Nop()).HasChanged(ctx, "2024-05-01", slots)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NoError(t, st.Close())

	st, err = storage.Open(storage.Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	changed, err = New(st, logx.Nop()).HasChanged(ctx, "2024-05-01", slots)
	require.NoError(t, err)
	assert.False(t, changed)
}
