package pyramid

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/zarrpyr/host"
	"github.com/hupe1980/zarrpyr/ndarr"
	"github.com/hupe1980/zarrpyr/pixel"
	"github.com/hupe1980/zarrpyr/testutil"
)

var _ host.Store = (*testutil.FakeStore)(nil)

func newTestPyramid(t *testing.T, dims [5]int64, levels int, opts ...Option) (*Pyramid, *testutil.FakeStore) {
	t.Helper()
	store := testutil.NewFakeStore(dims, levels, pixel.Uint8)
	p, err := New(context.Background(), store, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, store
}

func TestMetadataWithoutMaterialization(t *testing.T) {
	p, store := newTestPyramid(t, [5]int64{64, 64, 1, 3, 1}, 3)

	assert.Equal(t, 3, p.NumResolutions())
	assert.Equal(t, 3, p.NumChannels())
	assert.Equal(t, 1, p.NumTimepoints())
	assert.Equal(t, pixel.Uint8, p.DType())
	assert.Equal(t, 3, p.Dimensions().NumDimensions())

	f, err := p.DownsamplingFactors(1)
	require.NoError(t, err)
	assert.Equal(t, [3]float64{2, 2, 1}, f)

	// Metadata accessors never touch pixel data.
	assert.Zero(t, store.Calls("ReadBlock"))
}

func TestLevelMaterializesOnce(t *testing.T) {
	p, store := newTestPyramid(t, [5]int64{16, 16, 1, 1, 1}, 2)
	ctx := context.Background()

	a, err := p.Level(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{16, 16}, a.Dims())
	assert.Equal(t, 1, store.Calls("ReadBlock"))

	b, err := p.Level(ctx, 0)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, store.Calls("ReadBlock"))
}

func TestLevelOutOfRange(t *testing.T) {
	p, _ := newTestPyramid(t, [5]int64{16, 16, 1, 1, 1}, 2)

	_, err := p.Level(context.Background(), 2)
	var le *LevelError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 2, le.Level)

	_, err = p.Level(context.Background(), -1)
	assert.ErrorAs(t, err, &le)
}

func TestConcurrentLevelSingleFetch(t *testing.T) {
	p, store := newTestPyramid(t, [5]int64{32, 32, 1, 1, 1}, 2)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	results := make([]*ndarr.Array, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := p.Level(ctx, 1)
			require.NoError(t, err)
			results[i] = a
		}(i)
	}
	wg.Wait()

	// All callers share one materialization and one instance.
	assert.Equal(t, 1, store.Calls("ReadBlock"))
	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestInvalidateKeepsLevelZero(t *testing.T) {
	p, store := newTestPyramid(t, [5]int64{16, 16, 1, 1, 1}, 3)
	ctx := context.Background()

	a0, err := p.Level(ctx, 0)
	require.NoError(t, err)
	a1, err := p.Level(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Calls("ReadBlock"))

	p.Invalidate()

	// Level 0 survives as the same instance with no refetch.
	b0, err := p.Level(ctx, 0)
	require.NoError(t, err)
	assert.Same(t, a0, b0)
	assert.Equal(t, 2, store.Calls("ReadBlock"))

	// Level 1 is freshly materialized.
	b1, err := p.Level(ctx, 1)
	require.NoError(t, err)
	assert.NotSame(t, a1, b1)
	assert.Equal(t, 3, store.Calls("ReadBlock"))
}

func TestMaterializationErrorPropagates(t *testing.T) {
	p, store := newTestPyramid(t, [5]int64{16, 16, 1, 1, 1}, 2)
	hostErr := errors.New("connection reset")
	store.Fail("ReadBlock", hostErr)

	_, err := p.Level(context.Background(), 1)
	assert.ErrorIs(t, err, hostErr)

	// The failure is not cached; clearing the fault allows a retry.
	store.Fail("ReadBlock", nil)
	_, err = p.Level(context.Background(), 1)
	assert.NoError(t, err)
}

func TestAxesProvider(t *testing.T) {
	p, _ := newTestPyramid(t, [5]int64{16, 16, 1, 1, 1}, 2)
	ctx := context.Background()

	scale := 0.5
	p.SetAxesProvider(func(level int) []ndarr.Axis {
		f, _ := p.DownsamplingFactors(level)
		return []ndarr.Axis{
			{Name: "x", Unit: "micrometer", Scale: scale * f[0], Min: 0.25},
			{Name: "y", Unit: "micrometer", Scale: scale * f[1], Min: 0.25},
		}
	})

	a, err := p.Level(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, a.Axes()[0].Scale)

	// A calibration change reaches already-cached levels in place.
	scale = 2.0
	require.NoError(t, p.ReapplyAxes())
	assert.Equal(t, 4.0, a.Axes()[0].Scale)
}

func TestWriteRegionAndPersist(t *testing.T) {
	p, store := newTestPyramid(t, [5]int64{16, 16, 1, 1, 1}, 2, WithFlushTile([3]int64{8, 8, 8}))
	ctx := context.Background()

	// An edit spanning two tiles in x.
	region := host.Region{Offset: [5]int64{6, 2, 0, 0, 0}, Size: [5]int64{4, 2, 1, 1, 1}}
	data := []byte{9, 9, 9, 9, 9, 9, 9, 9}
	require.NoError(t, p.WriteRegion(ctx, region, data))
	assert.Equal(t, 2, p.DirtyTiles())

	// The edit is visible in level 0 immediately, host untouched.
	a, err := p.Level(ctx, 0)
	require.NoError(t, err)
	v, err := a.ValueAt(6, 2)
	require.NoError(t, err)
	assert.Equal(t, 9.0, v)
	assert.Zero(t, store.Calls("WriteBlock"))

	require.NoError(t, p.Persist(ctx))
	assert.Zero(t, p.DirtyTiles())
	assert.Equal(t, 2, store.Calls("WriteBlock"))
	assert.Equal(t, 1, store.Calls("Persist"))

	// The host-side buffer now carries the edit.
	hostData := store.LevelData(0)
	assert.Equal(t, byte(9), hostData[6+16*2])

	// Nothing dirty: Persist still reaches the host once more.
	require.NoError(t, p.Persist(ctx))
	assert.Equal(t, 2, store.Calls("WriteBlock"))
	assert.Equal(t, 2, store.Calls("Persist"))
}

func TestPersistFailureKeepsDirty(t *testing.T) {
	p, store := newTestPyramid(t, [5]int64{16, 16, 1, 1, 1}, 1)
	ctx := context.Background()

	region := host.Region{Offset: [5]int64{0, 0, 0, 0, 0}, Size: [5]int64{2, 1, 1, 1, 1}}
	require.NoError(t, p.WriteRegion(ctx, region, []byte{1, 2}))
	require.Equal(t, 1, p.DirtyTiles())

	hostErr := errors.New("host gone")
	store.Fail("WriteBlock", hostErr)
	assert.ErrorIs(t, p.Persist(ctx), hostErr)
	assert.Equal(t, 1, p.DirtyTiles())

	store.Fail("WriteBlock", nil)
	require.NoError(t, p.Persist(ctx))
	assert.Zero(t, p.DirtyTiles())
}

func TestVolatileLevel(t *testing.T) {
	p, _ := newTestPyramid(t, [5]int64{16, 16, 1, 2, 1}, 2)
	ctx := context.Background()

	src, err := NewSource(p, 1, "fake - channel 1")
	require.NoError(t, err)
	vol := src.Volatile()

	// Not cached yet: reports absent and schedules a background fill.
	_, ok := vol.Level(1)
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		_, ok := vol.Level(1)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	// The volatile view shares the instance with the blocking path.
	a, err := p.Level(ctx, 1)
	require.NoError(t, err)
	b, ok := vol.Level(1)
	require.True(t, ok)
	assert.Same(t, a, b)

	_, ok = vol.Level(99)
	assert.False(t, ok)
}

func TestNewSourceRange(t *testing.T) {
	p, _ := newTestPyramid(t, [5]int64{8, 8, 1, 2, 1}, 1)

	_, err := NewSource(p, 2, "nope")
	assert.Error(t, err)
	_, err = NewSource(p, -1, "nope")
	assert.Error(t, err)

	src, err := NewSource(p, 0, "ok")
	require.NoError(t, err)
	assert.Equal(t, 1, src.NumLevels())
	assert.Equal(t, 1, src.NumTimepoints())
}
