package axis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	var ce *ConfigurationError

	_, err := New([]int64{10, 10})
	require.ErrorAs(t, err, &ce)

	_, err = New([]int64{10, 10, 1, 1, 1, 1})
	require.ErrorAs(t, err, &ce)

	_, err = New([]int64{10, 0, 1, 1, 1})
	require.ErrorAs(t, err, &ce)
}

func TestMapping(t *testing.T) {
	tests := []struct {
		name  string
		sizes []int64
		dims  int
		names []string
		hasZ  bool
		hasC  bool
		hasT  bool
	}{
		{"2d", []int64{100, 100, 1, 1, 1}, 2, []string{"x", "y"}, false, false, false},
		{"2d multichannel", []int64{100, 100, 1, 3, 1}, 3, []string{"x", "y", "c"}, false, true, false},
		{"3d", []int64{64, 64, 16, 1, 1}, 3, []string{"x", "y", "z"}, true, false, false},
		{"3d timelapse", []int64{64, 64, 16, 1, 20}, 4, []string{"x", "y", "z", "t"}, true, false, true},
		{"full 5d", []int64{64, 64, 16, 2, 20}, 5, []string{"x", "y", "z", "c", "t"}, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.sizes)
			require.NoError(t, err)

			assert.Equal(t, tt.dims, d.NumDimensions())
			assert.Equal(t, tt.names, d.AxisNames())
			assert.Equal(t, tt.hasZ, d.HasZ())
			assert.Equal(t, tt.hasC, d.HasChannels())
			assert.Equal(t, tt.hasT, d.HasTimepoints())

			// X and Y are always mapped to 0 and 1.
			m, ok := d.Mapped(HostX)
			require.True(t, ok)
			assert.Equal(t, 0, m)
			m, ok = d.Mapped(HostY)
			require.True(t, ok)
			assert.Equal(t, 1, m)

			// The mapping preserves host order and round-trips.
			prev := -1
			for i := 0; i < d.NumDimensions(); i++ {
				h, err := d.Host(i)
				require.NoError(t, err)
				assert.Greater(t, h, prev)
				prev = h

				m, ok := d.Mapped(h)
				require.True(t, ok)
				assert.Equal(t, i, m)
			}

			_, err = d.Host(d.NumDimensions())
			assert.Error(t, err)
		})
	}
}

func TestMappingCountBounds(t *testing.T) {
	// Every valid 5-vector maps to between 2 and 5 dimensions.
	for _, sizes := range [][]int64{
		{1, 1, 1, 1, 1},
		{1024, 1024, 100, 4, 600},
		{1, 1, 2, 1, 2},
	} {
		d, err := New(sizes)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, d.NumDimensions(), 2)
		assert.LessOrEqual(t, d.NumDimensions(), 5)
	}
}

func TestScenarioNoZThreeChannels(t *testing.T) {
	d, err := New([]int64{100, 100, 1, 3, 1})
	require.NoError(t, err)

	assert.Equal(t, 3, d.NumDimensions())
	assert.Equal(t, 3, d.NumChannels())
	assert.Equal(t, 1, d.NumTimepoints())
	assert.Equal(t, []int64{100, 100, 3}, d.MappedSizes())

	_, ok := d.Mapped(HostZ)
	assert.False(t, ok)
	c, ok := d.Mapped(HostC)
	require.True(t, ok)
	assert.Equal(t, 2, c)
}

func TestMapSizes(t *testing.T) {
	d, err := New([]int64{128, 128, 32, 2, 1})
	require.NoError(t, err)

	// Project a downsampled level through the same mapping.
	assert.Equal(t, []int64{64, 64, 16, 2}, d.MapSizes([5]int64{64, 64, 16, 2, 1}))
}
