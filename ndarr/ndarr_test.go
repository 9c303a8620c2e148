package ndarr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/zarrpyr/pixel"
)

func TestNewValidation(t *testing.T) {
	_, err := New(pixel.Uint16, nil)
	assert.Error(t, err)

	_, err = New(pixel.Uint16, []int64{4, 0})
	assert.Error(t, err)

	_, err = New(pixel.Unknown, []int64{4})
	assert.Error(t, err)

	a, err := New(pixel.Uint16, []int64{4, 3})
	require.NoError(t, err)
	assert.Equal(t, int64(12), a.Len())
	assert.Len(t, a.Bytes(), 24)
}

func TestWrap(t *testing.T) {
	buf := make([]byte, 6)
	a, err := Wrap(pixel.Uint8, []int64{3, 2}, buf)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2}, a.Dims())

	_, err = Wrap(pixel.Uint8, []int64{3, 3}, buf)
	assert.Error(t, err)
}

func TestValueAt(t *testing.T) {
	a, err := New(pixel.Uint16, []int64{4, 3})
	require.NoError(t, err)

	require.NoError(t, a.SetValueAt(513, 1, 2))
	v, err := a.ValueAt(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 513.0, v)

	// First axis varies fastest: (1,2) is element 1+4*2=9.
	assert.Equal(t, 513.0, a.DType().Decode(a.Bytes(), 9))

	_, err = a.ValueAt(4, 0)
	assert.Error(t, err)
	_, err = a.ValueAt(0)
	assert.Error(t, err)
}

func TestSetAxes(t *testing.T) {
	a, err := New(pixel.Uint8, []int64{2, 2, 3})
	require.NoError(t, err)

	axes := []Axis{
		{Name: "x", Unit: "micrometer", Scale: 0.5, Min: 0.25},
		{Name: "y", Unit: "micrometer", Scale: 0.5, Min: 0.25},
		{Name: "c", Scale: 1},
	}
	require.NoError(t, a.SetAxes(axes))
	assert.Equal(t, axes, a.Axes())

	assert.ErrorIs(t, a.SetAxes(axes[:2]), ErrAxisCount)
}

func TestRegionRoundTrip(t *testing.T) {
	a, err := New(pixel.Uint8, []int64{5, 4, 3})
	require.NoError(t, err)

	// Fill with a position-dependent pattern.
	for z := int64(0); z < 3; z++ {
		for y := int64(0); y < 4; y++ {
			for x := int64(0); x < 5; x++ {
				require.NoError(t, a.SetValueAt(float64(x+10*y+100*z), x, y, z))
			}
		}
	}

	got, err := a.ReadRegion([]int64{1, 1, 1}, []int64{3, 2, 2})
	require.NoError(t, err)
	require.Len(t, got, 3*2*2)

	sub, err := Wrap(pixel.Uint8, []int64{3, 2, 2}, got)
	require.NoError(t, err)
	for z := int64(0); z < 2; z++ {
		for y := int64(0); y < 2; y++ {
			for x := int64(0); x < 3; x++ {
				v, err := sub.ValueAt(x, y, z)
				require.NoError(t, err)
				assert.Equal(t, float64((x+1)+10*(y+1)+100*(z+1)), v)
			}
		}
	}

	// Write the region back shifted to the origin and spot-check.
	require.NoError(t, a.WriteRegion([]int64{0, 0, 0}, []int64{3, 2, 2}, got))
	v, err := a.ValueAt(0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, float64(1+10+100), v)
}

func TestRegionBounds(t *testing.T) {
	a, err := New(pixel.Uint8, []int64{4, 4})
	require.NoError(t, err)

	_, err = a.ReadRegion([]int64{2, 2}, []int64{3, 1})
	var re *RegionError
	assert.ErrorAs(t, err, &re)

	err = a.WriteRegion([]int64{0, 0}, []int64{2, 2}, make([]byte, 3))
	assert.Error(t, err)
}
