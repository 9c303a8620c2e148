package zarr

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/zarrpyr/blobstore"
	"github.com/hupe1980/zarrpyr/host"
	"github.com/hupe1980/zarrpyr/pixel"
)

// fixture builds a two-level uint8 image with axes c,y,x, shape
// (x=6,y=4,c=2) and chunks (x=3,y=2,c=1). Voxel value is x+10y+100c.
func fixture(t *testing.T, comp *Compressor, fill any) *blobstore.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	attrs := Attrs{
		Multiscales: []Multiscale{{
			Version: "0.4",
			Name:    "test image",
			Axes: []AxisMeta{
				{Name: "c", Type: "channel"},
				{Name: "y", Type: "space", Unit: "micrometer"},
				{Name: "x", Type: "space", Unit: "micrometer"},
			},
			Datasets: []DatasetEntry{
				{Path: "0", CoordinateTransformations: []Transform{
					{Type: "scale", Scale: []float64{1, 0.5, 0.5}},
					{Type: "translation", Translation: []float64{0, 0, 0}},
				}},
				{Path: "1", CoordinateTransformations: []Transform{
					{Type: "scale", Scale: []float64{1, 1, 1}},
					{Type: "translation", Translation: []float64{0, 0, 0}},
				}},
			},
		}},
		Omero: &Omero{Channels: []OmeroChannel{
			{Color: "FF0000", Window: OmeroWindow{Start: 10, End: 1000, Min: 0, Max: 65535}},
			{},
		}},
		Parameters: map[string]map[string]string{
			"Image": {"Filename": "/data/test.zarr"},
		},
	}
	raw, err := json.Marshal(attrs)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "img.zarr/.zattrs", raw))

	writeLevel := func(path string, shape, chunks []int64, value func(x, y, c int64) byte) {
		za := ZArray{
			ZarrFormat: 2,
			Shape:      shape,
			Chunks:     chunks,
			DType:      "|u1",
			Compressor: comp,
			FillValue:  fill,
			Order:      "C",
		}
		raw, err := json.Marshal(za)
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, "img.zarr/"+path+"/.zarray", raw))

		// NGFF order is c,y,x; chunk memory is C order, x fastest.
		for c0 := int64(0); c0 < shape[0]/chunks[0]; c0++ {
			for y0 := int64(0); y0 < shape[1]/chunks[1]; y0++ {
				for x0 := int64(0); x0 < shape[2]/chunks[2]; x0++ {
					buf := make([]byte, chunks[0]*chunks[1]*chunks[2])
					i := 0
					for c := int64(0); c < chunks[0]; c++ {
						for y := int64(0); y < chunks[1]; y++ {
							for x := int64(0); x < chunks[2]; x++ {
								buf[i] = value(x0*chunks[2]+x, y0*chunks[1]+y, c0*chunks[0]+c)
								i++
							}
						}
					}
					enc, err := compressChunk(comp, buf)
					require.NoError(t, err)
					key := fmt.Sprintf("img.zarr/%s/%d.%d.%d", path, c0, y0, x0)
					require.NoError(t, store.Put(ctx, key, enc))
				}
			}
		}
	}

	writeLevel("0", []int64{2, 4, 6}, []int64{1, 2, 3}, func(x, y, c int64) byte {
		return byte(x + 10*y + 100*c)
	})
	writeLevel("1", []int64{2, 2, 3}, []int64{1, 2, 3}, func(x, y, c int64) byte {
		return byte(200 + x + 10*y)
	})
	return store
}

func openFixture(t *testing.T, comp *Compressor) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), fixture(t, comp, nil), "img.zarr")
	require.NoError(t, err)
	return s
}

func TestNewStoreMetadata(t *testing.T) {
	ctx := context.Background()
	s := openFixture(t, nil)

	dims, err := s.Dimensions(ctx)
	require.NoError(t, err)
	assert.Equal(t, [5]int64{6, 4, 1, 2, 1}, dims)

	n, err := s.NumResolutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dt, err := s.DType(ctx)
	require.NoError(t, err)
	assert.Equal(t, pixel.Uint8, dt)

	ld, err := s.LevelDimensions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, [5]int64{3, 2, 1, 2, 1}, ld)

	_, err = s.LevelDimensions(ctx, 2)
	assert.Error(t, err)

	f, err := s.DownsamplingFactors(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, [3]float64{2, 2, 1}, f)

	name, err := s.Parameter(ctx, "Image", "Name")
	require.NoError(t, err)
	assert.Equal(t, "test image", name)

	fn, err := s.Parameter(ctx, "Image", "Filename")
	require.NoError(t, err)
	assert.Equal(t, "/data/test.zarr", fn)
}

func TestNewStoreRejectsBadMetadata(t *testing.T) {
	ctx := context.Background()

	_, err := NewStore(ctx, blobstore.NewMemoryStore(), "img.zarr")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	// Axis order must be a subsequence of t,c,z,y,x.
	store := blobstore.NewMemoryStore()
	attrs := Attrs{Multiscales: []Multiscale{{
		Axes:     []AxisMeta{{Name: "x"}, {Name: "y"}},
		Datasets: []DatasetEntry{{Path: "0"}},
	}}}
	raw, _ := json.Marshal(attrs)
	require.NoError(t, store.Put(ctx, "img.zarr/.zattrs", raw))
	_, err = NewStore(ctx, store, "img.zarr")
	assert.ErrorContains(t, err, "out of order")

	// Transform arrays must cover every axis; a short array would
	// otherwise be indexed past its end when deriving the calibration.
	shortTransform := func(tr Transform) Attrs {
		return Attrs{Multiscales: []Multiscale{{
			Axes: []AxisMeta{
				{Name: "c", Type: "channel"},
				{Name: "y", Type: "space", Unit: "micrometer"},
				{Name: "x", Type: "space", Unit: "micrometer"},
			},
			Datasets: []DatasetEntry{
				{Path: "0", CoordinateTransformations: []Transform{tr}},
				{Path: "1"},
			},
		}}}
	}
	store = fixture(t, nil, nil)
	raw, _ = json.Marshal(shortTransform(Transform{Type: "scale", Scale: []float64{0.5}}))
	require.NoError(t, store.Put(ctx, "img.zarr/.zattrs", raw))
	_, err = NewStore(ctx, store, "img.zarr")
	assert.ErrorContains(t, err, "scale transform has 1 entries, axes describe 3")

	store = fixture(t, nil, nil)
	raw, _ = json.Marshal(shortTransform(Transform{Type: "translation", Translation: []float64{0, 0}}))
	require.NoError(t, store.Put(ctx, "img.zarr/.zattrs", raw))
	_, err = NewStore(ctx, store, "img.zarr")
	assert.ErrorContains(t, err, "translation transform has 2 entries, axes describe 3")
}

func TestReadBlock(t *testing.T) {
	ctx := context.Background()

	for _, comp := range []*Compressor{
		nil,
		{ID: "gzip", Level: 5},
		{ID: "zlib"},
		{ID: "zstd"},
		{ID: "lz4"},
	} {
		name := "raw"
		if comp != nil {
			name = comp.ID
		}
		t.Run(name, func(t *testing.T) {
			s := openFixture(t, comp)

			// Full level read.
			full, err := s.ReadBlock(ctx, 0, host.FullRegion([5]int64{6, 4, 1, 2, 1}))
			require.NoError(t, err)
			require.Len(t, full, 6*4*2)
			for c := int64(0); c < 2; c++ {
				for y := int64(0); y < 4; y++ {
					for x := int64(0); x < 6; x++ {
						assert.Equal(t, byte(x+10*y+100*c), full[x+6*(y+4*c)])
					}
				}
			}

			// A region crossing chunk boundaries in x and y.
			got, err := s.ReadBlock(ctx, 0, host.Region{
				Offset: [5]int64{2, 1, 0, 1, 0},
				Size:   [5]int64{3, 2, 1, 1, 1},
			})
			require.NoError(t, err)
			require.Len(t, got, 3*2)
			for y := int64(0); y < 2; y++ {
				for x := int64(0); x < 3; x++ {
					assert.Equal(t, byte((x+2)+10*(y+1)+100), got[x+3*y])
				}
			}
		})
	}
}

func TestReadBlockFillValue(t *testing.T) {
	ctx := context.Background()
	blobs := fixture(t, nil, float64(7))
	// Remove the chunk holding c=0, y=0..1, x=0..2.
	require.NoError(t, blobs.Delete(ctx, "img.zarr/0/0.0.0"))

	s, err := NewStore(ctx, blobs, "img.zarr")
	require.NoError(t, err)

	got, err := s.ReadBlock(ctx, 0, host.Region{
		Offset: [5]int64{0, 0, 0, 0, 0},
		Size:   [5]int64{4, 1, 1, 1, 1},
	})
	require.NoError(t, err)
	// Missing chunk contributes the fill value, present chunk its data.
	assert.Equal(t, []byte{7, 7, 7, 3}, got)
}

func TestWriteBlockRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openFixture(t, &Compressor{ID: "zstd"})

	region := host.Region{
		Offset: [5]int64{1, 1, 0, 0, 0},
		Size:   [5]int64{4, 2, 1, 1, 1},
	}
	data := make([]byte, 4*2)
	for i := range data {
		data[i] = byte(240 + i)
	}
	require.NoError(t, s.WriteBlock(ctx, 0, region, data))

	got, err := s.ReadBlock(ctx, 0, region)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// A voxel outside the region is untouched.
	outside, err := s.ReadBlock(ctx, 0, host.Region{
		Offset: [5]int64{0, 0, 0, 0, 0},
		Size:   [5]int64{1, 1, 1, 1, 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, outside)

	err = s.WriteBlock(ctx, 0, region, data[:3])
	assert.Error(t, err)
}

func TestChannelMetadata(t *testing.T) {
	ctx := context.Background()
	s := openFixture(t, nil)

	min, max, err := s.ChannelRange(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 10.0, min)
	assert.Equal(t, 1000.0, max)

	// Channel without omero window falls back to the dtype range.
	min, max, err = s.ChannelRange(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, min)
	assert.Equal(t, 255.0, max)

	c, err := s.ChannelColor(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, host.Color{R: 255, G: 0, B: 0, A: 255}, c)

	c, err = s.ChannelColor(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, host.Color{R: 255, G: 255, B: 255, A: 255}, c)

	_, _, err = s.ChannelRange(ctx, 2)
	assert.Error(t, err)
	_, err = s.ChannelColor(ctx, -1)
	assert.Error(t, err)
}

func TestCalibrationRoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := fixture(t, nil, nil)
	s, err := NewStore(ctx, blobs, "img.zarr")
	require.NoError(t, err)

	unit, ext, err := s.Calibration(ctx)
	require.NoError(t, err)
	assert.Equal(t, "micrometer", unit)
	assert.Equal(t, 0.0, ext.MinX)
	assert.Equal(t, 3.0, ext.MaxX) // 6 voxels of 0.5
	assert.Equal(t, 2.0, ext.MaxY)

	sizes := [5]int64{6, 4, 1, 2, 1}
	next := ext
	next.MinX, next.MaxX = -3, 3 // voxel size 1.0
	require.NoError(t, s.ApplyCalibration(ctx, "nanometer", next, sizes))

	unit, got, err := s.Calibration(ctx)
	require.NoError(t, err)
	assert.Equal(t, "nanometer", unit)
	assert.Equal(t, -3.0, got.MinX)
	assert.Equal(t, 3.0, got.MaxX)

	// The write is durable: a fresh binding observes it, and the level-1
	// scale keeps its 2x downsampling factor.
	s2, err := NewStore(ctx, blobs, "img.zarr")
	require.NoError(t, err)
	unit, got, err = s2.Calibration(ctx)
	require.NoError(t, err)
	assert.Equal(t, "nanometer", unit)
	assert.Equal(t, -3.0, got.MinX)
	f, err := s2.DownsamplingFactors(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, [3]float64{2, 2, 1}, f)
}

func TestSetModified(t *testing.T) {
	ctx := context.Background()
	blobs := fixture(t, nil, nil)
	s, err := NewStore(ctx, blobs, "img.zarr")
	require.NoError(t, err)

	require.NoError(t, s.SetModified(ctx, true))

	raw, err := blobs.Get(ctx, "img.zarr/.zattrs")
	require.NoError(t, err)
	var attrs Attrs
	require.NoError(t, json.Unmarshal(raw, &attrs))
	assert.True(t, attrs.Modified)
}
