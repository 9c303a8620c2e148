// Package testutil provides test doubles for the host store boundary.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/zarrpyr/calib"
	"github.com/hupe1980/zarrpyr/host"
	"github.com/hupe1980/zarrpyr/ndarr"
	"github.com/hupe1980/zarrpyr/pixel"
)

// FakeStore is an in-memory host.Store with per-method call counters
// and error injection, for asserting how many host round trips an
// operation performs.
type FakeStore struct {
	mu sync.Mutex

	dims    [5]int64
	levels  [][5]int64
	factors [][3]float64
	dtype   pixel.Type
	data    map[int][]byte

	Unit   string
	Ext    calib.Extents
	Colors []host.Color
	Ranges [][2]float64
	Params map[string]map[string]string

	Modified  bool
	Persisted int

	calls  map[string]int
	fail   map[string]error
	closed bool
}

// NewFakeStore builds a store with the given full-resolution dimensions
// and numLevels levels, each halving X and Y (and Z when present).
// Voxels carry a deterministic pattern that differs per level, so tests
// can tell which level (and which fetch) produced a value.
func NewFakeStore(dims [5]int64, numLevels int, dtype pixel.Type) *FakeStore {
	f := &FakeStore{
		dims:   dims,
		dtype:  dtype,
		data:   make(map[int][]byte),
		Unit:   "micrometer",
		Ext:    calib.Extents{MinX: 0, MaxX: float64(dims[0]), MinY: 0, MaxY: float64(dims[1]), MinZ: 0, MaxZ: float64(dims[2])},
		Params: map[string]map[string]string{"Image": {"Name": "fake", "Filename": "/tmp/fake.zarr"}},
		calls:  make(map[string]int),
		fail:   make(map[string]error),
	}
	for c := int64(0); c < dims[3]; c++ {
		f.Colors = append(f.Colors, host.Color{R: uint8(50 * (c + 1)), A: 255})
		f.Ranges = append(f.Ranges, [2]float64{0, float64(100 * (c + 1))})
	}
	for l := 0; l < numLevels; l++ {
		ld := dims
		factor := [3]float64{1, 1, 1}
		for a := 0; a < 3; a++ {
			if a == 2 && dims[2] == 1 {
				continue
			}
			ld[a] = max64(1, dims[a]>>l)
			factor[a] = float64(dims[a]) / float64(ld[a])
		}
		f.levels = append(f.levels, ld)
		f.factors = append(f.factors, factor)

		buf := make([]byte, numElems(ld)*int64(dtype.Size()))
		for i := int64(0); i < numElems(ld); i++ {
			dtype.Encode(buf, int(i), float64((i+int64(l)*13)%251))
		}
		f.data[l] = buf
	}
	return f
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func numElems(dims [5]int64) int64 {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

// Calls returns how often a method was invoked, keyed by method name
// (e.g. "ReadBlock").
func (f *FakeStore) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Fail arranges for the named method to return err (nil clears).
func (f *FakeStore) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, method)
	} else {
		f.fail[method] = err
	}
}

func (f *FakeStore) enter(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	return f.fail[method]
}

// LevelData returns the raw host-side buffer of a level, for asserting
// flushed edits.
func (f *FakeStore) LevelData(level int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.data[level]))
	copy(out, f.data[level])
	return out
}

// Dimensions implements host.Store.
func (f *FakeStore) Dimensions(context.Context) ([5]int64, error) {
	if err := f.enter("Dimensions"); err != nil {
		return [5]int64{}, err
	}
	return f.dims, nil
}

// NumResolutions implements host.Store.
func (f *FakeStore) NumResolutions(context.Context) (int, error) {
	if err := f.enter("NumResolutions"); err != nil {
		return 0, err
	}
	return len(f.levels), nil
}

// LevelDimensions implements host.Store.
func (f *FakeStore) LevelDimensions(_ context.Context, level int) ([5]int64, error) {
	if err := f.enter("LevelDimensions"); err != nil {
		return [5]int64{}, err
	}
	if level < 0 || level >= len(f.levels) {
		return [5]int64{}, fmt.Errorf("fake: level %d out of range", level)
	}
	return f.levels[level], nil
}

// DownsamplingFactors implements host.Store.
func (f *FakeStore) DownsamplingFactors(_ context.Context, level int) ([3]float64, error) {
	if err := f.enter("DownsamplingFactors"); err != nil {
		return [3]float64{}, err
	}
	if level < 0 || level >= len(f.factors) {
		return [3]float64{}, fmt.Errorf("fake: level %d out of range", level)
	}
	return f.factors[level], nil
}

// DType implements host.Store.
func (f *FakeStore) DType(context.Context) (pixel.Type, error) {
	if err := f.enter("DType"); err != nil {
		return pixel.Unknown, err
	}
	return f.dtype, nil
}

// Calibration implements host.Store.
func (f *FakeStore) Calibration(context.Context) (string, calib.Extents, error) {
	if err := f.enter("Calibration"); err != nil {
		return "", calib.Extents{}, err
	}
	return f.Unit, f.Ext, nil
}

// ReadBlock implements host.Store.
func (f *FakeStore) ReadBlock(_ context.Context, level int, region host.Region) ([]byte, error) {
	if err := f.enter("ReadBlock"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if level < 0 || level >= len(f.levels) {
		return nil, fmt.Errorf("fake: level %d out of range", level)
	}
	es := int64(f.dtype.Size())
	out := make([]byte, region.NumElements()*es)
	ld := f.levels[level]
	ndarr.CopyRegion(out, region.Size[:], make([]int64, 5), f.data[level], ld[:], region.Offset[:], region.Size[:], es)
	return out, nil
}

// WriteBlock implements host.Store.
func (f *FakeStore) WriteBlock(_ context.Context, level int, region host.Region, data []byte) error {
	if err := f.enter("WriteBlock"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if level < 0 || level >= len(f.levels) {
		return fmt.Errorf("fake: level %d out of range", level)
	}
	es := int64(f.dtype.Size())
	if int64(len(data)) != region.NumElements()*es {
		return fmt.Errorf("fake: block size mismatch")
	}
	ld := f.levels[level]
	ndarr.CopyRegion(f.data[level], ld[:], region.Offset[:], data, region.Size[:], make([]int64, 5), region.Size[:], es)
	return nil
}

// ChannelRange implements host.Store.
func (f *FakeStore) ChannelRange(_ context.Context, channel int) (float64, float64, error) {
	if err := f.enter("ChannelRange"); err != nil {
		return 0, 0, err
	}
	if channel < 0 || channel >= len(f.Ranges) {
		return 0, 0, fmt.Errorf("fake: channel %d out of range", channel)
	}
	return f.Ranges[channel][0], f.Ranges[channel][1], nil
}

// ChannelColor implements host.Store.
func (f *FakeStore) ChannelColor(_ context.Context, channel int) (host.Color, error) {
	if err := f.enter("ChannelColor"); err != nil {
		return host.Color{}, err
	}
	if channel < 0 || channel >= len(f.Colors) {
		return host.Color{}, fmt.Errorf("fake: channel %d out of range", channel)
	}
	return f.Colors[channel], nil
}

// Parameter implements host.Store.
func (f *FakeStore) Parameter(_ context.Context, category, key string) (string, error) {
	if err := f.enter("Parameter"); err != nil {
		return "", err
	}
	return f.Params[category][key], nil
}

// ApplyCalibration implements host.Store.
func (f *FakeStore) ApplyCalibration(_ context.Context, unit string, ext calib.Extents, _ [5]int64) error {
	if err := f.enter("ApplyCalibration"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Unit = unit
	f.Ext = ext
	return nil
}

// SetModified implements host.Store.
func (f *FakeStore) SetModified(_ context.Context, modified bool) error {
	if err := f.enter("SetModified"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Modified = modified
	return nil
}

// Persist implements host.Store.
func (f *FakeStore) Persist(context.Context) error {
	if err := f.enter("Persist"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Persisted++
	return nil
}

// Close implements host.Store.
func (f *FakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeStore) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
