// Package ndarr provides the in-memory n-dimensional array representation
// of a dataset: a raw little-endian voxel buffer together with mapped
// dimensions and calibrated axis descriptors.
//
// The buffer is laid out with the first axis varying fastest, so the
// linear index of (i0, i1, ..., in) is i0 + d0*(i1 + d1*(i2 + ...)).
// Dropping a size-1 axis never changes the layout, which is what allows
// the host's fixed 5-axis buffers to be re-labelled into mapped space
// without copying.
package ndarr

import (
	"errors"
	"fmt"

	"github.com/hupe1980/zarrpyr/pixel"
)

// Axis describes one calibrated axis of an Array. Scale and Min are in
// physical units for spatial axes and 1/0 for channel and time axes.
type Axis struct {
	Name  string
	Unit  string
	Scale float64
	Min   float64
}

// ErrAxisCount is returned when the number of axis descriptors does not
// match the dimensionality of the array.
var ErrAxisCount = errors.New("ndarr: axis count does not match dimensions")

// RegionError indicates a region that does not fit inside the array.
type RegionError struct {
	Offset []int64
	Size   []int64
	Dims   []int64
}

func (e *RegionError) Error() string {
	return fmt.Sprintf("ndarr: region offset=%v size=%v out of bounds for dims=%v", e.Offset, e.Size, e.Dims)
}

// Array is a dense n-dimensional voxel array.
type Array struct {
	dtype pixel.Type
	dims  []int64
	axes  []Axis
	data  []byte
}

// New allocates a zero-filled array with the given element type and
// dimensions (first axis fastest).
func New(dtype pixel.Type, dims []int64) (*Array, error) {
	if dtype.Size() == 0 {
		return nil, fmt.Errorf("ndarr: invalid element type %v", dtype)
	}
	if len(dims) == 0 {
		return nil, errors.New("ndarr: empty dimensions")
	}
	n := int64(1)
	for _, d := range dims {
		if d < 1 {
			return nil, fmt.Errorf("ndarr: invalid dimension %d", d)
		}
		n *= d
	}
	return &Array{
		dtype: dtype,
		dims:  append([]int64(nil), dims...),
		axes:  make([]Axis, len(dims)),
		data:  make([]byte, n*int64(dtype.Size())),
	}, nil
}

// Wrap builds an array around an existing buffer without copying. The
// buffer length must match the dimensions exactly.
func Wrap(dtype pixel.Type, dims []int64, data []byte) (*Array, error) {
	a, err := New(dtype, dims)
	if err != nil {
		return nil, err
	}
	if len(data) != len(a.data) {
		return nil, fmt.Errorf("ndarr: buffer length %d does not match dims %v (want %d)", len(data), dims, len(a.data))
	}
	a.data = data
	return a, nil
}

// DType returns the element type.
func (a *Array) DType() pixel.Type { return a.dtype }

// NumDimensions returns the dimensionality of the array.
func (a *Array) NumDimensions() int { return len(a.dims) }

// Dims returns a copy of the dimension sizes.
func (a *Array) Dims() []int64 { return append([]int64(nil), a.dims...) }

// Len returns the number of elements.
func (a *Array) Len() int64 { return int64(len(a.data)) / int64(a.dtype.Size()) }

// Bytes returns the underlying buffer. Callers must treat it as owned by
// the array; concurrent mutation is not synchronized here.
func (a *Array) Bytes() []byte { return a.data }

// Axes returns a copy of the calibrated axis descriptors.
func (a *Array) Axes() []Axis { return append([]Axis(nil), a.axes...) }

// SetAxes replaces the calibrated axis descriptors. This re-labels the
// array in place; previously handed-out views observe the new
// calibration through the array they share.
func (a *Array) SetAxes(axes []Axis) error {
	if len(axes) != len(a.dims) {
		return ErrAxisCount
	}
	copy(a.axes, axes)
	return nil
}

func (a *Array) index(idx []int64) (int64, error) {
	if len(idx) != len(a.dims) {
		return 0, fmt.Errorf("ndarr: index rank %d, array rank %d", len(idx), len(a.dims))
	}
	var lin int64
	for i := len(idx) - 1; i >= 0; i-- {
		if idx[i] < 0 || idx[i] >= a.dims[i] {
			return 0, &RegionError{Offset: idx, Size: nil, Dims: a.dims}
		}
		lin = lin*a.dims[i] + idx[i]
	}
	return lin, nil
}

// ValueAt returns the sample at the given position widened to float64.
func (a *Array) ValueAt(idx ...int64) (float64, error) {
	lin, err := a.index(idx)
	if err != nil {
		return 0, err
	}
	return a.dtype.Decode(a.data, int(lin)), nil
}

// SetValueAt stores v at the given position, narrowing from float64.
func (a *Array) SetValueAt(v float64, idx ...int64) error {
	lin, err := a.index(idx)
	if err != nil {
		return err
	}
	a.dtype.Encode(a.data, int(lin), v)
	return nil
}

func (a *Array) checkRegion(offset, size []int64) error {
	if len(offset) != len(a.dims) || len(size) != len(a.dims) {
		return &RegionError{Offset: offset, Size: size, Dims: a.dims}
	}
	for i := range a.dims {
		if offset[i] < 0 || size[i] < 1 || offset[i]+size[i] > a.dims[i] {
			return &RegionError{Offset: offset, Size: size, Dims: a.dims}
		}
	}
	return nil
}

// ReadRegion copies a dense subregion out of the array. The returned
// buffer has the region's own dimensions, first axis fastest.
func (a *Array) ReadRegion(offset, size []int64) ([]byte, error) {
	if err := a.checkRegion(offset, size); err != nil {
		return nil, err
	}
	es := int64(a.dtype.Size())
	n := int64(1)
	for _, s := range size {
		n *= s
	}
	dst := make([]byte, n*es)
	CopyRegion(dst, size, zeros(len(size)), a.data, a.dims, offset, size, es)
	return dst, nil
}

// WriteRegion copies a dense buffer (region dimensions, first axis
// fastest) into the array.
func (a *Array) WriteRegion(offset, size []int64, src []byte) error {
	if err := a.checkRegion(offset, size); err != nil {
		return err
	}
	es := int64(a.dtype.Size())
	n := int64(1)
	for _, s := range size {
		n *= s
	}
	if int64(len(src)) != n*es {
		return fmt.Errorf("ndarr: source length %d does not match region size %v", len(src), size)
	}
	CopyRegion(a.data, a.dims, offset, src, size, zeros(len(size)), size, es)
	return nil
}

func zeros(n int) []int64 { return make([]int64, n) }

// CopyRegion copies a shared subregion between two dense buffers. Both
// buffers use first-axis-fastest layout; dstOff/srcOff locate the region
// inside each buffer and size is the region extent. elemSize is the
// element width in bytes. Bounds are the caller's responsibility.
func CopyRegion(dst []byte, dstDims, dstOff []int64, src []byte, srcDims, srcOff, size []int64, elemSize int64) {
	rank := len(size)
	if rank == 0 {
		return
	}
	// Rows along axis 0 are contiguous in both buffers.
	rowBytes := size[0] * elemSize
	idx := make([]int64, rank) // idx[0] stays 0
	for {
		d := dstOff[0]
		s := srcOff[0]
		dStride := int64(1)
		sStride := int64(1)
		for i := 1; i < rank; i++ {
			dStride *= dstDims[i-1]
			sStride *= srcDims[i-1]
			d += (dstOff[i] + idx[i]) * dStride
			s += (srcOff[i] + idx[i]) * sStride
		}
		copy(dst[d*elemSize:d*elemSize+rowBytes], src[s*elemSize:s*elemSize+rowBytes])

		// Advance the outer indices.
		i := 1
		for ; i < rank; i++ {
			idx[i]++
			if idx[i] < size[i] {
				break
			}
			idx[i] = 0
		}
		if i == rank {
			return
		}
	}
}
