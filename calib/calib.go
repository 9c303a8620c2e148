// Package calib holds the physical calibration of a dataset: unit, voxel
// size and minimum coordinate per spatial axis.
//
// Two coordinate conventions meet here. The array representation uses
// the voxel-center convention: a coordinate names the center of a voxel.
// The host store uses the extent convention: the min/max corners of the
// bounding box around all voxels. All arithmetic converting between the
// two lives in this package and nowhere else.
package calib

import (
	"errors"
	"fmt"
)

// ErrNonPositiveVoxelSize is returned when a voxel size is zero or
// negative.
var ErrNonPositiveVoxelSize = errors.New("calib: voxel size must be positive")

// Extents is a bounding box in the host's corner convention: Min* is the
// minimum corner of the minimum voxel, Max* the maximum corner of the
// maximum voxel.
type Extents struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// Calibration is the physical calibration of a dataset. Min is in the
// voxel-center convention. The zero value is an uncalibrated dataset
// (unit "", voxel size 1, min 0); use New to validate explicit values.
type Calibration struct {
	unit      string
	voxelSize [3]float64
	min       [3]float64
}

// New creates a calibration from unit, voxel size (each entry > 0) and
// voxel-center min coordinate.
func New(unit string, voxelSize, min [3]float64) (*Calibration, error) {
	c := &Calibration{unit: unit, min: min}
	if err := c.setVoxelSize(voxelSize); err != nil {
		return nil, err
	}
	return c, nil
}

// Default returns the calibration of an uncalibrated dataset: pixel
// unit, voxel size 1 and min 0 on every spatial axis.
func Default() *Calibration {
	return &Calibration{unit: "pixel", voxelSize: [3]float64{1, 1, 1}}
}

// FromExtents derives a calibration from host extents, one spatial axis
// at a time:
//
//	voxelSize = (extentMax - extentMin) / size
//	min       = extentMin + voxelSize/2
//
// Axes of size 1 keep voxel size 1 and take min from the extent center.
func FromExtents(unit string, ext Extents, sizes [5]int64) (*Calibration, error) {
	c := &Calibration{unit: unit, voxelSize: [3]float64{1, 1, 1}}
	if err := c.applyExtents(ext, sizes, false); err != nil {
		return nil, err
	}
	return c, nil
}

// Unit returns the physical unit, e.g. "micrometer".
func (c *Calibration) Unit() string { return c.unit }

// VoxelSize returns the per-axis voxel size in X,Y,Z order.
func (c *Calibration) VoxelSize() [3]float64 { return c.voxelSize }

// Min returns the voxel-center min coordinate in X,Y,Z order.
func (c *Calibration) Min() [3]float64 { return c.min }

func (c *Calibration) setVoxelSize(voxelSize [3]float64) error {
	for i, v := range voxelSize {
		if v <= 0 {
			return fmt.Errorf("%w: axis %d has voxel size %g", ErrNonPositiveVoxelSize, i, v)
		}
	}
	c.voxelSize = voxelSize
	return nil
}

// SetVoxelSize replaces the voxel size, keeping the current min.
func (c *Calibration) SetVoxelSize(voxelSize [3]float64) error {
	return c.setVoxelSize(voxelSize)
}

// SetMin replaces the voxel-center min coordinate, keeping the current
// voxel size.
func (c *Calibration) SetMin(min [3]float64) {
	c.min = min
}

// SetUnit replaces the physical unit.
func (c *Calibration) SetUnit(unit string) {
	c.unit = unit
}

// SetExtents sets unit, voxel size and min from host extents. sizes is
// the 5-slot host dimension vector; the extent of a spatial axis of
// size 1 is ignored and that axis keeps its current calibration.
func (c *Calibration) SetExtents(unit string, ext Extents, sizes [5]int64) error {
	if err := c.applyExtents(ext, sizes, true); err != nil {
		return err
	}
	c.unit = unit
	return nil
}

func (c *Calibration) applyExtents(ext Extents, sizes [5]int64, skipSingleton bool) error {
	lo := [3]float64{ext.MinX, ext.MinY, ext.MinZ}
	hi := [3]float64{ext.MaxX, ext.MaxY, ext.MaxZ}
	voxelSize := c.voxelSize
	min := c.min
	for i := 0; i < 3; i++ {
		size := sizes[i]
		if size < 1 {
			return fmt.Errorf("calib: host dimension %d has size %d", i, size)
		}
		if size == 1 && skipSingleton {
			continue
		}
		if size == 1 && hi[i] <= lo[i] {
			// Degenerate extent on a singleton axis: the voxel width is
			// unknowable, keep it and center the voxel in the extent.
			min[i] = (lo[i] + hi[i]) / 2
			continue
		}
		vs := (hi[i] - lo[i]) / float64(size)
		if vs <= 0 {
			return fmt.Errorf("%w: axis %d extents [%g,%g] over size %d", ErrNonPositiveVoxelSize, i, lo[i], hi[i], size)
		}
		voxelSize[i] = vs
		min[i] = lo[i] + vs/2
	}
	c.voxelSize = voxelSize
	c.min = min
	return nil
}

// Set copies all fields of other into c.
func (c *Calibration) Set(other *Calibration) {
	*c = *other
}

// Copy returns an independent snapshot of c.
func (c *Calibration) Copy() *Calibration {
	cp := *c
	return &cp
}

// Extents converts the calibration back to the host's corner convention
// for the given host dimension vector:
//
//	extentMin = min - voxelSize/2
//	extentMax = min + (size-1)*voxelSize + voxelSize/2
func (c *Calibration) Extents(sizes [5]int64) Extents {
	var lo, hi [3]float64
	for i := 0; i < 3; i++ {
		lo[i] = c.min[i] - c.voxelSize[i]/2
		hi[i] = c.min[i] + (float64(sizes[i])-1)*c.voxelSize[i] + c.voxelSize[i]/2
	}
	return Extents{
		MinX: lo[0], MaxX: hi[0],
		MinY: lo[1], MaxY: hi[1],
		MinZ: lo[2], MaxZ: hi[2],
	}
}
