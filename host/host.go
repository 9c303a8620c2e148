// Package host defines the boundary to the external store that owns the
// authoritative pixel data and metadata of a dataset.
//
// The store is an opaque synchronous proxy: every call may block on
// remote I/O and may fail with a communication error. Such failures
// propagate unchanged to the caller; retry and reconnect semantics
// belong to the store implementation, not to the code built on top of
// this interface.
package host

import (
	"context"

	"github.com/hupe1980/zarrpyr/calib"
	"github.com/hupe1980/zarrpyr/pixel"
)

// Region addresses a dense block of voxels in host axis order
// (X,Y,Z,C,T) within one resolution level.
type Region struct {
	Offset [5]int64
	Size   [5]int64
}

// FullRegion returns the region covering an entire level.
func FullRegion(sizes [5]int64) Region {
	return Region{Size: sizes}
}

// NumElements returns the number of voxels in the region.
func (r Region) NumElements() int64 {
	n := int64(1)
	for _, s := range r.Size {
		n *= s
	}
	return n
}

// Color is a channel base color.
type Color struct {
	R, G, B, A uint8
}

// Store is the capability set of the external host store. Pixel blocks
// are raw little-endian buffers in host axis order, X varying fastest.
type Store interface {
	// Dimensions returns the 5-slot size vector (X,Y,Z,C,T) of the full
	// resolution image, each entry >= 1.
	Dimensions(ctx context.Context) ([5]int64, error)

	// NumResolutions returns the number of pyramid levels, >= 1.
	NumResolutions(ctx context.Context) (int, error)

	// LevelDimensions returns the 5-slot size vector of one level.
	LevelDimensions(ctx context.Context, level int) ([5]int64, error)

	// DownsamplingFactors returns the X,Y,Z scale of a level relative to
	// full resolution (level 0 is [1,1,1]).
	DownsamplingFactors(ctx context.Context, level int) ([3]float64, error)

	// DType returns the element type of the pixel data.
	DType(ctx context.Context) (pixel.Type, error)

	// Calibration returns the unit and bounding-box extents (host corner
	// convention) of the full resolution image.
	Calibration(ctx context.Context) (unit string, ext calib.Extents, err error)

	// ReadBlock fetches a dense block of voxels from one level.
	ReadBlock(ctx context.Context, level int, region Region) ([]byte, error)

	// WriteBlock stores a dense block of voxels into one level.
	WriteBlock(ctx context.Context, level int, region Region, data []byte) error

	// ChannelRange returns the display range of a channel.
	ChannelRange(ctx context.Context, channel int) (min, max float64, err error)

	// ChannelColor returns the base color of a channel.
	ChannelColor(ctx context.Context, channel int) (Color, error)

	// Parameter returns a named metadata parameter, e.g.
	// ("Image", "Name").
	Parameter(ctx context.Context, category, key string) (string, error)

	// ApplyCalibration pushes new extents into the host's coordinate
	// metadata, keeping it consistent with an in-memory calibration
	// change.
	ApplyCalibration(ctx context.Context, unit string, ext calib.Extents, sizes [5]int64) error

	// SetModified flags the dataset as modified on the host side.
	SetModified(ctx context.Context, modified bool) error

	// Persist makes all previous writes durable on the host. It returns
	// only once the host reports completion.
	Persist(ctx context.Context) error

	// Close releases the host binding. No representation produced from
	// this store outlives it.
	Close() error
}
