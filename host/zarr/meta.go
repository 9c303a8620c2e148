package zarr

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/zarrpyr/axis"
	"github.com/hupe1980/zarrpyr/pixel"
)

// Attrs is the root .zattrs document of an OME-Zarr image: NGFF
// multiscales plus the omero rendering block and free-form parameters.
type Attrs struct {
	Multiscales []Multiscale                 `json:"multiscales"`
	Omero       *Omero                       `json:"omero,omitempty"`
	Parameters  map[string]map[string]string `json:"parameters,omitempty"`
	Modified    bool                         `json:"modified,omitempty"`
}

// Multiscale is one NGFF multiscales entry.
type Multiscale struct {
	Version  string         `json:"version,omitempty"`
	Name     string         `json:"name,omitempty"`
	Axes     []AxisMeta     `json:"axes"`
	Datasets []DatasetEntry `json:"datasets"`
}

// AxisMeta describes one NGFF axis.
type AxisMeta struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Unit string `json:"unit,omitempty"`
}

// DatasetEntry points at one resolution level.
type DatasetEntry struct {
	Path                      string      `json:"path"`
	CoordinateTransformations []Transform `json:"coordinateTransformations,omitempty"`
}

// Transform is an NGFF coordinate transformation. Scale entries are the
// physical voxel size per axis; translation entries are the extent min
// corner per axis (host corner convention).
type Transform struct {
	Type        string    `json:"type"`
	Scale       []float64 `json:"scale,omitempty"`
	Translation []float64 `json:"translation,omitempty"`
}

// validateTransforms checks that every scale and translation transform
// of the entry covers all axes. Transform arrays are indexed by axis
// position throughout the store, so a short array must be rejected at
// bind time.
func (ds DatasetEntry) validateTransforms(numAxes int) error {
	for _, tr := range ds.CoordinateTransformations {
		switch tr.Type {
		case "scale":
			if len(tr.Scale) != numAxes {
				return fmt.Errorf("zarr: level %q scale transform has %d entries, axes describe %d", ds.Path, len(tr.Scale), numAxes)
			}
		case "translation":
			if len(tr.Translation) != numAxes {
				return fmt.Errorf("zarr: level %q translation transform has %d entries, axes describe %d", ds.Path, len(tr.Translation), numAxes)
			}
		}
	}
	return nil
}

// Omero carries per-channel rendering metadata.
type Omero struct {
	Channels []OmeroChannel `json:"channels"`
}

// OmeroChannel is one channel's rendering metadata. Color is "RRGGBB".
type OmeroChannel struct {
	Color  string      `json:"color,omitempty"`
	Label  string      `json:"label,omitempty"`
	Window OmeroWindow `json:"window"`
}

// OmeroWindow is the display range of a channel.
type OmeroWindow struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// ZArray is a Zarr v2 .zarray document. Shape and Chunks are in NGFF
// axis order, slowest axis first.
type ZArray struct {
	ZarrFormat         int         `json:"zarr_format"`
	Shape              []int64     `json:"shape"`
	Chunks             []int64     `json:"chunks"`
	DType              string      `json:"dtype"`
	Compressor         *Compressor `json:"compressor"`
	FillValue          any         `json:"fill_value"`
	Order              string      `json:"order"`
	DimensionSeparator string      `json:"dimension_separator,omitempty"`
}

// Compressor selects the chunk compressor. Supported ids: gzip, zlib,
// zstd, lz4 and null (raw).
type Compressor struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

func (z *ZArray) validate() error {
	if z.ZarrFormat != 2 {
		return fmt.Errorf("zarr: unsupported zarr_format %d", z.ZarrFormat)
	}
	if z.Order != "" && z.Order != "C" {
		return fmt.Errorf("zarr: unsupported chunk order %q", z.Order)
	}
	if len(z.Shape) == 0 || len(z.Shape) != len(z.Chunks) {
		return fmt.Errorf("zarr: shape %v and chunks %v disagree", z.Shape, z.Chunks)
	}
	for i := range z.Shape {
		if z.Shape[i] < 1 || z.Chunks[i] < 1 {
			return fmt.Errorf("zarr: non-positive shape/chunk entry at axis %d", i)
		}
	}
	if _, err := pixel.Parse(z.DType); err != nil {
		return err
	}
	return nil
}

func (z *ZArray) separator() string {
	if z.DimensionSeparator == "" {
		return "."
	}
	return z.DimensionSeparator
}

func (z *ZArray) fillValue() float64 {
	switch v := z.FillValue.(type) {
	case float64:
		return v
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

// hostSlots maps each NGFF axis position to its host slot (X,Y,Z,C,T).
// The NGFF axis order must be a subsequence of t,c,z,y,x so chunk memory
// (C order, x fastest) lines up with host layout when absent axes are
// treated as size 1.
func hostSlots(axes []AxisMeta) ([]int, error) {
	slots := make([]int, len(axes))
	prev := axis.NumHostAxes
	seenX, seenY := false, false
	for i, a := range axes {
		var slot int
		switch a.Name {
		case "x":
			slot = axis.HostX
			seenX = true
		case "y":
			slot = axis.HostY
			seenY = true
		case "z":
			slot = axis.HostZ
		case "c":
			slot = axis.HostC
		case "t":
			slot = axis.HostT
		default:
			return nil, fmt.Errorf("zarr: unsupported axis %q", a.Name)
		}
		if slot >= prev {
			return nil, fmt.Errorf("zarr: axes must be ordered t,c,z,y,x; got %q out of order", a.Name)
		}
		prev = slot
		slots[i] = slot
	}
	if !seenX || !seenY {
		return nil, fmt.Errorf("zarr: image must have x and y axes")
	}
	return slots, nil
}

// hostDims projects an NGFF-ordered size vector into the fixed 5-slot
// host vector, absent axes becoming size 1.
func hostDims(slots []int, sizes []int64) [5]int64 {
	dims := [5]int64{1, 1, 1, 1, 1}
	for i, slot := range slots {
		dims[slot] = sizes[i]
	}
	return dims
}
