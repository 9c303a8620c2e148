// Package axis translates between the host's fixed 5-slot dimension
// ordering (X,Y,Z,Channel,Time) and the variable-length mapped ordering
// used by the array representation, which omits singleton axes.
package axis

import (
	"fmt"
)

// Host axis slots, in host order.
const (
	HostX = iota
	HostY
	HostZ
	HostC
	HostT
	NumHostAxes
)

// hostNames indexes axis names by host slot.
var hostNames = [NumHostAxes]string{"x", "y", "z", "c", "t"}

// ConfigurationError indicates a malformed host dimension vector. It is
// fatal at construction time and never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "axis: " + e.Reason
}

// DatasetDimensions holds the host dimension sizes and the derived
// mapping into mapped space. Immutable after construction.
type DatasetDimensions struct {
	host   [5]int64
	toHost []int // mapped index -> host slot
	toMap  [5]int
}

// New derives the axis mapping from a host dimension vector. The vector
// must have exactly 5 entries (X,Y,Z,C,T), each >= 1. Z, Channel and
// Time axes of size 1 are absent from mapped space; X and Y are always
// present and host order is preserved.
func New(sizes []int64) (*DatasetDimensions, error) {
	if len(sizes) != NumHostAxes {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("host dimension vector has length %d, want %d", len(sizes), NumHostAxes)}
	}
	d := &DatasetDimensions{}
	for i, s := range sizes {
		if s < 1 {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("host dimension %s has size %d", hostNames[i], s)}
		}
		d.host[i] = s
	}
	for i := range d.toMap {
		d.toMap[i] = -1
	}
	for h := 0; h < NumHostAxes; h++ {
		if h >= HostZ && d.host[h] == 1 {
			continue
		}
		d.toMap[h] = len(d.toHost)
		d.toHost = append(d.toHost, h)
	}
	return d, nil
}

// HostDimensions returns the 5-slot host sizes.
func (d *DatasetDimensions) HostDimensions() [5]int64 { return d.host }

// HasZ reports whether the Z axis is present in mapped space.
func (d *DatasetDimensions) HasZ() bool { return d.toMap[HostZ] >= 0 }

// HasChannels reports whether the channel axis is present in mapped space.
func (d *DatasetDimensions) HasChannels() bool { return d.toMap[HostC] >= 0 }

// HasTimepoints reports whether the time axis is present in mapped space.
func (d *DatasetDimensions) HasTimepoints() bool { return d.toMap[HostT] >= 0 }

// NumDimensions returns the number of mapped dimensions, in [2,5].
func (d *DatasetDimensions) NumDimensions() int { return len(d.toHost) }

// NumChannels returns the size of the host channel axis.
func (d *DatasetDimensions) NumChannels() int { return int(d.host[HostC]) }

// NumTimepoints returns the size of the host time axis.
func (d *DatasetDimensions) NumTimepoints() int { return int(d.host[HostT]) }

// Mapped returns the mapped index of a host slot, or ok=false when the
// axis is absent from mapped space.
func (d *DatasetDimensions) Mapped(hostAxis int) (int, bool) {
	if hostAxis < 0 || hostAxis >= NumHostAxes {
		return 0, false
	}
	m := d.toMap[hostAxis]
	return m, m >= 0
}

// Host returns the host slot of a mapped index.
func (d *DatasetDimensions) Host(mappedAxis int) (int, error) {
	if mappedAxis < 0 || mappedAxis >= len(d.toHost) {
		return 0, fmt.Errorf("axis: mapped axis %d out of range [0,%d)", mappedAxis, len(d.toHost))
	}
	return d.toHost[mappedAxis], nil
}

// MappedSizes returns the dimension sizes in mapped order. Applied to a
// level other than full resolution, use MapSizes instead.
func (d *DatasetDimensions) MappedSizes() []int64 {
	return d.MapSizes(d.host)
}

// MapSizes projects a 5-slot size vector (e.g. of a pyramid level) into
// mapped order, dropping the absent axes.
func (d *DatasetDimensions) MapSizes(sizes [5]int64) []int64 {
	out := make([]int64, len(d.toHost))
	for m, h := range d.toHost {
		out[m] = sizes[h]
	}
	return out
}

// AxisNames returns the axis names in mapped order ("x","y","z","c","t").
func (d *DatasetDimensions) AxisNames() []string {
	out := make([]string, len(d.toHost))
	for m, h := range d.toHost {
		out[m] = hostNames[h]
	}
	return out
}
