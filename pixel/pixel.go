// Package pixel describes the element type of voxel buffers.
//
// Pixel data moves through the module as raw little-endian bytes plus a
// Type descriptor, so a single code path can serve datasets of any
// supported sample type. Type strings follow the numpy encoding used by
// Zarr v2 array metadata (e.g. "<u2" for little-endian uint16).
package pixel

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Type identifies the sample type of a voxel buffer.
type Type uint8

const (
	Unknown Type = iota
	Uint8
	Uint16
	Uint32
	Uint64
	Int8
	Int16
	Int32
	Int64
	Float32
	Float64
)

// Parse decodes a Zarr v2 dtype string. Only little-endian ("<") and
// byte-order-free ("|") encodings are accepted; big-endian data is not
// supported.
func Parse(dtype string) (Type, error) {
	switch dtype {
	case "|u1":
		return Uint8, nil
	case "|i1":
		return Int8, nil
	case "<u2":
		return Uint16, nil
	case "<u4":
		return Uint32, nil
	case "<u8":
		return Uint64, nil
	case "<i2":
		return Int16, nil
	case "<i4":
		return Int32, nil
	case "<i8":
		return Int64, nil
	case "<f4":
		return Float32, nil
	case "<f8":
		return Float64, nil
	}
	return Unknown, fmt.Errorf("pixel: unsupported dtype %q", dtype)
}

// DType returns the Zarr v2 dtype string for t.
func (t Type) DType() string {
	switch t {
	case Uint8:
		return "|u1"
	case Int8:
		return "|i1"
	case Uint16:
		return "<u2"
	case Uint32:
		return "<u4"
	case Uint64:
		return "<u8"
	case Int16:
		return "<i2"
	case Int32:
		return "<i4"
	case Int64:
		return "<i8"
	case Float32:
		return "<f4"
	case Float64:
		return "<f8"
	}
	return ""
}

// Size returns the width of one sample in bytes.
func (t Type) Size() int {
	switch t {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Uint64, Int64, Float64:
		return 8
	}
	return 0
}

func (t Type) String() string {
	switch t {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}
	return "unknown"
}

// DisplayRange returns the default display min/max for t, used when the
// host carries no per-channel range metadata.
func (t Type) DisplayRange() (min, max float64) {
	switch t {
	case Uint8:
		return 0, 255
	case Uint16:
		return 0, 65535
	case Uint32:
		return 0, float64(math.MaxUint32)
	case Uint64:
		return 0, float64(math.MaxUint64)
	case Int8:
		return math.MinInt8, math.MaxInt8
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Int32:
		return math.MinInt32, math.MaxInt32
	case Int64:
		return math.MinInt64, math.MaxInt64
	}
	return 0, 1
}

// Decode reads the sample at index i of a raw little-endian buffer and
// widens it to float64.
func (t Type) Decode(buf []byte, i int) float64 {
	off := i * t.Size()
	switch t {
	case Uint8:
		return float64(buf[off])
	case Int8:
		return float64(int8(buf[off]))
	case Uint16:
		return float64(binary.LittleEndian.Uint16(buf[off:]))
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(buf[off:])))
	case Uint32:
		return float64(binary.LittleEndian.Uint32(buf[off:]))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(buf[off:])))
	case Uint64:
		return float64(binary.LittleEndian.Uint64(buf[off:]))
	case Int64:
		return float64(int64(binary.LittleEndian.Uint64(buf[off:])))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
	}
	return 0
}

// Encode writes v into the sample at index i of a raw little-endian
// buffer, narrowing from float64.
func (t Type) Encode(buf []byte, i int, v float64) {
	off := i * t.Size()
	switch t {
	case Uint8:
		buf[off] = uint8(v)
	case Int8:
		buf[off] = byte(int8(v))
	case Uint16:
		binary.LittleEndian.PutUint16(buf[off:], uint16(v))
	case Int16:
		binary.LittleEndian.PutUint16(buf[off:], uint16(int16(v)))
	case Uint32:
		binary.LittleEndian.PutUint32(buf[off:], uint32(v))
	case Int32:
		binary.LittleEndian.PutUint32(buf[off:], uint32(int32(v)))
	case Uint64:
		binary.LittleEndian.PutUint64(buf[off:], uint64(v))
	case Int64:
		binary.LittleEndian.PutUint64(buf[off:], uint64(int64(v)))
	case Float32:
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
	}
}
