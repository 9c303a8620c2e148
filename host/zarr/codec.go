package zarr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

var (
	zstdEncOnce sync.Once
	zstdEnc     *zstd.Encoder
	zstdDecOnce sync.Once
	zstdDec     *zstd.Decoder
)

func zstdEncoder() *zstd.Encoder {
	zstdEncOnce.Do(func() {
		zstdEnc, _ = zstd.NewWriter(nil)
	})
	return zstdEnc
}

func zstdDecoder() *zstd.Decoder {
	zstdDecOnce.Do(func() {
		zstdDec, _ = zstd.NewReader(nil)
	})
	return zstdDec
}

// compressChunk encodes a raw chunk buffer with the array's compressor.
func compressChunk(comp *Compressor, raw []byte) ([]byte, error) {
	if comp == nil {
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	}
	switch comp.ID {
	case "gzip", "zlib":
		var buf bytes.Buffer
		var w io.WriteCloser
		var err error
		level := comp.Level
		if level == 0 {
			level = gzip.DefaultCompression
		}
		if comp.ID == "gzip" {
			w, err = gzip.NewWriterLevel(&buf, level)
		} else {
			w, err = zlib.NewWriterLevel(&buf, level)
		}
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "zstd":
		return zstdEncoder().EncodeAll(raw, nil), nil
	case "lz4":
		// numcodecs LZ4 framing: 4-byte little-endian original length,
		// then one LZ4 block.
		dst := make([]byte, 4+lz4.CompressBlockBound(len(raw)))
		binary.LittleEndian.PutUint32(dst, uint32(len(raw)))
		var c lz4.Compressor
		n, err := c.CompressBlock(raw, dst[4:])
		if err != nil {
			return nil, err
		}
		return dst[:4+n], nil
	}
	return nil, fmt.Errorf("zarr: unsupported compressor %q", comp.ID)
}

// decompressChunk decodes a stored chunk into its raw buffer of
// rawLen bytes.
func decompressChunk(comp *Compressor, stored []byte, rawLen int) ([]byte, error) {
	if comp == nil {
		if len(stored) != rawLen {
			return nil, fmt.Errorf("zarr: raw chunk has %d bytes, want %d", len(stored), rawLen)
		}
		out := make([]byte, rawLen)
		copy(out, stored)
		return out, nil
	}
	switch comp.ID {
	case "gzip", "zlib":
		var r io.ReadCloser
		var err error
		if comp.ID == "gzip" {
			r, err = gzip.NewReader(bytes.NewReader(stored))
		} else {
			r, err = zlib.NewReader(bytes.NewReader(stored))
		}
		if err != nil {
			return nil, err
		}
		defer r.Close()
		out := make([]byte, rawLen)
		if _, err := io.ReadFull(r, out); err != nil {
			return nil, err
		}
		return out, nil
	case "zstd":
		out, err := zstdDecoder().DecodeAll(stored, make([]byte, 0, rawLen))
		if err != nil {
			return nil, err
		}
		if len(out) != rawLen {
			return nil, fmt.Errorf("zarr: zstd chunk decoded to %d bytes, want %d", len(out), rawLen)
		}
		return out, nil
	case "lz4":
		if len(stored) < 4 {
			return nil, fmt.Errorf("zarr: truncated lz4 chunk")
		}
		n := binary.LittleEndian.Uint32(stored)
		if int(n) != rawLen {
			return nil, fmt.Errorf("zarr: lz4 chunk header says %d bytes, want %d", n, rawLen)
		}
		out := make([]byte, rawLen)
		if _, err := lz4.UncompressBlock(stored[4:], out); err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("zarr: unsupported compressor %q", comp.ID)
}
