// Package zarr implements host.Store on top of an OME-Zarr hierarchy in
// a blob store.
//
// The adapter reads NGFF multiscales metadata (.zattrs) and per-level
// Zarr v2 array metadata (.zarray), assembles pixel blocks from
// compressed chunks, and writes edited chunks and updated coordinate
// transformations back. NGFF axes must be ordered t,c,z,y,x (any
// subset including x and y), which keeps chunk memory layout identical
// to the host's X-fastest 5D layout with absent axes of size 1.
package zarr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/zarrpyr/blobstore"
	"github.com/hupe1980/zarrpyr/calib"
	"github.com/hupe1980/zarrpyr/host"
	"github.com/hupe1980/zarrpyr/ndarr"
	"github.com/hupe1980/zarrpyr/pixel"
)

const defaultFetchConcurrency = 8

// Option configures a Store.
type Option func(*Store)

// WithFetchConcurrency bounds the number of chunk objects fetched in
// parallel per block read.
func WithFetchConcurrency(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.fetchLimit = n
		}
	}
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store is an OME-Zarr backed host store.
type Store struct {
	blobs      blobstore.Store
	root       string
	logger     *slog.Logger
	fetchLimit int

	// mu guards attrs mutation and chunk read-modify-write cycles.
	mu     sync.RWMutex
	attrs  Attrs
	slots  []int // NGFF axis position -> host slot
	arrays []*ZArray
	dims   [5]int64
	dtype  pixel.Type
}

var _ host.Store = (*Store)(nil)

// NewStore binds to the OME-Zarr image rooted at root (e.g.
// "plate/0/image.zarr") inside blobs and loads its metadata. Malformed
// or inconsistent metadata is a fatal configuration error.
func NewStore(ctx context.Context, blobs blobstore.Store, root string, opts ...Option) (*Store, error) {
	s := &Store{
		blobs:      blobs,
		root:       strings.Trim(root, "/"),
		logger:     slog.New(slog.DiscardHandler),
		fetchLimit: defaultFetchConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}

	raw, err := blobs.Get(ctx, s.key(".zattrs"))
	if err != nil {
		return nil, fmt.Errorf("zarr: reading %s/.zattrs: %w", s.root, err)
	}
	if err := json.Unmarshal(raw, &s.attrs); err != nil {
		return nil, fmt.Errorf("zarr: parsing %s/.zattrs: %w", s.root, err)
	}
	if len(s.attrs.Multiscales) == 0 || len(s.attrs.Multiscales[0].Datasets) == 0 {
		return nil, fmt.Errorf("zarr: %s has no multiscales datasets", s.root)
	}
	ms := &s.attrs.Multiscales[0]

	if s.slots, err = hostSlots(ms.Axes); err != nil {
		return nil, err
	}

	for _, ds := range ms.Datasets {
		raw, err := blobs.Get(ctx, s.key(ds.Path+"/.zarray"))
		if err != nil {
			return nil, fmt.Errorf("zarr: reading level %q metadata: %w", ds.Path, err)
		}
		za := &ZArray{}
		if err := json.Unmarshal(raw, za); err != nil {
			return nil, fmt.Errorf("zarr: parsing level %q metadata: %w", ds.Path, err)
		}
		if err := za.validate(); err != nil {
			return nil, err
		}
		if len(za.Shape) != len(ms.Axes) {
			return nil, fmt.Errorf("zarr: level %q has %d dims, axes describe %d", ds.Path, len(za.Shape), len(ms.Axes))
		}
		if err := ds.validateTransforms(len(ms.Axes)); err != nil {
			return nil, err
		}
		s.arrays = append(s.arrays, za)
	}

	s.dtype, _ = pixel.Parse(s.arrays[0].DType)
	for i, za := range s.arrays[1:] {
		if za.DType != s.arrays[0].DType {
			return nil, fmt.Errorf("zarr: level %d dtype %q differs from level 0 %q", i+1, za.DType, s.arrays[0].DType)
		}
	}
	s.dims = hostDims(s.slots, s.arrays[0].Shape)

	s.logger.Info("bound zarr image",
		"root", s.root,
		"levels", len(s.arrays),
		"dims", s.dims,
		"dtype", s.dtype.String(),
	)
	return s, nil
}

func (s *Store) key(name string) string {
	return path.Join(s.root, name)
}

// Dimensions implements host.Store.
func (s *Store) Dimensions(context.Context) ([5]int64, error) {
	return s.dims, nil
}

// NumResolutions implements host.Store.
func (s *Store) NumResolutions(context.Context) (int, error) {
	return len(s.arrays), nil
}

func (s *Store) level(level int) (*ZArray, error) {
	if level < 0 || level >= len(s.arrays) {
		return nil, fmt.Errorf("zarr: level %d out of range [0,%d)", level, len(s.arrays))
	}
	return s.arrays[level], nil
}

// LevelDimensions implements host.Store.
func (s *Store) LevelDimensions(_ context.Context, level int) ([5]int64, error) {
	za, err := s.level(level)
	if err != nil {
		return [5]int64{}, err
	}
	return hostDims(s.slots, za.Shape), nil
}

// DownsamplingFactors implements host.Store.
func (s *Store) DownsamplingFactors(_ context.Context, level int) ([3]float64, error) {
	if _, err := s.level(level); err != nil {
		return [3]float64{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.factors(level), nil
}

// factors computes the X,Y,Z scale of a level relative to level 0, from
// the scale transforms when present, otherwise from the shape ratio.
// Callers hold at least a read lock.
func (s *Store) factors(level int) [3]float64 {
	out := [3]float64{1, 1, 1}
	ms := &s.attrs.Multiscales[0]
	s0 := scaleOf(ms.Datasets[0])
	sl := scaleOf(ms.Datasets[level])
	base := hostDims(s.slots, s.arrays[0].Shape)
	cur := hostDims(s.slots, s.arrays[level].Shape)
	for i, slot := range s.slots {
		a := slotToSpatial(slot)
		if a < 0 {
			continue
		}
		if s0 != nil && sl != nil && s0.Scale[i] > 0 {
			out[a] = sl.Scale[i] / s0.Scale[i]
		} else {
			out[a] = float64(base[slot]) / float64(cur[slot])
		}
	}
	return out
}

// slotToSpatial maps a host slot to its X,Y,Z index, or -1.
func slotToSpatial(slot int) int {
	if slot <= 2 {
		return slot
	}
	return -1
}

func scaleOf(ds DatasetEntry) *Transform {
	for i := range ds.CoordinateTransformations {
		if ds.CoordinateTransformations[i].Type == "scale" {
			return &ds.CoordinateTransformations[i]
		}
	}
	return nil
}

func translationOf(ds DatasetEntry) *Transform {
	for i := range ds.CoordinateTransformations {
		if ds.CoordinateTransformations[i].Type == "translation" {
			return &ds.CoordinateTransformations[i]
		}
	}
	return nil
}

// DType implements host.Store.
func (s *Store) DType(context.Context) (pixel.Type, error) {
	return s.dtype, nil
}

// Calibration implements host.Store. The extents come from the level-0
// scale and translation transforms; an axis without a translation
// centers its first voxel at the origin.
func (s *Store) Calibration(context.Context) (string, calib.Extents, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ms := &s.attrs.Multiscales[0]
	unit := "pixel"
	for _, a := range ms.Axes {
		if a.Name == "x" && a.Unit != "" {
			unit = a.Unit
		}
	}

	scale := scaleOf(ms.Datasets[0])
	trans := translationOf(ms.Datasets[0])

	var lo, hi [3]float64
	for a := 0; a < 3; a++ {
		lo[a], hi[a] = -0.5, 0.5 // absent axis: unit voxel centered at 0
	}
	for i, slot := range s.slots {
		a := slotToSpatial(slot)
		if a < 0 {
			continue
		}
		vs := 1.0
		if scale != nil && scale.Scale[i] > 0 {
			vs = scale.Scale[i]
		}
		tr := -vs / 2
		if trans != nil {
			tr = trans.Translation[i]
		}
		lo[a] = tr
		hi[a] = tr + float64(s.arrays[0].Shape[i])*vs
	}
	return unit, calib.Extents{
		MinX: lo[0], MaxX: hi[0],
		MinY: lo[1], MaxY: hi[1],
		MinZ: lo[2], MaxZ: hi[2],
	}, nil
}

func (s *Store) checkRegion(za *ZArray, region host.Region) error {
	dims := hostDims(s.slots, za.Shape)
	for i := 0; i < 5; i++ {
		if region.Offset[i] < 0 || region.Size[i] < 1 || region.Offset[i]+region.Size[i] > dims[i] {
			return fmt.Errorf("zarr: region offset=%v size=%v out of bounds for level dims %v", region.Offset, region.Size, dims)
		}
	}
	return nil
}

// chunkCoords enumerates the NGFF-ordered chunk coordinates intersecting
// a region.
func (s *Store) chunkCoords(za *ZArray, region host.Region) [][]int64 {
	nd := len(za.Chunks)
	lo := make([]int64, nd)
	hi := make([]int64, nd)
	for j := 0; j < nd; j++ {
		slot := s.slots[j]
		lo[j] = region.Offset[slot] / za.Chunks[j]
		hi[j] = (region.Offset[slot] + region.Size[slot] - 1) / za.Chunks[j]
	}
	var coords [][]int64
	cur := append([]int64(nil), lo...)
	for {
		coords = append(coords, append([]int64(nil), cur...))
		j := nd - 1
		for ; j >= 0; j-- {
			cur[j]++
			if cur[j] <= hi[j] {
				break
			}
			cur[j] = lo[j]
		}
		if j < 0 {
			return coords
		}
	}
}

func (s *Store) chunkKey(levelPath string, za *ZArray, coords []int64) string {
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = strconv.FormatInt(c, 10)
	}
	return s.key(levelPath + "/" + strings.Join(parts, za.separator()))
}

// intersect computes the overlap of a chunk with a region, all in host
// coordinates. Returns per-slot offsets into the destination region and
// the source chunk, and the overlap size.
func (s *Store) intersect(za *ZArray, region host.Region, coords []int64) (dstOff, srcOff, size []int64) {
	dstOff = make([]int64, 5)
	srcOff = make([]int64, 5)
	size = []int64{1, 1, 1, 1, 1}
	chunkStart := [5]int64{}
	chunkSize := [5]int64{1, 1, 1, 1, 1}
	levelDims := hostDims(s.slots, za.Shape)
	for j, slot := range s.slots {
		chunkStart[slot] = coords[j] * za.Chunks[j]
		chunkSize[slot] = za.Chunks[j]
	}
	for i := 0; i < 5; i++ {
		start := max64(region.Offset[i], chunkStart[i])
		end := min64(region.Offset[i]+region.Size[i], min64(chunkStart[i]+chunkSize[i], levelDims[i]))
		dstOff[i] = start - region.Offset[i]
		srcOff[i] = start - chunkStart[i]
		size[i] = end - start
	}
	return dstOff, srcOff, size
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// ReadBlock implements host.Store. Chunks are fetched concurrently and
// assembled into a dense host-order buffer; missing chunks contribute
// the array's fill value.
func (s *Store) ReadBlock(ctx context.Context, level int, region host.Region) ([]byte, error) {
	za, err := s.level(level)
	if err != nil {
		return nil, err
	}
	if err := s.checkRegion(za, region); err != nil {
		return nil, err
	}

	es := int64(s.dtype.Size())
	out := make([]byte, region.NumElements()*es)
	if fill := za.fillValue(); fill != 0 {
		for i := int64(0); i < region.NumElements(); i++ {
			s.dtype.Encode(out, int(i), fill)
		}
	}

	chunkRaw := chunkRawLen(za) * es
	chunkDims := hostDims(s.slots, za.Chunks)
	regionDims := region.Size[:]

	s.mu.RLock()
	levelPath := s.attrs.Multiscales[0].Datasets[level].Path
	s.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchLimit)
	for _, coords := range s.chunkCoords(za, region) {
		coords := coords
		g.Go(func() error {
			stored, err := s.blobs.Get(gctx, s.chunkKey(levelPath, za, coords))
			if errors.Is(err, blobstore.ErrNotFound) {
				return nil // fill value already in place
			}
			if err != nil {
				return err
			}
			raw, err := decompressChunk(za.Compressor, stored, int(chunkRaw))
			if err != nil {
				return err
			}
			dstOff, srcOff, size := s.intersect(za, region, coords)
			ndarr.CopyRegion(out, regionDims, dstOff, raw, chunkDims[:], srcOff, size, es)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func chunkRawLen(za *ZArray) int64 {
	n := int64(1)
	for _, c := range za.Chunks {
		n *= c
	}
	return n
}

// WriteBlock implements host.Store. Partially covered chunks are read,
// patched and rewritten; the write lock serializes read-modify-write
// cycles against concurrent writers.
func (s *Store) WriteBlock(ctx context.Context, level int, region host.Region, data []byte) error {
	za, err := s.level(level)
	if err != nil {
		return err
	}
	if err := s.checkRegion(za, region); err != nil {
		return err
	}
	es := int64(s.dtype.Size())
	if int64(len(data)) != region.NumElements()*es {
		return fmt.Errorf("zarr: block has %d bytes, region wants %d", len(data), region.NumElements()*es)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chunkRaw := chunkRawLen(za) * es
	chunkDims := hostDims(s.slots, za.Chunks)
	levelPath := s.attrs.Multiscales[0].Datasets[level].Path

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchLimit)
	for _, coords := range s.chunkCoords(za, region) {
		coords := coords
		g.Go(func() error {
			key := s.chunkKey(levelPath, za, coords)
			dstOff, srcOff, size := s.intersect(za, region, coords)

			var raw []byte
			full := true
			for i := 0; i < 5; i++ {
				if size[i] != chunkDims[i] {
					full = false
					break
				}
			}
			if full {
				raw = make([]byte, chunkRaw)
			} else {
				stored, err := s.blobs.Get(gctx, key)
				switch {
				case errors.Is(err, blobstore.ErrNotFound):
					raw = make([]byte, chunkRaw)
					if fill := za.fillValue(); fill != 0 {
						for i := int64(0); i < chunkRaw/es; i++ {
							s.dtype.Encode(raw, int(i), fill)
						}
					}
				case err != nil:
					return err
				default:
					if raw, err = decompressChunk(za.Compressor, stored, int(chunkRaw)); err != nil {
						return err
					}
				}
			}

			// Note the swap: the region buffer is the source here.
			ndarr.CopyRegion(raw, chunkDims[:], srcOff, data, region.Size[:], dstOff, size, es)

			enc, err := compressChunk(za.Compressor, raw)
			if err != nil {
				return err
			}
			return s.blobs.Put(gctx, key, enc)
		})
	}
	return g.Wait()
}

// ChannelRange implements host.Store, serving the omero window metadata
// with the dtype display range as fallback.
func (s *Store) ChannelRange(_ context.Context, channel int) (float64, float64, error) {
	if channel < 0 || int64(channel) >= s.dims[3] {
		return 0, 0, fmt.Errorf("zarr: channel %d out of range [0,%d)", channel, s.dims[3])
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.attrs.Omero != nil && channel < len(s.attrs.Omero.Channels) {
		w := s.attrs.Omero.Channels[channel].Window
		if w.Start != 0 || w.End != 0 {
			return w.Start, w.End, nil
		}
	}
	min, max := s.dtype.DisplayRange()
	return min, max, nil
}

// ChannelColor implements host.Store. Colors are omero "RRGGBB" strings;
// channels without one are white.
func (s *Store) ChannelColor(_ context.Context, channel int) (host.Color, error) {
	if channel < 0 || int64(channel) >= s.dims[3] {
		return host.Color{}, fmt.Errorf("zarr: channel %d out of range [0,%d)", channel, s.dims[3])
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.attrs.Omero != nil && channel < len(s.attrs.Omero.Channels) {
		if c := s.attrs.Omero.Channels[channel].Color; c != "" {
			v, err := strconv.ParseUint(c, 16, 32)
			if err != nil {
				return host.Color{}, fmt.Errorf("zarr: channel %d has malformed color %q", channel, c)
			}
			return host.Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
		}
	}
	return host.Color{R: 255, G: 255, B: 255, A: 255}, nil
}

// Parameter implements host.Store. ("Image","Name") falls back to the
// multiscales name. Absent parameters are empty, not an error.
func (s *Store) Parameter(_ context.Context, category, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.attrs.Parameters[category]; ok {
		if v, ok := m[key]; ok {
			return v, nil
		}
	}
	if category == "Image" && key == "Name" {
		return s.attrs.Multiscales[0].Name, nil
	}
	return "", nil
}

// ApplyCalibration implements host.Store. It rewrites the level-0 scale
// and translation transforms (and the per-level scales, preserving each
// level's downsampling factor), updates the spatial axis units, and
// stores the new .zattrs. In-memory metadata is only committed after
// the write succeeds.
func (s *Store) ApplyCalibration(ctx context.Context, unit string, ext calib.Extents, sizes [5]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var vs, lo [3]float64
	lo = [3]float64{ext.MinX, ext.MinY, ext.MinZ}
	hi := [3]float64{ext.MaxX, ext.MaxY, ext.MaxZ}
	for a := 0; a < 3; a++ {
		vs[a] = (hi[a] - lo[a]) / float64(sizes[a])
	}

	next := s.attrs.clone()
	ms := &next.Multiscales[0]
	for a := range ms.Axes {
		if ms.Axes[a].Type == "space" || ms.Axes[a].Name == "x" || ms.Axes[a].Name == "y" || ms.Axes[a].Name == "z" {
			ms.Axes[a].Unit = unit
		}
	}
	for l := range ms.Datasets {
		factors := s.factors(l)
		scale := make([]float64, len(s.slots))
		trans := make([]float64, len(s.slots))
		for i := range scale {
			scale[i] = 1
		}
		if old := scaleOf(ms.Datasets[l]); old != nil {
			copy(scale, old.Scale)
		}
		if old := translationOf(ms.Datasets[l]); old != nil {
			copy(trans, old.Translation)
		}
		for i, slot := range s.slots {
			a := slotToSpatial(slot)
			if a < 0 {
				continue
			}
			scale[i] = vs[a] * factors[a]
			trans[i] = lo[a]
		}
		ms.Datasets[l].CoordinateTransformations = []Transform{
			{Type: "scale", Scale: scale},
			{Type: "translation", Translation: trans},
		}
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return err
	}
	if err := s.blobs.Put(ctx, s.key(".zattrs"), raw); err != nil {
		return err
	}
	s.attrs = *next
	s.logger.Debug("applied calibration", "root", s.root, "unit", unit)
	return nil
}

// SetModified implements host.Store.
func (s *Store) SetModified(ctx context.Context, modified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.attrs.clone()
	next.Modified = modified
	raw, err := json.Marshal(next)
	if err != nil {
		return err
	}
	if err := s.blobs.Put(ctx, s.key(".zattrs"), raw); err != nil {
		return err
	}
	s.attrs = *next
	return nil
}

// Persist implements host.Store. Chunk and metadata writes go straight
// to the blob store, so persistence is already durable; Persist exists
// to satisfy hosts that buffer.
func (s *Store) Persist(context.Context) error {
	return nil
}

// Close implements host.Store.
func (s *Store) Close() error {
	return nil
}

func (a *Attrs) clone() *Attrs {
	raw, _ := json.Marshal(a)
	out := &Attrs{}
	_ = json.Unmarshal(raw, out)
	return out
}
