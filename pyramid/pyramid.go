// Package pyramid owns the multi-resolution level hierarchy of a
// dataset: lazy materialization of levels from the host store, a level
// cache with selective invalidation, the level-0 edit buffer with
// dirty-tile tracking, and per-channel source handles with volatile
// (render-safe, possibly stale) variants.
package pyramid

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/zarrpyr/axis"
	"github.com/hupe1980/zarrpyr/host"
	"github.com/hupe1980/zarrpyr/ndarr"
	"github.com/hupe1980/zarrpyr/pixel"
)

const (
	defaultFlushTile       = 64
	defaultVolatileWorkers = 2
	volatileQueueLen       = 16
)

// LevelError indicates a resolution level index out of range.
type LevelError struct {
	Level     int
	NumLevels int
}

func (e *LevelError) Error() string {
	return fmt.Sprintf("pyramid: level %d out of range [0,%d)", e.Level, e.NumLevels)
}

// ConfigurationError indicates host metadata that cannot form a valid
// pyramid. Fatal at construction, never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "pyramid: " + e.Reason
}

// Option configures a Pyramid.
type Option func(*Pyramid)

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pyramid) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithFlushTile sets the X,Y,Z granularity at which level-0 edits are
// tracked and flushed. Defaults to 64 per axis.
func WithFlushTile(tile [3]int64) Option {
	return func(p *Pyramid) {
		p.flushTile = tile
	}
}

// WithVolatileWorkers sets the number of background goroutines serving
// volatile-source materialization. Defaults to 2.
func WithVolatileWorkers(n int) Option {
	return func(p *Pyramid) {
		if n > 0 {
			p.volWorkers = n
		}
	}
}

// Pyramid is the cached multi-resolution view over one host image.
//
// Level 0 is the full resolution image and is never invalidated: after
// direct edits it is the only immediately consistent live view. Levels
// above 0 are recomputed by the host and must be invalidated to pick up
// the recomputation.
type Pyramid struct {
	store      host.Store
	dims       *axis.DatasetDimensions
	dtype      pixel.Type
	levelDims  [][5]int64
	factors    [][3]float64
	flushTile  [3]int64
	tileGrid   [5]int64
	volWorkers int
	logger     *slog.Logger

	mu     sync.Mutex
	cache  map[int]*ndarr.Array
	gen    uint64 // bumped by Invalidate so in-flight stale fetches are discarded
	axesFn func(level int) []ndarr.Axis

	group singleflight.Group

	dirtyMu sync.Mutex
	dirty   *roaring.Bitmap

	volMu     sync.Mutex
	volCh     chan int
	volClosed bool
}

// New binds a pyramid to a host store, reading all level metadata up
// front. Pixel data is not touched until a level is requested.
func New(ctx context.Context, store host.Store, opts ...Option) (*Pyramid, error) {
	p := &Pyramid{
		store:      store,
		flushTile:  [3]int64{defaultFlushTile, defaultFlushTile, defaultFlushTile},
		volWorkers: defaultVolatileWorkers,
		logger:     slog.New(slog.DiscardHandler),
		cache:      make(map[int]*ndarr.Array),
		dirty:      roaring.New(),
	}
	for _, opt := range opts {
		opt(p)
	}

	sizes, err := store.Dimensions(ctx)
	if err != nil {
		return nil, err
	}
	if p.dims, err = axis.New(sizes[:]); err != nil {
		return nil, err
	}
	if p.dtype, err = store.DType(ctx); err != nil {
		return nil, err
	}
	n, err := store.NumResolutions(ctx)
	if err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("host reports %d resolutions", n)}
	}
	for l := 0; l < n; l++ {
		ld, err := store.LevelDimensions(ctx, l)
		if err != nil {
			return nil, err
		}
		f, err := store.DownsamplingFactors(ctx, l)
		if err != nil {
			return nil, err
		}
		p.levelDims = append(p.levelDims, ld)
		p.factors = append(p.factors, f)
	}
	if p.levelDims[0] != sizes {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("level 0 dims %v disagree with dataset dims %v", p.levelDims[0], sizes)}
	}

	for a := 0; a < 3; a++ {
		if p.flushTile[a] < 1 {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("flush tile %v has non-positive entry", p.flushTile)}
		}
		p.tileGrid[a] = ceilDiv(sizes[a], p.flushTile[a])
	}
	p.tileGrid[3] = sizes[3]
	p.tileGrid[4] = sizes[4]
	total := int64(1)
	for _, g := range p.tileGrid {
		total *= g
		if total > math.MaxUint32 {
			return nil, &ConfigurationError{Reason: "flush tile grid exceeds 2^32 tiles"}
		}
	}

	p.volCh = make(chan int, volatileQueueLen)
	for i := 0; i < p.volWorkers; i++ {
		go p.volatileWorker()
	}
	return p, nil
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// Dimensions returns the axis mapping of the dataset.
func (p *Pyramid) Dimensions() *axis.DatasetDimensions { return p.dims }

// DType returns the element type.
func (p *Pyramid) DType() pixel.Type { return p.dtype }

// NumResolutions returns the number of pyramid levels.
func (p *Pyramid) NumResolutions() int { return len(p.levelDims) }

// NumTimepoints returns the number of timepoints.
func (p *Pyramid) NumTimepoints() int { return p.dims.NumTimepoints() }

// NumChannels returns the number of channels.
func (p *Pyramid) NumChannels() int { return p.dims.NumChannels() }

// LevelDimensions returns the host-order sizes of one level.
func (p *Pyramid) LevelDimensions(level int) ([5]int64, error) {
	if level < 0 || level >= len(p.levelDims) {
		return [5]int64{}, &LevelError{Level: level, NumLevels: len(p.levelDims)}
	}
	return p.levelDims[level], nil
}

// DownsamplingFactors returns the X,Y,Z scale of a level relative to
// full resolution.
func (p *Pyramid) DownsamplingFactors(level int) ([3]float64, error) {
	if level < 0 || level >= len(p.factors) {
		return [3]float64{}, &LevelError{Level: level, NumLevels: len(p.factors)}
	}
	return p.factors[level], nil
}

// SetAxesProvider installs the function that produces calibrated axis
// descriptors for newly materialized levels. Must be set before the
// first Level call; ReapplyAxes pushes changes to already cached levels.
func (p *Pyramid) SetAxesProvider(fn func(level int) []ndarr.Axis) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.axesFn = fn
}

// ReapplyAxes re-derives axis descriptors for every cached level, so
// views handed out earlier observe a calibration change without
// re-materialization.
func (p *Pyramid) ReapplyAxes() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.axesFn == nil {
		return nil
	}
	for level, a := range p.cache {
		if err := a.SetAxes(p.axesFn(level)); err != nil {
			return err
		}
	}
	return nil
}

// Level returns the materialized array for one resolution level,
// fetching it from the host on first access. Concurrent callers for the
// same uncached level share a single host fetch; there is no
// cancellation of an in-flight fetch, a caller whose context ends still
// leaves the shared fetch to complete for the others.
func (p *Pyramid) Level(ctx context.Context, level int) (*ndarr.Array, error) {
	if level < 0 || level >= len(p.levelDims) {
		return nil, &LevelError{Level: level, NumLevels: len(p.levelDims)}
	}

	p.mu.Lock()
	if a, ok := p.cache[level]; ok {
		p.mu.Unlock()
		return a, nil
	}
	gen := p.gen
	p.mu.Unlock()

	key := fmt.Sprintf("%d/%d", gen, level)
	v, err, _ := p.group.Do(key, func() (any, error) {
		return p.materialize(ctx, level, gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ndarr.Array), nil
}

func (p *Pyramid) materialize(ctx context.Context, level int, gen uint64) (*ndarr.Array, error) {
	// A racing caller may have filled the slot between the cache miss
	// and the singleflight execution.
	p.mu.Lock()
	if a, ok := p.cache[level]; ok {
		p.mu.Unlock()
		return a, nil
	}
	p.mu.Unlock()

	start := time.Now()
	ld := p.levelDims[level]
	data, err := p.store.ReadBlock(ctx, level, host.FullRegion(ld))
	if err != nil {
		return nil, err
	}
	a, err := ndarr.Wrap(p.dtype, p.dims.MapSizes(ld), data)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.axesFn != nil {
		if err := a.SetAxes(p.axesFn(level)); err != nil {
			return nil, err
		}
	}
	// Discard results that lost against an invalidation; the caller gets
	// the stale array once, the cache stays clean.
	if gen == p.gen || level == 0 {
		p.cache[level] = a
	}
	p.logger.Debug("materialized level",
		"level", level,
		"bytes", len(data),
		"duration", time.Since(start),
	)
	return a, nil
}

// VolatileLevel returns the cached array for a level without blocking.
// When the level is not cached it schedules background materialization
// and reports ok=false; render loops poll until data arrives.
func (p *Pyramid) VolatileLevel(level int) (*ndarr.Array, bool) {
	if level < 0 || level >= len(p.levelDims) {
		return nil, false
	}
	p.mu.Lock()
	a, ok := p.cache[level]
	p.mu.Unlock()
	if ok {
		return a, true
	}

	p.volMu.Lock()
	if !p.volClosed {
		select {
		case p.volCh <- level:
		default: // queue full, a later poll will reschedule
		}
	}
	p.volMu.Unlock()
	return nil, false
}

func (p *Pyramid) volatileWorker() {
	for level := range p.volCh {
		if _, err := p.Level(context.Background(), level); err != nil {
			p.logger.Warn("volatile materialization failed", "level", level, "error", err)
		}
	}
}

// Invalidate drops every cached level except level 0. Subsequent Level
// calls re-materialize from the host. Level 0 is structurally excluded:
// it is the only immediately consistent live view after direct edits.
func (p *Pyramid) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for level := range p.cache {
		if level != 0 {
			delete(p.cache, level)
		}
	}
	p.gen++
}

// WriteRegion applies an edit to the level-0 buffer and marks the
// touched flush tiles dirty. data uses the region's own host-order
// layout, X fastest. The host is not contacted until Persist.
func (p *Pyramid) WriteRegion(ctx context.Context, region host.Region, data []byte) error {
	a, err := p.Level(ctx, 0)
	if err != nil {
		return err
	}
	off := p.dims.MapSizes(region.Offset)
	size := p.dims.MapSizes(region.Size)
	if err := a.WriteRegion(off, size, data); err != nil {
		return err
	}

	p.dirtyMu.Lock()
	defer p.dirtyMu.Unlock()
	p.forEachTile(region, func(tile uint32) {
		p.dirty.Add(tile)
	})
	return nil
}

// DirtyTiles returns the number of unflushed edit tiles.
func (p *Pyramid) DirtyTiles() int {
	p.dirtyMu.Lock()
	defer p.dirtyMu.Unlock()
	return int(p.dirty.GetCardinality())
}

func (p *Pyramid) forEachTile(region host.Region, fn func(tile uint32)) {
	var lo, hi [5]int64
	for a := 0; a < 3; a++ {
		lo[a] = region.Offset[a] / p.flushTile[a]
		hi[a] = (region.Offset[a] + region.Size[a] - 1) / p.flushTile[a]
	}
	for a := 3; a < 5; a++ {
		lo[a] = region.Offset[a]
		hi[a] = region.Offset[a] + region.Size[a] - 1
	}
	var cur [5]int64
	copy(cur[:], lo[:])
	for {
		idx := int64(0)
		for a := 4; a >= 0; a-- {
			idx = idx*p.tileGrid[a] + cur[a]
		}
		fn(uint32(idx))

		a := 0
		for ; a < 5; a++ {
			cur[a]++
			if cur[a] <= hi[a] {
				break
			}
			cur[a] = lo[a]
		}
		if a == 5 {
			return
		}
	}
}

func (p *Pyramid) tileRegion(tile uint32) host.Region {
	idx := int64(tile)
	var coord [5]int64
	for a := 0; a < 5; a++ {
		coord[a] = idx % p.tileGrid[a]
		idx /= p.tileGrid[a]
	}
	var r host.Region
	dims := p.levelDims[0]
	for a := 0; a < 3; a++ {
		r.Offset[a] = coord[a] * p.flushTile[a]
		r.Size[a] = min64(p.flushTile[a], dims[a]-r.Offset[a])
	}
	for a := 3; a < 5; a++ {
		r.Offset[a] = coord[a]
		r.Size[a] = 1
	}
	return r
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Persist flushes all dirty level-0 tiles to the host and then asks the
// host to persist. It returns only once the host reports completion; a
// failure leaves the unflushed tiles marked dirty for a retry.
//
// The level-0 byte buffer is read without synchronization against
// writers, so callers must not issue WriteRegion edits concurrently
// with a flush; an edit racing the flush may reach the host partially.
func (p *Pyramid) Persist(ctx context.Context) error {
	p.dirtyMu.Lock()
	pending := p.dirty
	p.dirty = roaring.New()
	p.dirtyMu.Unlock()

	if !pending.IsEmpty() {
		p.mu.Lock()
		a := p.cache[0]
		p.mu.Unlock()
		if a == nil {
			return &ConfigurationError{Reason: "dirty tiles without a materialized level 0"}
		}

		it := pending.Iterator()
		flushed := roaring.New()
		for it.HasNext() {
			tile := it.Next()
			r := p.tileRegion(tile)
			data, err := a.ReadRegion(p.dims.MapSizes(r.Offset), p.dims.MapSizes(r.Size))
			if err == nil {
				err = p.store.WriteBlock(ctx, 0, r, data)
			}
			if err != nil {
				// Re-arm everything not yet flushed, including this tile.
				p.dirtyMu.Lock()
				pending.AndNot(flushed)
				p.dirty.Or(pending)
				p.dirtyMu.Unlock()
				return err
			}
			flushed.Add(tile)
		}
		p.logger.Debug("flushed dirty tiles", "tiles", flushed.GetCardinality())
	}

	return p.store.Persist(ctx)
}

// Close stops the background volatile workers. It does not close the
// host store.
func (p *Pyramid) Close() {
	p.volMu.Lock()
	defer p.volMu.Unlock()
	if !p.volClosed {
		p.volClosed = true
		close(p.volCh)
	}
}
