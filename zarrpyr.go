package zarrpyr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/zarrpyr/axis"
	"github.com/hupe1980/zarrpyr/calib"
	"github.com/hupe1980/zarrpyr/host"
	"github.com/hupe1980/zarrpyr/ndarr"
	"github.com/hupe1980/zarrpyr/pixel"
	"github.com/hupe1980/zarrpyr/pyramid"
)

// ChannelDisplay is the display configuration of one channel.
type ChannelDisplay struct {
	Color    host.Color
	RangeMin float64
	RangeMax float64
}

// ImageDataset is the combined representation of a dataset: the named
// full-resolution calibrated image together with per-channel display
// configuration. Built once per Dataset; treat it as read-only.
type ImageDataset struct {
	Name     string
	Img      *ndarr.Array
	Channels []ChannelDisplay
}

// MultiResImage is the multi-resolution representation of a dataset:
// one source per channel over all pyramid levels, plus the axis mapping
// and calibration. Built once per Dataset; treat it as read-only.
type MultiResImage struct {
	Name        string
	Sources     []*pyramid.Source
	Dimensions  *axis.DatasetDimensions
	Calibration *calib.Calibration
}

// Dataset presents one multi-resolution image held by a host store
// through interchangeable views: a calibrated array (Img), a combined
// image-plus-display dataset (IJDataset), per-channel sources (Sources)
// and a multi-resolution bundle (SpimData). All views share the same
// pyramid level arrays; an edit through one is visible through all.
//
// A Dataset is safe for concurrent use. Mutating calls require the
// dataset to be opened with WithWritable(true).
type Dataset struct {
	store    host.Store
	pyr      *pyramid.Pyramid
	dims     *axis.DatasetDimensions
	writable bool
	name     string
	logger   *Logger
	metrics  MetricsCollector

	// mutMu serializes calibration mutations together with their two
	// side effects (axes push, host push). calMu only guards the
	// calibration data and may be taken while pyramid locks are held.
	mutMu sync.Mutex
	calMu sync.Mutex
	cal   *calib.Calibration

	dsMu sync.Mutex
	ds   *ImageDataset

	srcMu   sync.Mutex
	sources []*pyramid.Source

	spimMu sync.Mutex
	spim   *MultiResImage

	closeMu sync.Mutex
	closed  bool
}

// Open binds a dataset to a host store. Metadata (dimensions, levels,
// calibration) is read eagerly; pixel data is not touched until a view
// materializes a level. The dataset takes ownership of the store and
// closes it on Close.
func Open(ctx context.Context, store host.Store, optFns ...Option) (*Dataset, error) {
	o := applyOptions(optFns)

	if o.limiter != nil {
		store = host.NewThrottled(store, o.limiter)
	}

	pyrOpts := []pyramid.Option{pyramid.WithLogger(o.logger.Logger)}
	if o.flushTile != [3]int64{} {
		pyrOpts = append(pyrOpts, pyramid.WithFlushTile(o.flushTile))
	}
	if o.volatileWorkers > 0 {
		pyrOpts = append(pyrOpts, pyramid.WithVolatileWorkers(o.volatileWorkers))
	}
	pyr, err := pyramid.New(ctx, store, pyrOpts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	unit, ext, err := store.Calibration(ctx)
	if err != nil {
		pyr.Close()
		_ = store.Close()
		return nil, err
	}
	dims := pyr.Dimensions()
	cal, err := calib.FromExtents(unit, ext, dims.HostDimensions())
	if err != nil {
		pyr.Close()
		_ = store.Close()
		return nil, err
	}

	d := &Dataset{
		store:    store,
		pyr:      pyr,
		dims:     dims,
		writable: o.writable,
		name:     o.name,
		logger:   o.logger,
		metrics:  o.metrics,
		cal:      cal,
	}
	pyr.SetAxesProvider(d.levelAxes)
	return d, nil
}

// levelAxes derives the calibrated axis descriptors of one pyramid
// level from the current calibration. Installed as the pyramid's axes
// provider, so levels materialized after a calibration change pick up
// the new values without an explicit push.
func (d *Dataset) levelAxes(level int) []ndarr.Axis {
	d.calMu.Lock()
	unit := d.cal.Unit()
	vs := d.cal.VoxelSize()
	min := d.cal.Min()
	d.calMu.Unlock()

	f, _ := d.pyr.DownsamplingFactors(level)
	names := d.dims.AxisNames()
	axes := make([]ndarr.Axis, len(names))
	for m, name := range names {
		h, _ := d.dims.Host(m)
		if h <= axis.HostZ {
			// Downsampled voxels are factor times larger; the first voxel
			// center shifts accordingly within the unchanged extent.
			lvs := vs[h] * f[h]
			axes[m] = ndarr.Axis{
				Name:  name,
				Unit:  unit,
				Scale: lvs,
				Min:   min[h] - vs[h]/2 + lvs/2,
			}
		} else {
			axes[m] = ndarr.Axis{Name: name, Scale: 1}
		}
	}
	return axes
}

// Dimensions returns the axis mapping.
func (d *Dataset) Dimensions() *axis.DatasetDimensions { return d.dims }

// NumDimensions returns the number of mapped dimensions, in [2,5].
func (d *Dataset) NumDimensions() int { return d.dims.NumDimensions() }

// NumChannels returns the number of channels.
func (d *Dataset) NumChannels() int { return d.dims.NumChannels() }

// NumTimepoints returns the number of timepoints.
func (d *Dataset) NumTimepoints() int { return d.dims.NumTimepoints() }

// NumResolutions returns the number of pyramid levels.
func (d *Dataset) NumResolutions() int { return d.pyr.NumResolutions() }

// DType returns the element type.
func (d *Dataset) DType() pixel.Type { return d.pyr.DType() }

// Writable reports whether mutating calls are allowed.
func (d *Dataset) Writable() bool { return d.writable }

// Calibration returns a snapshot of the current calibration.
func (d *Dataset) Calibration() *calib.Calibration {
	d.calMu.Lock()
	defer d.calMu.Unlock()
	return d.cal.Copy()
}

func (d *Dataset) checkOpen() error {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return nil
}

func (d *Dataset) checkWritable() error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if !d.writable {
		return ErrNotWritable
	}
	return nil
}

// Name returns the dataset name: the WithName override if set,
// otherwise the host's image name parameter.
func (d *Dataset) Name(ctx context.Context) (string, error) {
	if d.name != "" {
		return d.name, nil
	}
	if err := d.checkOpen(); err != nil {
		return "", err
	}
	return d.store.Parameter(ctx, "Image", "Name")
}

// Filename returns the host's image filename parameter, or "" when the
// host does not record one.
func (d *Dataset) Filename(ctx context.Context) (string, error) {
	if err := d.checkOpen(); err != nil {
		return "", err
	}
	return d.store.Parameter(ctx, "Image", "Filename")
}

// Img returns the full-resolution calibrated array, materializing it on
// first access. All views share this instance.
func (d *Dataset) Img(ctx context.Context) (*ndarr.Array, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	a, err := d.pyr.Level(ctx, 0)
	d.metrics.RecordMaterialize(0, time.Since(start), err)
	return a, err
}

// IJDataset returns the combined image-plus-display representation,
// building it on first access. Concurrent callers share one build.
func (d *Dataset) IJDataset(ctx context.Context) (*ImageDataset, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	d.dsMu.Lock()
	defer d.dsMu.Unlock()
	if d.ds != nil {
		return d.ds, nil
	}

	img, err := d.Img(ctx)
	if err != nil {
		return nil, err
	}
	name, err := d.Name(ctx)
	if err != nil {
		return nil, err
	}
	channels := make([]ChannelDisplay, d.NumChannels())
	for c := range channels {
		color, err := d.store.ChannelColor(ctx, c)
		if err != nil {
			return nil, err
		}
		lo, hi, err := d.store.ChannelRange(ctx, c)
		if err != nil {
			return nil, err
		}
		channels[c] = ChannelDisplay{Color: color, RangeMin: lo, RangeMax: hi}
	}
	d.ds = &ImageDataset{Name: name, Img: img, Channels: channels}
	return d.ds, nil
}

// Sources returns one multi-resolution source per channel, building
// them on first access. Level arrays are shared across all sources.
func (d *Dataset) Sources(ctx context.Context) ([]*pyramid.Source, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	d.srcMu.Lock()
	defer d.srcMu.Unlock()
	if d.sources != nil {
		return d.sources, nil
	}

	name, err := d.Name(ctx)
	if err != nil {
		return nil, err
	}
	n := d.NumChannels()
	sources := make([]*pyramid.Source, n)
	for c := 0; c < n; c++ {
		srcName := name
		if n > 1 {
			srcName = fmt.Sprintf("%s - channel %d", name, c)
		}
		if sources[c], err = pyramid.NewSource(d.pyr, c, srcName); err != nil {
			return nil, err
		}
	}
	d.sources = sources
	return d.sources, nil
}

// SpimData returns the multi-resolution bundle of sources, axis mapping
// and calibration, building it on first access.
func (d *Dataset) SpimData(ctx context.Context) (*MultiResImage, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	d.spimMu.Lock()
	defer d.spimMu.Unlock()
	if d.spim != nil {
		return d.spim, nil
	}

	sources, err := d.Sources(ctx)
	if err != nil {
		return nil, err
	}
	name, err := d.Name(ctx)
	if err != nil {
		return nil, err
	}
	d.spim = &MultiResImage{
		Name:        name,
		Sources:     sources,
		Dimensions:  d.dims,
		Calibration: d.Calibration(),
	}
	return d.spim, nil
}

// ChannelColor returns the display color of one channel.
func (d *Dataset) ChannelColor(ctx context.Context, channel int) (host.Color, error) {
	if err := d.checkOpen(); err != nil {
		return host.Color{}, err
	}
	if channel < 0 || channel >= d.NumChannels() {
		return host.Color{}, &OutOfRangeError{What: "channel", Index: channel, Size: d.NumChannels()}
	}
	return d.store.ChannelColor(ctx, channel)
}

// ChannelRange returns the display range of one channel.
func (d *Dataset) ChannelRange(ctx context.Context, channel int) (float64, float64, error) {
	if err := d.checkOpen(); err != nil {
		return 0, 0, err
	}
	if channel < 0 || channel >= d.NumChannels() {
		return 0, 0, &OutOfRangeError{What: "channel", Index: channel, Size: d.NumChannels()}
	}
	return d.store.ChannelRange(ctx, channel)
}

// mutateCalibration applies fn to the calibration and then performs the
// two side effects in order: push re-derived axes to cached level
// arrays, push the extents to the host. A failure in fn leaves the
// calibration unchanged. A host push failure leaves the in-memory state
// post-change and returns ErrHostStale wrapping the host error; retry
// with SyncCalibration.
func (d *Dataset) mutateCalibration(ctx context.Context, fn func(c *calib.Calibration) error) error {
	if err := d.checkWritable(); err != nil {
		return err
	}

	d.mutMu.Lock()
	defer d.mutMu.Unlock()

	d.calMu.Lock()
	if err := fn(d.cal); err != nil {
		d.calMu.Unlock()
		return err
	}
	d.calMu.Unlock()

	if err := d.pyr.ReapplyAxes(); err != nil {
		return err
	}
	return d.pushCalibration(ctx)
}

func (d *Dataset) pushCalibration(ctx context.Context) error {
	d.calMu.Lock()
	unit := d.cal.Unit()
	ext := d.cal.Extents(d.dims.HostDimensions())
	d.calMu.Unlock()

	start := time.Now()
	err := d.store.ApplyCalibration(ctx, unit, ext, d.dims.HostDimensions())
	d.metrics.RecordCalibration(time.Since(start), err)
	d.logger.LogCalibration(ctx, unit, err)
	if err != nil {
		return hostStale(err)
	}
	return nil
}

// SetVoxelSize replaces the voxel size, keeping the current min.
func (d *Dataset) SetVoxelSize(ctx context.Context, voxelSize [3]float64) error {
	return d.mutateCalibration(ctx, func(c *calib.Calibration) error {
		return c.SetVoxelSize(voxelSize)
	})
}

// SetMin replaces the voxel-center min coordinate.
func (d *Dataset) SetMin(ctx context.Context, min [3]float64) error {
	return d.mutateCalibration(ctx, func(c *calib.Calibration) error {
		c.SetMin(min)
		return nil
	})
}

// SetUnit replaces the physical unit.
func (d *Dataset) SetUnit(ctx context.Context, unit string) error {
	return d.mutateCalibration(ctx, func(c *calib.Calibration) error {
		c.SetUnit(unit)
		return nil
	})
}

// SetExtents sets unit, voxel size and min from host-convention
// extents. Extents of spatial axes of size 1 are ignored.
func (d *Dataset) SetExtents(ctx context.Context, unit string, ext calib.Extents) error {
	return d.mutateCalibration(ctx, func(c *calib.Calibration) error {
		return c.SetExtents(unit, ext, d.dims.HostDimensions())
	})
}

// SetCalibration replaces the whole calibration.
func (d *Dataset) SetCalibration(ctx context.Context, cal *calib.Calibration) error {
	return d.mutateCalibration(ctx, func(c *calib.Calibration) error {
		c.Set(cal)
		return nil
	})
}

// SyncCalibration pushes the current calibration to the host. Use it to
// retry after a setter returned ErrHostStale.
func (d *Dataset) SyncCalibration(ctx context.Context) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	d.mutMu.Lock()
	defer d.mutMu.Unlock()
	return d.pushCalibration(ctx)
}

// WriteRegion applies an edit to the full-resolution image. region and
// data use host order, X fastest. The edit is immediately visible
// through every view; the host sees it on the next Persist.
func (d *Dataset) WriteRegion(ctx context.Context, region host.Region, data []byte) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	start := time.Now()
	err := d.pyr.WriteRegion(ctx, region, data)
	d.metrics.RecordWrite(len(data), time.Since(start), err)
	d.logger.LogWrite(ctx, len(data), err)
	return err
}

// InvalidatePyramid drops cached levels above full resolution, so the
// next access re-fetches the host's recomputed downsampled data. The
// full-resolution array stays valid. Invalidation belongs to the edit
// cycle, so it requires a writable dataset.
func (d *Dataset) InvalidatePyramid() error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	d.pyr.Invalidate()
	return nil
}

// SetModified sets the host's modified flag.
func (d *Dataset) SetModified(ctx context.Context, modified bool) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	return d.store.SetModified(ctx, modified)
}

// Persist flushes pending edits to the host and asks it to persist. It
// returns only once the host reports completion.
func (d *Dataset) Persist(ctx context.Context) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	start := time.Now()
	err := d.pyr.Persist(ctx)
	d.metrics.RecordPersist(time.Since(start), err)
	d.logger.LogPersist(ctx, err)
	return err
}

// Close releases the host binding. Views obtained earlier keep their
// materialized data but can no longer reach the host. Close is
// idempotent.
func (d *Dataset) Close() error {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.pyr.Close()
	return d.store.Close()
}
