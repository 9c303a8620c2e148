package host

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/hupe1980/zarrpyr/calib"
	"github.com/hupe1980/zarrpyr/pixel"
)

// Throttled decorates a Store with a client-side rate limit so that
// bulk operations (pyramid materialization, dirty-chunk flushes) do not
// saturate a shared remote store. Every call waits for one token before
// reaching the inner store; context cancellation while waiting is
// returned as the call's error.
type Throttled struct {
	inner   Store
	limiter *rate.Limiter
}

// NewThrottled wraps store with the given limiter.
func NewThrottled(store Store, limiter *rate.Limiter) *Throttled {
	return &Throttled{inner: store, limiter: limiter}
}

func (t *Throttled) wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

func (t *Throttled) Dimensions(ctx context.Context) ([5]int64, error) {
	if err := t.wait(ctx); err != nil {
		return [5]int64{}, err
	}
	return t.inner.Dimensions(ctx)
}

func (t *Throttled) NumResolutions(ctx context.Context) (int, error) {
	if err := t.wait(ctx); err != nil {
		return 0, err
	}
	return t.inner.NumResolutions(ctx)
}

func (t *Throttled) LevelDimensions(ctx context.Context, level int) ([5]int64, error) {
	if err := t.wait(ctx); err != nil {
		return [5]int64{}, err
	}
	return t.inner.LevelDimensions(ctx, level)
}

func (t *Throttled) DownsamplingFactors(ctx context.Context, level int) ([3]float64, error) {
	if err := t.wait(ctx); err != nil {
		return [3]float64{}, err
	}
	return t.inner.DownsamplingFactors(ctx, level)
}

func (t *Throttled) DType(ctx context.Context) (pixel.Type, error) {
	if err := t.wait(ctx); err != nil {
		return pixel.Unknown, err
	}
	return t.inner.DType(ctx)
}

func (t *Throttled) Calibration(ctx context.Context) (string, calib.Extents, error) {
	if err := t.wait(ctx); err != nil {
		return "", calib.Extents{}, err
	}
	return t.inner.Calibration(ctx)
}

func (t *Throttled) ReadBlock(ctx context.Context, level int, region Region) ([]byte, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.ReadBlock(ctx, level, region)
}

func (t *Throttled) WriteBlock(ctx context.Context, level int, region Region, data []byte) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	return t.inner.WriteBlock(ctx, level, region, data)
}

func (t *Throttled) ChannelRange(ctx context.Context, channel int) (float64, float64, error) {
	if err := t.wait(ctx); err != nil {
		return 0, 0, err
	}
	return t.inner.ChannelRange(ctx, channel)
}

func (t *Throttled) ChannelColor(ctx context.Context, channel int) (Color, error) {
	if err := t.wait(ctx); err != nil {
		return Color{}, err
	}
	return t.inner.ChannelColor(ctx, channel)
}

func (t *Throttled) Parameter(ctx context.Context, category, key string) (string, error) {
	if err := t.wait(ctx); err != nil {
		return "", err
	}
	return t.inner.Parameter(ctx, category, key)
}

func (t *Throttled) ApplyCalibration(ctx context.Context, unit string, ext calib.Extents, sizes [5]int64) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	return t.inner.ApplyCalibration(ctx, unit, ext, sizes)
}

func (t *Throttled) SetModified(ctx context.Context, modified bool) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	return t.inner.SetModified(ctx, modified)
}

func (t *Throttled) Persist(ctx context.Context) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	return t.inner.Persist(ctx)
}

func (t *Throttled) Close() error {
	return t.inner.Close()
}
