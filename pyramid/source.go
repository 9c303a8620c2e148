package pyramid

import (
	"context"
	"fmt"

	"github.com/hupe1980/zarrpyr/ndarr"
)

// Source is a per-channel handle over all resolution levels of a
// pyramid. Level arrays are shared across sources; a source selects its
// channel by index into the mapped channel axis.
type Source struct {
	pyr     *Pyramid
	channel int
	name    string
}

// NewSource creates the source for one channel.
func NewSource(p *Pyramid, channel int, name string) (*Source, error) {
	if channel < 0 || channel >= p.NumChannels() {
		return nil, fmt.Errorf("pyramid: channel %d out of range [0,%d)", channel, p.NumChannels())
	}
	return &Source{pyr: p, channel: channel, name: name}, nil
}

// Name returns the source name, e.g. "image - channel 1".
func (s *Source) Name() string { return s.name }

// Channel returns the channel index this source serves.
func (s *Source) Channel() int { return s.channel }

// NumLevels returns the number of resolution levels.
func (s *Source) NumLevels() int { return s.pyr.NumResolutions() }

// NumTimepoints returns the number of timepoints.
func (s *Source) NumTimepoints() int { return s.pyr.NumTimepoints() }

// Level returns the materialized array of one level, shared with all
// other sources of the same pyramid.
func (s *Source) Level(ctx context.Context, level int) (*ndarr.Array, error) {
	return s.pyr.Level(ctx, level)
}

// DownsamplingFactors returns the X,Y,Z scale of a level relative to
// full resolution.
func (s *Source) DownsamplingFactors(level int) ([3]float64, error) {
	return s.pyr.DownsamplingFactors(level)
}

// Volatile returns the render-safe variant of this source.
func (s *Source) Volatile() *VolatileSource {
	return &VolatileSource{src: s}
}

// VolatileSource is the non-blocking variant of a Source: it reports
// whatever is cached right now and schedules background fills for the
// rest. Renderers poll it every frame and tolerate absent data.
type VolatileSource struct {
	src *Source
}

// Name returns the wrapped source name.
func (v *VolatileSource) Name() string { return v.src.name }

// Channel returns the wrapped channel index.
func (v *VolatileSource) Channel() int { return v.src.channel }

// Level returns the cached array for a level, or ok=false while
// materialization is still pending.
func (v *VolatileSource) Level(level int) (*ndarr.Array, bool) {
	return v.src.pyr.VolatileLevel(level)
}
