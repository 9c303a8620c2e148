package zarrpyr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotWritable is returned by mutating calls on a read-only
	// dataset. The dataset state is unchanged.
	ErrNotWritable = errors.New("dataset is not writable")

	// ErrClosed is returned by calls on a closed dataset.
	ErrClosed = errors.New("dataset is closed")

	// ErrHostStale is returned when a calibration change was applied to
	// the in-memory views but pushing it to the host store failed. The
	// in-memory state keeps the new calibration; the host may still carry
	// the old one until SyncCalibration succeeds.
	//
	// The original host error can be accessed via errors.Unwrap.
	ErrHostStale = errors.New("host store may be stale")
)

// OutOfRangeError indicates a channel, timepoint or level index outside
// the dataset's bounds.
type OutOfRangeError struct {
	What  string // "channel", "timepoint" or "level"
	Index int
	Size  int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s %d out of range [0,%d)", e.What, e.Index, e.Size)
}

func hostStale(err error) error {
	return fmt.Errorf("%w: %w", ErrHostStale, err)
}
