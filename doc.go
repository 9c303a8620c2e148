// Package zarrpyr presents a multi-dimensional, multi-resolution
// OME-Zarr image pyramid held by a host store through interchangeable
// in-memory views that all share the same pixel data.
//
// A dataset image has up to five dimensions in fixed host order
// (X, Y, Z, Channel, Time); dimensions of size 1 beyond X and Y are
// dropped from the array views. The host keeps a pyramid of
// progressively downsampled resolution levels; levels are materialized
// lazily and cached, and concurrent requests for the same level share a
// single host fetch.
//
// # Quick Start
//
// Open an OME-Zarr store on the local filesystem:
//
//	ctx := context.Background()
//	store, err := zarr.NewStore(ctx, blobstore.NewLocalStore("./data"), "img.zarr")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ds, err := zarrpyr.Open(ctx, store)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ds.Close()
//
//	img, err := ds.Img(ctx) // full-resolution calibrated array
//
// Cloud mode:
//
//	s3Store, _ := s3.New(ctx, "my-bucket", "images/")
//	store, _ := zarr.NewStore(ctx, s3Store, "img.zarr")
//	ds, _ := zarrpyr.Open(ctx, store,
//	    zarrpyr.WithRateLimit(rate.NewLimiter(100, 10)))
//
// # Views
//
// Four representations of the same dataset are available, each built
// once and memoized:
//
//   - Img: the full-resolution array with calibrated axes
//   - IJDataset: the array plus per-channel display configuration
//   - Sources: one multi-resolution handle per channel, with volatile
//     (non-blocking, render-safe) variants
//   - SpimData: the multi-resolution bundle of all sources
//
// Because views share pixel buffers, an edit through one view is
// immediately visible through all others.
//
// # Editing
//
// Datasets opened with WithWritable(true) accept WriteRegion edits into
// the full-resolution image. Edits are tracked at flush-tile granularity
// and reach the host only on Persist. After the host recomputes its
// downsampled levels, InvalidatePyramid discards the stale cached levels
// while keeping the full-resolution array intact.
package zarrpyr
