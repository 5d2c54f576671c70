// Package imgcrush batch-optimizes images: it converts between PNG, JPEG,
// WebP, AVIF and HEIC, resizes to an exact size, and can search for the
// lowest lossy quality whose SSIM against the source stays above a
// threshold.
//
// A Pipeline handles one file. Run expands a file or directory into a batch,
// checks free disk space, processes files in parallel when there are more
// than four, and returns a Report of per-file results and failures.
//
// Outputs are written to a temporary file next to the destination and
// renamed into place, so a TempRegistry shared with an interrupt handler is
// enough to leave no partial files behind.
//
// PNG and JPEG are encoded natively; WebP, AVIF and HEIC encoders are
// installed with RegisterCodec.
package imgcrush
