package imgcrush

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Version is the library version.
const Version = "1.0.0"

// Format is an encoded image format. Unknown is a valid classification
// result but never a valid output format.
type Format int

const (
	// Unknown means neither magic bytes nor extension identified the file.
	Unknown Format = iota
	// PNG is lossless; quality is fixed at 100.
	PNG
	// JPEG is lossy.
	JPEG
	// WebP is treated as lossy.
	WebP
	// AVIF is lossy.
	AVIF
	// HEIC is lossy.
	HEIC
)

// Formats lists every concrete format, in declaration order.
var Formats = []Format{PNG, JPEG, WebP, AVIF, HEIC}

// FormatList returns the names of Formats joined for help and error text.
func FormatList() string {
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = f.String()
	}
	return strings.Join(names, ", ")
}

// String returns the canonical lower-case name of the format.
func (f Format) String() string {
	switch f {
	case PNG:
		return "png"
	case JPEG:
		return "jpeg"
	case WebP:
		return "webp"
	case AVIF:
		return "avif"
	case HEIC:
		return "heic"
	default:
		return "unknown"
	}
}

// Extension returns the canonical file extension (without the dot).
func (f Format) Extension() string {
	switch f {
	case PNG:
		return "png"
	case JPEG:
		return "jpg"
	case WebP:
		return "webp"
	case AVIF:
		return "avif"
	case HEIC:
		return "heic"
	default:
		return ""
	}
}

// Lossy reports whether the format's encoder honours a quality parameter.
func (f Format) Lossy() bool {
	switch f {
	case JPEG, WebP, AVIF, HEIC:
		return true
	default:
		return false
	}
}

// ParseFormat maps a user-supplied format name to a Format.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "png":
		return PNG, true
	case "jpeg", "jpg":
		return JPEG, true
	case "webp":
		return WebP, true
	case "avif":
		return AVIF, true
	case "heic", "heif":
		return HEIC, true
	default:
		return Unknown, false
	}
}

// Quality bounds and defaults.
const (
	MinQuality        = 1
	MaxQuality        = 100
	DefaultQuality    = 85
	LosslessQuality   = 100
	DefaultMinQuality = 30
	DefaultMaxQuality = 95
	DefaultThreshold  = 0.95
)

// ResizeSpec is an exact target size in pixels.
type ResizeSpec struct {
	Width  int
	Height int
}

// ParseResizeSpec parses "WxH" (the separator is case-insensitive).
// Both dimensions must be positive integers.
func ParseResizeSpec(s string) (ResizeSpec, bool) {
	parts := strings.Split(strings.ToLower(s), "x")
	if len(parts) != 2 {
		return ResizeSpec{}, false
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil || w <= 0 {
		return ResizeSpec{}, false
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil || h <= 0 {
		return ResizeSpec{}, false
	}
	return ResizeSpec{Width: w, Height: h}, true
}

// String returns the spec in "WxH" form.
func (r ResizeSpec) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ProcessingOptions configures one invocation. It is built once by the
// CLI/config layer and never mutated by the core.
type ProcessingOptions struct {
	// InputPath is a file or a directory.
	InputPath string

	// OutputFormat overrides the detected format. Unknown keeps the input format.
	OutputFormat Format

	// Quality is the encoder quality in [1,100]. 0 means the encoder default.
	Quality int

	// Resize, when non-nil, resizes every image to exactly this size.
	Resize *ResizeSpec

	// OutputDir receives the optimized files. Empty writes alongside the input.
	OutputDir string

	Recursive bool
	DryRun    bool

	// SmartQuality replaces Quality with the adaptive search result for
	// lossy output formats.
	SmartQuality bool

	// Threshold is the similarity target for SmartQuality. 0 means DefaultThreshold.
	Threshold float64

	// KeepMetadata copies EXIF from JPEG sources into JPEG outputs.
	KeepMetadata bool

	Verbose bool
}

func (o ProcessingOptions) threshold() float64 {
	if o.Threshold > 0 && o.Threshold <= 1 {
		return o.Threshold
	}
	return DefaultThreshold
}

// FileResult describes one successfully processed file.
type FileResult struct {
	File          string
	OutputFile    string
	OriginalSize  int64
	OptimizedSize int64
	Format        Format
	// Quality is the quality the encoder ran at (100 for lossless formats,
	// 0 for dry runs).
	Quality int
	Elapsed time.Duration
	DryRun  bool
}

// ReductionPct returns the saved share of the original size in percent,
// rounded to one decimal. Negative when the output grew.
func (r FileResult) ReductionPct() float64 {
	return ReductionPct(r.OriginalSize, r.OptimizedSize)
}

// FileError describes one file that could not be processed.
type FileError struct {
	File    string
	Message string
}

func (e FileError) Error() string {
	return e.File + ": " + e.Message
}

// ReductionPct computes round((original-optimized)/original*100, 1 decimal),
// or 0 when original is not positive.
func ReductionPct(original, optimized int64) float64 {
	if original <= 0 {
		return 0
	}
	return math.Round(float64(original-optimized)/float64(original)*1000) / 10
}

// Report is the outcome of a batch run.
type Report struct {
	Results []FileResult
	Errors  []FileError
	Elapsed time.Duration
}

// TotalOriginal sums OriginalSize over all results.
func (r *Report) TotalOriginal() int64 {
	var n int64
	for _, res := range r.Results {
		n += res.OriginalSize
	}
	return n
}

// TotalOptimized sums OptimizedSize over all results.
func (r *Report) TotalOptimized() int64 {
	var n int64
	for _, res := range r.Results {
		n += res.OptimizedSize
	}
	return n
}

// ReductionPct is the batch-wide reduction using the same rounding rule.
func (r *Report) ReductionPct() float64 {
	return ReductionPct(r.TotalOriginal(), r.TotalOptimized())
}

// String returns a human-readable batch summary.
func (r *Report) String() string {
	return fmt.Sprintf(
		"Batch: %d optimized, %d failed | %s → %s | Saved: %.1f%%",
		len(r.Results), len(r.Errors),
		humanBytes(r.TotalOriginal()), humanBytes(r.TotalOptimized()),
		r.ReductionPct(),
	)
}
