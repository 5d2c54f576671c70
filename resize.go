package imgcrush

import (
	"context"
	"image"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"github.com/shamspias/imgcrush/internal/compute"
)

// Resizer scales images to an exact size with bilinear interpolation. When
// constructed with a device it dispatches one kernel invocation per output
// pixel; otherwise it runs the table-driven CPU path. Both paths evaluate the
// same float32 arithmetic, so their outputs agree to within rounding.
type Resizer struct {
	device compute.Device
	logger *slog.Logger
}

// NewResizer returns a Resizer bound to device, or to the CPU when device is nil.
func NewResizer(device compute.Device, logger *slog.Logger) *Resizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resizer{device: device, logger: logger}
}

// Accelerator names the backend in use.
func (r *Resizer) Accelerator() string {
	if r == nil || r.device == nil {
		return "cpu"
	}
	return r.device.Name()
}

// Resize returns img scaled to exactly spec.Width × spec.Height.
// Non-positive source or target dimensions fail with InvalidInput before any
// device work. A device fault fails only this call with a general error.
func (r *Resizer) Resize(ctx context.Context, img image.Image, spec ResizeSpec) (*image.NRGBA, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, InvalidInput("imgcrush: cannot resize empty image (%dx%d)", b.Dx(), b.Dy())
	}
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, InvalidInput("imgcrush: invalid resize target %s", spec)
	}
	src := toNRGBARef(img)

	if r.device == nil {
		r.logger.Debug("resize", "backend", "cpu", "from", b.Size(), "to", spec.String())
		return resizeCPU(src, spec.Width, spec.Height), nil
	}

	r.logger.Debug("resize", "backend", r.device.Name(), "from", b.Size(), "to", spec.String())
	if err := r.device.Ready(ctx); err != nil {
		return nil, General(err, "imgcrush: %s not ready", r.device.Name())
	}
	dst, err := resizeDevice(ctx, r.device, src, spec.Width, spec.Height)
	if err != nil {
		return nil, General(err, "imgcrush: accelerated resize failed")
	}
	return dst, nil
}

// axisSample is one output coordinate's two source taps and blend weight.
type axisSample struct {
	i0, i1 int
	t      float32
}

// sampleAxis maps output index i onto a source axis of length in, given
// scale = in/out: coord = i*scale, taps floor(coord) and floor(coord)+1, both
// clamped to in-1.
func sampleAxis(i int, scale float32, in int) axisSample {
	c := float32(i) * scale
	i0 := int(math.Floor(float64(c)))
	if i0 > in-1 {
		i0 = in - 1
	}
	i1 := min(i0+1, in-1)
	return axisSample{i0: i0, i1: i1, t: c - float32(i0)}
}

func axisScale(in, out int) float32 {
	return float32(in) / float32(out)
}

// blendPixel writes the bilinear mix of the four taps into dst at doff:
// first along x for both rows, then along y.
func blendPixel(src *image.NRGBA, sx, sy axisSample, dst []uint8, doff int) {
	r0 := sy.i0 * src.Stride
	r1 := sy.i1 * src.Stride
	p00 := src.Pix[r0+sx.i0*4:]
	p10 := src.Pix[r0+sx.i1*4:]
	p01 := src.Pix[r1+sx.i0*4:]
	p11 := src.Pix[r1+sx.i1*4:]
	for c := 0; c < 4; c++ {
		top := mix(float32(p00[c]), float32(p10[c]), sx.t)
		bottom := mix(float32(p01[c]), float32(p11[c]), sx.t)
		dst[doff+c] = unorm8(mix(top, bottom, sy.t))
	}
}

func mix(a, b, t float32) float32 {
	return a + (b-a)*t
}

// unorm8 rounds to the nearest 8-bit value.
func unorm8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// resizeCPU precomputes the per-column and per-row taps once and fills rows
// in parallel.
func resizeCPU(src *image.NRGBA, w, h int) *image.NRGBA {
	sw, sh := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))

	xs := make([]axisSample, w)
	sx := axisScale(sw, w)
	for x := range xs {
		xs[x] = sampleAxis(x, sx, sw)
	}
	sy := axisScale(sh, h)

	parallelDo(0, h, func(y int) {
		row := sampleAxis(y, sy, sh)
		off := y * dst.Stride
		for x := 0; x < w; x++ {
			blendPixel(src, xs[x], row, dst.Pix, off+x*4)
		}
	})
	return dst
}

// resizeDevice dispatches one kernel invocation per destination pixel.
func resizeDevice(ctx context.Context, dev compute.Device, src *image.NRGBA, w, h int) (*image.NRGBA, error) {
	sw, sh := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	sx, sy := axisScale(sw, w), axisScale(sh, h)

	kernel := func(x, y int) {
		blendPixel(src, sampleAxis(x, sx, sw), sampleAxis(y, sy, sh), dst.Pix, y*dst.Stride+x*4)
	}
	grid := compute.Size{W: w, H: h}
	if err := dev.Dispatch(ctx, grid, compute.GroupSize(dev.Limits()), kernel); err != nil {
		return nil, err
	}
	return dst, nil
}

// parallelDo executes fn(i) for i in [start, stop) across GOMAXPROCS goroutines.
func parallelDo(start, stop int, fn func(i int)) {
	count := stop - start
	if count <= 0 {
		return
	}
	procs := min(runtime.GOMAXPROCS(0), count)
	if procs <= 1 {
		for i := start; i < stop; i++ {
			fn(i)
		}
		return
	}

	var wg sync.WaitGroup
	batch := (count + procs - 1) / procs
	for from := start; from < stop; from += batch {
		to := min(from+batch, stop)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := from; i < to; i++ {
				fn(i)
			}
		}()
	}
	wg.Wait()
}
