package imgcrush

import (
	"image"
)

// SSIM constants for an 8-bit dynamic range: (0.01*255)^2 and (0.03*255)^2.
const (
	ssimC1 = 6.5025
	ssimC2 = 58.5225
)

// Similarity computes a single-window structural similarity index over the
// BT.601 luminance of a and b. Both images are cropped to their shared
// top-left width and height. The result lies in [0, 1]; a zero-area overlap
// or nil input scores 0.
func Similarity(a, b image.Image) float64 {
	if a == nil || b == nil {
		return 0
	}
	na, nb := toNRGBARef(a), toNRGBARef(b)
	w := min(na.Bounds().Dx(), nb.Bounds().Dx())
	h := min(na.Bounds().Dy(), nb.Bounds().Dy())
	if w <= 0 || h <= 0 {
		return 0
	}
	return clamp01(globalSSIM(luminance(na, w, h), luminance(nb, w, h)))
}

// globalSSIM evaluates the SSIM formula with one window covering every sample.
func globalSSIM(x, y []float64) float64 {
	n := float64(len(x))

	var muX, muY float64
	for i := range x {
		muX += x[i]
		muY += y[i]
	}
	muX /= n
	muY /= n

	var varX, varY, cov float64
	for i := range x {
		dx := x[i] - muX
		dy := y[i] - muY
		varX += dx * dx
		varY += dy * dy
		cov += dx * dy
	}
	varX /= n
	varY /= n
	cov /= n

	num := (2*muX*muY + ssimC1) * (2*cov + ssimC2)
	den := (muX*muX + muY*muY + ssimC1) * (varX + varY + ssimC2)
	return num / den
}

// luminance extracts the top-left w×h region of img as BT.601 luma.
func luminance(img *image.NRGBA, w, h int) []float64 {
	lum := make([]float64, w*h)
	for y := 0; y < h; y++ {
		off := y * img.Stride
		for x := 0; x < w; x++ {
			i := off + x*4
			lum[y*w+x] = 0.299*float64(img.Pix[i]) + 0.587*float64(img.Pix[i+1]) + 0.114*float64(img.Pix[i+2])
		}
	}
	return lum
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
