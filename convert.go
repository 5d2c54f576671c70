package imgcrush

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// toNRGBA converts any image.Image to a zero-origin *image.NRGBA, always
// returning a new buffer the caller may mutate.
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			so := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+b.Dx()*4], src.Pix[so:so+b.Dx()*4])
		}
		return dst
	}
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// toNRGBARef is toNRGBA without the copy when img is already a zero-origin
// NRGBA. The caller must not modify the result.
func toNRGBARef(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	return toNRGBA(img)
}

// isOpaque reports whether every pixel has full alpha.
func isOpaque(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0xff {
			return false
		}
	}
	return true
}

// isGrayscale reports whether every pixel is opaque with R == G == B.
func isGrayscale(img *image.NRGBA) bool {
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i+3] != 0xff || img.Pix[i] != img.Pix[i+1] || img.Pix[i+1] != img.Pix[i+2] {
			return false
		}
	}
	return true
}

// toGray keeps one channel per pixel. Only valid after isGrayscale.
func toGray(img *image.NRGBA) *image.Gray {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	gray := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		so := y * img.Stride
		do := y * gray.Stride
		for x := 0; x < w; x++ {
			gray.Pix[do+x] = img.Pix[so+x*4]
		}
	}
	return gray
}

func humanBytes(b int64) string {
	if b < 1024 {
		return fmt.Sprintf("%d B", b)
	}
	units := []string{"KB", "MB", "GB", "TB"}
	f := float64(b) / 1024
	i := 0
	for f >= 1024 && i < len(units)-1 {
		f /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", f, units[i])
}

// remap copies every pixel of img to the position returned by fn.
// swap exchanges the output width and height (90/270 degree turns).
func remap(img *image.NRGBA, swap bool, fn func(x, y, w, h int) (int, int)) *image.NRGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	dw, dh := w, h
	if swap {
		dw, dh = h, w
	}
	dst := image.NewNRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := fn(x, y, w, h)
			so := y*img.Stride + x*4
			do := dy*dst.Stride + dx*4
			copy(dst.Pix[do:do+4], img.Pix[so:so+4])
		}
	}
	return dst
}

func rotate90(img *image.NRGBA) *image.NRGBA {
	return remap(img, true, func(x, y, _, h int) (int, int) { return h - 1 - y, x })
}

func rotate180(img *image.NRGBA) *image.NRGBA {
	return remap(img, false, func(x, y, w, h int) (int, int) { return w - 1 - x, h - 1 - y })
}

func rotate270(img *image.NRGBA) *image.NRGBA {
	return remap(img, true, func(x, y, w, _ int) (int, int) { return y, w - 1 - x })
}

func flipH(img *image.NRGBA) *image.NRGBA {
	return remap(img, false, func(x, y, w, _ int) (int, int) { return w - 1 - x, y })
}

func flipV(img *image.NRGBA) *image.NRGBA {
	return remap(img, false, func(x, y, _, h int) (int, int) { return x, h - 1 - y })
}
