package imgcrush

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"sync"

	"golang.org/x/image/webp"
)

// Codec encodes and decodes one image format. Implementations must be safe
// for concurrent use.
type Codec interface {
	// Encode writes img at the given quality (ignored by lossless codecs).
	// strip asks the codec to omit metadata it would otherwise carry.
	Encode(w io.Writer, img image.Image, quality int, strip bool) error
	Decode(r io.Reader) (image.Image, error)
	// Lossy reports whether quality affects the output.
	Lossy() bool
}

var registry = struct {
	sync.RWMutex
	codecs map[Format]Codec
}{
	codecs: map[Format]Codec{
		PNG:  pngCodec{},
		JPEG: jpegCodec{},
		WebP: webpCodec{},
		AVIF: missingCodec{format: AVIF},
		HEIC: missingCodec{format: HEIC},
	},
}

// RegisterCodec installs c for format f, replacing any previous codec.
// Use it to plug in WebP, AVIF or HEIC encoders.
func RegisterCodec(f Format, c Codec) {
	registry.Lock()
	defer registry.Unlock()
	registry.codecs[f] = c
}

// CodecFor returns the registered codec for f.
func CodecFor(f Format) (Codec, error) {
	registry.RLock()
	defer registry.RUnlock()
	c, ok := registry.codecs[f]
	if !ok {
		return nil, InvalidInput("imgcrush: unsupported format %s", f)
	}
	return c, nil
}

// normalizeQuality maps 0 to the default and clamps into [1,100].
func normalizeQuality(q int) int {
	switch {
	case q == 0:
		return DefaultQuality
	case q < MinQuality:
		return MinQuality
	case q > MaxQuality:
		return MaxQuality
	}
	return q
}

type jpegCodec struct{}

func (jpegCodec) Lossy() bool { return true }

// Encode never writes metadata; EXIF is re-attached by the pipeline.
func (jpegCodec) Encode(w io.Writer, img image.Image, quality int, _ bool) error {
	opts := &jpeg.Options{Quality: normalizeQuality(quality)}
	src := toNRGBARef(img)
	if isOpaque(src) {
		// NRGBA and RGBA share a layout when alpha is 0xff.
		rgba := &image.RGBA{Pix: src.Pix, Stride: src.Stride, Rect: src.Rect}
		return jpeg.Encode(w, rgba, opts)
	}
	return jpeg.Encode(w, src, opts)
}

func (jpegCodec) Decode(r io.Reader) (image.Image, error) {
	return jpeg.Decode(r)
}

type pngCodec struct{}

func (pngCodec) Lossy() bool { return false }

func (pngCodec) Encode(w io.Writer, img image.Image, _ int, _ bool) error {
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	src := toNRGBARef(img)
	if isGrayscale(src) {
		return enc.Encode(w, toGray(src))
	}
	if p := palettize(src, 256); p != nil {
		return enc.Encode(w, p)
	}
	return enc.Encode(w, src)
}

func (pngCodec) Decode(r io.Reader) (image.Image, error) {
	return png.Decode(r)
}

// palettize returns an indexed copy of img when it uses at most maxColors
// distinct colours, or nil. Palette order is first-seen order so the output
// is deterministic.
func palettize(img *image.NRGBA, maxColors int) *image.Paletted {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	index := make(map[[4]uint8]uint8, maxColors)
	palette := make(color.Palette, 0, maxColors)
	pal := image.NewPaletted(image.Rect(0, 0, w, h), nil)

	for y := 0; y < h; y++ {
		so := y * img.Stride
		do := y * pal.Stride
		for x := 0; x < w; x++ {
			i := so + x*4
			key := [4]uint8{img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]}
			idx, ok := index[key]
			if !ok {
				if len(palette) == maxColors {
					return nil
				}
				idx = uint8(len(palette))
				index[key] = idx
				palette = append(palette, color.NRGBA{key[0], key[1], key[2], key[3]})
			}
			pal.Pix[do+x] = idx
		}
	}
	pal.Palette = palette
	return pal
}

// webpCodec decodes WebP. There is no pure-Go WebP encoder, so encoding fails
// until one is installed with RegisterCodec.
type webpCodec struct{}

func (webpCodec) Lossy() bool { return true }

func (webpCodec) Encode(io.Writer, image.Image, int, bool) error {
	return General(nil, "imgcrush: no webp encoder registered")
}

func (webpCodec) Decode(r io.Reader) (image.Image, error) {
	return webp.Decode(r)
}

// missingCodec stands in for formats with no built-in support.
type missingCodec struct{ format Format }

func (m missingCodec) Lossy() bool { return m.format.Lossy() }

func (m missingCodec) Encode(io.Writer, image.Image, int, bool) error {
	return General(nil, "imgcrush: no %s encoder registered", m.format)
}

func (m missingCodec) Decode(io.Reader) (image.Image, error) {
	return nil, General(nil, "imgcrush: no %s decoder registered", m.format)
}

// encodeBytes runs c.Encode into memory.
func encodeBytes(c Codec, img image.Image, quality int, strip bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf, img, quality, strip); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
