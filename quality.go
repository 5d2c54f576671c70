package imgcrush

import (
	"bytes"
	"context"
	"image"
)

// QualityRange bounds the adaptive search, inclusive.
type QualityRange struct {
	Min, Max int
}

// DefaultQualityRange is the range searched when none is given.
var DefaultQualityRange = QualityRange{Min: DefaultMinQuality, Max: DefaultMaxQuality}

func (r QualityRange) normalized() QualityRange {
	if r.Min < MinQuality {
		r.Min = MinQuality
	}
	if r.Max > MaxQuality || r.Max == 0 {
		r.Max = MaxQuality
	}
	if r.Min > r.Max {
		r.Min = r.Max
	}
	return r
}

// FindOptimalQuality binary-searches codec's quality parameter for the lowest
// value whose round trip still scores at least threshold against img.
//
// Lossless codecs return LosslessQuality without encoding anything. When no
// candidate clears the threshold the range maximum is returned. Encode or
// decode failures score 0 and push the search upwards. The search assumes
// similarity grows with quality; for encoders where it does not, the result
// may be higher than necessary.
//
// ctx is checked before every candidate; on cancellation the search stops
// and returns ctx.Err().
func FindOptimalQuality(ctx context.Context, img image.Image, codec Codec, threshold float64, r QualityRange) (int, error) {
	if !codec.Lossy() {
		return LosslessQuality, nil
	}
	r = r.normalized()
	ref := toNRGBARef(img)

	lo, hi := r.Min, r.Max
	best := r.Max
	for lo <= hi {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		mid := (lo + hi) / 2
		if roundTripScore(ref, codec, mid) >= threshold {
			best = mid
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	return best, nil
}

// roundTripScore encodes ref at quality q, decodes it back and compares.
func roundTripScore(ref *image.NRGBA, codec Codec, q int) float64 {
	data, err := encodeBytes(codec, ref, q, true)
	if err != nil {
		return 0
	}
	decoded, err := codec.Decode(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	return Similarity(ref, decoded)
}
