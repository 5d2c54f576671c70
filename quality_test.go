package imgcrush

import (
	"context"
	"errors"
	"image"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findQuality(t *testing.T, img image.Image, c Codec, threshold float64, r QualityRange) int {
	t.Helper()
	q, err := FindOptimalQuality(ctx(), img, c, threshold, r)
	require.NoError(t, err)
	return q
}

func TestFindOptimalQualityLossless(t *testing.T) {
	c := &countingCodec{Codec: pngCodec{}, lossy: false}
	q := findQuality(t, makeTestImage(32, 32), c, DefaultThreshold, DefaultQualityRange)
	assert.Equal(t, 100, q)
	assert.Zero(t, c.encodes, "lossless search must not encode")
	assert.Zero(t, c.decodes, "lossless search must not decode")
}

func TestFindOptimalQualityWithinRange(t *testing.T) {
	img := makeTestImage(64, 64)
	for _, threshold := range []float64{0.5, 0.9, 0.95, 0.99, 0.999} {
		c := &countingCodec{Codec: jpegCodec{}, lossy: true}
		q := findQuality(t, img, c, threshold, DefaultQualityRange)
		if q < DefaultMinQuality || q > DefaultMaxQuality {
			t.Fatalf("threshold %.3f: quality %d outside [%d,%d]", threshold, q, DefaultMinQuality, DefaultMaxQuality)
		}
		// 66 candidates need at most 7 probes.
		if c.encodes > 7 || c.encodes != c.decodes {
			t.Fatalf("threshold %.3f: %d encodes / %d decodes", threshold, c.encodes, c.decodes)
		}
	}
}

func TestFindOptimalQualityBounds(t *testing.T) {
	img := makeTestImage(32, 32)

	always := findQuality(t, img, &countingCodec{Codec: jpegCodec{}, lossy: true}, 0, DefaultQualityRange)
	assert.Equal(t, DefaultMinQuality, always, "every quality qualifies → range minimum")

	never := findQuality(t, img, &countingCodec{Codec: jpegCodec{}, lossy: true}, 1.01, DefaultQualityRange)
	assert.Equal(t, DefaultMaxQuality, never, "nothing qualifies → range maximum")

	custom := findQuality(t, img, jpegCodec{}, 0, QualityRange{Min: 60, Max: 70})
	assert.Equal(t, 60, custom)
}

func TestFindOptimalQualityHigherThresholdNeedsMore(t *testing.T) {
	img := makeTestImage(96, 96)
	loose := findQuality(t, img, jpegCodec{}, 0.80, DefaultQualityRange)
	strict := findQuality(t, img, jpegCodec{}, 0.9999, DefaultQualityRange)
	assert.LessOrEqual(t, loose, strict)
}

type brokenCodec struct{}

func (brokenCodec) Lossy() bool                                    { return true }
func (brokenCodec) Encode(io.Writer, image.Image, int, bool) error { return errors.New("encoder crashed") }
func (brokenCodec) Decode(io.Reader) (image.Image, error)          { return nil, errors.New("unreachable") }

func TestFindOptimalQualityEncodeFailureNeverQualifies(t *testing.T) {
	q := findQuality(t, makeTestImage(16, 16), brokenCodec{}, 0.5, DefaultQualityRange)
	assert.Equal(t, DefaultMaxQuality, q)
}

func TestQualityRangeNormalized(t *testing.T) {
	assert.Equal(t, QualityRange{1, 100}, QualityRange{}.normalized())
	assert.Equal(t, QualityRange{50, 50}, QualityRange{80, 50}.normalized())
	assert.Equal(t, QualityRange{1, 100}, QualityRange{-3, 120}.normalized())
}

// cancellingCodec cancels its context on the first encode.
type cancellingCodec struct {
	countingCodec
	cancel context.CancelFunc
}

func (c *cancellingCodec) Encode(w io.Writer, img image.Image, q int, strip bool) error {
	c.cancel()
	return c.countingCodec.Encode(w, img, q, strip)
}

func TestFindOptimalQualityStopsWhenCancelled(t *testing.T) {
	cctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &cancellingCodec{countingCodec: countingCodec{Codec: jpegCodec{}, lossy: true}, cancel: cancel}

	_, err := FindOptimalQuality(cctx, makeTestImage(32, 32), c, DefaultThreshold, DefaultQualityRange)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, c.encodes, "no candidate after cancellation")
}
