package imgcrush

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOutputPath(t *testing.T) {
	assert.Equal(t, "/out/photo.webp", ResolveOutputPath("/dir/photo.png", "/out", WebP))
	assert.Equal(t, "/dir/photo.jpg", ResolveOutputPath("/dir/photo.png", "", JPEG))
	assert.Equal(t, "/dir/archive.tar.png", ResolveOutputPath("/dir/archive.tar.gz", "", PNG))
	assert.Equal(t, "out/noext.heic", ResolveOutputPath("in/noext", "out", HEIC))
	// Only the basename is kept, so same-named files in different
	// directories share one output path.
	assert.Equal(t, ResolveOutputPath("/in/a/x.png", "/out", PNG), ResolveOutputPath("/in/b/x.png", "/out", PNG))
}

func TestPipelineDryRun(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "photo.png")
	writePNG(t, in, makeTestImage(32, 32))
	outDir := filepath.Join(dir, "out")

	res, err := NewPipeline(ProcessingOptions{DryRun: true, OutputDir: outDir, OutputFormat: JPEG}).Process(ctx(), in)
	require.NoError(t, err)

	info, _ := os.Stat(in)
	assert.True(t, res.DryRun)
	assert.Equal(t, info.Size(), res.OriginalSize)
	assert.Equal(t, res.OriginalSize, res.OptimizedSize)
	assert.Equal(t, filepath.Join(outDir, "photo.jpg"), res.OutputFile)
	assert.Equal(t, JPEG, res.Format)
	assert.Zero(t, res.Quality)

	_, err = os.Stat(res.OutputFile)
	assert.True(t, errors.Is(err, os.ErrNotExist), "dry run must not write")
	_, err = os.Stat(outDir)
	assert.True(t, errors.Is(err, os.ErrNotExist), "dry run must not create the output directory")
}

func TestPipelinePNGToPNG(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "icon.png")
	writePNG(t, in, makeTestImage(24, 24))
	outDir := filepath.Join(dir, "nested", "out")

	temps := NewTempRegistry()
	res, err := NewPipeline(ProcessingOptions{OutputDir: outDir}, WithTempRegistry(temps)).Process(ctx(), in)
	require.NoError(t, err)

	assert.Equal(t, PNG, res.Format)
	assert.Equal(t, 100, res.Quality)
	assert.False(t, res.DryRun)
	info, err := os.Stat(res.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), res.OptimizedSize)
	assert.Empty(t, temps.Paths(), "registry drained after a successful write")

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the final output remains")
	assert.Equal(t, "icon.png", entries[0].Name())
}

func TestPipelineConvertAndResize(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "wide.png")
	writePNG(t, in, makeTestImage(80, 40))

	opts := ProcessingOptions{OutputFormat: JPEG, Quality: 70, Resize: &ResizeSpec{Width: 20, Height: 30}}
	res, err := NewPipeline(opts).Process(ctx(), in)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "wide.jpg"), res.OutputFile)
	assert.Equal(t, 70, res.Quality)

	data, err := os.ReadFile(res.OutputFile)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())
	assert.Equal(t, 30, img.Bounds().Dy())
}

func TestPipelineDefaultJPEGQuality(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "a.jpg")
	writeFile(t, in, encodeJPEG(t, makeTestImage(16, 16)))

	res, err := NewPipeline(ProcessingOptions{OutputDir: filepath.Join(dir, "o")}).Process(ctx(), in)
	require.NoError(t, err)
	assert.Equal(t, DefaultQuality, res.Quality)
}

func TestPipelineSmartQuality(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "p.png")
	writePNG(t, in, makeTestImage(48, 48))

	codec := &countingCodec{Codec: jpegCodec{}, lossy: true}
	opts := ProcessingOptions{OutputFormat: JPEG, SmartQuality: true, Quality: 99}
	res, err := NewPipeline(opts, WithCodec(JPEG, codec)).Process(ctx(), in)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Quality, DefaultMinQuality)
	assert.LessOrEqual(t, res.Quality, DefaultMaxQuality)
	assert.Greater(t, codec.encodes, 1, "search ran before the final encode")
}

func TestPipelineSmartQualitySkipsLossless(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "p.png")
	writePNG(t, in, makeTestImage(16, 16))

	codec := &countingCodec{Codec: pngCodec{}, lossy: false}
	res, err := NewPipeline(ProcessingOptions{SmartQuality: true, OutputDir: filepath.Join(dir, "o")}, WithCodec(PNG, codec)).Process(ctx(), in)
	require.NoError(t, err)
	assert.Equal(t, 100, res.Quality)
	assert.Equal(t, 1, codec.encodes)
}

func TestPipelineUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "notes.txt")
	writeFile(t, in, []byte("hello"))

	_, err := NewPipeline(ProcessingOptions{}).Process(ctx(), in)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "unsupported image format")
}

func TestPipelineMissingFile(t *testing.T) {
	_, err := NewPipeline(ProcessingOptions{}).Process(ctx(), filepath.Join(t.TempDir(), "gone.png"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPipelineCorruptImage(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "broken.png")
	writeFile(t, in, append([]byte{0x89, 'P', 'N', 'G'}, []byte("garbage")...))

	_, err := NewPipeline(ProcessingOptions{}).Process(ctx(), in)
	assert.ErrorIs(t, err, ErrGeneral)
}

func TestPipelineMissingEncoderLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "p.png")
	writePNG(t, in, makeTestImage(16, 16))
	outDir := filepath.Join(dir, "out")

	_, err := NewPipeline(ProcessingOptions{OutputFormat: WebP, OutputDir: outDir}).Process(ctx(), in)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGeneral)
	assert.Contains(t, err.Error(), "no webp encoder")

	entries, _ := os.ReadDir(outDir)
	assert.Empty(t, entries)
}

func TestPipelineOutputDirNotCreatable(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "p.png")
	writePNG(t, in, makeTestImage(8, 8))
	blocker := filepath.Join(dir, "file")
	writeFile(t, blocker, []byte("x"))

	_, err := NewPipeline(ProcessingOptions{OutputDir: filepath.Join(blocker, "sub")}).Process(ctx(), in)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, 3, ExitCode(err))
}

func TestPipelineCancelled(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "p.png")
	writePNG(t, in, makeTestImage(8, 8))

	c, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPipeline(ProcessingOptions{}).Process(c, in)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPipelineKeepMetadata(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "cam.jpg")
	seg := exifWithOrientation(OrientRotate90CW)
	writeFile(t, in, spliceEXIF(encodeJPEG(t, makeTestImage(40, 20)), seg))

	res, err := NewPipeline(ProcessingOptions{KeepMetadata: true, OutputDir: filepath.Join(dir, "keep")}).Process(ctx(), in)
	require.NoError(t, err)
	out, err := os.ReadFile(res.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, seg, exifSegment(out), "EXIF copied verbatim")
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width, "pixels untouched when the orientation tag is kept")
}

func TestPipelineStripMetadataAutoOrients(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "cam.jpg")
	writeFile(t, in, spliceEXIF(encodeJPEG(t, makeTestImage(40, 20)), exifWithOrientation(OrientRotate90CW)))

	res, err := NewPipeline(ProcessingOptions{OutputDir: filepath.Join(dir, "strip")}).Process(ctx(), in)
	require.NoError(t, err)
	out, err := os.ReadFile(res.OutputFile)
	require.NoError(t, err)
	assert.Nil(t, exifSegment(out))
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Width)
	assert.Equal(t, 40, cfg.Height)
}

func TestPipelineKeepMetadataAcrossFormats(t *testing.T) {
	for _, tc := range []struct {
		name          string
		orient        Orientation
		width, height int
	}{
		{"normal", OrientNormal, 40, 20},
		{"rotated", OrientRotate90CW, 20, 40},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			in := filepath.Join(dir, "cam.jpg")
			writeFile(t, in, spliceEXIF(encodeJPEG(t, makeTestImage(40, 20)), exifWithOrientation(tc.orient)))

			res, err := NewPipeline(ProcessingOptions{KeepMetadata: true, OutputFormat: PNG}).Process(ctx(), in)
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(res.OutputFile, "cam.png"))
			data, err := os.ReadFile(res.OutputFile)
			require.NoError(t, err)
			img, err := png.Decode(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, tc.width, img.Bounds().Dx(), "PNG output carries no EXIF, so pixels are upright")
			assert.Equal(t, tc.height, img.Bounds().Dy())
		})
	}
}

func TestPipelineSmartQualityCancelled(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "a.png")
	writePNG(t, in, makeTestImage(32, 32))

	cctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &cancellingCodec{countingCodec: countingCodec{Codec: jpegCodec{}, lossy: true}, cancel: cancel}
	p := NewPipeline(ProcessingOptions{OutputFormat: JPEG, SmartQuality: true}, WithCodec(JPEG, c))

	_, err := p.Process(cctx, in)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, c.encodes)
	_, statErr := os.Stat(filepath.Join(dir, "a.jpg"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "nothing written")
}
