package imgcrush

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Pipeline processes one file at a time:
// validate → classify → (dry run) | load → resize → quality → encode → write.
// A Pipeline is safe for concurrent use.
type Pipeline struct {
	opts    ProcessingOptions
	resizer *Resizer
	s       *settings
}

// NewPipeline builds a Pipeline. Unless WithDevice is given, resizing uses
// the CPU; Run probes for an accelerator once and passes it in.
func NewPipeline(opts ProcessingOptions, options ...Option) *Pipeline {
	s := newSettings(options)
	return newPipeline(opts, s, NewResizer(s.device, s.logger))
}

func newPipeline(opts ProcessingOptions, s *settings, r *Resizer) *Pipeline {
	return &Pipeline{opts: opts, resizer: r, s: s}
}

// Accelerator names the resize backend.
func (p *Pipeline) Accelerator() string { return p.resizer.Accelerator() }

func (p *Pipeline) codec(f Format) (Codec, error) {
	if c, ok := p.s.codecs[f]; ok {
		return c, nil
	}
	return CodecFor(f)
}

// ResolveOutputPath returns <dir>/<input base name>.<format extension>, where
// dir is outputDir when set and the input's own directory otherwise.
func ResolveOutputPath(input, outputDir string, f Format) string {
	base := filepath.Base(input)
	name := strings.TrimSuffix(base, filepath.Ext(base)) + "." + f.Extension()
	if outputDir != "" {
		return filepath.Join(outputDir, name)
	}
	return filepath.Join(filepath.Dir(input), name)
}

// Process runs the pipeline for path and returns its result, or a typed
// *Error. Context cancellation is checked between steps and returned as is.
func (p *Pipeline) Process(ctx context.Context, path string) (FileResult, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return FileResult{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return FileResult{}, openError(path, err)
	}
	if !info.Mode().IsRegular() {
		return FileResult{}, InvalidInput("imgcrush: not a regular file: %s", path)
	}

	detected, err := Detect(path)
	if err != nil {
		return FileResult{}, err
	}
	if detected == Unknown {
		return FileResult{}, InvalidInput("imgcrush: unsupported image format: %s", path)
	}

	outFormat := p.opts.OutputFormat
	if outFormat == Unknown {
		outFormat = detected
	}
	outPath := ResolveOutputPath(path, p.opts.OutputDir, outFormat)

	res := FileResult{
		File:         path,
		OutputFile:   outPath,
		OriginalSize: info.Size(),
		Format:       outFormat,
	}

	if p.opts.DryRun {
		res.OptimizedSize = info.Size()
		res.DryRun = true
		res.Elapsed = time.Since(start)
		return res, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return FileResult{}, openError(path, err)
	}
	img, err := p.load(data, detected, outFormat)
	if err != nil {
		return FileResult{}, General(err, "imgcrush: cannot decode %s", path)
	}

	if p.opts.Resize != nil {
		if err := ctx.Err(); err != nil {
			return FileResult{}, err
		}
		if img, err = p.resizer.Resize(ctx, img, *p.opts.Resize); err != nil {
			return FileResult{}, err
		}
	}

	codec, err := p.codec(outFormat)
	if err != nil {
		return FileResult{}, err
	}
	quality := LosslessQuality
	if codec.Lossy() {
		quality = normalizeQuality(p.opts.Quality)
		if p.opts.SmartQuality {
			if quality, err = FindOptimalQuality(ctx, img, codec, p.opts.threshold(), DefaultQualityRange); err != nil {
				return FileResult{}, err
			}
			p.s.logger.Debug("smart quality", "file", path, "format", outFormat, "quality", quality)
		}
	}

	if err := ctx.Err(); err != nil {
		return FileResult{}, err
	}
	encoded, err := encodeBytes(codec, img, quality, !p.opts.KeepMetadata)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return FileResult{}, e
		}
		return FileResult{}, General(err, "imgcrush: cannot encode %s as %s", path, outFormat)
	}
	if p.opts.KeepMetadata && detected == JPEG && outFormat == JPEG {
		encoded = spliceEXIF(encoded, exifSegment(data))
	}

	if err := p.write(outPath, encoded); err != nil {
		return FileResult{}, err
	}

	out, err := os.Stat(outPath)
	if err != nil {
		return FileResult{}, DiskFull("imgcrush: cannot stat written file %s", outPath)
	}
	res.OptimizedSize = out.Size()
	res.Quality = quality
	res.Elapsed = time.Since(start)
	return res, nil
}

// load decodes data with the codec for f. A JPEG is rotated upright unless
// its EXIF segment is carried over into a JPEG output.
func (p *Pipeline) load(data []byte, f, out Format) (*image.NRGBA, error) {
	codec, err := p.codec(f)
	if err != nil {
		return nil, err
	}
	decoded, err := codec.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	img := toNRGBA(decoded)
	if f == JPEG && !(p.opts.KeepMetadata && out == JPEG) {
		img = ApplyOrientation(img, ReadOrientation(data))
	}
	return img, nil
}

// write stores data at dst through a registered temp file in the same
// directory, renamed into place once complete.
func (p *Pipeline) write(dst string, data []byte) (err error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &Error{Kind: KindPermissionDenied, Msg: "imgcrush: cannot create output directory: " + dir, Err: err}
	}

	tmp := filepath.Join(dir, "."+filepath.Base(dst)+"."+uuid.NewString()+".tmp")
	p.s.temps.Register(tmp)
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
		p.s.temps.Unregister(tmp)
	}()

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return &Error{Kind: KindPermissionDenied, Msg: "imgcrush: output directory is not writable: " + dir, Err: err}
		}
		return &Error{Kind: KindDiskFull, Msg: "imgcrush: failed to write " + dst + " (disk full?)", Err: err}
	}
	if _, err = f.Write(data); err != nil {
		f.Close()
		return &Error{Kind: KindDiskFull, Msg: "imgcrush: failed to write " + dst + " (disk full?)", Err: err}
	}
	if err = f.Close(); err != nil {
		return &Error{Kind: KindDiskFull, Msg: "imgcrush: failed to write " + dst + " (disk full?)", Err: err}
	}
	if err = os.Rename(tmp, dst); err != nil {
		return &Error{Kind: KindDiskFull, Msg: "imgcrush: failed to move output into place: " + dst, Err: err}
	}
	return nil
}
