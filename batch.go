package imgcrush

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sync/errgroup"

	"github.com/shamspias/imgcrush/internal/compute"
)

// MinFreeSpace is the free space the output directory must offer before a
// batch starts.
const MinFreeSpace = 100 << 20

// parallelThreshold is the largest batch that always runs sequentially.
const parallelThreshold = 4

// Observer receives progress from Run. Callbacks are serialised and must
// return quickly; they run while the result accumulator is held.
type Observer interface {
	OnStart(total int, accelerator string)
	OnResult(r FileResult, done, total int)
	OnError(e FileError, done, total int)
}

type nopObserver struct{}

func (nopObserver) OnStart(int, string)           {}
func (nopObserver) OnResult(FileResult, int, int) {}
func (nopObserver) OnError(FileError, int, int)   {}

// Run optimises opts.InputPath, a file or a directory, and returns every
// per-file outcome in the Report. Only an unusable input path or a failed
// disk pre-flight are returned as errors; per-file failures land in
// Report.Errors. If ctx is cancelled, Run stops starting new files and
// returns the partial report together with ctx.Err().
//
// Batches of more than four files run in parallel (except dry runs), so
// their Results and Errors are in completion order. Smaller batches keep
// input order.
func Run(ctx context.Context, opts ProcessingOptions, options ...Option) (*Report, error) {
	start := time.Now()
	s := newSettings(options)

	opts.InputPath = expandHome(opts.InputPath)
	opts.OutputDir = expandHome(opts.OutputDir)

	files, err := inputFiles(opts.InputPath, opts.Recursive)
	if err != nil {
		return nil, err
	}
	report := &Report{}
	if len(files) == 0 {
		s.observer.OnStart(0, "")
		report.Elapsed = time.Since(start)
		return report, nil
	}

	if opts.OutputDir != "" {
		if err := checkDiskSpace(ctx, s, opts.OutputDir); err != nil {
			return nil, err
		}
	}

	device := s.device
	if !s.deviceSet {
		dev, err := compute.Probe(ctx, compute.ProbeOptions{Logger: s.logger})
		if err != nil {
			s.logger.Debug("resize on cpu", "reason", err)
		}
		device = dev
	}
	p := newPipeline(opts, s, NewResizer(device, s.logger))

	acc := &accumulator{report: report, total: len(files), observer: s.observer}
	s.observer.OnStart(len(files), p.Accelerator())

	if len(files) > parallelThreshold && !opts.DryRun {
		workers := s.workers
		if workers <= 0 {
			workers = runtime.NumCPU()
		}
		runParallel(ctx, p, files, workers, acc)
	} else {
		runSequential(ctx, p, files, acc)
	}

	report.Elapsed = time.Since(start)
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func runSequential(ctx context.Context, p *Pipeline, files []string, acc *accumulator) {
	for _, f := range files {
		if ctx.Err() != nil {
			return
		}
		processOne(ctx, p, f, acc)
	}
}

func runParallel(ctx context.Context, p *Pipeline, files []string, workers int, acc *accumulator) {
	var g errgroup.Group
	g.SetLimit(workers)
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			processOne(ctx, p, f, acc)
			return nil
		})
	}
	g.Wait()
}

// processOne records exactly one outcome for f, unless f was abandoned
// because ctx was cancelled.
func processOne(ctx context.Context, p *Pipeline, f string, acc *accumulator) {
	res, err := p.Process(ctx, f)
	switch {
	case err == nil:
		acc.addResult(res)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		p.s.logger.Debug("file abandoned", "file", f, "error", err)
	default:
		p.s.logger.Debug("file failed", "file", f, "error", err)
		acc.addError(FileError{File: f, Message: err.Error()})
	}
}

// accumulator is the only mutable state shared by batch workers.
type accumulator struct {
	mu       sync.Mutex
	report   *Report
	done     int
	total    int
	observer Observer
}

func (a *accumulator) addResult(r FileResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.report.Results = append(a.report.Results, r)
	a.done++
	a.observer.OnResult(r, a.done, a.total)
}

func (a *accumulator) addError(e FileError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.report.Errors = append(a.report.Errors, e)
	a.done++
	a.observer.OnError(e, a.done, a.total)
}

// inputFiles resolves the top-level input into the list of files to process.
func inputFiles(path string, recursive bool) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, &Error{Kind: KindPermissionDenied, Msg: "imgcrush: cannot access " + path, Err: err}
		}
		return nil, &Error{Kind: KindInvalidInput, Msg: "imgcrush: path not found: " + path, Err: err}
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	return CollectFiles(path, recursive)
}

// CollectFiles lists the supported image files in dir, descending into
// subdirectories when recursive is set. Symbolic links are skipped and the
// result is sorted.
func CollectFiles(dir string, recursive bool) ([]string, error) {
	var files []string
	keep := func(path string, d fs.DirEntry) {
		if d.Type().IsRegular() && IsSupportedExtension(d.Name()) {
			files = append(files, path)
		}
	}

	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, &Error{Kind: KindPermissionDenied, Msg: "imgcrush: cannot read directory: " + dir, Err: err}
		}
		for _, e := range entries {
			keep(filepath.Join(dir, e.Name()), e)
		}
	} else {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == dir {
					return err
				}
				// Unreadable subdirectory: skip it, keep the rest.
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			keep(path, d)
			return nil
		})
		if err != nil {
			return nil, &Error{Kind: KindPermissionDenied, Msg: "imgcrush: cannot read directory: " + dir, Err: err}
		}
	}

	sort.Strings(files)
	return files, nil
}

// checkDiskSpace fails with DiskFull when the filesystem that will hold dir
// has less than MinFreeSpace available. dir need not exist yet; its nearest
// existing ancestor is measured. A failing query skips the check.
func checkDiskSpace(ctx context.Context, s *settings, dir string) error {
	probe := dir
	for {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}

	free, err := s.diskFree(ctx, probe)
	if err != nil {
		s.logger.Debug("disk space check skipped", "path", probe, "error", err)
		return nil
	}
	if free < MinFreeSpace {
		return DiskFull("imgcrush: less than 100MB disk space available at %s", dir)
	}
	return nil
}

func freeDiskSpace(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
