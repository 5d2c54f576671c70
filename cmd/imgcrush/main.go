// Command imgcrush batch-optimizes images.
//
// Usage:
//
//	imgcrush [flags] <file-or-directory>
//	imgcrush watch [flags] <directory>
//	imgcrush version
//
// Examples:
//
//	imgcrush photo.png
//	imgcrush --format jpeg --quality 80 -o optimized ~/Pictures
//	imgcrush --smart-quality --resize 1920x1080 -r shots/
//	imgcrush --json --dry-run assets/
//	imgcrush watch -r --format webp uploads/
//
// Exit codes: 0 success, 1 general or disk-full error, 2 invalid input,
// 3 permission denied, 5 finished with per-file errors, 130 interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shamspias/imgcrush"
	"github.com/shamspias/imgcrush/internal/compute"
	"github.com/shamspias/imgcrush/internal/config"
	"github.com/shamspias/imgcrush/internal/telemetry"
	"github.com/shamspias/imgcrush/internal/ui"
	"github.com/shamspias/imgcrush/internal/watch"
)

const (
	exitPartial     = 5
	exitInterrupted = 130
)

// errPartial marks a batch that finished with per-file failures.
var errPartial = errors.New("completed with errors")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	// A second Ctrl+C during cleanup kills the process.
	go func() {
		<-ctx.Done()
		stop()
	}()
	code := newApp(os.Stdout, os.Stderr, ".").execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

type app struct {
	stdout  io.Writer
	stderr  io.Writer
	workDir string
	temps   *imgcrush.TempRegistry

	flags   config.Flags
	json    bool
	workers int
}

func newApp(stdout, stderr io.Writer, workDir string) *app {
	return &app{stdout: stdout, stderr: stderr, workDir: workDir, temps: imgcrush.NewTempRegistry()}
}

// execute runs the command line and returns the process exit code.
func (a *app) execute(ctx context.Context, args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	telemetry.Shutdown(shutdownCtx)
	cancel()

	return a.exitCode(err)
}

func (a *app) exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		ui.NewHuman(a.stderr, nil).Interrupted(a.temps.Cleanup())
		return exitInterrupted
	case errors.Is(err, errPartial):
		return exitPartial
	}

	var e *imgcrush.Error
	if !errors.As(err, &e) {
		// Anything cobra rejects is a usage problem.
		e = &imgcrush.Error{Kind: imgcrush.KindInvalidInput, Msg: err.Error()}
	}
	if a.json {
		_ = ui.WriteJSONError(a.stdout, e)
	} else {
		ui.WriteError(a.stderr, e)
	}
	return e.ExitCode()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "imgcrush [flags] <file-or-directory>",
		Short: "Batch image optimizer",
		Long: `imgcrush converts, resizes and recompresses images.

Settings are read from the nearest .imgcrushrc (JSON), a .env file and
IMGCRUSH_* environment variables; flags take precedence.`,
		Version:       imgcrush.Version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := telemetry.Init(cmd.Context(), "imgcrush", imgcrush.Version, a.stderr); err != nil {
				fmt.Fprintf(a.stderr, "warning: telemetry disabled: %v\n", err)
			}
			return a.checkFlags(cmd)
		},
		RunE: a.runOptimize,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.Format, "format", "", "output format ("+imgcrush.FormatList()+")")
	pf.IntVar(&a.flags.Quality, "quality", 0, "output quality (1-100)")
	pf.StringVar(&a.flags.Resize, "resize", "", "resize to exactly WxH (e.g. 800x600)")
	pf.StringVarP(&a.flags.Output, "output", "o", "", "output directory (default: next to each input)")
	pf.BoolVarP(&a.flags.Recursive, "recursive", "r", false, "process subdirectories recursively")
	pf.BoolVar(&a.flags.DryRun, "dry-run", false, "preview without writing files")
	pf.BoolVarP(&a.flags.Verbose, "verbose", "v", false, "show detailed processing information")
	pf.BoolVar(&a.flags.SmartQuality, "smart-quality", false, "search for the lowest quality that keeps SSIM above the threshold")
	pf.Float64Var(&a.flags.Threshold, "threshold", 0, "SSIM target for --smart-quality (default 0.95)")
	pf.BoolVar(&a.flags.KeepMetadata, "keep-metadata", false, "keep EXIF metadata (JPEG to JPEG)")

	root.Flags().BoolVar(&a.json, "json", false, "print results as JSON")
	root.Flags().IntVar(&a.workers, "workers", 0, "parallel jobs for large batches (default: number of CPUs)")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return imgcrush.InvalidInput("%v", err)
	})

	root.AddCommand(a.watchCmd(), a.versionCmd())
	return root
}

// checkFlags rejects explicit values that the zero-means-unset merge would
// otherwise ignore.
func (a *app) checkFlags(cmd *cobra.Command) error {
	if cmd.Flags().Changed("quality") && a.flags.Quality == 0 {
		return imgcrush.InvalidInput("quality must be between 1 and 100 (got 0)")
	}
	if cmd.Flags().Changed("workers") && a.workers < 1 {
		return imgcrush.InvalidInput("workers must be at least 1 (got %d)", a.workers)
	}
	return nil
}

// resolve merges config and flags for input and builds the logger.
func (a *app) resolve(input string) (imgcrush.ProcessingOptions, *slog.Logger, error) {
	project, err := config.Load(a.workDir)
	if err != nil {
		return imgcrush.ProcessingOptions{}, nil, &imgcrush.Error{Kind: imgcrush.KindInvalidInput, Msg: "imgcrush: invalid configuration", Err: err}
	}
	f := a.flags
	f.Input = input
	opts, err := project.Merge(f)
	if err != nil {
		return opts, nil, err
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
	if project.Path != "" {
		logger.Debug("loaded config", "path", project.Path)
	}
	return opts, logger, nil
}

func (a *app) runOptimize(cmd *cobra.Command, args []string) error {
	opts, logger, err := a.resolve(args[0])
	if err != nil {
		return err
	}
	ctx, end := telemetry.StartRun(cmd.Context(), opts)

	var observer imgcrush.Observer = ui.Quiet{}
	var human *ui.Human
	if !a.json {
		var progress io.Writer
		if ui.IsTerminal(a.stderr) {
			progress = a.stderr
		}
		human = ui.NewHuman(a.stdout, progress)
		observer = human
	}

	report, err := imgcrush.Run(ctx, opts,
		imgcrush.WithLogger(logger),
		imgcrush.WithTempRegistry(a.temps),
		imgcrush.WithObserver(telemetry.WrapObserver(ctx, observer)),
		imgcrush.WithWorkers(a.workers),
	)
	end(report, err)
	if err != nil {
		return err
	}

	if a.json {
		if err := ui.WriteJSON(a.stdout, report); err != nil {
			return imgcrush.General(err, "imgcrush: cannot write report")
		}
	} else if len(report.Results)+len(report.Errors) > 0 {
		human.Summary(report)
	}
	if len(report.Errors) > 0 {
		return errPartial
	}
	return nil
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [flags] <directory>",
		Short: "Optimize images as they are added or changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, logger, err := a.resolve(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			device, err := compute.Probe(ctx, compute.ProbeOptions{Logger: logger})
			if err != nil {
				logger.Debug("resize on cpu", "reason", err)
			}
			p := imgcrush.NewPipeline(opts,
				imgcrush.WithLogger(logger),
				imgcrush.WithTempRegistry(a.temps),
				imgcrush.WithDevice(device),
			)

			human := ui.NewHuman(a.stdout, nil)
			w, err := watch.New(opts, p,
				watch.WithObserver(telemetry.WrapObserver(ctx, human)),
				watch.WithLogger(logger),
			)
			if err != nil {
				return err
			}
			human.Watching(opts.InputPath)
			return w.Run(ctx)
		},
	}
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "imgcrush %s (%s, %s/%s)\n", imgcrush.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
