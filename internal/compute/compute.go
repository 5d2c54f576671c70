// Package compute negotiates the accelerated execution path used by the
// resize backend. A Device runs a Kernel once per grid cell, in 2-D thread
// groups sized from the device's reported limits.
package compute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// DisableEnv forces Probe to report no device when set to a true value.
const DisableEnv = "IMGCRUSH_NO_GPU"

// MaxGroupSide caps each thread-group dimension.
const MaxGroupSide = 16

// ErrUnavailable is returned by Probe when no usable device exists.
var ErrUnavailable = errors.New("compute: no accelerator available")

// Size is a 2-D extent in cells.
type Size struct {
	W, H int
}

// Area returns W*H.
func (s Size) Area() int { return s.W * s.H }

// Limits are the thread-group constraints reported for a compiled kernel.
type Limits struct {
	// MaxThreadsPerGroup bounds W*H of one thread group.
	MaxThreadsPerGroup int
	// ExecutionWidth is the preferred group width.
	ExecutionWidth int
}

// Kernel is invoked once per grid cell. It must only write state owned by
// the cell at (x, y).
type Kernel func(x, y int)

// Device is an execution target for kernels.
type Device interface {
	// Name identifies the device in logs and the run header.
	Name() string
	// Limits reports the thread-group constraints.
	Limits() Limits
	// Ready re-queries device state. It is called before each job so a
	// transient fault fails one file rather than the run.
	Ready(ctx context.Context) error
	// Dispatch runs k over grid in groups of size group and blocks until
	// every group completes. A fault in any group fails the whole dispatch.
	Dispatch(ctx context.Context, grid, group Size, k Kernel) error
}

// GroupSize derives the thread-group size from l: the execution width capped
// at MaxGroupSide, and as many rows as fit MaxThreadsPerGroup, also capped.
func GroupSize(l Limits) Size {
	w := min(MaxGroupSide, l.ExecutionWidth)
	if w < 1 {
		w = 1
	}
	h := min(MaxGroupSide, l.MaxThreadsPerGroup/w)
	if h < 1 {
		h = 1
	}
	return Size{W: w, H: h}
}

// Groups returns how many groups of size group tile grid.
func Groups(grid, group Size) Size {
	return Size{
		W: (grid.W + group.W - 1) / group.W,
		H: (grid.H + group.H - 1) / group.H,
	}
}

// ProbeOptions tunes Probe.
type ProbeOptions struct {
	// Disabled skips the probe entirely.
	Disabled bool
	// Workers bounds concurrent groups on the host device. 0 uses GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
}

// Probe runs the one-per-run capability check: it opens the host device and
// verifies that a trivial kernel dispatches and produces the expected grid.
// It returns ErrUnavailable (wrapped) when the accelerated path must not be
// used.
func Probe(ctx context.Context, opts ProbeOptions) (Device, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Disabled || envTrue(os.Getenv(DisableEnv)) {
		logger.Debug("compute probe skipped", "reason", "disabled")
		return nil, fmt.Errorf("%w: disabled", ErrUnavailable)
	}

	dev := NewHost(opts.Workers)
	if err := selfTest(ctx, dev); err != nil {
		logger.Debug("compute probe failed", "device", dev.Name(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	logger.Debug("compute probe ok", "device", dev.Name(), "group", GroupSize(dev.Limits()))
	return dev, nil
}

// selfTest dispatches a small grid that is not a multiple of the group size
// and checks every cell ran exactly once.
func selfTest(ctx context.Context, dev Device) error {
	if err := dev.Ready(ctx); err != nil {
		return err
	}
	grid := Size{W: MaxGroupSide + 3, H: 5}
	hits := make([]int, grid.Area())
	k := func(x, y int) { hits[y*grid.W+x]++ }
	if err := dev.Dispatch(ctx, grid, GroupSize(dev.Limits()), k); err != nil {
		return err
	}
	for i, n := range hits {
		if n != 1 {
			return fmt.Errorf("cell %d ran %d times", i, n)
		}
	}
	return nil
}

func envTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
