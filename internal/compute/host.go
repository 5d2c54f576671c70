package compute

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Host runs kernels on goroutines, one thread group per task, with at most
// Workers groups in flight.
type Host struct {
	workers int
}

// NewHost returns a host device. workers <= 0 uses GOMAXPROCS.
func NewHost(workers int) *Host {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Host{workers: workers}
}

func (h *Host) Name() string {
	return fmt.Sprintf("host-parallel (%d workers)", h.workers)
}

// Limits mirrors a typical 32-wide, 1024-thread compute device.
func (h *Host) Limits() Limits {
	return Limits{MaxThreadsPerGroup: 1024, ExecutionWidth: 32}
}

func (h *Host) Ready(ctx context.Context) error {
	return ctx.Err()
}

func (h *Host) Dispatch(ctx context.Context, grid, group Size, k Kernel) error {
	if grid.W <= 0 || grid.H <= 0 {
		return fmt.Errorf("compute: empty grid %dx%d", grid.W, grid.H)
	}
	if group.W <= 0 || group.H <= 0 || group.Area() > h.Limits().MaxThreadsPerGroup {
		return fmt.Errorf("compute: invalid group %dx%d", group.W, group.H)
	}

	groups := Groups(grid, group)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers)

	for gy := 0; gy < groups.H; gy++ {
		for gx := 0; gx < groups.W; gx++ {
			if gctx.Err() != nil {
				break
			}
			x0, y0 := gx*group.W, gy*group.H
			x1, y1 := min(x0+group.W, grid.W), min(y0+group.H, grid.H)
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("compute: kernel fault in group (%d,%d): %v", gx, gy, r)
					}
				}()
				if err := gctx.Err(); err != nil {
					return err
				}
				for y := y0; y < y1; y++ {
					for x := x0; x < x1; x++ {
						k(x, y)
					}
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
