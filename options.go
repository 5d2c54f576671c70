package imgcrush

import (
	"context"
	"log/slog"

	"github.com/shamspias/imgcrush/internal/compute"
)

// Option customises a Pipeline or a Run.
type Option func(*settings)

type settings struct {
	logger    *slog.Logger
	temps     *TempRegistry
	codecs    map[Format]Codec
	observer  Observer
	diskFree  DiskSpaceFunc
	device    compute.Device
	deviceSet bool
	workers   int
}

func newSettings(options []Option) *settings {
	s := &settings{
		codecs:   make(map[Format]Codec),
		diskFree: freeDiskSpace,
	}
	for _, o := range options {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.temps == nil {
		s.temps = NewTempRegistry()
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	return s
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithTempRegistry shares a registry with the caller, typically so an
// interrupt handler can remove in-progress outputs.
func WithTempRegistry(r *TempRegistry) Option {
	return func(s *settings) { s.temps = r }
}

// WithCodec overrides the registered codec for f in this pipeline only.
func WithCodec(f Format, c Codec) Option {
	return func(s *settings) { s.codecs[f] = c }
}

// WithObserver receives progress callbacks from Run.
func WithObserver(o Observer) Option {
	return func(s *settings) { s.observer = o }
}

// DiskSpaceFunc reports the free bytes on the filesystem holding path.
type DiskSpaceFunc func(ctx context.Context, path string) (uint64, error)

// WithDiskSpace replaces the free-space query used by the pre-flight check.
func WithDiskSpace(fn DiskSpaceFunc) Option {
	return func(s *settings) { s.diskFree = fn }
}

// WithDevice skips the capability probe and resizes on d. A nil d forces
// the CPU path.
func WithDevice(d compute.Device) Option {
	return func(s *settings) {
		s.device = d
		s.deviceSet = true
	}
}

// WithWorkers bounds parallel batch jobs. The default is runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(s *settings) { s.workers = n }
}
