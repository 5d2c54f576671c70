package imgcrush

import (
	"os"
	"sort"
	"sync"
)

// TempRegistry tracks output files that are being written so an interrupted
// run can remove them. Paths are registered before the first byte is written
// and unregistered once the file is complete.
type TempRegistry struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

// NewTempRegistry returns an empty registry.
func NewTempRegistry() *TempRegistry {
	return &TempRegistry{paths: make(map[string]struct{})}
}

func (r *TempRegistry) Register(path string) {
	r.mu.Lock()
	r.paths[path] = struct{}{}
	r.mu.Unlock()
}

func (r *TempRegistry) Unregister(path string) {
	r.mu.Lock()
	delete(r.paths, path)
	r.mu.Unlock()
}

// Paths returns the registered paths in sorted order.
func (r *TempRegistry) Paths() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.paths))
	for p := range r.paths {
		out = append(out, p)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

// Cleanup removes every registered file, empties the registry and returns
// how many files were deleted. Files already gone are not counted.
func (r *TempRegistry) Cleanup() int {
	r.mu.Lock()
	paths := r.paths
	r.paths = make(map[string]struct{})
	r.mu.Unlock()

	n := 0
	for p := range paths {
		if os.Remove(p) == nil {
			n++
		}
	}
	return n
}
