package ui

import (
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shamspias/imgcrush"
)

const barWidth = 30

// Human prints one line per file, an optional progress bar and a summary.
// It implements imgcrush.Observer.
type Human struct {
	mu       sync.Mutex
	out      io.Writer
	progress io.Writer
	st       styles
	pst      styles
}

// NewHuman writes results to out and the progress bar to progress. A nil
// progress writer disables the bar.
func NewHuman(out, progress io.Writer) *Human {
	h := &Human{out: out, progress: progress, st: newStyles(out)}
	if progress != nil {
		h.pst = newStyles(progress)
	}
	return h
}

func (h *Human) OnStart(total int, accelerator string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if total == 0 {
		fmt.Fprintln(h.out, "No image files found.")
		return
	}
	fmt.Fprintf(h.out, "%s Processing %d %s with %s...\n",
		h.st.accent.Render(IconStart), total, plural(total, "file"), h.st.bold.Render(accelerator))
}

func (h *Human) OnResult(r imgcrush.FileResult, done, total int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintln(h.out, h.resultLine(r))
	h.bar(done, total)
}

func (h *Human) OnError(e imgcrush.FileError, done, total int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintln(h.out, h.errorLine(e))
	h.bar(done, total)
}

func (h *Human) resultLine(r imgcrush.FileResult) string {
	name := filepath.Base(r.File)
	orig := FormatBytes(r.OriginalSize)
	if r.DryRun {
		return fmt.Sprintf("  %s %s %s %s", h.st.muted.Render(IconSkip), name, orig, h.st.muted.Render("(dry run)"))
	}
	pct := math.Round(r.ReductionPct())
	opt := FormatBytes(r.OptimizedSize)
	elapsed := h.st.muted.Render(fmt.Sprintf("%.2fs", r.Elapsed.Seconds()))
	if pct > 0 {
		return fmt.Sprintf("  %s %s %s → %s (%s) %s",
			h.st.pass.Render(IconPass), name, orig, h.st.pass.Render(opt),
			h.st.pass.Render(fmt.Sprintf("%.0f%% saved", pct)), elapsed)
	}
	return fmt.Sprintf("  %s %s %s → %s (%.0f%% saved) %s", IconSkip, name, orig, opt, pct, elapsed)
}

func (h *Human) errorLine(e imgcrush.FileError) string {
	return fmt.Sprintf("  %s %s — %s", h.st.fail.Render(IconFail), filepath.Base(e.File), h.st.fail.Render(e.Message))
}

// bar redraws the progress line in place; batches of one get none.
func (h *Human) bar(done, total int) {
	if h.progress == nil || total <= 1 {
		return
	}
	fmt.Fprint(h.progress, "  "+h.pst.muted.Render(ProgressBar(done, total))+"\r")
	if done == total {
		fmt.Fprintln(h.progress)
	}
}

// Summary prints the batch totals.
func (h *Human) Summary(r *imgcrush.Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	saved := r.TotalOriginal() - r.TotalOptimized()
	n := len(r.Results)
	fmt.Fprintln(h.out)
	fmt.Fprintf(h.out, "%s %s, %s saved (%.0f%%), %.1fs\n",
		h.st.pass.Render(IconPass),
		h.st.bold.Render(fmt.Sprintf("%d %s optimized", n, plural(n, "file"))),
		FormatBytes(saved), math.Round(r.ReductionPct()), r.Elapsed.Seconds())
	if len(r.Errors) > 0 {
		fmt.Fprintf(h.out, "%s %d %s failed\n", h.st.fail.Render(IconFail), len(r.Errors), plural(len(r.Errors), "file"))
	}
}

// Watching announces watch mode.
func (h *Human) Watching(dir string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.out, "%s Watching %s for changes...\n   Press Ctrl+C to stop\n\n", h.st.accent.Render(IconWatch), dir)
}

// Interrupted reports how many partial outputs were removed.
func (h *Human) Interrupted(removed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.out, "\n%s  Interrupted — cleaned up %d temp file(s)\n", h.st.warn.Render(IconWarn), removed)
}

// WriteError prints a fatal error for humans.
func WriteError(w io.Writer, err error) {
	st := newStyles(w)
	fmt.Fprintf(w, "%s %s\n", st.fail.Render("error:"), imgcrush.AsError(err).Error())
}

// ProgressBar renders "████░░░ 42% (3/7)".
func ProgressBar(done, total int) string {
	if total <= 0 {
		return ""
	}
	done = min(max(done, 0), total)
	filled := int(math.Round(float64(done) / float64(total) * barWidth))
	pct := int(math.Round(float64(done) / float64(total) * 100))
	return fmt.Sprintf("%s%s %d%% (%d/%d)",
		strings.Repeat("█", filled), strings.Repeat("░", barWidth-filled), pct, done, total)
}

// FormatBytes renders a byte count as B, KB or MB with one decimal. Negative
// counts keep their sign.
func FormatBytes(b int64) string {
	sign := ""
	if b < 0 {
		sign, b = "-", -b
	}
	switch {
	case b < 1024:
		return fmt.Sprintf("%s%dB", sign, b)
	case b < 1024*1024:
		return fmt.Sprintf("%s%.1fKB", sign, float64(b)/1024)
	default:
		return fmt.Sprintf("%s%.1fMB", sign, float64(b)/(1024*1024))
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// Quiet discards progress. JSON mode uses it so stdout carries only the
// final report.
type Quiet struct{}

func (Quiet) OnStart(int, string)                    {}
func (Quiet) OnResult(imgcrush.FileResult, int, int) {}
func (Quiet) OnError(imgcrush.FileError, int, int)   {}
