package ui

import (
	"encoding/json"
	"io"

	"github.com/shamspias/imgcrush"
)

// JSONFile is one entry of the "files" array.
type JSONFile struct {
	File          string  `json:"file"`
	OutputFile    string  `json:"output_file"`
	OriginalSize  int64   `json:"original_size"`
	OptimizedSize int64   `json:"optimized_size"`
	ReductionPct  float64 `json:"reduction_pct"`
	Format        string  `json:"format"`
	TimeMs        int64   `json:"time_ms"`
	DryRun        bool    `json:"dry_run"`
	Quality       int     `json:"quality,omitempty"`
}

// JSONError is one entry of the "errors" array.
type JSONError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// JSONReport is the machine-readable batch summary.
type JSONReport struct {
	TotalFiles          int         `json:"total_files"`
	TotalOriginalBytes  int64       `json:"total_original_bytes"`
	TotalOptimizedBytes int64       `json:"total_optimized_bytes"`
	TotalReductionPct   float64     `json:"total_reduction_pct"`
	TotalTimeMs         int64       `json:"total_time_ms"`
	Files               []JSONFile  `json:"files"`
	Errors              []JSONError `json:"errors"`
}

// NewJSONReport converts a Report. Slices are never nil so empty batches
// encode as [].
func NewJSONReport(r *imgcrush.Report) JSONReport {
	out := JSONReport{
		TotalFiles:          len(r.Results),
		TotalOriginalBytes:  r.TotalOriginal(),
		TotalOptimizedBytes: r.TotalOptimized(),
		TotalReductionPct:   r.ReductionPct(),
		TotalTimeMs:         r.Elapsed.Milliseconds(),
		Files:               make([]JSONFile, 0, len(r.Results)),
		Errors:              make([]JSONError, 0, len(r.Errors)),
	}
	for _, f := range r.Results {
		out.Files = append(out.Files, JSONFile{
			File:          f.File,
			OutputFile:    f.OutputFile,
			OriginalSize:  f.OriginalSize,
			OptimizedSize: f.OptimizedSize,
			ReductionPct:  f.ReductionPct(),
			Format:        f.Format.String(),
			TimeMs:        f.Elapsed.Milliseconds(),
			DryRun:        f.DryRun,
			Quality:       f.Quality,
		})
	}
	for _, e := range r.Errors {
		out.Errors = append(out.Errors, JSONError{File: e.File, Error: e.Message})
	}
	return out
}

// WriteJSON writes r as a single JSON object followed by a newline.
func WriteJSON(w io.Writer, r *imgcrush.Report) error {
	return json.NewEncoder(w).Encode(NewJSONReport(r))
}

// WriteJSONError writes a fatal error as {"error": ..., "exit_code": ...}.
func WriteJSONError(w io.Writer, err error) error {
	e := imgcrush.AsError(err)
	return json.NewEncoder(w).Encode(struct {
		Error    string `json:"error"`
		ExitCode int    `json:"exit_code"`
	}{e.Error(), e.ExitCode()})
}
