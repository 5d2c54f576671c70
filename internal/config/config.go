// Package config resolves imgcrush settings from the project config file,
// a .env file, IMGCRUSH_* environment variables and command-line flags.
//
// Precedence, highest first: flags, environment, .imgcrushrc, defaults.
// Boolean switches are OR-ed: a flag can turn a switch on but never off.
//
// Example .imgcrushrc:
//
//	{
//	  "quality": 85,
//	  "format": "webp",
//	  "recursive": true,
//	  "output": "./optimized"
//	}
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/shamspias/imgcrush"
)

// FileName is the project config file searched for in the working directory
// and its parents.
const FileName = ".imgcrushrc"

// EnvPrefix prefixes every environment override, e.g. IMGCRUSH_QUALITY.
const EnvPrefix = "IMGCRUSH"

// Config keys.
const (
	KeyQuality      = "quality"
	KeyFormat       = "format"
	KeyResize       = "resize"
	KeyOutput       = "output"
	KeyRecursive    = "recursive"
	KeyVerbose      = "verbose"
	KeySmartQuality = "smart_quality"
	KeyKeepMetadata = "keep_metadata"
	KeyThreshold    = "threshold"
)

// Project holds the values found in the config file and environment.
// Zero values mean "not set".
type Project struct {
	// Path is the config file that was read, or empty.
	Path string

	Quality      int
	Format       string
	Resize       string
	Output       string
	Recursive    bool
	Verbose      bool
	SmartQuality bool
	KeepMetadata bool
	Threshold    float64
}

// Find returns the nearest FileName at or above dir.
func Find(dir string) (string, bool) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	for {
		p := filepath.Join(dir, FileName)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// Load reads dir/.env (if any) into the process environment, then the
// nearest .imgcrushrc, then IMGCRUSH_* overrides.
func Load(dir string) (*Project, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	p := &Project{}
	if path, ok := Find(dir); ok {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		p.Path = path
	}

	p.Quality = v.GetInt(KeyQuality)
	p.Format = strings.TrimSpace(v.GetString(KeyFormat))
	p.Resize = strings.TrimSpace(v.GetString(KeyResize))
	p.Output = strings.TrimSpace(v.GetString(KeyOutput))
	p.Recursive = v.GetBool(KeyRecursive)
	p.Verbose = v.GetBool(KeyVerbose)
	p.SmartQuality = v.GetBool(KeySmartQuality)
	p.KeepMetadata = v.GetBool(KeyKeepMetadata)
	p.Threshold = v.GetFloat64(KeyThreshold)
	return p, nil
}

// Flags are the command-line values. Zero values mean "not given".
type Flags struct {
	Input        string
	Format       string
	Quality      int
	Resize       string
	Output       string
	Threshold    float64
	Recursive    bool
	DryRun       bool
	Verbose      bool
	SmartQuality bool
	KeepMetadata bool
}

// Merge resolves flags over the project values into ProcessingOptions.
// Invalid values from either source are InvalidInput errors.
func (p *Project) Merge(f Flags) (imgcrush.ProcessingOptions, error) {
	if p == nil {
		p = &Project{}
	}
	opts := imgcrush.ProcessingOptions{
		InputPath:    f.Input,
		OutputDir:    pick(f.Output, p.Output),
		Recursive:    f.Recursive || p.Recursive,
		DryRun:       f.DryRun,
		Verbose:      f.Verbose || p.Verbose,
		SmartQuality: f.SmartQuality || p.SmartQuality,
		KeepMetadata: f.KeepMetadata || p.KeepMetadata,
	}

	if name := pick(f.Format, p.Format); name != "" {
		format, ok := imgcrush.ParseFormat(name)
		if !ok {
			return opts, imgcrush.InvalidInput("unsupported format '%s'. Use: %s", name, imgcrush.FormatList())
		}
		opts.OutputFormat = format
	}

	quality := f.Quality
	if quality == 0 {
		quality = p.Quality
	}
	if quality != 0 && (quality < imgcrush.MinQuality || quality > imgcrush.MaxQuality) {
		return opts, imgcrush.InvalidInput("quality must be between 1 and 100 (got %d)", quality)
	}
	opts.Quality = quality

	if spec := pick(f.Resize, p.Resize); spec != "" {
		rs, ok := imgcrush.ParseResizeSpec(spec)
		if !ok {
			return opts, imgcrush.InvalidInput("invalid resize format '%s'. Use: WxH (e.g. 800x600)", spec)
		}
		opts.Resize = &rs
	}

	threshold := f.Threshold
	if threshold == 0 {
		threshold = p.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return opts, imgcrush.InvalidInput("threshold must be between 0 and 1 (got %g)", threshold)
	}
	opts.Threshold = threshold

	return opts, nil
}

func pick(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}
