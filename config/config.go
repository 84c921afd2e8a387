// Package config loads the memalloc settings from .env files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/sarchlab/memalloc/mem/mem"
	"github.com/sarchlab/memalloc/mem/vm/memalloc"
	"github.com/sarchlab/memalloc/mem/vm/pagetable"
)

// Environment variables read by Load.
const (
	EnvMaxPages       = "MEMALLOC_MAX_PAGES"
	EnvMaxAllocations = "MEMALLOC_MAX_ALLOCATIONS"
	EnvFormat         = "MEMALLOC_FORMAT"
	EnvPhysicalMemory = "MEMALLOC_PHYSICAL_MEMORY"
	EnvLogLevel       = "MEMALLOC_LOG_LEVEL"
	EnvMonitorPort    = "MEMALLOC_MONITOR_PORT"
	EnvRecord         = "MEMALLOC_RECORD"
)

// ErrInvalidValue is returned when a variable cannot be parsed.
var ErrInvalidValue = errors.New("invalid configuration value")

// Config holds the settings of a memalloc run.
type Config struct {
	MaxPages       int
	MaxAllocations int
	Format         string
	PhysicalMemory uint64
	LogLevel       slog.Level
	MonitorPort    int
	Record         string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		MaxPages:       memalloc.DefaultMaxPages,
		MaxAllocations: memalloc.DefaultMaxAllocations,
		Format:         pagetable.DefaultFormat().Name(),
		PhysicalMemory: 64 * mem.MB,
		LogLevel:       slog.LevelInfo,
	}
}

// Load reads the given .env files into the environment, then builds the
// configuration from the environment. Variables already set in the
// environment win over the files. Missing files are skipped.
func Load(files ...string) (Config, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}

	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return Config{}, fmt.Errorf("loading %s: %w",
				strings.Join(existing, ", "), err)
		}
	}

	return FromEnv(os.LookupEnv)
}

// FromEnv builds the configuration from a lookup function.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Default()

	var errs []error

	parseInt(lookup, EnvMaxPages, &c.MaxPages, &errs)
	parseInt(lookup, EnvMaxAllocations, &c.MaxAllocations, &errs)
	parseInt(lookup, EnvMonitorPort, &c.MonitorPort, &errs)

	if v, ok := lookup(EnvFormat); ok && v != "" {
		f, err := pagetable.FormatByName(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrInvalidValue, EnvFormat, err))
		} else {
			c.Format = f.Name()
		}
	}

	if v, ok := lookup(EnvPhysicalMemory); ok && v != "" {
		size, err := ParseSize(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrInvalidValue, EnvPhysicalMemory, err))
		} else {
			c.PhysicalMemory = size
		}
	}

	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		if err := c.LogLevel.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrInvalidValue, EnvLogLevel, err))
		}
	}

	if v, ok := lookup(EnvRecord); ok {
		c.Record = v
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	return c, c.Validate()
}

func parseInt(
	lookup func(string) (string, bool),
	key string,
	dst *int,
	errs *[]error,
) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, v))
		return
	}

	*dst = n
}

// Validate checks the ranges of the settings.
func (c Config) Validate() error {
	switch {
	case c.MaxPages < 0:
		return fmt.Errorf("%w: max pages %d", ErrInvalidValue, c.MaxPages)
	case c.MaxAllocations < 0:
		return fmt.Errorf("%w: max allocations %d", ErrInvalidValue, c.MaxAllocations)
	case c.PhysicalMemory < pagetable.PageSize:
		return fmt.Errorf("%w: physical memory %d", ErrInvalidValue, c.PhysicalMemory)
	case c.MonitorPort < 0 || c.MonitorPort > 65535:
		return fmt.Errorf("%w: monitor port %d", ErrInvalidValue, c.MonitorPort)
	}

	return nil
}

// EngineBuilder returns an engine builder set up with the configuration.
func (c Config) EngineBuilder() memalloc.Builder {
	f, err := pagetable.FormatByName(c.Format)
	if err != nil {
		panic(err)
	}

	return memalloc.MakeBuilder().
		WithMaxPages(c.MaxPages).
		WithMaxAllocations(c.MaxAllocations).
		WithPhysicalMemory(c.PhysicalMemory).
		WithFormat(f)
}

var sizeUnits = map[string]uint64{
	"":    1,
	"B":   1,
	"K":   mem.KB,
	"KB":  mem.KB,
	"KIB": mem.KB,
	"M":   mem.MB,
	"MB":  mem.MB,
	"MIB": mem.MB,
	"G":   mem.GB,
	"GB":  mem.GB,
	"GIB": mem.GB,
}

// ParseSize parses a byte count such as "4096", "64MB" or "1GiB". Units are
// powers of 1024.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)

	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}

	if i == 0 {
		return 0, fmt.Errorf("size %q has no number", s)
	}

	n, err := strconv.ParseUint(s[:i], 10, 64)
	if err != nil {
		return 0, err
	}

	unit, ok := sizeUnits[strings.ToUpper(strings.TrimSpace(s[i:]))]
	if !ok {
		return 0, fmt.Errorf("size %q has an unknown unit", s)
	}

	return n * unit, nil
}
