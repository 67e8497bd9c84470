package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/Halliburton-Landmark/gdp-sub000/internal/logging"
	"github.com/Halliburton-Landmark/gdp-sub000/internal/storage"
)

// =============================================================================
// CONFIG VALIDATION
// =============================================================================
//
// Validation runs once at startup and fails fast. Errors are accumulated so
// the operator sees every problem in one pass:
//
//   configuration validation failed:
//     1. data_dir: must not be empty
//     2. segment.max_open: must be >= 0, got -1
//
// =============================================================================

// ValidationError holds one or more configuration validation failures.
type ValidationError struct {
	Errors []string
}

// Error implements the error interface.
// Formats all validation errors as a numbered list for readability.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0])
	}

	var b strings.Builder
	b.WriteString("configuration validation failed:\n")
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err)
	}
	return b.String()
}

// minSegmentSize keeps rotation from producing a segment per record.
const minSegmentSize = 4096

// Validate checks the configuration for common mistakes.
// Returns nil if valid, or a *ValidationError with all problems found.
func (c *Config) Validate() error {
	var errs []string

	if c.DataDir == "" {
		errs = append(errs, "data_dir: must not be empty")
	} else {
		errs = append(errs, validateDataDir(c.DataDir)...)
	}

	if c.Backend != "" && c.Backend != storage.DiskBackendKind {
		errs = append(errs, fmt.Sprintf("backend: unknown backend %q", c.Backend))
	}

	if c.Debug != "" {
		if _, err := logging.ParseDebugSpec(c.Debug); err != nil {
			errs = append(errs, fmt.Sprintf("debug: %v", err))
		}
	}

	if c.Segment.MaxSize < 0 {
		errs = append(errs, fmt.Sprintf("segment.max_size: must be >= 0, got %d", c.Segment.MaxSize))
	} else if c.Segment.MaxSize > 0 && c.Segment.MaxSize < minSegmentSize {
		errs = append(errs, fmt.Sprintf("segment.max_size: %d is below the minimum of %d bytes", c.Segment.MaxSize, minSegmentSize))
	}
	if c.Segment.MaxOpen < 0 {
		errs = append(errs, fmt.Sprintf("segment.max_open: must be >= 0, got %d", c.Segment.MaxOpen))
	}
	if c.Cache.RidxEntries < 0 {
		errs = append(errs, fmt.Sprintf("cache.ridx_entries: must be >= 0, got %d", c.Cache.RidxEntries))
	}

	if c.Admin.Addr != "" {
		if err := validateAddress(c.Admin.Addr); err != nil {
			errs = append(errs, fmt.Sprintf("admin.addr: invalid address %q: %v", c.Admin.Addr, err))
		}
		if c.Admin.ReadTimeout < 0 {
			errs = append(errs, "admin.read_timeout: must not be negative")
		}
		if c.Admin.WriteTimeout < 0 {
			errs = append(errs, "admin.write_timeout: must not be negative")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		errs = append(errs, "metrics.namespace: must not be empty when metrics are enabled")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// validateDataDir checks that the data directory is usable.
func validateDataDir(dir string) []string {
	var errs []string

	absDir, err := filepath.Abs(dir)
	if err != nil {
		errs = append(errs, fmt.Sprintf("data_dir: cannot resolve path %q: %v", dir, err))
		return errs
	}

	info, err := os.Stat(absDir)
	if err == nil {
		if !info.IsDir() {
			errs = append(errs, fmt.Sprintf("data_dir: %q exists but is not a directory", absDir))
		}
		return errs
	}

	if !os.IsNotExist(err) {
		errs = append(errs, fmt.Sprintf("data_dir: cannot access %q: %v", absDir, err))
		return errs
	}

	// Directory doesn't exist -- check if parent is accessible
	parent := filepath.Dir(absDir)
	if _, err := os.Stat(parent); err != nil {
		errs = append(errs, fmt.Sprintf("data_dir: %q does not exist and parent %q is not accessible: %v", absDir, parent, err))
	}

	return errs
}

// validateAddress checks that a string is a valid host:port or :port address.
func validateAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("must be host:port format: %w", err)
	}
	if port == "" {
		return fmt.Errorf("port must not be empty")
	}
	return nil
}
