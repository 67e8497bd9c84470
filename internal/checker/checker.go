// =============================================================================
// CONSISTENCY CHECKER & INDEX REBUILDER
// =============================================================================
//
// The segments are the source of truth. The RIDX and TIDX are derived data
// and can always be regenerated from them:
//
//   segments ──ScanRecords──► what the indices should say
//                                    │
//             check mode ◄───────────┤ compare with installed RIDX / TIDX
//                                    │
//           rebuild mode ◄───────────┘ write *.new, compare, install
//
// The checker works on files directly and never goes through a Log handle.
// It must be the only actor on a log: running it against a log that a live
// daemon is appending to gives meaningless results. The data-root lock makes
// that mistake hard to commit (see Lock).
//
// =============================================================================

package checker

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/Halliburton-Landmark/gdp-sub000/internal/metrics"
	"github.com/Halliburton-Landmark/gdp-sub000/internal/storage"
)

// ErrRootBusy means a daemon holds the data-root lock.
var ErrRootBusy = errors.New("data root is in use")

// DefaultTidxBatchSize is the number of TIDX entries per bolt transaction
// during a rebuild.
const DefaultTidxBatchSize = 1000

// Options configures a Checker.
type Options struct {
	// Root is the daemon's data directory.
	Root string

	// Rebuild selects ModeRebuild.
	Rebuild bool

	// RemoveOrphans deletes orphan segments. Only honoured when rebuilding.
	RemoveOrphans bool

	// Force proceeds even when the data-root lock is held.
	Force bool

	// TidxBatchSize overrides DefaultTidxBatchSize.
	TidxBatchSize int

	Logger *slog.Logger

	// Now stamps backup file names. Defaults to time.Now.
	Now func() time.Time
}

// Checker checks or rebuilds logs under one data root.
type Checker struct {
	opts   Options
	logger *slog.Logger
	lock   *flock.Flock
}

// New returns a checker.
func New(opts Options) *Checker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TidxBatchSize <= 0 {
		opts.TidxBatchSize = DefaultTidxBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Checker{
		opts:   opts,
		logger: opts.Logger.With("component", "checker"),
	}
}

// Mode returns the mode the checker runs in.
func (c *Checker) Mode() Mode {
	if c.opts.Rebuild {
		return ModeRebuild
	}
	return ModeCheck
}

// Lock takes the data-root lock the daemon holds while running. If the lock
// is held, Lock fails with ErrRootBusy unless Force is set.
func (c *Checker) Lock() error {
	info, err := os.Stat(c.opts.Root)
	if err != nil {
		return fmt.Errorf("data root %s: %w", c.opts.Root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data root %s is not a directory", c.opts.Root)
	}

	lock := flock.New(filepath.Join(c.opts.Root, storage.LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock data root: %w", err)
	}
	if !locked {
		if !c.opts.Force {
			return fmt.Errorf("%w: %s is locked by a running daemon (use --force to override)", ErrRootBusy, c.opts.Root)
		}
		c.logger.Warn("data root is locked by another process, continuing because of --force", "root", c.opts.Root)
		return nil
	}
	c.lock = lock
	return nil
}

// Unlock releases the data-root lock if Lock took it.
func (c *Checker) Unlock() error {
	if c.lock == nil {
		return nil
	}
	err := c.lock.Unlock()
	c.lock = nil
	return err
}

// Run checks or rebuilds each named log and writes a report for each to w.
// Per-log failures are carried in the reports, not returned.
func (c *Checker) Run(names []string, w io.Writer) []*Report {
	reports := make([]*Report, 0, len(names))
	for _, input := range names {
		r := c.RunLog(input)
		if w != nil {
			r.WriteTo(w)
		}
		reports = append(reports, r)
	}
	return reports
}

// RunLog checks or rebuilds one log, named as a user would name it.
func (c *Checker) RunLog(input string) *Report {
	start := time.Now()
	r := &Report{Input: input, Mode: c.Mode()}

	name, err := storage.ParseName(input)
	if err != nil {
		r.Outcome, r.Err = OutcomeError, err
	} else {
		r.Log = name
		logger := c.logger.With("log", name.String(), "mode", string(r.Mode))
		logger.Debug("starting")
		if r.Mode == ModeRebuild {
			c.rebuild(r, logger)
		} else {
			c.check(r, logger)
		}
		logger.Info("finished", "outcome", string(r.Outcome),
			"records", r.Records, "findings", len(r.Findings))
	}

	r.Duration = time.Since(start)
	c.instrument(r)
	return r
}

func (c *Checker) logDir(name storage.Name) string {
	return storage.LogDir(c.opts.Root, name)
}

func (c *Checker) instrument(r *Report) {
	reg := metrics.Get()
	if reg == nil {
		return
	}
	reg.Checker.RecordRun(string(r.Mode), string(r.Outcome), r.Duration.Seconds(), r.Records)
	for _, f := range r.Findings {
		reg.Checker.RecordInconsistency(string(f.Kind))
	}
}

// findingForAnomaly converts a scan anomaly. Gaps and duplicates are
// tolerated by the storage policy and are only warnings.
func findingForAnomaly(a storage.ScanAnomaly) Finding {
	f := Finding{Recno: a.Recno, Segment: a.Segment}
	switch a.Kind {
	case storage.AnomalyGap:
		f.Kind = KindGap
		f.Warning = true
		f.Detail = fmt.Sprintf("expected record %d at offset %d", a.Expected, a.Offset)
		return f
	case storage.AnomalyDuplicate:
		f.Kind = KindDuplicate
		f.Warning = true
		f.Detail = fmt.Sprintf("rewritten at offset %d", a.Offset)
		return f
	case storage.AnomalySegmentOffset:
		f.Kind = KindSegmentOffset
		if a.Recno == 0 {
			f.Detail = fmt.Sprintf("segment %d header says it starts at record %s, data continues at %d",
				a.Segment, a.Detail, a.Expected)
		} else {
			f.Detail = fmt.Sprintf("offset %d is before the segment's first record %s", a.Offset, a.Detail)
		}
		return f
	case storage.AnomalyTruncated:
		f.Kind = KindTruncated
	default:
		f.Kind = KindCorruptData
	}
	f.Detail = fmt.Sprintf("offset %d: %s", a.Offset, a.Detail)
	if a.Recno == 0 {
		f.Detail = fmt.Sprintf("segment %d %s", a.Segment, f.Detail)
	}
	return f
}
