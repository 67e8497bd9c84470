package checker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hashicorp/go-multierror"

	"github.com/Halliburton-Landmark/gdp-sub000/internal/storage"
)

// =============================================================================
// REBUILD
// =============================================================================
//
//   1. scan segments ──► <name>.gdpndx.new  + <name>.gdptidx.new
//   2. compare each .new with the installed file
//   3. identical  ──► remove .new
//      different  ──► installed → <file>.<UTC stamp>.bak, .new → installed
//
// Running a rebuild on a log whose indices are already right leaves every
// file untouched and reports NO CHANGES.
//
// =============================================================================

const (
	newSuffix    = ".new"
	backupFormat = "20060102T150405.000000000Z"
)

// rebuildPolicy accepts whatever order the data is in. A rewritten record
// number ends up pointing at its last copy.
var rebuildPolicy = storage.DurabilityPolicy{AllowGaps: true, AllowDuplicates: true}

func (c *Checker) rebuild(r *Report, logger *slog.Logger) {
	dir := c.logDir(r.Log)
	segs, err := findSegments(dir, r.Log)
	if err != nil {
		r.Outcome, r.Err = OutcomeError, err
		return
	}

	ridxPath := storage.RidxPath(dir, r.Log)
	tidxPath := storage.TidxPath(dir, r.Log)
	b := &builder{
		ridxPath:  ridxPath + newSuffix,
		tidxPath:  tidxPath + newSuffix,
		batchSize: c.opts.TidxBatchSize,
	}

	empty := make(map[storage.SegmentNo]bool)
	res, err := storage.ScanRecords(r.Log, segs, storage.ScanVisitor{
		Segment: func(seg *storage.Segment) error {
			empty[seg.Number()] = seg.IsEmpty()
			if b.ridx == nil {
				b.err = b.open(seg.RecnoOffset() + 1)
			}
			return b.err
		},
		Record: func(rec storage.ScannedRecord) error {
			b.err = b.add(rec)
			return b.err
		},
		Anomaly: func(a storage.ScanAnomaly) { r.add(findingForAnomaly(a)) },
	})
	r.fill(res)
	switch {
	case b.err != nil:
		b.discard()
		r.Outcome, r.Err = OutcomeFailed, b.err
		return
	case err != nil:
		b.discard()
		r.Outcome, r.Err = OutcomeError, err
		return
	}
	if err := b.close(); err != nil {
		b.discard()
		r.Outcome, r.Err = OutcomeFailed, err
		return
	}
	logger.Debug("new indices written", "ridx", b.ridxPath, "tidx", b.tidxPath, "records", res.Records)

	ridxChanged, err := filesDiffer(b.ridxPath, ridxPath)
	if err != nil {
		b.discard()
		r.Outcome, r.Err = OutcomeFailed, err
		return
	}
	tidxChanged, err := timeIndexesDiffer(b.tidxPath, tidxPath, logger)
	if err != nil {
		b.discard()
		r.Outcome, r.Err = OutcomeFailed, err
		return
	}

	r.Replaced = make(map[string]string)
	var result *multierror.Error
	for _, f := range []struct {
		tmp, path string
		changed   bool
	}{
		{b.ridxPath, ridxPath, ridxChanged},
		{b.tidxPath, tidxPath, tidxChanged},
	} {
		if !f.changed {
			if err := os.Remove(f.tmp); err != nil {
				logger.Warn("failed to remove temporary index", "path", f.tmp, "error", err)
			}
			continue
		}
		backup, err := c.install(f.tmp, f.path)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		r.Replaced[f.path] = backup
		logger.Info("index replaced", "path", f.path, "backup", backup)
	}
	if err := syncDir(dir); err != nil {
		result = multierror.Append(result, err)
	}

	if orphans := findOrphans(segs, res, empty); len(orphans) > 0 {
		if c.opts.RemoveOrphans {
			removed, err := removeOrphans(orphans)
			for _, s := range removed {
				r.add(Finding{Kind: KindOrphanRemove, Segment: s.No, Detail: s.Path, Warning: true})
			}
			if err != nil {
				result = multierror.Append(result, err)
			}
		} else {
			for _, o := range orphans {
				r.add(orphanFinding(o))
			}
		}
	}

	switch {
	case result.ErrorOrNil() != nil:
		r.Outcome, r.Err = OutcomeFailed, result.ErrorOrNil()
	case len(r.Replaced) > 0:
		r.Outcome = OutcomeRebuilt
	default:
		r.Outcome = OutcomeNoChanges
	}
}

// install moves tmp over path, keeping the old file as a timestamped
// backup. It returns the backup path, or "" if there was no old file.
func (c *Checker) install(tmp, path string) (string, error) {
	backup := ""
	if _, err := os.Stat(path); err == nil {
		backup = fmt.Sprintf("%s.%s.bak", path, c.opts.Now().UTC().Format(backupFormat))
		if err := os.Rename(path, backup); err != nil {
			return "", fmt.Errorf("failed to back up %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		if backup != "" {
			os.Rename(backup, path)
		}
		return "", fmt.Errorf("failed to install %s: %w", path, err)
	}
	return backup, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open log directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync log directory: %w", err)
	}
	return nil
}

// builder writes the temporary indices.
type builder struct {
	ridxPath  string
	tidxPath  string
	batchSize int

	ridx  *storage.RecnoIndex
	tidx  *storage.TimeIndex
	batch []storage.TimeIndexEntry
	err   error
}

func (b *builder) open(minRecno storage.Recno) error {
	// Left over from an interrupted run.
	for _, p := range []string{b.ridxPath, b.tidxPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale %s: %w", p, err)
		}
	}

	ridx, err := storage.CreateRecnoIndex(b.ridxPath, minRecno)
	if err != nil {
		return err
	}
	tidx, err := storage.CreateTimeIndex(b.tidxPath)
	if err != nil {
		ridx.Close()
		return err
	}
	tidx.SetNoSync(true)
	b.ridx, b.tidx = ridx, tidx
	b.batch = make([]storage.TimeIndexEntry, 0, b.batchSize)
	return nil
}

func (b *builder) add(rec storage.ScannedRecord) error {
	err := b.ridx.Put(storage.RecnoEntry{
		Recno:   rec.Recno,
		Offset:  rec.Offset,
		Segment: rec.Segment,
	}, rebuildPolicy)
	if err != nil {
		return err
	}
	b.batch = append(b.batch, storage.TimeIndexEntry{Timestamp: rec.Timestamp, Recno: rec.Recno})
	if len(b.batch) >= b.batchSize {
		return b.flush()
	}
	return nil
}

func (b *builder) flush() error {
	if len(b.batch) == 0 {
		return nil
	}
	if err := b.tidx.PutBatch(b.batch); err != nil {
		return fmt.Errorf("failed to write tidx batch: %w", err)
	}
	b.batch = b.batch[:0]
	return nil
}

// close flushes and closes both indices. They stay on disk.
func (b *builder) close() error {
	var result *multierror.Error
	if b.tidx != nil {
		if err := b.flush(); err != nil {
			result = multierror.Append(result, err)
		}
		b.tidx.SetNoSync(false)
		if err := b.tidx.Sync(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := b.tidx.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if b.ridx != nil {
		if err := b.ridx.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// discard closes and deletes the temporaries.
func (b *builder) discard() {
	if b.tidx != nil {
		b.tidx.Close()
	}
	if b.ridx != nil {
		b.ridx.Close()
	}
	os.Remove(b.ridxPath)
	os.Remove(b.tidxPath)
}

// filesDiffer compares two files byte for byte. A missing installed file
// always differs.
func filesDiffer(newPath, installedPath string) (bool, error) {
	a, err := os.Open(newPath)
	if err != nil {
		return false, err
	}
	defer a.Close()
	b, err := os.Open(installedPath)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	defer b.Close()

	ai, err := a.Stat()
	if err != nil {
		return false, err
	}
	bi, err := b.Stat()
	if err != nil {
		return false, err
	}
	if ai.Size() != bi.Size() {
		return true, nil
	}

	const chunk = 64 * 1024
	abuf, bbuf := make([]byte, chunk), make([]byte, chunk)
	for {
		an, aerr := io.ReadFull(a, abuf)
		bn, berr := io.ReadFull(b, bbuf)
		if !bytes.Equal(abuf[:an], bbuf[:bn]) {
			return true, nil
		}
		if aerr == io.EOF || aerr == io.ErrUnexpectedEOF {
			return false, nil
		}
		if aerr != nil {
			return false, aerr
		}
		if berr != nil {
			return false, berr
		}
	}
}

var errDiffer = errors.New("indexes differ")

// timeIndexesDiffer compares two TIDX files by content; bolt page layout
// depends on write order, so the bytes are not comparable. An installed
// file that is missing or unreadable differs.
func timeIndexesDiffer(newPath, installedPath string, logger *slog.Logger) (bool, error) {
	fresh, err := storage.OpenTimeIndex(newPath, true)
	if err != nil {
		return false, err
	}
	var want []storage.TimeIndexEntry
	err = fresh.ForEach(func(e storage.TimeIndexEntry) error {
		want = append(want, e)
		return nil
	})
	fresh.Close()
	if err != nil {
		return false, fmt.Errorf("failed to read new tidx: %w", err)
	}

	old, err := storage.OpenTimeIndex(installedPath, true)
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		logger.Warn("installed tidx is unreadable, replacing it", "path", installedPath, "error", err)
		return true, nil
	}
	defer old.Close()

	i := 0
	err = old.ForEach(func(e storage.TimeIndexEntry) error {
		if i >= len(want) || e.Recno != want[i].Recno || e.Timestamp.Compare(want[i].Timestamp) != 0 {
			return errDiffer
		}
		i++
		return nil
	})
	switch {
	case errors.Is(err, errDiffer):
		return true, nil
	case err != nil:
		logger.Warn("installed tidx is unreadable, replacing it", "path", installedPath, "error", err)
		return true, nil
	}
	return i != len(want), nil
}
