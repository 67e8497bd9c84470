// =============================================================================
// LOG HANDLE - ONE OPEN LOG
// =============================================================================
//
// WHAT IS A LOG HANDLE?
// The in-memory state of one open log: its segments, its two indices, the
// record number range and the reader/writer lock that orders everything.
//
//   ┌──────────────────────────────────────────────────────────────────────┐
//   │                              Log                                     │
//   │                                                                      │
//   │   mu (RWMutex) ── reads: RLock   appends / new segment: Lock         │
//   │                                                                      │
//   │   segments (arena, by number)      RIDX              TIDX            │
//   │   ┌────┐┌────┐┌────┐               recno → seg/off   time → recno    │
//   │   │ 0  ││ 1  ││ 2* │ *last         (own mutex)       (own mutex,     │
//   │   └────┘└────┘└────┘                                  optional)      │
//   └──────────────────────────────────────────────────────────────────────┘
//
// APPEND FLOW:
//   1. validate the record number against the RIDX (gaps / duplicates)
//   2. append bytes to the last segment
//   3. RIDX.put(recno → segment, offset)
//   4. TIDX.put(timestamp → recno), if the log has one
//
//   A failure after step 2 is returned to the caller but the segment bytes
//   stay where they are. Indices can be rebuilt from segments; the reverse
//   is not possible.
//
// READ FLOW:
//   recno ──► [cache | RIDX] ──► (segment, offset) ──► segment.ReadAt
//
// =============================================================================

package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru"
)

// LogOptions tunes a log handle. The zero value is usable.
type LogOptions struct {
	// MaxSegmentSize rotates to a new segment before an append once the
	// last segment has reached this many bytes. 0 disables rotation.
	MaxSegmentSize int64

	// SyncOnAppend fsyncs the segment and RIDX after every append.
	SyncOnAppend bool

	// MaxOpenSegments bounds how many idle older segments stay open.
	MaxOpenSegments int

	// IndexCacheSize is the number of recent RIDX entries kept in memory.
	// 0 disables the cache.
	IndexCacheSize int
}

// DefaultLogOptions returns the options used by the daemon.
func DefaultLogOptions() LogOptions {
	return LogOptions{
		MaxOpenSegments: 16,
		IndexCacheSize:  1024,
	}
}

// segmentSlot is one entry of the segment arena.
type segmentSlot struct {
	info SegmentInfo
	seg  *Segment
	refs int
}

// Log is the disk backend's LogHandle.
type Log struct {
	name   Name
	dir    string
	policy DurabilityPolicy
	opts   LogOptions
	logger *slog.Logger

	mu       sync.RWMutex
	mode     OpenMode
	ridx     *RecnoIndex
	tidx     *TimeIndex
	metadata *Metadata
	minRecno Recno
	last     *Segment
	cache    *lru.Cache
	closed   bool

	// segMu guards the arena. Readers open segments under the read lock,
	// so the arena needs its own mutex.
	segMu     sync.Mutex
	slots     map[SegmentNo]*segmentSlot
	order     []SegmentNo
	openCount int
}

func newLog(dir string, name Name, mode OpenMode, policy DurabilityPolicy, opts LogOptions, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Log{
		name:   name,
		dir:    dir,
		mode:   mode,
		policy: policy,
		opts:   opts,
		logger: logger.With("component", "storage", "log", name.String()),
		slots:  make(map[SegmentNo]*segmentSlot),
	}
	if opts.IndexCacheSize > 0 {
		cache, err := lru.New(opts.IndexCacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create index cache: %w", err)
		}
		l.cache = cache
	}
	return l, nil
}

// =============================================================================
// CREATE & OPEN
// =============================================================================

// createLog lays out a brand new log: segment 0, an empty RIDX starting at
// record 1 and an empty TIDX.
func createLog(dir string, name Name, md *Metadata, policy DurabilityPolicy, opts LogOptions, logger *slog.Logger) (l *Log, err error) {
	if _, statErr := os.Stat(dir); statErr == nil {
		return nil, fmt.Errorf("%w: log %s already exists", ErrConflict, name)
	}

	l, err = newLog(dir, name, ModeReadAppend, policy, opts, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			l.closeFiles()
			os.RemoveAll(dir)
		}
	}()

	seg, err := CreateSegment(dir, name, 0, 0, md)
	if err != nil {
		return nil, err
	}
	l.addSlot(seg, true)
	l.last = seg
	l.metadata = md.Clone()
	l.minRecno = 1

	if l.ridx, err = CreateRecnoIndex(RidxPath(dir, name), 1); err != nil {
		return nil, err
	}

	tidx, tidxErr := CreateTimeIndex(TidxPath(dir, name))
	switch {
	case tidxErr == nil:
		l.tidx = tidx
	case policy.DisableTimestampIndexOnError:
		l.logger.Warn("creating log without timestamp index", "error", tidxErr)
	default:
		return nil, tidxErr
	}

	l.logger.Info("log created", "dir", dir, "metadata_entries", md.Len())
	instrumentLogsOpen(1)
	return l, nil
}

// openLog loads an existing log from disk.
func openLog(dir string, name Name, mode OpenMode, policy DurabilityPolicy, opts LogOptions, logger *slog.Logger) (l *Log, err error) {
	segs, err := FindSegments(dir, name)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: log %s has no segments", ErrNotFound, name)
	}

	l, err = newLog(dir, name, mode, policy, opts, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			l.closeFiles()
		}
	}()

	for _, info := range segs {
		l.slots[info.No] = &segmentSlot{info: info}
		l.order = append(l.order, info.No)
	}

	// A handle that cannot append leaves every file untouched.
	readOnly := !mode.Has(ModeAppend)
	if l.ridx, err = OpenRecnoIndex(RidxPath(dir, name), readOnly); err != nil {
		return nil, fmt.Errorf("log %s: %w (run the checker with -r to rebuild)", name, err)
	}

	tidx, tidxErr := OpenTimeIndex(TidxPath(dir, name), readOnly)
	switch {
	case tidxErr == nil:
		l.tidx = tidx
	case errors.Is(tidxErr, ErrNotFound):
		l.logger.Debug("log has no timestamp index")
	case policy.DisableTimestampIndexOnError:
		l.logger.Warn("opening log without timestamp index", "error", tidxErr)
	default:
		return nil, tidxErr
	}

	lastNo, err := l.findLastSegment()
	if err != nil {
		return nil, err
	}
	last, err := l.acquire(lastNo)
	if err != nil {
		return nil, err
	}
	l.last = last

	first, err := l.acquire(l.order[0])
	if err != nil {
		return nil, err
	}
	l.minRecno = first.RecnoOffset() + 1
	if m := l.ridx.MinRecno(); m > l.minRecno {
		l.minRecno = m
	}

	md, err := last.Metadata()
	if err == nil && md.Len() == 0 && first != last {
		md, err = first.Metadata()
	}
	l.release(first)
	if err != nil {
		return nil, err
	}
	l.metadata = md.Clone()

	l.logger.Info("log opened",
		"mode", mode.String(),
		"segments", len(l.order),
		"last_segment", l.last.Number(),
		"min_recno", l.minRecno,
		"max_recno", l.ridx.MaxRecno(),
		"tidx", l.tidx != nil,
	)
	instrumentLogsOpen(1)
	return l, nil
}

// findLastSegment picks the segment new records go to. Normally that is the
// segment of the last RIDX entry, but a newer segment on disk wins: it is
// the result of a rotation that finished after the last indexed append.
func (l *Log) findLastSegment() (SegmentNo, error) {
	highest := l.order[len(l.order)-1]

	lastNo := highest
	if hi := l.ridx.MaxRecno(); hi >= l.ridx.MinRecno() {
		e, err := l.ridx.Read(hi, DurabilityPolicy{AllowGaps: true})
		switch {
		case err == nil:
			lastNo = e.Segment
		case errors.Is(err, ErrRecordMissing):
			l.logger.Warn("last ridx entry is a hole; using highest segment", "recno", hi)
		default:
			return 0, err
		}
	}
	if _, ok := l.slots[lastNo]; !ok {
		return 0, fmt.Errorf("%w: ridx names segment %d which is not on disk", ErrCorruptIndex, lastNo)
	}

	if highest > lastNo {
		seg, err := l.acquire(highest)
		if err != nil {
			return 0, err
		}
		if !seg.IsEmpty() {
			l.logger.Warn("newest segment holds records missing from the ridx; run the checker",
				"segment", highest, "indexed_segment", lastNo)
		} else {
			l.logger.Info("resuming rotation to empty segment", "segment", highest)
		}
		l.release(seg)
		lastNo = highest
	}
	return lastNo, nil
}

// =============================================================================
// SEGMENT ARENA
// =============================================================================

// addSlot registers a freshly created, open segment. pin keeps it open.
func (l *Log) addSlot(seg *Segment, pin bool) {
	l.segMu.Lock()
	defer l.segMu.Unlock()

	slot := &segmentSlot{
		info: SegmentInfo{No: seg.Number(), Path: seg.Path()},
		seg:  seg,
	}
	if pin {
		slot.refs = 1
	}
	l.slots[seg.Number()] = slot
	l.order = append(l.order, seg.Number())
	sort.Slice(l.order, func(i, j int) bool { return l.order[i] < l.order[j] })
	l.openCount++
	instrumentSegmentsOpen(1)
}

// acquire returns segment no, opening it if needed, and takes a reference.
// Every acquire is paired with release.
func (l *Log) acquire(no SegmentNo) (*Segment, error) {
	l.segMu.Lock()
	defer l.segMu.Unlock()

	slot, ok := l.slots[no]
	if !ok {
		if len(l.order) > 0 && no < l.order[0] {
			return nil, fmt.Errorf("%w: segment %d has been retired", ErrRecordExpired, no)
		}
		return nil, fmt.Errorf("%w: segment %d does not exist", ErrCorruptIndex, no)
	}
	if slot.seg == nil {
		seg, err := OpenSegment(slot.info.Path, no, l.name, !l.mode.Has(ModeAppend))
		if err != nil {
			return nil, err
		}
		slot.seg = seg
		l.openCount++
		instrumentSegmentsOpen(1)
	}
	slot.refs++
	return slot.seg, nil
}

// release drops a reference. Idle segments other than the last are closed
// once more than MaxOpenSegments are open.
func (l *Log) release(seg *Segment) {
	l.segMu.Lock()
	defer l.segMu.Unlock()

	slot, ok := l.slots[seg.Number()]
	if !ok || slot.seg != seg {
		return
	}
	slot.refs--
	if slot.refs > 0 || seg == l.last || l.opts.MaxOpenSegments <= 0 || l.openCount <= l.opts.MaxOpenSegments {
		return
	}
	if err := seg.Close(); err != nil {
		l.logger.Warn("failed to close idle segment", "segment", seg.Number(), "error", err)
	}
	slot.seg = nil
	l.openCount--
	instrumentSegmentsOpen(-1)
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Name returns the log name.
func (l *Log) Name() Name { return l.name }

// Dir returns the log's directory.
func (l *Log) Dir() string { return l.dir }

// Mode returns the access mode.
func (l *Log) Mode() OpenMode {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.mode
}

// WidenMode adds mode to the handle's access mode. Gaining ModeAppend
// reopens the indices and the last segment for writing.
func (l *Log) WidenMode(mode OpenMode) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("log %s: %w", l.name, ErrLogClosed)
	}
	if mode.Has(ModeAppend) && !l.mode.Has(ModeAppend) {
		if err := l.reopenWritable(); err != nil {
			return fmt.Errorf("log %s: failed to open for append: %w", l.name, err)
		}
	}
	l.mode |= mode
	return nil
}

// reopenWritable must be called with mu held for writing, so no reader
// holds a segment or an index.
func (l *Log) reopenWritable() error {
	ridx, err := OpenRecnoIndex(l.ridx.Path(), false)
	if err != nil {
		return err
	}
	last, err := OpenSegment(l.last.Path(), l.last.Number(), l.name, false)
	if err != nil {
		ridx.Close()
		return err
	}

	// bolt locks the file per open, so the shared lock of the read-only
	// handle has to go before the exclusive one can be taken.
	var tidx *TimeIndex
	if l.tidx != nil {
		path := l.tidx.Path()
		l.tidx.Close()
		tidx, err = OpenTimeIndex(path, false)
		if err != nil {
			if !l.policy.DisableTimestampIndexOnError {
				l.tidx, _ = OpenTimeIndex(path, true)
				ridx.Close()
				last.Close()
				return err
			}
			l.logger.Warn("appending without timestamp index", "error", err)
			tidx = nil
		}
	}

	if err := l.ridx.Close(); err != nil {
		l.logger.Warn("failed to close read-only ridx", "error", err)
	}
	l.ridx = ridx
	l.tidx = tidx

	l.segMu.Lock()
	slot := l.slots[last.Number()]
	if err := slot.seg.Close(); err != nil {
		l.logger.Warn("failed to close read-only segment", "segment", last.Number(), "error", err)
	}
	slot.seg = last
	l.segMu.Unlock()
	l.last = last

	l.logger.Debug("log reopened for append")
	return nil
}

// checkOpen must be called with mu held.
func (l *Log) checkOpen(need OpenMode) error {
	if l.closed {
		return fmt.Errorf("log %s: %w", l.name, ErrLogClosed)
	}
	if !l.mode.Has(need) {
		return fmt.Errorf("%w: log %s is open for %s", ErrMethodNotAllowed, l.name, l.mode)
	}
	return nil
}

// MaxRecno returns the highest indexed record number (0 for an empty log).
func (l *Log) MaxRecno() Recno {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.ridx == nil {
		return 0
	}
	return l.ridx.MaxRecno()
}

// MinRecno returns the lowest readable record number.
func (l *Log) MinRecno() Recno {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.minRecno
}

// HasTimeIndex reports whether timestamp lookups are available.
func (l *Log) HasTimeIndex() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tidx != nil
}

// Metadata returns a copy of the log's metadata.
func (l *Log) Metadata() (*Metadata, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrLogClosed
	}
	return l.metadata.Clone(), nil
}

// =============================================================================
// APPEND
// =============================================================================

// Append writes rec as the next record. A zero Recno is assigned the next
// number and a zero Timestamp is set to the current time; both are written
// back into rec.
func (l *Log) Append(rec *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkOpen(ModeAppend); err != nil {
		return err
	}
	if rec.Recno == 0 {
		rec.Recno = l.ridx.MaxRecno() + 1
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = Now()
	}

	if err := l.ridx.CheckPut(rec.Recno, l.policy); err != nil {
		instrumentAppend(err, "validate")
		return fmt.Errorf("log %s: %w", l.name, err)
	}

	if l.opts.MaxSegmentSize > 0 && l.last.Size() >= l.opts.MaxSegmentSize && !l.last.IsEmpty() {
		if err := l.newSegmentLocked(); err != nil {
			instrumentAppend(err, "rotate")
			return fmt.Errorf("log %s: failed to rotate: %w", l.name, err)
		}
	}

	offset, err := l.last.Append(rec)
	if err != nil {
		instrumentAppend(err, "segment")
		return err
	}
	if l.opts.SyncOnAppend {
		if err := l.last.Sync(); err != nil {
			instrumentAppend(err, "segment")
			return err
		}
	}

	entry := RecnoEntry{Recno: rec.Recno, Offset: offset, Segment: l.last.Number()}
	if err := l.ridx.Put(entry, l.policy); err != nil {
		instrumentAppend(err, "ridx")
		return fmt.Errorf("record %d written to segment %d but not indexed: %w",
			rec.Recno, l.last.Number(), err)
	}
	if l.opts.SyncOnAppend {
		if err := l.ridx.Sync(); err != nil {
			instrumentAppend(err, "ridx")
			return err
		}
	}
	if l.cache != nil {
		l.cache.Add(rec.Recno, entry)
	}

	if l.tidx != nil {
		if err := l.tidx.Put(rec.Timestamp, rec.Recno); err != nil {
			if err := l.timeIndexFailed(err); err != nil {
				instrumentAppend(err, "tidx")
				return fmt.Errorf("record %d written but not time-indexed: %w", rec.Recno, err)
			}
		}
	}

	instrumentAppend(nil, "")
	return nil
}

// timeIndexFailed applies the policy to a TIDX write failure. It returns
// nil when the index was disabled and the append may succeed.
func (l *Log) timeIndexFailed(err error) error {
	if !IsSevereTimeIndexError(err) || !l.policy.DisableTimestampIndexOnError {
		return err
	}
	aside, renameErr := DisableTimeIndex(l.tidx)
	l.tidx = nil
	instrumentTimeIndexDisabled()
	l.logger.Error("timestamp index disabled after write failure",
		"error", err,
		"moved_to", aside,
		"rename_error", renameErr,
	)
	return nil
}

// =============================================================================
// SEGMENT ROTATION & RETENTION
// =============================================================================

// NewSegment starts a new segment; subsequent appends go there.
func (l *Log) NewSegment() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkOpen(ModeAppend); err != nil {
		return err
	}
	return l.newSegmentLocked()
}

func (l *Log) newSegmentLocked() error {
	next := l.last.Number() + 1
	recnoOffset := l.ridx.MaxRecno()

	seg, err := CreateSegment(l.dir, l.name, next, recnoOffset, l.metadata)
	if errors.Is(err, ErrConflict) {
		// An earlier rotation created the file but failed before using it.
		seg, err = OpenSegment(filepath.Join(l.dir, SegmentFileName(l.name, next)), next, l.name, false)
		if err == nil && (!seg.IsEmpty() || seg.RecnoOffset() != recnoOffset) {
			seg.Close()
			return fmt.Errorf("%w: segment %d already exists and is in use", ErrConflict, next)
		}
		if err == nil {
			l.logger.Info("adopting existing empty segment", "segment", next)
		}
	}
	if err != nil {
		return err
	}

	if err := l.last.Sync(); err != nil {
		seg.Close()
		return err
	}
	if err := l.ridx.Sync(); err != nil {
		seg.Close()
		return err
	}

	old := l.last
	l.addSlot(seg, true)
	l.last = seg
	l.release(old)

	l.logger.Info("segment rotated", "segment", next, "recno_offset", recnoOffset)
	return nil
}

// Retire deletes whole segments whose records are all below before. The last
// segment is never retired. Reads of retired records return
// ErrRecordExpired. It returns the number of segments deleted.
func (l *Log) Retire(before Recno) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkOpen(ModeAppend); err != nil {
		return 0, err
	}

	retired := 0
	for len(l.order) > 1 {
		victim, next := l.order[0], l.order[1]
		seg, err := l.acquire(next)
		if err != nil {
			return retired, err
		}
		lastInVictim := seg.RecnoOffset()
		l.release(seg)
		if lastInVictim >= before {
			break
		}
		if err := l.removeSlot(victim); err != nil {
			return retired, err
		}
		retired++
	}

	if retired > 0 {
		first, err := l.acquire(l.order[0])
		if err != nil {
			return retired, err
		}
		l.minRecno = first.RecnoOffset() + 1
		l.release(first)
		instrumentSegmentsRetired(retired)
		l.logger.Info("segments retired", "count", retired, "min_recno", l.minRecno)
	}
	return retired, nil
}

func (l *Log) removeSlot(no SegmentNo) error {
	l.segMu.Lock()
	defer l.segMu.Unlock()

	slot := l.slots[no]
	if slot.seg != nil {
		if err := slot.seg.Close(); err != nil {
			return err
		}
		l.openCount--
		instrumentSegmentsOpen(-1)
	}
	if err := os.Remove(slot.info.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete segment %d: %w", no, err)
	}
	delete(l.slots, no)
	l.order = l.order[1:]
	return nil
}

// =============================================================================
// READ
// =============================================================================

// ReadByRecno returns the record with the given number.
func (l *Log) ReadByRecno(recno Recno) (rec *Record, err error) {
	defer func() { instrumentReadResult(err) }()

	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.checkOpen(ModeRead); err != nil {
		return nil, err
	}
	if err := l.checkRange(recno); err != nil {
		return nil, err
	}

	entry, err := l.lookup(recno)
	if err != nil {
		return nil, err
	}
	seg, err := l.acquire(entry.Segment)
	if err != nil {
		return nil, err
	}
	defer l.release(seg)

	return seg.ReadAt(entry.Offset, recno)
}

// checkRange must be called with mu held.
func (l *Log) checkRange(recno Recno) error {
	hi := l.ridx.MaxRecno()
	if recno == 0 || recno > hi {
		return fmt.Errorf("%w: record %d (log %s has %d)", ErrNotFound, recno, l.name, hi)
	}
	if recno < l.minRecno {
		return fmt.Errorf("%w: record %d (first available is %d)", ErrRecordExpired, recno, l.minRecno)
	}
	return nil
}

// lookup resolves recno through the cache, then the RIDX.
func (l *Log) lookup(recno Recno) (RecnoEntry, error) {
	if l.cache != nil {
		start := time.Now()
		if v, ok := l.cache.Get(recno); ok {
			instrumentIndexLookup("cache", time.Since(start))
			return v.(RecnoEntry), nil
		}
	}
	entry, err := l.ridx.Read(recno, l.policy)
	if err != nil {
		return RecnoEntry{}, err
	}
	if l.cache != nil {
		l.cache.Add(recno, entry)
	}
	return entry, nil
}

// RecnoExists reports whether recno is in range and not a hole.
func (l *Log) RecnoExists(recno Recno) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed || l.checkRange(recno) != nil {
		return false
	}
	_, err := l.lookup(recno)
	return err == nil
}

// TimestampToRecno returns the record current at ts. Without a timestamp
// index it fails with ErrMethodNotAllowed.
func (l *Log) TimestampToRecno(ts Timestamp) (Recno, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.checkOpen(ModeRead); err != nil {
		return 0, err
	}
	if l.tidx == nil {
		return 0, fmt.Errorf("%w: log %s has no timestamp index", ErrMethodNotAllowed, l.name)
	}
	return l.tidx.Lookup(ts)
}

// Stats returns the number of record slots and the bytes held in segments.
// Counting stored records would mean reading every RIDX slot, so holes are
// counted as records; see Stats.RecordCount.
func (l *Log) Stats() (Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return Stats{}, ErrLogClosed
	}
	var st Stats
	if hi := l.ridx.MaxRecno(); hi >= l.minRecno {
		st.RecordCount = int64(hi - l.minRecno + 1)
	}

	l.segMu.Lock()
	defer l.segMu.Unlock()
	for _, no := range l.order {
		slot := l.slots[no]
		if slot.seg != nil {
			st.ByteSize += slot.seg.Size()
		} else {
			st.ByteSize += slot.info.Size
		}
	}
	return st, nil
}

// SegmentCount returns the number of segments on disk.
func (l *Log) SegmentCount() int {
	l.segMu.Lock()
	defer l.segMu.Unlock()
	return len(l.order)
}

// =============================================================================
// CLOSE
// =============================================================================

// Close flushes and releases every file of the log. It does not delete data.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	instrumentLogsOpen(-1)

	err := l.closeFiles()
	if err != nil {
		l.logger.Error("errors closing log", "error", err)
		return err
	}
	l.logger.Debug("log closed")
	return nil
}

func (l *Log) closeFiles() error {
	var result *multierror.Error

	l.segMu.Lock()
	for _, slot := range l.slots {
		if slot.seg == nil {
			continue
		}
		if err := slot.seg.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		slot.seg = nil
		instrumentSegmentsOpen(-1)
	}
	l.openCount = 0
	l.segMu.Unlock()

	if l.ridx != nil {
		if err := l.ridx.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if l.tidx != nil {
		if err := l.tidx.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
