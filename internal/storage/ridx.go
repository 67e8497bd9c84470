// =============================================================================
// RECORD-NUMBER INDEX (RIDX) - O(1) RECNO → (SEGMENT, OFFSET)
// =============================================================================
//
// Unlike a sparse offset index, the RIDX has one fixed-size slot for every
// record number, so a lookup is pure arithmetic:
//
//   slot offset = header_size + (recno - min_recno) * 24
//
//   ┌──────────┬──────────┬──────────┬──────────┬──────────┐
//   │  header  │ recno 1  │ recno 2  │ recno 3  │ recno 4  │ ...
//   │ (24 B)   │ seg 0    │ seg 0    │ (hole)   │ seg 1    │
//   │          │ off 72   │ off 113  │ off 0    │ off 72   │
//   └──────────┴──────────┴──────────┴──────────┴──────────┘
//
// A slot with offset 0 was never written (a "hole"). Offset 0 can never be a
// real record position because every segment starts with its header.
//
// The file size tells how many records the log has:
//
//   max_recno = (file_size - header_size) / 24 + min_recno - 1
//
// =============================================================================

package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// RecnoIndex is an open RIDX file.
type RecnoIndex struct {
	path     string
	file     *os.File
	readOnly bool

	// mu serializes physical reads and writes and guards the cached bounds.
	mu         sync.Mutex
	headerSize int64
	minRecno   Recno
	maxRecno   Recno
	maxOffset  int64
	legacy     bool
	closed     bool
}

// CreateRecnoIndex creates a new RIDX whose first slot is minRecno. It fails
// with ErrConflict if the file exists.
func CreateRecnoIndex(path string, minRecno Recno) (*RecnoIndex, error) {
	if minRecno == 0 {
		return nil, fmt.Errorf("%w: ridx minimum record number must be positive", ErrInvalidRecord)
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: ridx %s already exists", ErrConflict, path)
		}
		return nil, fmt.Errorf("failed to create ridx: %w", err)
	}

	h := RidxHeader{
		Magic:      RidxMagic,
		Version:    RidxVersion,
		HeaderSize: RidxHeaderSize,
		MinRecno:   minRecno,
	}
	if _, err := file.WriteAt(h.Encode(), 0); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write ridx header: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to sync ridx header: %w", err)
	}

	return &RecnoIndex{
		path:       path,
		file:       file,
		headerSize: RidxHeaderSize,
		minRecno:   minRecno,
		maxRecno:   minRecno - 1,
		maxOffset:  RidxHeaderSize,
	}, nil
}

// OpenRecnoIndex opens an existing RIDX. A file without a header is a
// legacy index starting at record 1.
func OpenRecnoIndex(path string, readOnly bool) (*RecnoIndex, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: ridx %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open ridx: %w", err)
	}

	x := &RecnoIndex{path: path, file: file, readOnly: readOnly}
	if err := x.loadHeader(); err != nil {
		file.Close()
		return nil, fmt.Errorf("ridx %s: %w", path, err)
	}
	return x, nil
}

func (x *RecnoIndex) loadHeader() error {
	info, err := x.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat ridx: %w", err)
	}
	size := info.Size()

	buf := make([]byte, RidxHeaderSize)
	n, err := x.file.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read ridx header: %w", err)
	}
	h, err := DecodeRidxHeader(buf[:n])
	if err != nil {
		return err
	}

	if h == nil {
		x.legacy = true
		x.headerSize = 0
		x.minRecno = 1
	} else {
		x.headerSize = int64(h.HeaderSize)
		x.minRecno = h.MinRecno
	}
	if size < x.headerSize {
		return fmt.Errorf("%w: file size %d smaller than header %d", ErrCorruptFormat, size, x.headerSize)
	}

	// A torn trailing entry is ignored; the next put overwrites it.
	slots := (size - x.headerSize) / RidxEntrySize
	x.maxOffset = x.headerSize + slots*RidxEntrySize
	x.maxRecno = x.minRecno + Recno(slots) - 1
	return nil
}

// Path returns the index file path.
func (x *RecnoIndex) Path() string { return x.path }

// IsLegacy reports whether the file has no header.
func (x *RecnoIndex) IsLegacy() bool { return x.legacy }

// MinRecno returns the record number of the first slot.
func (x *RecnoIndex) MinRecno() Recno {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.minRecno
}

// MaxRecno returns the highest record number with a slot. It is
// MinRecno()-1 for an empty index.
func (x *RecnoIndex) MaxRecno() Recno {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.maxRecno
}

// seekTo returns the slot offset for recno. writing selects the append-side
// checks. Must be called with mu held.
func (x *RecnoIndex) seekTo(recno Recno, writing bool, policy DurabilityPolicy) (int64, error) {
	if recno < x.minRecno {
		return 0, fmt.Errorf("%w: record %d below ridx minimum %d", ErrCorruptIndex, recno, x.minRecno)
	}
	offset := x.headerSize + int64(recno-x.minRecno)*RidxEntrySize

	if offset > x.maxOffset && !policy.AllowGaps {
		return 0, fmt.Errorf("%w: record %d is past the end of the log (max %d)",
			ErrNotFound, recno, x.maxRecno)
	}
	if writing && offset < x.maxOffset && !policy.AllowDuplicates {
		return 0, fmt.Errorf("%w: record %d already indexed (max %d)",
			ErrRecordDuplicated, recno, x.maxRecno)
	}
	return offset, nil
}

// CheckPut reports the error Put would return for recno without writing.
func (x *RecnoIndex) CheckPut(recno Recno, policy DurabilityPolicy) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrLogClosed
	}
	_, err := x.seekTo(recno, true, policy)
	return err
}

// Put writes the slot for e.Recno and extends the index if needed.
func (x *RecnoIndex) Put(e RecnoEntry, policy DurabilityPolicy) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return ErrLogClosed
	}
	if x.readOnly {
		return fmt.Errorf("%w: ridx %s is open read-only", ErrMethodNotAllowed, x.path)
	}
	offset, err := x.seekTo(e.Recno, true, policy)
	if err != nil {
		return err
	}
	if _, err := x.file.WriteAt(e.Encode(), offset); err != nil {
		return fmt.Errorf("failed to write ridx entry %d: %w", e.Recno, err)
	}
	if end := offset + RidxEntrySize; end > x.maxOffset {
		x.maxOffset = end
		x.maxRecno = e.Recno
	}
	return nil
}

// Read returns the slot for recno. A hole yields ErrRecordMissing; a slot
// that names a different record yields ErrCorruptIndex.
func (x *RecnoIndex) Read(recno Recno, policy DurabilityPolicy) (RecnoEntry, error) {
	start := time.Now()
	defer func() { instrumentIndexLookup("ridx", time.Since(start)) }()

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return RecnoEntry{}, ErrLogClosed
	}
	offset, err := x.seekTo(recno, false, policy)
	if err != nil {
		return RecnoEntry{}, err
	}
	if offset >= x.maxOffset {
		if policy.AllowGaps {
			return RecnoEntry{}, fmt.Errorf("%w: record %d beyond ridx end", ErrRecordMissing, recno)
		}
		return RecnoEntry{}, fmt.Errorf("%w: record %d beyond ridx end", ErrNotFound, recno)
	}

	buf := make([]byte, RidxEntrySize)
	if _, err := x.file.ReadAt(buf, offset); err != nil {
		return RecnoEntry{}, fmt.Errorf("failed to read ridx entry %d: %w", recno, readErr(err))
	}
	e, err := DecodeRecnoEntry(buf)
	if err != nil {
		return RecnoEntry{}, err
	}
	if e.IsHole() {
		return RecnoEntry{}, fmt.Errorf("%w: record %d", ErrRecordMissing, recno)
	}
	if e.Recno != recno {
		return RecnoEntry{}, fmt.Errorf("%w: ridx slot for %d holds record %d", ErrCorruptIndex, recno, e.Recno)
	}
	return e, nil
}

// Sync flushes the index to stable storage.
func (x *RecnoIndex) Sync() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed || x.readOnly {
		return nil
	}
	start := time.Now()
	err := x.file.Sync()
	instrumentFsync(time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to sync ridx: %w", err)
	}
	return nil
}

// Close flushes and closes the index.
func (x *RecnoIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil
	}
	x.closed = true

	var syncErr error
	if !x.readOnly {
		syncErr = x.file.Sync()
	}
	if err := x.file.Close(); err != nil {
		return fmt.Errorf("failed to close ridx: %w", err)
	}
	if syncErr != nil {
		return fmt.Errorf("failed to sync ridx: %w", syncErr)
	}
	return nil
}
