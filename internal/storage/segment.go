// =============================================================================
// SEGMENT FILE - A BOUNDED CHUNK OF A LOG
// =============================================================================
//
// A log is split into segment files. Each segment holds a contiguous range of
// record numbers: the first record is RecnoOffset+1.
//
// WHY SEGMENTS?
//   - Retention deletes whole files instead of rewriting one big file.
//   - Metadata is replicated into every segment, so old ones can be retired.
//   - A damaged file loses one range, not the whole history.
//
// SEGMENT LIFECYCLE:
//
//   ┌─────────────┐  new_segment  ┌─────────────┐  retire    ┌─────────────┐
//   │    LAST     │ ────────────► │    OLDER    │ ─────────► │   DELETED   │
//   │ (appended)  │               │ (read-only) │            │             │
//   └─────────────┘               └─────────────┘            └─────────────┘
//
// Segments are written append-only by a single writer (the log's write lock)
// and read concurrently with pread, so no file position is ever shared.
//
// =============================================================================

package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Segment is one open segment file.
type Segment struct {
	no       SegmentNo
	path     string
	file     *os.File
	header   *SegmentHeader
	readOnly bool

	// maxOffset is the live end of the file; the next record goes here.
	maxOffset atomic.Int64

	mu       sync.Mutex
	metadata *Metadata
	closed   bool
}

// CreateSegment creates a new segment file exclusively. The metadata block
// is written only when md is non-empty.
func CreateSegment(dir string, name Name, no SegmentNo, recnoOffset Recno, md *Metadata) (*Segment, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	mdBytes, err := md.Encode()
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, SegmentFileName(name, no))
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: segment %s already exists", ErrConflict, path)
		}
		return nil, fmt.Errorf("failed to create segment file: %w", err)
	}

	header := &SegmentHeader{
		Magic:       SegmentMagic,
		Version:     SegmentVersion,
		HeaderSize:  uint32(SegmentHeaderSize + len(mdBytes)),
		MDCount:     uint16(md.Len()),
		LogType:     LogTypeDisk,
		SegmentNo:   no,
		LogName:     name,
		RecnoOffset: recnoOffset,
	}

	buf := append(header.Encode(), mdBytes...)
	if _, err := file.WriteAt(buf, 0); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write segment header: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to sync segment header: %w", err)
	}

	s := &Segment{
		no:       no,
		path:     path,
		file:     file,
		header:   header,
		metadata: md.Clone(),
	}
	s.maxOffset.Store(int64(header.HeaderSize))
	instrumentSegmentCreated()
	return s, nil
}

// OpenSegment opens an existing segment and validates its header. When
// name is non-zero the header must carry that log name.
func OpenSegment(path string, no SegmentNo, name Name, readOnly bool) (*Segment, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: segment %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open segment file: %w", err)
	}

	header, size, err := readSegmentHeader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("segment %s: %w", path, err)
	}
	if !name.IsZero() && header.LogName != name {
		file.Close()
		return nil, fmt.Errorf("%w: segment %s belongs to log %s", ErrCorruptFormat, path, header.LogName)
	}
	if no != LegacySegment && header.SegmentNo != no {
		file.Close()
		return nil, fmt.Errorf("%w: segment %s claims number %d", ErrCorruptFormat, path, header.SegmentNo)
	}

	s := &Segment{
		no:       no,
		path:     path,
		file:     file,
		header:   header,
		readOnly: readOnly,
	}
	s.maxOffset.Store(size)
	return s, nil
}

func readSegmentHeader(file *os.File) (*SegmentHeader, int64, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat segment: %w", err)
	}
	buf := make([]byte, SegmentHeaderSize)
	if _, err := file.ReadAt(buf, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("%w: truncated header (%d bytes)", ErrCorruptFormat, info.Size())
		}
		return nil, 0, fmt.Errorf("failed to read segment header: %w", err)
	}
	header, err := DecodeSegmentHeader(buf)
	if err != nil {
		return nil, 0, err
	}
	if int64(header.HeaderSize) > info.Size() {
		return nil, 0, fmt.Errorf("%w: header size %d exceeds file size %d",
			ErrCorruptFormat, header.HeaderSize, info.Size())
	}
	return header, info.Size(), nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Number returns the segment number.
func (s *Segment) Number() SegmentNo { return s.no }

// Path returns the segment file path.
func (s *Segment) Path() string { return s.path }

// Header returns the decoded header.
func (s *Segment) Header() *SegmentHeader { return s.header }

// RecnoOffset is one less than the first record number in this segment.
func (s *Segment) RecnoOffset() Recno { return s.header.RecnoOffset }

// HeaderSize is the offset of the first record.
func (s *Segment) HeaderSize() int64 { return int64(s.header.HeaderSize) }

// Size returns the live file size.
func (s *Segment) Size() int64 { return s.maxOffset.Load() }

// IsEmpty reports whether the segment holds no records.
func (s *Segment) IsEmpty() bool { return s.Size() <= s.HeaderSize() }

// Metadata returns the segment's metadata block, reading it on first use.
func (s *Segment) Metadata() (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.metadata != nil {
		return s.metadata, nil
	}
	if s.closed {
		return nil, ErrLogClosed
	}
	n := int(s.header.HeaderSize) - SegmentHeaderSize
	buf := make([]byte, n)
	if n > 0 {
		if _, err := s.file.ReadAt(buf, SegmentHeaderSize); err != nil {
			return nil, fmt.Errorf("failed to read metadata of %s: %w", s.path, err)
		}
	}
	md, err := DecodeMetadata(int(s.header.MDCount), buf)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", s.path, err)
	}
	s.metadata = md
	return md, nil
}

// =============================================================================
// WRITE PATH
// =============================================================================

// Append writes a record at the end of the segment and returns the offset it
// was written at. The caller must hold the owning log's write lock.
//
// A failed write does not advance the end of the segment, so the next append
// overwrites whatever partial bytes reached the file.
func (s *Segment) Append(rec *Record) (int64, error) {
	if s.readOnly {
		return 0, fmt.Errorf("%w: segment %s is open read-only", ErrMethodNotAllowed, s.path)
	}
	buf, err := EncodeRecord(rec)
	if err != nil {
		return 0, err
	}

	offset := s.maxOffset.Load()
	if _, err := s.file.WriteAt(buf, offset); err != nil {
		return 0, fmt.Errorf("failed to append record %d to %s: %w", rec.Recno, s.path, err)
	}
	s.maxOffset.Add(int64(len(buf)))
	instrumentWrite(len(buf))
	return offset, nil
}

// Sync flushes the segment to stable storage.
func (s *Segment) Sync() error {
	if s.readOnly {
		return nil
	}
	start := time.Now()
	err := s.file.Sync()
	instrumentFsync(time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to sync segment %s: %w", s.path, err)
	}
	return nil
}

// =============================================================================
// READ PATH
// =============================================================================

// ReadAt decodes the record at offset. When expect is non-zero the on-disk
// record number must match it, otherwise the index that produced the offset
// is wrong and ErrCorruptIndex is returned.
func (s *Segment) ReadAt(offset int64, expect Recno) (*Record, error) {
	end := s.maxOffset.Load()
	if offset < s.HeaderSize() {
		return nil, fmt.Errorf("%w: offset %d inside header of %s (record %d)",
			ErrCorruptIndex, offset, s.path, expect)
	}
	if offset+RecordHeaderSize > end {
		return nil, fmt.Errorf("record header at %d beyond end %d of %s: %w",
			offset, end, s.path, io.ErrUnexpectedEOF)
	}

	hbuf := make([]byte, RecordHeaderSize)
	if _, err := s.file.ReadAt(hbuf, offset); err != nil {
		return nil, fmt.Errorf("failed to read record header at %d: %w", offset, readErr(err))
	}
	h, err := DecodeRecordHeader(hbuf)
	if err != nil {
		return nil, err
	}
	if expect != 0 && h.Recno != expect {
		return nil, fmt.Errorf("%w: %s offset %d holds record %d, want %d",
			ErrCorruptIndex, s.path, offset, h.Recno, expect)
	}
	if offset+h.RecordSize() > end {
		return nil, fmt.Errorf("record %d (%d bytes) at %d runs past end %d of %s: %w",
			h.Recno, h.RecordSize(), offset, end, s.path, io.ErrUnexpectedEOF)
	}

	body := make([]byte, int(h.DataLen)+h.SigLen())
	if len(body) > 0 {
		if _, err := s.file.ReadAt(body, offset+RecordHeaderSize); err != nil {
			return nil, fmt.Errorf("failed to read record %d body: %w", h.Recno, readErr(err))
		}
	}
	instrumentRead(RecordHeaderSize + len(body))

	rec := &Record{
		Recno:     h.Recno,
		Timestamp: h.Timestamp,
		Flags:     h.Flags,
		HashAlgs:  h.HashAlgs,
		SigDigest: h.SigDigest(),
		Payload:   body[:h.DataLen],
	}
	if h.SigLen() > 0 {
		rec.Signature = body[h.DataLen:]
	}
	return rec, nil
}

// readErr turns a short pread into io.ErrUnexpectedEOF.
func readErr(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// NewReader returns a reader over the record area of the segment.
func (s *Segment) NewReader() *io.SectionReader {
	return io.NewSectionReader(s.file, s.HeaderSize(), s.Size()-s.HeaderSize())
}

// =============================================================================
// CLOSE
// =============================================================================

// Close syncs (when writable) and closes the file. Closing twice is a no-op.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var syncErr error
	if !s.readOnly {
		syncErr = s.file.Sync()
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close segment %s: %w", s.path, err)
	}
	if syncErr != nil {
		return fmt.Errorf("failed to sync segment %s: %w", s.path, syncErr)
	}
	return nil
}
