// =============================================================================
// SEGMENT SCANNING - RE-DERIVING THE INDICES FROM THE DATA
// =============================================================================
//
// ScanRecords walks every record of every segment in order, without using
// the RIDX or TIDX. It is the primitive the checker builds on: whatever the
// scan sees is, by definition, what the indices should say.
//
//   segment 0                      segment 1
//   ┌──────┬────┬────┬────┐        ┌──────┬────┬────┐
//   │header│ r1 │ r2 │ r3 │        │header│ r4 │ r6 │   r6: gap (r5 missing)
//   └──────┴────┴────┴────┘        └──────┴────┴────┘
//
// Anomalies (gaps, duplicates, torn tails, segment headers whose
// recno_offset disagrees with the data) are reported through a callback and
// the scan keeps going where it safely can.
//
// =============================================================================

package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// ScanAnomalyKind names a condition found while scanning.
type ScanAnomalyKind string

const (
	// AnomalyGap: a record number is greater than the expected next one.
	AnomalyGap ScanAnomalyKind = "gap"

	// AnomalyDuplicate: a record number was already seen.
	AnomalyDuplicate ScanAnomalyKind = "duplicate"

	// AnomalyTruncated: the segment ends inside a record.
	AnomalyTruncated ScanAnomalyKind = "truncated"

	// AnomalyCorruptRecord: a record header failed to decode.
	AnomalyCorruptRecord ScanAnomalyKind = "corrupt record"

	// AnomalySegmentOffset: a segment header's recno_offset does not
	// continue the previous segment, or a new record is numbered at or
	// below it.
	AnomalySegmentOffset ScanAnomalyKind = "segment offset inconsistency"
)

// ScanAnomaly describes one anomaly.
type ScanAnomaly struct {
	Kind     ScanAnomalyKind
	Segment  SegmentNo
	Offset   int64
	Recno    Recno
	Expected Recno
	Detail   string
}

func (a ScanAnomaly) String() string {
	switch a.Kind {
	case AnomalyGap:
		return fmt.Sprintf("gap: segment %d offset %d holds record %d, expected %d",
			a.Segment, a.Offset, a.Recno, a.Expected)
	case AnomalyDuplicate:
		return fmt.Sprintf("duplicate: segment %d offset %d holds record %d, already saw up to %d",
			a.Segment, a.Offset, a.Recno, a.Expected-1)
	case AnomalySegmentOffset:
		if a.Recno == 0 {
			return fmt.Sprintf("%s: segment %d starts at record %s, expected %d",
				a.Kind, a.Segment, a.Detail, a.Expected)
		}
		return fmt.Sprintf("%s: segment %d offset %d holds record %d, segment starts at %s",
			a.Kind, a.Segment, a.Offset, a.Recno, a.Detail)
	}
	return fmt.Sprintf("%s: segment %d offset %d: %s", a.Kind, a.Segment, a.Offset, a.Detail)
}

// ScannedRecord is the position of one record found by the scan.
type ScannedRecord struct {
	Recno     Recno
	Timestamp Timestamp
	Segment   SegmentNo
	Offset    int64
	Size      int64
	Duplicate bool
}

// ScanVisitor receives scan events. Any callback may be nil. An error
// returned from Segment or Record aborts the scan.
type ScanVisitor struct {
	Segment func(seg *Segment) error
	Record  func(rec ScannedRecord) error
	Anomaly func(a ScanAnomaly)
}

// ScanResult summarizes a scan.
type ScanResult struct {
	Segments   int
	Records    int
	FirstRecno Recno
	MaxRecno   Recno
	Anomalies  int

	// FirstRecnoOffset is the recno_offset of the first segment.
	FirstRecnoOffset Recno

	// RecordsPerSegment counts the records found in each segment.
	RecordsPerSegment map[SegmentNo]int
}

// ScanRecords reads every record of segs in ascending order. Segments are
// opened read-only and closed again before the next one.
func ScanRecords(name Name, segs []SegmentInfo, v ScanVisitor) (*ScanResult, error) {
	res := &ScanResult{RecordsPerSegment: make(map[SegmentNo]int)}
	anomaly := func(a ScanAnomaly) {
		res.Anomalies++
		if v.Anomaly != nil {
			v.Anomaly(a)
		}
	}

	var expected, lastSeen Recno
	for i, info := range segs {
		seg, err := OpenSegment(info.Path, info.No, name, true)
		if err != nil {
			return res, err
		}
		first := seg.RecnoOffset() + 1
		switch {
		case i == 0:
			res.FirstRecnoOffset = seg.RecnoOffset()
			expected = first
		case first != expected:
			anomaly(ScanAnomaly{
				Kind: AnomalySegmentOffset, Segment: seg.Number(),
				Expected: expected, Detail: fmt.Sprint(first),
			})
		}
		res.Segments++

		err = scanSegment(seg, v, res, &expected, &lastSeen, anomaly)
		closeErr := seg.Close()
		if err != nil {
			return res, err
		}
		if closeErr != nil {
			return res, closeErr
		}
	}
	res.MaxRecno = lastSeen
	return res, nil
}

func scanSegment(seg *Segment, v ScanVisitor, res *ScanResult, expected, lastSeen *Recno, anomaly func(ScanAnomaly)) error {
	if v.Segment != nil {
		if err := v.Segment(seg); err != nil {
			return err
		}
	}

	r := bufio.NewReaderSize(seg.NewReader(), 64*1024)
	offset := seg.HeaderSize()
	end := seg.Size()
	hbuf := make([]byte, RecordHeaderSize)

	for offset < end {
		if _, err := io.ReadFull(r, hbuf); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				anomaly(ScanAnomaly{
					Kind: AnomalyTruncated, Segment: seg.Number(), Offset: offset,
					Detail: fmt.Sprintf("%d trailing bytes do not hold a record header", end-offset),
				})
				return nil
			}
			return fmt.Errorf("failed to read segment %d at %d: %w", seg.Number(), offset, err)
		}
		h, err := DecodeRecordHeader(hbuf)
		if err != nil {
			anomaly(ScanAnomaly{
				Kind: AnomalyCorruptRecord, Segment: seg.Number(), Offset: offset, Detail: err.Error(),
			})
			return nil
		}
		size := h.RecordSize()
		if offset+size > end {
			anomaly(ScanAnomaly{
				Kind: AnomalyTruncated, Segment: seg.Number(), Offset: offset, Recno: h.Recno,
				Detail: fmt.Sprintf("record %d needs %d bytes, %d remain", h.Recno, size, end-offset),
			})
			return nil
		}

		dup := false
		switch {
		case h.Recno <= seg.RecnoOffset() && h.Recno > *lastSeen:
			anomaly(ScanAnomaly{
				Kind: AnomalySegmentOffset, Segment: seg.Number(), Offset: offset,
				Recno: h.Recno, Expected: *expected, Detail: fmt.Sprint(seg.RecnoOffset() + 1),
			})
		case h.Recno > *expected:
			anomaly(ScanAnomaly{
				Kind: AnomalyGap, Segment: seg.Number(), Offset: offset,
				Recno: h.Recno, Expected: *expected,
			})
		case h.Recno <= *lastSeen:
			dup = true
			anomaly(ScanAnomaly{
				Kind: AnomalyDuplicate, Segment: seg.Number(), Offset: offset,
				Recno: h.Recno, Expected: *lastSeen + 1,
			})
		}
		if h.Recno > *lastSeen {
			*lastSeen = h.Recno
		}
		*expected = *lastSeen + 1

		if res.Records == 0 {
			res.FirstRecno = h.Recno
		}
		res.Records++
		res.RecordsPerSegment[seg.Number()]++

		if v.Record != nil {
			err := v.Record(ScannedRecord{
				Recno:     h.Recno,
				Timestamp: h.Timestamp,
				Segment:   seg.Number(),
				Offset:    offset,
				Size:      size,
				Duplicate: dup,
			})
			if err != nil {
				return err
			}
		}

		if _, err := r.Discard(int(size - RecordHeaderSize)); err != nil {
			return fmt.Errorf("failed to skip record %d body: %w", h.Recno, err)
		}
		offset += size
	}
	return nil
}
