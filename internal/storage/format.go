// =============================================================================
// ON-DISK FORMAT - ONE ENCODE/DECODE PAIR PER STRUCT
// =============================================================================
//
// Every multi-byte field in every file is big-endian. Nothing outside this
// file touches byte order, which keeps the read/write paths free of
// conversions and lets the layouts be tested without any file I/O.
//
// SEGMENT FILE:
// ┌──────────────────────────────────────────────────────────────────────────┐
// │ HEADER (fixed 72 bytes)                                                  │
// │ Magic (4B) │ Version (4B) │ HeaderSize (4B) │ Reserved (4B)              │
// │ MDCount (2B) │ LogType (2B) │ SegmentNo (4B) │ Reserved (8B)             │
// │ LogName (32B) │ RecnoOffset (8B)                                         │
// ├──────────────────────────────────────────────────────────────────────────┤
// │ METADATA (MDCount × {ID (4B) │ Len (4B)}, then payloads)                 │
// ├──────────────────────────────────────────────────────────────────────────┤
// │ RECORDS, starting at HeaderSize                                          │
// │ Recno (8B) │ Sec (8B) │ Nsec (4B) │ Accuracy (4B) │ SigMeta (2B)         │
// │ Flags (2B) │ HashAlgs (1B) │ Reserved (3B) │ DataLen (4B, signed)        │
// │ Payload (DataLen) │ Signature (SigMeta & 0x0FFF)                         │
// └──────────────────────────────────────────────────────────────────────────┘
//
// RIDX FILE:
// ┌──────────────────────────────────────────────────────────────────────────┐
// │ Magic (4B) │ Version (4B) │ HeaderSize (4B) │ Reserved (4B) │ Min (8B)   │
// ├──────────────────────────────────────────────────────────────────────────┤
// │ Recno (8B) │ Offset (8B, signed) │ Segment (4B) │ Reserved (4B)  × N     │
// └──────────────────────────────────────────────────────────────────────────┘
//
// Legacy RIDX files have no header: entries start at byte 0 and the first
// entry is record 1.
//
// TIDX KEY / VALUE:
//   key   = Sec (8B, signed) │ Nsec (4B, signed)
//   value = Recno (8B)
//
// =============================================================================

package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// SegmentMagic identifies a segment file ("GDPS").
	SegmentMagic uint32 = 0x47445053

	// SegmentVersion is the version written by this implementation.
	SegmentVersion uint32 = 2

	// SegmentMinVersion is the oldest version that can still be read.
	SegmentMinVersion uint32 = 1

	// SegmentHeaderSize is the fixed part of a segment header.
	SegmentHeaderSize = 72

	// RecordHeaderSize is the size of an encoded record header.
	RecordHeaderSize = 36

	// RidxMagic identifies a RIDX file ("GDPR").
	RidxMagic uint32 = 0x47445052

	// RidxVersion is the RIDX format version.
	RidxVersion uint32 = 1

	// RidxHeaderSize is the size of the RIDX header.
	RidxHeaderSize = 24

	// RidxEntrySize is the size of one RIDX slot.
	RidxEntrySize = 24

	// TidxKeySize and TidxValueSize describe the timestamp index encoding.
	TidxKeySize   = 12
	TidxValueSize = 8
)

// LogTypeDisk marks a log stored by the segment backend.
const LogTypeDisk uint16 = 1

const (
	// SigLenMask extracts the signature length from SigMeta.
	SigLenMask uint16 = 0x0FFF

	// MaxSignatureSize is the largest signature SigMeta can describe.
	MaxSignatureSize = int(SigLenMask)

	sigDigestShift = 12
)

// =============================================================================
// SEGMENT HEADER
// =============================================================================

// SegmentHeader is the fixed header at the start of every segment file.
type SegmentHeader struct {
	Magic       uint32
	Version     uint32
	HeaderSize  uint32
	MDCount     uint16
	LogType     uint16
	SegmentNo   SegmentNo
	LogName     Name
	RecnoOffset Recno
}

// Encode returns the 72-byte header.
func (h *SegmentHeader) Encode() []byte {
	buf := make([]byte, SegmentHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint32(buf[4:8], h.Version)
	binary.BigEndian.PutUint32(buf[8:12], h.HeaderSize)
	// buf[12:16] reserved
	binary.BigEndian.PutUint16(buf[16:18], h.MDCount)
	binary.BigEndian.PutUint16(buf[18:20], h.LogType)
	binary.BigEndian.PutUint32(buf[20:24], uint32(h.SegmentNo))
	// buf[24:32] reserved
	copy(buf[32:32+NameSize], h.LogName[:])
	binary.BigEndian.PutUint64(buf[64:72], uint64(h.RecnoOffset))
	return buf
}

// DecodeSegmentHeader parses and validates a segment header. The metadata
// block is not read here; its size is HeaderSize - SegmentHeaderSize.
func DecodeSegmentHeader(buf []byte) (*SegmentHeader, error) {
	if len(buf) < SegmentHeaderSize {
		return nil, fmt.Errorf("%w: segment header needs %d bytes, have %d",
			ErrCorruptFormat, SegmentHeaderSize, len(buf))
	}
	h := &SegmentHeader{
		Magic:       binary.BigEndian.Uint32(buf[0:4]),
		Version:     binary.BigEndian.Uint32(buf[4:8]),
		HeaderSize:  binary.BigEndian.Uint32(buf[8:12]),
		MDCount:     binary.BigEndian.Uint16(buf[16:18]),
		LogType:     binary.BigEndian.Uint16(buf[18:20]),
		SegmentNo:   SegmentNo(int32(binary.BigEndian.Uint32(buf[20:24]))),
		RecnoOffset: Recno(binary.BigEndian.Uint64(buf[64:72])),
	}
	copy(h.LogName[:], buf[32:32+NameSize])

	if h.Magic != SegmentMagic {
		return nil, fmt.Errorf("%w: bad segment magic %#08x", ErrCorruptFormat, h.Magic)
	}
	if h.Version < SegmentMinVersion || h.Version > SegmentVersion {
		return nil, fmt.Errorf("%w: segment version %d not in [%d, %d]",
			ErrVersionMismatch, h.Version, SegmentMinVersion, SegmentVersion)
	}
	minSize := uint32(SegmentHeaderSize) + uint32(h.MDCount)*metadataDescSize
	if h.HeaderSize < minSize {
		return nil, fmt.Errorf("%w: header size %d too small for %d metadata entries",
			ErrCorruptFormat, h.HeaderSize, h.MDCount)
	}
	return h, nil
}

// =============================================================================
// RECORD HEADER
// =============================================================================

// RecordHeader precedes each record's payload in a segment.
type RecordHeader struct {
	Recno     Recno
	Timestamp Timestamp
	SigMeta   uint16
	Flags     uint16
	HashAlgs  uint8
	DataLen   int32
}

// SigLen returns the signature length encoded in SigMeta.
func (h *RecordHeader) SigLen() int {
	return int(h.SigMeta & SigLenMask)
}

// SigDigest returns the signature digest algorithm encoded in SigMeta.
func (h *RecordHeader) SigDigest() uint8 {
	return uint8(h.SigMeta >> sigDigestShift)
}

// RecordSize is the full on-disk size of the record this header describes.
func (h *RecordHeader) RecordSize() int64 {
	return RecordHeaderSize + int64(h.DataLen) + int64(h.SigLen())
}

// Encode returns the 36-byte header.
func (h *RecordHeader) Encode() []byte {
	buf := make([]byte, RecordHeaderSize)
	h.encodeTo(buf)
	return buf
}

func (h *RecordHeader) encodeTo(buf []byte) {
	binary.BigEndian.PutUint64(buf[0:8], uint64(h.Recno))
	binary.BigEndian.PutUint64(buf[8:16], uint64(h.Timestamp.Sec))
	binary.BigEndian.PutUint32(buf[16:20], uint32(h.Timestamp.Nsec))
	binary.BigEndian.PutUint32(buf[20:24], math.Float32bits(h.Timestamp.Accuracy))
	binary.BigEndian.PutUint16(buf[24:26], h.SigMeta)
	binary.BigEndian.PutUint16(buf[26:28], h.Flags)
	buf[28] = h.HashAlgs
	buf[29], buf[30], buf[31] = 0, 0, 0
	binary.BigEndian.PutUint32(buf[32:36], uint32(h.DataLen))
}

// DecodeRecordHeader parses a record header. A negative payload length is
// reported as ErrCorruptFormat.
func DecodeRecordHeader(buf []byte) (*RecordHeader, error) {
	if len(buf) < RecordHeaderSize {
		return nil, fmt.Errorf("%w: record header needs %d bytes, have %d",
			ErrCorruptFormat, RecordHeaderSize, len(buf))
	}
	h := &RecordHeader{
		Recno: Recno(binary.BigEndian.Uint64(buf[0:8])),
		Timestamp: Timestamp{
			Sec:      int64(binary.BigEndian.Uint64(buf[8:16])),
			Nsec:     int32(binary.BigEndian.Uint32(buf[16:20])),
			Accuracy: math.Float32frombits(binary.BigEndian.Uint32(buf[20:24])),
		},
		SigMeta:  binary.BigEndian.Uint16(buf[24:26]),
		Flags:    binary.BigEndian.Uint16(buf[26:28]),
		HashAlgs: buf[28],
		DataLen:  int32(binary.BigEndian.Uint32(buf[32:36])),
	}
	if h.DataLen < 0 {
		return nil, fmt.Errorf("%w: record %d has negative data length %d",
			ErrCorruptFormat, h.Recno, h.DataLen)
	}
	return h, nil
}

// EncodeRecord serializes header, payload and signature into one buffer.
func EncodeRecord(rec *Record) ([]byte, error) {
	if len(rec.Signature) > MaxSignatureSize {
		return nil, fmt.Errorf("%w: signature is %d bytes, max %d",
			ErrInvalidRecord, len(rec.Signature), MaxSignatureSize)
	}
	if len(rec.Payload) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: payload is %d bytes", ErrInvalidRecord, len(rec.Payload))
	}
	if rec.SigDigest > 0x0F {
		return nil, fmt.Errorf("%w: signature digest %d does not fit in 4 bits",
			ErrInvalidRecord, rec.SigDigest)
	}
	h := RecordHeader{
		Recno:     rec.Recno,
		Timestamp: rec.Timestamp,
		SigMeta:   uint16(rec.SigDigest)<<sigDigestShift | uint16(len(rec.Signature)),
		Flags:     rec.Flags,
		HashAlgs:  rec.HashAlgs,
		DataLen:   int32(len(rec.Payload)),
	}
	buf := make([]byte, RecordHeaderSize+len(rec.Payload)+len(rec.Signature))
	h.encodeTo(buf)
	n := copy(buf[RecordHeaderSize:], rec.Payload)
	copy(buf[RecordHeaderSize+n:], rec.Signature)
	return buf, nil
}

// =============================================================================
// RIDX HEADER AND ENTRY
// =============================================================================

// RidxHeader is the header of a current-format RIDX file.
type RidxHeader struct {
	Magic      uint32
	Version    uint32
	HeaderSize uint32
	MinRecno   Recno
}

// Encode returns the 24-byte header.
func (h *RidxHeader) Encode() []byte {
	buf := make([]byte, RidxHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint32(buf[4:8], h.Version)
	binary.BigEndian.PutUint32(buf[8:12], h.HeaderSize)
	binary.BigEndian.PutUint64(buf[16:24], uint64(h.MinRecno))
	return buf
}

// DecodeRidxHeader parses a RIDX header. If buf does not start with
// RidxMagic the file is legacy and (nil, nil) is returned.
func DecodeRidxHeader(buf []byte) (*RidxHeader, error) {
	if len(buf) < 4 || binary.BigEndian.Uint32(buf[0:4]) != RidxMagic {
		return nil, nil
	}
	if len(buf) < RidxHeaderSize {
		return nil, fmt.Errorf("%w: ridx header needs %d bytes, have %d",
			ErrCorruptFormat, RidxHeaderSize, len(buf))
	}
	h := &RidxHeader{
		Magic:      RidxMagic,
		Version:    binary.BigEndian.Uint32(buf[4:8]),
		HeaderSize: binary.BigEndian.Uint32(buf[8:12]),
		MinRecno:   Recno(binary.BigEndian.Uint64(buf[16:24])),
	}
	if h.Version != RidxVersion {
		return nil, fmt.Errorf("%w: ridx version %d, want %d", ErrVersionMismatch, h.Version, RidxVersion)
	}
	if h.HeaderSize < RidxHeaderSize {
		return nil, fmt.Errorf("%w: ridx header size %d", ErrCorruptFormat, h.HeaderSize)
	}
	if h.MinRecno == 0 {
		return nil, fmt.Errorf("%w: ridx minimum record number is 0", ErrCorruptFormat)
	}
	return h, nil
}

// RecnoEntry is one RIDX slot: where a record lives.
type RecnoEntry struct {
	Recno   Recno
	Offset  int64
	Segment SegmentNo
}

// IsHole reports whether the slot was never written.
func (e RecnoEntry) IsHole() bool {
	return e.Offset == 0
}

// Encode returns the 24-byte slot.
func (e RecnoEntry) Encode() []byte {
	buf := make([]byte, RidxEntrySize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(e.Recno))
	binary.BigEndian.PutUint64(buf[8:16], uint64(e.Offset))
	binary.BigEndian.PutUint32(buf[16:20], uint32(e.Segment))
	return buf
}

// DecodeRecnoEntry parses one RIDX slot.
func DecodeRecnoEntry(buf []byte) (RecnoEntry, error) {
	if len(buf) < RidxEntrySize {
		return RecnoEntry{}, fmt.Errorf("%w: ridx entry needs %d bytes, have %d",
			ErrCorruptIndex, RidxEntrySize, len(buf))
	}
	return RecnoEntry{
		Recno:   Recno(binary.BigEndian.Uint64(buf[0:8])),
		Offset:  int64(binary.BigEndian.Uint64(buf[8:16])),
		Segment: SegmentNo(int32(binary.BigEndian.Uint32(buf[16:20]))),
	}, nil
}

// =============================================================================
// TIDX KEY AND VALUE
// =============================================================================

// EncodeTidxKey encodes a timestamp as a TIDX key. For non-negative
// seconds, byte order equals chronological order.
func EncodeTidxKey(ts Timestamp) []byte {
	buf := make([]byte, TidxKeySize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(ts.Sec))
	binary.BigEndian.PutUint32(buf[8:12], uint32(ts.Nsec))
	return buf
}

// DecodeTidxKey parses a TIDX key.
func DecodeTidxKey(buf []byte) (Timestamp, error) {
	if len(buf) != TidxKeySize {
		return Timestamp{}, fmt.Errorf("%w: tidx key is %d bytes", ErrCorruptIndex, len(buf))
	}
	return Timestamp{
		Sec:  int64(binary.BigEndian.Uint64(buf[0:8])),
		Nsec: int32(binary.BigEndian.Uint32(buf[8:12])),
	}, nil
}

// EncodeTidxValue encodes a record number as a TIDX value.
func EncodeTidxValue(recno Recno) []byte {
	buf := make([]byte, TidxValueSize)
	binary.BigEndian.PutUint64(buf, uint64(recno))
	return buf
}

// DecodeTidxValue parses a TIDX value.
func DecodeTidxValue(buf []byte) (Recno, error) {
	if len(buf) != TidxValueSize {
		return 0, fmt.Errorf("%w: tidx value is %d bytes", ErrCorruptIndex, len(buf))
	}
	return Recno(binary.BigEndian.Uint64(buf)), nil
}
