package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// NameSize is the length of a binary log name.
const NameSize = 32

// Name is the fixed-length binary name of a log.
type Name [NameSize]byte

// String returns the printable (unpadded base64url) form of the name.
func (n Name) String() string {
	return base64.RawURLEncoding.EncodeToString(n[:])
}

// IsZero reports whether n is the all-zero name.
func (n Name) IsZero() bool {
	return n == Name{}
}

// ParseName converts user input into a log name.
//
// Accepted forms, in order:
//   - 43-character printable (base64url) name
//   - 64 hex digits
//   - anything else is a human-readable name and is hashed with SHA-256
func ParseName(s string) (Name, error) {
	var n Name
	if s == "" {
		return n, fmt.Errorf("%w: empty log name", ErrNotFound)
	}
	if len(s) == base64.RawURLEncoding.EncodedLen(NameSize) {
		if b, err := base64.RawURLEncoding.DecodeString(s); err == nil && len(b) == NameSize {
			copy(n[:], b)
			return n, nil
		}
	}
	if len(s) == 2*NameSize {
		if b, err := hex.DecodeString(s); err == nil {
			copy(n[:], b)
			return n, nil
		}
	}
	return sha256.Sum256([]byte(s)), nil
}

// Recno is a 1-based record number within a log. Zero means "unassigned".
type Recno uint64

// SegmentNo identifies a segment within a log. LegacySegment is used by
// logs stored in a single unnumbered file.
type SegmentNo int32

// LegacySegment is the segment number of a single-file legacy log.
const LegacySegment SegmentNo = -1

// Timestamp is the on-disk commit timestamp of a record.
type Timestamp struct {
	Sec      int64
	Nsec     int32
	Accuracy float32
}

// TimestampFromTime converts t, leaving Accuracy unset.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{Sec: t.Unix(), Nsec: int32(t.Nanosecond())}
}

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return TimestampFromTime(time.Now())
}

// Time converts the timestamp to a time.Time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Sec, int64(ts.Nsec))
}

// IsZero reports whether no time has been set.
func (ts Timestamp) IsZero() bool {
	return ts.Sec == 0 && ts.Nsec == 0
}

// Compare returns -1, 0 or +1 ordering by seconds then nanoseconds.
// Accuracy does not participate.
func (ts Timestamp) Compare(o Timestamp) int {
	switch {
	case ts.Sec < o.Sec:
		return -1
	case ts.Sec > o.Sec:
		return 1
	case ts.Nsec < o.Nsec:
		return -1
	case ts.Nsec > o.Nsec:
		return 1
	}
	return 0
}

func (ts Timestamp) String() string {
	return ts.Time().UTC().Format(time.RFC3339Nano)
}

// Record is one immutable entry of a log.
type Record struct {
	Recno     Recno
	Timestamp Timestamp
	Flags     uint16

	// HashAlgs names the hash algorithms used to chain this record.
	HashAlgs uint8

	// SigDigest is the digest algorithm of the signature (4 bits).
	SigDigest uint8

	Payload   []byte
	Signature []byte
}

// Equal reports whether two records are bit-identical.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.Recno == o.Recno &&
		r.Timestamp.Compare(o.Timestamp) == 0 &&
		math.Float32bits(r.Timestamp.Accuracy) == math.Float32bits(o.Timestamp.Accuracy) &&
		r.Flags == o.Flags &&
		r.HashAlgs == o.HashAlgs &&
		r.SigDigest == o.SigDigest &&
		bytes.Equal(r.Payload, o.Payload) &&
		bytes.Equal(r.Signature, o.Signature)
}

// Stats is the result of get_stats.
type Stats struct {
	// RecordCount is the number of record numbers from the first readable
	// record to the newest one. Holes left by a lenient gap policy are
	// included; it is not the number of records stored.
	RecordCount int64

	// ByteSize is the total size of the segment files, headers included.
	ByteSize int64
}

// OpenMode selects which operations a handle permits.
type OpenMode int

const (
	ModeRead OpenMode = 1 << iota
	ModeAppend

	ModeReadAppend = ModeRead | ModeAppend
)

func (m OpenMode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeAppend:
		return "append"
	case ModeReadAppend:
		return "read+append"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Has reports whether every bit of want is set in m.
func (m OpenMode) Has(want OpenMode) bool {
	return m&want == want
}

// DurabilityPolicy collects the "forgiving" behaviours of a log. It is
// fixed when a handle is opened.
type DurabilityPolicy struct {
	// AllowGaps lets record numbers skip ahead; skipped numbers read as
	// ErrRecordMissing.
	AllowGaps bool

	// AllowDuplicates lets an already-written record number be written
	// again; the index then points at the newest copy.
	AllowDuplicates bool

	// DisableTimestampIndexOnError closes and renames the timestamp index
	// aside after a severe write failure instead of failing the append.
	DisableTimestampIndexOnError bool
}

// DefaultPolicy is strict about record numbers and lenient about the
// timestamp index.
func DefaultPolicy() DurabilityPolicy {
	return DurabilityPolicy{DisableTimestampIndexOnError: true}
}
