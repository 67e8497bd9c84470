package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"testing"
)

func testName(t *testing.T, s string) Name {
	t.Helper()
	n, err := ParseName(s)
	if err != nil {
		t.Fatalf("ParseName(%q) failed: %v", s, err)
	}
	return n
}

func TestSegmentHeader_EncodeDecode(t *testing.T) {
	h := &SegmentHeader{
		Magic:       SegmentMagic,
		Version:     SegmentVersion,
		HeaderSize:  SegmentHeaderSize + 8 + 5,
		MDCount:     1,
		LogType:     LogTypeDisk,
		SegmentNo:   3,
		LogName:     testName(t, "header-log"),
		RecnoOffset: 4096,
	}
	buf := h.Encode()
	if len(buf) != SegmentHeaderSize {
		t.Fatalf("encoded header is %d bytes, want %d", len(buf), SegmentHeaderSize)
	}
	if got := binary.BigEndian.Uint32(buf[0:4]); got != 0x47445053 {
		t.Errorf("magic bytes = %#x", got)
	}

	got, err := DecodeSegmentHeader(buf)
	if err != nil {
		t.Fatalf("DecodeSegmentHeader failed: %v", err)
	}
	if *got != *h {
		t.Errorf("decoded %+v, want %+v", got, h)
	}
}

func TestSegmentHeader_LegacySegmentNumber(t *testing.T) {
	h := &SegmentHeader{
		Magic:      SegmentMagic,
		Version:    SegmentMinVersion,
		HeaderSize: SegmentHeaderSize,
		SegmentNo:  LegacySegment,
	}
	buf := h.Encode()
	if got := binary.BigEndian.Uint32(buf[20:24]); got != 0xFFFFFFFF {
		t.Errorf("legacy segment encoded as %#x", got)
	}
	got, err := DecodeSegmentHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.SegmentNo != LegacySegment {
		t.Errorf("SegmentNo = %d, want %d", got.SegmentNo, LegacySegment)
	}
}

func TestDecodeSegmentHeader_Errors(t *testing.T) {
	valid := func() *SegmentHeader {
		return &SegmentHeader{
			Magic:      SegmentMagic,
			Version:    SegmentVersion,
			HeaderSize: SegmentHeaderSize,
		}
	}

	tests := []struct {
		name    string
		mutate  func(h *SegmentHeader)
		wantErr error
	}{
		{"bad magic", func(h *SegmentHeader) { h.Magic = 0xdeadbeef }, ErrCorruptFormat},
		{"version too new", func(h *SegmentHeader) { h.Version = SegmentVersion + 1 }, ErrVersionMismatch},
		{"version zero", func(h *SegmentHeader) { h.Version = 0 }, ErrVersionMismatch},
		{"header too small for metadata", func(h *SegmentHeader) { h.MDCount = 2 }, ErrCorruptFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := valid()
			tt.mutate(h)
			_, err := DecodeSegmentHeader(h.Encode())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := DecodeSegmentHeader(make([]byte, 10)); !errors.Is(err, ErrCorruptFormat) {
		t.Errorf("short buffer: error = %v", err)
	}
}

func TestVersionMismatchIsCorruptFormat(t *testing.T) {
	if !errors.Is(ErrVersionMismatch, ErrCorruptFormat) {
		t.Error("ErrVersionMismatch should match ErrCorruptFormat")
	}
	if errors.Is(ErrCorruptFormat, ErrVersionMismatch) {
		t.Error("ErrCorruptFormat should not match ErrVersionMismatch")
	}
}

func TestEncodeRecord_Layout(t *testing.T) {
	rec := &Record{
		Recno:     7,
		Timestamp: Timestamp{Sec: 1700000000, Nsec: 42, Accuracy: 0.5},
		Flags:     0x0102,
		HashAlgs:  3,
		SigDigest: 9,
		Payload:   []byte("hello"),
		Signature: []byte("sig!"),
	}
	buf, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("EncodeRecord failed: %v", err)
	}
	if len(buf) != RecordHeaderSize+5+4 {
		t.Fatalf("encoded size %d", len(buf))
	}

	h, err := DecodeRecordHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if h.Recno != 7 || h.DataLen != 5 || h.SigLen() != 4 || h.SigDigest() != 9 {
		t.Errorf("unexpected header %+v", h)
	}
	if h.RecordSize() != int64(len(buf)) {
		t.Errorf("RecordSize = %d, want %d", h.RecordSize(), len(buf))
	}
	if !bytes.Equal(buf[RecordHeaderSize:RecordHeaderSize+5], rec.Payload) {
		t.Error("payload not after header")
	}
	if !bytes.Equal(buf[RecordHeaderSize+5:], rec.Signature) {
		t.Error("signature not after payload")
	}
	if buf[29] != 0 || buf[30] != 0 || buf[31] != 0 {
		t.Error("reserved bytes not zero")
	}
}

func TestEncodeRecord_Invalid(t *testing.T) {
	if _, err := EncodeRecord(&Record{Recno: 1, Signature: make([]byte, MaxSignatureSize+1)}); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("oversized signature: error = %v", err)
	}
	if _, err := EncodeRecord(&Record{Recno: 1, SigDigest: 16}); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("wide digest: error = %v", err)
	}
}

func TestDecodeRecordHeader_NegativeLength(t *testing.T) {
	h := RecordHeader{Recno: 1, DataLen: -1}
	_, err := DecodeRecordHeader(h.Encode())
	if !errors.Is(err, ErrCorruptFormat) {
		t.Errorf("error = %v, want ErrCorruptFormat", err)
	}
}

func TestRidxHeader(t *testing.T) {
	h := &RidxHeader{Magic: RidxMagic, Version: RidxVersion, HeaderSize: RidxHeaderSize, MinRecno: 100}
	got, err := DecodeRidxHeader(h.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if *got != *h {
		t.Errorf("decoded %+v, want %+v", got, h)
	}

	// No magic: legacy file.
	legacy := RecnoEntry{Recno: 1, Offset: 72}.Encode()
	got, err = DecodeRidxHeader(legacy)
	if err != nil || got != nil {
		t.Errorf("legacy: got %v, %v; want nil, nil", got, err)
	}

	h.Version = 2
	if _, err := DecodeRidxHeader(h.Encode()); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("bad version: error = %v", err)
	}
}

func TestRecnoEntry(t *testing.T) {
	e := RecnoEntry{Recno: 12, Offset: 4000, Segment: 2}
	buf := e.Encode()
	if len(buf) != RidxEntrySize {
		t.Fatalf("entry is %d bytes", len(buf))
	}
	got, err := DecodeRecnoEntry(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != e {
		t.Errorf("decoded %+v, want %+v", got, e)
	}
	if got.IsHole() {
		t.Error("entry with offset should not be a hole")
	}

	hole, _ := DecodeRecnoEntry(make([]byte, RidxEntrySize))
	if !hole.IsHole() {
		t.Error("zero entry should be a hole")
	}
}

func TestTidxKeyOrdering(t *testing.T) {
	a := EncodeTidxKey(Timestamp{Sec: 100, Nsec: 999999999})
	b := EncodeTidxKey(Timestamp{Sec: 101, Nsec: 0})
	if bytes.Compare(a, b) >= 0 {
		t.Error("keys should sort chronologically")
	}

	ts, err := DecodeTidxKey(b)
	if err != nil || ts.Sec != 101 || ts.Nsec != 0 {
		t.Errorf("DecodeTidxKey = %+v, %v", ts, err)
	}
	if _, err := DecodeTidxKey(b[:5]); !errors.Is(err, ErrCorruptIndex) {
		t.Errorf("short key: error = %v", err)
	}

	r, err := DecodeTidxValue(EncodeTidxValue(55))
	if err != nil || r != 55 {
		t.Errorf("DecodeTidxValue = %d, %v", r, err)
	}
}

func TestMetadata_EncodeDecode(t *testing.T) {
	md := NewMetadata().
		Add(MDExternalName, []byte("sensor-7")).
		Add(MDCreator, []byte("alice@example.org")).
		Add(0x12345678, nil)

	buf, err := md.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != md.EncodedSize() {
		t.Errorf("encoded %d bytes, EncodedSize %d", len(buf), md.EncodedSize())
	}
	// Descriptors first, payloads after.
	if id := binary.BigEndian.Uint32(buf[0:4]); id != MDExternalName {
		t.Errorf("first descriptor id %#x", id)
	}
	if !bytes.Equal(buf[24:32], []byte("sensor-7")) {
		t.Errorf("first payload at wrong place: %q", buf[24:32])
	}

	got, err := DecodeMetadata(3, buf)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := got.Get(MDCreator); !ok || string(v) != "alice@example.org" {
		t.Errorf("Get(MDCreator) = %q, %v", v, ok)
	}
	if got.Len() != 3 {
		t.Errorf("Len = %d", got.Len())
	}
}

func TestDecodeMetadata_Errors(t *testing.T) {
	buf, _ := NewMetadata().Add(1, []byte("abc")).Encode()

	if _, err := DecodeMetadata(2, buf); !errors.Is(err, ErrCorruptFormat) {
		t.Errorf("too many descriptors: error = %v", err)
	}
	if _, err := DecodeMetadata(1, buf[:len(buf)-1]); !errors.Is(err, ErrCorruptFormat) {
		t.Errorf("short payload: error = %v", err)
	}
	if _, err := DecodeMetadata(1, append(buf, 0)); !errors.Is(err, ErrCorruptFormat) {
		t.Errorf("trailing bytes: error = %v", err)
	}
}

func TestParseName(t *testing.T) {
	human := testName(t, "my-sensor-log")
	if human.IsZero() {
		t.Fatal("hashed name is zero")
	}

	round, err := ParseName(human.String())
	if err != nil || round != human {
		t.Errorf("printable round trip: %v, %v", round, err)
	}

	fromHex, err := ParseName(hex.EncodeToString(human[:]))
	if err != nil || fromHex != human {
		t.Errorf("hex form: %v, %v", fromHex, err)
	}

	if _, err := ParseName(""); err == nil {
		t.Error("empty name should fail")
	}
}

func TestParseSegmentFileName(t *testing.T) {
	name := testName(t, "files")
	tests := []struct {
		file   string
		wantNo SegmentNo
		wantOK bool
	}{
		{SegmentFileName(name, LegacySegment), LegacySegment, true},
		{SegmentFileName(name, 0), 0, true},
		{SegmentFileName(name, 123), 123, true},
		{name.String() + ridxSuffix, 0, false},
		{name.String() + "-x.gdplog", 0, false},
		{"other-000001.gdplog", 0, false},
	}
	for _, tt := range tests {
		no, ok := parseSegmentFileName(name.String(), tt.file)
		if ok != tt.wantOK || (ok && no != tt.wantNo) {
			t.Errorf("parseSegmentFileName(%q) = %d, %v; want %d, %v", tt.file, no, ok, tt.wantNo, tt.wantOK)
		}
	}
}
