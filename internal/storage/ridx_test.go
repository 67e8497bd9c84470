package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

var (
	strict  = DurabilityPolicy{}
	lenient = DurabilityPolicy{AllowGaps: true, AllowDuplicates: true}
)

func TestRecnoIndex_PutRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.gdpndx")

	x, err := CreateRecnoIndex(path, 1)
	if err != nil {
		t.Fatalf("CreateRecnoIndex failed: %v", err)
	}
	defer x.Close()

	if x.MaxRecno() != 0 {
		t.Errorf("empty MaxRecno = %d, want 0", x.MaxRecno())
	}
	for r := Recno(1); r <= 5; r++ {
		if err := x.Put(RecnoEntry{Recno: r, Offset: int64(r) * 100, Segment: 0}, strict); err != nil {
			t.Fatalf("Put %d failed: %v", r, err)
		}
	}
	if x.MaxRecno() != 5 {
		t.Errorf("MaxRecno = %d, want 5", x.MaxRecno())
	}

	e, err := x.Read(3, strict)
	if err != nil {
		t.Fatal(err)
	}
	if e.Offset != 300 {
		t.Errorf("Offset = %d, want 300", e.Offset)
	}

	info, _ := os.Stat(path)
	if info.Size() != RidxHeaderSize+5*RidxEntrySize {
		t.Errorf("file size %d", info.Size())
	}
}

func TestRecnoIndex_StrictPolicy(t *testing.T) {
	x, err := CreateRecnoIndex(filepath.Join(t.TempDir(), "x.gdpndx"), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer x.Close()

	x.Put(RecnoEntry{Recno: 1, Offset: 72}, strict)

	if err := x.Put(RecnoEntry{Recno: 3, Offset: 200}, strict); !errors.Is(err, ErrNotFound) {
		t.Errorf("gap: error = %v, want ErrNotFound", err)
	}
	if err := x.Put(RecnoEntry{Recno: 1, Offset: 200}, strict); !errors.Is(err, ErrRecordDuplicated) {
		t.Errorf("duplicate: error = %v, want ErrRecordDuplicated", err)
	}
	if err := x.CheckPut(2, strict); err != nil {
		t.Errorf("CheckPut next: %v", err)
	}
	if _, err := x.Read(2, strict); !errors.Is(err, ErrNotFound) {
		t.Errorf("read beyond end: error = %v, want ErrNotFound", err)
	}
	if _, err := x.Read(0, strict); !errors.Is(err, ErrCorruptIndex) {
		t.Errorf("read below min: error = %v, want ErrCorruptIndex", err)
	}
}

func TestRecnoIndex_GapsAndDuplicates(t *testing.T) {
	x, err := CreateRecnoIndex(filepath.Join(t.TempDir(), "x.gdpndx"), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer x.Close()

	x.Put(RecnoEntry{Recno: 1, Offset: 72}, lenient)
	if err := x.Put(RecnoEntry{Recno: 4, Offset: 500}, lenient); err != nil {
		t.Fatalf("gap with AllowGaps: %v", err)
	}
	if x.MaxRecno() != 4 {
		t.Errorf("MaxRecno = %d, want 4", x.MaxRecno())
	}
	if _, err := x.Read(2, lenient); !errors.Is(err, ErrRecordMissing) {
		t.Errorf("hole: error = %v, want ErrRecordMissing", err)
	}
	if _, err := x.Read(9, lenient); !errors.Is(err, ErrRecordMissing) {
		t.Errorf("beyond end with AllowGaps: error = %v, want ErrRecordMissing", err)
	}

	if err := x.Put(RecnoEntry{Recno: 1, Offset: 900}, lenient); err != nil {
		t.Fatalf("duplicate with AllowDuplicates: %v", err)
	}
	e, _ := x.Read(1, lenient)
	if e.Offset != 900 {
		t.Errorf("duplicate should point at newest copy, got offset %d", e.Offset)
	}
	if x.MaxRecno() != 4 {
		t.Errorf("rewrite must not move MaxRecno, got %d", x.MaxRecno())
	}
}

func TestRecnoIndex_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.gdpndx")
	x, err := CreateRecnoIndex(path, 50)
	if err != nil {
		t.Fatal(err)
	}
	x.Put(RecnoEntry{Recno: 50, Offset: 72}, strict)
	x.Put(RecnoEntry{Recno: 51, Offset: 120}, strict)
	x.Close()

	// Simulate a torn trailing entry.
	f, _ := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	f.Write([]byte{1, 2, 3})
	f.Close()

	y, err := OpenRecnoIndex(path, false)
	if err != nil {
		t.Fatalf("OpenRecnoIndex failed: %v", err)
	}
	defer y.Close()

	if y.IsLegacy() {
		t.Error("index with header reported as legacy")
	}
	if y.MinRecno() != 50 || y.MaxRecno() != 51 {
		t.Errorf("bounds [%d, %d], want [50, 51]", y.MinRecno(), y.MaxRecno())
	}
	if err := y.Put(RecnoEntry{Recno: 52, Offset: 170}, strict); err != nil {
		t.Fatalf("Put after reopen: %v", err)
	}
	if e, err := y.Read(52, strict); err != nil || e.Offset != 170 {
		t.Errorf("Read(52) = %+v, %v", e, err)
	}
}

func TestRecnoIndex_Legacy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.gdpndx")
	var buf []byte
	for r := Recno(1); r <= 3; r++ {
		buf = append(buf, RecnoEntry{Recno: r, Offset: int64(r) * 64, Segment: LegacySegment}.Encode()...)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}

	x, err := OpenRecnoIndex(path, true)
	if err != nil {
		t.Fatal(err)
	}
	defer x.Close()

	if !x.IsLegacy() {
		t.Error("expected legacy index")
	}
	if x.MinRecno() != 1 || x.MaxRecno() != 3 {
		t.Errorf("bounds [%d, %d], want [1, 3]", x.MinRecno(), x.MaxRecno())
	}
	e, err := x.Read(2, strict)
	if err != nil || e.Offset != 128 || e.Segment != LegacySegment {
		t.Errorf("Read(2) = %+v, %v", e, err)
	}
	if err := x.Put(RecnoEntry{Recno: 4, Offset: 1}, strict); !errors.Is(err, ErrMethodNotAllowed) {
		t.Errorf("Put on read-only: error = %v", err)
	}
}

func TestRecnoIndex_CorruptSlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.gdpndx")
	x, err := CreateRecnoIndex(path, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer x.Close()

	x.Put(RecnoEntry{Recno: 1, Offset: 72}, strict)
	// Slot 2 claims to be record 7.
	x.Put(RecnoEntry{Recno: 2, Offset: 108}, strict)
	f, _ := os.OpenFile(path, os.O_WRONLY, 0)
	f.WriteAt(RecnoEntry{Recno: 7, Offset: 108}.Encode(), RidxHeaderSize+RidxEntrySize)
	f.Close()

	if _, err := x.Read(2, strict); !errors.Is(err, ErrCorruptIndex) {
		t.Errorf("error = %v, want ErrCorruptIndex", err)
	}
}

func TestCreateRecnoIndex_Conflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.gdpndx")
	x, err := CreateRecnoIndex(path, 1)
	if err != nil {
		t.Fatal(err)
	}
	x.Close()
	if _, err := CreateRecnoIndex(path, 1); !errors.Is(err, ErrConflict) {
		t.Errorf("error = %v, want ErrConflict", err)
	}
	if _, err := OpenRecnoIndex(path+".missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: error = %v, want ErrNotFound", err)
	}
}
