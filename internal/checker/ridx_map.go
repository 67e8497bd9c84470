package checker

import (
	"errors"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/Halliburton-Landmark/gdp-sub000/internal/storage"
)

// ridxMap is a read-only memory-mapped view of a RIDX file. The checker
// probes every slot once, so mapping the file beats a pread per record.
//
//	┌────────────┬──────────┬──────────┬─────┐
//	│ header(24) │ slot min │ slot +1  │ ... │   slot = {recno, offset, segment}
//	└────────────┴──────────┴──────────┴─────┘
type ridxMap struct {
	file       *os.File
	data       mmap.MMap
	headerSize int64
	minRecno   storage.Recno
	slots      int64
	legacy     bool
}

func openRidxMap(path string) (*ridxMap, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: ridx %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open ridx: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat ridx: %w", err)
	}

	m := &ridxMap{file: file}
	// An empty file cannot be mapped; it is an empty legacy index.
	if info.Size() > 0 {
		if m.data, err = mmap.Map(file, mmap.RDONLY, 0); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to map ridx: %w", err)
		}
	}

	h, err := storage.DecodeRidxHeader(m.data)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("ridx %s: %w", path, err)
	}
	if h == nil {
		m.legacy = true
		m.minRecno = 1
	} else {
		m.headerSize = int64(h.HeaderSize)
		m.minRecno = h.MinRecno
	}
	size := int64(len(m.data))
	if size < m.headerSize {
		m.Close()
		return nil, fmt.Errorf("%w: ridx %s is shorter than its header", storage.ErrCorruptFormat, path)
	}
	m.slots = (size - m.headerSize) / storage.RidxEntrySize
	return m, nil
}

// MaxRecno is the record number of the last whole slot.
func (m *ridxMap) MaxRecno() storage.Recno {
	return m.minRecno + storage.Recno(m.slots) - 1
}

// Slot returns the raw slot for recno. ok is false when recno has no slot.
func (m *ridxMap) Slot(recno storage.Recno) (storage.RecnoEntry, bool) {
	if recno < m.minRecno || recno > m.MaxRecno() {
		return storage.RecnoEntry{}, false
	}
	off := m.headerSize + int64(recno-m.minRecno)*storage.RidxEntrySize
	e, err := storage.DecodeRecnoEntry(m.data[off : off+storage.RidxEntrySize])
	if err != nil {
		return storage.RecnoEntry{}, false
	}
	return e, true
}

func (m *ridxMap) Close() error {
	var err error
	if m.data != nil {
		err = m.data.Unmap()
		m.data = nil
	}
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	return err
}
