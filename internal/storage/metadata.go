package storage

import (
	"encoding/binary"
	"fmt"
)

// Well-known metadata identifiers. Any other id is carried opaquely.
const (
	MDExternalName uint32 = 0x00584944 // 'XID'
	MDPublicKey    uint32 = 0x00505542 // 'PUB'
	MDCreationTime uint32 = 0x0043544D // 'CTM'
	MDCreator      uint32 = 0x00434944 // 'CID'
	MDSyntax       uint32 = 0x0053594E // 'SYN'
	MDNonce        uint32 = 0x004E4F4E // 'NON'
)

// metadataDescSize is the size of one {id:u32,len:u32} descriptor.
const metadataDescSize = 8

// MetadataEntry is one id/value pair of log metadata.
type MetadataEntry struct {
	ID   uint32
	Data []byte
}

// Metadata is the ordered set of entries written once at log creation and
// replicated into every later segment.
type Metadata struct {
	entries []MetadataEntry
}

// NewMetadata returns empty metadata.
func NewMetadata() *Metadata {
	return &Metadata{}
}

// Add appends an entry. Ids are not required to be unique.
func (m *Metadata) Add(id uint32, data []byte) *Metadata {
	m.entries = append(m.entries, MetadataEntry{ID: id, Data: append([]byte(nil), data...)})
	return m
}

// Get returns the first entry with the given id.
func (m *Metadata) Get(id uint32) ([]byte, bool) {
	if m == nil {
		return nil, false
	}
	for _, e := range m.entries {
		if e.ID == id {
			return e.Data, true
		}
	}
	return nil, false
}

// Len returns the number of entries.
func (m *Metadata) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries returns the entries in storage order.
func (m *Metadata) Entries() []MetadataEntry {
	if m == nil {
		return nil
	}
	return m.entries
}

// Clone returns a deep copy.
func (m *Metadata) Clone() *Metadata {
	c := NewMetadata()
	for _, e := range m.Entries() {
		c.Add(e.ID, e.Data)
	}
	return c
}

// EncodedSize is the size of the metadata block on disk.
func (m *Metadata) EncodedSize() int {
	n := 0
	for _, e := range m.Entries() {
		n += metadataDescSize + len(e.Data)
	}
	return n
}

// Encode returns the descriptors followed by the concatenated payloads.
func (m *Metadata) Encode() ([]byte, error) {
	if m.Len() > 0xFFFF {
		return nil, fmt.Errorf("%w: %d metadata entries", ErrInvalidRecord, m.Len())
	}
	buf := make([]byte, m.EncodedSize())
	pos := 0
	for _, e := range m.Entries() {
		binary.BigEndian.PutUint32(buf[pos:], e.ID)
		binary.BigEndian.PutUint32(buf[pos+4:], uint32(len(e.Data)))
		pos += metadataDescSize
	}
	for _, e := range m.Entries() {
		pos += copy(buf[pos:], e.Data)
	}
	return buf, nil
}

// DecodeMetadata parses a metadata block holding count entries. The block
// must be consumed exactly.
func DecodeMetadata(count int, buf []byte) (*Metadata, error) {
	descLen := count * metadataDescSize
	if descLen > len(buf) {
		return nil, fmt.Errorf("%w: metadata descriptors need %d bytes, have %d",
			ErrCorruptFormat, descLen, len(buf))
	}
	md := &Metadata{entries: make([]MetadataEntry, 0, count)}
	pos := descLen
	for i := 0; i < count; i++ {
		id := binary.BigEndian.Uint32(buf[i*metadataDescSize:])
		n := int(binary.BigEndian.Uint32(buf[i*metadataDescSize+4:]))
		if n < 0 || pos+n > len(buf) {
			return nil, fmt.Errorf("%w: metadata entry %d (id %#x) length %d overruns block",
				ErrCorruptFormat, i, id, n)
		}
		md.entries = append(md.entries, MetadataEntry{ID: id, Data: append([]byte(nil), buf[pos:pos+n]...)})
		pos += n
	}
	if pos != len(buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes after metadata", ErrCorruptFormat, len(buf)-pos)
	}
	return md, nil
}
