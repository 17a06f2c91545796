// Package page implements the fixed-size, checksummed page format that
// every higher layer of the engine is built on top of: one file per
// page on disk, a 64-byte header followed by a length-prefixed record
// stream in the remaining space.
package page

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
)

const (
	// Size is the total on-disk size of a page, header included.
	Size = 4096
	// HeaderSize is the fixed size of a page header.
	HeaderSize = 64
	// DataSize is the usable record area of a page.
	DataSize = Size - HeaderSize

	noPageID uint32 = 0xFFFFFFFF
)

// ID is a stable, monotonically increasing page identifier. IDs are
// never reused once assigned.
type ID uint32

// NoID is the sentinel used in the next/prev header fields when no
// page is linked.
const NoID ID = 0

// Kind discriminates what a page's data area holds.
type Kind uint32

const (
	KindData Kind = iota + 1
	KindIndex
	KindHeader
	KindFree
)

// kindFromDiscriminator reconstructs a Kind from its persisted 32-bit
// discriminator, defaulting to KindData for any value that does not
// match a known kind (the header may have been written by a future,
// unrecognized version).
func kindFromDiscriminator(d uint32) Kind {
	switch Kind(d) {
	case KindData, KindIndex, KindHeader, KindFree:
		return Kind(d)
	default:
		return KindData
	}
}

// Header is the fixed 64-byte prefix of every page.
type Header struct {
	PageID      ID
	Kind        Kind
	RecordCount uint32
	FreeSpace   uint32
	NextPageID  ID
	PrevPageID  ID
	Checksum    uint32
	Timestamp   uint32
}

func (h Header) encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.PageID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Kind))
	binary.LittleEndian.PutUint32(buf[8:12], h.RecordCount)
	binary.LittleEndian.PutUint32(buf[12:16], h.FreeSpace)
	binary.LittleEndian.PutUint32(buf[16:20], encodeLink(h.NextPageID))
	binary.LittleEndian.PutUint32(buf[20:24], encodeLink(h.PrevPageID))
	binary.LittleEndian.PutUint32(buf[24:28], h.Checksum)
	binary.LittleEndian.PutUint32(buf[28:32], h.Timestamp)
	return buf
}

func decodeHeader(buf []byte) Header {
	next := binary.LittleEndian.Uint32(buf[16:20])
	prev := binary.LittleEndian.Uint32(buf[20:24])
	return Header{
		PageID:      ID(binary.LittleEndian.Uint32(buf[0:4])),
		Kind:        kindFromDiscriminator(binary.LittleEndian.Uint32(buf[4:8])),
		RecordCount: binary.LittleEndian.Uint32(buf[8:12]),
		FreeSpace:   binary.LittleEndian.Uint32(buf[12:16]),
		NextPageID:  decodeLink(next),
		PrevPageID:  decodeLink(prev),
		Checksum:    binary.LittleEndian.Uint32(buf[24:28]),
		Timestamp:   binary.LittleEndian.Uint32(buf[28:32]),
	}
}

func encodeLink(id ID) uint32 {
	if id == NoID {
		return noPageID
	}
	return uint32(id)
}

func decodeLink(v uint32) ID {
	if v == noPageID {
		return NoID
	}
	return ID(v)
}

// Record is a single table row or B+tree node encoded as a column (or
// field) name to value mapping. Any self-describing encoding would
// satisfy the page framing contract; this implementation uses JSON,
// the same textual key/value encoding the reference source uses.
type Record map[string]interface{}

// Page is an in-memory page: a header plus a fixed data area, with a
// cached decoded view of its records.
type Page struct {
	Header  Header
	Data    [DataSize]byte
	dirty   bool
	records []Record
}

// New creates a fresh, empty in-memory page of the given kind. It is
// not persisted until passed to Store.SavePage.
func New(id ID, kind Kind) *Page {
	return &Page{
		Header: Header{
			PageID:    id,
			Kind:      kind,
			FreeSpace: DataSize,
		},
	}
}

// IsDirty reports whether the page has unsaved in-memory changes.
func (p *Page) IsDirty() bool { return p.dirty }

// MarkDirty marks the page as modified.
func (p *Page) MarkDirty() { p.dirty = true }

// AddRecord appends rec to the page's data area if there is enough
// free space, returning false (not an error) when the page is full.
func (p *Page) AddRecord(rec Record) (bool, error) {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}
	recordSize := uint32(len(encoded)) + 4
	if recordSize > p.Header.FreeSpace {
		return false, nil
	}

	used := DataSize - p.Header.FreeSpace
	binary.LittleEndian.PutUint32(p.Data[used:used+4], uint32(len(encoded)))
	copy(p.Data[used+4:used+recordSize], encoded)

	p.Header.RecordCount++
	p.Header.FreeSpace -= recordSize
	p.dirty = true
	if p.records != nil {
		p.records = append(p.records, rec)
	}
	return true, nil
}

// Records decodes and returns every record currently stored in the
// page, from cache if already decoded once.
func (p *Page) Records() ([]Record, error) {
	if p.records != nil {
		out := make([]Record, len(p.records))
		copy(out, p.records)
		return out, nil
	}

	records := make([]Record, 0, p.Header.RecordCount)
	offset := uint32(0)
	for i := uint32(0); i < p.Header.RecordCount; i++ {
		if offset+4 > DataSize {
			break
		}
		length := binary.LittleEndian.Uint32(p.Data[offset : offset+4])
		offset += 4
		if offset+length > DataSize {
			break
		}
		var rec Record
		if err := json.Unmarshal(p.Data[offset:offset+length], &rec); err != nil {
			offset += length
			continue
		}
		records = append(records, rec)
		offset += length
	}

	p.records = records
	out := make([]Record, len(records))
	copy(out, records)
	return out, nil
}

// Repack clears the page's data area and rewrites it from scratch with
// exactly the given records, in order. Used by update/delete paths
// that must rewrite a page wholesale after removing or changing rows.
func (p *Page) Repack(records []Record) error {
	p.Data = [DataSize]byte{}
	p.Header.RecordCount = 0
	p.Header.FreeSpace = DataSize
	p.records = nil
	for _, rec := range records {
		ok, err := p.AddRecord(rec)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("repack: records no longer fit in page %d", p.Header.PageID)
		}
	}
	p.dirty = true
	return nil
}

// DeleteRecord removes the record at index (0-based, in decode order)
// and repacks the page. Returns false if index is out of range.
func (p *Page) DeleteRecord(index int) (bool, error) {
	records, err := p.Records()
	if err != nil {
		return false, err
	}
	if index < 0 || index >= len(records) {
		return false, nil
	}
	records = append(records[:index], records[index+1:]...)
	if err := p.Repack(records); err != nil {
		return false, err
	}
	return true, nil
}

// ChecksumData computes the checksum of the page's current data area.
func (p *Page) ChecksumData() uint32 {
	return crc32.ChecksumIEEE(p.Data[:])
}

// UpdateChecksum recomputes and stores the page's checksum.
func (p *Page) UpdateChecksum() {
	p.Header.Checksum = p.ChecksumData()
}

// VerifyChecksum reports whether the stored checksum matches the
// current data area.
func (p *Page) VerifyChecksum() bool {
	return p.Header.Checksum == p.ChecksumData()
}

// ToBytes serializes the page to exactly Size bytes: header then data.
func (p *Page) ToBytes() []byte {
	buf := make([]byte, 0, Size)
	buf = append(buf, p.Header.encode()...)
	buf = append(buf, p.Data[:]...)
	return buf
}

// FromBytes decodes a page from exactly Size bytes.
func FromBytes(data []byte) (*Page, error) {
	if len(data) != Size {
		return nil, fmt.Errorf("invalid page size: %d", len(data))
	}
	header := decodeHeader(data[:HeaderSize])
	p := &Page{Header: header}
	copy(p.Data[:], data[HeaderSize:])
	return p, nil
}

func (p *Page) String() string {
	return fmt.Sprintf("Page(id=%d, kind=%d, records=%d, free_space=%d)",
		p.Header.PageID, p.Header.Kind, p.Header.RecordCount, p.Header.FreeSpace)
}
