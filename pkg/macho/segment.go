package macho

import (
	"encoding/binary"
	"fmt"
)

const (
	segment64HeaderSize = 72
	sectionSize         = 80
	segment32HeaderSize = 56
)

// Section is one 80-byte section record, child of exactly one segment.
type Section struct {
	Sectname  string `json:"sectname"`
	Segname   string `json:"segname"`
	Addr      uint64 `json:"addr"`
	Size      uint64 `json:"size"`
	Offset    uint32 `json:"offset"`
	Align     uint32 `json:"align"`
	Reloff    uint32 `json:"reloff"`
	Nreloc    uint32 `json:"nreloc"`
	Flags     uint32 `json:"flags"`
	Reserved1 uint32 `json:"reserved1"`
	Reserved2 uint32 `json:"reserved2"`
	Reserved3 uint32 `json:"reserved3"`
}

// Segment is the decoded LC_SEGMENT_64 payload with its trailing section
// array. Entropy is attached for segments whose file range is non-empty and
// in bounds.
type Segment struct {
	Segname  string    `json:"segname"`
	Vmaddr   uint64    `json:"vmaddr"`
	Vmsize   uint64    `json:"vmsize"`
	Fileoff  uint64    `json:"fileoff"`
	Filesize uint64    `json:"filesize"`
	Maxprot  int32     `json:"maxprot"`
	Initprot int32     `json:"initprot"`
	Nsects   uint32    `json:"nsects"`
	Flags    uint32    `json:"flags"`
	Entropy  *float64  `json:"entropy,omitempty"`
	Sections []Section `json:"sections"`
}

// Segment32 is the 56-byte LC_SEGMENT header. 32-bit segments are recorded
// but their sections are not decoded.
type Segment32 struct {
	Segname  string `json:"segname"`
	Vmaddr   uint32 `json:"vmaddr"`
	Vmsize   uint32 `json:"vmsize"`
	Fileoff  uint32 `json:"fileoff"`
	Filesize uint32 `json:"filesize"`
	Maxprot  int32  `json:"maxprot"`
	Initprot int32  `json:"initprot"`
	Nsects   uint32 `json:"nsects"`
	Flags    uint32 `json:"flags"`
}

// decodeSegment64 decodes a 72-byte segment command header and its nsects
// trailing 80-byte sections. r spans the whole slice; the segment entropy is
// computed over [fileoff, fileoff+filesize) of that slice.
func decodeSegment64(r reader, cmdOff uint64, cmdsize uint32, bo binary.ByteOrder) (*Segment, error) {
	if cmdsize < segment64HeaderSize {
		return nil, fmt.Errorf("segment command of %d bytes shorter than %d-byte header: %w",
			cmdsize, segment64HeaderSize, ErrParsing)
	}

	seg := &Segment{Sections: []Section{}}
	var err error
	if seg.Segname, err = r.fixedASCII(cmdOff+8, 16); err != nil {
		return nil, err
	}
	if seg.Vmaddr, err = r.u64(cmdOff+24, bo); err != nil {
		return nil, err
	}
	if seg.Vmsize, err = r.u64(cmdOff+32, bo); err != nil {
		return nil, err
	}
	if seg.Fileoff, err = r.u64(cmdOff+40, bo); err != nil {
		return nil, err
	}
	if seg.Filesize, err = r.u64(cmdOff+48, bo); err != nil {
		return nil, err
	}
	if seg.Maxprot, err = r.i32(cmdOff+56, bo); err != nil {
		return nil, err
	}
	if seg.Initprot, err = r.i32(cmdOff+60, bo); err != nil {
		return nil, err
	}
	if seg.Nsects, err = r.u32(cmdOff+64, bo); err != nil {
		return nil, err
	}
	if seg.Flags, err = r.u32(cmdOff+68, bo); err != nil {
		return nil, err
	}

	sectBytes := uint64(seg.Nsects) * sectionSize
	if sectBytes > uint64(cmdsize)-segment64HeaderSize {
		return nil, fmt.Errorf("segment %q declares %d sections beyond its %d-byte command: %w",
			seg.Segname, seg.Nsects, cmdsize, ErrParsing)
	}
	for i := uint64(0); i < uint64(seg.Nsects); i++ {
		sect, err := decodeSection(r, cmdOff+segment64HeaderSize+i*sectionSize, bo)
		if err != nil {
			return nil, fmt.Errorf("section %d of segment %q: %w", i, seg.Segname, err)
		}
		seg.Sections = append(seg.Sections, *sect)
	}

	if seg.Filesize > 0 && seg.Fileoff <= r.len() && seg.Filesize <= r.len()-seg.Fileoff {
		body, err := r.bytes(seg.Fileoff, seg.Filesize)
		if err == nil {
			h := ShannonEntropy(body)
			seg.Entropy = &h
		}
	}

	return seg, nil
}

func decodeSection(r reader, off uint64, bo binary.ByteOrder) (*Section, error) {
	sect := &Section{}
	var err error
	if sect.Sectname, err = r.fixedASCII(off, 16); err != nil {
		return nil, err
	}
	if sect.Segname, err = r.fixedASCII(off+16, 16); err != nil {
		return nil, err
	}
	if sect.Addr, err = r.u64(off+32, bo); err != nil {
		return nil, err
	}
	if sect.Size, err = r.u64(off+40, bo); err != nil {
		return nil, err
	}
	fields := []*uint32{
		&sect.Offset, &sect.Align, &sect.Reloff, &sect.Nreloc,
		&sect.Flags, &sect.Reserved1, &sect.Reserved2, &sect.Reserved3,
	}
	for j, f := range fields {
		v, err := r.u32(off+48+uint64(j)*4, bo)
		if err != nil {
			return nil, err
		}
		*f = v
	}
	return sect, nil
}

// decodeSegment32 decodes the 56-byte LC_SEGMENT header only.
func decodeSegment32(r reader, cmdOff uint64, cmdsize uint32, bo binary.ByteOrder) (*Segment32, error) {
	if cmdsize < segment32HeaderSize {
		return nil, fmt.Errorf("segment command of %d bytes shorter than %d-byte header: %w",
			cmdsize, segment32HeaderSize, ErrParsing)
	}

	seg := &Segment32{}
	var err error
	if seg.Segname, err = r.fixedASCII(cmdOff+8, 16); err != nil {
		return nil, err
	}
	u32s := []*uint32{&seg.Vmaddr, &seg.Vmsize, &seg.Fileoff, &seg.Filesize}
	for j, f := range u32s {
		v, err := r.u32(cmdOff+24+uint64(j)*4, bo)
		if err != nil {
			return nil, err
		}
		*f = v
	}
	if seg.Maxprot, err = r.i32(cmdOff+40, bo); err != nil {
		return nil, err
	}
	if seg.Initprot, err = r.i32(cmdOff+44, bo); err != nil {
		return nil, err
	}
	if seg.Nsects, err = r.u32(cmdOff+48, bo); err != nil {
		return nil, err
	}
	if seg.Flags, err = r.u32(cmdOff+52, bo); err != nil {
		return nil, err
	}
	return seg, nil
}
