package macho

import (
	"encoding/binary"
	"fmt"

	"github.com/machp/machp/pkg/codesign"
)

// Mach-O magic numbers as they appear when the first four bytes are read
// little-endian. Only 64-bit thin images enter the pipeline.
const (
	Magic64 = 0xfeedfacf // little-endian 64-bit Mach-O
	Cigam64 = 0xcffaedfe // big-endian 64-bit Mach-O
	Magic32 = 0xfeedface // 32-bit Mach-O, rejected by decodeHeader
)

const headerSize = 32

// Header is the decoded 32-byte 64-bit Mach-O header, with derived
// endianness and symbolic flag names.
type Header struct {
	Magic        uint32         `json:"magic"`
	CPUType      uint32         `json:"cputype"`
	CPUSubtype   uint32         `json:"cpusubtype"`
	FileType     uint32         `json:"filetype"`
	Ncmds        uint32         `json:"ncmds"`
	Sizeofcmds   uint32         `json:"sizeofcmds"`
	Flags        uint32         `json:"flags"`
	Reserved     uint32         `json:"reserved"`
	BigEndian    bool           `json:"big_endian"`
	FlagNames    []string       `json:"flag_names"`
	LoadCommands []*LoadCommand `json:"load_commands,omitempty"`

	CodeSignature *codesign.Signature `json:"code_signature,omitempty"`
}

type headerFlag struct {
	bit  uint32
	name string
}

// headerFlags is the fixed bit-to-name mapping for the header flags field,
// in iteration order.
var headerFlags = []headerFlag{
	{0x1, "MH_NOUNDEFS"},
	{0x2, "MH_INCRLINK"},
	{0x4, "MH_DYLDLINK"},
	{0x8, "MH_BINDATLOAD"},
	{0x10, "MH_PREBOUND"},
	{0x20, "MH_SPLIT_SEGS"},
	{0x40, "MH_LAZY_INIT"},
	{0x80, "MH_TWOLEVEL"},
	{0x100, "MH_FORCE_FLAT"},
	{0x200, "MH_NOMULTIDEFS"},
	{0x400, "MH_NOFIXPREBINDING"},
	{0x800, "MH_PREBINDABLE"},
	{0x1000, "MH_ALLMODSBOUND"},
	{0x2000, "MH_SUBSECTIONS_VIA_SYMBOLS"},
	{0x4000, "MH_CANONICAL"},
	{0x8000, "MH_WEAK_DEFINES"},
	{0x10000, "MH_BINDS_TO_WEAK"},
	{0x20000, "MH_ALLOW_STACK_EXECUTION"},
	{0x40000, "MH_ROOT_SAFE"},
	{0x80000, "MH_SETUID_SAFE"},
	{0x100000, "MH_NO_REEXPORTED_DYLIBS"},
	{0x200000, "MH_PIE"},
	{0x400000, "MH_DEAD_STRIPPABLE_DYLIB"},
	{0x800000, "MH_HAS_TLV_DESCRIPTORS"},
	{0x1000000, "MH_NO_HEAP_EXECUTION"},
	{0x02000000, "MH_APP_EXTENSION_SAFE"},
	{0x04000000, "MH_NLIST_OUTOFSYNC_WITH_DYLDINFO"},
	{0x08000000, "MH_SIM_SUPPORT"},
	{0x80000000, "MH_DYLIB_IN_CACHE"},
}

// DecodeHeaderFlags decodes a flags word against the fixed mapping,
// returning the set of symbolic names in table order.
func DecodeHeaderFlags(flags uint32) []string {
	names := []string{}
	for _, f := range headerFlags {
		if flags&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return names
}

// decodeHeader decodes the 64-bit Mach-O header at off within r and derives
// the slice byte order from the magic. Any magic other than the two 64-bit
// forms is rejected with ErrInvalidFormat.
func decodeHeader(r reader, off uint64) (*Header, binary.ByteOrder, error) {
	if err := r.check(off, headerSize); err != nil {
		return nil, nil, fmt.Errorf("mach header at offset %d: %w", off, err)
	}

	magic, err := r.u32(off, binary.LittleEndian)
	if err != nil {
		return nil, nil, err
	}

	var bo binary.ByteOrder
	switch magic {
	case Magic64:
		bo = binary.LittleEndian
	case Cigam64:
		bo = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("magic 0x%08X at offset %d is not a 64-bit Mach-O header: %w", magic, off, ErrInvalidFormat)
	}

	hdr := &Header{
		Magic:     magic,
		BigEndian: bo == binary.BigEndian,
	}
	if hdr.CPUType, err = r.u32(off+4, bo); err != nil {
		return nil, nil, err
	}
	if hdr.CPUSubtype, err = r.u32(off+8, bo); err != nil {
		return nil, nil, err
	}
	if hdr.FileType, err = r.u32(off+12, bo); err != nil {
		return nil, nil, err
	}
	if hdr.Ncmds, err = r.u32(off+16, bo); err != nil {
		return nil, nil, err
	}
	if hdr.Sizeofcmds, err = r.u32(off+20, bo); err != nil {
		return nil, nil, err
	}
	if hdr.Flags, err = r.u32(off+24, bo); err != nil {
		return nil, nil, err
	}
	if hdr.Reserved, err = r.u32(off+28, bo); err != nil {
		return nil, nil, err
	}
	hdr.FlagNames = DecodeHeaderFlags(hdr.Flags)

	if uint64(hdr.Sizeofcmds) > r.len()-off-headerSize {
		return nil, nil, fmt.Errorf("sizeofcmds %d exceeds %d bytes remaining after header: %w",
			hdr.Sizeofcmds, r.len()-off-headerSize, ErrParsing)
	}

	return hdr, bo, nil
}
