package macho

import (
	"bytes"
	"encoding/binary"
)

// Test fixtures are assembled in memory with explicit offsets so every test
// controls the exact bytes the decoders see.

func w32(buf *bytes.Buffer, bo binary.ByteOrder, v uint32) {
	binary.Write(buf, bo, v)
}

func w64(buf *bytes.Buffer, bo binary.ByteOrder, v uint64) {
	binary.Write(buf, bo, v)
}

func w16(buf *bytes.Buffer, bo binary.ByteOrder, v uint16) {
	binary.Write(buf, bo, v)
}

func wName16(buf *bytes.Buffer, s string) {
	var name [16]byte
	copy(name[:], s)
	buf.Write(name[:])
}

const (
	testDylibName = "/usr/lib/libSystem.B.dylib"
	testFlags     = 0x1 | 0x4 | 0x80 | 0x200000 // NOUNDEFS | DYLDLINK | TWOLEVEL | PIE
)

// buildThinImage assembles a synthetic 64-bit thin image:
//
//	LC_SEGMENT_64  __TEXT with one section, file range of 64 x 'A'
//	LC_LOAD_DYLIB  libSystem, current version 1.2.3
//	LC_SYMTAB      three symbols: one import, one export, one STAB
//	unknown 0x99   eight payload bytes
//	LC_CODE_SIGNATURE (optional) pointing at an empty super-blob
func buildThinImage(bo binary.ByteOrder, withSig bool, sigMagic uint32) []byte {
	ncmds := uint32(4)
	sizeofcmds := uint32(152 + 56 + 24 + 16)
	if withSig {
		ncmds++
		sizeofcmds += 16
	}

	heap := []byte("\x00_malloc\x00_main\x00_stab\x00")
	symoff := 32 + sizeofcmds
	stroff := symoff + 3*16
	textoff := stroff + uint32(len(heap))
	csoff := textoff + 64

	buf := &bytes.Buffer{}

	// Header. Writing Magic64 in the slice byte order stores the byte
	// pattern that little-endian reads as 0xFEEDFACF (LE) or 0xCFFAEDFE (BE).
	w32(buf, bo, Magic64)
	w32(buf, bo, 0x0100000C) // cputype ARM64
	w32(buf, bo, 0)          // cpusubtype
	w32(buf, bo, 2)          // filetype MH_EXECUTE
	w32(buf, bo, ncmds)
	w32(buf, bo, sizeofcmds)
	w32(buf, bo, testFlags)
	w32(buf, bo, 0) // reserved

	// LC_SEGMENT_64 __TEXT, one section.
	w32(buf, bo, LC_SEGMENT_64)
	w32(buf, bo, 152)
	wName16(buf, "__TEXT")
	w64(buf, bo, 0x100000000) // vmaddr
	w64(buf, bo, 0x4000)      // vmsize
	w64(buf, bo, uint64(textoff))
	w64(buf, bo, 64) // filesize
	w32(buf, bo, 5)  // maxprot
	w32(buf, bo, 5)  // initprot
	w32(buf, bo, 1)  // nsects
	w32(buf, bo, 0)  // flags
	wName16(buf, "__text")
	wName16(buf, "__TEXT")
	w64(buf, bo, 0x100003000) // addr
	w64(buf, bo, 64)          // size
	w32(buf, bo, textoff)
	w32(buf, bo, 4) // align
	w32(buf, bo, 0) // reloff
	w32(buf, bo, 0) // nreloc
	w32(buf, bo, 0x80000400) // flags
	w32(buf, bo, 0)
	w32(buf, bo, 0)
	w32(buf, bo, 0)

	// LC_LOAD_DYLIB.
	w32(buf, bo, LC_LOAD_DYLIB)
	w32(buf, bo, 56)
	w32(buf, bo, 24)         // name offset
	w32(buf, bo, 2)          // timestamp
	w32(buf, bo, 0x00010203) // current version 1.2.3
	w32(buf, bo, 0x00010000) // compatibility version 1.0.0
	buf.WriteString(testDylibName)
	buf.Write(make([]byte, 56-24-len(testDylibName)))

	// LC_SYMTAB.
	w32(buf, bo, LC_SYMTAB)
	w32(buf, bo, 24)
	w32(buf, bo, symoff)
	w32(buf, bo, 3)
	w32(buf, bo, stroff)
	w32(buf, bo, uint32(len(heap)))

	// Unknown command 0x99.
	w32(buf, bo, 0x99)
	w32(buf, bo, 16)
	buf.Write(make([]byte, 8))

	if withSig {
		w32(buf, bo, LC_CODE_SIGNATURE)
		w32(buf, bo, 16)
		w32(buf, bo, csoff)
		w32(buf, bo, 12)
	}

	// Symbol table: import, export, STAB.
	writeNlist := func(strx uint32, ntype, nsect uint8, ndesc uint16, nvalue uint64) {
		w32(buf, bo, strx)
		buf.WriteByte(ntype)
		buf.WriteByte(nsect)
		w16(buf, bo, ndesc)
		w64(buf, bo, nvalue)
	}
	writeNlist(1, 0x01, 0, 0, 0)           // _malloc: undefined external
	writeNlist(9, 0x0F, 1, 0, 0x100003F00) // _main: defined external
	writeNlist(15, 0x24, 1, 0, 0x100003F80) // _stab: N_FUN debugging entry

	buf.Write(heap)
	buf.Write(bytes.Repeat([]byte{'A'}, 64))

	if withSig {
		// Empty super-blob: header only, count 0, always big-endian.
		w32(buf, binary.BigEndian, sigMagic)
		w32(buf, binary.BigEndian, 12)
		w32(buf, binary.BigEndian, 0)
	}

	return buf.Bytes()
}

// buildFatImage wraps a dummy 32-bit slice and the given thin image in a
// 32-bit fat archive.
func buildFatImage(thin []byte) []byte {
	const sliceAlign = 64
	dummy := make([]byte, 16)

	dummyOff := uint32(sliceAlign)
	thinOff := dummyOff + uint32(len(dummy))
	if rem := thinOff % sliceAlign; rem != 0 {
		thinOff += sliceAlign - rem
	}

	buf := &bytes.Buffer{}
	w32(buf, binary.BigEndian, FatMagic)
	w32(buf, binary.BigEndian, 2)

	// 32-bit ARM entry, enumerated but skipped.
	w32(buf, binary.BigEndian, 12)
	w32(buf, binary.BigEndian, 9)
	w32(buf, binary.BigEndian, dummyOff)
	w32(buf, binary.BigEndian, uint32(len(dummy)))
	w32(buf, binary.BigEndian, 6)

	// ARM64 entry.
	w32(buf, binary.BigEndian, 0x0100000C)
	w32(buf, binary.BigEndian, 0)
	w32(buf, binary.BigEndian, thinOff)
	w32(buf, binary.BigEndian, uint32(len(thin)))
	w32(buf, binary.BigEndian, 6)

	buf.Write(make([]byte, int(dummyOff)-buf.Len()))
	buf.Write(dummy)
	buf.Write(make([]byte, int(thinOff)-buf.Len()))
	buf.Write(thin)

	return buf.Bytes()
}
