package macho

import (
	"encoding/binary"
	"fmt"

	mtypes "github.com/blacktop/go-macho/types"
)

// Fat archive magics, always big-endian at file offset 0.
const (
	FatMagic   = 0xcafebabe
	FatMagic64 = 0xcafebabf
)

// cpuArch64 is the CPU_ARCH_ABI64 capability bit; only slices carrying it
// are descended into.
const cpuArch64 = 0x01000000

const (
	fatHeaderSize = 8
	fatArchSize   = 20
	fatArch64Size = 32
)

// FatArch is one fat archive index entry. Entries without the 64-bit ABI
// bit are enumerated with Skipped set and never decoded.
type FatArch struct {
	CPUType    uint32 `json:"cputype"`
	CPUSubtype uint32 `json:"cpusubtype"`
	CPUName    string `json:"cpu_name"`
	Offset     uint64 `json:"offset"`
	Size       uint64 `json:"size"`
	Align      uint32 `json:"align"`
	Skipped    bool   `json:"skipped"`
}

// cpuName renders a cputype through the go-macho naming tables.
func cpuName(cputype uint32) string {
	return mtypes.CPU(cputype).String()
}

func cpuSubtypeName(cputype, cpusubtype uint32) string {
	return mtypes.CPUSubtype(cpusubtype).String(mtypes.CPU(cputype))
}

// parseFatIndex reads the fat archive header and index entries. The magic
// has already been identified as FatMagic or FatMagic64.
func parseFatIndex(r reader, magic uint32) ([]FatArch, error) {
	nfat, err := r.u32(4, binary.BigEndian)
	if err != nil {
		return nil, fmt.Errorf("fat header: %w", err)
	}

	entrySize := uint64(fatArchSize)
	if magic == FatMagic64 {
		entrySize = fatArch64Size
	}

	archs := make([]FatArch, 0, nfat)
	for i := uint64(0); i < uint64(nfat); i++ {
		off := fatHeaderSize + i*entrySize
		if err := r.check(off, entrySize); err != nil {
			return nil, fmt.Errorf("fat arch %d: %w", i, err)
		}

		var arch FatArch
		arch.CPUType, _ = r.u32(off, binary.BigEndian)
		arch.CPUSubtype, _ = r.u32(off+4, binary.BigEndian)
		if magic == FatMagic64 {
			arch.Offset, _ = r.u64(off+8, binary.BigEndian)
			arch.Size, _ = r.u64(off+16, binary.BigEndian)
			arch.Align, _ = r.u32(off+24, binary.BigEndian)
		} else {
			o32, _ := r.u32(off+8, binary.BigEndian)
			s32, _ := r.u32(off+12, binary.BigEndian)
			arch.Offset, arch.Size = uint64(o32), uint64(s32)
			arch.Align, _ = r.u32(off+16, binary.BigEndian)
		}
		arch.CPUName = cpuName(arch.CPUType)
		arch.Skipped = arch.CPUType&cpuArch64 == 0

		if arch.Offset > r.len() || arch.Size > r.len()-arch.Offset {
			return nil, fmt.Errorf("fat arch %d: slice [%d, %d) exceeds %d-byte file: %w",
				i, arch.Offset, arch.Offset+arch.Size, r.len(), ErrParsing)
		}

		archs = append(archs, arch)
	}

	return archs, nil
}
