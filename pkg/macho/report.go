package macho

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/machp/machp/pkg/codesign"
)

// Report is the decoded view of one input file: either a fat archive with
// its 64-bit slices, or a single thin image under HeaderSlice.
type Report struct {
	FilePath string  `json:"file_path"`
	FileSize uint64  `json:"file_size"`
	SHA256   string  `json:"sha256"`
	Entropy  float64 `json:"entropy"`
	Fat      bool    `json:"fat"`
	Parsed   bool    `json:"parsed"`

	NFatArch    uint32         `json:"nfat_arch,omitempty"`
	FatArchs    []FatArch      `json:"fat_archs,omitempty"`
	Slices      []*SliceReport `json:"slices,omitempty"`
	HeaderSlice *SliceReport   `json:"header_slice,omitempty"`

	// Archive-level unions across decoded slices. Symbol unions are sorted
	// ascending; dylibs keep first-seen order, deduplicated by name.
	ImportedSymbols []string   `json:"imported_symbols"`
	Exports         []string   `json:"exports"`
	Dylibs          []DylibRef `json:"dylibs"`
}

// SliceReport describes one decoded 64-bit slice.
type SliceReport struct {
	Offset             uint64     `json:"offset"`
	Size               uint64     `json:"size"`
	CPUType            uint32     `json:"cputype"`
	CPUSubtype         uint32     `json:"cpusubtype"`
	CPUName            string     `json:"cpu_name"`
	CPUSubtypeName     string     `json:"cpu_subtype_name"`
	Align              uint32     `json:"align,omitempty"`
	SHA256             string     `json:"sha256"`
	Entropy            float64    `json:"entropy"`
	Header             *Header    `json:"header"`
	Dylibs             []DylibRef `json:"dylibs"`
	ImportedSymbols    []string   `json:"imported_symbols"`
	NumImportedSymbols int        `json:"num_imported_symbols"`
	Exports            []string   `json:"exports"`
	NumExports         int        `json:"num_exports"`
	Symtab             *Symtab    `json:"symtab,omitempty"`
	Dysymtab           *Dysymtab  `json:"dysymtab,omitempty"`
	Symbols            []Symbol   `json:"symbols,omitempty"`
}

// ParseFile reads and decodes one file.
func ParseFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, path)
}

// Parse decodes a fat archive or thin 64-bit Mach-O image. Any structural
// failure in any descended slice is fatal for the whole file.
func Parse(data []byte, filePath string) (*Report, error) {
	r := newReader(data)

	report := &Report{
		FilePath: filePath,
		FileSize: r.len(),
		SHA256:   hashHex(data),
		Entropy:  ShannonEntropy(data),
	}

	magic, err := r.u32(0, binary.BigEndian)
	if err != nil {
		return nil, fmt.Errorf("file magic: %w", err)
	}

	switch magic {
	case FatMagic, FatMagic64:
		report.Fat = true
		archs, err := parseFatIndex(r, magic)
		if err != nil {
			return nil, err
		}
		report.NFatArch = uint32(len(archs))
		report.FatArchs = archs

		for _, arch := range archs {
			if arch.Skipped {
				continue
			}
			slice, err := decodeSlice(r, arch.Offset, arch.Size, arch.Align)
			if err != nil {
				return nil, fmt.Errorf("slice %s at offset %d: %w", arch.CPUName, arch.Offset, err)
			}
			report.Slices = append(report.Slices, slice)
		}

	default:
		// A thin image's magic reads as the byte-swapped constant when the
		// file byte order differs from big-endian; decodeSlice re-derives
		// the real order from the header.
		le := binary.LittleEndian.Uint32(data[0:4])
		if le != Magic64 && le != Cigam64 {
			return nil, fmt.Errorf("top-level magic 0x%08X is neither fat nor 64-bit Mach-O: %w", le, ErrInvalidFormat)
		}
		slice, err := decodeSlice(r, 0, r.len(), 0)
		if err != nil {
			return nil, err
		}
		report.HeaderSlice = slice
	}

	report.aggregate()
	report.Parsed = true
	return report, nil
}

// decodeSlice runs the per-slice pipeline: header, load commands, symbols,
// code signature, hashes.
func decodeSlice(file reader, offset, size uint64, align uint32) (*SliceReport, error) {
	r, err := file.sub(offset, offset+size)
	if err != nil {
		return nil, err
	}

	hdr, bo, err := decodeHeader(r, 0)
	if err != nil {
		return nil, err
	}

	parts, err := walkLoadCommands(r, hdr, bo)
	if err != nil {
		return nil, err
	}
	hdr.LoadCommands = parts.commands

	slice := &SliceReport{
		Offset:          offset,
		Size:            size,
		CPUType:         hdr.CPUType,
		CPUSubtype:      hdr.CPUSubtype,
		CPUName:         cpuName(hdr.CPUType),
		CPUSubtypeName:  cpuSubtypeName(hdr.CPUType, hdr.CPUSubtype),
		Align:           align,
		SHA256:          hashHex(r.data),
		Entropy:         ShannonEntropy(r.data),
		Header:          hdr,
		Dylibs:          parts.dylibs,
		ImportedSymbols: []string{},
		Exports:         []string{},
		Symtab:          parts.symtab,
		Dysymtab:        parts.dysymtab,
	}
	if slice.Dylibs == nil {
		slice.Dylibs = []DylibRef{}
	}

	if parts.symtab != nil {
		symbols, err := decodeSymbols(r, parts.symtab, bo)
		if err != nil {
			return nil, err
		}
		slice.Symbols = symbols
		slice.ImportedSymbols, slice.Exports = classifySymbols(symbols)
	}
	slice.NumImportedSymbols = len(slice.ImportedSymbols)
	slice.NumExports = len(slice.Exports)

	if parts.codeSig != nil {
		sig, err := codesign.Parse(r.data, uint64(parts.codeSig.Dataoff), uint64(parts.codeSig.Datasize))
		if err != nil {
			kind := ErrParsing
			if errors.Is(err, codesign.ErrBadMagic) {
				kind = ErrInvalidFormat
			}
			return nil, fmt.Errorf("code signature at offset %d: %v: %w", parts.codeSig.Dataoff, err, kind)
		}
		hdr.CodeSignature = sig
	}

	return slice, nil
}

// aggregate attaches the archive-level unions.
func (rep *Report) aggregate() {
	slices := rep.Slices
	if rep.HeaderSlice != nil {
		slices = append(slices, rep.HeaderSlice)
	}

	impSet := map[string]bool{}
	expSet := map[string]bool{}
	dylibSeen := map[string]bool{}
	rep.ImportedSymbols = []string{}
	rep.Exports = []string{}
	rep.Dylibs = []DylibRef{}

	for _, s := range slices {
		for _, name := range s.ImportedSymbols {
			impSet[name] = true
		}
		for _, name := range s.Exports {
			expSet[name] = true
		}
		for _, d := range s.Dylibs {
			if !dylibSeen[d.Name] {
				dylibSeen[d.Name] = true
				rep.Dylibs = append(rep.Dylibs, d)
			}
		}
	}

	for name := range impSet {
		rep.ImportedSymbols = append(rep.ImportedSymbols, name)
	}
	for name := range expSet {
		rep.Exports = append(rep.Exports, name)
	}
	sort.Strings(rep.ImportedSymbols)
	sort.Strings(rep.Exports)
}

func hashHex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
