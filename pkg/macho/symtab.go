package macho

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

const nlist64Size = 16

// n_type masks for symbol classification.
const (
	nStab = 0xE0 // debugging entry
	nType = 0x0E // type bits
	nExt  = 0x01 // external
)

// Symbol is one decoded nlist_64 record with its resolved name.
type Symbol struct {
	Name  string `json:"name"`
	Type  uint8  `json:"n_type"`
	Sect  uint8  `json:"n_sect"`
	Desc  uint16 `json:"n_desc"`
	Value uint64 `json:"n_value"`
}

// Imported reports whether the symbol is an undefined external reference:
// not a STAB entry, type bits zero, external bit set, value zero.
func (s Symbol) Imported() bool {
	return s.Type&nStab == 0 && s.Type&nType == 0 && s.Type&nExt == nExt && s.Value == 0
}

// Exported reports whether the symbol is a defined external: not a STAB
// entry, external bit set, non-zero type bits.
func (s Symbol) Exported() bool {
	return s.Type&nStab == 0 && s.Type&nExt == nExt && s.Type&nType != 0
}

// decodeSymbols reads the nsyms nlist_64 records referenced by an LC_SYMTAB
// and resolves each name against the string heap. Symbols whose name is not
// valid UTF-8 are skipped; everything else out of bounds is fatal.
func decodeSymbols(r reader, st *Symtab, bo binary.ByteOrder) ([]Symbol, error) {
	symBytes := uint64(st.Nsyms) * nlist64Size
	if uint64(st.Symoff) > r.len() || symBytes > r.len()-uint64(st.Symoff) {
		return nil, fmt.Errorf("symbol table of %d entries at offset %d exceeds %d-byte slice: %w",
			st.Nsyms, st.Symoff, r.len(), ErrParsing)
	}
	strEnd := uint64(st.Stroff) + uint64(st.Strsize)
	if uint64(st.Stroff) > r.len() || uint64(st.Strsize) > r.len()-uint64(st.Stroff) {
		return nil, fmt.Errorf("string heap [%d, %d) exceeds %d-byte slice: %w",
			st.Stroff, strEnd, r.len(), ErrParsing)
	}
	heap, err := r.sub(uint64(st.Stroff), strEnd)
	if err != nil {
		return nil, err
	}

	symbols := make([]Symbol, 0, st.Nsyms)
	for i := uint64(0); i < uint64(st.Nsyms); i++ {
		off := uint64(st.Symoff) + i*nlist64Size

		strx, err := r.u32(off, bo)
		if err != nil {
			return nil, err
		}
		ntype, err := r.u8(off + 4)
		if err != nil {
			return nil, err
		}
		nsect, err := r.u8(off + 5)
		if err != nil {
			return nil, err
		}
		ndesc, err := r.u16(off+6, bo)
		if err != nil {
			return nil, err
		}
		nvalue, err := r.u64(off+8, bo)
		if err != nil {
			return nil, err
		}

		if uint64(strx) >= heap.len() && strx != 0 {
			return nil, fmt.Errorf("symbol %d string index %d outside %d-byte heap: %w",
				i, strx, heap.len(), ErrParsing)
		}
		var name string
		if strx != 0 {
			if name, err = heap.cstring(uint64(strx)); err != nil {
				return nil, err
			}
			if !utf8.ValidString(name) {
				continue
			}
		}

		symbols = append(symbols, Symbol{
			Name:  name,
			Type:  ntype,
			Sect:  nsect,
			Desc:  ndesc,
			Value: nvalue,
		})
	}

	return symbols, nil
}

// classifySymbols projects the symbol list into imported and exported name
// sets, deduplicated, in nlist index order.
func classifySymbols(symbols []Symbol) (imported, exported []string) {
	imported = []string{}
	exported = []string{}
	seenImp := map[string]bool{}
	seenExp := map[string]bool{}
	for _, s := range symbols {
		switch {
		case s.Imported():
			if s.Name != "" && !seenImp[s.Name] {
				seenImp[s.Name] = true
				imported = append(imported, s.Name)
			}
		case s.Exported():
			if s.Name != "" && !seenExp[s.Name] {
				seenExp[s.Name] = true
				exported = append(exported, s.Name)
			}
		}
	}
	return imported, exported
}
