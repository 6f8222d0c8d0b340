package macho

import (
	"encoding/binary"
	"reflect"
	"testing"
)

func TestSymbolClassification(t *testing.T) {
	slice := parseThin(t, binary.LittleEndian)

	if len(slice.Symbols) != 3 {
		t.Fatalf("expected 3 symbols, got %d", len(slice.Symbols))
	}

	if !reflect.DeepEqual(slice.ImportedSymbols, []string{"_malloc"}) {
		t.Errorf("expected imports [_malloc], got %v", slice.ImportedSymbols)
	}
	if !reflect.DeepEqual(slice.Exports, []string{"_main"}) {
		t.Errorf("expected exports [_main], got %v", slice.Exports)
	}
	if slice.NumImportedSymbols != 1 || slice.NumExports != 1 {
		t.Errorf("unexpected counts: %d imports, %d exports",
			slice.NumImportedSymbols, slice.NumExports)
	}
}

// Imported and exported sets partition cleanly: disjoint, and STAB entries
// appear in neither.
func TestSymbolClassificationPartition(t *testing.T) {
	symbols := []Symbol{
		{Name: "_imp", Type: 0x01, Value: 0},            // undefined external
		{Name: "_exp", Type: 0x0F, Value: 0x1000},       // defined external
		{Name: "_stab", Type: 0x24, Value: 0x2000},      // N_FUN STAB
		{Name: "_stab2", Type: 0xE1, Value: 0},          // STAB with ext bit
		{Name: "_local", Type: 0x0E, Value: 0x3000},     // defined, not external
		{Name: "_undef_val", Type: 0x01, Value: 0x4000}, // external but nonzero value
	}

	imported, exported := classifySymbols(symbols)

	if !reflect.DeepEqual(imported, []string{"_imp"}) {
		t.Errorf("expected imports [_imp], got %v", imported)
	}
	if !reflect.DeepEqual(exported, []string{"_exp"}) {
		t.Errorf("expected exports [_exp], got %v", exported)
	}

	for _, name := range imported {
		for _, other := range exported {
			if name == other {
				t.Errorf("symbol %q in both sets", name)
			}
		}
	}

	for _, s := range symbols {
		if s.Type&nStab == 0 {
			continue
		}
		for _, name := range append(append([]string{}, imported...), exported...) {
			if name == s.Name {
				t.Errorf("STAB symbol %q classified", s.Name)
			}
		}
	}
}

func TestSymbolStringIndexValidation(t *testing.T) {
	// A string index outside the heap is a fatal parsing error.
	data := buildThinImage(binary.LittleEndian, false, 0)

	// The first nlist record starts right after the commands; patch its
	// n_strx far outside the heap.
	symoff := 32 + 152 + 56 + 24 + 16
	binary.LittleEndian.PutUint32(data[symoff:], 0xFFFF)

	_, err := Parse(data, "badstrx.bin")
	if err == nil {
		t.Fatal("expected error for out-of-heap string index")
	}
}

func TestSymbolPredicates(t *testing.T) {
	if !(Symbol{Type: 0x01}).Imported() {
		t.Error("undefined external with zero value should be imported")
	}
	if (Symbol{Type: 0x01, Value: 1}).Imported() {
		t.Error("nonzero value should not be imported")
	}
	if !(Symbol{Type: 0x0F, Value: 1}).Exported() {
		t.Error("defined external should be exported")
	}
	if (Symbol{Type: 0x2F}).Exported() {
		t.Error("STAB entry should never be exported")
	}
	if (Symbol{Type: 0x0E}).Exported() {
		t.Error("non-external symbol should not be exported")
	}
}
