package macho

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

func TestDecodeHeaderFlagsSingleBits(t *testing.T) {
	for _, f := range headerFlags {
		names := DecodeHeaderFlags(f.bit)
		if len(names) != 1 || names[0] != f.name {
			t.Errorf("flags 0x%X: expected [%s], got %v", f.bit, f.name, names)
		}
	}
}

func TestDecodeHeaderFlagsDistributive(t *testing.T) {
	names := DecodeHeaderFlags(0x1 | 0x4 | 0x200000)
	expected := []string{"MH_NOUNDEFS", "MH_DYLDLINK", "MH_PIE"}
	if !reflect.DeepEqual(names, expected) {
		t.Errorf("expected %v, got %v", expected, names)
	}

	// OR of flag words decodes to the union of their decodings.
	a := DecodeHeaderFlags(0x1 | 0x80)
	b := DecodeHeaderFlags(0x4)
	union := DecodeHeaderFlags(0x1 | 0x80 | 0x4)
	if len(union) != len(a)+len(b) {
		t.Errorf("expected |%v| + |%v| entries, got %v", a, b, union)
	}
}

func TestDecodeHeaderFlagsEmpty(t *testing.T) {
	if names := DecodeHeaderFlags(0); len(names) != 0 {
		t.Errorf("flags 0: expected no names, got %v", names)
	}
}

func TestDecodeHeaderEndianness(t *testing.T) {
	for _, tc := range []struct {
		name      string
		bo        binary.ByteOrder
		magic     uint32
		bigEndian bool
	}{
		{"little-endian", binary.LittleEndian, Magic64, false},
		{"big-endian", binary.BigEndian, Cigam64, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			w32(buf, tc.bo, Magic64)
			w32(buf, tc.bo, 0x0100000C)
			w32(buf, tc.bo, 2)
			w32(buf, tc.bo, 2)
			w32(buf, tc.bo, 0)
			w32(buf, tc.bo, 0)
			w32(buf, tc.bo, 0x200000)
			w32(buf, tc.bo, 0)

			hdr, _, err := decodeHeader(newReader(buf.Bytes()), 0)
			if err != nil {
				t.Fatalf("decodeHeader failed: %v", err)
			}
			if hdr.Magic != tc.magic {
				t.Errorf("expected magic 0x%08X, got 0x%08X", tc.magic, hdr.Magic)
			}
			if hdr.BigEndian != tc.bigEndian {
				t.Errorf("expected big_endian=%v", tc.bigEndian)
			}
			if hdr.CPUType != 0x0100000C || hdr.CPUSubtype != 2 {
				t.Errorf("cpu fields not decoded in slice byte order: %+v", hdr)
			}
			if !reflect.DeepEqual(hdr.FlagNames, []string{"MH_PIE"}) {
				t.Errorf("expected [MH_PIE], got %v", hdr.FlagNames)
			}
		})
	}
}

func TestDecodeHeaderRejectsOtherMagics(t *testing.T) {
	for _, magic := range []uint32{Magic32, 0xcefaedfe, 0x12345678, 0, 0xffffffff} {
		buf := make([]byte, 32)
		binary.LittleEndian.PutUint32(buf, magic)

		_, _, err := decodeHeader(newReader(buf), 0)
		if !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("magic 0x%08X: expected ErrInvalidFormat, got %v", magic, err)
		}
	}
}

func TestDecodeHeaderTruncated(t *testing.T) {
	_, _, err := decodeHeader(newReader(make([]byte, 16)), 0)
	if !errors.Is(err, ErrParsing) {
		t.Errorf("expected ErrParsing for 16-byte input, got %v", err)
	}
}

func TestDecodeHeaderSizeofcmdsOverrun(t *testing.T) {
	buf := &bytes.Buffer{}
	w32(buf, binary.LittleEndian, Magic64)
	w32(buf, binary.LittleEndian, 0x0100000C)
	w32(buf, binary.LittleEndian, 0)
	w32(buf, binary.LittleEndian, 2)
	w32(buf, binary.LittleEndian, 1)
	w32(buf, binary.LittleEndian, 4096) // larger than the slice
	w32(buf, binary.LittleEndian, 0)
	w32(buf, binary.LittleEndian, 0)

	_, _, err := decodeHeader(newReader(buf.Bytes()), 0)
	if !errors.Is(err, ErrParsing) {
		t.Errorf("expected ErrParsing for oversized sizeofcmds, got %v", err)
	}
}
