package macho

import (
	"encoding/binary"
	"fmt"
)

// reader provides bounds-checked, endian-aware primitive reads over an
// immutable byte range. Every accessor fails instead of panicking when the
// requested read would leave the range; decoders propagate that as ErrParsing
// with the offending offset.
type reader struct {
	data []byte
}

func newReader(data []byte) reader {
	return reader{data: data}
}

func (r reader) len() uint64 {
	return uint64(len(r.data))
}

// sub returns a reader over [start, end) of the underlying range. The
// returned reader shares the backing bytes; nothing is copied.
func (r reader) sub(start, end uint64) (reader, error) {
	if start > end || end > r.len() {
		return reader{}, fmt.Errorf("subrange [%d, %d) outside %d bytes: %w", start, end, r.len(), ErrParsing)
	}
	return reader{data: r.data[start:end]}, nil
}

func (r reader) check(off, width uint64) error {
	if off > r.len() || width > r.len()-off {
		return fmt.Errorf("read of %d bytes at offset %d exceeds %d bytes: %w", width, off, r.len(), ErrParsing)
	}
	return nil
}

func (r reader) u8(off uint64) (uint8, error) {
	if err := r.check(off, 1); err != nil {
		return 0, err
	}
	return r.data[off], nil
}

func (r reader) u16(off uint64, bo binary.ByteOrder) (uint16, error) {
	if err := r.check(off, 2); err != nil {
		return 0, err
	}
	return bo.Uint16(r.data[off : off+2]), nil
}

func (r reader) u32(off uint64, bo binary.ByteOrder) (uint32, error) {
	if err := r.check(off, 4); err != nil {
		return 0, err
	}
	return bo.Uint32(r.data[off : off+4]), nil
}

func (r reader) u64(off uint64, bo binary.ByteOrder) (uint64, error) {
	if err := r.check(off, 8); err != nil {
		return 0, err
	}
	return bo.Uint64(r.data[off : off+8]), nil
}

func (r reader) i32(off uint64, bo binary.ByteOrder) (int32, error) {
	v, err := r.u32(off, bo)
	return int32(v), err
}

// bytes returns a view of n bytes at off. The view aliases the file image
// and must not outlive it.
func (r reader) bytes(off, n uint64) ([]byte, error) {
	if err := r.check(off, n); err != nil {
		return nil, err
	}
	return r.data[off : off+n], nil
}

// fixedASCII reads an n-byte field and strips trailing NUL, control and
// whitespace characters, the conventional padding of Mach-O name fields.
func (r reader) fixedASCII(off, n uint64) (string, error) {
	b, err := r.bytes(off, n)
	if err != nil {
		return "", err
	}
	end := len(b)
	for end > 0 && (b[end-1] == 0 || b[end-1] <= ' ') {
		end--
	}
	return string(b[:end]), nil
}

// cstring reads a NUL-terminated string starting at off, bounded by the end
// of the range. A missing terminator yields the remainder of the range.
func (r reader) cstring(off uint64) (string, error) {
	if off > r.len() {
		return "", fmt.Errorf("string at offset %d exceeds %d bytes: %w", off, r.len(), ErrParsing)
	}
	b := r.data[off:]
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), nil
		}
	}
	return string(b), nil
}
