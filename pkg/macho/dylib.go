package macho

import (
	"encoding/binary"
	"fmt"
)

// DylibRef is the projection of a dylib load command: the install name plus
// version triples rendered as major.minor.patch.
type DylibRef struct {
	Name                 string `json:"name"`
	Timestamp            uint32 `json:"timestamp"`
	CurrentVersion       string `json:"current_version"`
	CompatibilityVersion string `json:"compatibility_version"`
}

// RenderVersion renders a packed dylib version as "major.minor.patch" with
// major = (v>>16)&0xFFFF, minor = (v>>8)&0xFF, patch = v&0xFF.
func RenderVersion(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", (v>>16)&0xFFFF, (v>>8)&0xFF, v&0xFF)
}

// decodeDylib decodes the payload shared by LC_LOAD_DYLIB, LC_ID_DYLIB and
// the weak/reexport/lazy/upward variants: a name offset, timestamp, and two
// packed versions, followed by the NUL-padded install name.
func decodeDylib(r reader, cmdOff uint64, cmdsize uint32, bo binary.ByteOrder) (*DylibRef, error) {
	nameOff, err := r.u32(cmdOff+8, bo)
	if err != nil {
		return nil, err
	}
	timestamp, err := r.u32(cmdOff+12, bo)
	if err != nil {
		return nil, err
	}
	current, err := r.u32(cmdOff+16, bo)
	if err != nil {
		return nil, err
	}
	compat, err := r.u32(cmdOff+20, bo)
	if err != nil {
		return nil, err
	}

	if nameOff < 8 || nameOff >= cmdsize {
		return nil, fmt.Errorf("dylib name offset %d outside command of %d bytes: %w", nameOff, cmdsize, ErrParsing)
	}
	name, err := r.fixedASCII(cmdOff+uint64(nameOff), uint64(cmdsize-nameOff))
	if err != nil {
		return nil, err
	}

	return &DylibRef{
		Name:                 name,
		Timestamp:            timestamp,
		CurrentVersion:       RenderVersion(current),
		CompatibilityVersion: RenderVersion(compat),
	}, nil
}
