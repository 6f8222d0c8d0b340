package codesign

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// CodeDirectory version thresholds that gate optional header extensions.
const (
	supportsTeamID  = 0x20200
	supportsExecSeg = 0x20400
)

// SpecialSlot is one pre-hashOffset hash entry. Hash is lowercase hex, or
// the literal "Not Bound" for an all-zero hash.
type SpecialSlot struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Hash  string `json:"hash"`
}

// CodeDirectory is the decoded core blob of a code signature.
type CodeDirectory struct {
	Ident         string        `json:"ident"`
	Version       uint32        `json:"version"`
	Flags         uint32        `json:"flags"`
	FlagNames     []string      `json:"flag_names,omitempty"`
	HashOffset    uint32        `json:"hash_offset"`
	NSpecialSlots uint32        `json:"n_special_slots"`
	NCodeSlots    uint32        `json:"n_code_slots"`
	CodeLimit     uint32        `json:"code_limit"`
	HashSize      uint8         `json:"hash_size"`
	HashType      uint8         `json:"hash_type"`
	Platform      uint8         `json:"platform"`
	PageSize      uint32        `json:"page_size"`
	CDHash        string        `json:"cd_hash"`
	SpecialSlots  []SpecialSlot `json:"special_slots"`

	TeamID       string `json:"team_id,omitempty"`
	ExecSegBase  uint64 `json:"exec_seg_base,omitempty"`
	ExecSegLimit uint64 `json:"exec_seg_limit,omitempty"`
	ExecSegFlags uint64 `json:"exec_seg_flags,omitempty"`
}

var cdFlagNames = []struct {
	bit  uint32
	name string
}{
	{0x1, "adhoc"},
	{0x2, "forceHard"},
	{0x4, "forceKill"},
	{0x8, "forceExpiration"},
	{0x10, "restrict"},
	{0x20, "enforcement"},
	{0x40, "libraryValidation"},
	{0x100, "runtime"},
	{0x200, "linkerSigned"},
}

// specialSlotNames labels the special-slot hash array by storage index.
// Indices past the table render as "Special Slot <n>".
var specialSlotNames = []string{
	"Entitlements Blob",
	"Application Specific",
	"Resource Directory",
	"Requirements Blob",
	"Bound Info.plist",
}

// parseCodeDirectory decodes a CodeDirectory blob. blob spans the entire
// blob as stored, including the 8-byte header; cdHash is the SHA-1 of
// exactly those bytes.
func parseCodeDirectory(blob []byte) (*CodeDirectory, error) {
	if len(blob) < 44 {
		return nil, fmt.Errorf("CodeDirectory header needs 44 bytes, have %d: %w", len(blob), ErrTruncated)
	}

	cd := &CodeDirectory{
		Version:       binary.BigEndian.Uint32(blob[8:12]),
		Flags:         binary.BigEndian.Uint32(blob[12:16]),
		HashOffset:    binary.BigEndian.Uint32(blob[16:20]),
		NSpecialSlots: binary.BigEndian.Uint32(blob[24:28]),
		NCodeSlots:    binary.BigEndian.Uint32(blob[28:32]),
		CodeLimit:     binary.BigEndian.Uint32(blob[32:36]),
		HashSize:      blob[36],
		HashType:      blob[37],
		Platform:      blob[38],
		PageSize:      1 << blob[39],
	}

	for _, f := range cdFlagNames {
		if cd.Flags&f.bit != 0 {
			cd.FlagNames = append(cd.FlagNames, f.name)
		}
	}

	identOffset := binary.BigEndian.Uint32(blob[20:24])
	if identOffset < uint32(len(blob)) {
		end := identOffset
		for end < uint32(len(blob)) && blob[end] != 0 {
			end++
		}
		cd.Ident = string(blob[identOffset:end])
	}

	if cd.Version >= supportsTeamID && len(blob) >= 52 {
		teamOffset := binary.BigEndian.Uint32(blob[48:52])
		if teamOffset > 0 && teamOffset < uint32(len(blob)) {
			end := teamOffset
			for end < uint32(len(blob)) && blob[end] != 0 {
				end++
			}
			cd.TeamID = string(blob[teamOffset:end])
		}
	}

	if cd.Version >= supportsExecSeg && len(blob) >= 88 {
		cd.ExecSegBase = binary.BigEndian.Uint64(blob[64:72])
		cd.ExecSegLimit = binary.BigEndian.Uint64(blob[72:80])
		cd.ExecSegFlags = binary.BigEndian.Uint64(blob[80:88])
	}

	hashSize := uint64(cd.HashSize)
	if hashSize == 0 {
		return nil, fmt.Errorf("CodeDirectory declares zero hash size: %w", ErrTruncated)
	}

	// Special slots precede hashOffset in storage order: index 0 is the
	// slot furthest from hashOffset.
	specialBytes := uint64(cd.NSpecialSlots) * hashSize
	if specialBytes > uint64(cd.HashOffset) || uint64(cd.HashOffset) > uint64(len(blob)) {
		return nil, fmt.Errorf("special slot array of %d bytes before hash offset %d exceeds %d-byte blob: %w",
			specialBytes, cd.HashOffset, len(blob), ErrTruncated)
	}
	cd.SpecialSlots = []SpecialSlot{}
	for i := uint64(0); i < uint64(cd.NSpecialSlots); i++ {
		off := uint64(cd.HashOffset) - specialBytes + i*hashSize
		hash := blob[off : off+hashSize]
		cd.SpecialSlots = append(cd.SpecialSlots, SpecialSlot{
			Index: int(i),
			Name:  specialSlotName(int(i)),
			Hash:  renderSlotHash(hash),
		})
	}

	cd.CDHash = computeCDHash(blob)
	return cd, nil
}

func specialSlotName(i int) string {
	if i < len(specialSlotNames) {
		return specialSlotNames[i]
	}
	return fmt.Sprintf("Special Slot %d", i)
}

// renderSlotHash renders a slot hash as lowercase hex, or "Not Bound" when
// every byte is zero.
func renderSlotHash(hash []byte) string {
	allZero := true
	for _, b := range hash {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return "Not Bound"
	}
	return hex.EncodeToString(hash)
}

// computeCDHash returns the SHA-1 of the CodeDirectory blob bytes as stored.
func computeCDHash(blob []byte) string {
	h := sha1.Sum(blob)
	return hex.EncodeToString(h[:])
}
