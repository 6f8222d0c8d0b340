package codesign

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// Code signature constants from Apple's cs_blobs.h.
const (
	CSMAGIC_EMBEDDED_SIGNATURE     = 0xfade0cc0
	CSMAGIC_EMBEDDED_SIGNATURE_OLD = 0xfade0cc1

	CSMAGIC_REQUIREMENT               = 0xfade0c00
	CSMAGIC_REQUIREMENTS              = 0xfade0c01
	CSMAGIC_CODEDIRECTORY             = 0xfade0c02
	CSMAGIC_EMBEDDED_ENTITLEMENTS     = 0xfade7171
	CSMAGIC_EMBEDDED_ENTITLEMENTS_DER = 0xfade7172
	CSMAGIC_BLOBWRAPPER               = 0xfade0b01

	CS_HASHTYPE_SHA1   = 1
	CS_HASHTYPE_SHA256 = 2
)

// Sentinel errors for the two failure classes of signature decoding. The
// Mach-O layer maps these onto its own error taxonomy.
var (
	// ErrBadMagic marks an unrecognized super-blob magic.
	ErrBadMagic = errors.New("unrecognized code-signature magic")

	// ErrTruncated marks a blob or index entry extending past its container.
	ErrTruncated = errors.New("truncated code-signature blob")
)

// BlobIndexEntry is one entry of the super-blob index, augmented with the
// magic and length read from the blob it points at.
type BlobIndexEntry struct {
	Type   uint32 `json:"type"`
	Offset uint32 `json:"offset"`
	Magic  uint32 `json:"magic"`
	Length uint32 `json:"length"`
}

// Signature aggregates every decoded sub-blob of an embedded code signature.
type Signature struct {
	Magic           uint32            `json:"magic"`
	Length          uint32            `json:"length"`
	Count           uint32            `json:"count"`
	Blobs           []BlobIndexEntry  `json:"blobs"`
	CodeDirectories []*CodeDirectory  `json:"code_directories,omitempty"`
	Entitlements    *Entitlements     `json:"entitlements,omitempty"`
	EntitlementsDER *EntitlementsDER  `json:"entitlements_der,omitempty"`
	Requirements    []string          `json:"requirements,omitempty"`
	CMS             *CMS              `json:"cms,omitempty"`
	OtherBlobs      map[string]string `json:"other_blobs,omitempty"`
}

// Parse decodes the embedded code-signature super-blob occupying
// [csOffset, csOffset+csSize) of slice. All multi-byte integers inside
// code-signature data are big-endian regardless of the slice's own byte
// order.
func Parse(slice []byte, csOffset, csSize uint64) (*Signature, error) {
	if csOffset > uint64(len(slice)) || csSize > uint64(len(slice))-csOffset {
		return nil, fmt.Errorf("signature range [%d, %d) exceeds %d-byte slice: %w",
			csOffset, csOffset+csSize, len(slice), ErrTruncated)
	}
	data := slice[csOffset : csOffset+csSize]

	if len(data) < 12 {
		return nil, fmt.Errorf("super-blob header needs 12 bytes, have %d: %w", len(data), ErrTruncated)
	}

	sig := &Signature{
		Magic:  binary.BigEndian.Uint32(data[0:4]),
		Length: binary.BigEndian.Uint32(data[4:8]),
		Count:  binary.BigEndian.Uint32(data[8:12]),
	}
	if sig.Magic != CSMAGIC_EMBEDDED_SIGNATURE && sig.Magic != CSMAGIC_EMBEDDED_SIGNATURE_OLD {
		return nil, fmt.Errorf("super-blob magic 0x%08X: %w", sig.Magic, ErrBadMagic)
	}

	indexEnd := uint64(12) + uint64(sig.Count)*8
	if indexEnd > uint64(len(data)) {
		return nil, fmt.Errorf("super-blob index of %d entries needs %d bytes, have %d: %w",
			sig.Count, indexEnd, len(data), ErrTruncated)
	}

	for i := uint64(0); i < uint64(sig.Count); i++ {
		entryOff := 12 + i*8
		slotType := binary.BigEndian.Uint32(data[entryOff:])
		blobOff := binary.BigEndian.Uint32(data[entryOff+4:])

		if uint64(blobOff)+8 > uint64(len(data)) {
			return nil, fmt.Errorf("blob %d header at offset %d exceeds %d-byte signature: %w",
				i, blobOff, len(data), ErrTruncated)
		}
		blobMagic := binary.BigEndian.Uint32(data[blobOff:])
		blobLen := binary.BigEndian.Uint32(data[blobOff+4:])

		if blobLen < 8 || uint64(blobOff)+uint64(blobLen) > uint64(len(data)) {
			return nil, fmt.Errorf("blob %d at offset %d declares %d bytes in %d-byte signature: %w",
				i, blobOff, blobLen, len(data), ErrTruncated)
		}
		blob := data[blobOff : uint64(blobOff)+uint64(blobLen)]

		sig.Blobs = append(sig.Blobs, BlobIndexEntry{
			Type:   slotType,
			Offset: blobOff,
			Magic:  blobMagic,
			Length: blobLen,
		})

		// Dispatch by the magic at the blob head, not by the index slot
		// type. The slot field is an enumerated hint whose values collide
		// across vendors; the magic is self-describing.
		switch blobMagic {
		case CSMAGIC_CODEDIRECTORY:
			cd, err := parseCodeDirectory(blob)
			if err != nil {
				return nil, fmt.Errorf("blob %d (CodeDirectory): %w", i, err)
			}
			sig.CodeDirectories = append(sig.CodeDirectories, cd)
		case CSMAGIC_EMBEDDED_ENTITLEMENTS:
			sig.Entitlements = parseEntitlements(blob[8:])
		case CSMAGIC_EMBEDDED_ENTITLEMENTS_DER:
			sig.EntitlementsDER = parseEntitlementsDER(blob[8:])
		case CSMAGIC_REQUIREMENT, CSMAGIC_REQUIREMENTS:
			sig.Requirements = append(sig.Requirements, parseRequirement(blob, blobMagic))
		case CSMAGIC_BLOBWRAPPER:
			sig.CMS = parseCMS(blob[8:])
		default:
			if sig.OtherBlobs == nil {
				sig.OtherBlobs = make(map[string]string)
			}
			sig.OtherBlobs[fmt.Sprintf("0x%08X", blobMagic)] = base64.StdEncoding.EncodeToString(blob)
		}
	}

	return sig, nil
}
