package codesign

import (
	"sort"

	"howett.net/plist"
)

// Entitlements holds the decoded XML-plist entitlements blob.
type Entitlements struct {
	Keys   []string       `json:"keys"`
	Parsed map[string]any `json:"parsed,omitempty"`
}

// EntitlementsDER holds the key list recovered from the DER-encoded
// entitlements blob, in document order.
type EntitlementsDER struct {
	Keys []string `json:"keys"`
}

// parseEntitlements decodes an XML property list (blob header already
// stripped) and reports its top-level keys sorted ascending. A payload that
// does not parse as a plist yields an empty key list.
func parseEntitlements(payload []byte) *Entitlements {
	ent := &Entitlements{Keys: []string{}}

	var parsed map[string]any
	if _, err := plist.Unmarshal(payload, &parsed); err != nil {
		return ent
	}
	ent.Parsed = parsed
	for k := range parsed {
		ent.Keys = append(ent.Keys, k)
	}
	sort.Strings(ent.Keys)
	return ent
}

// ASN.1 tags of Apple's entitlements DER encoding: an application-tagged
// outer sequence wrapping an INTEGER version and a context-tagged dictionary
// whose members are SEQUENCEs of (UTF8String key, value).
const (
	derTagApplication = 0x70
	derTagContextDict = 0xB0
	derTagSequence    = 0x30
	derTagInteger     = 0x02
	derTagUTF8String  = 0x0C
)

// parseEntitlementsDER walks the DER TLV structure (blob header already
// stripped) and collects the dictionary keys in document order. Unknown tags
// terminate the walk gracefully, returning whatever was decoded.
func parseEntitlementsDER(payload []byte) *EntitlementsDER {
	ent := &EntitlementsDER{Keys: []string{}}

	tag, outer, _, ok := derReadTLV(payload)
	if !ok || tag != derTagApplication {
		return ent
	}

	// INTEGER version, skipped.
	tag, _, rest, ok := derReadTLV(outer)
	if !ok || tag != derTagInteger {
		return ent
	}

	tag, dict, _, ok := derReadTLV(rest)
	if !ok || tag != derTagContextDict {
		return ent
	}

	for len(dict) > 0 {
		tag, pair, next, ok := derReadTLV(dict)
		if !ok || tag != derTagSequence {
			return ent
		}
		keyTag, key, _, ok := derReadTLV(pair)
		if !ok || keyTag != derTagUTF8String {
			return ent
		}
		ent.Keys = append(ent.Keys, string(key))
		dict = next
	}
	return ent
}

// derReadTLV reads one tag-length-value record, returning the tag, the
// value bytes, and the remainder after the record. Supports short-form and
// up-to-three-byte long-form lengths, the forms Apple emits.
func derReadTLV(data []byte) (tag byte, value, rest []byte, ok bool) {
	if len(data) < 2 {
		return 0, nil, nil, false
	}
	tag = data[0]

	var length, headerLen int
	switch {
	case data[1] < 0x80:
		length = int(data[1])
		headerLen = 2
	case data[1] == 0x81:
		if len(data) < 3 {
			return 0, nil, nil, false
		}
		length = int(data[2])
		headerLen = 3
	case data[1] == 0x82:
		if len(data) < 4 {
			return 0, nil, nil, false
		}
		length = int(data[2])<<8 | int(data[3])
		headerLen = 4
	case data[1] == 0x83:
		if len(data) < 5 {
			return 0, nil, nil, false
		}
		length = int(data[2])<<16 | int(data[3])<<8 | int(data[4])
		headerLen = 5
	default:
		return 0, nil, nil, false
	}

	if headerLen+length > len(data) {
		return 0, nil, nil, false
	}
	return tag, data[headerLen : headerLen+length], data[headerLen+length:], true
}
