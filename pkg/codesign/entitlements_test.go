package codesign

import (
	"bytes"
	"reflect"
	"testing"
)

const entitlementsXML = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>get-task-allow</key>
	<true/>
	<key>application-identifier</key>
	<string>ABCD1234.com.example.app</string>
	<key>keychain-access-groups</key>
	<array>
		<string>ABCD1234.com.example.app</string>
	</array>
</dict>
</plist>
`

func TestParseEntitlementsXML(t *testing.T) {
	ent := parseEntitlements([]byte(entitlementsXML))

	expected := []string{"application-identifier", "get-task-allow", "keychain-access-groups"}
	if !reflect.DeepEqual(ent.Keys, expected) {
		t.Errorf("expected sorted keys %v, got %v", expected, ent.Keys)
	}

	if v, ok := ent.Parsed["get-task-allow"].(bool); !ok || !v {
		t.Errorf("expected get-task-allow=true in parsed map, got %v", ent.Parsed["get-task-allow"])
	}
}

func TestParseEntitlementsXMLGarbage(t *testing.T) {
	ent := parseEntitlements([]byte("not a plist at all"))
	if len(ent.Keys) != 0 {
		t.Errorf("expected no keys for junk payload, got %v", ent.Keys)
	}
}

func TestParseEntitlementsXMLThroughSuperBlob(t *testing.T) {
	blob := wrapBlob(CSMAGIC_EMBEDDED_ENTITLEMENTS, []byte(entitlementsXML))
	sb := buildSuperBlob(CSMAGIC_EMBEDDED_SIGNATURE, []uint32{5}, [][]byte{blob})

	sig, err := Parse(sb, 0, uint64(len(sb)))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if sig.Entitlements == nil || len(sig.Entitlements.Keys) != 3 {
		t.Fatalf("expected three entitlement keys, got %+v", sig.Entitlements)
	}
}

// tlv wraps content in a DER tag-length record, mirroring the length forms
// of Apple's encoder.
func tlv(tag byte, content []byte) []byte {
	n := len(content)
	var head []byte
	switch {
	case n < 128:
		head = []byte{tag, byte(n)}
	case n < 256:
		head = []byte{tag, 0x81, byte(n)}
	default:
		head = []byte{tag, 0x82, byte(n >> 8), byte(n)}
	}
	return append(head, content...)
}

func buildDEREntitlements(pairs [][2][]byte) []byte {
	var dict []byte
	for _, kv := range pairs {
		pair := append(tlv(derTagUTF8String, kv[0]), kv[1]...)
		dict = append(dict, tlv(derTagSequence, pair)...)
	}

	content := []byte{derTagInteger, 0x01, 0x01} // INTEGER 1
	content = append(content, tlv(derTagContextDict, dict)...)
	return tlv(derTagApplication, content)
}

func TestParseEntitlementsDER(t *testing.T) {
	payload := buildDEREntitlements([][2][]byte{
		{[]byte("com.apple.security.app-sandbox"), {0x01, 0x01, 0xFF}},
		{[]byte("application-identifier"), tlv(derTagUTF8String, []byte("ABCD1234.com.example.app"))},
	})

	ent := parseEntitlementsDER(payload)

	// Keys come back in document order, not sorted.
	expected := []string{"com.apple.security.app-sandbox", "application-identifier"}
	if !reflect.DeepEqual(ent.Keys, expected) {
		t.Errorf("expected keys %v, got %v", expected, ent.Keys)
	}
}

func TestParseEntitlementsDERLongForm(t *testing.T) {
	long := bytes.Repeat([]byte("x"), 200)
	payload := buildDEREntitlements([][2][]byte{
		{[]byte("big-value"), tlv(derTagUTF8String, long)},
		{[]byte("after"), {0x01, 0x01, 0x00}},
	})

	ent := parseEntitlementsDER(payload)
	if !reflect.DeepEqual(ent.Keys, []string{"big-value", "after"}) {
		t.Errorf("long-form lengths mishandled, got %v", ent.Keys)
	}
}

func TestParseEntitlementsDERUnknownTagStopsGracefully(t *testing.T) {
	good := tlv(derTagSequence, append(tlv(derTagUTF8String, []byte("first")), 0x01, 0x01, 0xFF))
	bad := tlv(0x5F, []byte("junk")) // unexpected tag terminates the walk
	dict := append(append([]byte{}, good...), bad...)

	content := []byte{derTagInteger, 0x01, 0x01}
	content = append(content, tlv(derTagContextDict, dict)...)
	payload := tlv(derTagApplication, content)

	ent := parseEntitlementsDER(payload)
	if !reflect.DeepEqual(ent.Keys, []string{"first"}) {
		t.Errorf("expected the keys decoded before the unknown tag, got %v", ent.Keys)
	}
}

func TestParseEntitlementsDERGarbage(t *testing.T) {
	for _, payload := range [][]byte{nil, {0x00}, {0x30, 0x05, 0x01}, []byte("garbage")} {
		ent := parseEntitlementsDER(payload)
		if len(ent.Keys) != 0 {
			t.Errorf("expected no keys for %x, got %v", payload, ent.Keys)
		}
	}
}

func TestParseEntitlementsDERThroughSuperBlob(t *testing.T) {
	payload := buildDEREntitlements([][2][]byte{
		{[]byte("get-task-allow"), {0x01, 0x01, 0xFF}},
	})
	blob := wrapBlob(CSMAGIC_EMBEDDED_ENTITLEMENTS_DER, payload)
	sb := buildSuperBlob(CSMAGIC_EMBEDDED_SIGNATURE, []uint32{7}, [][]byte{blob})

	sig, err := Parse(sb, 0, uint64(len(sb)))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if sig.EntitlementsDER == nil ||
		!reflect.DeepEqual(sig.EntitlementsDER.Keys, []string{"get-task-allow"}) {
		t.Errorf("expected DER keys [get-task-allow], got %+v", sig.EntitlementsDER)
	}
}
