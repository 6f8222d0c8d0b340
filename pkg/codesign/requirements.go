package codesign

import (
	"bytes"
	"encoding/binary"
	"strings"

	ctypes "github.com/blacktop/go-macho/pkg/codesign/types"
)

// parseRequirement renders a requirement or requirement-set blob as a
// string. Requirement sets are fed through the structured requirement
// decoder; anything it cannot express falls back to a scan for printable
// ASCII runs. Requirement decoding is never fatal.
func parseRequirement(blob []byte, blobMagic uint32) string {
	if blobMagic == CSMAGIC_REQUIREMENTS {
		if expr, ok := parseRequirementSet(blob); ok {
			return expr
		}
	}
	return scanPrintableRuns(blob[8:])
}

// parseRequirementSet decodes the first entry of a requirement set with the
// go-macho requirement expression decoder.
func parseRequirementSet(blob []byte) (expr string, ok bool) {
	// The decoder reads untrusted lengths; a malformed blob must not take
	// down the walk.
	defer func() {
		if recover() != nil {
			expr, ok = "", false
		}
	}()

	r := bytes.NewReader(blob)
	var rb ctypes.RequirementsBlob
	if err := binary.Read(r, binary.BigEndian, &rb); err != nil {
		return "", false
	}
	if rb.Data == 0 {
		return "empty requirement set", true
	}

	reqData := make([]byte, r.Len())
	if err := binary.Read(r, binary.BigEndian, &reqData); err != nil {
		return "", false
	}
	rqr := bytes.NewReader(reqData)
	var reqs ctypes.Requirements
	if err := binary.Read(rqr, binary.BigEndian, &reqs); err != nil {
		return "", false
	}
	detail, err := ctypes.ParseRequirements(rqr, reqs)
	if err != nil || detail == "" {
		return "", false
	}
	return detail, true
}

// scanPrintableRuns joins runs of at least four printable ASCII bytes with
// ", ".
func scanPrintableRuns(data []byte) string {
	const minRun = 4

	var runs []string
	start := -1
	for i, b := range data {
		printable := b >= 0x20 && b <= 0x7E
		if printable {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start >= minRun {
			runs = append(runs, string(data[start:i]))
		}
		start = -1
	}
	if start >= 0 && len(data)-start >= minRun {
		runs = append(runs, string(data[start:]))
	}
	return strings.Join(runs, ", ")
}
