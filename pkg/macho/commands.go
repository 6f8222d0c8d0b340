package macho

import (
	"encoding/binary"
	"fmt"
)

// Load command codes dispatched by the walker.
const (
	LC_SEGMENT              = 0x1
	LC_SYMTAB               = 0x2
	LC_THREAD               = 0x4
	LC_UNIXTHREAD           = 0x5
	LC_LOADFVMLIB           = 0x6
	LC_IDFVMLIB             = 0x7
	LC_IDENT                = 0x8
	LC_FVMFILE              = 0x9
	LC_PREPAGE              = 0xa
	LC_DYSYMTAB             = 0xb
	LC_LOAD_DYLIB           = 0xc
	LC_ID_DYLIB             = 0xd
	LC_LOAD_DYLINKER        = 0xe
	LC_ID_DYLINKER          = 0xf
	LC_SEGMENT_64           = 0x19
	LC_UUID                 = 0x1b
	LC_CODE_SIGNATURE       = 0x1d
	LC_LAZY_LOAD_DYLIB      = 0x20
	LC_DYLD_INFO            = 0x22
	LC_VERSION_MIN_MACOSX   = 0x24
	LC_VERSION_MIN_IPHONEOS = 0x25
	LC_FUNCTION_STARTS      = 0x26
	LC_DATA_IN_CODE         = 0x29
	LC_SOURCE_VERSION       = 0x2a
	LC_BUILD_VERSION        = 0x32
	LC_LOAD_WEAK_DYLIB      = 0x80000018
	LC_RPATH                = 0x8000001c
	LC_REEXPORT_DYLIB       = 0x8000001f
	LC_DYLD_INFO_ONLY       = 0x80000022
	LC_LOAD_UPWARD_DYLIB    = 0x80000023
	LC_MAIN                 = 0x80000028
	LC_DYLD_EXPORTS_TRIE    = 0x80000033
	LC_DYLD_CHAINED_FIXUPS  = 0x80000034
)

var cmdNames = map[uint32]string{
	LC_SEGMENT:              "LC_SEGMENT",
	LC_SYMTAB:               "LC_SYMTAB",
	LC_THREAD:               "LC_THREAD",
	LC_UNIXTHREAD:           "LC_UNIXTHREAD",
	LC_LOADFVMLIB:           "LC_LOADFVMLIB",
	LC_IDFVMLIB:             "LC_IDFVMLIB",
	LC_IDENT:                "LC_IDENT",
	LC_FVMFILE:              "LC_FVMFILE",
	LC_PREPAGE:              "LC_PREPAGE",
	LC_DYSYMTAB:             "LC_DYSYMTAB",
	LC_LOAD_DYLIB:           "LC_LOAD_DYLIB",
	LC_ID_DYLIB:             "LC_ID_DYLIB",
	LC_LOAD_DYLINKER:        "LC_LOAD_DYLINKER",
	LC_ID_DYLINKER:          "LC_ID_DYLINKER",
	LC_SEGMENT_64:           "LC_SEGMENT_64",
	LC_UUID:                 "LC_UUID",
	LC_CODE_SIGNATURE:       "LC_CODE_SIGNATURE",
	LC_LAZY_LOAD_DYLIB:      "LC_LAZY_LOAD_DYLIB",
	LC_DYLD_INFO:            "LC_DYLD_INFO",
	LC_VERSION_MIN_MACOSX:   "LC_VERSION_MIN_MACOSX",
	LC_VERSION_MIN_IPHONEOS: "LC_VERSION_MIN_IPHONEOS",
	LC_FUNCTION_STARTS:      "LC_FUNCTION_STARTS",
	LC_DATA_IN_CODE:         "LC_DATA_IN_CODE",
	LC_SOURCE_VERSION:       "LC_SOURCE_VERSION",
	LC_BUILD_VERSION:        "LC_BUILD_VERSION",
	LC_LOAD_WEAK_DYLIB:      "LC_LOAD_WEAK_DYLIB",
	LC_RPATH:                "LC_RPATH",
	LC_REEXPORT_DYLIB:       "LC_REEXPORT_DYLIB",
	LC_DYLD_INFO_ONLY:       "LC_DYLD_INFO_ONLY",
	LC_LOAD_UPWARD_DYLIB:    "LC_LOAD_UPWARD_DYLIB",
	LC_MAIN:                 "LC_MAIN",
	LC_DYLD_EXPORTS_TRIE:    "LC_DYLD_EXPORTS_TRIE",
	LC_DYLD_CHAINED_FIXUPS:  "LC_DYLD_CHAINED_FIXUPS",
}

// CommandName returns the symbolic name of a load command code, or
// "Unknown (0x........)" for codes outside the dispatch table.
func CommandName(cmd uint32) string {
	if name, ok := cmdNames[cmd]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (0x%08X)", cmd)
}

// LoadCommand is one decoded load command. At most one of the typed payload
// fields is set, matching the command code; unknown commands and thread
// commands carry only PayloadSize, and LC_PREPAGE carries no payload field.
type LoadCommand struct {
	Index   int    `json:"index"`
	Cmd     uint32 `json:"cmd"`
	Name    string `json:"name"`
	Cmdsize uint32 `json:"cmdsize"`

	Segment       *Segment      `json:"segment,omitempty"`
	Segment32     *Segment32    `json:"segment32,omitempty"`
	Symtab        *Symtab       `json:"symtab,omitempty"`
	Dysymtab      *Dysymtab     `json:"dysymtab,omitempty"`
	Dylib         *DylibRef     `json:"dylib,omitempty"`
	Dylinker      string        `json:"dylinker,omitempty"`
	FvmLib        *FvmLib       `json:"fvmlib,omitempty"`
	FvmFile       *FvmFile      `json:"fvmfile,omitempty"`
	Ident         string        `json:"ident,omitempty"`
	UUID          string        `json:"uuid,omitempty"`
	LinkeditData  *LinkeditData `json:"linkedit_data,omitempty"`
	DyldInfo      *DyldInfo     `json:"dyld_info,omitempty"`
	VersionMin    *VersionMin   `json:"version_min,omitempty"`
	BuildVersion  *BuildVersion `json:"build_version,omitempty"`
	SourceVersion string        `json:"source_version,omitempty"`
	EntryPoint    *EntryPoint   `json:"entry_point,omitempty"`
	Rpath         string        `json:"rpath,omitempty"`
	PayloadSize   uint32        `json:"payload_size,omitempty"`
}

// Symtab is the decoded LC_SYMTAB payload.
type Symtab struct {
	Symoff  uint32 `json:"symoff"`
	Nsyms   uint32 `json:"nsyms"`
	Stroff  uint32 `json:"stroff"`
	Strsize uint32 `json:"strsize"`
}

// Dysymtab is the decoded LC_DYSYMTAB payload, eighteen u32 fields in file
// order.
type Dysymtab struct {
	Ilocalsym      uint32 `json:"ilocalsym"`
	Nlocalsym      uint32 `json:"nlocalsym"`
	Iextdefsym     uint32 `json:"iextdefsym"`
	Nextdefsym     uint32 `json:"nextdefsym"`
	Iundefsym      uint32 `json:"iundefsym"`
	Nundefsym      uint32 `json:"nundefsym"`
	Tocoff         uint32 `json:"tocoff"`
	Ntoc           uint32 `json:"ntoc"`
	Modtaboff      uint32 `json:"modtaboff"`
	Nmodtab        uint32 `json:"nmodtab"`
	Extrefsymoff   uint32 `json:"extrefsymoff"`
	Nextrefsyms    uint32 `json:"nextrefsyms"`
	Indirectsymoff uint32 `json:"indirectsymoff"`
	Nindirectsyms  uint32 `json:"nindirectsyms"`
	Extreloff      uint32 `json:"extreloff"`
	Nextrel        uint32 `json:"nextrel"`
	Locreloff      uint32 `json:"locreloff"`
	Nlocrel        uint32 `json:"nlocrel"`
}

// FvmLib is the decoded LC_LOADFVMLIB / LC_IDFVMLIB payload.
type FvmLib struct {
	Name         string `json:"name"`
	MinorVersion uint32 `json:"minor_version"`
	HeaderAddr   uint32 `json:"header_addr"`
}

// FvmFile is the decoded LC_FVMFILE payload.
type FvmFile struct {
	Name       string `json:"name"`
	HeaderAddr uint32 `json:"header_addr"`
}

// LinkeditData is the (dataoff, datasize) payload shared by
// LC_CODE_SIGNATURE, LC_FUNCTION_STARTS, LC_DATA_IN_CODE and friends.
type LinkeditData struct {
	Dataoff  uint32 `json:"dataoff"`
	Datasize uint32 `json:"datasize"`
}

// DyldInfo is the decoded LC_DYLD_INFO(_ONLY) payload.
type DyldInfo struct {
	RebaseOff    uint32 `json:"rebase_off"`
	RebaseSize   uint32 `json:"rebase_size"`
	BindOff      uint32 `json:"bind_off"`
	BindSize     uint32 `json:"bind_size"`
	WeakBindOff  uint32 `json:"weak_bind_off"`
	WeakBindSize uint32 `json:"weak_bind_size"`
	LazyBindOff  uint32 `json:"lazy_bind_off"`
	LazyBindSize uint32 `json:"lazy_bind_size"`
	ExportOff    uint32 `json:"export_off"`
	ExportSize   uint32 `json:"export_size"`
}

// VersionMin is the decoded LC_VERSION_MIN_* payload, versions rendered as
// x.y.z.
type VersionMin struct {
	Version string `json:"version"`
	SDK     string `json:"sdk"`
}

// BuildVersion is the decoded LC_BUILD_VERSION payload.
type BuildVersion struct {
	Platform uint32 `json:"platform"`
	MinOS    string `json:"min_os"`
	SDK      string `json:"sdk"`
	Ntools   uint32 `json:"ntools"`
}

// EntryPoint is the decoded LC_MAIN payload.
type EntryPoint struct {
	EntryOff  uint64 `json:"entry_off"`
	StackSize uint64 `json:"stack_size"`
}

// sliceParts collects what the walker extracts from one slice beyond the
// command list itself.
type sliceParts struct {
	commands []*LoadCommand
	symtab   *Symtab
	dysymtab *Dysymtab
	dylibs   []DylibRef
	codeSig  *LinkeditData
}

// walkLoadCommands iterates hdr.Ncmds load commands starting at header+32,
// dispatching each to its typed decoder. r spans the whole slice.
func walkLoadCommands(r reader, hdr *Header, bo binary.ByteOrder) (*sliceParts, error) {
	parts := &sliceParts{}
	cmdEnd := uint64(headerSize) + uint64(hdr.Sizeofcmds)

	cursor := uint64(headerSize)
	for i := uint32(0); i < hdr.Ncmds; i++ {
		cmd, err := r.u32(cursor, bo)
		if err != nil {
			return nil, fmt.Errorf("load command %d at offset %d: %w", i, cursor, err)
		}
		cmdsize, err := r.u32(cursor+4, bo)
		if err != nil {
			return nil, fmt.Errorf("load command %d at offset %d: %w", i, cursor, err)
		}
		if cmdsize < 8 {
			return nil, fmt.Errorf("load command %d at offset %d declares cmdsize %d < 8: %w", i, cursor, cmdsize, ErrParsing)
		}
		if cursor+uint64(cmdsize) > r.len() || cursor+uint64(cmdsize) > cmdEnd {
			return nil, fmt.Errorf("load command %d at offset %d declares %d bytes past the command area: %w",
				i, cursor, cmdsize, ErrParsing)
		}

		lc := &LoadCommand{
			Index:   int(i),
			Cmd:     cmd,
			Name:    CommandName(cmd),
			Cmdsize: cmdsize,
		}
		if err := decodeCommand(r, cursor, lc, bo, parts); err != nil {
			return nil, fmt.Errorf("load command %d (%s) at offset %d: %w", i, lc.Name, cursor, err)
		}
		parts.commands = append(parts.commands, lc)

		cursor += uint64(cmdsize)
	}

	return parts, nil
}

func decodeCommand(r reader, off uint64, lc *LoadCommand, bo binary.ByteOrder, parts *sliceParts) error {
	switch lc.Cmd {
	case LC_SEGMENT_64:
		seg, err := decodeSegment64(r, off, lc.Cmdsize, bo)
		if err != nil {
			return err
		}
		lc.Segment = seg

	case LC_SEGMENT:
		seg, err := decodeSegment32(r, off, lc.Cmdsize, bo)
		if err != nil {
			return err
		}
		lc.Segment32 = seg

	case LC_SYMTAB:
		st := &Symtab{}
		for j, dst := range []*uint32{&st.Symoff, &st.Nsyms, &st.Stroff, &st.Strsize} {
			v, err := r.u32(off+8+uint64(j)*4, bo)
			if err != nil {
				return err
			}
			*dst = v
		}
		lc.Symtab = st
		parts.symtab = st

	case LC_DYSYMTAB:
		dst := &Dysymtab{}
		fields := []*uint32{
			&dst.Ilocalsym, &dst.Nlocalsym, &dst.Iextdefsym, &dst.Nextdefsym,
			&dst.Iundefsym, &dst.Nundefsym, &dst.Tocoff, &dst.Ntoc,
			&dst.Modtaboff, &dst.Nmodtab, &dst.Extrefsymoff, &dst.Nextrefsyms,
			&dst.Indirectsymoff, &dst.Nindirectsyms, &dst.Extreloff, &dst.Nextrel,
			&dst.Locreloff, &dst.Nlocrel,
		}
		for j, f := range fields {
			v, err := r.u32(off+8+uint64(j)*4, bo)
			if err != nil {
				return err
			}
			*f = v
		}
		lc.Dysymtab = dst
		parts.dysymtab = dst

	case LC_LOAD_DYLIB, LC_ID_DYLIB, LC_LOAD_WEAK_DYLIB, LC_REEXPORT_DYLIB,
		LC_LAZY_LOAD_DYLIB, LC_LOAD_UPWARD_DYLIB:
		ref, err := decodeDylib(r, off, lc.Cmdsize, bo)
		if err != nil {
			return err
		}
		lc.Dylib = ref
		if lc.Cmd != LC_ID_DYLIB {
			parts.dylibs = append(parts.dylibs, *ref)
		}

	case LC_LOAD_DYLINKER, LC_ID_DYLINKER:
		name, err := readNamePayload(r, off, lc.Cmdsize, bo)
		if err != nil {
			return err
		}
		lc.Dylinker = name

	case LC_LOADFVMLIB, LC_IDFVMLIB:
		name, err := readNamePayload(r, off, lc.Cmdsize, bo)
		if err != nil {
			return err
		}
		lib := &FvmLib{Name: name}
		if lib.MinorVersion, err = r.u32(off+12, bo); err != nil {
			return err
		}
		if lib.HeaderAddr, err = r.u32(off+16, bo); err != nil {
			return err
		}
		lc.FvmLib = lib

	case LC_FVMFILE:
		name, err := readNamePayload(r, off, lc.Cmdsize, bo)
		if err != nil {
			return err
		}
		file := &FvmFile{Name: name}
		if file.HeaderAddr, err = r.u32(off+12, bo); err != nil {
			return err
		}
		lc.FvmFile = file

	case LC_IDENT:
		s, err := r.fixedASCII(off+8, uint64(lc.Cmdsize)-8)
		if err != nil {
			return err
		}
		lc.Ident = s

	case LC_PREPAGE:
		// No fields.

	case LC_THREAD, LC_UNIXTHREAD:
		// Opaque thread state; record the payload size only.
		lc.PayloadSize = lc.Cmdsize - 8

	case LC_UUID:
		b, err := r.bytes(off+8, 16)
		if err != nil {
			return err
		}
		lc.UUID = fmt.Sprintf("%X-%X-%X-%X-%X", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])

	case LC_CODE_SIGNATURE, LC_FUNCTION_STARTS, LC_DATA_IN_CODE,
		LC_DYLD_EXPORTS_TRIE, LC_DYLD_CHAINED_FIXUPS:
		led := &LinkeditData{}
		var err error
		if led.Dataoff, err = r.u32(off+8, bo); err != nil {
			return err
		}
		if led.Datasize, err = r.u32(off+12, bo); err != nil {
			return err
		}
		lc.LinkeditData = led
		if lc.Cmd == LC_CODE_SIGNATURE {
			parts.codeSig = led
		}

	case LC_DYLD_INFO, LC_DYLD_INFO_ONLY:
		di := &DyldInfo{}
		fields := []*uint32{
			&di.RebaseOff, &di.RebaseSize, &di.BindOff, &di.BindSize,
			&di.WeakBindOff, &di.WeakBindSize, &di.LazyBindOff, &di.LazyBindSize,
			&di.ExportOff, &di.ExportSize,
		}
		for j, f := range fields {
			v, err := r.u32(off+8+uint64(j)*4, bo)
			if err != nil {
				return err
			}
			*f = v
		}
		lc.DyldInfo = di

	case LC_VERSION_MIN_MACOSX, LC_VERSION_MIN_IPHONEOS:
		ver, err := r.u32(off+8, bo)
		if err != nil {
			return err
		}
		sdk, err := r.u32(off+12, bo)
		if err != nil {
			return err
		}
		lc.VersionMin = &VersionMin{Version: RenderVersion(ver), SDK: RenderVersion(sdk)}

	case LC_BUILD_VERSION:
		bv := &BuildVersion{}
		platform, err := r.u32(off+8, bo)
		if err != nil {
			return err
		}
		minos, err := r.u32(off+12, bo)
		if err != nil {
			return err
		}
		sdk, err := r.u32(off+16, bo)
		if err != nil {
			return err
		}
		ntools, err := r.u32(off+20, bo)
		if err != nil {
			return err
		}
		bv.Platform, bv.MinOS, bv.SDK, bv.Ntools = platform, RenderVersion(minos), RenderVersion(sdk), ntools
		lc.BuildVersion = bv

	case LC_SOURCE_VERSION:
		v, err := r.u64(off+8, bo)
		if err != nil {
			return err
		}
		lc.SourceVersion = fmt.Sprintf("%d.%d.%d.%d.%d",
			v>>40, (v>>30)&0x3ff, (v>>20)&0x3ff, (v>>10)&0x3ff, v&0x3ff)

	case LC_MAIN:
		ep := &EntryPoint{}
		var err error
		if ep.EntryOff, err = r.u64(off+8, bo); err != nil {
			return err
		}
		if ep.StackSize, err = r.u64(off+16, bo); err != nil {
			return err
		}
		lc.EntryPoint = ep

	case LC_RPATH:
		path, err := readNamePayload(r, off, lc.Cmdsize, bo)
		if err != nil {
			return err
		}
		lc.Rpath = path

	default:
		lc.PayloadSize = lc.Cmdsize - 8
	}

	return nil
}

// readNamePayload reads the lc_str-style trailing name of a command: a u32
// offset at command+8 pointing at a string padded to cmdsize with NULs.
func readNamePayload(r reader, cmdOff uint64, cmdsize uint32, bo binary.ByteOrder) (string, error) {
	nameOff, err := r.u32(cmdOff+8, bo)
	if err != nil {
		return "", err
	}
	if nameOff < 8 || nameOff >= cmdsize {
		return "", fmt.Errorf("name offset %d outside command of %d bytes: %w", nameOff, cmdsize, ErrParsing)
	}
	return r.fixedASCII(cmdOff+uint64(nameOff), uint64(cmdsize-nameOff))
}
