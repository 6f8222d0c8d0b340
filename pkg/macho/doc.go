// Package macho decodes Mach-O executables, dynamic libraries and fat
// archives into a normalized report: per-slice headers, load commands,
// segments and sections, symbol tables, referenced dylibs, and the embedded
// code signature.
//
// The pipeline accepts 64-bit thin images and fat archives; 32-bit slices
// of a fat archive are enumerated but not decoded. All decoding operates on
// a single in-memory copy of the file through bounds-checked readers, so a
// malformed input fails with an error naming the offending offset instead
// of panicking. The pipeline holds no mutable global state and is safe to
// run concurrently over different files.
package macho
