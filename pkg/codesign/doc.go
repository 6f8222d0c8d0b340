// Package codesign decodes the embedded code-signature super-blob of a
// Mach-O slice: the blob index, CodeDirectory records (including cdhash and
// special-slot hashes), XML and DER entitlements, designated requirements,
// and the CMS certificate chain.
//
// All multi-byte integers in code-signature data are big-endian regardless
// of the byte order of the slice that embeds it. The decoder dispatches on
// the magic at each blob head rather than the index slot type; the slot is
// an untrusted hint.
//
// Signature validation is out of scope: nothing here checks hashes against
// file content or verifies the CMS signature cryptographically.
package codesign
