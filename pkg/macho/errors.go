package macho

import "errors"

// Error kinds returned by the decoding pipeline. Decoders wrap these with
// offset and structure context via fmt.Errorf("...: %w", ...), so callers
// can classify failures with errors.Is.
var (
	// ErrInvalidFormat marks a magic mismatch or a structurally impossible
	// field: unknown top-level magic, a thin header that is not 64-bit
	// Mach-O, an unrecognized code-signature super-blob magic.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrParsing marks a bounds violation, truncated record, or offset
	// arithmetic overflow inside an otherwise well-formed container.
	ErrParsing = errors.New("parsing error")

	// ErrUnsupported is reserved; the current pipeline does not return it.
	ErrUnsupported = errors.New("unsupported")
)
