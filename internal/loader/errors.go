package loader

import "errors"

// Error taxonomy of one interpretation pass. Every failure is terminal
// for the pass; the sentinels only classify it for the caller.
var (
	// ErrFormat marks a malformed or hostile script: non-terminated
	// names, duplicate allocations, out-of-range fields, truncated input.
	ErrFormat = errors.New("malformed loader script")

	// ErrNotFound marks a blob name that the configuration source does
	// not export.
	ErrNotFound = errors.New("fw_cfg file not found")

	// ErrUnsupported marks a script/platform mismatch the interpreter
	// cannot work around, such as sub-page alignment requests or pointer
	// values that do not fit their field.
	ErrUnsupported = errors.New("unsupported loader command")

	// ErrOutOfResources marks memory exhaustion; everything allocated in
	// the pass has been rolled back when it is returned.
	ErrOutOfResources = errors.New("out of resources")
)
