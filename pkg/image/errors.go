package image

import "errors"

// Decode error kinds produced by Parse. These are never returned to a
// transport caller; the catalog logs and drops the offending file.
var (
	ErrMalformedHeader = errors.New("image: malformed header")
	ErrTruncated       = errors.New("image: truncated buffer")
	ErrNoSubElements   = errors.New("image: no sub-elements found")
	ErrMagicNotFound   = errors.New("image: magic not found within tolerance window")
)
