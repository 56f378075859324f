package catalog

import "errors"

var (
	ErrNotFound    = errors.New("catalog: no matching candidate")
	ErrInvalidName = errors.New("catalog: filename does not match a recognized pattern")
)
