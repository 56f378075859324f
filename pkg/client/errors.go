package client

import "errors"

var (
	ErrNotFound = errors.New("client: no such extended address in registry")
)
