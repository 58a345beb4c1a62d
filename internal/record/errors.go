package record

import "errors"

var (
	// ErrUnknownVersion indicates stored bytes carrying a tag no release has written.
	ErrUnknownVersion = errors.New("record: unknown schema version")
	// ErrCorrupt indicates stored bytes that do not match the shape their tag declares.
	ErrCorrupt = errors.New("record: corrupt encoding")
)
