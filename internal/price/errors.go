package price

import "errors"

var (
	// ErrOutOfRange indicates a value whose scale or components cannot be accepted.
	ErrOutOfRange = errors.New("price: value out of range")
	// ErrMalformed indicates a textual value that could not be parsed.
	ErrMalformed = errors.New("price: malformed value")
)
