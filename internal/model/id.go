package model

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string for use as a run identifier.
func NewID() string {
	return ulid.Make().String()
}

// NewToken generates an opaque session token. Unlike NewID it draws all
// entropy from crypto/rand, so consecutive tokens are not predictable from
// one another.
func NewToken() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
