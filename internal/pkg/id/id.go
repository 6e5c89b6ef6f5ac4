package id

import (
	"github.com/oklog/ulid/v2"
)

// Generator produces record keys.
type Generator func() string

// New generates a new ULID string. ULIDs sort by creation time and spread
// well as DynamoDB partition keys.
func New() string {
	return ulid.Make().String()
}

// Valid reports whether s is a well-formed ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
