// Package store contains the errors shared by the blob and metadata stores.
package store

import (
	"errors"
)

var (
	// ErrNotFound is returned when a blob or record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when committing a blob under a key that is already taken.
	// Blob stores never overwrite.
	ErrAlreadyExists = errors.New("already exists")

	// ErrDuplicateHash is returned when inserting a record whose hash is already present.
	ErrDuplicateHash = errors.New("duplicate hash")
)
