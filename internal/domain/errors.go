package domain

import "errors"

// ErrBlobNotFound is returned by blob stores for a missing object.
var ErrBlobNotFound = errors.New("blob not found")
