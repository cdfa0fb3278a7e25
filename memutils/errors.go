package memutils

import "github.com/cockroachdb/errors"

// ZeroAlignmentError is returned from CheckAlignment when an alignment of zero is provided where a
// real alignment is required
var ZeroAlignmentError error = errors.New("alignment must be a positive number")

// NegativeSizeError is returned from CheckSize when a size less than one is provided
var NegativeSizeError error = errors.New("size must be a positive number")
