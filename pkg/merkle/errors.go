package merkle

import "errors"

// ErrInvalidReference is returned (wrapped) when a .mref file is malformed:
// bad magic, truncated, wrong version, or CRC mismatch.
var ErrInvalidReference = errors.New("merkle: invalid reference")

// ErrStateMismatch is returned when an existing .mrkl disagrees with its
// reference on shape (file size or chunk size).
var ErrStateMismatch = errors.New("merkle: state/reference shape mismatch")
