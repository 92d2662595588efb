package serialization

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Read and its helpers.
var (
	ErrChecksumMismatch   = errors.New("serialization: checksum mismatch")
	ErrTruncated          = errors.New("serialization: truncated file")
	ErrHeaderTooLarge     = errors.New("serialization: header too large")
	ErrInvalidMagic       = errors.New("serialization: not a .born file")
	ErrUnsupportedVersion = errors.New("serialization: unsupported format version")
	ErrUnsupportedDType   = errors.New("serialization: unsupported dtype")
)

// ValidationError describes a header that is well-formed JSON but names
// tensors, offsets or sizes that cannot be trusted. Type is a short
// machine-readable kind such as "offset_overlap" or "size_mismatch".
type ValidationError struct {
	Type    string
	Tensor  string
	Tensor2 string // Second tensor of a pairwise conflict
	Details string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Tensor2 != "":
		return fmt.Sprintf("serialization: %s between %q and %q: %s", e.Type, e.Tensor, e.Tensor2, e.Details)
	case e.Tensor != "":
		return fmt.Sprintf("serialization: %s in %q: %s", e.Type, e.Tensor, e.Details)
	default:
		return fmt.Sprintf("serialization: %s: %s", e.Type, e.Details)
	}
}
