package autofuse

import "github.com/pkg/errors"

// Error classes returned by the passes. Errors are wrapped with context, use errors.Is to check
// the class.
var (
	// ErrNullReference is returned when a required node, anchor or attribute is absent.
	ErrNullReference = errors.New("null reference")

	// ErrInvariantViolation is returned when a graph breaks one of its invariants: rank
	// mismatches, cycles, malformed partitions, etc.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrUnsupportedPattern is returned when a pass doesn't support the given graph.
	ErrUnsupportedPattern = errors.New("unsupported pattern")
)

// NullReferencef returns an error of class ErrNullReference with the formatted message.
func NullReferencef(format string, args ...any) error {
	return errors.Wrapf(ErrNullReference, format, args...)
}

// Invariantf returns an error of class ErrInvariantViolation with the formatted message.
func Invariantf(format string, args ...any) error {
	return errors.Wrapf(ErrInvariantViolation, format, args...)
}

// Unsupportedf returns an error of class ErrUnsupportedPattern with the formatted message.
func Unsupportedf(format string, args ...any) error {
	return errors.Wrapf(ErrUnsupportedPattern, format, args...)
}
