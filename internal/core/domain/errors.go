package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidImage       = errors.New("invalid image")
	ErrPredictionNotFound = errors.New("prediction not found")
	ErrStorage            = errors.New("storage failure")
	ErrTemporary          = errors.New("temporary failure")

	// ErrPredictionFailed wraps classification and persistence errors on the
	// submit path; the underlying kind stays reachable through errors.Is.
	ErrPredictionFailed = errors.New("prediction failed")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
