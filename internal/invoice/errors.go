package invoice

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound   = errors.New("invoice not found")
	ErrPermission = errors.New("invoice belongs to another user")

	// ErrRateUnavailable means no rate was supplied and the rate source
	// could not provide a usable one.
	ErrRateUnavailable = errors.New("exchange rate unavailable")
)

// ValidationError lists the rejected fields and why. It is returned before
// the store is touched.
type ValidationError struct {
	Violations map[string]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Violations))
	for f := range e.Violations {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + ": " + e.Violations[f]
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// PersistenceError wraps a failed store call: constraint violation,
// connectivity or timeout.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// storeError maps a store failure onto the workflow taxonomy.
func storeError(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return &PersistenceError{Op: op, Err: err}
}
