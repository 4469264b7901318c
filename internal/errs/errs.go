// Package errs collects the small error-wrapping convention used across
// meshchain: fmt.Errorf with %w, never a third-party errors package. The
// teacher's own codebase (orbas1-Synnergy) wraps this same way throughout
// its core packages; SPEC_FULL.md §7 records the decision not to add
// github.com/pkg/errors on top of it.
package errs

import "fmt"

// Wrap annotates err with message, preserving it for errors.Is/As.
// Returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
