package watchdog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidTTL is matched by every ttl validation failure.
var ErrInvalidTTL = errors.New("invalid ttl")

// ValidationError reports a rejected ttl input. The controller state is
// never modified when one is returned.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid ttl %q: %s", e.Input, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidTTL) true for any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidTTL
}

// ParseTTL parses a positive whole number of seconds.
func ParseTTL(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, &ValidationError{Input: raw, Reason: "missing"}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ValidationError{Input: raw, Reason: "not an integer"}
	}
	if n <= 0 {
		return 0, &ValidationError{Input: raw, Reason: "must be positive"}
	}
	return n, nil
}
