package routing

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoCandidates is returned when every account for a request is down,
// disabled or unknown.
var ErrNoCandidates = errors.New("no usable upstream account")

// NoCandidatesError lists the accounts that were considered.
type NoCandidatesError struct {
	// Primary is the account the user is mapped to.
	Primary string

	// Considered holds every account name checked, with its exclusion reason.
	Considered []string
}

// Error implements the error interface.
func (e *NoCandidatesError) Error() string {
	return fmt.Sprintf("no usable upstream account for %s (considered: %s)",
		e.Primary, strings.Join(e.Considered, ", "))
}

// Is implements error matching for errors.Is().
func (e *NoCandidatesError) Is(target error) bool {
	return target == ErrNoCandidates
}
