package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCyclicDependency is wrapped by every CycleError.
var ErrCyclicDependency = errors.New("cyclic dependency")

// CycleError reports vertices that could not be ordered.
type CycleError struct {
	Remaining []string // Vertices whose predecessors never all became ordered
	Cycle     []string // One cycle among Remaining, first vertex repeated at the end
}

func (e *CycleError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("%s: %s", ErrCyclicDependency, strings.Join(e.Cycle, " -> "))
	}

	return fmt.Sprintf("%s: unresolved nodes %s", ErrCyclicDependency, strings.Join(e.Remaining, ", "))
}

func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}

// IsCyclicDependency reports whether err was caused by a dependency cycle.
func IsCyclicDependency(err error) bool {
	return errors.Is(err, ErrCyclicDependency)
}
