package modcache

import "fmt"

// EvaluationError reports that a module evaluated to a nil export. Terminal:
// retrying cannot make an empty export meaningful.
type EvaluationError struct {
	Name string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("module %q evaluated to an undefined export", e.Name)
}

// ConvergenceError reports that repeated fetch-and-retry cycles did not
// produce a successful evaluation within the configured bound.
type ConvergenceError struct {
	Name   string
	Cycles int
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("dependency resolution did not converge for %q after %d recovery cycles", e.Name, e.Cycles)
}
