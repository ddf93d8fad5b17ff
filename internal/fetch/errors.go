package fetch

import "fmt"

// FetchError is returned when the remote registry has no artifact for a path.
type FetchError struct {
	Path   string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch failed for %q: registry returned status %d", e.Path, e.Status)
	}
	return fmt.Sprintf("fetch failed for %q: %v", e.Path, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UnrecoverableError is returned by RecoverFromFailure when a failure message
// carries no module-path reference. It must propagate to the caller: the
// underlying failure is not dependency-related and retrying cannot fix it.
type UnrecoverableError struct {
	Message string
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("no missing module reference found in failure: %s", e.Message)
}
