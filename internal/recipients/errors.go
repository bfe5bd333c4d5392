package recipients

import "fmt"

// ResolutionError is returned when the identity lookup is unreachable or
// answers with a malformed response. Callers treat it as retryable.
type ResolutionError struct {
	OrgID     string
	Malformed bool
	Err       error
}

func (e *ResolutionError) Error() string {
	if e.Malformed {
		return fmt.Sprintf("malformed identity response for org %s: %v", e.OrgID, e.Err)
	}
	return fmt.Sprintf("identity lookup failed for org %s: %v", e.OrgID, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
