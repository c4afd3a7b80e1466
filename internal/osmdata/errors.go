package osmdata

import "fmt"

// ExternalFetchError reports a failed lookup against a geometry or tile
// service. The affected items are missing from the result; callers carry on.
type ExternalFetchError struct {
	Source string
	Keys   []string
	Err    error
}

func (e *ExternalFetchError) Error() string {
	return fmt.Sprintf("%s fetch failed for %d item(s): %v", e.Source, len(e.Keys), e.Err)
}

func (e *ExternalFetchError) Unwrap() error {
	return e.Err
}
