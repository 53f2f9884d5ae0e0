package gateway

import "fmt"

// StatusError is a non-success response from a backend.
type StatusError struct {
	Backend string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Backend, e.Code, e.Body)
}
