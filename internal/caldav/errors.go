package caldav

import "errors"

// Failure classes for remote operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if caldav.IsRetryable(err) {
//	    // back off and try again
//	}
var (
	// ErrConnection is returned when the remote store cannot be reached
	// or drops the connection mid-request. Transient.
	ErrConnection = errors.New("connection to server failed")

	// ErrTimeout is returned when a remote call exceeds its deadline.
	// Transient.
	ErrTimeout = errors.New("operation timed out")

	// ErrListing is returned when calendar discovery or a collection
	// listing fails for reasons other than auth. Transient.
	ErrListing = errors.New("collection listing failed")

	// ErrAuth is returned on authentication or authorization failure.
	// Never retried: repeating a bad credential cannot help.
	ErrAuth = errors.New("authentication failed")

	// ErrNotFound marks a remote object that does not exist. Lookup
	// helpers map this to an absent result instead of surfacing it;
	// it only escapes when a mutation targets a missing object.
	ErrNotFound = errors.New("object not found")

	// ErrServer is returned for remote failures that are neither
	// transient nor auth related (malformed responses, 4xx semantics).
	ErrServer = errors.New("server rejected request")
)

// IsRetryable returns true if the error is likely to succeed on retry.
// Connection drops, timeouts, and listing failures qualify; everything
// else propagates immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnection) {
		return true
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	if errors.Is(err, ErrListing) {
		return true
	}
	return false
}

// IsNotFound returns true if the error marks a missing remote object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsFatal returns true if the error indicates a state retrying cannot fix,
// such as rejected credentials.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) {
		return true
	}
	return false
}
