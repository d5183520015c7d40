package relay

import (
	"errors"
	"fmt"
)

// ErrConfigMissing is reported when the config store has no configuration.
var ErrConfigMissing = errors.New("relay configuration not found")

// SourceUnavailableError reports that recent posts could not be fetched,
// whether through network failure, rate limiting or rejected credentials.
type SourceUnavailableError struct {
	Account string
	Err     error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source unavailable for %s: %v", e.Account, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

// IsSourceUnavailable reports whether err is or wraps a SourceUnavailableError.
func IsSourceUnavailable(err error) bool {
	var target *SourceUnavailableError
	return errors.As(err, &target)
}
