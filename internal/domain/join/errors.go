package join

import "errors"

// ErrResolutionFailed wraps any store failure met while resolving a scope.
var ErrResolutionFailed = errors.New("resolution failed")
