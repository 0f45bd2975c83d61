package query

import (
	"errors"
	"fmt"
)

// ErrFetchCanceled is returned by Fetch when the load was superseded by Cancel,
// Clear or Remove. The cache is left untouched.
var ErrFetchCanceled = errors.New("fetch canceled")

// TypeError is returned by the typed helpers when a cached value has an
// unexpected type
type TypeError struct {
	Key  Key
	Want string
	Got  any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("cache entry %s holds %T, want %s", e.Key, e.Got, e.Want)
}
