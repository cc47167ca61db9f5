package exchange

import (
	"context"
	"errors"
	"fmt"
)

// RejectedError is a definitive venue refusal (bad quantity, insufficient
// margin, reduce-only violation). Retrying within the same cycle will not
// change the answer.
type RejectedError struct {
	Op      string
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected: code=%d msg=%s", e.Op, e.Code, e.Message)
}

// ErrIsolatedPosition is returned by Prepare when an isolated-margin
// position is open on the instrument.
var ErrIsolatedPosition = errors.New("isolated margin position open on instrument")

func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}

// IsTransient reports whether err may succeed on a later attempt:
// anything that is not a venue rejection and not a cancelled context.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !IsRejected(err)
}
