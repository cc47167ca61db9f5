package binance

import (
	"errors"
	"fmt"

	"perpbot/internal/gateway/exchange"

	"github.com/adshao/go-binance/v2/common"
)

// transientCodes are venue errors worth retrying on a later attempt:
// disconnects, rate limits, timeouts and clock skew.
var transientCodes = map[int64]bool{
	-1000: true,
	-1001: true,
	-1003: true,
	-1007: true,
	-1008: true,
	-1021: true,
}

// wrapErr maps definitive API refusals to *exchange.RejectedError and
// leaves network failures as plain (transient) errors.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && !transientCodes[apiErr.Code] {
		return &exchange.RejectedError{Op: op, Code: int(apiErr.Code), Message: apiErr.Message}
	}
	return fmt.Errorf("binance %s: %w", op, err)
}

func hasCode(err error, code int64) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
