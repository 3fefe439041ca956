package gateway

import (
	"errors"
	"fmt"
)

// ErrNoMessages is returned for a request without any message content.
var ErrNoMessages = errors.New("at least one message is required")

// QuotaExceededError is returned by the pre-flight check. No provider call
// was made and nothing was recorded.
type QuotaExceededError struct {
	Tier      string
	Remaining int
	Requested int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: request needs about %d tokens but only %d remain on the %s plan",
		e.Requested, e.Remaining, e.Tier)
}

// UserMessage is the text shown to the account holder.
func (e *QuotaExceededError) UserMessage() string {
	return fmt.Sprintf("You have %d tokens left this month and this request needs about %d. "+
		"Upgrade your plan or wait for your monthly reset.", e.Remaining, e.Requested)
}

// IsQuotaExceeded reports whether err is a *QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}
