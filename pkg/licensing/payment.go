package licensing

import "strings"

// PaymentStatus is the billing health of an account.
type PaymentStatus string

const (
	// PaymentActive means there is no outstanding payment issue. It does not
	// imply the account has a subscription.
	PaymentActive    PaymentStatus = "active"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// PaymentBehavior describes how the UI should treat a payment status.
type PaymentBehavior struct {
	Status      PaymentStatus
	ShowWarning bool
	Description string
}

// PaymentBehaviors maps each payment status to its behavior rules.
var PaymentBehaviors = map[PaymentStatus]PaymentBehavior{
	PaymentActive: {
		Status:      PaymentActive,
		ShowWarning: false,
		Description: "No outstanding payment issue.",
	},
	PaymentFailed: {
		Status:      PaymentFailed,
		ShowWarning: true,
		Description: "Last payment failed; tier is kept until the billing provider cancels.",
	},
	PaymentCancelled: {
		Status:      PaymentCancelled,
		ShowWarning: true,
		Description: "Subscription cancelled by the billing provider.",
	},
}

// ParsePaymentStatus normalizes a raw status, defaulting to active.
func ParsePaymentStatus(raw string) PaymentStatus {
	status := PaymentStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := PaymentBehaviors[status]; ok {
		return status
	}
	return PaymentActive
}

// GetPaymentBehavior returns the behavior for a status. Unknown statuses
// behave as active.
func GetPaymentBehavior(status PaymentStatus) PaymentBehavior {
	if b, ok := PaymentBehaviors[status]; ok {
		return b
	}
	return PaymentBehaviors[PaymentActive]
}
