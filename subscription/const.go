package subscription

// Status is the custom type to define the current lifecycle status of a subscription
type Status string

// Defining the lifecycle statuses, mirroring the billing provider's vocabulary
const (
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// Entitled reports whether the status still carries the record's nominal tier.
// past_due keeps full entitlement as a grace period; only canceled (or no
// record at all) degrades to free
func (s Status) Entitled() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	default:
		return false
	}
}
