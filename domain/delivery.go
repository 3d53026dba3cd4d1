package domain

import "time"

// DeliveryResult is the outcome of one outbound POST.
type DeliveryResult struct {
	ActivityID string
	Instance   string
	Inbox      string
	Status     int
	Err        error
	Duration   time.Duration
}

func (r DeliveryResult) OK() bool {
	return r.Err == nil
}
