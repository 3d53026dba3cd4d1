package domain

import (
	"fmt"
)

// ValidationError reports a payload or identifier that cannot be accepted:
// malformed JSON, an unknown type discriminator, a missing required field or
// an id that does not follow the post URL pattern.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown local account. Context is echoed back to
// the HTTP caller next to the error message.
type NotFoundError struct {
	Msg     string
	Context map[string]string
}

func (e *NotFoundError) Error() string {
	if account, ok := e.Context["account"]; ok {
		return fmt.Sprintf("%s: %s", e.Msg, account)
	}
	return e.Msg
}

// AccountNotFound builds the NotFoundError used for unknown accounts.
func AccountNotFound(account string) error {
	return &NotFoundError{Msg: "Account not found", Context: map[string]string{"account": account}}
}

// DeliveryError is a failed outbound POST. It is recorded, never retried.
type DeliveryError struct {
	Inbox  string
	Status int
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery to %s failed: %v", e.Inbox, e.Err)
	}
	return fmt.Sprintf("delivery to %s failed with status %d", e.Inbox, e.Status)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// DiscoveryError is a failed step while resolving a remote account.
type DiscoveryError struct {
	Step   string
	Target string
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery of %s failed at %s: %v", e.Target, e.Step, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}
