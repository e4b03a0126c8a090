package command

import "github.com/finvault/ledger/internal/services/ledger/domain/event"

// Rejection explains why a command produced no events.
type Rejection struct {
	Code    string
	Message string
}

// Decision is the outcome of evaluating a command: either events to append
// or rejections, never both.
type Decision struct {
	Events     []event.Event
	Rejections []Rejection
}

// Accepted reports whether the decision produced events.
func (d Decision) Accepted() bool {
	return len(d.Rejections) == 0
}

// Accept builds a decision carrying the given events.
func Accept(events ...event.Event) Decision {
	return Decision{Events: events}
}

// Reject builds a decision carrying a single rejection.
func Reject(code, message string) Decision {
	return Decision{Rejections: []Rejection{{Code: code, Message: message}}}
}
