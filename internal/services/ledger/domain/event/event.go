// Package event defines the account journal's event model.
//
// Events are immutable facts. Versions are assigned by storage on append,
// starting at 1 and gap-free per account stream.
package event

import "time"

// Type identifies an event kind on the wire and in storage.
type Type string

const (
	TypeAccountOpened        Type = "account.opened"
	TypeMoneyDeposited       Type = "account.money_deposited"
	TypeMoneyWithdrawn       Type = "account.money_withdrawn"
	TypeMoneyTransferredOut  Type = "account.money_transferred_out"
	TypeMoneyReceived        Type = "account.money_received"
	TypeAccountFrozen        Type = "account.frozen"
	TypeAccountClosed        Type = "account.closed"
	TypeAccountMarkedDormant Type = "account.marked_dormant"
	TypeAccountReactivated   Type = "account.reactivated"
)

// Types lists every event kind the journal accepts.
func Types() []Type {
	return []Type{
		TypeAccountOpened,
		TypeMoneyDeposited,
		TypeMoneyWithdrawn,
		TypeMoneyTransferredOut,
		TypeMoneyReceived,
		TypeAccountFrozen,
		TypeAccountClosed,
		TypeAccountMarkedDormant,
		TypeAccountReactivated,
	}
}

// Metadata carries request provenance recorded alongside each event.
type Metadata struct {
	CorrelationID string
	CausationID   string
	Actor         string
	Properties    map[string]string
}

// Event is one immutable journal entry for an account stream.
type Event struct {
	AccountID string
	// Version is assigned by storage on append; zero before persistence.
	Version       uint64
	Timestamp     time.Time
	Type          Type
	CorrelationID string
	CausationID   string
	Actor         string
	Properties    map[string]string
	PayloadJSON   []byte
}

// WithMetadata returns a copy of the event carrying the given provenance.
func (e Event) WithMetadata(meta Metadata) Event {
	e.CorrelationID = meta.CorrelationID
	e.CausationID = meta.CausationID
	e.Actor = meta.Actor
	if len(meta.Properties) > 0 {
		props := make(map[string]string, len(meta.Properties))
		for k, v := range meta.Properties {
			props[k] = v
		}
		e.Properties = props
	}
	return e
}
