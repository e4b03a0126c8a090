// Package command defines account commands and the decision produced when a
// command is evaluated against current state.
package command

import (
	"time"

	"github.com/finvault/ledger/internal/services/ledger/domain/event"
)

// Type identifies a command kind.
type Type string

const (
	TypeOpen            Type = "account.open"
	TypeDeposit         Type = "account.deposit"
	TypeWithdraw        Type = "account.withdraw"
	TypeTransferOut     Type = "account.transfer_out"
	TypeReceiveTransfer Type = "account.receive_transfer"
	TypeFreeze          Type = "account.freeze"
	TypeClose           Type = "account.close"
	TypeMarkDormant     Type = "account.mark_dormant"
	TypeReactivate      Type = "account.reactivate"
)

// Types lists every command kind the decider accepts.
func Types() []Type {
	return []Type{
		TypeOpen,
		TypeDeposit,
		TypeWithdraw,
		TypeTransferOut,
		TypeReceiveTransfer,
		TypeFreeze,
		TypeClose,
		TypeMarkDormant,
		TypeReactivate,
	}
}

// Command is an intent against one account stream.
type Command struct {
	AccountID   string
	Type        Type
	Timestamp   time.Time
	Metadata    event.Metadata
	PayloadJSON []byte
}

// OpenPayload requests a new account. The number seed makes account number
// generation reproducible for a given open request.
type OpenPayload struct {
	HolderName     string `json:"holder_name"`
	Currency       string `json:"currency"`
	OverdraftLimit string `json:"overdraft_limit"`
	NumberSeed     int64  `json:"number_seed"`
}

// AmountPayload requests a deposit or withdrawal.
type AmountPayload struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// TransferOutPayload requests the debit leg of a transfer.
type TransferOutPayload struct {
	ToAccountID string `json:"to_account_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
}

// ReceiveTransferPayload requests the credit leg of a transfer.
type ReceiveTransferPayload struct {
	FromAccountID string `json:"from_account_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Description   string `json:"description,omitempty"`
}

// ReasonPayload carries an optional operator note for status changes.
type ReasonPayload struct {
	Reason string `json:"reason,omitempty"`
}
