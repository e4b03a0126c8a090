package account

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/finvault/ledger/internal/services/ledger/domain/event"
)

// Fold applies one journal event to the state and returns the next state.
// Events are trusted facts: a payload that does not decode leaves the
// balance untouched but still advances the version so replay keeps its
// position. The switch is exhaustive over registered event types; unknown
// types are rejected before append, never here.
func Fold(state State, evt event.Event) State {
	switch evt.Type {
	case event.TypeAccountOpened:
		var payload event.AccountOpenedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err == nil {
			state.Opened = true
			state.AccountID = evt.AccountID
			state.Number = Number(payload.AccountNumber)
			state.Holder = Holder(payload.HolderName)
			state.Currency = payload.Currency
			state.Balance = decimal.Zero
			state.OverdraftLimit = parseDecimal(payload.OverdraftLimit)
			state.Status = StatusActive
		}

	case event.TypeMoneyDeposited:
		var payload event.MoneyDepositedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err == nil {
			state.Balance = state.Balance.Add(parseDecimal(payload.Amount))
			state.TransactionCount++
		}

	case event.TypeMoneyWithdrawn:
		var payload event.MoneyWithdrawnPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err == nil {
			state.Balance = state.Balance.Sub(parseDecimal(payload.Amount))
			state.TransactionCount++
		}

	case event.TypeMoneyTransferredOut:
		var payload event.MoneyTransferredOutPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err == nil {
			state.Balance = state.Balance.Sub(parseDecimal(payload.Amount))
			state.TransactionCount++
		}

	case event.TypeMoneyReceived:
		var payload event.MoneyReceivedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err == nil {
			state.Balance = state.Balance.Add(parseDecimal(payload.Amount))
			state.TransactionCount++
		}

	case event.TypeAccountFrozen:
		state.Status = StatusFrozen

	case event.TypeAccountClosed:
		state.Status = StatusClosed

	case event.TypeAccountMarkedDormant:
		state.Status = StatusDormant

	case event.TypeAccountReactivated:
		state.Status = StatusActive
	}

	if evt.Version != 0 {
		state.Version = evt.Version
	}
	return state
}

func parseDecimal(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}
