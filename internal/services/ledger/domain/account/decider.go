package account

import (
	"encoding/json"
	"time"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
	"github.com/finvault/ledger/internal/services/ledger/domain/command"
	"github.com/finvault/ledger/internal/services/ledger/domain/event"
	"github.com/finvault/ledger/internal/services/ledger/domain/money"
)

// Decide evaluates a command against current state and returns the events to
// append or the rejections explaining why none were produced. It never
// mutates state and performs no IO.
func Decide(state State, cmd command.Command, now time.Time) command.Decision {
	when := cmd.Timestamp
	if when.IsZero() {
		when = now
	}

	switch cmd.Type {
	case command.TypeOpen:
		return decideOpen(state, cmd, when)
	case command.TypeDeposit:
		return decideDeposit(state, cmd, when)
	case command.TypeWithdraw:
		return decideWithdraw(state, cmd, when)
	case command.TypeTransferOut:
		return decideTransferOut(state, cmd, when)
	case command.TypeReceiveTransfer:
		return decideReceiveTransfer(state, cmd, when)
	case command.TypeFreeze:
		return decideStatusChange(state, cmd, when, StatusFrozen, event.TypeAccountFrozen)
	case command.TypeClose:
		return decideStatusChange(state, cmd, when, StatusClosed, event.TypeAccountClosed)
	case command.TypeMarkDormant:
		return decideStatusChange(state, cmd, when, StatusDormant, event.TypeAccountMarkedDormant)
	case command.TypeReactivate:
		return decideStatusChange(state, cmd, when, StatusActive, event.TypeAccountReactivated)
	default:
		return command.Reject(string(apperrors.CodeUnknown), "command type is not supported")
	}
}

func decideOpen(state State, cmd command.Command, when time.Time) command.Decision {
	if state.Opened {
		return command.Reject(string(apperrors.CodeAccountAlreadyOpened), "account is already opened")
	}

	var payload command.OpenPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return command.Reject(string(apperrors.CodeEventPayloadInvalid), "open payload does not decode")
	}

	holder, err := NewHolder(payload.HolderName)
	if err != nil {
		return rejectFromError(err, string(apperrors.CodeAccountHolderNameInvalid))
	}
	if _, ok := money.CurrencyDigits(payload.Currency); !ok {
		return command.Reject(string(apperrors.CodeMoneyCurrencyUnknown), "currency is not supported")
	}
	limitValue := payload.OverdraftLimit
	if limitValue == "" {
		limitValue = "0"
	}
	limit, err := money.Parse(limitValue, payload.Currency)
	if err != nil {
		return rejectFromError(err, string(apperrors.CodeMoneyAmountInvalid))
	}
	if limit.IsNegative() {
		return command.Reject(string(apperrors.CodeMoneyAmountInvalid), "overdraft limit cannot be negative")
	}

	opened := event.AccountOpenedPayload{
		AccountNumber:  NumberFromSeed(payload.NumberSeed).String(),
		HolderName:     holder.String(),
		Currency:       limit.Currency(),
		OverdraftLimit: limit.StringFixed(),
	}
	return acceptEvent(cmd, event.TypeAccountOpened, when, opened)
}

func decideDeposit(state State, cmd command.Command, when time.Time) command.Decision {
	var payload command.AmountPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return command.Reject(string(apperrors.CodeEventPayloadInvalid), "deposit payload does not decode")
	}
	amount, rejection := transactionAmount(state, payload.Amount, payload.Currency)
	if rejection != nil {
		return *rejection
	}
	return acceptEvent(cmd, event.TypeMoneyDeposited, when, event.MoneyDepositedPayload{
		Amount:   amount.StringFixed(),
		Currency: amount.Currency(),
	})
}

func decideWithdraw(state State, cmd command.Command, when time.Time) command.Decision {
	var payload command.AmountPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return command.Reject(string(apperrors.CodeEventPayloadInvalid), "withdraw payload does not decode")
	}
	amount, rejection := transactionAmount(state, payload.Amount, payload.Currency)
	if rejection != nil {
		return *rejection
	}
	if rejection := checkOverdraft(state, amount); rejection != nil {
		return *rejection
	}
	return acceptEvent(cmd, event.TypeMoneyWithdrawn, when, event.MoneyWithdrawnPayload{
		Amount:   amount.StringFixed(),
		Currency: amount.Currency(),
	})
}

func decideTransferOut(state State, cmd command.Command, when time.Time) command.Decision {
	var payload command.TransferOutPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return command.Reject(string(apperrors.CodeEventPayloadInvalid), "transfer payload does not decode")
	}
	if payload.ToAccountID == "" {
		return command.Reject(string(apperrors.CodeAccountIDRequired), "destination account id is required")
	}
	if payload.ToAccountID == state.AccountID {
		return command.Reject(string(apperrors.CodeAccountTransferToSelf), "cannot transfer to the same account")
	}
	amount, rejection := transactionAmount(state, payload.Amount, payload.Currency)
	if rejection != nil {
		return *rejection
	}
	if rejection := checkOverdraft(state, amount); rejection != nil {
		return *rejection
	}
	return acceptEvent(cmd, event.TypeMoneyTransferredOut, when, event.MoneyTransferredOutPayload{
		ToAccountID: payload.ToAccountID,
		Amount:      amount.StringFixed(),
		Currency:    amount.Currency(),
		Description: payload.Description,
	})
}

func decideReceiveTransfer(state State, cmd command.Command, when time.Time) command.Decision {
	var payload command.ReceiveTransferPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return command.Reject(string(apperrors.CodeEventPayloadInvalid), "transfer payload does not decode")
	}
	if payload.FromAccountID == "" {
		return command.Reject(string(apperrors.CodeAccountIDRequired), "source account id is required")
	}
	amount, rejection := transactionAmount(state, payload.Amount, payload.Currency)
	if rejection != nil {
		return *rejection
	}
	return acceptEvent(cmd, event.TypeMoneyReceived, when, event.MoneyReceivedPayload{
		FromAccountID: payload.FromAccountID,
		Amount:        amount.StringFixed(),
		Currency:      amount.Currency(),
		Description:   payload.Description,
	})
}

func decideStatusChange(state State, cmd command.Command, when time.Time, target Status, eventType event.Type) command.Decision {
	if !state.Opened {
		return command.Reject(string(apperrors.CodeAccountNotOpened), "account is not opened")
	}
	if !CanTransition(state.Status, target) {
		return command.Reject(string(apperrors.CodeAccountStatusTransition),
			"status "+string(state.Status)+" does not allow transition to "+string(target))
	}

	var payload command.ReasonPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return command.Reject(string(apperrors.CodeEventPayloadInvalid), "status payload does not decode")
	}

	switch eventType {
	case event.TypeAccountFrozen:
		return acceptEvent(cmd, eventType, when, event.AccountFrozenPayload{Reason: payload.Reason})
	case event.TypeAccountClosed:
		return acceptEvent(cmd, eventType, when, event.AccountClosedPayload{Reason: payload.Reason})
	case event.TypeAccountMarkedDormant:
		return acceptEvent(cmd, eventType, when, event.AccountMarkedDormantPayload{})
	default:
		return acceptEvent(cmd, eventType, when, event.AccountReactivatedPayload{})
	}
}

// transactionAmount validates a balance-changing amount against state:
// the account must be opened and active, the amount strictly positive at a
// legal scale, and the currency must match the account.
func transactionAmount(state State, amount, currency string) (money.Money, *command.Decision) {
	if !state.Opened {
		return money.Money{}, rejectPtr(string(apperrors.CodeAccountNotOpened), "account is not opened")
	}
	if !state.Status.AllowsTransactions() {
		return money.Money{}, rejectPtr(string(apperrors.CodeAccountStatusDisallowsOp),
			"status "+string(state.Status)+" does not allow transactions")
	}
	m, err := money.Parse(amount, currency)
	if err != nil {
		d := rejectFromError(err, string(apperrors.CodeMoneyAmountInvalid))
		return money.Money{}, &d
	}
	if !m.IsPositive() {
		return money.Money{}, rejectPtr(string(apperrors.CodeMoneyAmountInvalid), "amount must be strictly positive")
	}
	if m.Currency() != state.Currency {
		return money.Money{}, rejectPtr(string(apperrors.CodeMoneyCurrencyMismatch),
			"amount currency does not match the account currency")
	}
	return m, nil
}

// checkOverdraft rejects debits that would push the balance below the
// overdraft floor. Landing exactly on the floor is allowed.
func checkOverdraft(state State, amount money.Money) *command.Decision {
	if state.Balance.Sub(amount.Amount()).Cmp(state.floor()) < 0 {
		return rejectPtr(string(apperrors.CodeAccountOverdraftExceeded),
			"debit would exceed the overdraft limit")
	}
	return nil
}

func acceptEvent(cmd command.Command, eventType event.Type, when time.Time, payload any) command.Decision {
	data, err := event.MarshalPayload(payload)
	if err != nil {
		return command.Reject(string(apperrors.CodeEventPayloadInvalid), "event payload does not encode")
	}
	evt := event.Event{
		AccountID:   cmd.AccountID,
		Timestamp:   when.UTC(),
		Type:        eventType,
		PayloadJSON: data,
	}.WithMetadata(cmd.Metadata)
	return command.Accept(evt)
}

func rejectPtr(code, message string) *command.Decision {
	d := command.Reject(code, message)
	return &d
}

// rejectFromError carries a domain error's code into a rejection, falling
// back to the given code for untyped errors.
func rejectFromError(err error, fallback string) command.Decision {
	if code := apperrors.CodeOf(err); code != apperrors.CodeUnknown {
		return command.Reject(string(code), err.Error())
	}
	return command.Reject(fallback, err.Error())
}
