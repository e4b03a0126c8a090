package account

import (
	"github.com/shopspring/decimal"

	"github.com/finvault/ledger/internal/services/ledger/domain/money"
)

// State is the account aggregate rebuilt by folding journal events.
// The zero value represents a stream that has no opened event yet.
type State struct {
	Opened    bool
	AccountID string
	Number    Number
	Holder    Holder
	Currency  string
	// Balance and OverdraftLimit share the account currency. The balance
	// floor is -OverdraftLimit, inclusive.
	Balance        decimal.Decimal
	OverdraftLimit decimal.Decimal
	Status         Status
	// Version is the version of the last folded event; it doubles as the
	// expected version for the next append.
	Version uint64
	// TransactionCount counts balance-changing events.
	TransactionCount int64
}

// BalanceMoney returns the balance as a Money value.
func (s State) BalanceMoney() money.Money {
	m, err := money.New(s.Balance, s.Currency)
	if err != nil {
		return money.Zero(s.Currency)
	}
	return m
}

// floor returns the lowest balance the overdraft limit allows.
func (s State) floor() decimal.Decimal {
	return s.OverdraftLimit.Neg()
}
