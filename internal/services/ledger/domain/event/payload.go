package event

// Monetary fields are decimal strings at the currency's exact scale so
// payloads round-trip without float drift.

// AccountOpenedPayload records the account's initial identity and limits.
type AccountOpenedPayload struct {
	AccountNumber  string `json:"account_number"`
	HolderName     string `json:"holder_name"`
	Currency       string `json:"currency"`
	OverdraftLimit string `json:"overdraft_limit"`
}

// MoneyDepositedPayload records a credit to the account balance.
type MoneyDepositedPayload struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MoneyWithdrawnPayload records a debit from the account balance.
type MoneyWithdrawnPayload struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MoneyTransferredOutPayload records the debit leg of a transfer.
type MoneyTransferredOutPayload struct {
	ToAccountID string `json:"to_account_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
}

// MoneyReceivedPayload records the credit leg of a transfer.
type MoneyReceivedPayload struct {
	FromAccountID string `json:"from_account_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Description   string `json:"description,omitempty"`
}

// AccountFrozenPayload records an administrative freeze.
type AccountFrozenPayload struct {
	Reason string `json:"reason,omitempty"`
}

// AccountClosedPayload records the terminal close of the account.
type AccountClosedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// AccountMarkedDormantPayload records an inactivity transition.
type AccountMarkedDormantPayload struct{}

// AccountReactivatedPayload records a return to active status.
type AccountReactivatedPayload struct{}
