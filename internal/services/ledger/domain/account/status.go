package account

// Status is the account lifecycle state.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusFrozen  Status = "FROZEN"
	StatusDormant Status = "DORMANT"
	StatusClosed  Status = "CLOSED"
)

// statusTransitions encodes the lifecycle graph. CLOSED is terminal.
var statusTransitions = map[Status]map[Status]bool{
	StatusActive: {
		StatusFrozen:  true,
		StatusDormant: true,
		StatusClosed:  true,
	},
	StatusFrozen: {
		StatusActive: true,
		StatusClosed: true,
	},
	StatusDormant: {
		StatusActive: true,
		StatusFrozen: true,
		StatusClosed: true,
	},
	StatusClosed: {},
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another.
func CanTransition(from, to Status) bool {
	return statusTransitions[from][to]
}

// AllowsTransactions reports whether balance-changing operations are
// permitted in this status.
func (s Status) AllowsTransactions() bool {
	return s == StatusActive
}
