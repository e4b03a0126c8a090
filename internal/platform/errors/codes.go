// Package errors provides structured error handling for the ledger core.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Money errors
	CodeMoneyAmountInvalid    Code = "MONEY_AMOUNT_INVALID"
	CodeMoneyCurrencyUnknown  Code = "MONEY_CURRENCY_UNKNOWN"
	CodeMoneyCurrencyMismatch Code = "MONEY_CURRENCY_MISMATCH"

	// Account errors
	CodeAccountIDRequired        Code = "ACCOUNT_ID_REQUIRED"
	CodeAccountHolderNameInvalid Code = "ACCOUNT_HOLDER_NAME_INVALID"
	CodeAccountNumberInvalid     Code = "ACCOUNT_NUMBER_INVALID"
	CodeAccountAlreadyOpened     Code = "ACCOUNT_ALREADY_OPENED"
	CodeAccountNotOpened         Code = "ACCOUNT_NOT_OPENED"
	CodeAccountOverdraftExceeded Code = "ACCOUNT_OVERDRAFT_EXCEEDED"
	CodeAccountStatusTransition  Code = "ACCOUNT_INVALID_STATUS_TRANSITION"
	CodeAccountStatusDisallowsOp Code = "ACCOUNT_STATUS_DISALLOWS_OPERATION"
	CodeAccountTransferToSelf    Code = "ACCOUNT_TRANSFER_TO_SELF"

	// Event journal errors
	CodeEventVersionConflict Code = "EVENT_VERSION_CONFLICT"
	CodeEventTypeUnknown     Code = "EVENT_TYPE_UNKNOWN"
	CodeEventPayloadInvalid  Code = "EVENT_PAYLOAD_INVALID"
	CodeEventStreamCorrupt   Code = "EVENT_STREAM_CORRUPT"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Processing errors
	CodeProcessorClosed Code = "PROCESSOR_CLOSED"
	CodeWaitTimeout     Code = "WAIT_TIMEOUT"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeMoneyAmountInvalid,
		CodeMoneyCurrencyUnknown,
		CodeMoneyCurrencyMismatch,
		CodeAccountIDRequired,
		CodeAccountHolderNameInvalid,
		CodeAccountNumberInvalid,
		CodeAccountTransferToSelf:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeAccountAlreadyOpened,
		CodeAccountNotOpened,
		CodeAccountOverdraftExceeded,
		CodeAccountStatusTransition,
		CodeAccountStatusDisallowsOp,
		CodeProcessorClosed:
		return codes.FailedPrecondition

	// Aborted - optimistic concurrency conflicts; callers reload and retry
	case CodeEventVersionConflict:
		return codes.Aborted

	// DataLoss - corrupted or unversioned journal data
	case CodeEventTypeUnknown,
		CodeEventPayloadInvalid,
		CodeEventStreamCorrupt:
		return codes.DataLoss

	case CodeNotFound:
		return codes.NotFound

	case CodeWaitTimeout:
		return codes.DeadlineExceeded

	default:
		return codes.Internal
	}
}
