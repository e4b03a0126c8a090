package command

import (
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
)

// Definition binds a command type to its payload shape.
type Definition struct {
	Type       Type
	NewPayload func() any
}

// Registry validates commands before they reach the decider.
type Registry struct {
	definitions map[Type]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[Type]Definition)}
}

// DefaultRegistry returns a registry with every account command registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	defs := []Definition{
		{Type: TypeOpen, NewPayload: func() any { return &OpenPayload{} }},
		{Type: TypeDeposit, NewPayload: func() any { return &AmountPayload{} }},
		{Type: TypeWithdraw, NewPayload: func() any { return &AmountPayload{} }},
		{Type: TypeTransferOut, NewPayload: func() any { return &TransferOutPayload{} }},
		{Type: TypeReceiveTransfer, NewPayload: func() any { return &ReceiveTransferPayload{} }},
		{Type: TypeFreeze, NewPayload: func() any { return &ReasonPayload{} }},
		{Type: TypeClose, NewPayload: func() any { return &ReasonPayload{} }},
		{Type: TypeMarkDormant, NewPayload: func() any { return &ReasonPayload{} }},
		{Type: TypeReactivate, NewPayload: func() any { return &ReasonPayload{} }},
	}
	for _, def := range defs {
		_ = r.Register(def)
	}
	return r
}

// Register adds a definition, rejecting duplicates and empty types.
func (r *Registry) Register(def Definition) error {
	name := Type(strings.TrimSpace(string(def.Type)))
	if name == "" {
		return apperrors.New(apperrors.CodeUnknown, "command type is required")
	}
	if def.NewPayload == nil {
		return apperrors.New(apperrors.CodeUnknown, "payload constructor is required")
	}
	if _, exists := r.definitions[name]; exists {
		return apperrors.WithMetadata(apperrors.CodeUnknown,
			"command type already registered", map[string]string{"type": string(name)})
	}
	r.definitions[name] = def
	return nil
}

// ValidateForDecision normalizes and validates a command before dispatch.
func (r *Registry) ValidateForDecision(cmd Command) (Command, error) {
	def, ok := r.definitions[cmd.Type]
	if !ok {
		return Command{}, apperrors.WithMetadata(apperrors.CodeUnknown,
			"command type is not registered", map[string]string{"type": string(cmd.Type)})
	}
	cmd.AccountID = strings.TrimSpace(cmd.AccountID)
	if cmd.AccountID == "" {
		return Command{}, apperrors.New(apperrors.CodeAccountIDRequired, "account id is required")
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now().UTC()
	}
	if len(cmd.PayloadJSON) == 0 {
		cmd.PayloadJSON = []byte("{}")
	}
	if err := json.Unmarshal(cmd.PayloadJSON, def.NewPayload()); err != nil {
		return Command{}, apperrors.Wrap(apperrors.CodeEventPayloadInvalid, "command payload does not decode", err)
	}
	return cmd, nil
}

// MarshalPayload encodes a typed command payload.
func MarshalPayload(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeEventPayloadInvalid, "command payload does not encode", err)
	}
	return data, nil
}
