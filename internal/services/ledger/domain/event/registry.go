package event

import (
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
)

// Definition binds an event type to its payload shape.
type Definition struct {
	Type       Type
	NewPayload func() any
}

// Registry validates events before append and decodes stored payloads.
// An unknown event type is always an error; there is no pass-through.
type Registry struct {
	definitions map[Type]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[Type]Definition)}
}

// DefaultRegistry returns a registry with every account event registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	defs := []Definition{
		{Type: TypeAccountOpened, NewPayload: func() any { return &AccountOpenedPayload{} }},
		{Type: TypeMoneyDeposited, NewPayload: func() any { return &MoneyDepositedPayload{} }},
		{Type: TypeMoneyWithdrawn, NewPayload: func() any { return &MoneyWithdrawnPayload{} }},
		{Type: TypeMoneyTransferredOut, NewPayload: func() any { return &MoneyTransferredOutPayload{} }},
		{Type: TypeMoneyReceived, NewPayload: func() any { return &MoneyReceivedPayload{} }},
		{Type: TypeAccountFrozen, NewPayload: func() any { return &AccountFrozenPayload{} }},
		{Type: TypeAccountClosed, NewPayload: func() any { return &AccountClosedPayload{} }},
		{Type: TypeAccountMarkedDormant, NewPayload: func() any { return &AccountMarkedDormantPayload{} }},
		{Type: TypeAccountReactivated, NewPayload: func() any { return &AccountReactivatedPayload{} }},
	}
	for _, def := range defs {
		// Definitions are static; registration cannot collide here.
		_ = r.Register(def)
	}
	return r
}

// Register adds a definition, rejecting duplicates and empty types.
func (r *Registry) Register(def Definition) error {
	name := Type(strings.TrimSpace(string(def.Type)))
	if name == "" {
		return apperrors.New(apperrors.CodeEventTypeUnknown, "event type is required")
	}
	if def.NewPayload == nil {
		return apperrors.New(apperrors.CodeEventPayloadInvalid, "payload constructor is required")
	}
	if _, exists := r.definitions[name]; exists {
		return apperrors.WithMetadata(apperrors.CodeEventTypeUnknown,
			"event type already registered", map[string]string{"type": string(name)})
	}
	r.definitions[name] = def
	return nil
}

// Known reports whether the type is registered.
func (r *Registry) Known(t Type) bool {
	_, ok := r.definitions[t]
	return ok
}

// ValidateForAppend normalizes and validates an event before it reaches
// storage. Versions must be unset; storage assigns them.
func (r *Registry) ValidateForAppend(evt Event) (Event, error) {
	evt.AccountID = strings.TrimSpace(evt.AccountID)
	if evt.AccountID == "" {
		return Event{}, apperrors.New(apperrors.CodeAccountIDRequired, "account id is required")
	}
	if evt.Version != 0 {
		return Event{}, apperrors.WithMetadata(apperrors.CodeEventPayloadInvalid,
			"event version is assigned by storage", map[string]string{"type": string(evt.Type)})
	}
	def, ok := r.definitions[evt.Type]
	if !ok {
		return Event{}, apperrors.WithMetadata(apperrors.CodeEventTypeUnknown,
			"event type is not registered", map[string]string{"type": string(evt.Type)})
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if len(evt.PayloadJSON) == 0 {
		evt.PayloadJSON = []byte("{}")
	}
	if err := json.Unmarshal(evt.PayloadJSON, def.NewPayload()); err != nil {
		return Event{}, apperrors.Wrap(apperrors.CodeEventPayloadInvalid, "event payload does not decode", err)
	}
	return evt, nil
}

// DecodePayload unmarshals a stored event's payload into its typed struct.
func (r *Registry) DecodePayload(evt Event) (any, error) {
	def, ok := r.definitions[evt.Type]
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeEventTypeUnknown,
			"event type is not registered", map[string]string{"type": string(evt.Type)})
	}
	payload := def.NewPayload()
	data := evt.PayloadJSON
	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeEventPayloadInvalid, "event payload does not decode", err)
	}
	return payload, nil
}

// MarshalPayload encodes a typed payload for storage.
func MarshalPayload(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeEventPayloadInvalid, "event payload does not encode", err)
	}
	return data, nil
}
