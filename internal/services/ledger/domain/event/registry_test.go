package event

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
)

func TestDefaultRegistryKnowsAllTypes(t *testing.T) {
	r := DefaultRegistry()
	for _, typ := range Types() {
		if !r.Known(typ) {
			t.Fatalf("type %s not registered", typ)
		}
	}
}

func TestValidateForAppendRequiresAccountID(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.ValidateForAppend(Event{Type: TypeMoneyDeposited, PayloadJSON: []byte(`{"amount":"1.00","currency":"USD"}`)})
	if !errors.Is(err, apperrors.New(apperrors.CodeAccountIDRequired, "")) {
		t.Fatalf("expected account id required, got %v", err)
	}
}

func TestValidateForAppendRejectsUnknownType(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.ValidateForAppend(Event{AccountID: "acc-1", Type: Type("account.mystery")})
	if !errors.Is(err, apperrors.New(apperrors.CodeEventTypeUnknown, "")) {
		t.Fatalf("expected unknown type, got %v", err)
	}
}

func TestValidateForAppendRejectsPresetVersion(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.ValidateForAppend(Event{AccountID: "acc-1", Type: TypeAccountFrozen, Version: 3})
	if !errors.Is(err, apperrors.New(apperrors.CodeEventPayloadInvalid, "")) {
		t.Fatalf("expected payload invalid, got %v", err)
	}
}

func TestValidateForAppendDefaultsTimestampAndPayload(t *testing.T) {
	r := DefaultRegistry()
	evt, err := r.ValidateForAppend(Event{AccountID: " acc-1 ", Type: TypeAccountMarkedDormant})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if evt.AccountID != "acc-1" {
		t.Fatalf("account id = %q", evt.AccountID)
	}
	if evt.Timestamp.IsZero() {
		t.Fatal("expected timestamp default")
	}
	if string(evt.PayloadJSON) != "{}" {
		t.Fatalf("payload = %s", evt.PayloadJSON)
	}
}

func TestValidateForAppendRejectsMalformedPayload(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.ValidateForAppend(Event{
		AccountID:   "acc-1",
		Type:        TypeMoneyDeposited,
		Timestamp:   time.Now().UTC(),
		PayloadJSON: []byte(`{"amount":`),
	})
	if !errors.Is(err, apperrors.New(apperrors.CodeEventPayloadInvalid, "")) {
		t.Fatalf("expected payload invalid, got %v", err)
	}
}

func TestDecodePayloadReturnsTypedStruct(t *testing.T) {
	r := DefaultRegistry()
	evt := Event{
		AccountID:   "acc-1",
		Type:        TypeMoneyTransferredOut,
		PayloadJSON: []byte(`{"to_account_id":"acc-2","amount":"25.00","currency":"USD"}`),
	}
	payload, err := r.DecodePayload(evt)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, ok := payload.(*MoneyTransferredOutPayload)
	if !ok {
		t.Fatalf("payload type = %T", payload)
	}
	if out.ToAccountID != "acc-2" || out.Amount != "25.00" {
		t.Fatalf("unexpected payload %+v", out)
	}
}

func TestDecodePayloadRejectsUnknownType(t *testing.T) {
	r := NewRegistry()
	_, err := r.DecodePayload(Event{Type: TypeMoneyDeposited})
	if !errors.Is(err, apperrors.New(apperrors.CodeEventTypeUnknown, "")) {
		t.Fatalf("expected unknown type, got %v", err)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	def := Definition{Type: TypeAccountOpened, NewPayload: func() any { return &AccountOpenedPayload{} }}
	if err := r.Register(def); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(def); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestWithMetadataCopiesProperties(t *testing.T) {
	props := map[string]string{"channel": "branch"}
	evt := Event{Type: TypeAccountOpened}.WithMetadata(Metadata{
		CorrelationID: "corr-1",
		CausationID:   "cause-1",
		Actor:         "teller-9",
		Properties:    props,
	})
	props["channel"] = "mutated"
	if evt.Properties["channel"] != "branch" {
		t.Fatal("expected properties copy to be isolated")
	}
	if evt.CorrelationID != "corr-1" || evt.Actor != "teller-9" {
		t.Fatalf("unexpected metadata %+v", evt)
	}
}
