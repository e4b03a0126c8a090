package command

import (
	"errors"
	"testing"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
)

func TestDefaultRegistryKnowsAllTypes(t *testing.T) {
	r := DefaultRegistry()
	for _, typ := range Types() {
		cmd := Command{AccountID: "acc-1", Type: typ}
		if _, err := r.ValidateForDecision(cmd); err != nil {
			t.Fatalf("type %s: %v", typ, err)
		}
	}
}

func TestValidateForDecisionRejectsUnknownType(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.ValidateForDecision(Command{AccountID: "acc-1", Type: Type("account.mystery")})
	if err == nil {
		t.Fatal("expected unknown command type error")
	}
}

func TestValidateForDecisionRequiresAccountID(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.ValidateForDecision(Command{Type: TypeDeposit})
	if !errors.Is(err, apperrors.New(apperrors.CodeAccountIDRequired, "")) {
		t.Fatalf("expected account id required, got %v", err)
	}
}

func TestValidateForDecisionDefaultsTimestampAndPayload(t *testing.T) {
	r := DefaultRegistry()
	cmd, err := r.ValidateForDecision(Command{AccountID: " acc-1 ", Type: TypeFreeze})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cmd.AccountID != "acc-1" {
		t.Fatalf("account id = %q", cmd.AccountID)
	}
	if cmd.Timestamp.IsZero() {
		t.Fatal("expected timestamp default")
	}
	if string(cmd.PayloadJSON) != "{}" {
		t.Fatalf("payload = %s", cmd.PayloadJSON)
	}
}

func TestValidateForDecisionRejectsMalformedPayload(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.ValidateForDecision(Command{
		AccountID:   "acc-1",
		Type:        TypeDeposit,
		PayloadJSON: []byte(`{"amount":`),
	})
	if !errors.Is(err, apperrors.New(apperrors.CodeEventPayloadInvalid, "")) {
		t.Fatalf("expected payload invalid, got %v", err)
	}
}

func TestDecisionAcceptedAndReject(t *testing.T) {
	if !Accept().Accepted() {
		t.Fatal("empty accept should be accepted")
	}
	d := Reject("ACCOUNT_NOT_OPENED", "account does not exist")
	if d.Accepted() {
		t.Fatal("rejection should not be accepted")
	}
	if d.Rejections[0].Code != "ACCOUNT_NOT_OPENED" {
		t.Fatalf("code = %s", d.Rejections[0].Code)
	}
}
