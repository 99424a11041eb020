package payment

import (
	"testing"

	"ferreteria/pos/internal/domain"
)

func TestValidateSplitCashOverpaymentBecomesChange(t *testing.T) {
	legs := []domain.PaymentLeg{{Method: domain.MethodCash, AmountCents: 60000}}
	res, err := ValidateSplit(50000, legs, nil, Policy{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.OK {
		t.Fatalf("rejected: %s", res.Reason)
	}
	if res.ChangeDueCents != 10000 {
		t.Fatalf("change = %d, want 10000", res.ChangeDueCents)
	}
}

func TestValidateSplitExactMultiLeg(t *testing.T) {
	legs := []domain.PaymentLeg{
		{Method: domain.MethodCash, AmountCents: 20000},
		{Method: domain.MethodGCash, AmountCents: 30000, Reference: "GC-22871"},
	}
	res, err := ValidateSplit(50000, legs, nil, Policy{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.OK || res.ChangeDueCents != 0 {
		t.Fatalf("ok=%v change=%d, want ok with zero change", res.OK, res.ChangeDueCents)
	}
}

func TestValidateSplitMissingReference(t *testing.T) {
	legs := []domain.PaymentLeg{{Method: domain.MethodCreditCard, AmountCents: 50000}}
	res, err := ValidateSplit(50000, legs, nil, Policy{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.OK {
		t.Fatal("expected rejection")
	}
	if res.Reason != "missing reference: CREDIT_CARD" {
		t.Fatalf("reason = %q", res.Reason)
	}
	if res.OffendingLeg != domain.MethodCreditCard {
		t.Fatalf("offending leg = %q", res.OffendingLeg)
	}
}

func TestValidateSplitCreditLimit(t *testing.T) {
	customer := &domain.CustomerAccount{ID: "c1", CreditLimitCents: 100000, CurrentBalanceCents: 90000}
	legs := []domain.PaymentLeg{{Method: domain.MethodAR, AmountCents: 20000}}

	res, err := ValidateSplit(20000, legs, customer, Policy{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.OK || res.Reason != "credit limit exceeded" {
		t.Fatalf("ok=%v reason=%q, want credit limit rejection", res.OK, res.Reason)
	}

	// Over-limit authorization flips the outcome.
	res, err = ValidateSplit(20000, legs, customer, Policy{AllowOverLimit: true})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.OK {
		t.Fatalf("rejected with override: %s", res.Reason)
	}

	// Exactly at the limit is fine.
	legs[0].AmountCents = 10000
	res, err = ValidateSplit(10000, legs, customer, Policy{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.OK {
		t.Fatalf("rejected at limit: %s", res.Reason)
	}
}

func TestValidateSplitARNeedsCustomer(t *testing.T) {
	legs := []domain.PaymentLeg{{Method: domain.MethodAR, AmountCents: 5000}}
	res, err := ValidateSplit(5000, legs, nil, Policy{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.OK || res.Reason != "customer required for AR" {
		t.Fatalf("ok=%v reason=%q", res.OK, res.Reason)
	}
}

func TestValidateSplitInsufficient(t *testing.T) {
	legs := []domain.PaymentLeg{{Method: domain.MethodCash, AmountCents: 40000}}
	res, err := ValidateSplit(50000, legs, nil, Policy{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.OK || res.Reason != "insufficient payment" {
		t.Fatalf("ok=%v reason=%q", res.OK, res.Reason)
	}
}

func TestValidateSplitNonTenderOverpayment(t *testing.T) {
	legs := []domain.PaymentLeg{{Method: domain.MethodCreditCard, AmountCents: 60000, Reference: "CC-1"}}
	res, err := ValidateSplit(50000, legs, nil, Policy{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.OK {
		t.Fatal("expected rejection")
	}
	if res.Reason != "overpayment on non-tender leg: CREDIT_CARD" {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestValidateSplitUnknownMethodAndBadAmount(t *testing.T) {
	res, err := ValidateSplit(1000, []domain.PaymentLeg{{Method: "BARTER", AmountCents: 1000}}, nil, Policy{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.OK || res.Reason != "unknown payment method: BARTER" {
		t.Fatalf("ok=%v reason=%q", res.OK, res.Reason)
	}

	res, err = ValidateSplit(1000, []domain.PaymentLeg{{Method: domain.MethodCash, AmountCents: 0}}, nil, Policy{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.OK || res.Reason != "non-positive amount: CASH" {
		t.Fatalf("ok=%v reason=%q", res.OK, res.Reason)
	}
}

func TestValidateSplitProgrammerErrors(t *testing.T) {
	if _, err := ValidateSplit(1000, nil, nil, Policy{}); err == nil {
		t.Fatal("expected error for empty legs")
	}
	if _, err := ValidateSplit(0, []domain.PaymentLeg{{Method: domain.MethodCash, AmountCents: 100}}, nil, Policy{}); err == nil {
		t.Fatal("expected error for non-positive total")
	}
}
