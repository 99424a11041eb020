package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"ferreteria/pos/internal/domain"
)

func TestCreateSalePostsChargeAndBumpsShift(t *testing.T) {
	databaseURL := os.Getenv("FERRETERIA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set FERRETERIA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	customerID := fmt.Sprintf("cust-it-%d", stamp)
	cashierID := fmt.Sprintf("cashier-it-%d", stamp)
	saleNumber := fmt.Sprintf("S-IT-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM ar_transactions WHERE customer_id = $1`, customerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_legs WHERE sale_id IN (SELECT id FROM sales WHERE sale_number = $1)`, saleNumber)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_lines WHERE sale_id IN (SELECT id FROM sales WHERE sale_number = $1)`, saleNumber)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE sale_number = $1`, saleNumber)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shifts WHERE cashier_id = $1`, cashierID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, customerID)
	})

	customer, err := s.CreateCustomer(ctx, domain.CustomerAccount{
		ID:               customerID,
		Name:             "Integration Hardware Supply",
		CreditLimitCents: 500000,
	})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}

	shift, err := s.CreateShift(ctx, domain.Shift{
		CashierID:         cashierID,
		StartingCashCents: 10000,
	})
	if err != nil {
		t.Fatalf("create shift: %v", err)
	}

	created, err := s.CreateSale(ctx, domain.Sale{
		SaleNumber: saleNumber,
		CustomerID: customer.ID,
		CashierID:  cashierID,
		ShiftID:    shift.ID,
		TaxMode:    domain.TaxModeVAT,
		Lines: []domain.CartLine{
			{ProductID: "prod-it-1", UnitPriceCents: 112000, Qty: 1},
		},
		Legs: []domain.PaymentLeg{
			{Method: domain.MethodCash, AmountCents: 20000},
			{Method: domain.MethodAR, AmountCents: 92000},
		},
		SubtotalCents: 100000,
		TaxCents:      12000,
		TotalCents:    112000,
		NetDueCents:   112000,
		ChangeCents:   0,
	}, false)
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if _, err := s.CreateSale(ctx, domain.Sale{
		SaleNumber: saleNumber,
		CashierID:  cashierID,
		ShiftID:    shift.ID,
		TaxMode:    domain.TaxModeVAT,
		Lines:      []domain.CartLine{{ProductID: "prod-it-1", UnitPriceCents: 1000, Qty: 1}},
		Legs:       []domain.PaymentLeg{{Method: domain.MethodCash, AmountCents: 1000}},
		TotalCents: 1000, NetDueCents: 1000,
	}, false); err == nil {
		t.Fatal("expected duplicate sale number to be rejected")
	}

	refreshed, err := s.GetCustomerByID(ctx, customer.ID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if refreshed.CurrentBalanceCents != 92000 {
		t.Fatalf("expected balance 92000 after AR charge, got %d", refreshed.CurrentBalanceCents)
	}

	entries, err := s.ListARTransactions(ctx, customer.ID)
	if err != nil {
		t.Fatalf("list ar transactions: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
	if entries[0].Type != domain.ARTypeCharge || entries[0].SaleID != created.ID || entries[0].BalanceAfterCents != 92000 {
		t.Fatalf("unexpected charge entry: %+v", entries[0])
	}

	bumped, err := s.GetShiftByID(ctx, shift.ID)
	if err != nil {
		t.Fatalf("get shift: %v", err)
	}
	if bumped.Totals.CashCents != 20000 || bumped.Totals.ARCents != 92000 || bumped.TransactionCount != 1 {
		t.Fatalf("unexpected shift totals: %+v count %d", bumped.Totals, bumped.TransactionCount)
	}

	reversal, err := s.AppendARTransaction(ctx, domain.ARTransaction{
		CustomerID:  customer.ID,
		Type:        domain.ARTypePayment,
		AmountCents: 92000,
		Notes:       "integration test payment",
	}, true)
	if err != nil {
		t.Fatalf("append payment: %v", err)
	}
	if reversal.BalanceAfterCents != 0 {
		t.Fatalf("expected balance 0 after payment, got %d", reversal.BalanceAfterCents)
	}

	closed, err := s.CloseShift(ctx, shift.ID, 30000, time.Now().UTC())
	if err != nil {
		t.Fatalf("close shift: %v", err)
	}
	if closed.CashDifferenceCents != 0 {
		t.Fatalf("expected cash difference 0, got %d", closed.CashDifferenceCents)
	}
}
