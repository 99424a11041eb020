package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"ferreteria/pos/internal/cache"
	"ferreteria/pos/internal/domain"
	"ferreteria/pos/internal/inventory"
	"ferreteria/pos/internal/payment"
	"ferreteria/pos/internal/pricing"
	"ferreteria/pos/internal/store"
	"ferreteria/pos/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ValidationError is an expected business outcome, not a system failure. The
// API layer maps it to a 4xx rejection carrying the reason.
type ValidationError struct {
	Reason       string
	OffendingLeg string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// ErrSaleNumberExhausted means every generated sale number collided within the
// retry limit. The condition is transient; callers should retry.
var ErrSaleNumberExhausted = errors.New("sale number generation exhausted")

const (
	customerCacheTTL   = 5 * time.Minute
	saleNumberAttempts = 3
	saleNumberBackoff  = 25 * time.Millisecond
	warningBandCents   = 500
)

type Service struct {
	repo                 store.Repository
	customers            cache.CustomerCache
	inv                  *inventory.Dispatcher
	allowNegativeBalance bool
}

func New(repo store.Repository, customers cache.CustomerCache, inv *inventory.Dispatcher, allowNegativeBalance bool) *Service {
	if customers == nil {
		customers = cache.NoopCustomerCache{}
	}
	return &Service{
		repo:                 repo,
		customers:            customers,
		inv:                  inv,
		allowNegativeBalance: allowNegativeBalance,
	}
}

// Settle runs the full settlement: totals, split validation, atomic persist of
// sale + AR charge + shift totals, then async inventory decrements. Nothing is
// written until validation passes.
func (s *Service) Settle(ctx context.Context, req domain.SettleRequest) (domain.SettleResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SettleResponse{}, fmt.Errorf("actor required")
	}

	shift, err := s.repo.GetActiveShift(ctx, actor.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SettleResponse{}, &ValidationError{Reason: "active shift required"}
		}
		return domain.SettleResponse{}, err
	}

	taxMode := defaultString(req.TaxMode, domain.TaxModeVAT)
	totals, err := pricing.Compute(req.Lines, taxMode)
	if err != nil {
		return domain.SettleResponse{}, &ValidationError{Reason: err.Error()}
	}

	var customer *domain.CustomerAccount
	if req.CustomerID != "" {
		customer, err = s.repo.GetCustomerByID(ctx, req.CustomerID)
		if err != nil {
			return domain.SettleResponse{}, err
		}
	}

	policy := payment.Policy{
		AllowOverLimit:       req.AuthorizeOverLimit,
		AllowNegativeBalance: s.allowNegativeBalance,
	}
	result, err := payment.ValidateSplit(totals.NetDueCents, req.Legs, customer, policy)
	if err != nil {
		return domain.SettleResponse{}, &ValidationError{Reason: err.Error()}
	}
	if !result.OK {
		return domain.SettleResponse{}, &ValidationError{Reason: result.Reason, OffendingLeg: result.OffendingLeg}
	}

	sale := domain.Sale{
		CustomerID:       req.CustomerID,
		CashierID:        actor.Username,
		ShiftID:          shift.ID,
		TaxMode:          taxMode,
		Lines:            req.Lines,
		Legs:             req.Legs,
		SubtotalCents:    totals.SubtotalCents,
		TaxCents:         totals.TaxCents,
		WithholdingCents: totals.WithholdingCents,
		DiscountCents:    totals.DiscountCents,
		TotalCents:       totals.TotalCents,
		NetDueCents:      totals.NetDueCents,
		ChangeCents:      result.ChangeDueCents,
		Status:           domain.SaleStatusCompleted,
		CreatedAt:        time.Now().UTC(),
	}

	created, err := s.createWithSaleNumber(ctx, sale, req.SaleNumber, policy.AllowOverLimit)
	if err != nil {
		if errors.Is(err, store.ErrCreditLimit) {
			return domain.SettleResponse{}, &ValidationError{Reason: "credit limit exceeded", OffendingLeg: domain.MethodAR}
		}
		return domain.SettleResponse{}, err
	}

	if req.CustomerID != "" {
		s.invalidateCustomer(ctx, req.CustomerID)
	}
	if s.inv != nil {
		s.inv.EnqueueSale(created.ID, created.Lines)
	}

	s.logAudit(ctx, "settle", "sale", created.ID,
		fmt.Sprintf("number=%s,total=%d,change=%d,legs=%d,tax_mode=%s,over_limit=%t",
			created.SaleNumber, created.TotalCents, created.ChangeCents, len(created.Legs), created.TaxMode, req.AuthorizeOverLimit))

	return domain.SettleResponse{Sale: *created, ChangeCents: created.ChangeCents}, nil
}

// createWithSaleNumber persists the sale under a unique number. A
// caller-supplied number is an idempotency token: a collision is the caller's
// retry and is rejected as duplicate. Self-generated numbers regenerate with
// backoff before giving up.
func (s *Service) createWithSaleNumber(ctx context.Context, sale domain.Sale, requested string, allowOverLimit bool) (*domain.Sale, error) {
	if requested != "" {
		sale.SaleNumber = requested
		return s.repo.CreateSale(ctx, sale, allowOverLimit)
	}

	for attempt := 0; attempt < saleNumberAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(saleNumberBackoff * time.Duration(attempt))
		}
		sale.SaleNumber = xid.SaleNumber(sale.CashierID, sale.CreatedAt)
		created, err := s.repo.CreateSale(ctx, sale, allowOverLimit)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, store.ErrDuplicateSaleNumber) {
			return nil, err
		}
	}
	return nil, ErrSaleNumberExhausted
}

func (s *Service) LookupSaleByNumber(ctx context.Context, saleNumber string) (domain.SaleLookupResponse, error) {
	if strings.TrimSpace(saleNumber) == "" {
		return domain.SaleLookupResponse{}, store.ErrInvalidSale
	}
	sale, err := s.repo.GetSaleByNumber(ctx, saleNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SaleLookupResponse{Found: false}, nil
		}
		return domain.SaleLookupResponse{}, err
	}
	return domain.SaleLookupResponse{Found: true, Sale: sale}, nil
}

// VoidSale marks the sale voided and, when the sale carried an AR charge,
// posts a compensating payment entry. History is never rewritten; the shift's
// buckets keep the original amounts.
func (s *Service) VoidSale(ctx context.Context, saleID string, reason string) (domain.VoidSaleResponse, error) {
	if saleID == "" {
		return domain.VoidSaleResponse{}, store.ErrInvalidSale
	}
	if reason == "" {
		reason = "unspecified"
	}

	voidedAt := time.Now().UTC()
	sale, err := s.repo.VoidSale(ctx, saleID, reason, voidedAt)
	if err != nil {
		return domain.VoidSaleResponse{}, err
	}

	if arSum := arLegSum(sale.Legs); arSum > 0 {
		_, err := s.repo.AppendARTransaction(ctx, domain.ARTransaction{
			CustomerID:  sale.CustomerID,
			Type:        domain.ARTypePayment,
			AmountCents: arSum,
			SaleID:      sale.ID,
			Notes:       "void reversal: " + sale.SaleNumber,
			CreatedAt:   voidedAt,
		}, false)
		if err != nil {
			// The sale is already voided; a failed reversal is surfaced for
			// manual reconciliation rather than unwinding the void.
			log.Printf("[service] WARN: void reversal failed sale=%s customer=%s: %v", sale.ID, sale.CustomerID, err)
			return domain.VoidSaleResponse{}, err
		}
		s.invalidateCustomer(ctx, sale.CustomerID)
	}

	s.logAudit(ctx, "void_sale", "sale", sale.ID, reason)

	return domain.VoidSaleResponse{
		SaleID:   sale.ID,
		Status:   sale.Status,
		VoidedAt: voidedAt.Format(time.RFC3339),
	}, nil
}

func (s *Service) RefundSale(ctx context.Context, saleID string, req domain.RefundRequest) (domain.RefundResponse, error) {
	if saleID == "" || req.AmountCents <= 0 {
		return domain.RefundResponse{}, store.ErrInvalidSale
	}

	sale, err := s.repo.GetSaleByID(ctx, saleID)
	if err != nil {
		return domain.RefundResponse{}, err
	}
	if sale.Status == domain.SaleStatusVoided {
		return domain.RefundResponse{}, fmt.Errorf("%w: voided sale cannot be refunded", store.ErrInvalidSale)
	}

	refunded, err := s.repo.GetRefundedCentsBySale(ctx, saleID)
	if err != nil {
		return domain.RefundResponse{}, err
	}
	if refunded+req.AmountCents > sale.TotalCents {
		return domain.RefundResponse{}, fmt.Errorf("%w: refund exceeds sale total", store.ErrInvalidSale)
	}

	refund := domain.Refund{
		ID:          xid.New("refund"),
		SaleID:      saleID,
		Reason:      req.Reason,
		AmountCents: req.AmountCents,
		Status:      domain.SaleStatusRefunded,
		CreatedAt:   time.Now().UTC(),
	}
	created, err := s.repo.CreateRefund(ctx, refund)
	if err != nil {
		return domain.RefundResponse{}, err
	}

	s.logAudit(ctx, "refund_sale", "sale", saleID, fmt.Sprintf("amount=%d,reason=%s", req.AmountCents, req.Reason))

	return domain.RefundResponse{Refund: *created}, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.CustomerAccount, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.CustomerAccount{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.CreditLimitCents < 0 {
		return domain.CustomerAccount{}, store.ErrInvalidSale
	}

	created, err := s.repo.CreateCustomer(ctx, domain.CustomerAccount{
		Name:             req.Name,
		Phone:            strings.TrimSpace(req.Phone),
		CreditLimitCents: req.CreditLimitCents,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		return domain.CustomerAccount{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", created.ID, fmt.Sprintf("name=%s,credit_limit=%d", created.Name, created.CreditLimitCents))

	return *created, nil
}

func (s *Service) ListCustomers(ctx context.Context, limit int) (domain.CustomerListResponse, error) {
	customers, err := s.repo.ListCustomers(ctx, limit)
	if err != nil {
		return domain.CustomerListResponse{}, err
	}
	return domain.CustomerListResponse{Customers: customers}, nil
}

func (s *Service) GetCustomerLedger(ctx context.Context, customerID string) (domain.CustomerLedgerResponse, error) {
	if customerID == "" {
		return domain.CustomerLedgerResponse{}, store.ErrInvalidSale
	}

	customer, err := s.lookupCustomer(ctx, customerID)
	if err != nil {
		return domain.CustomerLedgerResponse{}, err
	}
	entries, err := s.repo.ListARTransactions(ctx, customerID)
	if err != nil {
		return domain.CustomerLedgerResponse{}, err
	}
	return domain.CustomerLedgerResponse{Customer: *customer, Transactions: entries}, nil
}

// RecordPayment posts a payment against the customer's balance. By default the
// balance clamps at zero: the portion of the tender above the outstanding
// balance is returned as change owed instead of driving the balance negative.
// AR_ALLOW_NEGATIVE_BALANCE switches to posting the full amount as credit.
func (s *Service) RecordPayment(ctx context.Context, customerID string, req domain.RecordPaymentRequest) (domain.RecordPaymentResponse, error) {
	if customerID == "" || req.AmountCents <= 0 {
		return domain.RecordPaymentResponse{}, store.ErrInvalidSale
	}

	// The store clamps under its own lock so concurrent payments cannot both
	// read the same balance and overshoot it.
	entry, err := s.repo.AppendARTransaction(ctx, domain.ARTransaction{
		CustomerID:  customerID,
		Type:        domain.ARTypePayment,
		AmountCents: req.AmountCents,
		Notes:       req.Notes,
		CreatedAt:   time.Now().UTC(),
	}, !s.allowNegativeBalance)
	if err != nil {
		if errors.Is(err, store.ErrNothingOutstanding) {
			return domain.RecordPaymentResponse{}, &ValidationError{Reason: "no outstanding balance"}
		}
		return domain.RecordPaymentResponse{}, err
	}
	changeOwed := req.AmountCents - entry.AmountCents
	s.invalidateCustomer(ctx, customerID)

	s.logAudit(ctx, "ar_payment", "customer", customerID, fmt.Sprintf("amount=%d,change_owed=%d", entry.AmountCents, changeOwed))

	return domain.RecordPaymentResponse{Transaction: *entry, ChangeOwedCents: changeOwed}, nil
}

func (s *Service) RecomputeBalance(ctx context.Context, customerID string) (domain.RecomputeBalanceResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.RecomputeBalanceResponse{}, fmt.Errorf("admin role required")
	}
	if customerID == "" {
		return domain.RecomputeBalanceResponse{}, store.ErrInvalidSale
	}

	resp, err := s.repo.RecomputeBalance(ctx, customerID)
	if err != nil {
		return domain.RecomputeBalanceResponse{}, err
	}
	if resp.Repaired {
		s.invalidateCustomer(ctx, customerID)
		log.Printf("[service] ledger balance repaired customer=%s previous=%d recomputed=%d", customerID, resp.PreviousCents, resp.RecomputedCents)
	}
	s.logAudit(ctx, "recompute_balance", "customer", customerID, fmt.Sprintf("previous=%d,recomputed=%d,repaired=%t", resp.PreviousCents, resp.RecomputedCents, resp.Repaired))
	return *resp, nil
}

func (s *Service) CheckLedgerIntegrity(ctx context.Context) (domain.LedgerIntegrityReport, error) {
	report, err := s.repo.CheckLedgerIntegrity(ctx)
	if err != nil {
		return domain.LedgerIntegrityReport{}, err
	}
	if len(report.OrphanChargeIDs) > 0 || len(report.UnchargedSaleIDs) > 0 ||
		len(report.UnreversedVoidSaleIDs) > 0 || len(report.BalanceDrifts) > 0 {
		log.Printf("[service] WARN: ledger integrity issues: orphan_charges=%d uncharged_sales=%d unreversed_voids=%d balance_drifts=%d",
			len(report.OrphanChargeIDs), len(report.UnchargedSaleIDs), len(report.UnreversedVoidSaleIDs), len(report.BalanceDrifts))
	}
	return *report, nil
}

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ShiftResponse{}, fmt.Errorf("actor required")
	}
	if req.StartingCashCents < 0 {
		return domain.ShiftResponse{}, store.ErrInvalidSale
	}

	saved, err := s.repo.CreateShift(ctx, domain.Shift{
		CashierID:         actor.Username,
		StartingCashCents: req.StartingCashCents,
		Status:            domain.ShiftStatusActive,
		OpenedAt:          time.Now().UTC(),
	})
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	s.logAudit(ctx, "shift_open", "shift", saved.ID, fmt.Sprintf("starting_cash=%d", req.StartingCashCents))

	return domain.ShiftResponse{Shift: *saved}, nil
}

// CloseShift freezes the cashier's active shift and reports the cash
// difference with its discrepancy classification.
func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.ShiftSummary, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ShiftSummary{}, fmt.Errorf("actor required")
	}

	active, err := s.repo.GetActiveShift(ctx, actor.Username)
	if err != nil {
		return domain.ShiftSummary{}, err
	}

	closed, err := s.repo.CloseShift(ctx, active.ID, req.EndingCashCents, time.Now().UTC())
	if err != nil {
		return domain.ShiftSummary{}, err
	}

	expected := closed.StartingCashCents + closed.Totals.CashCents
	summary := domain.ShiftSummary{
		Shift:               *closed,
		ExpectedCashCents:   expected,
		CashDifferenceCents: closed.CashDifferenceCents,
		Classification:      classifyCashDifference(closed.CashDifferenceCents),
	}

	s.logAudit(ctx, "shift_close", "shift", closed.ID,
		fmt.Sprintf("ending_cash=%d,expected=%d,difference=%d,classification=%s,notes=%s",
			req.EndingCashCents, expected, closed.CashDifferenceCents, summary.Classification, req.Notes))

	return summary, nil
}

func (s *Service) GetActiveShift(ctx context.Context) (domain.ShiftResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ShiftResponse{}, fmt.Errorf("actor required")
	}
	shift, err := s.repo.GetActiveShift(ctx, actor.Username)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: *shift}, nil
}

func (s *Service) lookupCustomer(ctx context.Context, customerID string) (*domain.CustomerAccount, error) {
	if cached, hit, err := s.customers.Get(ctx, customerID); err == nil && hit {
		return cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: customer cache get failed id=%s: %v", customerID, err)
	}

	customer, err := s.repo.GetCustomerByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if err := s.customers.Set(ctx, customer, customerCacheTTL); err != nil {
		log.Printf("[service] WARN: customer cache set failed id=%s: %v", customerID, err)
	}
	return customer, nil
}

func (s *Service) invalidateCustomer(ctx context.Context, customerID string) {
	if err := s.customers.Invalidate(ctx, customerID); err != nil {
		log.Printf("[service] WARN: customer cache invalidate failed id=%s: %v", customerID, err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

// classifyCashDifference applies the discrepancy bands: dead-on is balanced,
// within five pesos is a warning, beyond that needs supervisor acknowledgment.
func classifyCashDifference(diffCents int64) string {
	abs := diffCents
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs == 0:
		return domain.ShiftBalanced
	case abs <= warningBandCents:
		return domain.ShiftWarning
	default:
		return domain.ShiftRequiresSupervisor
	}
}

func arLegSum(legs []domain.PaymentLeg) int64 {
	var sum int64
	for _, leg := range legs {
		if leg.Method == domain.MethodAR {
			sum += leg.AmountCents
		}
	}
	return sum
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
