package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ferreteria/pos/internal/domain"
	"ferreteria/pos/internal/store"
	"ferreteria/pos/internal/xid"
)

type Store struct {
	mu                   sync.RWMutex
	salesByID            map[string]*domain.Sale
	saleIDByNumber       map[string]string
	refundsByID          map[string]domain.Refund
	customersByID        map[string]domain.CustomerAccount
	arTxByCustomer       map[string][]domain.ARTransaction
	shiftsByID           map[string]domain.Shift
	activeShiftByCashier map[string]string
	auditLogs            []domain.AuditLog
	usersByUsername      map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		salesByID:            make(map[string]*domain.Sale),
		saleIDByNumber:       make(map[string]string),
		refundsByID:          make(map[string]domain.Refund),
		customersByID:        make(map[string]domain.CustomerAccount),
		arTxByCustomer:       make(map[string][]domain.ARTransaction),
		shiftsByID:           make(map[string]domain.Shift),
		activeShiftByCashier: make(map[string]string),
		auditLogs:            make([]domain.AuditLog, 0, 128),
		usersByUsername:      make(map[string]domain.UserAccount),
	}
}

// NewSeeded preloads demo customers and user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; unset
// variables fall back to hardcoded dev defaults with a warning. Production
// deployments use PostgreSQL (DATABASE_URL) and never hit this path.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	for _, c := range []domain.CustomerAccount{
		{ID: "cust-ramos", Name: "Ramos Construction", Phone: "0917-555-0101", CreditLimitCents: 5000000},
		{ID: "cust-delacruz", Name: "Dela Cruz Hardware Trading", Phone: "0917-555-0102", CreditLimitCents: 2500000},
		{ID: "cust-santos", Name: "Santos Builders Supply", Phone: "0917-555-0103", CreditLimitCents: 1000000},
	} {
		c.CreatedAt = now
		s.customersByID[c.ID] = c
	}
	s.usersByUsername = seedUsers()
	return s
}

func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// CreateSale persists the sale, posts its AR charge, and bumps the active
// shift's totals under one lock. The credit limit is re-checked here so two
// concurrent settlements against the same customer cannot both pass.
func (s *Store) CreateSale(_ context.Context, sale domain.Sale, allowOverLimit bool) (*domain.Sale, error) {
	if sale.SaleNumber == "" || len(sale.Lines) == 0 || len(sale.Legs) == 0 {
		return nil, store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.saleIDByNumber[sale.SaleNumber]; exists {
		return nil, store.ErrDuplicateSaleNumber
	}

	shift, ok := s.shiftsByID[sale.ShiftID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if shift.Status != domain.ShiftStatusActive {
		return nil, store.ErrShiftClosed
	}

	var arSum int64
	for _, leg := range sale.Legs {
		if leg.Method == domain.MethodAR {
			arSum += leg.AmountCents
		}
	}

	var customer domain.CustomerAccount
	if arSum > 0 {
		customer, ok = s.customersByID[sale.CustomerID]
		if !ok {
			return nil, store.ErrNotFound
		}
		if err := s.checkCachedBalanceLocked(customer); err != nil {
			return nil, err
		}
		if !allowOverLimit && customer.CurrentBalanceCents+arSum > customer.CreditLimitCents {
			return nil, store.ErrCreditLimit
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCompleted
	}

	if arSum > 0 {
		entry := domain.ARTransaction{
			ID:                xid.New("artx"),
			CustomerID:        customer.ID,
			Type:              domain.ARTypeCharge,
			AmountCents:       arSum,
			BalanceAfterCents: customer.CurrentBalanceCents + arSum,
			SaleID:            sale.ID,
			CreatedAt:         sale.CreatedAt,
		}
		s.arTxByCustomer[customer.ID] = append(s.arTxByCustomer[customer.ID], entry)
		customer.CurrentBalanceCents = entry.BalanceAfterCents
		s.customersByID[customer.ID] = customer
	}

	for _, leg := range sale.Legs {
		method, known := domain.MethodByCode(leg.Method)
		if !known {
			continue
		}
		addToBucket(&shift.Totals, method.Bucket, leg.AmountCents)
	}
	// The drawer keeps the tendered cash minus the change handed back. Change
	// comes off the sale once, not once per cash leg.
	shift.Totals.CashCents -= sale.ChangeCents
	shift.TransactionCount++
	s.shiftsByID[shift.ID] = shift

	saved := cloneSale(&sale)
	s.salesByID[sale.ID] = saved
	s.saleIDByNumber[sale.SaleNumber] = sale.ID
	return cloneSale(saved), nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) GetSaleByNumber(_ context.Context, saleNumber string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.saleIDByNumber[saleNumber]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(s.salesByID[id]), nil
}

func (s *Store) VoidSale(_ context.Context, id string, reason string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusCompleted {
		return nil, store.ErrInvalidSale
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	sale.Status = domain.SaleStatusVoided
	sale.VoidReason = reason
	sale.VoidedAt = &at
	return cloneSale(sale), nil
}

func (s *Store) CreateRefund(_ context.Context, refund domain.Refund) (*domain.Refund, error) {
	if refund.SaleID == "" || refund.AmountCents <= 0 {
		return nil, store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[refund.SaleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if refund.ID == "" {
		refund.ID = xid.New("refund")
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}
	if refund.Status == "" {
		refund.Status = "completed"
	}
	s.refundsByID[refund.ID] = refund
	sale.Status = domain.SaleStatusRefunded
	saved := refund
	return &saved, nil
}

func (s *Store) GetRefundedCentsBySale(_ context.Context, saleID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, refund := range s.refundsByID {
		if refund.SaleID == saleID {
			total += refund.AmountCents
		}
	}
	return total, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.CustomerAccount) (*domain.CustomerAccount, error) {
	if strings.TrimSpace(customer.Name) == "" || customer.CreditLimitCents < 0 {
		return nil, store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if _, exists := s.customersByID[customer.ID]; exists {
		return nil, store.ErrConflict
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	customer.CurrentBalanceCents = 0
	s.customersByID[customer.ID] = customer
	saved := customer
	return &saved, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.CustomerAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	saved := customer
	return &saved, nil
}

func (s *Store) ListCustomers(_ context.Context, limit int) ([]domain.CustomerAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.CustomerAccount, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.CustomerAccount) int {
		if a.Name == b.Name {
			return cmpString(a.ID, b.ID)
		}
		return cmpString(a.Name, b.Name)
	})
	if limit > 0 && len(customers) > limit {
		customers = customers[:limit]
	}
	return customers, nil
}

// AppendARTransaction appends one ledger entry and moves the cached balance in
// the same critical section. The cached balance is verified against the latest
// entry first; drift means corruption and the write is refused.
func (s *Store) AppendARTransaction(_ context.Context, entry domain.ARTransaction, clampAtZero bool) (*domain.ARTransaction, error) {
	if entry.AmountCents <= 0 {
		return nil, store.ErrInvalidSale
	}
	if entry.Type == domain.ARTypeCharge && entry.SaleID == "" {
		return nil, store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	customer, ok := s.customersByID[entry.CustomerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := s.checkCachedBalanceLocked(customer); err != nil {
		return nil, err
	}

	switch entry.Type {
	case domain.ARTypeCharge:
		entry.BalanceAfterCents = customer.CurrentBalanceCents + entry.AmountCents
	case domain.ARTypePayment:
		if clampAtZero {
			// Clamp against the balance held under this lock, not whatever
			// the caller last read.
			if customer.CurrentBalanceCents <= 0 {
				return nil, store.ErrNothingOutstanding
			}
			if entry.AmountCents > customer.CurrentBalanceCents {
				entry.AmountCents = customer.CurrentBalanceCents
			}
		}
		entry.BalanceAfterCents = customer.CurrentBalanceCents - entry.AmountCents
	default:
		return nil, store.ErrInvalidSale
	}

	if entry.ID == "" {
		entry.ID = xid.New("artx")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.arTxByCustomer[entry.CustomerID] = append(s.arTxByCustomer[entry.CustomerID], entry)
	customer.CurrentBalanceCents = entry.BalanceAfterCents
	s.customersByID[entry.CustomerID] = customer
	saved := entry
	return &saved, nil
}

func (s *Store) ListARTransactions(_ context.Context, customerID string) ([]domain.ARTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.customersByID[customerID]; !ok {
		return nil, store.ErrNotFound
	}
	entries := s.arTxByCustomer[customerID]
	result := make([]domain.ARTransaction, len(entries))
	copy(result, entries)
	return result, nil
}

// RecomputeBalance replays the customer's ledger and repairs the cached
// balance when it drifted. This is the only path that overwrites a bad cache.
func (s *Store) RecomputeBalance(_ context.Context, customerID string) (*domain.RecomputeBalanceResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, ok := s.customersByID[customerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	recomputed := replayBalance(s.arTxByCustomer[customerID])
	resp := &domain.RecomputeBalanceResponse{
		CustomerID:      customerID,
		PreviousCents:   customer.CurrentBalanceCents,
		RecomputedCents: recomputed,
	}
	if recomputed != customer.CurrentBalanceCents {
		customer.CurrentBalanceCents = recomputed
		s.customersByID[customerID] = customer
		resp.Repaired = true
	}
	return resp, nil
}

func (s *Store) CheckLedgerIntegrity(_ context.Context) (*domain.LedgerIntegrityReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := &domain.LedgerIntegrityReport{
		OrphanChargeIDs:       []string{},
		UnchargedSaleIDs:      []string{},
		UnreversedVoidSaleIDs: []string{},
		BalanceDrifts:         []domain.BalanceDrift{},
		CheckedAt:             time.Now().UTC(),
	}

	chargedSales := make(map[string]bool)
	reversedSales := make(map[string]bool)
	for customerID, entries := range s.arTxByCustomer {
		for _, entry := range entries {
			if entry.Type == domain.ARTypePayment {
				if entry.SaleID != "" {
					reversedSales[entry.SaleID] = true
				}
				continue
			}
			if entry.Type != domain.ARTypeCharge {
				continue
			}
			chargedSales[entry.SaleID] = true
			if _, ok := s.salesByID[entry.SaleID]; !ok {
				report.OrphanChargeIDs = append(report.OrphanChargeIDs, entry.ID)
			}
		}
		customer := s.customersByID[customerID]
		recomputed := replayBalance(entries)
		if recomputed != customer.CurrentBalanceCents {
			report.BalanceDrifts = append(report.BalanceDrifts, domain.BalanceDrift{
				CustomerID:      customerID,
				CachedCents:     customer.CurrentBalanceCents,
				RecomputedCents: recomputed,
			})
		}
	}

	for id, sale := range s.salesByID {
		hasAR := false
		for _, leg := range sale.Legs {
			if leg.Method == domain.MethodAR {
				hasAR = true
				break
			}
		}
		if !hasAR {
			continue
		}
		switch sale.Status {
		case domain.SaleStatusCompleted:
			if !chargedSales[id] {
				report.UnchargedSaleIDs = append(report.UnchargedSaleIDs, id)
			}
		case domain.SaleStatusVoided:
			// A voided AR sale keeps its charge and carries a compensating
			// payment against the same sale. A missing payment means the
			// void committed but the reversal never posted.
			if chargedSales[id] && !reversedSales[id] {
				report.UnreversedVoidSaleIDs = append(report.UnreversedVoidSaleIDs, id)
			}
		}
	}

	slices.Sort(report.OrphanChargeIDs)
	slices.Sort(report.UnchargedSaleIDs)
	slices.Sort(report.UnreversedVoidSaleIDs)
	slices.SortFunc(report.BalanceDrifts, func(a, b domain.BalanceDrift) int {
		return cmpString(a.CustomerID, b.CustomerID)
	})
	return report, nil
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.CashierID) == "" || shift.StartingCashCents < 0 {
		return nil, store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.activeShiftByCashier[shift.CashierID]; exists {
		return nil, store.ErrShiftAlreadyOpen
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusActive
	shift.Totals = domain.ShiftTotals{}
	shift.TransactionCount = 0
	shift.ClosedAt = nil

	s.shiftsByID[shift.ID] = shift
	s.activeShiftByCashier[shift.CashierID] = shift.ID
	saved := shift
	return &saved, nil
}

func (s *Store) GetShiftByID(_ context.Context, id string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, ok := s.shiftsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	saved := shift
	return &saved, nil
}

func (s *Store) GetActiveShift(_ context.Context, cashierID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, exists := s.activeShiftByCashier[cashierID]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift := s.shiftsByID[shiftID]
	saved := shift
	return &saved, nil
}

func (s *Store) CloseShift(_ context.Context, shiftID string, endingCashCents int64, closedAt time.Time) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, ok := s.shiftsByID[shiftID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if shift.Status != domain.ShiftStatusActive {
		return nil, store.ErrShiftClosed
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	expected := shift.StartingCashCents + shift.Totals.CashCents
	shift.Status = domain.ShiftStatusClosed
	shift.EndingCashCents = endingCashCents
	shift.CashDifferenceCents = endingCashCents - expected
	shift.ClosedAt = &closedAt

	delete(s.activeShiftByCashier, shift.CashierID)
	s.shiftsByID[shiftID] = shift
	saved := shift
	return &saved, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, len(s.auditLogs))
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || entry.CreatedAt.After(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidSale
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// checkCachedBalanceLocked verifies the cached balance matches the tail of the
// ledger. Callers hold the write lock.
func (s *Store) checkCachedBalanceLocked(customer domain.CustomerAccount) error {
	entries := s.arTxByCustomer[customer.ID]
	if len(entries) == 0 {
		if customer.CurrentBalanceCents != 0 {
			return store.ErrLedgerIntegrity
		}
		return nil
	}
	if entries[len(entries)-1].BalanceAfterCents != customer.CurrentBalanceCents {
		return store.ErrLedgerIntegrity
	}
	return nil
}

func replayBalance(entries []domain.ARTransaction) int64 {
	var balance int64
	for _, entry := range entries {
		if entry.Type == domain.ARTypeCharge {
			balance += entry.AmountCents
		} else {
			balance -= entry.AmountCents
		}
	}
	return balance
}

func addToBucket(totals *domain.ShiftTotals, bucket string, cents int64) {
	switch bucket {
	case domain.BucketCash:
		totals.CashCents += cents
	case domain.BucketCard:
		totals.CardCents += cents
	case domain.BucketMobile:
		totals.MobileCents += cents
	case domain.BucketCheck:
		totals.CheckCents += cents
	case domain.BucketTransfer:
		totals.TransferCents += cents
	case domain.BucketAR:
		totals.ARCents += cents
	}
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	lines := make([]domain.CartLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	legs := make([]domain.PaymentLeg, len(src.Legs))
	copy(legs, src.Legs)
	dup.Legs = legs
	return &dup
}
