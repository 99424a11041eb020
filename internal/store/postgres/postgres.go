package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"ferreteria/pos/internal/domain"
	"ferreteria/pos/internal/store"
	"ferreteria/pos/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSale commits the sale row, its legs and lines, the AR charge, and the
// shift totals bump in one serializable transaction. Row locks on the customer
// and the shift serialize concurrent settlements against the same entities.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, allowOverLimit bool) (*domain.Sale, error) {
	if sale.SaleNumber == "" || len(sale.Lines) == 0 || len(sale.Legs) == 0 {
		return nil, store.ErrInvalidSale
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var shiftStatus string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status
		FROM shifts
		WHERE id = $1
		FOR UPDATE
	`, sale.ShiftID).Scan(&shiftStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if shiftStatus != domain.ShiftStatusActive {
		return nil, store.ErrShiftClosed
	}

	var arSum int64
	for _, leg := range sale.Legs {
		if leg.Method == domain.MethodAR {
			arSum += leg.AmountCents
		}
	}

	var balance, creditLimit int64
	if arSum > 0 {
		err = pgTx.QueryRowContext(ctx, `
			SELECT credit_limit_cents, current_balance_cents
			FROM customers
			WHERE id = $1
			FOR UPDATE
		`, sale.CustomerID).Scan(&creditLimit, &balance)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		if err := verifyCachedBalance(ctx, pgTx, sale.CustomerID, balance); err != nil {
			return nil, err
		}
		if !allowOverLimit && balance+arSum > creditLimit {
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

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, sale_number, customer_id, cashier_id, shift_id, tax_mode,
			subtotal_cents, tax_cents, withholding_cents, discount_cents,
			total_cents, net_due_cents, change_cents, status, void_reason,
			voided_at, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,now())
	`, sale.ID, sale.SaleNumber, nullIfEmpty(sale.CustomerID), sale.CashierID, sale.ShiftID, sale.TaxMode,
		sale.SubtotalCents, sale.TaxCents, sale.WithholdingCents, sale.DiscountCents,
		sale.TotalCents, sale.NetDueCents, sale.ChangeCents, sale.Status, nullIfEmpty(sale.VoidReason),
		nullTime(sale.VoidedAt), sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateSaleNumber
		}
		return nil, err
	}

	for i, line := range sale.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, position, product_id, unit_price_cents, qty, discount_percent)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sale.ID, i, line.ProductID, line.UnitPriceCents, line.Qty, line.DiscountPercent)
		if err != nil {
			return nil, err
		}
	}
	for i, leg := range sale.Legs {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_legs (sale_id, position, method, amount_cents, reference)
			VALUES ($1,$2,$3,$4,$5)
		`, sale.ID, i, leg.Method, leg.AmountCents, nullIfEmpty(leg.Reference))
		if err != nil {
			return nil, err
		}
	}

	if arSum > 0 {
		balanceAfter := balance + arSum
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO ar_transactions (id, customer_id, type, amount_cents, balance_after_cents, sale_id, notes, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, xid.New("artx"), sale.CustomerID, domain.ARTypeCharge, arSum, balanceAfter, sale.ID, nil, sale.CreatedAt)
		if err != nil {
			return nil, err
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE customers
			SET current_balance_cents = $2, updated_at = now()
			WHERE id = $1
		`, sale.CustomerID, balanceAfter)
		if err != nil {
			return nil, err
		}
	}

	totals := bucketTotals(sale.Legs, sale.ChangeCents)
	_, err = pgTx.ExecContext(ctx, `
		UPDATE shifts
		SET cash_cents = cash_cents + $2,
			card_cents = card_cents + $3,
			mobile_cents = mobile_cents + $4,
			check_cents = check_cents + $5,
			transfer_cents = transfer_cents + $6,
			ar_cents = ar_cents + $7,
			transaction_count = transaction_count + 1,
			updated_at = now()
		WHERE id = $1
	`, sale.ShiftID, totals.CashCents, totals.CardCents, totals.MobileCents,
		totals.CheckCents, totals.TransferCents, totals.ARCents)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &sale, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return s.findSale(ctx, "id", id)
}

func (s *Store) GetSaleByNumber(ctx context.Context, saleNumber string) (*domain.Sale, error) {
	return s.findSale(ctx, "sale_number", saleNumber)
}

func (s *Store) findSale(ctx context.Context, column string, value string) (*domain.Sale, error) {
	var sale domain.Sale
	var customerID, voidReason sql.NullString
	var voidedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sale_number, customer_id, cashier_id, shift_id, tax_mode,
			subtotal_cents, tax_cents, withholding_cents, discount_cents,
			total_cents, net_due_cents, change_cents, status, void_reason,
			voided_at, created_at
		FROM sales
		WHERE `+column+` = $1
	`, value).Scan(&sale.ID, &sale.SaleNumber, &customerID, &sale.CashierID, &sale.ShiftID, &sale.TaxMode,
		&sale.SubtotalCents, &sale.TaxCents, &sale.WithholdingCents, &sale.DiscountCents,
		&sale.TotalCents, &sale.NetDueCents, &sale.ChangeCents, &sale.Status, &voidReason,
		&voidedAt, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CustomerID = customerID.String
	sale.VoidReason = voidReason.String
	if voidedAt.Valid {
		t := voidedAt.Time
		sale.VoidedAt = &t
	}

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT product_id, unit_price_cents, qty, discount_percent
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY position
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var line domain.CartLine
		if err := lineRows.Scan(&line.ProductID, &line.UnitPriceCents, &line.Qty, &line.DiscountPercent); err != nil {
			return nil, err
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	legRows, err := s.db.QueryContext(ctx, `
		SELECT method, amount_cents, reference
		FROM sale_legs
		WHERE sale_id = $1
		ORDER BY position
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer legRows.Close()
	for legRows.Next() {
		var leg domain.PaymentLeg
		var reference sql.NullString
		if err := legRows.Scan(&leg.Method, &leg.AmountCents, &reference); err != nil {
			return nil, err
		}
		leg.Reference = reference.String
		sale.Legs = append(sale.Legs, leg)
	}
	if err := legRows.Err(); err != nil {
		return nil, err
	}

	return &sale, nil
}

func (s *Store) VoidSale(ctx context.Context, id string, reason string, at time.Time) (*domain.Sale, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.SaleStatusCompleted {
		return nil, store.ErrInvalidSale
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, void_reason = $3, voided_at = $4, updated_at = now()
		WHERE id = $1
	`, id, domain.SaleStatusVoided, reason, at)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return s.findSale(ctx, "id", id)
}

func (s *Store) CreateRefund(ctx context.Context, refund domain.Refund) (*domain.Refund, error) {
	if refund.SaleID == "" || refund.AmountCents <= 0 {
		return nil, store.ErrInvalidSale
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

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, refund.SaleID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO refunds (id, sale_id, reason, amount_cents, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, refund.ID, refund.SaleID, refund.Reason, refund.AmountCents, refund.Status, refund.CreatedAt)
	if err != nil {
		return nil, err
	}
	_, err = pgTx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, refund.SaleID, domain.SaleStatusRefunded)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := refund
	return &created, nil
}

func (s *Store) GetRefundedCentsBySale(ctx context.Context, saleID string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM refunds
		WHERE sale_id = $1
	`, saleID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.CustomerAccount) (*domain.CustomerAccount, error) {
	if customer.Name == "" || customer.CreditLimitCents < 0 {
		return nil, store.ErrInvalidSale
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	customer.CurrentBalanceCents = 0

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, credit_limit_cents, current_balance_cents, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, customer.ID, customer.Name, nullIfEmpty(customer.Phone), customer.CreditLimitCents, customer.CurrentBalanceCents, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.CustomerAccount, error) {
	var customer domain.CustomerAccount
	var phone sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, credit_limit_cents, current_balance_cents, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &phone, &customer.CreditLimitCents, &customer.CurrentBalanceCents, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.Phone = phone.String
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, limit int) ([]domain.CustomerAccount, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, credit_limit_cents, current_balance_cents, created_at
		FROM customers
		ORDER BY name, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.CustomerAccount, 0, limit)
	for rows.Next() {
		var customer domain.CustomerAccount
		var phone sql.NullString
		if err := rows.Scan(&customer.ID, &customer.Name, &phone, &customer.CreditLimitCents, &customer.CurrentBalanceCents, &customer.CreatedAt); err != nil {
			return nil, err
		}
		customer.Phone = phone.String
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) AppendARTransaction(ctx context.Context, entry domain.ARTransaction, clampAtZero bool) (*domain.ARTransaction, error) {
	if entry.AmountCents <= 0 {
		return nil, store.ErrInvalidSale
	}
	if entry.Type == domain.ARTypeCharge && entry.SaleID == "" {
		return nil, store.ErrInvalidSale
	}
	if entry.Type != domain.ARTypeCharge && entry.Type != domain.ARTypePayment {
		return nil, store.ErrInvalidSale
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var balance int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT current_balance_cents
		FROM customers
		WHERE id = $1
		FOR UPDATE
	`, entry.CustomerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := verifyCachedBalance(ctx, pgTx, entry.CustomerID, balance); err != nil {
		return nil, err
	}

	if entry.Type == domain.ARTypeCharge {
		entry.BalanceAfterCents = balance + entry.AmountCents
	} else {
		if clampAtZero {
			// Clamp against the row locked above, not whatever the caller
			// last read.
			if balance <= 0 {
				return nil, store.ErrNothingOutstanding
			}
			if entry.AmountCents > balance {
				entry.AmountCents = balance
			}
		}
		entry.BalanceAfterCents = balance - entry.AmountCents
	}
	if entry.ID == "" {
		entry.ID = xid.New("artx")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO ar_transactions (id, customer_id, type, amount_cents, balance_after_cents, sale_id, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.CustomerID, entry.Type, entry.AmountCents, entry.BalanceAfterCents,
		nullIfEmpty(entry.SaleID), nullIfEmpty(entry.Notes), entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	_, err = pgTx.ExecContext(ctx, `
		UPDATE customers
		SET current_balance_cents = $2, updated_at = now()
		WHERE id = $1
	`, entry.CustomerID, entry.BalanceAfterCents)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := entry
	return &created, nil
}

func (s *Store) ListARTransactions(ctx context.Context, customerID string) ([]domain.ARTransaction, error) {
	if _, err := s.GetCustomerByID(ctx, customerID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, type, amount_cents, balance_after_cents, sale_id, notes, created_at
		FROM ar_transactions
		WHERE customer_id = $1
		ORDER BY created_at, id
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.ARTransaction, 0, 32)
	for rows.Next() {
		entry, err := scanARTransaction(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) RecomputeBalance(ctx context.Context, customerID string) (*domain.RecomputeBalanceResponse, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var previous int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT current_balance_cents
		FROM customers
		WHERE id = $1
		FOR UPDATE
	`, customerID).Scan(&previous)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	var recomputed int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN type = 'charge' THEN amount_cents ELSE -amount_cents END), 0)
		FROM ar_transactions
		WHERE customer_id = $1
	`, customerID).Scan(&recomputed)
	if err != nil {
		return nil, err
	}

	resp := &domain.RecomputeBalanceResponse{
		CustomerID:      customerID,
		PreviousCents:   previous,
		RecomputedCents: recomputed,
	}
	if recomputed != previous {
		_, err = pgTx.ExecContext(ctx, `
			UPDATE customers
			SET current_balance_cents = $2, updated_at = now()
			WHERE id = $1
		`, customerID, recomputed)
		if err != nil {
			return nil, err
		}
		resp.Repaired = true
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Store) CheckLedgerIntegrity(ctx context.Context) (*domain.LedgerIntegrityReport, error) {
	report := &domain.LedgerIntegrityReport{
		OrphanChargeIDs:       []string{},
		UnchargedSaleIDs:      []string{},
		UnreversedVoidSaleIDs: []string{},
		BalanceDrifts:         []domain.BalanceDrift{},
		CheckedAt:             time.Now().UTC(),
	}

	orphanRows, err := s.db.QueryContext(ctx, `
		SELECT t.id
		FROM ar_transactions t
		LEFT JOIN sales s ON s.id = t.sale_id
		WHERE t.type = 'charge' AND s.id IS NULL
		ORDER BY t.id
	`)
	if err != nil {
		return nil, err
	}
	defer orphanRows.Close()
	for orphanRows.Next() {
		var id string
		if err := orphanRows.Scan(&id); err != nil {
			return nil, err
		}
		report.OrphanChargeIDs = append(report.OrphanChargeIDs, id)
	}
	if err := orphanRows.Err(); err != nil {
		return nil, err
	}

	unchargedRows, err := s.db.QueryContext(ctx, `
		SELECT s.id
		FROM sales s
		JOIN sale_legs l ON l.sale_id = s.id AND l.method = 'AR'
		LEFT JOIN ar_transactions t ON t.sale_id = s.id AND t.type = 'charge'
		WHERE s.status = 'completed' AND t.id IS NULL
		ORDER BY s.id
	`)
	if err != nil {
		return nil, err
	}
	defer unchargedRows.Close()
	for unchargedRows.Next() {
		var id string
		if err := unchargedRows.Scan(&id); err != nil {
			return nil, err
		}
		report.UnchargedSaleIDs = append(report.UnchargedSaleIDs, id)
	}
	if err := unchargedRows.Err(); err != nil {
		return nil, err
	}

	// A voided AR sale keeps its charge and carries a compensating payment
	// against the same sale. A missing payment means the void committed but
	// the reversal never posted.
	unreversedRows, err := s.db.QueryContext(ctx, `
		SELECT s.id
		FROM sales s
		JOIN ar_transactions c ON c.sale_id = s.id AND c.type = 'charge'
		LEFT JOIN ar_transactions p ON p.sale_id = s.id AND p.type = 'payment'
		WHERE s.status = 'voided' AND p.id IS NULL
		ORDER BY s.id
	`)
	if err != nil {
		return nil, err
	}
	defer unreversedRows.Close()
	for unreversedRows.Next() {
		var id string
		if err := unreversedRows.Scan(&id); err != nil {
			return nil, err
		}
		report.UnreversedVoidSaleIDs = append(report.UnreversedVoidSaleIDs, id)
	}
	if err := unreversedRows.Err(); err != nil {
		return nil, err
	}

	driftRows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.current_balance_cents,
			COALESCE(SUM(CASE WHEN t.type = 'charge' THEN t.amount_cents ELSE -t.amount_cents END), 0) AS replayed
		FROM customers c
		LEFT JOIN ar_transactions t ON t.customer_id = c.id
		GROUP BY c.id, c.current_balance_cents
		HAVING c.current_balance_cents <> COALESCE(SUM(CASE WHEN t.type = 'charge' THEN t.amount_cents ELSE -t.amount_cents END), 0)
		ORDER BY c.id
	`)
	if err != nil {
		return nil, err
	}
	defer driftRows.Close()
	for driftRows.Next() {
		var drift domain.BalanceDrift
		if err := driftRows.Scan(&drift.CustomerID, &drift.CachedCents, &drift.RecomputedCents); err != nil {
			return nil, err
		}
		report.BalanceDrifts = append(report.BalanceDrifts, drift)
	}
	if err := driftRows.Err(); err != nil {
		return nil, err
	}

	return report, nil
}

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if shift.CashierID == "" || shift.StartingCashCents < 0 {
		return nil, store.ErrInvalidSale
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

	// A partial unique index on (cashier_id) WHERE status = 'active' backs the
	// one-active-shift rule.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (
			id, cashier_id, starting_cash_cents, cash_cents, card_cents,
			mobile_cents, check_cents, transfer_cents, ar_cents,
			transaction_count, status, opened_at, updated_at
		)
		VALUES ($1,$2,$3,0,0,0,0,0,0,0,$4,$5,now())
	`, shift.ID, shift.CashierID, shift.StartingCashCents, shift.Status, shift.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrShiftAlreadyOpen
		}
		return nil, err
	}

	created := shift
	return &created, nil
}

func (s *Store) GetShiftByID(ctx context.Context, id string) (*domain.Shift, error) {
	return s.findShift(ctx, `WHERE id = $1`, id)
}

func (s *Store) GetActiveShift(ctx context.Context, cashierID string) (*domain.Shift, error) {
	return s.findShift(ctx, `WHERE cashier_id = $1 AND status = 'active'`, cashierID)
}

func (s *Store) findShift(ctx context.Context, where string, arg string) (*domain.Shift, error) {
	var shift domain.Shift
	var closedAt sql.NullTime
	var endingCash, cashDifference sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, cashier_id, starting_cash_cents, cash_cents, card_cents,
			mobile_cents, check_cents, transfer_cents, ar_cents,
			transaction_count, status, opened_at, closed_at,
			ending_cash_cents, cash_difference_cents
		FROM shifts
		`+where+`
	`, arg).Scan(&shift.ID, &shift.CashierID, &shift.StartingCashCents,
		&shift.Totals.CashCents, &shift.Totals.CardCents, &shift.Totals.MobileCents,
		&shift.Totals.CheckCents, &shift.Totals.TransferCents, &shift.Totals.ARCents,
		&shift.TransactionCount, &shift.Status, &shift.OpenedAt, &closedAt,
		&endingCash, &cashDifference)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		shift.ClosedAt = &t
	}
	shift.EndingCashCents = endingCash.Int64
	shift.CashDifferenceCents = cashDifference.Int64
	return &shift, nil
}

func (s *Store) CloseShift(ctx context.Context, shiftID string, endingCashCents int64, closedAt time.Time) (*domain.Shift, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	var startingCash, cashCents int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT status, starting_cash_cents, cash_cents
		FROM shifts
		WHERE id = $1
		FOR UPDATE
	`, shiftID).Scan(&status, &startingCash, &cashCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.ShiftStatusActive {
		return nil, store.ErrShiftClosed
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	difference := endingCashCents - (startingCash + cashCents)
	_, err = pgTx.ExecContext(ctx, `
		UPDATE shifts
		SET status = $2, ending_cash_cents = $3, cash_difference_cents = $4,
			closed_at = $5, updated_at = now()
		WHERE id = $1
	`, shiftID, domain.ShiftStatusClosed, endingCashCents, difference, closedAt)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return s.GetShiftByID(ctx, shiftID)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidSale
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidSale
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// verifyCachedBalance compares the customer's cached balance against the tail
// of the ledger inside the caller's transaction. A mismatch is corruption and
// refuses the write rather than papering over it.
func verifyCachedBalance(ctx context.Context, pgTx *sql.Tx, customerID string, cached int64) error {
	var tail int64
	err := pgTx.QueryRowContext(ctx, `
		SELECT balance_after_cents
		FROM ar_transactions
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, customerID).Scan(&tail)
	if errors.Is(err, sql.ErrNoRows) {
		if cached != 0 {
			return store.ErrLedgerIntegrity
		}
		return nil
	}
	if err != nil {
		return err
	}
	if tail != cached {
		return store.ErrLedgerIntegrity
	}
	return nil
}

func scanARTransaction(rows *sql.Rows) (domain.ARTransaction, error) {
	var entry domain.ARTransaction
	var saleID, notes sql.NullString
	if err := rows.Scan(&entry.ID, &entry.CustomerID, &entry.Type, &entry.AmountCents,
		&entry.BalanceAfterCents, &saleID, &notes, &entry.CreatedAt); err != nil {
		return domain.ARTransaction{}, err
	}
	entry.SaleID = saleID.String
	entry.Notes = notes.String
	return entry, nil
}

func bucketTotals(legs []domain.PaymentLeg, changeCents int64) domain.ShiftTotals {
	var totals domain.ShiftTotals
	for _, leg := range legs {
		method, ok := domain.MethodByCode(leg.Method)
		if !ok {
			continue
		}
		switch method.Bucket {
		case domain.BucketCash:
			totals.CashCents += leg.AmountCents
		case domain.BucketCard:
			totals.CardCents += leg.AmountCents
		case domain.BucketMobile:
			totals.MobileCents += leg.AmountCents
		case domain.BucketCheck:
			totals.CheckCents += leg.AmountCents
		case domain.BucketTransfer:
			totals.TransferCents += leg.AmountCents
		case domain.BucketAR:
			totals.ARCents += leg.AmountCents
		}
	}
	// Change comes off the sale once, not once per cash leg.
	totals.CashCents -= changeCents
	return totals
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
