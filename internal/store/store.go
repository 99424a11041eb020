package store

import (
	"context"
	"errors"
	"time"

	"ferreteria/pos/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidSale         = errors.New("invalid sale")
	ErrDuplicateSaleNumber = errors.New("duplicate sale number")
	ErrConflict            = errors.New("conflict")
	ErrNothingOutstanding  = errors.New("no outstanding balance")
	ErrLedgerIntegrity     = errors.New("ledger integrity violation")
	ErrCreditLimit         = errors.New("credit limit exceeded")
	ErrShiftClosed         = errors.New("shift closed")
	ErrShiftAlreadyOpen    = errors.New("shift already open")
)

// Repository is the persistence boundary. CreateSale is the atomic core: the
// sale row, its AR charge (if any), and the shift totals bump commit or fail as
// one unit.
type Repository interface {
	CreateSale(ctx context.Context, sale domain.Sale, allowOverLimit bool) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	GetSaleByNumber(ctx context.Context, saleNumber string) (*domain.Sale, error)
	VoidSale(ctx context.Context, id string, reason string, at time.Time) (*domain.Sale, error)
	CreateRefund(ctx context.Context, refund domain.Refund) (*domain.Refund, error)
	GetRefundedCentsBySale(ctx context.Context, saleID string) (int64, error)

	CreateCustomer(ctx context.Context, customer domain.CustomerAccount) (*domain.CustomerAccount, error)
	GetCustomerByID(ctx context.Context, id string) (*domain.CustomerAccount, error)
	ListCustomers(ctx context.Context, limit int) ([]domain.CustomerAccount, error)
	// AppendARTransaction posts one ledger entry. When clampAtZero is set a
	// payment is capped at the balance read under the store's own lock, so a
	// stale balance seen by the caller cannot drive the account negative.
	AppendARTransaction(ctx context.Context, entry domain.ARTransaction, clampAtZero bool) (*domain.ARTransaction, error)
	ListARTransactions(ctx context.Context, customerID string) ([]domain.ARTransaction, error)
	RecomputeBalance(ctx context.Context, customerID string) (*domain.RecomputeBalanceResponse, error)
	CheckLedgerIntegrity(ctx context.Context) (*domain.LedgerIntegrityReport, error)

	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetShiftByID(ctx context.Context, id string) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, cashierID string) (*domain.Shift, error)
	CloseShift(ctx context.Context, shiftID string, endingCashCents int64, closedAt time.Time) (*domain.Shift, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
