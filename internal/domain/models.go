package domain

import "time"

type CartLine struct {
	ProductID       string  `json:"product_id"`
	UnitPriceCents  int64   `json:"unit_price_cents"`
	Qty             int     `json:"qty"`
	DiscountPercent float64 `json:"discount_percent"`
}

type PaymentLeg struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}

type Sale struct {
	ID               string       `json:"id"`
	SaleNumber       string       `json:"sale_number"`
	CustomerID       string       `json:"customer_id,omitempty"`
	CashierID        string       `json:"cashier_id"`
	ShiftID          string       `json:"shift_id"`
	TaxMode          string       `json:"tax_mode"`
	Lines            []CartLine   `json:"lines"`
	Legs             []PaymentLeg `json:"legs"`
	SubtotalCents    int64        `json:"subtotal_cents"`
	TaxCents         int64        `json:"tax_cents"`
	WithholdingCents int64        `json:"withholding_cents"`
	DiscountCents    int64        `json:"discount_cents"`
	TotalCents       int64        `json:"total_cents"`
	NetDueCents      int64        `json:"net_due_cents"`
	ChangeCents      int64        `json:"change_cents"`
	Status           string       `json:"status"`
	VoidReason       string       `json:"void_reason,omitempty"`
	VoidedAt         *time.Time   `json:"voided_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

type CustomerAccount struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Phone               string    `json:"phone,omitempty"`
	CreditLimitCents    int64     `json:"credit_limit_cents"`
	CurrentBalanceCents int64     `json:"current_balance_cents"`
	CreatedAt           time.Time `json:"created_at"`
}

type ARTransaction struct {
	ID                string    `json:"id"`
	CustomerID        string    `json:"customer_id"`
	Type              string    `json:"type"`
	AmountCents       int64     `json:"amount_cents"`
	BalanceAfterCents int64     `json:"balance_after_cents"`
	SaleID            string    `json:"sale_id,omitempty"`
	Notes             string    `json:"notes,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// ShiftTotals holds the per-drawer-bucket running totals for an active shift.
// Buckets only ever grow while the shift is open.
type ShiftTotals struct {
	CashCents     int64 `json:"cash_cents"`
	CardCents     int64 `json:"card_cents"`
	MobileCents   int64 `json:"mobile_cents"`
	CheckCents    int64 `json:"check_cents"`
	TransferCents int64 `json:"transfer_cents"`
	ARCents       int64 `json:"ar_cents"`
}

type Shift struct {
	ID                  string      `json:"id"`
	CashierID           string      `json:"cashier_id"`
	StartingCashCents   int64       `json:"starting_cash_cents"`
	Totals              ShiftTotals `json:"totals"`
	TransactionCount    int64       `json:"transaction_count"`
	Status              string      `json:"status"`
	OpenedAt            time.Time   `json:"opened_at"`
	ClosedAt            *time.Time  `json:"closed_at,omitempty"`
	EndingCashCents     int64       `json:"ending_cash_cents,omitempty"`
	CashDifferenceCents int64       `json:"cash_difference_cents,omitempty"`
}

type SettleRequest struct {
	SaleNumber string       `json:"sale_number,omitempty"`
	CustomerID string       `json:"customer_id,omitempty"`
	TaxMode    string       `json:"tax_mode"`
	Lines      []CartLine   `json:"lines"`
	Legs       []PaymentLeg `json:"legs"`
	// AuthorizeOverLimit lets a supervisor push an AR charge past the
	// customer's credit limit. Requires a valid supervisor PIN.
	AuthorizeOverLimit bool   `json:"authorize_over_limit,omitempty"`
	SupervisorPIN      string `json:"supervisor_pin,omitempty"`
}

type SettleResponse struct {
	Sale        Sale  `json:"sale"`
	ChangeCents int64 `json:"change_cents"`
}

type SaleLookupResponse struct {
	Found bool  `json:"found"`
	Sale  *Sale `json:"sale,omitempty"`
}

type VoidSaleRequest struct {
	Reason        string `json:"reason"`
	SupervisorPIN string `json:"supervisor_pin"`
}

type VoidSaleResponse struct {
	SaleID   string `json:"sale_id"`
	Status   string `json:"status"`
	VoidedAt string `json:"voided_at"`
}

type RefundRequest struct {
	Reason        string `json:"reason"`
	AmountCents   int64  `json:"amount_cents"`
	SupervisorPIN string `json:"supervisor_pin"`
}

type Refund struct {
	ID          string    `json:"id"`
	SaleID      string    `json:"sale_id"`
	Reason      string    `json:"reason"`
	AmountCents int64     `json:"amount_cents"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

type RefundResponse struct {
	Refund Refund `json:"refund"`
}

type CustomerCreateRequest struct {
	Name             string `json:"name"`
	Phone            string `json:"phone"`
	CreditLimitCents int64  `json:"credit_limit_cents"`
}

type CustomerListResponse struct {
	Customers []CustomerAccount `json:"customers"`
}

type RecordPaymentRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Notes       string `json:"notes,omitempty"`
}

type RecordPaymentResponse struct {
	Transaction     ARTransaction `json:"transaction"`
	ChangeOwedCents int64         `json:"change_owed_cents,omitempty"`
}

type CustomerLedgerResponse struct {
	Customer     CustomerAccount `json:"customer"`
	Transactions []ARTransaction `json:"transactions"`
}

type RecomputeBalanceResponse struct {
	CustomerID      string `json:"customer_id"`
	PreviousCents   int64  `json:"previous_cents"`
	RecomputedCents int64  `json:"recomputed_cents"`
	Repaired        bool   `json:"repaired"`
}

type ShiftOpenRequest struct {
	StartingCashCents int64 `json:"starting_cash_cents"`
}

type ShiftCloseRequest struct {
	EndingCashCents int64  `json:"ending_cash_cents"`
	Notes           string `json:"notes,omitempty"`
}

type ShiftResponse struct {
	Shift Shift `json:"shift"`
}

type ShiftSummary struct {
	Shift               Shift  `json:"shift"`
	ExpectedCashCents   int64  `json:"expected_cash_cents"`
	CashDifferenceCents int64  `json:"cash_difference_cents"`
	Classification      string `json:"classification"`
}

type BalanceDrift struct {
	CustomerID      string `json:"customer_id"`
	CachedCents     int64  `json:"cached_cents"`
	RecomputedCents int64  `json:"recomputed_cents"`
}

type LedgerIntegrityReport struct {
	OrphanChargeIDs       []string       `json:"orphan_charge_ids"`
	UnchargedSaleIDs      []string       `json:"uncharged_sale_ids"`
	UnreversedVoidSaleIDs []string       `json:"unreversed_void_sale_ids"`
	BalanceDrifts         []BalanceDrift `json:"balance_drifts"`
	CheckedAt             time.Time      `json:"checked_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	TaxModeVAT    = "VAT"
	TaxModeNonVAT = "NON_VAT"
	TaxModeEWT    = "EWT"
)

const (
	SaleStatusCompleted = "completed"
	SaleStatusVoided    = "voided"
	SaleStatusRefunded  = "refunded"
)

const (
	ARTypeCharge  = "charge"
	ARTypePayment = "payment"
)

const (
	ShiftStatusActive = "active"
	ShiftStatusClosed = "closed"
)

const (
	ShiftBalanced           = "balanced"
	ShiftWarning            = "warning"
	ShiftRequiresSupervisor = "requires_supervisor"
)
