package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ferreteria/pos/internal/domain"
	"ferreteria/pos/internal/service"
	"ferreteria/pos/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, nil, false)
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", repo)

	return New(svc, auth, "*")
}

func loginAs(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	// The loginLimiter allows 5 attempts per minute.
	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestHandleSettle_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/settlements", bytes.NewReader(nil))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleSettle_FullFlow(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/shifts/open", token, domain.ShiftOpenRequest{
		StartingCashCents: 500000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open shift: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/settlements", token, domain.SettleRequest{
		TaxMode: domain.TaxModeVAT,
		Lines: []domain.CartLine{
			{ProductID: "prod-hammer", UnitPriceCents: 56000, Qty: 2},
		},
		Legs: []domain.PaymentLeg{
			{Method: domain.MethodCash, AmountCents: 120000},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("settle: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.SettleResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode settle response: %v", err)
	}
	if resp.Sale.SaleNumber == "" {
		t.Fatalf("expected generated sale number, got %+v", resp.Sale)
	}
	if resp.ChangeCents != 8000 {
		t.Fatalf("expected change 8000, got %d", resp.ChangeCents)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/settlements/number/"+resp.Sale.SaleNumber, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var lookup domain.SaleLookupResponse
	if err := json.NewDecoder(rec.Body).Decode(&lookup); err != nil {
		t.Fatalf("decode lookup response: %v", err)
	}
	if !lookup.Found || lookup.Sale == nil || lookup.Sale.ID != resp.Sale.ID {
		t.Fatalf("expected lookup to find the sale, got %+v", lookup)
	}
}

func TestHandleSettle_ValidationReasonSurfaces(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/shifts/open", token, domain.ShiftOpenRequest{
		StartingCashCents: 0,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open shift: expected 201, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/settlements", token, domain.SettleRequest{
		TaxMode: domain.TaxModeVAT,
		Lines: []domain.CartLine{
			{ProductID: "prod-drill", UnitPriceCents: 112000, Qty: 1},
		},
		Legs: []domain.PaymentLeg{
			{Method: domain.MethodCreditCard, AmountCents: 112000},
		},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["offending_leg"] != domain.MethodCreditCard {
		t.Fatalf("expected offending leg %s, got %v", domain.MethodCreditCard, body["offending_leg"])
	}
}

func TestHandleVoid_SupervisorPIN(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	cashierToken := loginAs(t, handler, "cashier", "cashier123")
	adminToken := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/shifts/open", cashierToken, domain.ShiftOpenRequest{})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open shift: expected 201, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/settlements", cashierToken, domain.SettleRequest{
		TaxMode: domain.TaxModeNonVAT,
		Lines:   []domain.CartLine{{ProductID: "prod-nails", UnitPriceCents: 5000, Qty: 1}},
		Legs:    []domain.PaymentLeg{{Method: domain.MethodCash, AmountCents: 5000}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("settle: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var settled domain.SettleResponse
	if err := json.NewDecoder(rec.Body).Decode(&settled); err != nil {
		t.Fatalf("decode settle response: %v", err)
	}

	// Cashier role cannot void at all.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales/"+settled.Sale.ID+"/void", cashierToken, domain.VoidSaleRequest{
		Reason:        "mis-ring",
		SupervisorPIN: "123456",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier void, got %d", rec.Code)
	}

	// Admin with a wrong PIN is refused.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales/"+settled.Sale.ID+"/void", adminToken, domain.VoidSaleRequest{
		Reason:        "mis-ring",
		SupervisorPIN: "000000",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong pin, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales/"+settled.Sale.ID+"/void", adminToken, domain.VoidSaleRequest{
		Reason:        "mis-ring",
		SupervisorPIN: "123456",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid void, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// Voiding again conflicts.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales/"+settled.Sale.ID+"/void", adminToken, domain.VoidSaleRequest{
		Reason:        "again",
		SupervisorPIN: "123456",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for double void, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleCustomers_CreateRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	cashierToken := loginAs(t, handler, "cashier", "cashier123")
	adminToken := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/customers", cashierToken, domain.CustomerCreateRequest{
		Name:             "Builders Depot",
		CreditLimitCents: 1000000,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier create, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/customers", adminToken, domain.CustomerCreateRequest{
		Name:             "Builders Depot",
		CreditLimitCents: 1000000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/customers", cashierToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for list, got %d", rec.Code)
	}
	var list domain.CustomerListResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Customers) == 0 {
		t.Fatalf("expected seeded customers in list")
	}
}

func TestHandleCustomerLedgerAndPayments(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/shifts/open", token, domain.ShiftOpenRequest{})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open shift: expected 201, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/settlements", token, domain.SettleRequest{
		CustomerID: "cust-santos",
		TaxMode:    domain.TaxModeNonVAT,
		Lines:      []domain.CartLine{{ProductID: "prod-cement", UnitPriceCents: 50000, Qty: 1}},
		Legs:       []domain.PaymentLeg{{Method: domain.MethodAR, AmountCents: 50000}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("settle: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/customers/cust-santos/ledger", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ledger: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var ledger domain.CustomerLedgerResponse
	if err := json.NewDecoder(rec.Body).Decode(&ledger); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	if len(ledger.Transactions) != 1 || ledger.Transactions[0].BalanceAfterCents != 50000 {
		t.Fatalf("unexpected ledger: %+v", ledger.Transactions)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/customers/cust-santos/payments", token, domain.RecordPaymentRequest{
		AmountCents: 50000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("payment: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var payment domain.RecordPaymentResponse
	if err := json.NewDecoder(rec.Body).Decode(&payment); err != nil {
		t.Fatalf("decode payment: %v", err)
	}
	if payment.Transaction.BalanceAfterCents != 0 {
		t.Fatalf("expected balance 0 after payment, got %d", payment.Transaction.BalanceAfterCents)
	}
}

func TestHandleRecomputeBalance_RequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	cashierToken := loginAs(t, handler, "cashier", "cashier123")
	adminToken := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/customers/cust-santos/recompute-balance", cashierToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier recompute, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/customers/cust-santos/recompute-balance", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.RecomputeBalanceResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode recompute: %v", err)
	}
	if resp.Repaired {
		t.Fatalf("expected no repair on a clean ledger, got %+v", resp)
	}
}

func TestHandleShiftClose(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/shifts/open", token, domain.ShiftOpenRequest{
		StartingCashCents: 10000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open shift: expected 201, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/shifts/active", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("active shift: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/shifts/close", token, domain.ShiftCloseRequest{
		EndingCashCents: 10000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("close shift: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var summary domain.ShiftSummary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Classification != domain.ShiftBalanced {
		t.Fatalf("expected balanced drawer, got %+v", summary)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/shifts/active", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after close, got %d", rec.Code)
	}
}

func TestHandleLedgerIntegrity_RequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	cashierToken := loginAs(t, handler, "cashier", "cashier123")
	adminToken := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/integrity/ledger", cashierToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/integrity/ledger", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var report domain.LedgerIntegrityReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(report.OrphanChargeIDs) != 0 || len(report.BalanceDrifts) != 0 {
		t.Fatalf("expected clean report, got %+v", report)
	}
}
