package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wells/bill-assistant-backend/internal/acquirer"
	"github.com/wells/bill-assistant-backend/internal/domain"
	"github.com/wells/bill-assistant-backend/internal/guard"
	"github.com/wells/bill-assistant-backend/internal/ledger"
	"github.com/wells/bill-assistant-backend/internal/outbox"
	"github.com/wells/bill-assistant-backend/internal/repo"
	"github.com/wells/bill-assistant-backend/internal/services"
)

// newHandlerRig wires real services over an in-memory database onto a bare
// gin engine, mirroring production routing without the middleware stack.
func newHandlerRig(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	led := ledger.New(db)
	mock := acquirer.NewMock()
	paySvc := &services.PaymentService{DB: db, Acquirer: mock, Ledger: led}
	schedSvc := &services.ScheduledPaymentService{DB: db, Payments: paySvc}
	h := New(paySvc, schedSvc, &services.BillService{DB: db}, &services.CardService{DB: db}, led, guard.New(guard.NewMemoryStore()), outbox.New(db, mock, led))

	r := gin.New()
	r.POST("/payments", h.CreatePayment)
	r.GET("/payments", h.ListPayments)
	r.GET("/payments/:id", h.GetPayment)
	r.GET("/payments/:id/ledger", h.GetPaymentLedger)
	r.POST("/payments/:id/approval", h.RequestApproval)
	r.POST("/payments/:id/approve", h.ApprovePayment)
	r.POST("/payments/:id/reject", h.RejectPayment)
	r.POST("/payments/:id/capture", h.CapturePayment)
	r.POST("/payments/:id/execute", h.ExecutePayment)
	r.DELETE("/payments/:id", h.CancelPayment)
	r.POST("/assistant/messages", h.PostAssistantMessage)
	r.POST("/bills", h.CreateBill)
	r.POST("/cards", h.RegisterCard)
	r.POST("/scheduled-payments", h.SchedulePayment)
	r.GET("/scheduled-payments/:id", h.GetScheduledPayment)
	r.DELETE("/scheduled-payments/:id", h.CancelScheduledPayment)
	r.POST("/internal/outbox/dispatch", h.DispatchOutbox)
	return r, db
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return m
}

func createPaymentBody() map[string]any {
	return map[string]any{
		"bill_id":     "bill-1",
		"merchant_id": "merch-1",
		"amount":      "120.50",
		"currency":    "EUR",
	}
}

func TestCreatePayment_CreatedAndReplayed(t *testing.T) {
	r, _ := newHandlerRig(t)

	w := doJSON(t, r, http.MethodPost, "/payments", createPaymentBody(), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d body=%s", w.Code, w.Body.String())
	}
	first := decode(t, w)
	if first["status"] != "CREATED" {
		t.Fatalf("status = %v", first["status"])
	}

	// Same body from the same user replays the payment.
	w = doJSON(t, r, http.MethodPost, "/payments", createPaymentBody(), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("replay: %d", w.Code)
	}
	second := decode(t, w)
	if second["payment_id"] != first["payment_id"] {
		t.Fatalf("replay created a new payment: %v vs %v", second["payment_id"], first["payment_id"])
	}
}

func TestCreatePayment_StoresIdempotencyRecord(t *testing.T) {
	r, db := newHandlerRig(t)

	headers := map[string]string{"Idempotency-Key": "replay-key-1"}
	w := doJSON(t, r, http.MethodPost, "/payments", createPaymentBody(), headers)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	id := decode(t, w)["payment_id"].(string)

	// The replay detector looks the key up by (user, key); the record written
	// after a successful create must be there and point at the payment.
	rec, err := repo.GetIdempotency(context.Background(), db, "demo-user", "replay-key-1", time.Now())
	if err != nil {
		t.Fatalf("lookup key: %v", err)
	}
	if rec.PaymentID != id || rec.Status != http.StatusCreated {
		t.Fatalf("record = %+v; want payment %s status 201", rec, id)
	}

	// Without the header no record is written.
	if w := doJSON(t, r, http.MethodPost, "/payments", createPaymentBody(), nil); w.Code != http.StatusCreated {
		t.Fatalf("create without key: %d", w.Code)
	}
	var n int64
	if err := db.Model(&domain.Idempotency{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("idempotency records = %d, want 1", n)
	}
}

func TestCreatePayment_KeyConflict(t *testing.T) {
	r, _ := newHandlerRig(t)
	headers := map[string]string{"Idempotency-Key": "fixed-key-1"}

	if w := doJSON(t, r, http.MethodPost, "/payments", createPaymentBody(), headers); w.Code != http.StatusCreated {
		t.Fatalf("create: %d", w.Code)
	}

	body := createPaymentBody()
	body["amount"] = "999.00"
	w := doJSON(t, r, http.MethodPost, "/payments", body, headers)
	if w.Code != http.StatusConflict {
		t.Fatalf("conflict: %d body=%s", w.Code, w.Body.String())
	}
	if decode(t, w)["code"] != ErrCodeDuplicatePayment {
		t.Fatalf("unexpected code: %s", w.Body.String())
	}
}

func TestCreatePayment_BadRequests(t *testing.T) {
	r, _ := newHandlerRig(t)

	// Missing required fields.
	w := doJSON(t, r, http.MethodPost, "/payments", map[string]any{"bill_id": "bill-1"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing fields: %d", w.Code)
	}

	// Unknown currency.
	body := createPaymentBody()
	body["currency"] = "WAT"
	w = doJSON(t, r, http.MethodPost, "/payments", body, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad currency: %d", w.Code)
	}
}

func TestGetPayment_NotFound(t *testing.T) {
	r, _ := newHandlerRig(t)

	w := doJSON(t, r, http.MethodGet, "/payments/pay_missing", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if decode(t, w)["code"] != ErrCodeNotFound {
		t.Fatalf("unexpected code: %s", w.Body.String())
	}
}

func TestApprovalEndpoints(t *testing.T) {
	r, _ := newHandlerRig(t)

	w := doJSON(t, r, http.MethodPost, "/payments", createPaymentBody(), nil)
	id := decode(t, w)["payment_id"].(string)

	w = doJSON(t, r, http.MethodPost, "/payments/"+id+"/approval", nil, nil)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "APPROVAL_PENDING" {
		t.Fatalf("approval: %d %s", w.Code, w.Body.String())
	}
	w = doJSON(t, r, http.MethodPost, "/payments/"+id+"/approve", nil, nil)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "APPROVED" {
		t.Fatalf("approve: %d %s", w.Code, w.Body.String())
	}

	// APPROVED cannot be rejected.
	w = doJSON(t, r, http.MethodPost, "/payments/"+id+"/reject", map[string]any{"reason": "nope"}, nil)
	if w.Code != http.StatusConflict || decode(t, w)["code"] != ErrCodeInvalidTransition {
		t.Fatalf("reject after approve: %d %s", w.Code, w.Body.String())
	}
}

func TestExecutePayment_IllegalFromCreated(t *testing.T) {
	r, _ := newHandlerRig(t)

	// Register a card so the token resolves and the transition check is what
	// rejects the call.
	w := doJSON(t, r, http.MethodPost, "/cards", map[string]any{
		"pan":    "4111111111111111",
		"expiry": "2031-12-01T00:00:00Z",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("register card: %d %s", w.Code, w.Body.String())
	}
	token := decode(t, w)["token"].(string)

	w = doJSON(t, r, http.MethodPost, "/payments", createPaymentBody(), nil)
	id := decode(t, w)["payment_id"].(string)

	w = doJSON(t, r, http.MethodPost, "/payments/"+id+"/execute", map[string]any{"card_token": token}, nil)
	if w.Code != http.StatusConflict || decode(t, w)["code"] != ErrCodeInvalidTransition {
		t.Fatalf("execute from CREATED: %d %s", w.Code, w.Body.String())
	}
}

func TestCapturePayment_NotAuthorized(t *testing.T) {
	r, _ := newHandlerRig(t)

	w := doJSON(t, r, http.MethodPost, "/payments", createPaymentBody(), nil)
	id := decode(t, w)["payment_id"].(string)

	w = doJSON(t, r, http.MethodPost, "/payments/"+id+"/capture", map[string]any{"amount": "50"}, nil)
	if w.Code != http.StatusConflict || decode(t, w)["code"] != ErrCodePaymentNotAuthorized {
		t.Fatalf("capture: %d %s", w.Code, w.Body.String())
	}
}

func TestCancelPayment(t *testing.T) {
	r, _ := newHandlerRig(t)

	w := doJSON(t, r, http.MethodPost, "/payments", createPaymentBody(), nil)
	id := decode(t, w)["payment_id"].(string)

	w = doJSON(t, r, http.MethodDelete, "/payments/"+id, nil, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("cancel: %d", w.Code)
	}
	// Terminal state: a second cancel conflicts.
	w = doJSON(t, r, http.MethodDelete, "/payments/"+id, nil, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("double cancel: %d", w.Code)
	}
}

func TestDispatchOutbox_DrainsQueuedAuthorize(t *testing.T) {
	r, _ := newHandlerRig(t)

	w := doJSON(t, r, http.MethodPost, "/cards", map[string]any{
		"pan":    "4111111111111111",
		"expiry": "2031-12-01T00:00:00Z",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("register card: %d %s", w.Code, w.Body.String())
	}
	token := decode(t, w)["token"].(string)

	// A card-backed intent queues an AUTHORIZE_PAYMENT event.
	body := createPaymentBody()
	body["card_token"] = token
	w = doJSON(t, r, http.MethodPost, "/payments", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	id := decode(t, w)["payment_id"].(string)

	w = doJSON(t, r, http.MethodPost, "/internal/outbox/dispatch", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dispatch: %d %s", w.Code, w.Body.String())
	}
	if decode(t, w)["dispatched"].(float64) != 1 {
		t.Fatalf("dispatched = %s", w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/payments/"+id, nil, nil)
	if decode(t, w)["status"] != "AUTHORIZED" {
		t.Fatalf("payment after dispatch: %s", w.Body.String())
	}

	// Nothing left on the second pass.
	w = doJSON(t, r, http.MethodPost, "/internal/outbox/dispatch", nil, nil)
	if decode(t, w)["dispatched"].(float64) != 0 {
		t.Fatalf("second pass: %s", w.Body.String())
	}
}

func TestListPayments_Pagination(t *testing.T) {
	r, _ := newHandlerRig(t)

	for _, bill := range []string{"bill-1", "bill-2", "bill-3"} {
		body := createPaymentBody()
		body["bill_id"] = bill
		if w := doJSON(t, r, http.MethodPost, "/payments", body, nil); w.Code != http.StatusCreated {
			t.Fatalf("create %s: %d", bill, w.Code)
		}
	}

	w := doJSON(t, r, http.MethodGet, "/payments?page=1&page_size=2", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	body := decode(t, w)
	payments := body["payments"].([]any)
	if len(payments) != 2 {
		t.Fatalf("page len = %d, want 2", len(payments))
	}
	pg := body["pagination"].(map[string]any)
	if pg["total"].(float64) != 3 || pg["total_pages"].(float64) != 2 || pg["has_next"] != true {
		t.Fatalf("pagination = %v", pg)
	}

	// A different user sees nothing.
	w = doJSON(t, r, http.MethodGet, "/payments", nil, map[string]string{"X-User-ID": "someone-else"})
	if len(decode(t, w)["payments"].([]any)) != 0 {
		t.Fatalf("user isolation broken: %s", w.Body.String())
	}
}
