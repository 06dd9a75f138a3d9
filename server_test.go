package main

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/bills_backend/config"
	"github.com/mmdatafocus/bills_backend/models"
	"github.com/mmdatafocus/bills_backend/utils"
	"gorm.io/driver/mysql"
)

var billColumns = []string{
	"id", "owner_id", "estimate_no", "customer_name", "customer_phone", "bill_date",
	"items", "sub_total", "discount", "grand_total", "received", "balance",
	"amount_words", "created_at", "updated_at",
}

var testTime = time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Port:        "0",
		Environment: "test",
		Admin:       config.AdminConfig{UserId: "admin", Email: "owner@example.com", Password: "s3cret"},
		Session:     config.SessionConfig{CookieName: "bills_session", IdleTimeout: time.Hour},
		PhoneRegion: "MM",
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	db, err := config.OpenDatabase(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), config.DatabaseConfig{MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("open gorm: %v", err)
	}
	return NewRouter(NewApp(cfg, db, nil)), mock
}

func do(t *testing.T, h http.Handler, method string, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, h http.Handler) *http.Cookie {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/login", gin.H{"email": "owner@example.com", "password": "s3cret"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", w.Code, w.Body.String())
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == "bills_session" && c.Value != "" {
			return c
		}
	}
	t.Fatal("login set no session cookie")
	return nil
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return out
}

func activeRow(id int) []driver.Value {
	return []driver.Value{
		id, "admin", "EST-1", "Acme", "09420000001", testTime,
		`[{"name":"Widget","qty":2}]`, "20.00", "0.00", "20.00", "5.00", "15.00",
		"twenty", testTime, testTime,
	}
}

func TestBillLifecycleOverHttp(t *testing.T) {
	h, mock := newTestServer(t, testConfig())
	session := login(t, h)

	// save
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `bills`").WillReturnRows(sqlmock.NewRows(billColumns))
	mock.ExpectExec("INSERT INTO `bills`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `bill_histories`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	w := do(t, h, http.MethodPost, "/api/save-bill", gin.H{
		"estimateNo":   "EST-1",
		"customerName": "Acme",
		"billDate":     "2024-03-06",
		"items":        []gin.H{{"name": "Widget", "qty": 2}},
		"subTotal":     "20",
		"grandTotal":   20,
		"received":     5,
		"balance":      15,
	}, session)
	if w.Code != http.StatusOK {
		t.Fatalf("save-bill status = %d, body %s", w.Code, w.Body.String())
	}
	saved := decode[map[string]any](t, w)
	if saved["action"] != "inserted" || saved["id"] != float64(1) {
		t.Fatalf("save-bill body = %v", saved)
	}

	// list
	mock.ExpectQuery("SELECT \\* FROM `bills`").WillReturnRows(sqlmock.NewRows(billColumns).AddRow(activeRow(1)...))
	w = do(t, h, http.MethodGet, "/api/get-bills", nil, session)
	bills := decode[[]models.WireBill](t, w)
	if len(bills) != 1 || bills[0].EstimateNo != "EST-1" || bills[0].Balance != 15 {
		t.Fatalf("get-bills = %+v", bills)
	}
	if want := utils.FormatPhoneE164("09420000001", "MM"); bills[0].CustomerPhoneE164 != want {
		t.Fatalf("customerPhoneE164 = %q", bills[0].CustomerPhoneE164)
	}

	// soft delete
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `bills`").WillReturnRows(sqlmock.NewRows(billColumns).AddRow(activeRow(1)...))
	mock.ExpectExec("INSERT INTO `deleted_bills`").WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectExec("DELETE FROM `bills`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `bill_histories`").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()
	w = do(t, h, http.MethodDelete, "/api/delete-bill", gin.H{"estimateNo": "EST-1"}, session)
	if w.Code != http.StatusOK {
		t.Fatalf("delete-bill status = %d, body %s", w.Code, w.Body.String())
	}

	mock.ExpectQuery("SELECT \\* FROM `bills`").WillReturnRows(sqlmock.NewRows(billColumns))
	w = do(t, h, http.MethodGet, "/api/get-bills", nil, session)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("get-bills after delete = %s, want []", w.Body.String())
	}

	deletedRow := append(activeRow(5), 1, testTime)
	mock.ExpectQuery("SELECT \\* FROM `deleted_bills`").
		WillReturnRows(sqlmock.NewRows(append(append([]string{}, billColumns...), "original_bill_id", "deleted_at")).AddRow(deletedRow...))
	w = do(t, h, http.MethodGet, "/api/get-deleted-bills", nil, session)
	deleted := decode[[]models.WireDeletedBill](t, w)
	if len(deleted) != 1 || deleted[0].ID != 5 || deleted[0].OriginalBillId != 1 {
		t.Fatalf("get-deleted-bills = %+v", deleted)
	}

	// restore, numeric string id
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `deleted_bills`").
		WillReturnRows(sqlmock.NewRows(append(append([]string{}, billColumns...), "original_bill_id", "deleted_at")).AddRow(deletedRow...))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `bills`").WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(0))
	mock.ExpectExec("INSERT INTO `bills`").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("DELETE FROM `deleted_bills`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `bill_histories`").WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()
	w = do(t, h, http.MethodPost, "/api/restore-bill", gin.H{"id": "5"}, session)
	if w.Code != http.StatusOK {
		t.Fatalf("restore-bill status = %d, body %s", w.Code, w.Body.String())
	}
	if restored := decode[map[string]any](t, w); restored["id"] != float64(2) {
		t.Fatalf("restore-bill body = %v", restored)
	}

	mock.ExpectQuery("SELECT \\* FROM `bills`").WillReturnRows(sqlmock.NewRows(billColumns).AddRow(activeRow(2)...))
	w = do(t, h, http.MethodGet, "/api/get-bills", nil, session)
	if bills := decode[[]models.WireBill](t, w); len(bills) != 1 || bills[0].ID != 2 {
		t.Fatalf("get-bills after restore = %+v", bills)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestProtectedRoutesNeedSession(t *testing.T) {
	h, mock := newTestServer(t, testConfig())

	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/me"},
		{http.MethodPost, "/api/save-bill"},
		{http.MethodGet, "/api/get-bills"},
		{http.MethodPatch, "/api/update-bill"},
		{http.MethodDelete, "/api/delete-bill"},
		{http.MethodGet, "/api/get-deleted-bills"},
		{http.MethodPost, "/api/restore-bill"},
		{http.MethodDelete, "/api/permanent-delete-bill"},
	}
	for _, rt := range routes {
		w := do(t, h, rt.method, rt.path, gin.H{})
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: status = %d, want 401", rt.method, rt.path, w.Code)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("store was touched: %v", err)
	}
}

func TestLoginAndLogout(t *testing.T) {
	h, _ := newTestServer(t, testConfig())

	w := do(t, h, http.MethodPost, "/api/login", gin.H{"email": "owner@example.com", "password": "nope"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: status = %d, want 401", w.Code)
	}
	w = do(t, h, http.MethodPost, "/api/login", gin.H{"email": "owner@example.com"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing password: status = %d, want 400", w.Code)
	}

	session := login(t, h)
	w = do(t, h, http.MethodGet, "/api/me", nil, session)
	if me := decode[map[string]any](t, w); me["userId"] != "admin" {
		t.Fatalf("me = %v", me)
	}

	w = do(t, h, http.MethodPost, "/api/logout", nil, session)
	if w.Code != http.StatusOK {
		t.Fatalf("logout status = %d", w.Code)
	}
	if w = do(t, h, http.MethodGet, "/api/me", nil, session); w.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout: status = %d, want 401", w.Code)
	}

	// logging out without a session still succeeds
	if w = do(t, h, http.MethodPost, "/api/logout", nil); w.Code != http.StatusOK {
		t.Fatalf("anonymous logout: status = %d, want 200", w.Code)
	}
}

func TestRequestValidation(t *testing.T) {
	h, mock := newTestServer(t, testConfig())
	session := login(t, h)

	w := do(t, h, http.MethodPost, "/api/save-bill", gin.H{"estimateNo": "EST-1"}, session)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "customerName") {
		t.Fatalf("save without customerName = %d %s", w.Code, w.Body.String())
	}
	for _, id := range []any{nil, 0, -1, "abc", 1.5} {
		w = do(t, h, http.MethodDelete, "/api/permanent-delete-bill", gin.H{"id": id}, session)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("purge id %v: status = %d, want 400", id, w.Code)
		}
	}
	w = do(t, h, http.MethodPatch, "/api/update-bill", gin.H{"estimateNo": "EST-1"}, session)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("update without updates: status = %d, want 400", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("store was touched: %v", err)
	}
}

func TestPurgeUnknownIdIsNotFound(t *testing.T) {
	h, mock := newTestServer(t, testConfig())
	session := login(t, h)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `deleted_bills`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	w := do(t, h, http.MethodDelete, "/api/permanent-delete-bill", gin.H{"id": 42}, session)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUtilityRoutes(t *testing.T) {
	h, _ := newTestServer(t, testConfig())

	if w := do(t, h, http.MethodGet, "/healthz", nil); w.Code != http.StatusNoContent {
		t.Fatalf("healthz status = %d, want 204", w.Code)
	}
	w := do(t, h, http.MethodGet, "/nope", nil)
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "route not found") {
		t.Fatalf("unknown route = %d %s", w.Code, w.Body.String())
	}
	w = do(t, h, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "bills_backend_http_requests_total") {
		t.Fatalf("metrics = %d", w.Code)
	}
	if w.Header().Get("x-correlation-id") == "" {
		t.Fatal("missing correlation id header")
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err        error
		production bool
		status     int
		message    string
	}{
		{models.ErrUnauthenticated, true, http.StatusUnauthorized, "authentication required"},
		{models.ErrInvalidCredentials, true, http.StatusUnauthorized, "invalid email or password"},
		{models.NewValidationError("estimateNo", "is required"), true, http.StatusBadRequest, "estimateNo is required"},
		{&models.NotFoundError{Resource: "bill", Key: "EST-1"}, true, http.StatusNotFound, "bill EST-1 not found"},
		{&models.ConflictError{Resource: "bill", Key: "EST-1"}, true, http.StatusConflict, "bill EST-1 already exists"},
		{errors.New("dial tcp: refused"), true, http.StatusInternalServerError, "internal server error"},
		{errors.New("dial tcp: refused"), false, http.StatusInternalServerError, "dial tcp: refused"},
	}
	for _, tc := range cases {
		status, message := classifyError(tc.err, tc.production)
		if status != tc.status || message != tc.message {
			t.Fatalf("classifyError(%v, %v) = %d %q, want %d %q", tc.err, tc.production, status, message, tc.status, tc.message)
		}
	}
}

func TestCorsConfig(t *testing.T) {
	cfg := testConfig()
	if c := corsConfig(cfg); !c.AllowOriginFunc("http://anything.test") || !c.AllowCredentials {
		t.Fatal("development should allow any origin with credentials")
	}

	cfg.Environment = "production"
	if c := corsConfig(cfg); c.AllowOriginFunc == nil || c.AllowOriginFunc("http://anything.test") {
		t.Fatal("production without origins should allow none")
	}

	cfg.CorsAllowedOrigins = []string{"https://bills.example.com"}
	if c := corsConfig(cfg); len(c.AllowOrigins) != 1 || c.AllowOriginFunc != nil {
		t.Fatalf("production origins = %v", c.AllowOrigins)
	}
}
