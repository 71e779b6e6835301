package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-engine/internal/memstore"
	"github.com/ariefcatur/go-order-engine/internal/orders"
	"github.com/ariefcatur/go-order-engine/internal/processor"
	"github.com/ariefcatur/go-order-engine/internal/redisx"
	"github.com/ariefcatur/go-order-engine/internal/validation"
)

type server struct {
	t     *testing.T
	store *memstore.Store
	proc  *processor.Processor
	h     http.Handler
}

func newServer(t *testing.T) *server {
	t.Helper()
	s := memstore.New()
	s.AddCustomer(orders.Customer{ID: "c1", Name: gofakeit.Name(), AccountStatus: "active"})
	s.AddProduct(orders.Product{ID: "p1", SKU: "P-1", Name: "Mug", Status: "active", BasePrice: decimal.NewFromInt(1000), Stock: 3})
	s.AddProduct(orders.Product{ID: "tv", SKU: "P-TV", Name: "TV", Status: "active", BasePrice: decimal.NewFromInt(60000), Stock: 2})

	v, err := validation.New(s, validation.DefaultConfig())
	require.NoError(t, err)
	p := processor.New(s, v, 30*time.Minute)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	statuses := redisx.NewStatusCache(rdb, 0)
	p.Statuses = statuses

	r := NewRouter(RouterOptions{})
	(&OrdersHandler{Processor: p, Idempotency: redisx.NewIdempotency(rdb), Statuses: statuses}).Register(r)
	return &server{t: t, store: s, proc: p, h: r}
}

func (s *server) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(s.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

var prices = map[string]int64{"p1": 1000, "tv": 60000}

func orderRequest(qty int) orders.CreateOrderRequest { return productRequest("p1", qty) }

func productRequest(product string, qty int) orders.CreateOrderRequest {
	sub := decimal.NewFromInt(prices[product] * int64(qty))
	return orders.CreateOrderRequest{
		CustomerID:    "c1",
		Items:         []orders.LineRequest{{ProductID: product, Quantity: qty}},
		Subtotal:      sub,
		ShippingFee:   decimal.NewFromInt(50),
		Total:         sub.Add(decimal.NewFromInt(50)),
		PaymentMethod: orders.PaymentCOD,
		Source:        "web",
		ShippingAddress: &orders.Address{
			RecipientName: gofakeit.Name(),
			Phone:         "+639171234567",
			AddressLine:   gofakeit.Street(),
			City:          gofakeit.City(),
			Province:      gofakeit.State(),
		},
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *server) create(qty int) *orders.Order {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/orders", orderRequest(qty))
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[processor.CreateResult](s.t, rec).Order
}

func TestHealthz(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCreateOrder_IdempotencyKey(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/orders", orderRequest(1), "Idempotency-Key", "idem-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeBody[processor.CreateResult](t, rec)
	assert.Equal(t, "idem-1", first.Order.ExternalID)
	assert.NotEmpty(t, first.Order.ClientIP)

	rec = s.do(http.MethodPost, "/orders", orderRequest(1), "Idempotency-Key", "idem-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	again := decodeBody[processor.CreateResult](t, rec)
	assert.True(t, again.Idempotent)
	assert.Equal(t, first.Order.ID, again.Order.ID)
	assert.Equal(t, 1, s.store.Counts().Orders)
	assert.Equal(t, 2, s.store.Stock(orders.StockKey{ProductID: "p1"}))
}

func TestCreateOrder_Errors(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/orders", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/orders", orderRequest(5))
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, orders.CodeInsufficientStock, body.Error.Code)
	require.Len(t, body.Error.Shortages, 1)
	assert.Equal(t, 5, body.Error.Shortages[0].Requested)

	bad := orderRequest(1)
	bad.CustomerID = ""
	rec = s.do(http.MethodPost, "/orders", bad)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	body = decodeBody[errorBody](t, rec)
	assert.NotEmpty(t, body.Error.Fields)
	assert.Equal(t, 0, s.store.Counts().Orders)
}

func TestGetOrder(t *testing.T) {
	s := newServer(t)
	o := s.create(1)

	rec := s.do(http.MethodGet, "/orders/"+o.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeBody[processor.View](t, rec)
	assert.Equal(t, o.ID, v.Order.ID)
	assert.Len(t, v.Items, 1)
	assert.Len(t, v.Reservations, 1)

	rec = s.do(http.MethodGet, "/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, orders.CodeNotFound, decodeBody[errorBody](t, rec).Error.Code)

	rec = s.do(http.MethodGet, "/orders/missing/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStatus_UsesCache(t *testing.T) {
	s := newServer(t)
	o := s.create(1)

	rec := s.do(http.MethodGet, "/orders/"+o.ID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[statusResp](t, rec)
	assert.True(t, st.Cached)
	assert.Equal(t, orders.StatusPending, st.Status)

	rec = s.do(http.MethodPost, "/orders/"+o.ID+"/confirm", map[string]string{"note": "paid"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	st = decodeBody[statusResp](t, s.do(http.MethodGet, "/orders/"+o.ID+"/status", nil))
	assert.Equal(t, orders.StatusConfirmed, st.Status)
}

func TestLifecycleRoutes(t *testing.T) {
	s := newServer(t)
	o := s.create(1)

	rec := s.do(http.MethodPost, "/orders/"+o.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/orders/"+o.ID+"/advance", map[string]string{"status": "delivered"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, orders.CodeInvalidTransition, decodeBody[errorBody](t, rec).Error.Code)

	rec = s.do(http.MethodPost, "/orders/"+o.ID+"/advance", map[string]string{"status": "bogus"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody[errorBody](t, rec)
	require.Len(t, body.Error.Fields, 1)
	assert.Equal(t, "status", body.Error.Fields[0].Field)

	for _, next := range []string{"processing", "shipped"} {
		rec = s.do(http.MethodPost, "/orders/"+o.ID+"/advance", map[string]string{"status": next, "actor": "automation"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = s.do(http.MethodPost, "/orders/"+o.ID+"/cancel", map[string]string{"reason": "changed mind"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	hs := decodeBody[[]orders.StateHistory](t, s.do(http.MethodGet, "/orders/"+o.ID+"/history", nil))
	require.Len(t, hs, 4)
	assert.Equal(t, orders.StatusShipped, hs[3].ToStatus)
	assert.Equal(t, orders.ActorAutomation, hs[3].Actor)
}

func TestCancel_RequiresReason(t *testing.T) {
	s := newServer(t)
	o := s.create(2)

	rec := s.do(http.MethodPost, "/orders/"+o.ID+"/cancel", map[string]string{})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPost, "/orders/"+o.ID+"/cancel", map[string]string{"reason": "duplicate", "actor": "customer"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, orders.StatusCancelled, decodeBody[orders.Order](t, rec).Status)
	assert.Equal(t, 3, s.store.Stock(orders.StockKey{ProductID: "p1"}))
}

func TestVerificationRoute(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodPost, "/orders", productRequest("tv", 1))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	o := decodeBody[processor.CreateResult](t, rec).Order
	require.Equal(t, orders.VerificationPending, o.VerificationStatus)

	rec = s.do(http.MethodPost, "/orders/"+o.ID+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, orders.CodeVerificationPending, decodeBody[errorBody](t, rec).Error.Code)

	rec = s.do(http.MethodPost, "/orders/"+o.ID+"/verification", map[string]string{"status": "maybe"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPost, "/orders/"+o.ID+"/verification", map[string]any{"status": "rejected", "reason": "fake address", "cancel": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[orders.Order](t, rec)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Equal(t, orders.VerificationRejected, got.VerificationStatus)
}

func TestErrorRoutes(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/orders", orderRequest(9))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, "/errors?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	errs := decodeBody[[]orders.OrderError](t, rec)
	require.Len(t, errs, 1)
	assert.Equal(t, orders.CodeInsufficientStock, errs[0].Code)

	rec = s.do(http.MethodGet, "/errors?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/errors/"+errs[0].ID+"/resolve", map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPost, "/errors/"+errs[0].ID+"/resolve", map[string]string{"resolved_by": "ops", "notes": "restocked"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[orders.OrderError](t, rec).Resolved)

	rec = s.do(http.MethodPost, "/errors/"+errs[0].ID+"/resolve", map[string]string{"resolved_by": "ops"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Empty(t, decodeBody[[]orders.OrderError](t, s.do(http.MethodGet, "/errors", nil)))
	assert.Empty(t, decodeBody[[]orders.OrderError](t, s.do(http.MethodGet, "/orders/none/errors", nil)))
}

func TestQueueRoutes(t *testing.T) {
	s := newServer(t)
	a := s.create(1)
	b := s.create(1)

	rec := s.do(http.MethodPost, "/queue/claim", map[string]any{"categories": []string{"bogus"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPost, "/queue/claim", map[string]any{"categories": []string{"new_order"}, "limit": 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	items := decodeBody[[]orders.QueueItem](t, rec)
	require.Len(t, items, 2)
	byOrder := map[string]orders.QueueItem{}
	for _, it := range items {
		assert.Equal(t, orders.QueueProcessing, it.Status)
		byOrder[it.OrderID] = it
	}

	rec = s.do(http.MethodPost, "/queue/"+byOrder[a.ID].ID+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, orders.QueueCompleted, decodeBody[orders.QueueItem](t, rec).Status)

	rec = s.do(http.MethodPost, "/queue/"+byOrder[a.ID].ID+"/complete", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/queue/"+byOrder[b.ID].ID+"/fail", map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPost, "/queue/"+byOrder[b.ID].ID+"/fail", map[string]string{"reason": "smtp down"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	failed := decodeBody[orders.QueueItem](t, rec)
	assert.Equal(t, orders.QueueRetry, failed.Status)
	assert.Equal(t, "smtp down", failed.LastError)

	rec = s.do(http.MethodPost, "/queue/claim", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]orders.QueueItem](t, rec))
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(1, 1)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, call().Code)
	rec := call()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decodeBody[errorBody](t, rec).Error.Code)
}
