package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/homedeco-fulfillment/internal/domain/address"
	"github.com/xenking/homedeco-fulfillment/internal/domain/auth"
	"github.com/xenking/homedeco-fulfillment/internal/domain/delivery"
	"github.com/xenking/homedeco-fulfillment/internal/domain/order"
	"github.com/xenking/homedeco-fulfillment/internal/domain/product"
	"github.com/xenking/homedeco-fulfillment/internal/domain/warehouse"
	"github.com/xenking/homedeco-fulfillment/pkg/httpmiddleware"
)

// --- Mock implementations ---

type mockProductRepo struct {
	products []product.Product
	err      error
}

func (m *mockProductRepo) List(context.Context) ([]product.Product, error) {
	return m.products, m.err
}

func (m *mockProductRepo) GetByIDs(context.Context, []int64) ([]product.Product, error) {
	return m.products, m.err
}

type mockOrders struct {
	lastReq order.PlaceOrderRequest
	result  *order.PlaceOrderResult
	orders  map[string]*order.Order
	err     error
}

func (m *mockOrders) PlaceOrder(_ context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error) {
	m.lastReq = req
	return m.result, m.err
}

func (m *mockOrders) Get(_ context.Context, id, userID string) (*order.Order, error) {
	o, ok := m.orders[id]
	if !ok || o.UserID != userID {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (m *mockOrders) List(_ context.Context, userID string) ([]order.Order, error) {
	var out []order.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

type mockDeliveries struct {
	plan     *delivery.Plan
	status   delivery.Status
	closed   *order.Order
	err      error
	lastUser string
}

func (m *mockDeliveries) Plan(_ context.Context, _, userID string) (*delivery.Plan, error) {
	m.lastUser = userID
	return m.plan, m.err
}

func (m *mockDeliveries) Statuses(_ context.Context, _ string, orders []order.Order) ([]delivery.Status, error) {
	out := make([]delivery.Status, len(orders))
	for i := range out {
		out[i] = m.status
	}
	return out, nil
}

func (m *mockDeliveries) Cancel(context.Context, string, string) (*order.Order, error) {
	return m.closed, m.err
}

func (m *mockDeliveries) Return(context.Context, string, string) (*order.Order, error) {
	return m.closed, m.err
}

type mockAddressRepo struct {
	created []address.Address
}

func (m *mockAddressRepo) Create(_ context.Context, a *address.Address) error {
	a.ID = int64(len(m.created) + 1)
	m.created = append(m.created, *a)
	return nil
}

func (m *mockAddressRepo) ListByUser(_ context.Context, userID string) ([]address.Address, error) {
	var out []address.Address
	for _, a := range m.created {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

type mockWarehouseRepo struct {
	stocked []warehouse.Stocked
}

func (m *mockWarehouseRepo) ListStocked(context.Context) ([]warehouse.Stocked, error) {
	return m.stocked, nil
}

type mockAPIKeyRepo struct {
	keys map[string]*auth.APIKeyInfo
}

func (m *mockAPIKeyRepo) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := m.keys[hash]
	if !ok {
		return nil, errors.New("api key not found")
	}
	return info, nil
}

// --- Helpers ---

const (
	testKey    = "test-key"
	testUser   = "user-1"
	testPepper = "pepper"
)

type testServer struct {
	mux        *http.ServeMux
	products   *mockProductRepo
	orders     *mockOrders
	deliveries *mockDeliveries
	addresses  *mockAddressRepo
	warehouses *mockWarehouseRepo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{
		mux:        http.NewServeMux(),
		products:   &mockProductRepo{},
		orders:     &mockOrders{orders: map[string]*order.Order{}},
		deliveries: &mockDeliveries{status: delivery.StatusPending},
		addresses:  &mockAddressRepo{},
		warehouses: &mockWarehouseRepo{},
	}
	hash := auth.HashKey([]byte(testPepper), testKey)
	keys := &mockAPIKeyRepo{keys: map[string]*auth.APIKeyInfo{
		hash: {ID: "k1", KeyHash: hash, Name: "test", UserID: testUser},
	}}

	h := NewHandler(Config{Now: func() time.Time {
		return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	}}, s.products, s.orders, s.deliveries, s.addresses, s.warehouses)
	sec := NewSecurityHandler(keys, []byte(testPepper))
	h.Register(s.mux, httpmiddleware.Authenticate(APIKeyHeader, sec.HandleAPIKey))
	return s
}

func (s *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(APIKeyHeader, testKey)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Body.String(), "{") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func newOrder(id string) *order.Order {
	return &order.Order{
		ID:     id,
		UserID: testUser,
		Items: []order.Item{
			{ProductID: 1, Quantity: 2, UnitPrice: decimal.RequireFromString("49.90")},
		},
		Total:     decimal.RequireFromString("99.80"),
		Status:    order.StatusPending,
		CreatedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

// --- Tests ---

func TestListProducts(t *testing.T) {
	s := newTestServer(t)
	s.products.products = []product.Product{
		{ID: 1, Name: "Lamp", Price: decimal.RequireFromString("49.9"), Category: "lighting"},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t,
		`[{"id":1,"name":"Lamp","description":"","category":"lighting","price":49.90}]`,
		w.Body.String())
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	for _, key := range []string{"", "wrong"} {
		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		if key != "" {
			req.Header.Set(APIKeyHeader, key)
		}
		w := httptest.NewRecorder()
		s.mux.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "key %q", key)
	}
}

func TestPlaceOrder(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		s := newTestServer(t)
		o := newOrder("ord-1")
		lamp := product.Product{ID: 1, Name: "Lamp", Price: decimal.RequireFromString("49.90")}
		s.orders.result = &order.PlaceOrderResult{Order: o, Products: []product.Product{lamp, lamp}}

		w, body := s.do(t, http.MethodPost, "/api/orders",
			`{"items":[{"productId":1,"quantity":2}],"shippingAddressId":7,"billingAddressId":null}`)

		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, testUser, s.orders.lastReq.UserID)
		assert.Equal(t, []order.LineRequest{{ProductID: 1, Quantity: 2}}, s.orders.lastReq.Items)
		require.NotNil(t, s.orders.lastReq.ShippingAddressID)
		assert.Equal(t, int64(7), *s.orders.lastReq.ShippingAddressID)
		assert.Nil(t, s.orders.lastReq.BillingAddressID)

		assert.Equal(t, "ord-1", body["id"])
		assert.Equal(t, "Pending", body["status"])
		assert.Equal(t, 99.8, body["total"])
		assert.Len(t, body["products"], 1)
	})

	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
	}{
		{"malformed body", `{"items":`, nil, http.StatusBadRequest},
		{"empty items", `{"items":[]}`, order.ErrEmptyItems, http.StatusBadRequest},
		{"invalid quantity", `{"items":[{"productId":1,"quantity":0}]}`, &order.InvalidQuantityError{ProductID: 1}, http.StatusUnprocessableEntity},
		{"unknown product", `{"items":[{"productId":9,"quantity":1}]}`, &order.ProductNotFoundError{ProductID: 9}, http.StatusUnprocessableEntity},
		{"foreign address", `{"items":[{"productId":1,"quantity":1}],"shippingAddressId":3}`, errors.Wrap(address.ErrNotFound, "shipping"), http.StatusUnprocessableEntity},
		{"storage failure", `{"items":[{"productId":1,"quantity":1}]}`, errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.orders.err = tt.err

			w, body := s.do(t, http.MethodPost, "/api/orders", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, float64(tt.wantCode), body["code"])
			if tt.wantCode == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", body["message"])
			}
		})
	}
}

func TestGetOrder(t *testing.T) {
	s := newTestServer(t)
	s.orders.orders["ord-1"] = newOrder("ord-1")
	s.deliveries.status = delivery.StatusEnRoute

	w, body := s.do(t, http.MethodGet, "/api/orders/ord-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "En Route", body["status"])
	assert.Equal(t, "2026-03-02T09:00:00Z", body["createdAt"])
	assert.Nil(t, body["closedAt"])

	w, _ = s.do(t, http.MethodGet, "/api/orders/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListOrders(t *testing.T) {
	s := newTestServer(t)
	s.orders.orders["ord-1"] = newOrder("ord-1")

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set(APIKeyHeader, testKey)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Pending", list[0]["status"])
}

func TestGetDelivery(t *testing.T) {
	s := newTestServer(t)
	at := func(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC) }
	paris := warehouse.Warehouse{ID: 1, Name: "Paris DC", City: "Paris", Country: "France"}
	lyon := warehouse.Warehouse{ID: 2, Name: "Lyon DC", City: "Lyon", Country: "France"}
	route := delivery.Route{DistanceMeters: 12000, DistanceText: "12.0 km", Duration: 30 * time.Minute, DurationText: "30 mins"}

	s.deliveries.plan = &delivery.Plan{
		OrderID:     "ord-1",
		Status:      delivery.StatusPreparing,
		Fulfillment: delivery.Fulfilled,
		Hub:         paris,
		Destination: delivery.Destination{Label: "Home", Address: "1 Rue de Rivoli, Paris, France"},
		Route:       route,
		Allocations: []delivery.Leg{{
			Warehouse: paris, Route: route, Departure: at(13, 0), ETA: at(13, 30),
			Items: []delivery.Line{{ProductID: 1, Quantity: 3}},
		}},
		Consolidation: delivery.Consolidation{
			IsConsolidating: true,
			Hub:             paris,
			HubReady:        at(13, 0),
			Transfers: []delivery.TransferLeg{{
				Transfer:  delivery.Transfer{From: lyon, To: paris, Route: route, Items: []delivery.Line{{ProductID: 1, Quantity: 2}}},
				Departure: at(11, 0),
				Arrival:   at(13, 0),
				Status:    delivery.TransferScheduled,
			}},
		},
		Timeline: []delivery.Event{
			{Status: "Order Placed", Location: "Online", Time: at(9, 0), Completed: true},
		},
		Milestones:  delivery.Milestones{PrepStart: at(9, 0), PrepFinish: at(11, 0), HubReady: at(13, 0), Arrival: at(13, 30), Completion: at(14, 30)},
		WindowStart: at(14, 0),
		WindowEnd:   at(14, 30),
	}

	w, body := s.do(t, http.MethodGet, "/api/orders/ord-1/delivery", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testUser, s.deliveries.lastUser)

	assert.Equal(t, "Preparing", body["status"])
	assert.Equal(t, "Fulfilled", body["fulfillmentStatus"])
	assert.Equal(t, "Paris, France", body["origin"])
	assert.Equal(t, "1 Rue de Rivoli, Paris, France", body["destination"])
	assert.Equal(t, "30 mins", body["durationText"])
	assert.Equal(t, "2026-03-02T13:30:00Z", body["estimatedArrival"])
	assert.Equal(t, "2026-03-02T13:00:00Z", body["departureTime"])
	assert.Equal(t, "2026-03-02T14:00:00Z", body["windowStart"])

	cons := body["consolidation"].(map[string]any)
	assert.Equal(t, true, cons["isConsolidating"])
	transfers := cons["transfers"].([]any)
	require.Len(t, transfers, 1)
	tr := transfers[0].(map[string]any)
	assert.Equal(t, "Scheduled", tr["status"])
	assert.Equal(t, "Lyon, France", tr["from"].(map[string]any)["location"])
	assert.Equal(t, float64(1800), tr["durationSeconds"])

	allocs := body["allocations"].([]any)
	require.Len(t, allocs, 1)
	assert.Equal(t, "2026-03-02T13:30:00Z", allocs[0].(map[string]any)["eta"])

	timeline := body["timeline"].([]any)
	require.Len(t, timeline, 1)
	assert.Equal(t, true, timeline[0].(map[string]any)["isCompleted"])
	assert.Empty(t, body["unfulfilled"])
}

func TestCloseOrder(t *testing.T) {
	closedAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	cancelled := newOrder("ord-1")
	cancelled.Status = order.StatusCancelled
	cancelled.ClosedAt = &closedAt

	tests := []struct {
		name       string
		path       string
		closed     *order.Order
		err        error
		wantCode   int
		wantStatus string
		wantMsg    string
	}{
		{
			name: "cancelled", path: "/api/orders/ord-1/cancel",
			closed: cancelled, wantCode: http.StatusOK, wantStatus: "Cancelled",
		},
		{
			name: "too late", path: "/api/orders/ord-1/cancel",
			err:      &delivery.TooLateError{Status: delivery.StatusEnRoute},
			wantCode: http.StatusConflict,
			wantMsg:  "cannot cancel order with status 'En Route': it is too late",
		},
		{
			name: "already cancelled", path: "/api/orders/ord-1/cancel",
			err: delivery.ErrAlreadyCancelled, wantCode: http.StatusConflict,
			wantMsg: "order is already cancelled",
		},
		{
			name: "not returnable", path: "/api/orders/ord-1/return",
			err: &delivery.NotReturnableError{Status: delivery.StatusPreparing}, wantCode: http.StatusConflict,
		},
		{
			name: "not found", path: "/api/orders/other/return",
			err: order.ErrNotFound, wantCode: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.deliveries.closed = tt.closed
			s.deliveries.err = tt.err

			w, body := s.do(t, http.MethodPost, tt.path, "")
			require.Equal(t, tt.wantCode, w.Code)
			if tt.wantStatus != "" {
				assert.Equal(t, tt.wantStatus, body["status"])
				assert.Equal(t, "2026-03-02T10:00:00Z", body["closedAt"])
			}
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, body["message"])
			}
		})
	}
}

func TestAddresses(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/api/addresses",
		`{"label":"Home","addressLine1":"1 Rue de Rivoli","city":"Paris","postalCode":"75001","country":"France","isDefaultShipping":true,"extra":[1,2]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, float64(1), body["id"])
	assert.Equal(t, true, body["isDefaultShipping"])
	require.Len(t, s.addresses.created, 1)
	assert.Equal(t, testUser, s.addresses.created[0].UserID)

	w, _ = s.do(t, http.MethodPost, "/api/addresses", `{"label":"Empty","city":"Paris"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/addresses", nil)
	req.Header.Set(APIKeyHeader, testKey)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestListWarehouses(t *testing.T) {
	s := newTestServer(t)
	s.warehouses.stocked = []warehouse.Stocked{{
		Warehouse: warehouse.Warehouse{ID: 1, Name: "Paris DC", City: "Paris", Country: "France"},
		Stock:     map[int64]int{3: 1, 1: 5},
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/warehouses", nil)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"id":1,"name":"Paris DC","city":"Paris","country":"France","location":"Paris, France",
		"stock":[{"productId":1,"quantity":5},{"productId":3,"quantity":1}]}]`, w.Body.String())
}

func TestValidatePayment(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/api/payments/validate",
		`{"cardNumber":"4111 1111 1111 1111","expiry":"12/27","cvc":"123","name":"Ada"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["valid"])

	w, body = s.do(t, http.MethodPost, "/api/payments/validate",
		`{"cardNumber":"4111111111111112","expiry":"12/27","cvc":"123","name":"Ada"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "invalid number: luhn check failed", body["message"])
}

func TestSecurityHandler(t *testing.T) {
	hash := auth.HashKey([]byte(testPepper), testKey)
	repo := &mockAPIKeyRepo{keys: map[string]*auth.APIKeyInfo{
		hash: {KeyHash: hash, UserID: testUser},
	}}
	sec := NewSecurityHandler(repo, []byte(testPepper))

	ctx, err := sec.HandleAPIKey(context.Background(), testKey)
	require.NoError(t, err)
	uid, ok := auth.UserIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, testUser, uid)

	_, err = sec.HandleAPIKey(context.Background(), "other")
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	repo.keys[hash].KeyHash = "00"
	_, err = sec.HandleAPIKey(context.Background(), testKey)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}
