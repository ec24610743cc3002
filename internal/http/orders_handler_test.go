package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- Mock ---

type OrderServiceMock struct {
	order     *domain.Order
	orders    []*domain.Order
	err       error
	gotRegion string
}

func (m *OrderServiceMock) CreateFromCart(ctx context.Context, userID int64, regionCode string) (*domain.Order, error) {
	m.gotRegion = regionCode
	if m.err != nil {
		return nil, m.err
	}
	return m.order, nil
}

func (m *OrderServiceMock) GetOrder(ctx context.Context, orderID uuid.UUID, userID int64) (*domain.Order, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.order, nil
}

func (m *OrderServiceMock) ListOrders(ctx context.Context, userID int64) ([]*domain.Order, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.orders, nil
}

func sampleOrder() *domain.Order {
	return &domain.Order{
		OrderID:    uuid.MustParse("7d1f3c2a-5b6e-4f80-9a1b-2c3d4e5f6a7b"),
		UserID:     1,
		Currency:   "EUR",
		Subtotal:   decimal.RequireFromString("39.98"),
		TaxName:    "IVA",
		TaxPercent: decimal.RequireFromString("21"),
		TaxTotal:   decimal.RequireFromString("8.40"),
		Amount:     decimal.RequireFromString("48.38"),
		Status:     domain.OrderStatusPending,
		Lines: []domain.OrderLine{
			{ProductRef: 5, ItemType: domain.ItemTypeAlbum, Quantity: 2, UnitPrice: decimal.RequireFromString("19.99")},
		},
		CreatedAt: time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC),
	}
}

// --- CreateOrder tests ---

func TestCreateOrder_Accepted(t *testing.T) {
	mock := &OrderServiceMock{order: sampleOrder()}
	handler := NewOrdersHandler(mock, 5*time.Second)
	recorder := httptest.NewRecorder()
	request := withUser(httptest.NewRequest("POST", "/api/v1/orders", strings.NewReader(`{"region":"ES"}`)))

	handler.CreateOrder(recorder, request)

	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected %d, got %d", http.StatusAccepted, recorder.Code)
	}
	var resp CreateOrderResponseDTO
	if err := json.NewDecoder(recorder.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "PENDING" {
		t.Errorf("expected PENDING, got %s", resp.Status)
	}
	if resp.OrderID != sampleOrder().OrderID.String() {
		t.Errorf("unexpected order id %s", resp.OrderID)
	}
	if mock.gotRegion != "ES" {
		t.Errorf("expected region ES, got %q", mock.gotRegion)
	}
}

func TestCreateOrder_EmptyBody(t *testing.T) {
	mock := &OrderServiceMock{order: sampleOrder()}
	handler := NewOrdersHandler(mock, 5*time.Second)
	recorder := httptest.NewRecorder()
	request := withUser(httptest.NewRequest("POST", "/api/v1/orders", nil))

	handler.CreateOrder(recorder, request)

	if recorder.Code != http.StatusAccepted {
		t.Errorf("expected %d, got %d", http.StatusAccepted, recorder.Code)
	}
	if mock.gotRegion != "" {
		t.Errorf("expected no region, got %q", mock.gotRegion)
	}
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	mock := &OrderServiceMock{err: domain.ErrEmptyCart}
	handler := NewOrdersHandler(mock, 5*time.Second)
	recorder := httptest.NewRecorder()
	request := withUser(httptest.NewRequest("POST", "/api/v1/orders", nil))

	handler.CreateOrder(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected %d, got %d", http.StatusBadRequest, recorder.Code)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(recorder.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Code != "empty_cart" {
		t.Errorf("expected code empty_cart, got %s", resp.Code)
	}
}

// --- ListOrders tests ---

func TestListOrders_Success(t *testing.T) {
	mock := &OrderServiceMock{orders: []*domain.Order{sampleOrder()}}
	handler := NewOrdersHandler(mock, 5*time.Second)
	recorder := httptest.NewRecorder()
	request := withUser(httptest.NewRequest("GET", "/api/v1/orders", nil))

	handler.ListOrders(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, recorder.Code)
	}
	var resp []OrderResponseDTO
	if err := json.NewDecoder(recorder.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("expected 1 order, got %d", len(resp))
	}
	if resp[0].Amount != "48.38" || resp[0].TaxTotal != "8.40" || resp[0].Subtotal != "39.98" {
		t.Errorf("unexpected amounts: %+v", resp[0])
	}
	if resp[0].CreatedAt != "2026-02-12T10:00:00Z" {
		t.Errorf("unexpected created_at %s", resp[0].CreatedAt)
	}
}

func TestListOrders_Empty(t *testing.T) {
	handler := NewOrdersHandler(&OrderServiceMock{}, 5*time.Second)
	recorder := httptest.NewRecorder()
	request := withUser(httptest.NewRequest("GET", "/api/v1/orders", nil))

	handler.ListOrders(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Errorf("expected %d, got %d", http.StatusOK, recorder.Code)
	}
	if strings.TrimSpace(recorder.Body.String()) != "[]" {
		t.Errorf("expected empty JSON array, got %s", recorder.Body.String())
	}
}

func TestListOrders_InternalError(t *testing.T) {
	mock := &OrderServiceMock{err: context.Canceled}
	handler := NewOrdersHandler(mock, 5*time.Second)
	recorder := httptest.NewRecorder()
	request := withUser(httptest.NewRequest("GET", "/api/v1/orders", nil))

	handler.ListOrders(recorder, request)

	if recorder.Code != http.StatusInternalServerError {
		t.Errorf("expected %d, got %d", http.StatusInternalServerError, recorder.Code)
	}
	if strings.Contains(recorder.Body.String(), "canceled") {
		t.Errorf("internal error text leaked: %s", recorder.Body.String())
	}
}

// --- GetOrder tests ---

func TestGetOrder_Success(t *testing.T) {
	o := sampleOrder()
	mock := &OrderServiceMock{order: o}
	handler := NewOrdersHandler(mock, 5*time.Second)
	recorder := httptest.NewRecorder()
	request := withURLParam(withUser(httptest.NewRequest("GET", "/api/v1/orders/"+o.OrderID.String(), nil)), "order_id", o.OrderID.String())

	handler.GetOrder(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Errorf("expected %d, got %d", http.StatusOK, recorder.Code)
	}
}

func TestGetOrder_InvalidID(t *testing.T) {
	handler := NewOrdersHandler(&OrderServiceMock{}, 5*time.Second)
	recorder := httptest.NewRecorder()
	request := withURLParam(withUser(httptest.NewRequest("GET", "/api/v1/orders/nope", nil)), "order_id", "nope")

	handler.GetOrder(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected %d, got %d", http.StatusBadRequest, recorder.Code)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	mock := &OrderServiceMock{err: domain.ErrNotFound}
	handler := NewOrdersHandler(mock, 5*time.Second)
	recorder := httptest.NewRecorder()
	id := uuid.NewString()
	request := withURLParam(withUser(httptest.NewRequest("GET", "/api/v1/orders/"+id, nil)), "order_id", id)

	handler.GetOrder(recorder, request)

	if recorder.Code != http.StatusNotFound {
		t.Errorf("expected %d, got %d", http.StatusNotFound, recorder.Code)
	}
}
