//go:build integration

package test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/padifield/ricemart/internal/cart"
	"github.com/padifield/ricemart/internal/catalog"
	"github.com/padifield/ricemart/internal/domain"
	"github.com/padifield/ricemart/internal/messaging"
	"github.com/padifield/ricemart/internal/orders"
	"github.com/padifield/ricemart/internal/worker"
)

// seeded by migrations: sona masoori 5kg, price 120, stock 100
const seededProductID = "22222222-2222-4222-8222-222222222222"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCatalogServer(t *testing.T, connStr string) (*httptest.Server, *catalog.ProductRepository) {
	t.Helper()

	db, err := DBWithSchema(connStr, "catalog")
	if err != nil {
		t.Fatalf("failed to create catalog DB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := catalog.NewProductRepository(db)
	handler := catalog.NewHandler(repo, discardLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /products", handler.HandleList)
	mux.HandleFunc("GET /products/{id}", handler.HandleGet)
	mux.HandleFunc("POST /products/{id}/stock/reserve", handler.HandleReserve)
	mux.HandleFunc("POST /products/{id}/stock/release", handler.HandleRelease)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server, repo
}

func newOrdersServer(t *testing.T, connStr string) (*httptest.Server, *orders.OrderRepository, *orders.Handler) {
	t.Helper()

	db, err := DBWithSchema(connStr, "orders")
	if err != nil {
		t.Fatalf("failed to create orders DB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := orders.NewOrderRepository(db)
	handler := orders.NewHandler(repo, nil, discardLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", handler.HandleCreate)
	mux.HandleFunc("GET /orders", handler.HandleList)
	mux.HandleFunc("GET /orders/my", handler.HandleMyOrders)
	mux.HandleFunc("GET /orders/{id}", handler.HandleGet)
	mux.HandleFunc("PUT /orders/status", handler.HandleBulkUpdateStatus)
	mux.HandleFunc("PUT /orders/{id}/status", handler.HandleUpdateStatus)
	mux.HandleFunc("PUT /orders/{id}/cancel", handler.HandleCancel)
	mux.HandleFunc("PUT /orders/{id}/tracking", handler.HandleTracking)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server, repo, handler
}

func TestOrderCreationFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	_, repo, handler := newOrdersServer(t, pg.ConnStr)

	reqBody := fmt.Sprintf(`{
		"customer_id": "test-customer-1",
		"items": [{"product_id": %q, "name": "Sona Masoori Rice 5kg", "unit_price": 120, "quantity": 2}],
		"shipping_address": {"name": "Test", "line1": "1 Paddy Lane", "city": "Thanjavur", "state": "TN", "postal_code": "613001", "country": "IN"},
		"payment_method": "card"
	}`, seededProductID)
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.HandleCreate(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var createdOrder domain.Order
	if err := json.NewDecoder(rec.Body).Decode(&createdOrder); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if createdOrder.ID == "" {
		t.Fatal("expected order ID to be set")
	}
	if !strings.HasPrefix(createdOrder.OrderNumber, "RM-") {
		t.Fatalf("unexpected order number: %s", createdOrder.OrderNumber)
	}
	if createdOrder.Status != domain.StatusPending {
		t.Fatalf("expected status '%s', got '%s'", domain.StatusPending, createdOrder.Status)
	}
	// 240 items + 50 shipping + 12 tax
	if createdOrder.TotalPrice != 302 {
		t.Fatalf("expected total 302, got %v", createdOrder.TotalPrice)
	}

	fetchedOrder, err := repo.GetByID(ctx, createdOrder.ID)
	if err != nil {
		t.Fatalf("failed to fetch order from DB: %v", err)
	}
	if fetchedOrder == nil {
		t.Fatal("order not found in database")
	}
	if fetchedOrder.CustomerID != createdOrder.CustomerID {
		t.Fatalf("DB order customer_id mismatch: expected '%s', got '%s'", createdOrder.CustomerID, fetchedOrder.CustomerID)
	}
	if len(fetchedOrder.StatusHistory) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(fetchedOrder.StatusHistory))
	}
}

func TestCatalogStockFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	server, repo := newCatalogServer(t, pg.ConnStr)
	client := catalog.NewClient(server.URL, server.Client())

	product, err := client.GetProduct(ctx, seededProductID)
	if err != nil {
		t.Fatalf("failed to get product: %v", err)
	}
	if product == nil {
		t.Fatal("seeded product not found")
	}
	if product.StockQuantity != 100 {
		t.Fatalf("expected initial stock 100, got %d", product.StockQuantity)
	}

	if err := client.Reserve(ctx, seededProductID, 10); err != nil {
		t.Fatalf("failed to reserve stock: %v", err)
	}

	product, err = repo.GetByID(ctx, seededProductID)
	if err != nil {
		t.Fatalf("failed to fetch product from DB: %v", err)
	}
	if product.StockQuantity != 90 {
		t.Fatalf("expected stock 90 after reserve, got %d", product.StockQuantity)
	}

	if err := client.Reserve(ctx, seededProductID, 9999); err == nil {
		t.Fatal("expected reserve beyond stock to fail")
	}

	if err := client.Release(ctx, seededProductID, 10); err != nil {
		t.Fatalf("failed to release stock: %v", err)
	}

	product, err = repo.GetByID(ctx, seededProductID)
	if err != nil {
		t.Fatalf("failed to fetch product from DB: %v", err)
	}
	if product.StockQuantity != 100 {
		t.Fatalf("expected stock restored to 100, got %d", product.StockQuantity)
	}
}

func TestCartCheckoutFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	catalogServer, _ := newCatalogServer(t, pg.ConnStr)
	ordersServer, ordersRepo, _ := newOrdersServer(t, pg.ConnStr)

	cartDB, err := DBWithSchema(pg.ConnStr, "cart")
	if err != nil {
		t.Fatalf("failed to create cart DB: %v", err)
	}
	defer func() { _ = cartDB.Close() }()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	cartHandler := cart.NewHandler(
		cart.NewPostgresSnapshotStore(cartDB),
		catalog.NewClient(catalogServer.URL, httpClient),
		orders.NewClient(ordersServer.URL, httpClient),
		discardLogger(),
	)

	cartMux := http.NewServeMux()
	cartMux.HandleFunc("GET /carts/{sessionId}", cartHandler.HandleGet)
	cartMux.HandleFunc("POST /carts/{sessionId}/items", cartHandler.HandleAddItem)
	cartMux.HandleFunc("POST /carts/{sessionId}/checkout", cartHandler.HandleCheckout)

	addBody := fmt.Sprintf(`{"product_id": %q, "quantity": 2}`, seededProductID)
	req := httptest.NewRequest(http.MethodPost, "/carts/session-1/items", strings.NewReader(addBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	cartMux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("add item: expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var loadedCart domain.Cart
	if err := json.NewDecoder(rec.Body).Decode(&loadedCart); err != nil {
		t.Fatalf("failed to decode cart: %v", err)
	}
	if loadedCart.Total != 302 {
		t.Fatalf("expected cart total 302, got %v", loadedCart.Total)
	}

	checkoutBody := `{
		"customer_id": "cust-checkout",
		"shipping_address": {"name": "Test", "line1": "1 Paddy Lane", "city": "Thanjavur", "state": "TN", "postal_code": "613001", "country": "IN"},
		"payment_method": "cod"
	}`
	req = httptest.NewRequest(http.MethodPost, "/carts/session-1/checkout", strings.NewReader(checkoutBody))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	cartMux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var order domain.Order
	if err := json.NewDecoder(rec.Body).Decode(&order); err != nil {
		t.Fatalf("failed to decode order: %v", err)
	}
	if order.TotalPrice != 302 {
		t.Fatalf("expected order total 302, got %v", order.TotalPrice)
	}

	persisted, err := ordersRepo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to fetch order: %v", err)
	}
	if persisted == nil {
		t.Fatal("order not persisted")
	}

	req = httptest.NewRequest(http.MethodGet, "/carts/session-1", nil)
	rec = httptest.NewRecorder()
	cartMux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("get cart: expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var clearedCart domain.Cart
	if err := json.NewDecoder(rec.Body).Decode(&clearedCart); err != nil {
		t.Fatalf("failed to decode cart: %v", err)
	}
	if len(clearedCart.Items) != 0 {
		t.Fatalf("expected cart cleared after checkout, got %d items", len(clearedCart.Items))
	}
}

func TestListCustomerOrders(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	_, repo, handler := newOrdersServer(t, pg.ConnStr)

	items := []domain.OrderItem{{ProductID: seededProductID, Name: "Sona Masoori Rice 5kg", UnitPrice: 120, Quantity: 1}}
	shipping := domain.Address{Name: "Test", Line1: "1 Paddy Lane", City: "Thanjavur", State: "TN", PostalCode: "613001", Country: "IN"}

	for i := 1; i <= 3; i++ {
		order, err := domain.NewOrder("list-test-customer", items, shipping, domain.PaymentUPI, "", time.Now().UTC())
		if err != nil {
			t.Fatalf("failed to build order %d: %v", i, err)
		}
		if err := repo.Create(ctx, order); err != nil {
			t.Fatalf("failed to create order %d: %v", i, err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/my", handler.HandleMyOrders)

	req := httptest.NewRequest(http.MethodGet, "/orders/my?customer_id=list-test-customer", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var orderList []domain.Order
	if err := json.NewDecoder(rec.Body).Decode(&orderList); err != nil {
		t.Fatalf("failed to decode order list: %v", err)
	}

	if len(orderList) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(orderList))
	}

	for _, order := range orderList {
		if order.CustomerID != "list-test-customer" {
			t.Fatalf("unexpected customer_id: %s", order.CustomerID)
		}
		if len(order.Items) != 1 {
			t.Fatalf("expected 1 item per order, got %d", len(order.Items))
		}
	}
}

// doJSON sends a JSON request to a running test server and decodes the
// response body into out when it is non-nil.
func doJSON(t *testing.T, client *http.Client, method, url, body string, out any) int {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestBulkStatusUpdate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	server, repo, handler := newOrdersServer(t, pg.ConnStr)
	client := server.Client()

	pending := createOrder(t, handler, 1)
	cancelled := createOrder(t, handler, 1)

	code := doJSON(t, client, http.MethodPut, server.URL+"/orders/"+cancelled.ID+"/cancel",
		`{"reason": "changed my mind"}`, nil)
	if code != http.StatusOK {
		t.Fatalf("cancel: expected status %d, got %d", http.StatusOK, code)
	}

	bulkBody := fmt.Sprintf(`{
		"order_ids": [%q, %q, "no-such-order"],
		"status": "processing",
		"actor": "staff-1"
	}`, pending.ID, cancelled.ID)

	var resp struct {
		Updated  []string `json:"updated"`
		Failures []struct {
			OrderID string `json:"order_id"`
			Error   string `json:"error"`
		} `json:"failures"`
	}
	code = doJSON(t, client, http.MethodPut, server.URL+"/orders/status", bulkBody, &resp)
	if code != http.StatusOK {
		t.Fatalf("bulk update: expected status %d, got %d", http.StatusOK, code)
	}

	if len(resp.Updated) != 1 || resp.Updated[0] != pending.ID {
		t.Fatalf("expected only %s updated, got %v", pending.ID, resp.Updated)
	}
	if len(resp.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %d: %+v", len(resp.Failures), resp.Failures)
	}
	for _, failure := range resp.Failures {
		switch failure.OrderID {
		case cancelled.ID:
			if !strings.Contains(failure.Error, "invalid status transition") {
				t.Fatalf("cancelled order failure: unexpected error %q", failure.Error)
			}
		case "no-such-order":
			if !strings.Contains(failure.Error, "not found") {
				t.Fatalf("missing order failure: unexpected error %q", failure.Error)
			}
		default:
			t.Fatalf("unexpected failure for order %s: %q", failure.OrderID, failure.Error)
		}
	}

	updated, err := repo.GetByID(ctx, pending.ID)
	if err != nil {
		t.Fatalf("failed to fetch updated order: %v", err)
	}
	if updated.Status != domain.StatusProcessing {
		t.Fatalf("expected committed status processing, got %s", updated.Status)
	}

	unchanged, err := repo.GetByID(ctx, cancelled.ID)
	if err != nil {
		t.Fatalf("failed to fetch cancelled order: %v", err)
	}
	if unchanged.Status != domain.StatusCancelled {
		t.Fatalf("expected failed order to stay cancelled, got %s", unchanged.Status)
	}
}

func TestTrackingAttachOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	server, repo, handler := newOrdersServer(t, pg.ConnStr)
	client := server.Client()

	order := createOrder(t, handler, 1)

	attachBody := `{"tracking_number": "TRK-001", "courier_provider": "bluedart"}`
	code := doJSON(t, client, http.MethodPut, server.URL+"/orders/"+order.ID+"/tracking", attachBody, nil)
	if code != http.StatusOK {
		t.Fatalf("first attach: expected status %d, got %d", http.StatusOK, code)
	}

	code = doJSON(t, client, http.MethodPut, server.URL+"/orders/"+order.ID+"/tracking",
		`{"tracking_number": "TRK-002", "courier_provider": "delhivery"}`, nil)
	if code != http.StatusConflict {
		t.Fatalf("second attach: expected status %d, got %d", http.StatusConflict, code)
	}

	// The database guard must hold even when the stale-read check is bypassed.
	err := repo.SetTracking(ctx, order.ID, "TRK-003", "dtdc", nil)
	if !errors.Is(err, orders.ErrTrackingAttached) {
		t.Fatalf("expected ErrTrackingAttached, got %v", err)
	}

	persisted, err := repo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to fetch order: %v", err)
	}
	if persisted.TrackingNumber != "TRK-001" || persisted.CourierProvider != "bluedart" {
		t.Fatalf("tracking overwritten: %s / %s", persisted.TrackingNumber, persisted.CourierProvider)
	}
}

func TestKafkaRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers, cleanup := SetupKafka(ctx, t)
	defer cleanup()

	producer := messaging.NewProducer(brokers)
	defer func() { _ = producer.Close() }()

	event := domain.OrderCreatedEvent{
		OrderID:     "round-trip-1",
		OrderNumber: "RM-20260829-ABCDEF",
		CustomerID:  "cust-1",
		TotalPrice:  302,
		Timestamp:   time.Now().UTC(),
	}
	if err := producer.Publish(ctx, orders.TopicOrderCreated, event.OrderID, event); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	consumer := messaging.NewConsumer(brokers, orders.TopicOrderCreated, "integration-test", discardLogger())
	defer func() { _ = consumer.Close() }()

	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()

	var received domain.OrderCreatedEvent
	err := consumer.Consume(consumeCtx, func(_ context.Context, payload []byte) error {
		if err := json.Unmarshal(payload, &received); err != nil {
			return err
		}
		stop()
		return nil
	})
	if err != nil && consumeCtx.Err() == nil {
		t.Fatalf("consumer error: %v", err)
	}

	if received.OrderID != event.OrderID {
		t.Fatalf("expected order ID %s, got %s", event.OrderID, received.OrderID)
	}
}

type emailCapture struct {
	mu     sync.Mutex
	emails []map[string]string
}

func (e *emailCapture) handler(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	e.mu.Lock()
	e.emails = append(e.emails, req)
	e.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, `{"status":"sent"}`)
}

func (e *emailCapture) getEmails() []map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]map[string]string, len(e.emails))
	copy(result, e.emails)
	return result
}

func createOrder(t *testing.T, handler *orders.Handler, quantity int) domain.Order {
	t.Helper()

	reqBody := fmt.Sprintf(`{
		"customer_id": "cust-fulfilment",
		"items": [{"product_id": %q, "name": "Sona Masoori Rice 5kg", "unit_price": 120, "quantity": %d}],
		"shipping_address": {"name": "Test", "line1": "1 Paddy Lane", "city": "Thanjavur", "state": "TN", "postal_code": "613001", "country": "IN"},
		"payment_method": "upi"
	}`, seededProductID, quantity)
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.HandleCreate(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var order domain.Order
	if err := json.NewDecoder(rec.Body).Decode(&order); err != nil {
		t.Fatalf("failed to decode order: %v", err)
	}
	return order
}

func createdEvent(order domain.Order) []byte {
	payload, _ := json.Marshal(domain.OrderCreatedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Items:       order.Items,
		TotalPrice:  order.TotalPrice,
		Timestamp:   order.CreatedAt,
	})
	return payload
}

func TestFulfilmentWithSufficientStock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	catalogServer, catalogRepo := newCatalogServer(t, pg.ConnStr)
	ordersServer, ordersRepo, ordersHandler := newOrdersServer(t, pg.ConnStr)

	emailCap := &emailCapture{}
	emailMux := http.NewServeMux()
	emailMux.HandleFunc("POST /send", emailCap.handler)
	emailServer := httptest.NewServer(emailMux)
	defer emailServer.Close()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	fulfilment := worker.NewFulfilmentHandler(
		catalog.NewClient(catalogServer.URL, httpClient),
		orders.NewClient(ordersServer.URL, httpClient),
		emailServer.URL,
		httpClient,
		discardLogger(),
	)

	order := createOrder(t, ordersHandler, 5)

	if err := fulfilment.HandleOrderCreated(ctx, createdEvent(order)); err != nil {
		t.Fatalf("worker handler failed: %v", err)
	}

	finalOrder, err := ordersRepo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to get order: %v", err)
	}
	if finalOrder.Status != domain.StatusPending {
		t.Fatalf("expected order to stay pending, got %s", finalOrder.Status)
	}

	product, err := catalogRepo.GetByID(ctx, seededProductID)
	if err != nil {
		t.Fatalf("failed to get product: %v", err)
	}
	if product.StockQuantity != 95 {
		t.Fatalf("expected stock 95 after reservation, got %d", product.StockQuantity)
	}

	emails := emailCap.getEmails()
	if len(emails) != 1 {
		t.Fatalf("expected 1 email, got %d", len(emails))
	}
	if !strings.Contains(emails[0]["subject"], "Confirmation") {
		t.Fatalf("expected confirmation email, got subject: %s", emails[0]["subject"])
	}
	if !strings.Contains(emails[0]["subject"], order.OrderNumber) {
		t.Fatalf("expected subject to contain order number %s, got: %s", order.OrderNumber, emails[0]["subject"])
	}
}

func TestFulfilmentWithInsufficientStock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	catalogServer, catalogRepo := newCatalogServer(t, pg.ConnStr)
	ordersServer, ordersRepo, ordersHandler := newOrdersServer(t, pg.ConnStr)

	emailCap := &emailCapture{}
	emailMux := http.NewServeMux()
	emailMux.HandleFunc("POST /send", emailCap.handler)
	emailServer := httptest.NewServer(emailMux)
	defer emailServer.Close()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	fulfilment := worker.NewFulfilmentHandler(
		catalog.NewClient(catalogServer.URL, httpClient),
		orders.NewClient(ordersServer.URL, httpClient),
		emailServer.URL,
		httpClient,
		discardLogger(),
	)

	order := createOrder(t, ordersHandler, 9999)

	if err := fulfilment.HandleOrderCreated(ctx, createdEvent(order)); err != nil {
		t.Fatalf("worker handler failed: %v", err)
	}

	finalOrder, err := ordersRepo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to get order: %v", err)
	}
	if finalOrder.Status != domain.StatusCancelled {
		t.Fatalf("expected order cancelled, got %s", finalOrder.Status)
	}

	product, err := catalogRepo.GetByID(ctx, seededProductID)
	if err != nil {
		t.Fatalf("failed to get product: %v", err)
	}
	if product.StockQuantity != 100 {
		t.Fatalf("expected stock unchanged at 100, got %d", product.StockQuantity)
	}

	emails := emailCap.getEmails()
	if len(emails) != 1 {
		t.Fatalf("expected 1 email, got %d", len(emails))
	}
	if !strings.Contains(emails[0]["subject"], "Cancelled") {
		t.Fatalf("expected cancellation email, got subject: %s", emails[0]["subject"])
	}
	if !strings.Contains(emails[0]["body"], "reimbursed") {
		t.Fatalf("expected email body to mention reimbursement, got: %s", emails[0]["body"])
	}
}
