package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/padifield/ricemart/internal/catalog"
	"github.com/padifield/ricemart/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandler_HandleCatalog(t *testing.T) {
	t.Run("proxies product listing with query string", func(t *testing.T) {
		catalogServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/products" {
				t.Errorf("expected /products, got %s", r.URL.Path)
			}
			if r.URL.Query().Get("q") != "basmati" {
				t.Errorf("query string lost: %s", r.URL.RawQuery)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"items":[],"total":0,"page":1,"limit":20}`))
		}))
		defer catalogServer.Close()

		handler := NewHandler(
			NewServiceProxy(catalogServer.URL, catalogServer.Client()),
			NewServiceProxy("http://unused", http.DefaultClient),
			NewServiceProxy("http://unused", http.DefaultClient),
			catalog.NewClient(catalogServer.URL, catalogServer.Client()),
			discardLogger(),
		)

		req := httptest.NewRequest(http.MethodGet, "/products?q=basmati", nil)
		rec := httptest.NewRecorder()

		handler.HandleCatalog(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})

	t.Run("returns 502 when catalog unavailable", func(t *testing.T) {
		handler := NewHandler(
			NewServiceProxy("http://localhost:99999", &http.Client{Timeout: time.Second}),
			NewServiceProxy("http://unused", http.DefaultClient),
			NewServiceProxy("http://unused", http.DefaultClient),
			catalog.NewClient("http://unused", http.DefaultClient),
			discardLogger(),
		)

		req := httptest.NewRequest(http.MethodGet, "/products", nil)
		rec := httptest.NewRecorder()

		handler.HandleCatalog(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected status 502, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleOrders(t *testing.T) {
	t.Run("proxies POST with body and role header", func(t *testing.T) {
		ordersServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `"customer_id":"cust-1"`) {
				t.Errorf("unexpected body: %s", body)
			}
			if r.Header.Get("X-Role") != "staff" {
				t.Errorf("role header lost: %q", r.Header.Get("X-Role"))
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"o1"}`))
		}))
		defer ordersServer.Close()

		handler := NewHandler(
			NewServiceProxy("http://unused", http.DefaultClient),
			NewServiceProxy("http://unused", http.DefaultClient),
			NewServiceProxy(ordersServer.URL, ordersServer.Client()),
			catalog.NewClient("http://unused", http.DefaultClient),
			discardLogger(),
		)

		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"customer_id":"cust-1"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Role", "staff")
		rec := httptest.NewRecorder()

		handler.HandleOrders(rec, req)

		if rec.Code != http.StatusCreated {
			t.Errorf("expected status 201, got %d", rec.Code)
		}
	})

	t.Run("preserves downstream error status", func(t *testing.T) {
		ordersServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"invalid status transition"}`))
		}))
		defer ordersServer.Close()

		handler := NewHandler(
			NewServiceProxy("http://unused", http.DefaultClient),
			NewServiceProxy("http://unused", http.DefaultClient),
			NewServiceProxy(ordersServer.URL, ordersServer.Client()),
			catalog.NewClient("http://unused", http.DefaultClient),
			discardLogger(),
		)

		req := httptest.NewRequest(http.MethodPut, "/orders/o1/status", strings.NewReader(`{"status":"shipped"}`))
		rec := httptest.NewRecorder()

		handler.HandleOrders(rec, req)

		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleFeatured(t *testing.T) {
	t.Run("serves featured products", func(t *testing.T) {
		catalogServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("featured") != "true" {
				t.Errorf("expected featured=true, got %s", r.URL.RawQuery)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"items":[{"id":"p1","name":"ponni raw rice","price":95}],"total":1,"page":1,"limit":20}`))
		}))
		defer catalogServer.Close()

		handler := NewHandler(
			NewServiceProxy(catalogServer.URL, catalogServer.Client()),
			NewServiceProxy("http://unused", http.DefaultClient),
			NewServiceProxy("http://unused", http.DefaultClient),
			catalog.NewClient(catalogServer.URL, catalogServer.Client()),
			discardLogger(),
		)

		req := httptest.NewRequest(http.MethodGet, "/featured", nil)
		rec := httptest.NewRecorder()

		handler.HandleFeatured(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}

		var products []domain.Product
		if err := json.Unmarshal(rec.Body.Bytes(), &products); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if len(products) != 1 || products[0].ID != "p1" {
			t.Errorf("unexpected products: %+v", products)
		}
	})

	t.Run("returns 502 after retries are exhausted", func(t *testing.T) {
		catalogServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer catalogServer.Close()

		client := catalog.NewClient(catalogServer.URL, catalogServer.Client())
		client.RetryDelay = time.Millisecond

		handler := NewHandler(
			NewServiceProxy(catalogServer.URL, catalogServer.Client()),
			NewServiceProxy("http://unused", http.DefaultClient),
			NewServiceProxy("http://unused", http.DefaultClient),
			client,
			discardLogger(),
		)

		req := httptest.NewRequest(http.MethodGet, "/featured", nil)
		rec := httptest.NewRecorder()

		handler.HandleFeatured(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected status 502, got %d", rec.Code)
		}
	})
}
