package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/padifield/ricemart/internal/catalog"
)

// Handler is the single storefront origin: it proxies catalog, cart and
// orders traffic and serves the featured-products landing list through a
// retrying catalog client.
type Handler struct {
	catalogProxy *ServiceProxy
	cartProxy    *ServiceProxy
	ordersProxy  *ServiceProxy
	catalog      *catalog.Client
	logger       *slog.Logger
}

func NewHandler(catalogProxy, cartProxy, ordersProxy *ServiceProxy, catalogClient *catalog.Client, logger *slog.Logger) *Handler {
	return &Handler{
		catalogProxy: catalogProxy,
		cartProxy:    cartProxy,
		ordersProxy:  ordersProxy,
		catalog:      catalogClient,
		logger:       logger,
	}
}

func (h *Handler) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.catalogProxy, r.URL.Path)
}

func (h *Handler) HandleCart(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.cartProxy, r.URL.Path)
}

func (h *Handler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.ordersProxy, r.URL.Path)
}

// HandleFeatured serves the landing-page product strip. The catalog client
// retries transient failures before giving up.
func (h *Handler) HandleFeatured(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.Featured(r.Context())
	if err != nil {
		h.logger.Error("failed to fetch featured products", "error", err)
		h.writeError(w, http.StatusBadGateway, "catalog unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(products); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "path", path)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Info("request proxied", "method", r.Method, "path", path, "status", resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
