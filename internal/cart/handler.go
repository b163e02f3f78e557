package cart

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/padifield/ricemart/internal/catalog"
	"github.com/padifield/ricemart/internal/domain"
	"github.com/padifield/ricemart/internal/orders"
)

type Handler struct {
	store   SnapshotStore
	catalog *catalog.Client
	orders  *orders.Client
	logger  *slog.Logger
}

func NewHandler(store SnapshotStore, catalogClient *catalog.Client, ordersClient *orders.Client, logger *slog.Logger) *Handler {
	return &Handler{
		store:   store,
		catalog: catalogClient,
		orders:  ordersClient,
		logger:  logger,
	}
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	cart, ok := h.loadCart(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, cart)
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProductID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	product, err := h.catalog.GetProduct(r.Context(), req.ProductID)
	if err != nil {
		h.logger.Error("failed to fetch product", "error", err, "product_id", req.ProductID)
		h.writeError(w, http.StatusBadGateway, "catalog unavailable")
		return
	}
	if product == nil {
		h.writeError(w, http.StatusNotFound, "product not found")
		return
	}

	cart, ok := h.loadCart(w, r)
	if !ok {
		return
	}

	if err := cart.AddItem(*product, req.Quantity); err != nil {
		if errors.Is(err, domain.ErrOutOfStock) {
			h.writeError(w, http.StatusConflict, "product is out of stock")
			return
		}
		h.logger.Error("failed to add item", "error", err, "product_id", req.ProductID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !h.saveCart(w, r, sessionID, cart) {
		return
	}

	h.logger.Info("item added to cart", "session_id", sessionID, "product_id", req.ProductID, "quantity", req.Quantity)
	h.writeJSON(w, http.StatusOK, cart)
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) HandleUpdateQuantity(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	productID := r.PathValue("productId")

	var req updateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cart, ok := h.loadCart(w, r)
	if !ok {
		return
	}

	cart.UpdateQuantity(productID, req.Quantity)

	if !h.saveCart(w, r, sessionID, cart) {
		return
	}

	h.logger.Info("cart quantity updated", "session_id", sessionID, "product_id", productID, "quantity", req.Quantity)
	h.writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	productID := r.PathValue("productId")

	cart, ok := h.loadCart(w, r)
	if !ok {
		return
	}

	cart.RemoveItem(productID)

	if !h.saveCart(w, r, sessionID, cart) {
		return
	}

	h.logger.Info("item removed from cart", "session_id", sessionID, "product_id", productID)
	h.writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")

	cart, ok := h.loadCart(w, r)
	if !ok {
		return
	}

	cart.Clear()

	if !h.saveCart(w, r, sessionID, cart) {
		return
	}

	h.logger.Info("cart cleared", "session_id", sessionID)
	h.writeJSON(w, http.StatusOK, cart)
}

type applyCouponRequest struct {
	Code string `json:"code"`
}

func (h *Handler) HandleApplyCoupon(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")

	var req applyCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cart, ok := h.loadCart(w, r)
	if !ok {
		return
	}

	if err := cart.ApplyCoupon(req.Code); err != nil {
		if errors.Is(err, domain.ErrInvalidCoupon) {
			h.writeError(w, http.StatusUnprocessableEntity, "invalid coupon code")
			return
		}
		h.logger.Error("failed to apply coupon", "error", err, "session_id", sessionID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !h.saveCart(w, r, sessionID, cart) {
		return
	}

	h.logger.Info("coupon applied", "session_id", sessionID, "code", req.Code)
	h.writeJSON(w, http.StatusOK, cart)
}

type checkoutRequest struct {
	CustomerID      string               `json:"customer_id"`
	ShippingAddress domain.Address       `json:"shipping_address"`
	PaymentMethod   domain.PaymentMethod `json:"payment_method"`
}

// HandleCheckout converts the cart into an order at the orders service and
// clears the cart once the order is accepted. A failed order creation leaves
// the cart untouched.
func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CustomerID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.PaymentMethod.Valid() {
		h.writeError(w, http.StatusBadRequest, "unknown payment method")
		return
	}

	cart, ok := h.loadCart(w, r)
	if !ok {
		return
	}
	if len(cart.Items) == 0 {
		h.writeError(w, http.StatusBadRequest, "cart has no items")
		return
	}

	items := make([]domain.OrderItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}

	order, err := h.orders.Create(r.Context(), orders.CreateOrderRequest{
		CustomerID:      req.CustomerID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		CouponCode:      cart.CouponCode,
	})
	if err != nil {
		h.logger.Error("checkout failed", "error", err, "session_id", sessionID)
		h.writeError(w, http.StatusBadGateway, "order creation failed")
		return
	}

	if err := h.store.Delete(r.Context(), sessionID); err != nil {
		// The order exists; losing the clear only leaves a stale snapshot.
		h.logger.Error("failed to clear cart after checkout", "error", err, "session_id", sessionID)
	}

	h.logger.Info("checkout complete", "session_id", sessionID, "order_id", order.ID, "order_number", order.OrderNumber)
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) loadCart(w http.ResponseWriter, r *http.Request) (*domain.Cart, bool) {
	sessionID := r.PathValue("sessionId")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, "missing session id")
		return nil, false
	}

	cart, err := h.store.Load(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to load cart", "error", err, "session_id", sessionID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	if cart == nil {
		cart = &domain.Cart{}
		cart.Recalculate()
	}

	return cart, true
}

func (h *Handler) saveCart(w http.ResponseWriter, r *http.Request, sessionID string, cart *domain.Cart) bool {
	if err := h.store.Save(r.Context(), sessionID, cart); err != nil {
		h.logger.Error("failed to persist cart", "error", err, "session_id", sessionID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
