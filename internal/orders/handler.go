package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/padifield/ricemart/internal/domain"
	"github.com/padifield/ricemart/internal/messaging"
)

const (
	TopicOrderCreated = "order.created"
	TopicOrderStatus  = "order.status"
	roleHeader        = "X-Role"
	defaultStaffActor = "staff"
)

type Handler struct {
	repo     *OrderRepository
	producer *messaging.Producer
	logger   *slog.Logger
}

func NewHandler(repo *OrderRepository, producer *messaging.Producer, logger *slog.Logger) *Handler {
	return &Handler{
		repo:     repo,
		producer: producer,
		logger:   logger,
	}
}

// requestRole reads the authenticated role forwarded by the edge. Auth
// itself is a collaborator; an absent or unknown value falls back to the
// given default.
func requestRole(r *http.Request, fallback domain.Role) domain.Role {
	switch role := domain.Role(r.Header.Get(roleHeader)); role {
	case domain.RoleCustomer, domain.RoleStaff, domain.RoleAdmin:
		return role
	}
	return fallback
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CustomerID == "" {
		h.writeError(w, http.StatusBadRequest, "missing customer id")
		return
	}
	if !req.PaymentMethod.Valid() {
		h.writeError(w, http.StatusBadRequest, "unknown payment method")
		return
	}

	// req.OrderNumber is deliberately ignored; identity is server-assigned.
	order, err := domain.NewOrder(req.CustomerID, req.Items, req.ShippingAddress,
		req.PaymentMethod, req.CouponCode, time.Now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrEmptyCart) {
			h.writeError(w, http.StatusBadRequest, "cart has no items")
			return
		}
		h.logger.Error("failed to build order", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := h.repo.Create(r.Context(), order); err != nil {
		h.logger.Error("failed to create order", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if h.producer != nil {
		event := domain.OrderCreatedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			CustomerID:  order.CustomerID,
			Items:       order.Items,
			TotalPrice:  order.TotalPrice,
			Timestamp:   order.CreatedAt,
		}
		if err := h.producer.Publish(r.Context(), TopicOrderCreated, order.ID, event); err != nil {
			h.logger.Error("failed to publish order created event", "error", err, "order_id", order.ID)
		}
	}

	h.logger.Info("order created", "order_id", order.ID, "order_number", order.OrderNumber, "customer_id", order.CustomerID)
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.repo.List(r.Context(), "")
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleMyOrders(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		h.writeError(w, http.StatusBadRequest, "missing customer id")
		return
	}

	orders, err := h.repo.List(r.Context(), customerID)
	if err != nil {
		h.logger.Error("failed to list customer orders", "error", err, "customer_id", customerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
	Note   string             `json:"note"`
	Actor  string             `json:"actor"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Actor == "" {
		req.Actor = defaultStaffActor
	}

	role := requestRole(r, domain.RoleStaff)

	order, err := h.transition(r.Context(), id, req.Status, req.Note, req.Actor, role)
	if err != nil {
		h.writeTransitionError(w, err, id)
		return
	}

	h.logger.Info("order status updated", "order_id", order.ID, "status", order.Status, "actor", req.Actor)
	h.writeJSON(w, http.StatusOK, order)
}

type bulkStatusRequest struct {
	OrderIDs []string           `json:"order_ids"`
	Status   domain.OrderStatus `json:"status"`
	Note     string             `json:"note"`
	Actor    string             `json:"actor"`
}

type bulkFailure struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error"`
}

type bulkStatusResponse struct {
	Updated  []string      `json:"updated"`
	Failures []bulkFailure `json:"failures"`
}

// HandleBulkUpdateStatus applies the transition to each order independently.
// Successes commit, failures are collected and reported; the batch is not
// atomic.
func (h *Handler) HandleBulkUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req bulkStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.OrderIDs) == 0 {
		h.writeError(w, http.StatusBadRequest, "missing order ids")
		return
	}
	if req.Actor == "" {
		req.Actor = defaultStaffActor
	}

	role := requestRole(r, domain.RoleStaff)

	resp := bulkStatusResponse{Updated: []string{}, Failures: []bulkFailure{}}
	for _, id := range req.OrderIDs {
		if _, err := h.transition(r.Context(), id, req.Status, req.Note, req.Actor, role); err != nil {
			resp.Failures = append(resp.Failures, bulkFailure{OrderID: id, Error: err.Error()})
			continue
		}
		resp.Updated = append(resp.Updated, id)
	}

	h.logger.Info("bulk status update", "status", req.Status, "updated", len(resp.Updated), "failed", len(resp.Failures))
	h.writeJSON(w, http.StatusOK, resp)
}

type cancelRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	role := requestRole(r, domain.RoleCustomer)

	order, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	actor := req.Actor
	if actor == "" {
		actor = order.CustomerID
	}

	from := order.Status
	if err := order.Cancel(req.Reason, actor, role, time.Now().UTC()); err != nil {
		h.writeTransitionError(w, err, id)
		return
	}

	if err := h.repo.SaveTransition(r.Context(), order, from); err != nil {
		h.writeTransitionError(w, err, id)
		return
	}

	h.publishStatusChange(r.Context(), order, req.Reason)

	h.logger.Info("order cancelled", "order_id", order.ID, "reason", req.Reason, "actor", actor)
	h.writeJSON(w, http.StatusOK, order)
}

type trackingRequest struct {
	TrackingNumber        string     `json:"tracking_number"`
	CourierProvider       string     `json:"courier_provider"`
	EstimatedDeliveryDate *time.Time `json:"estimated_delivery_date,omitempty"`
}

// HandleTracking attaches courier metadata to an order. Tracking attaches
// once; re-attachment is rejected.
func (h *Handler) HandleTracking(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req trackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TrackingNumber == "" || req.CourierProvider == "" {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if order.TrackingNumber != "" {
		h.writeError(w, http.StatusConflict, "tracking already attached")
		return
	}

	if err := h.repo.SetTracking(r.Context(), id, req.TrackingNumber, req.CourierProvider, req.EstimatedDeliveryDate); err != nil {
		if errors.Is(err, ErrTrackingAttached) {
			h.writeError(w, http.StatusConflict, "tracking already attached")
			return
		}
		h.logger.Error("failed to set tracking", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	order.TrackingNumber = req.TrackingNumber
	order.CourierProvider = req.CourierProvider
	order.EstimatedDeliveryDate = req.EstimatedDeliveryDate

	h.logger.Info("tracking attached", "order_id", id, "courier", req.CourierProvider, "tracking_number", req.TrackingNumber)
	h.writeJSON(w, http.StatusOK, order)
}

// HandlePay records payment confirmation from the payment collaborator.
func (h *Handler) HandlePay(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	now := time.Now().UTC()
	if err := h.repo.MarkPaid(r.Context(), id, now); err != nil {
		h.logger.Error("failed to mark order paid", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	order.MarkPaid(now)

	h.logger.Info("order paid", "order_id", id)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to compute order stats", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// transition loads, validates, applies and persists a single status change,
// then publishes the change event.
func (h *Handler) transition(ctx context.Context, id string, to domain.OrderStatus, note, actor string, role domain.Role) (*domain.Order, error) {
	order, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errNotFound
	}

	from := order.Status
	if err := order.Transition(to, note, actor, role, time.Now().UTC()); err != nil {
		return nil, err
	}

	if err := h.repo.SaveTransition(ctx, order, from); err != nil {
		return nil, err
	}

	h.publishStatusChange(ctx, order, note)
	return order, nil
}

func (h *Handler) publishStatusChange(ctx context.Context, order *domain.Order, note string) {
	if h.producer == nil {
		return
	}
	event := domain.OrderStatusChangedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Status:      order.Status,
		Note:        note,
		Items:       order.Items,
		Timestamp:   time.Now().UTC(),
	}
	if err := h.producer.Publish(ctx, TopicOrderStatus, order.ID, event); err != nil {
		h.logger.Error("failed to publish status change event", "error", err, "order_id", order.ID)
	}
}

var errNotFound = errors.New("order not found")

func (h *Handler) writeTransitionError(w http.ResponseWriter, err error, id string) {
	switch {
	case errors.Is(err, errNotFound):
		h.writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrConcurrentUpdate):
		h.writeError(w, http.StatusConflict, "order was modified concurrently")
	default:
		h.logger.Error("failed to update order status", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
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
