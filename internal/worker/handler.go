package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/padifield/ricemart/internal/catalog"
	"github.com/padifield/ricemart/internal/domain"
	"github.com/padifield/ricemart/internal/orders"
)

// cancelNoteInsufficientStock marks cancellations issued by this worker when
// reservation fails. Nothing was reserved for such orders, so the status
// handler must not release stock for them.
const cancelNoteInsufficientStock = "insufficient stock"

// FulfilmentHandler reacts to order events: it reserves catalog stock for
// new orders, releases it on cancellation, and notifies the customer through
// the email collaborator.
type FulfilmentHandler struct {
	catalog         *catalog.Client
	orders          *orders.Client
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewFulfilmentHandler(catalogClient *catalog.Client, ordersClient *orders.Client, emailServiceURL string, client *http.Client, logger *slog.Logger) *FulfilmentHandler {
	return &FulfilmentHandler{
		catalog:         catalogClient,
		orders:          ordersClient,
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		logger:          logger,
	}
}

type reservedItem struct {
	ProductID string
	Quantity  int
}

// HandleOrderCreated reserves stock for every line item. When any item
// cannot be reserved the partial reservation is rolled back, the order is
// cancelled, and the customer is told.
func (h *FulfilmentHandler) HandleOrderCreated(ctx context.Context, payload []byte) error {
	var event domain.OrderCreatedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order created event: %w", err)
	}

	h.logger.Info("processing order created event", "order_id", event.OrderID, "customer_id", event.CustomerID)

	reserved, err := h.reserveStock(ctx, event.Items)
	if err != nil {
		h.logger.Error("failed to reserve stock", "error", err, "order_id", event.OrderID)

		h.releaseStock(ctx, reserved)

		if err := h.orders.Cancel(ctx, event.OrderID, cancelNoteInsufficientStock, "system"); err != nil {
			h.logger.Error("failed to cancel order", "error", err, "order_id", event.OrderID)
			return fmt.Errorf("cancel order after stock failure: %w", err)
		}

		if err := h.sendEmail(ctx, event.CustomerID,
			"Order Cancelled: "+event.OrderNumber,
			fmt.Sprintf("Your order %s was cancelled because an item went out of stock. You will be reimbursed.", event.OrderNumber)); err != nil {
			return fmt.Errorf("send cancellation email: %w", err)
		}

		h.logger.Info("order cancelled due to insufficient stock", "order_id", event.OrderID)
		return nil
	}

	if err := h.sendEmail(ctx, event.CustomerID,
		"Order Confirmation: "+event.OrderNumber,
		fmt.Sprintf("Your order %s has been placed with %d items, total %.2f.", event.OrderNumber, len(event.Items), event.TotalPrice)); err != nil {
		return fmt.Errorf("send confirmation email: %w", err)
	}

	h.logger.Info("order fulfilment started", "order_id", event.OrderID)
	return nil
}

// HandleStatusChanged emails the customer about the change and returns stock
// to the catalog when the order was cancelled by a customer or staff member.
func (h *FulfilmentHandler) HandleStatusChanged(ctx context.Context, payload []byte) error {
	var event domain.OrderStatusChangedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal status changed event: %w", err)
	}

	h.logger.Info("processing status change", "order_id", event.OrderID, "status", event.Status)

	if event.Status == domain.StatusCancelled && event.Note != cancelNoteInsufficientStock {
		var items []reservedItem
		for _, item := range event.Items {
			items = append(items, reservedItem{ProductID: item.ProductID, Quantity: item.Quantity})
		}
		h.releaseStock(ctx, items)
	}

	if err := h.sendEmail(ctx, event.CustomerID,
		fmt.Sprintf("Order %s: %s", event.OrderNumber, statusSubject(event.Status)),
		statusBody(event)); err != nil {
		return fmt.Errorf("send status email: %w", err)
	}

	return nil
}

func (h *FulfilmentHandler) reserveStock(ctx context.Context, items []domain.OrderItem) ([]reservedItem, error) {
	var reserved []reservedItem

	for _, item := range items {
		if err := h.catalog.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
			return reserved, err
		}
		reserved = append(reserved, reservedItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	return reserved, nil
}

func (h *FulfilmentHandler) releaseStock(ctx context.Context, reserved []reservedItem) {
	for _, item := range reserved {
		if err := h.catalog.Release(ctx, item.ProductID, item.Quantity); err != nil {
			h.logger.Error("failed to release stock", "error", err, "product_id", item.ProductID)
		}
	}
}

func (h *FulfilmentHandler) sendEmail(ctx context.Context, customerID, subject, body string) error {
	data, err := json.Marshal(map[string]string{
		"to":      customerID + "@example.com",
		"subject": subject,
		"body":    body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}

func statusSubject(status domain.OrderStatus) string {
	switch status {
	case domain.StatusProcessing:
		return "confirmed"
	case domain.StatusPacked:
		return "packed"
	case domain.StatusShipped:
		return "shipped"
	case domain.StatusOutForDelivery:
		return "out for delivery"
	case domain.StatusDelivered:
		return "delivered"
	case domain.StatusCancelled:
		return "cancelled"
	case domain.StatusReturned:
		return "return received"
	case domain.StatusRefunded:
		return "refund issued"
	}
	return string(status)
}

func statusBody(event domain.OrderStatusChangedEvent) string {
	body := fmt.Sprintf("Your order %s is now %s.", event.OrderNumber, statusSubject(event.Status))
	if event.Note != "" {
		body += " Note: " + event.Note
	}
	return body
}
