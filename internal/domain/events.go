package domain

import "time"

type OrderCreatedEvent struct {
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	CustomerID  string      `json:"customer_id"`
	Items       []OrderItem `json:"items"`
	TotalPrice  float64     `json:"total_price"`
	Timestamp   time.Time   `json:"timestamp"`
}

type OrderStatusChangedEvent struct {
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	CustomerID  string      `json:"customer_id"`
	Status      OrderStatus `json:"status"`
	Note        string      `json:"note,omitempty"`
	Items       []OrderItem `json:"items,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}
