package domain

import (
	"errors"
	"time"
)

var ErrEmptyCart = errors.New("cart has no items")

type PaymentMethod string

const (
	PaymentCard           PaymentMethod = "card"
	PaymentUPI            PaymentMethod = "upi"
	PaymentCashOnDelivery PaymentMethod = "cod"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCard, PaymentUPI, PaymentCashOnDelivery:
		return true
	}
	return false
}

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// OrderItem is a price snapshot taken at order creation. Later catalog
// changes never touch it.
type OrderItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
}

// StatusEvent is one entry of the append-only status history.
type StatusEvent struct {
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Note      string      `json:"note,omitempty"`
	UpdatedBy string      `json:"updated_by"`
}

type Order struct {
	ID          string        `json:"id"`
	OrderNumber string        `json:"order_number"`
	CustomerID  string        `json:"customer_id"`
	Items       []OrderItem   `json:"items"`
	Shipping    Address       `json:"shipping_address"`
	Payment     PaymentMethod `json:"payment_method"`

	ItemsPrice    float64 `json:"items_price"`
	TaxPrice      float64 `json:"tax_price"`
	ShippingPrice float64 `json:"shipping_price"`
	DiscountPrice float64 `json:"discount_price"`
	TotalPrice    float64 `json:"total_price"`

	Status        OrderStatus   `json:"status"`
	StatusHistory []StatusEvent `json:"status_history"`

	IsPaid      bool       `json:"is_paid"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	IsDelivered bool       `json:"is_delivered"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`

	TrackingNumber        string     `json:"tracking_number,omitempty"`
	CourierProvider       string     `json:"courier_provider,omitempty"`
	EstimatedDeliveryDate *time.Time `json:"estimated_delivery_date,omitempty"`
	CancellationReason    string     `json:"cancellation_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewOrder snapshots cart line items into a pending order and prices it with
// the same rules the cart uses. Identity (id, order number) is assigned by
// the caller; client-proposed values are never kept.
func NewOrder(customerID string, items []OrderItem, shipping Address, payment PaymentMethod, couponCode string, now time.Time) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	var itemsPrice float64
	for _, item := range items {
		itemsPrice += item.UnitPrice * float64(item.Quantity)
	}
	shippingPrice := ShippingFee(itemsPrice)
	taxPrice := itemsPrice * TaxRate
	discount := CouponDiscount(couponCode, itemsPrice)

	return &Order{
		CustomerID:    customerID,
		Items:         items,
		Shipping:      shipping,
		Payment:       payment,
		ItemsPrice:    itemsPrice,
		TaxPrice:      taxPrice,
		ShippingPrice: shippingPrice,
		DiscountPrice: discount,
		TotalPrice:    itemsPrice + shippingPrice + taxPrice - discount,
		Status:        StatusPending,
		StatusHistory: []StatusEvent{{
			Status:    StatusPending,
			Timestamp: now,
			Note:      "order placed",
			UpdatedBy: customerID,
		}},
		CreatedAt: now,
	}, nil
}

// MarkPaid records payment confirmation. Paying twice keeps the first
// timestamp.
func (o *Order) MarkPaid(now time.Time) {
	if o.IsPaid {
		return
	}
	o.IsPaid = true
	o.PaidAt = &now
}
