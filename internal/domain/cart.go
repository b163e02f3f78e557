package domain

import "errors"

// Pricing constants for the storefront, in rupees.
const (
	FreeShippingThreshold = 500.0
	FlatShippingFee       = 50.0
	TaxRate               = 0.05
)

var (
	ErrOutOfStock    = errors.New("product is out of stock")
	ErrInvalidCoupon = errors.New("invalid coupon code")
)

type CartLineItem struct {
	ProductID      string  `json:"product_id"`
	Name           string  `json:"name"`
	UnitPrice      float64 `json:"unit_price"`
	Quantity       int     `json:"quantity"`
	AvailableStock int     `json:"available_stock"`
}

// Cart is the per-session cart aggregate. Items keep insertion order;
// the derived fields are recomputed in full after every mutation and are
// never read back from a persisted snapshot.
type Cart struct {
	Items      []CartLineItem `json:"items"`
	CouponCode string         `json:"coupon_code,omitempty"`

	ItemCount   int     `json:"item_count"`
	Subtotal    float64 `json:"subtotal"`
	ShippingFee float64 `json:"shipping_fee"`
	Tax         float64 `json:"tax"`
	Discount    float64 `json:"discount"`
	Total       float64 `json:"total"`
}

// AddItem appends a line item for the product, or accumulates quantity if
// the product is already in the cart. The product carries the current price
// and stock ceiling from the catalog; quantity is clamped to available
// stock. Adding a product with zero stock is rejected without mutation.
func (c *Cart) AddItem(p Product, quantity int) error {
	if p.StockQuantity < 1 {
		return ErrOutOfStock
	}
	if quantity < 1 {
		quantity = 1
	}

	for i := range c.Items {
		if c.Items[i].ProductID == p.ID {
			c.Items[i].Name = p.Name
			c.Items[i].UnitPrice = p.Price
			c.Items[i].AvailableStock = p.StockQuantity
			c.Items[i].Quantity = clampQuantity(c.Items[i].Quantity+quantity, p.StockQuantity)
			c.Recalculate()
			return nil
		}
	}

	c.Items = append(c.Items, CartLineItem{
		ProductID:      p.ID,
		Name:           p.Name,
		UnitPrice:      p.Price,
		Quantity:       clampQuantity(quantity, p.StockQuantity),
		AvailableStock: p.StockQuantity,
	})
	c.Recalculate()
	return nil
}

// UpdateQuantity sets the quantity for a line item, clamped to
// [1, availableStock]. A quantity of zero or less removes the item.
// Unknown product ids are a no-op, but totals are still recomputed.
func (c *Cart) UpdateQuantity(productID string, quantity int) {
	if quantity <= 0 {
		c.RemoveItem(productID)
		return
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity = clampQuantity(quantity, c.Items[i].AvailableStock)
			break
		}
	}
	c.Recalculate()
}

// RemoveItem drops the line item if present. Removing an absent item is not
// an error.
func (c *Cart) RemoveItem(productID string) {
	kept := c.Items[:0]
	for _, item := range c.Items {
		if item.ProductID != productID {
			kept = append(kept, item)
		}
	}
	c.Items = kept
	c.Recalculate()
}

// Clear empties the cart and drops any applied coupon.
func (c *Cart) Clear() {
	c.Items = nil
	c.CouponCode = ""
	c.Recalculate()
}

// ApplyCoupon checks the code against the static rule table. An unknown code
// is rejected and the cart is left untouched.
func (c *Cart) ApplyCoupon(code string) error {
	if _, ok := couponRules[code]; !ok {
		return ErrInvalidCoupon
	}
	c.CouponCode = code
	c.Recalculate()
	return nil
}

// Recalculate rederives all totals from the line items. It runs after every
// mutation and after rehydrating a persisted snapshot.
func (c *Cart) Recalculate() {
	c.ItemCount = 0
	c.Subtotal = 0
	for _, item := range c.Items {
		c.ItemCount += item.Quantity
		c.Subtotal += item.UnitPrice * float64(item.Quantity)
	}
	c.ShippingFee = ShippingFee(c.Subtotal)
	c.Tax = c.Subtotal * TaxRate
	c.Discount = CouponDiscount(c.CouponCode, c.Subtotal)
	c.Total = c.Subtotal + c.ShippingFee + c.Tax - c.Discount
}

// ShippingFee is zero for an empty cart and for subtotals at or above the
// free shipping threshold, flat otherwise.
func ShippingFee(subtotal float64) float64 {
	if subtotal == 0 || subtotal >= FreeShippingThreshold {
		return 0
	}
	return FlatShippingFee
}

func clampQuantity(quantity, stock int) int {
	if quantity > stock {
		return stock
	}
	if quantity < 1 {
		return 1
	}
	return quantity
}
