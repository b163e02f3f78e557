package domain

// couponRules maps coupon codes to percentage discounts. The discount
// applies to the subtotal only, never to shipping or tax.
var couponRules = map[string]float64{
	"HARVEST10": 10,
	"NEWCROP5":  5,
	"BASMATI15": 15,
}

// CouponDiscount returns the discount amount for a code against a subtotal.
// Unknown or empty codes yield zero.
func CouponDiscount(code string, subtotal float64) float64 {
	pct, ok := couponRules[code]
	if !ok {
		return 0
	}
	return subtotal * pct / 100
}
