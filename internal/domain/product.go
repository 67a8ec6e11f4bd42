package domain

// Product is the catalog row this service reads prices from and whose
// quantity it maintains.
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Quantity    int    `json:"quantity"`
	MinQuantity *int   `json:"min_quantity,omitempty"`
}

// BelowMinimum reports whether quantity breaches minQuantity. A nil minimum never does.
func BelowMinimum(quantity int, minQuantity *int) bool {
	return minQuantity != nil && quantity < *minQuantity
}
