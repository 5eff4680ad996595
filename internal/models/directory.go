package models

// Client is a verified business customer, owned by the client directory.
type Client struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	VAT   string `json:"vat"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// Product is a catalog entry the order parser may reference by SKU.
type Product struct {
	SKU         string   `json:"sku"`
	Name        string   `json:"name"`
	Unit        string   `json:"unit"`
	Price       float64  `json:"price"`
	Keywords    []string `json:"keywords,omitempty"`
	Category    string   `json:"category"`
	Description string   `json:"description,omitempty"`
}
