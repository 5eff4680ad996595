package directory

import (
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ClientRecord is the clients table.
type ClientRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"size:255;not null"`
	VAT       string `gorm:"column:vat;size:32;uniqueIndex;not null"`
	Phone     string `gorm:"size:32;index"`
	Email     string `gorm:"size:255"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName pins the table name shared with the back-office database.
func (ClientRecord) TableName() string { return "clients" }

// BeforeCreate assigns a UUID primary key.
func (c *ClientRecord) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

func (c ClientRecord) toModel() *models.Client {
	return &models.Client{ID: c.ID, Name: c.Name, VAT: c.VAT, Phone: c.Phone, Email: c.Email}
}

// ProductRecord is the products table.
type ProductRecord struct {
	ID          uint     `gorm:"primaryKey"`
	SKU         string   `gorm:"column:sku;size:64;uniqueIndex;not null"`
	Name        string   `gorm:"size:255;not null"`
	Category    string   `gorm:"size:128"`
	Price       float64  `gorm:"not null"`
	Unit        string   `gorm:"size:32"`
	Description string   `gorm:"type:text"`
	Keywords    []string `gorm:"serializer:json;type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName pins the table name shared with the back-office database.
func (ProductRecord) TableName() string { return "products" }

func (p ProductRecord) toModel() models.Product {
	return models.Product{
		SKU:         p.SKU,
		Name:        p.Name,
		Unit:        p.Unit,
		Price:       p.Price,
		Keywords:    append([]string(nil), p.Keywords...),
		Category:    p.Category,
		Description: p.Description,
	}
}
