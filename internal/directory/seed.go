package directory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"gorm.io/gorm/clause"
)

// SeedData is the provisioning payload for a fresh directory.
type SeedData struct {
	Clients  []models.Client
	Products []models.Product
}

// SeedResult counts the rows written by Seed.
type SeedResult struct {
	Clients  int
	Products int
}

// Seed upserts clients by tax id and products by SKU.
func (d *Directory) Seed(ctx context.Context, data SeedData) (SeedResult, error) {
	var res SeedResult
	db := d.db.WithContext(ctx)
	for _, c := range data.Clients {
		rec := ClientRecord{Name: c.Name, VAT: c.VAT, Phone: c.Phone, Email: c.Email}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vat"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "phone", "email", "updated_at"}),
		}).Create(&rec).Error
		if err != nil {
			return res, fmt.Errorf("directory: seed client %s: %w", c.VAT, err)
		}
		res.Clients++
	}
	for _, p := range data.Products {
		rec := ProductRecord{
			SKU:         p.SKU,
			Name:        p.Name,
			Category:    p.Category,
			Price:       p.Price,
			Unit:        p.Unit,
			Description: p.Description,
			Keywords:    p.Keywords,
		}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sku"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "category", "price", "unit", "description", "keywords", "updated_at"}),
		}).Create(&rec).Error
		if err != nil {
			return res, fmt.Errorf("directory: seed product %s: %w", p.SKU, err)
		}
		res.Products++
	}
	slog.Info("Directory.Seed: provisioning complete", "clients", res.Clients, "products", res.Products)
	return res, nil
}

// DefaultSeed is the sample catalog and client list used for demos and local development.
func DefaultSeed() SeedData {
	return SeedData{
		Clients: []models.Client{
			{Name: "S.C. MEGA IMAGE S.R.L.", VAT: "RO12345678", Phone: "0721123456", Email: "comenzi@megaimage.ro"},
			{Name: "S.C. CARREFOUR ROMANIA S.A.", VAT: "RO23456789", Phone: "0722234567", Email: "orders@carrefour.ro"},
			{Name: "S.C. AUCHAN ROMANIA S.A.", VAT: "RO34567890", Phone: "0723345678", Email: "comenzi@auchan.ro"},
			{Name: "S.C. KAUFLAND ROMANIA S.C.S.", VAT: "RO45678901", Phone: "0724456789", Email: "orders@kaufland.ro"},
			{Name: "S.C. LIDL DISCOUNT S.R.L.", VAT: "RO56789012", Phone: "0725567890", Email: "comenzi@lidl.ro"},
			{Name: "Restaurant Crama Domneasca", VAT: "RO67890123", Phone: "0726678901", Email: "contact@cramadomneasca.ro"},
			{Name: "Hotel Continental Bucuresti", VAT: "RO78901234", Phone: "0727789012", Email: "procurement@continental.ro"},
			{Name: "S.C. METRO CASH & CARRY ROMANIA S.R.L.", VAT: "RO89012345", Phone: "0728890123", Email: "orders@metro.ro"},
			{Name: "Pensiunea Casa Veche", VAT: "RO90123456", Phone: "0729901234", Email: "rezervari@casaveche.ro"},
			{Name: "S.C. SELGROS CASH & CARRY S.R.L.", VAT: "RO01234567", Phone: "0730012345", Email: "comenzi@selgros.ro"},
		},
		Products: []models.Product{
			{SKU: "BEV-001", Name: "Coca-Cola", Category: "Băuturi Răcoritoare", Price: 5.99, Unit: "sticla", Description: "Sticlă de plastic 0.5L Coca-Cola", Keywords: []string{"suc", "răcoritoare", "cola", "coke"}},
			{SKU: "BEV-002", Name: "Pepsi", Category: "Băuturi Răcoritoare", Price: 5.49, Unit: "sticla", Description: "Sticlă de plastic 0.5L Pepsi", Keywords: []string{"suc", "răcoritoare", "pepsi"}},
			{SKU: "BEV-003", Name: "Fanta Portocale", Category: "Băuturi Răcoritoare", Price: 4.99, Unit: "sticla", Description: "Sticlă de plastic 0.5L Fanta Portocale", Keywords: []string{"suc", "răcoritoare", "portocale", "fanta"}},
			{SKU: "BEV-004", Name: "Sprite", Category: "Băuturi Răcoritoare", Price: 4.99, Unit: "sticla", Description: "Sticlă de plastic 0.5L Sprite", Keywords: []string{"suc", "răcoritoare", "lămâie", "sprite"}},
			{SKU: "BEV-005", Name: "Apă Plată Dorna", Category: "Apă", Price: 3.49, Unit: "sticla", Keywords: []string{"apă", "plată", "dorna"}},
			{SKU: "BEV-006", Name: "Apă Minerală Dorna", Category: "Apă", Price: 3.99, Unit: "sticla", Keywords: []string{"apă", "minerală", "dorna"}},
			{SKU: "BEV-007", Name: "Coca-Cola Doză", Category: "Băuturi Răcoritoare", Price: 4.49, Unit: "doză", Keywords: []string{"suc", "cola", "doză"}},
			{SKU: "BEV-008", Name: "Bere Heineken", Category: "Băuturi Alcoolice", Price: 6.99, Unit: "sticlă", Keywords: []string{"bere", "heineken"}},
			{SKU: "BEV-009", Name: "Bere Ursus", Category: "Băuturi Alcoolice", Price: 5.49, Unit: "sticlă", Keywords: []string{"bere", "ursus"}},
			{SKU: "BEV-010", Name: "Suc de Portocale", Category: "Sucuri", Price: 7.99, Unit: "sticlă", Keywords: []string{"suc", "portocale", "natural"}},
			{SKU: "LAC-001", Name: "Lapte Zuzu 1.5%", Category: "Lactate", Price: 8.9, Unit: "cutie", Keywords: []string{"lapte", "zuzu"}},
			{SKU: "LAC-002", Name: "Brânză Telemea Hochland", Category: "Lactate", Price: 15.99, Unit: "pachet", Keywords: []string{"brânză", "telemea"}},
			{SKU: "LAC-003", Name: "Iaurt Activia", Category: "Lactate", Price: 2.49, Unit: "bucată", Keywords: []string{"iaurt", "activia"}},
			{SKU: "BRD-001", Name: "Pâine Albă Feliată", Category: "Pâine și Patiserie", Price: 6.9, Unit: "pachet", Keywords: []string{"pâine", "feliată"}},
			{SKU: "BRD-002", Name: "Covrigi cu Sare", Category: "Pâine și Patiserie", Price: 4.5, Unit: "pachet", Keywords: []string{"covrigi", "sare"}},
			{SKU: "MEAT-001", Name: "Piept de Pui Dezosat", Category: "Carne și Mezeluri", Price: 29.99, Unit: "kg", Keywords: []string{"pui", "piept", "carne"}},
			{SKU: "MEAT-002", Name: "Cârnați Oltenești", Category: "Carne și Mezeluri", Price: 34.99, Unit: "kg", Keywords: []string{"cârnați", "mezeluri"}},
			{SKU: "CHOC-001", Name: "Ciocolată Rom Autentic", Category: "Dulciuri și Snacks", Price: 3.99, Unit: "bucată", Keywords: []string{"ciocolată", "rom"}},
			{SKU: "SNCK-001", Name: "Eugenia Original", Category: "Dulciuri și Snacks", Price: 2.49, Unit: "pachet", Keywords: []string{"biscuiți", "eugenia"}},
			{SKU: "FRUT-001", Name: "Mere Gala", Category: "Legume și Fructe", Price: 7.99, Unit: "kg", Keywords: []string{"mere", "fructe"}},
			{SKU: "VEG-001", Name: "Cartofi Noi", Category: "Legume și Fructe", Price: 5.99, Unit: "kg", Keywords: []string{"cartofi", "legume"}},
		},
	}
}

// ClientsOnly returns a copy of s without products.
func (s SeedData) ClientsOnly() SeedData { return SeedData{Clients: s.Clients} }

// ProductsOnly returns a copy of s without clients.
func (s SeedData) ProductsOnly() SeedData { return SeedData{Products: s.Products} }
