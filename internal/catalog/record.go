package catalog

import (
	"github.com/samber/lo"
)

// Record is one product master-data entry.
type Record struct {
	ProductID       string
	Code            string
	IntegrationCode string
	EAN             string
	Description     string

	UnitPrice *float64
	Value     *float64
	SalePrice *float64
	Price     *float64

	ImageURL     *string
	Images       []string
	AltImageURLs []string

	Raw Raw
}

// NewRecord maps a raw catalog entry through the catalog alias table.
func NewRecord(raw Raw) *Record {
	r := &Record{
		ProductID:       first(raw, catalogProductID),
		Code:            first(raw, catalogCode),
		IntegrationCode: first(raw, catalogIntegrationCode),
		EAN:             first(raw, catalogEAN),
		Description:     first(raw, catalogDescription),
		UnitPrice:       raw.Float(catalogUnitPrice...),
		Value:           raw.Float(catalogValue...),
		SalePrice:       raw.Float(catalogSalePrice...),
		Price:           raw.Float(catalogPrice...),
		ImageURL:        optional(raw, imageURL),
		Images:          raw.Images(attachmentsField),
		Raw:             raw,
	}
	for _, key := range altImageURLField {
		if s, ok := raw.String(key); ok {
			r.AltImageURLs = append(r.AltImageURLs, s)
		}
	}
	return r
}

// Candidates lists the keys this record is indexed under, most specific first.
func (r *Record) Candidates() []string {
	return lo.Uniq(lo.Compact([]string{r.ProductID, r.Code, r.IntegrationCode, r.EAN, r.Description}))
}

// StockRecord is one product's stock position. URLImagem and Preco are filled by enrichment.
type StockRecord struct {
	ProductID   string  `json:"nCodProd" jsonschema:"description=Omie product id"`
	Code        string  `json:"cCodigo"`
	Description string  `json:"cDescricao"`
	Quantity    float64 `json:"nSaldo"`

	UnitPrice    *float64 `json:"-"`
	AltUnitValue *float64 `json:"-"`
	ImageURL     *string  `json:"-"`
	Images       []string `json:"-"`

	URLImagem *string  `json:"url_imagem" jsonschema:"description=http(s) URL or data URI,nullable"`
	Preco     *float64 `json:"preco" jsonschema:"nullable"`

	// CatalogKey is the index key that matched, empty when the record had no catalog entry.
	CatalogKey string `json:"-"`
}

// NewStockRecord maps a raw stock position through the stock alias table.
func NewStockRecord(raw Raw) StockRecord {
	s := StockRecord{
		ProductID:    first(raw, stockProductID),
		Code:         first(raw, stockCode),
		Description:  first(raw, stockDescription),
		UnitPrice:    raw.Float(stockUnitPrice...),
		AltUnitValue: raw.Float(stockAltUnitValue...),
		ImageURL:     optional(raw, imageURL),
		Images:       raw.Images(attachmentsField),
	}
	if q := raw.Float(stockQuantity...); q != nil {
		s.Quantity = *q
	}
	return s
}

// Candidates lists the keys used to find this position in the catalog index.
func (s *StockRecord) Candidates() []string {
	return lo.Uniq(lo.Compact([]string{s.ProductID, s.Code, s.Description}))
}

func first(raw Raw, aliases []string) string {
	s, _ := raw.String(aliases...)
	return s
}

func optional(raw Raw, aliases []string) *string {
	if s, ok := raw.String(aliases...); ok {
		return &s
	}
	return nil
}
