package stock

import (
	"context"
	"fmt"
	"log/slog"

	"omiebridge/internal/catalog"
	"omiebridge/internal/images"
	"omiebridge/internal/omie"
	"omiebridge/internal/pagination"
)

// PageSize is the number of stock positions requested per page.
const PageSize = 200

// A source reads one candidate value. match is nil when the stock record had no
// catalog entry.
type source[T any] func(s *catalog.StockRecord, match *catalog.Record) *T

// priceChain is evaluated in order; the first non-nil value wins.
var priceChain = []source[float64]{
	func(s *catalog.StockRecord, _ *catalog.Record) *float64 { return s.UnitPrice },
	fromCatalog(func(r *catalog.Record) *float64 { return r.UnitPrice }),
	fromCatalog(func(r *catalog.Record) *float64 { return r.Value }),
	fromCatalog(func(r *catalog.Record) *float64 { return r.SalePrice }),
	fromCatalog(func(r *catalog.Record) *float64 { return r.Price }),
	func(s *catalog.StockRecord, _ *catalog.Record) *float64 { return s.AltUnitValue },
}

// imageChain is evaluated in order; the first non-nil value wins.
var imageChain = []source[string]{
	func(s *catalog.StockRecord, _ *catalog.Record) *string { return s.ImageURL },
	func(s *catalog.StockRecord, _ *catalog.Record) *string { return firstOf(s.Images) },
	fromCatalog(func(r *catalog.Record) *string { return r.ImageURL }),
	fromCatalog(func(r *catalog.Record) *string { return firstOf(r.Images) }),
	fromCatalog(func(r *catalog.Record) *string { return firstOf(r.AltImageURLs) }),
}

func fromCatalog[T any](get func(*catalog.Record) *T) source[T] {
	return func(_ *catalog.StockRecord, match *catalog.Record) *T {
		if match == nil {
			return nil
		}
		return get(match)
	}
}

func firstOf(values []string) *string {
	if len(values) == 0 {
		return nil
	}
	return &values[0]
}

func resolve[T any](chain []source[T], s *catalog.StockRecord, match *catalog.Record) *T {
	for _, get := range chain {
		if v := get(s, match); v != nil {
			return v
		}
	}
	return nil
}

// Enrich joins s against idx and fills its price and image. It reports whether a
// catalog entry matched; a miss still resolves whatever the stock record carries itself.
func Enrich(s *catalog.StockRecord, idx *catalog.Index) bool {
	match, key, ok := idx.Lookup(s.Candidates()...)
	if ok {
		s.CatalogKey = key
	}
	s.Preco = copyOf(resolve(priceChain, s, match))
	s.URLImagem = images.Normalize(resolve(imageChain, s, match))
	return ok
}

func copyOf[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// StockLister is the slice of the Omie client the enricher needs.
type StockLister interface {
	StockPositions(ctx context.Context, req omie.StockPageRequest) (*omie.StockPage, error)
}

// Enricher pages through stock positions and joins each page against a catalog index.
type Enricher struct {
	client StockLister
}

func NewEnricher(client StockLister) *Enricher {
	return &Enricher{client: client}
}

// Run returns every stock position as of snapshotDate (dd/mm/yyyy), enriched against idx.
func (e *Enricher) Run(ctx context.Context, idx *catalog.Index, snapshotDate string) ([]catalog.StockRecord, error) {
	fetch := func(ctx context.Context, page int) (pagination.Page[catalog.Raw], error) {
		resp, err := e.client.StockPositions(ctx, omie.StockPageRequest{
			Page:    page,
			PerPage: PageSize,
			Date:    snapshotDate,
			ShowAll: "S",
		})
		if err != nil {
			return pagination.Page[catalog.Raw]{}, err
		}
		items, err := catalog.DecodeAll(resp.Products)
		if err != nil {
			return pagination.Page[catalog.Raw]{}, fmt.Errorf("stock page %d: %w", page, err)
		}
		return pagination.Page[catalog.Raw]{Items: items, TotalPages: int(resp.TotalPages)}, nil
	}

	var (
		records []catalog.StockRecord
		missed  int
	)
	for page, err := range pagination.Pages(ctx, fetch, pagination.WithEndOfData(omie.IsNoRecords)) {
		if err != nil {
			return nil, fmt.Errorf("list stock positions: %w", err)
		}
		for _, raw := range page.Items {
			rec := catalog.NewStockRecord(raw)
			if !Enrich(&rec, idx) {
				missed++
			}
			records = append(records, rec)
		}
	}
	slog.InfoContext(ctx, "stock positions enriched", "records", len(records), "unmatched", missed, "date", snapshotDate)
	if records == nil {
		records = []catalog.StockRecord{}
	}
	return records, nil
}
