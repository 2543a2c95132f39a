package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"omiebridge/internal/omie"
	"omiebridge/internal/pagination"
)

// PageSize is the number of catalog entries requested per page.
const PageSize = 200

// Index maps every identifier of a catalog record to that record. The first record
// to claim a key keeps it. An Index is built once per aggregation cycle and not
// mutated after Build returns.
type Index struct {
	byKey   map[string]*Record
	records []*Record
}

func NewIndex() *Index {
	return &Index{byKey: make(map[string]*Record)}
}

// Add indexes r under each of its candidate keys that is still free.
func (idx *Index) Add(r *Record) {
	idx.records = append(idx.records, r)
	for _, key := range r.Candidates() {
		if _, taken := idx.byKey[key]; !taken {
			idx.byKey[key] = r
		}
	}
}

// Lookup returns the record for the first candidate present in the index.
func (idx *Index) Lookup(candidates ...string) (*Record, string, bool) {
	for _, key := range candidates {
		if key == "" {
			continue
		}
		if r, ok := idx.byKey[key]; ok {
			return r, key, true
		}
	}
	return nil, "", false
}

// Len is the number of distinct keys.
func (idx *Index) Len() int { return len(idx.byKey) }

// Records returns the indexed records in arrival order.
func (idx *Index) Records() []*Record { return idx.records }

// Sample returns the raw form of the first n records.
func (idx *Index) Sample(n int) []Raw {
	n = min(n, len(idx.records))
	out := make([]Raw, 0, n)
	for _, r := range idx.records[:n] {
		out = append(out, r.Raw)
	}
	return out
}

// ProductLister is the slice of the Omie client the builder needs.
type ProductLister interface {
	Products(ctx context.Context, req omie.ProductPageRequest) (*omie.ProductPage, error)
}

// Builder pages through the whole catalog into an Index.
type Builder struct {
	client ProductLister
}

func NewBuilder(client ProductLister) *Builder {
	return &Builder{client: client}
}

// Build fetches every catalog page and indexes each entry as its page arrives.
// A "no records" fault ends the walk early with what was indexed so far.
func (b *Builder) Build(ctx context.Context) (*Index, error) {
	idx := NewIndex()
	fetch := func(ctx context.Context, page int) (pagination.Page[Raw], error) {
		resp, err := b.client.Products(ctx, omie.ProductPageRequest{
			Page:            page,
			PerPage:         PageSize,
			OnlyAPIImported: "N",
			OnlyPDV:         "N",
		})
		if err != nil {
			return pagination.Page[Raw]{}, err
		}
		items, err := DecodeAll(resp.Products)
		if err != nil {
			return pagination.Page[Raw]{}, fmt.Errorf("catalog page %d: %w", page, err)
		}
		return pagination.Page[Raw]{Items: items, TotalPages: int(resp.TotalPages)}, nil
	}

	pages := 0
	for page, err := range pagination.Pages(ctx, fetch, pagination.WithEndOfData(omie.IsNoRecords)) {
		if err != nil {
			return nil, fmt.Errorf("list catalog: %w", err)
		}
		pages++
		for _, raw := range page.Items {
			idx.Add(NewRecord(raw))
		}
	}
	slog.InfoContext(ctx, "catalog index built", "pages", pages, "records", len(idx.records), "keys", idx.Len())
	return idx, nil
}

// DecodeAll decodes a page of raw upstream records.
func DecodeAll(items []json.RawMessage) ([]Raw, error) {
	out := make([]Raw, 0, len(items))
	for i, item := range items {
		raw, err := DecodeRaw(item)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}
