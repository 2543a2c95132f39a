// Package customers serves customer search and tax id lookups over the Omie registry,
// falling back to the public CNPJ registry.
package customers

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"omiebridge/internal/omie"
	"omiebridge/internal/pagination"

	"github.com/samber/lo"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// PageSize is the number of customers requested per ListarClientes page.
const PageSize = 50

// Lister is the slice of the Omie client this package needs.
type Lister interface {
	Customers(ctx context.Context, req omie.CustomerPageRequest, timeout time.Duration) (*omie.CustomerPage, error)
}

// Result is one page of customers.
type Result struct {
	Customers []omie.Customer `json:"clientes"`
	Total     int             `json:"total"`
}

type Searcher struct {
	client Lister
}

func NewSearcher(client Lister) *Searcher {
	return &Searcher{client: client}
}

// Search returns page of the registry when query is blank. Otherwise it walks every page
// and keeps customers whose legal name, trade name or document contains query, ignoring
// case and accents.
func (s *Searcher) Search(ctx context.Context, query string, page int) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		resp, err := s.client.Customers(ctx, s.request(max(page, 1)), omie.DefaultTimeout)
		if err != nil {
			if omie.IsNoRecords(err) {
				return &Result{Customers: []omie.Customer{}}, nil
			}
			return nil, fmt.Errorf("list customers: %w", err)
		}
		found := resp.Customers
		if found == nil {
			found = []omie.Customer{}
		}
		return &Result{Customers: found, Total: int(resp.TotalRecords)}, nil
	}

	all, err := pagination.Collect(ctx, func(ctx context.Context, page int) (pagination.Page[omie.Customer], error) {
		resp, err := s.client.Customers(ctx, s.request(page), omie.DefaultTimeout)
		if err != nil {
			return pagination.Page[omie.Customer]{}, err
		}
		return pagination.Page[omie.Customer]{Items: resp.Customers, TotalPages: int(resp.TotalPages)}, nil
	}, pagination.WithEndOfData(omie.IsNoRecords))
	if err != nil {
		return nil, fmt.Errorf("search customers: %w", err)
	}

	needle := Fold(query)
	digits := Digits(query)
	matched := lo.Filter(all, func(c omie.Customer, _ int) bool {
		return matches(c, needle, digits)
	})
	return &Result{Customers: matched, Total: len(matched)}, nil
}

func (s *Searcher) request(page int) omie.CustomerPageRequest {
	return omie.CustomerPageRequest{Page: page, PerPage: PageSize, OnlyAPIImported: "N"}
}

func matches(c omie.Customer, needle, digits string) bool {
	if strings.Contains(Fold(c.LegalName), needle) || strings.Contains(Fold(c.TradeName), needle) {
		return true
	}
	return digits != "" && strings.Contains(Digits(c.Document), digits)
}

// Fold lowercases s and drops diacritics, so "JOÃO" and "joao" compare equal.
// Transformers are stateful, so each call builds its own.
func Fold(s string) string {
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(strings.TrimSpace(out))
}

// Digits keeps only the ASCII digits of s.
func Digits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
