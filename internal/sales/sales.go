// Package sales lists the reference data the order screen needs: price tables and
// payment methods.
package sales

import (
	"context"
	"fmt"
	"net/http"

	"omiebridge/internal/omie"
	"omiebridge/internal/pagination"
	"omiebridge/internal/respond"

	"github.com/samber/lo"
)

const pageSize = 50

type Lister interface {
	PriceTables(ctx context.Context, req omie.PriceTablePageRequest) (*omie.PriceTablePage, error)
	PaymentMethods(ctx context.Context, req omie.PaymentMethodPageRequest) (*omie.PaymentMethodPage, error)
}

type PriceTable struct {
	ID              int    `json:"codigo"`
	Name            string `json:"nome"`
	IntegrationCode string `json:"codigo_integracao"`
	Active          bool   `json:"ativa"`
}

type PaymentMethod struct {
	Code         string `json:"codigo"`
	Description  string `json:"descricao"`
	Installments int    `json:"parcelas"`
}

type Service struct {
	client Lister
}

func NewService(client Lister) *Service {
	return &Service{client: client}
}

// PriceTables returns every price table, walking all pages.
func (s *Service) PriceTables(ctx context.Context) ([]PriceTable, error) {
	tables, err := pagination.Collect(ctx, func(ctx context.Context, page int) (pagination.Page[omie.PriceTable], error) {
		resp, err := s.client.PriceTables(ctx, omie.PriceTablePageRequest{Page: page, PerPage: pageSize})
		if err != nil {
			return pagination.Page[omie.PriceTable]{}, err
		}
		return pagination.Page[omie.PriceTable]{Items: resp.Tables, TotalPages: int(resp.TotalPages)}, nil
	}, pagination.WithEndOfData(omie.IsNoRecords))
	if err != nil {
		return nil, fmt.Errorf("list price tables: %w", err)
	}
	return lo.Map(tables, func(t omie.PriceTable, _ int) PriceTable {
		return PriceTable{
			ID:              int(t.ID),
			Name:            t.Name,
			IntegrationCode: t.IntegrationCode,
			Active:          t.Active != "N",
		}
	}), nil
}

// PaymentMethods returns every sale payment method, walking all pages.
func (s *Service) PaymentMethods(ctx context.Context) ([]PaymentMethod, error) {
	methods, err := pagination.Collect(ctx, func(ctx context.Context, page int) (pagination.Page[omie.PaymentMethod], error) {
		resp, err := s.client.PaymentMethods(ctx, omie.PaymentMethodPageRequest{Page: page, PerPage: pageSize})
		if err != nil {
			return pagination.Page[omie.PaymentMethod]{}, err
		}
		return pagination.Page[omie.PaymentMethod]{Items: resp.Methods, TotalPages: int(resp.TotalPages)}, nil
	}, pagination.WithEndOfData(omie.IsNoRecords))
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	return lo.Map(methods, func(m omie.PaymentMethod, _ int) PaymentMethod {
		return PaymentMethod{Code: m.Code, Description: m.Description, Installments: int(m.Installments)}
	}), nil
}

func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tabelas-preco", s.handlePriceTables)
	mux.HandleFunc("GET /api/formas-pagamento", s.handlePaymentMethods)
}

func (s *Service) handlePriceTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.PriceTables(r.Context())
	if err != nil {
		respond.Error(w, r, http.StatusBadGateway, "falha ao listar tabelas de preço", err)
		return
	}
	respond.JSON(w, r, http.StatusOK, map[string]any{"tabelas": tables})
}

func (s *Service) handlePaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := s.PaymentMethods(r.Context())
	if err != nil {
		respond.Error(w, r, http.StatusBadGateway, "falha ao listar formas de pagamento", err)
		return
	}
	respond.JSON(w, r, http.StatusOK, map[string]any{"formas": methods})
}
