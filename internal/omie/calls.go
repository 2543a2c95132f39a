package omie

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Omie call names.
const (
	CallListarPosEstoque      = "ListarPosEstoque"
	CallListarProdutos        = "ListarProdutos"
	CallListarClientes        = "ListarClientes"
	CallListarTabelasPreco    = "ListarTabelasPreco"
	CallListarFormasPagVendas = "ListarFormasPagVendas"
)

// Int decodes integers that Omie sometimes sends as strings or floats.
type Int int

func (i *Int) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*i = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("decode integer %q: %w", s, err)
	}
	*i = Int(f)
	return nil
}

// StockPageRequest is the ListarPosEstoque parameter block.
type StockPageRequest struct {
	Page     int    `json:"nPagina"`
	PerPage  int    `json:"nRegPorPagina"`
	Date     string `json:"dDataPosicao"`
	ShowAll  string `json:"cExibeTodos"`
	Location int    `json:"codigo_local_estoque"`
}

// StockPage is one ListarPosEstoque page. Products stay raw because field names drift.
type StockPage struct {
	Page         Int               `json:"nPagina"`
	TotalPages   Int               `json:"nTotPaginas"`
	Records      Int               `json:"nRegistros"`
	TotalRecords Int               `json:"nTotRegistros"`
	Products     []json.RawMessage `json:"produtos"`
}

// StockPositions lists one page of stock positions as of req.Date (dd/mm/yyyy).
func (c *Client) StockPositions(ctx context.Context, req StockPageRequest) (*StockPage, error) {
	var page StockPage
	if err := c.Call(ctx, EndpointStock, CallListarPosEstoque, req, DefaultTimeout, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ProductPageRequest is the ListarProdutos parameter block.
type ProductPageRequest struct {
	Page            int    `json:"pagina"`
	PerPage         int    `json:"registros_por_pagina"`
	OnlyAPIImported string `json:"apenas_importado_api"`
	OnlyPDV         string `json:"filtrar_apenas_omiepdv"`
}

// ProductPage is one ListarProdutos page.
type ProductPage struct {
	Page         Int               `json:"pagina"`
	TotalPages   Int               `json:"total_de_paginas"`
	Records      Int               `json:"registros"`
	TotalRecords Int               `json:"total_de_registros"`
	Products     []json.RawMessage `json:"produto_servico_cadastro"`
}

// Products lists one page of the product catalog.
func (c *Client) Products(ctx context.Context, req ProductPageRequest) (*ProductPage, error) {
	var page ProductPage
	if err := c.Call(ctx, EndpointCatalog, CallListarProdutos, req, DefaultTimeout, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CustomerFilter narrows ListarClientes.
type CustomerFilter struct {
	Document string `json:"cnpj_cpf,omitempty"`
	Name     string `json:"razao_social,omitempty"`
}

// CustomerPageRequest is the ListarClientes parameter block.
type CustomerPageRequest struct {
	Page            int             `json:"pagina"`
	PerPage         int             `json:"registros_por_pagina"`
	OnlyAPIImported string          `json:"apenas_importado_api"`
	Filter          *CustomerFilter `json:"clientesFiltro,omitempty"`
}

// Customer is the subset of clientes_cadastro the front end uses.
type Customer struct {
	ID            int64  `json:"codigo_cliente_omie"`
	IntegrationID string `json:"codigo_cliente_integracao"`
	LegalName     string `json:"razao_social"`
	TradeName     string `json:"nome_fantasia"`
	Document      string `json:"cnpj_cpf"`
	Email         string `json:"email"`
	PhoneDDD      string `json:"telefone1_ddd"`
	Phone         string `json:"telefone1_numero"`
	Address       string `json:"endereco"`
	Number        string `json:"endereco_numero"`
	District      string `json:"bairro"`
	City          string `json:"cidade"`
	State         string `json:"estado"`
	ZipCode       string `json:"cep"`
}

// CustomerPage is one ListarClientes page.
type CustomerPage struct {
	Page         Int        `json:"pagina"`
	TotalPages   Int        `json:"total_de_paginas"`
	Records      Int        `json:"registros"`
	TotalRecords Int        `json:"total_de_registros"`
	Customers    []Customer `json:"clientes_cadastro"`
}

// Customers lists one page of the customer registry.
func (c *Client) Customers(ctx context.Context, req CustomerPageRequest, timeout time.Duration) (*CustomerPage, error) {
	var page CustomerPage
	if err := c.Call(ctx, EndpointCustomers, CallListarClientes, req, timeout, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// PriceTablePageRequest is the ListarTabelasPreco parameter block.
type PriceTablePageRequest struct {
	Page    int `json:"nPagina"`
	PerPage int `json:"nRegPorPagina"`
}

type PriceTable struct {
	ID              Int    `json:"nCodTabPreco"`
	IntegrationCode string `json:"cCodIntTabPreco"`
	Name            string `json:"cNome"`
	Active          string `json:"cAtiva"`
}

// PriceTablePage is one ListarTabelasPreco page.
type PriceTablePage struct {
	Page         Int          `json:"nPagina"`
	TotalPages   Int          `json:"nTotPaginas"`
	Records      Int          `json:"nRegistros"`
	TotalRecords Int          `json:"nTotRegistros"`
	Tables       []PriceTable `json:"listaTabelasPreco"`
}

// PriceTables lists one page of price tables.
func (c *Client) PriceTables(ctx context.Context, req PriceTablePageRequest) (*PriceTablePage, error) {
	var page PriceTablePage
	if err := c.Call(ctx, EndpointPriceTables, CallListarTabelasPreco, req, DefaultTimeout, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// PaymentMethodPageRequest is the ListarFormasPagVendas parameter block.
type PaymentMethodPageRequest struct {
	Page    int `json:"pagina"`
	PerPage int `json:"registros_por_pagina"`
}

type PaymentMethod struct {
	Code         string `json:"cCodigo"`
	Description  string `json:"cDescricao"`
	Installments Int    `json:"nQtdeParc"`
}

// PaymentMethodPage is one ListarFormasPagVendas page.
type PaymentMethodPage struct {
	Page         Int             `json:"pagina"`
	TotalPages   Int             `json:"total_de_paginas"`
	Records      Int             `json:"registros"`
	TotalRecords Int             `json:"total_de_registros"`
	Methods      []PaymentMethod `json:"cadastros"`
}

// PaymentMethods lists one page of sale payment methods.
func (c *Client) PaymentMethods(ctx context.Context, req PaymentMethodPageRequest) (*PaymentMethodPage, error) {
	var page PaymentMethodPage
	if err := c.Call(ctx, EndpointPaymentMethods, CallListarFormasPagVendas, req, DefaultTimeout, &page); err != nil {
		return nil, err
	}
	return &page, nil
}
