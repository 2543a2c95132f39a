package customers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"omiebridge/internal/config"
	"omiebridge/internal/omie"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultRegistryURL is the public CNPJ registry root; the CNPJ is appended as a path segment.
	DefaultRegistryURL = "https://brasilapi.com.br/api/cnpj/v1"

	registryTimeout = 10 * time.Second
	lookupTimeout   = 15 * time.Second
)

var (
	ErrInvalidCNPJ = errors.New("invalid CNPJ")
	ErrNotFound    = errors.New("CNPJ not found")
)

// Company is the public registry record, trimmed to what the front end prefills.
type Company struct {
	CNPJ         string `json:"cnpj"`
	LegalName    string `json:"razao_social"`
	TradeName    string `json:"nome_fantasia"`
	Status       string `json:"descricao_situacao_cadastral"`
	Street       string `json:"logradouro"`
	Number       string `json:"numero"`
	Complement   string `json:"complemento"`
	District     string `json:"bairro"`
	City         string `json:"municipio"`
	State        string `json:"uf"`
	ZipCode      string `json:"cep"`
	Email        string `json:"email"`
	Phone        string `json:"ddd_telefone_1"`
	OpeningDate  string `json:"data_inicio_atividade"`
	ActivityCode int    `json:"cnae_fiscal"`
}

// Registry queries the public CNPJ registry.
type Registry struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

func NewRegistry(cfg config.CNPJConfig) *Registry {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultRegistryURL
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 1
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = slog.Default()
	if cfg.HTTPClient != nil {
		rc.HTTPClient = cfg.HTTPClient
	}
	return &Registry{baseURL: strings.TrimRight(baseURL, "/"), httpClient: rc}
}

// Company looks up a 14 digit CNPJ. A registry miss is ErrNotFound.
func (r *Registry) Company(ctx context.Context, cnpj string) (*Company, error) {
	ctx, cancel := context.WithTimeout(ctx, registryTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/"+cnpj, nil)
	if err != nil {
		return nil, fmt.Errorf("build registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query registry: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("registry returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var company Company
	if err := json.NewDecoder(resp.Body).Decode(&company); err != nil {
		return nil, fmt.Errorf("decode registry response: %w", err)
	}
	return &company, nil
}

// Lookup is the outcome of a CNPJ lookup: an Omie customer or a public registry record.
type Lookup struct {
	Source   string         `json:"origem"`
	Customer *omie.Customer `json:"cliente,omitempty"`
	Company  *Company       `json:"empresa,omitempty"`
}

const (
	SourceOmie   = "omie"
	SourcePublic = "publica"
)

type CompanyFinder interface {
	Company(ctx context.Context, cnpj string) (*Company, error)
}

// Resolver checks the Omie customer registry first and the public registry second.
type Resolver struct {
	customers Lister
	registry  CompanyFinder
}

func NewResolver(customers Lister, registry CompanyFinder) *Resolver {
	return &Resolver{customers: customers, registry: registry}
}

// Resolve looks up cnpj, given with or without punctuation.
func (r *Resolver) Resolve(ctx context.Context, cnpj string) (*Lookup, error) {
	digits := Digits(cnpj)
	if !ValidCNPJ(digits) {
		return nil, ErrInvalidCNPJ
	}

	customer, erpErr := r.fromOmie(ctx, digits)
	if customer != nil {
		return &Lookup{Source: SourceOmie, Customer: customer}, nil
	}
	if erpErr != nil {
		slog.WarnContext(ctx, "omie customer lookup failed, trying public registry", "error", erpErr)
	}

	company, err := r.registry.Company(ctx, digits)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Join(erpErr, err)
	}
	return &Lookup{Source: SourcePublic, Company: company}, nil
}

func (r *Resolver) fromOmie(ctx context.Context, digits string) (*omie.Customer, error) {
	resp, err := r.customers.Customers(ctx, omie.CustomerPageRequest{
		Page:            1,
		PerPage:         PageSize,
		OnlyAPIImported: "N",
		Filter:          &omie.CustomerFilter{Document: FormatCNPJ(digits)},
	}, lookupTimeout)
	if err != nil {
		if omie.IsNoRecords(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, c := range resp.Customers {
		if Digits(c.Document) == digits {
			return &c, nil
		}
	}
	return nil, nil
}

// ValidCNPJ checks length and both check digits of an unformatted CNPJ.
func ValidCNPJ(digits string) bool {
	if len(digits) != 14 || strings.Count(digits, digits[:1]) == 14 {
		return false
	}
	check := func(n int) byte {
		weights := []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}[13-n:]
		sum := 0
		for i, w := range weights {
			sum += int(digits[i]-'0') * w
		}
		if rem := sum % 11; rem >= 2 {
			return byte('0' + 11 - rem)
		}
		return '0'
	}
	return digits[12] == check(12) && digits[13] == check(13)
}

// FormatCNPJ renders 14 digits as 00.000.000/0000-00.
func FormatCNPJ(digits string) string {
	if len(digits) != 14 {
		return digits
	}
	return digits[:2] + "." + digits[2:5] + "." + digits[5:8] + "/" + digits[8:12] + "-" + digits[12:]
}
