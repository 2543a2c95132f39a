package customers

import (
	"errors"
	"net/http"
	"strconv"

	"omiebridge/internal/respond"
)

type Handler struct {
	searcher *Searcher
	resolver *Resolver
}

func NewHandler(searcher *Searcher, resolver *Resolver) *Handler {
	return &Handler{searcher: searcher, resolver: resolver}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/clientes", h.handleSearch)
	// formatted CNPJs carry a slash
	mux.HandleFunc("GET /api/cnpj/{cnpj...}", h.handleCNPJ)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("pagina"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respond.Error(w, r, http.StatusBadRequest, "pagina inválida", err)
			return
		}
		page = n
	}

	result, err := h.searcher.Search(r.Context(), r.URL.Query().Get("q"), page)
	if err != nil {
		respond.Error(w, r, http.StatusBadGateway, "falha ao consultar clientes", err)
		return
	}
	respond.JSON(w, r, http.StatusOK, result)
}

func (h *Handler) handleCNPJ(w http.ResponseWriter, r *http.Request) {
	lookup, err := h.resolver.Resolve(r.Context(), r.PathValue("cnpj"))
	switch {
	case errors.Is(err, ErrInvalidCNPJ):
		respond.Error(w, r, http.StatusBadRequest, "CNPJ inválido", err)
	case errors.Is(err, ErrNotFound):
		respond.Error(w, r, http.StatusNotFound, "CNPJ não encontrado", err)
	case err != nil:
		respond.Error(w, r, http.StatusBadGateway, "falha ao consultar CNPJ", err)
	default:
		respond.JSON(w, r, http.StatusOK, lookup)
	}
}
