package stock

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"omiebridge/internal/catalog"
	"omiebridge/internal/respond"

	"github.com/invopop/jsonschema"
)

// Fetcher is what the handler needs from Service.
type Fetcher interface {
	Fetch(ctx context.Context, opts Options) (*Response, Outcome, error)
}

type Handler struct {
	svc    Fetcher
	schema json.RawMessage
}

func NewHandler(svc Fetcher) *Handler {
	r := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema, _ := json.Marshal(r.Reflect(&Response{}))
	return &Handler{svc: svc, schema: schema}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/estoque", h.handleStock)
	mux.HandleFunc("GET /api/schema/estoque", h.handleSchema)
}

type failure struct {
	Error    string                `json:"erro"`
	Products []catalog.StockRecord `json:"produtos"`
}

func (h *Handler) handleStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	debug := parseDebug(r.URL.Query().Get("debug"))

	resp, outcome, err := h.svc.Fetch(ctx, Options{Debug: debug})
	if err != nil {
		var agg *AggregationError
		if errors.As(err, &agg) {
			slog.ErrorContext(ctx, "no stock listing available", "phase", agg.Phase, "error", agg.Err)
		} else {
			slog.ErrorContext(ctx, "no stock listing available", "error", err)
		}
		respond.JSON(w, r, http.StatusInternalServerError, failure{
			Error:    err.Error(),
			Products: []catalog.StockRecord{},
		})
		return
	}

	w.Header().Set("X-Cache", string(outcome))
	respond.JSON(w, r, http.StatusOK, resp)
}

func (h *Handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	_, _ = w.Write(h.schema)
}

func parseDebug(v string) bool {
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
