package stock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"omiebridge/internal/cache"
	"omiebridge/internal/catalog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

// SnapshotDateLayout is the dd/mm/yyyy form Omie expects for dDataPosicao.
const SnapshotDateLayout = "02/01/2006"

// sampleSize is how many raw catalog entries a debug response carries.
const sampleSize = 5

var tracer = otel.Tracer("omiebridge/internal/stock")

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "omiebridge",
		Subsystem: "stock",
		Name:      "requests_total",
		Help:      "Stock requests by how they were answered.",
	}, []string{"outcome"})

	cycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "omiebridge",
		Subsystem: "stock",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of full aggregation cycles.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"result"})

	lastRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "omiebridge",
		Subsystem: "stock",
		Name:      "records",
		Help:      "Stock records in the last successful cycle.",
	})
)

// Outcome tells how a response was produced. It is exposed as the X-Cache header.
type Outcome string

const (
	OutcomeFresh     Outcome = "fresh"
	OutcomeRefreshed Outcome = "refreshed"
	OutcomeStale     Outcome = "stale"
)

// Response is the aggregated stock listing. Cached responses are shared and must not be modified.
type Response struct {
	Products     []catalog.StockRecord `json:"produtos" jsonschema:"required"`
	Total        int                   `json:"total" jsonschema:"required"`
	SnapshotDate string                `json:"data_posicao" jsonschema:"required,description=dd/mm/yyyy as-of date sent to Omie"`
	UpdatedAt    string                `json:"atualizado_em" jsonschema:"required,format=date-time"`
	Debug        *Diagnostics          `json:"debug,omitempty"`
}

// Diagnostics describes the join. Only debug requests get it.
type Diagnostics struct {
	CatalogSample []catalog.Raw `json:"amostra_catalogo"`
	CatalogTotal  int           `json:"total_catalogo"`
	IndexKeys     int           `json:"chaves_indice"`
	WithImage     int           `json:"com_imagem"`
	WithPrice     int           `json:"com_preco"`
	Unmatched     int           `json:"sem_correspondencia"`
}

// Phase names the step of a cycle that failed.
type Phase string

const (
	PhaseCatalog Phase = "catalog"
	PhaseStock   Phase = "stock"
)

// AggregationError is returned when a cycle fails and no earlier result exists.
type AggregationError struct {
	Phase Phase
	Err   error
}

func (e *AggregationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("aggregate stock (%s): %v", e.Phase, e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

// Options controls one Fetch.
type Options struct {
	// Debug bypasses the freshness check and attaches Diagnostics. A cycle already
	// in flight is joined rather than started again.
	Debug bool
}

type IndexBuilder interface {
	Build(ctx context.Context) (*catalog.Index, error)
}

// Service answers stock requests from the cache, running at most one aggregation
// cycle at a time.
type Service struct {
	catalog  IndexBuilder
	enricher *Enricher
	cache    *cache.ResultCache[*Response]
	location *time.Location
	now      func() time.Time
	group    singleflight.Group
}

func NewService(builder IndexBuilder, enricher *Enricher, results *cache.ResultCache[*Response], location *time.Location) *Service {
	if location == nil {
		location = time.UTC
	}
	return &Service{
		catalog:  builder,
		enricher: enricher,
		cache:    results,
		location: location,
		now:      time.Now,
	}
}

type cycleResult struct {
	resp    *Response
	debug   *Diagnostics
	outcome Outcome
}

const cycleKey = "estoque"

// Fetch returns the current stock listing. A fresh cached response is returned as is.
// Otherwise a cycle runs, shared with concurrent callers and detached from ctx's
// cancellation. If the cycle fails the previous response is returned with OutcomeStale;
// with nothing cached the error is an *AggregationError.
func (s *Service) Fetch(ctx context.Context, opts Options) (*Response, Outcome, error) {
	if !opts.Debug && s.cache.IsFresh() {
		if resp, _, ok := s.cache.Get(); ok {
			requestsTotal.WithLabelValues(string(OutcomeFresh)).Inc()
			return resp, OutcomeFresh, nil
		}
	}

	res, shared, err := s.refresh(ctx, cycleKey, !opts.Debug)
	if err == nil && opts.Debug && res.debug == nil {
		// the shared call found the cache fresh and ran no cycle
		res, shared, err = s.refresh(ctx, cycleKey+":debug", false)
	}
	if err == nil {
		requestsTotal.WithLabelValues(string(res.outcome)).Inc()
		if opts.Debug {
			withDebug := *res.resp
			withDebug.Debug = res.debug
			return &withDebug, res.outcome, nil
		}
		return res.resp, res.outcome, nil
	}

	if prev, producedAt, ok := s.cache.Get(); ok {
		slog.WarnContext(ctx, "stock refresh failed, serving previous result", "error", err, "produced_at", producedAt, "shared", shared)
		requestsTotal.WithLabelValues(string(OutcomeStale)).Inc()
		return prev, OutcomeStale, nil
	}
	requestsTotal.WithLabelValues("error").Inc()
	return nil, "", err
}

// refresh runs a cycle shared with concurrent callers of key. With acceptFresh the
// cycle is skipped when another one filled the cache in the meantime.
func (s *Service) refresh(ctx context.Context, key string, acceptFresh bool) (cycleResult, bool, error) {
	v, err, shared := s.group.Do(key, func() (any, error) {
		if acceptFresh && s.cache.IsFresh() {
			resp, _, _ := s.cache.Get()
			return cycleResult{resp: resp, outcome: OutcomeFresh}, nil
		}
		resp, diag, err := s.cycle(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		return cycleResult{resp: resp, debug: diag, outcome: OutcomeRefreshed}, nil
	})
	if err != nil {
		return cycleResult{}, shared, err
	}
	return v.(cycleResult), shared, nil
}

// Ready succeeds once a stock listing can be served.
func (s *Service) Ready(ctx context.Context) error {
	_, _, err := s.Fetch(ctx, Options{})
	return err
}

// CacheAge reports how old the cached listing is; false before the first cycle.
func (s *Service) CacheAge() (time.Duration, bool) {
	return s.cache.Age()
}

// cycle aggregates, caches the result and returns it with its Diagnostics.
func (s *Service) cycle(ctx context.Context) (*Response, *Diagnostics, error) {
	ctx, span := tracer.Start(ctx, "stock.cycle")
	defer span.End()

	start := time.Now()
	resp, idx, err := s.aggregate(ctx)
	if err != nil {
		cycleDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.ErrorContext(ctx, "stock aggregation failed", "error", err, "duration", time.Since(start))
		return nil, nil, err
	}
	cycleDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	lastRecords.Set(float64(resp.Total))
	span.SetAttributes(attribute.Int("stock.records", resp.Total), attribute.Int("catalog.records", len(idx.Records())))

	s.cache.Put(resp)
	slog.InfoContext(ctx, "stock aggregation finished", "records", resp.Total, "date", resp.SnapshotDate, "duration", time.Since(start))

	return resp, diagnose(resp.Products, idx), nil
}

func (s *Service) aggregate(ctx context.Context) (*Response, *catalog.Index, error) {
	date := s.now().In(s.location).Format(SnapshotDateLayout)

	idx, err := s.catalog.Build(ctx)
	if err != nil {
		return nil, nil, &AggregationError{Phase: PhaseCatalog, Err: err}
	}
	records, err := s.enricher.Run(ctx, idx, date)
	if err != nil {
		return nil, nil, &AggregationError{Phase: PhaseStock, Err: err}
	}
	return &Response{
		Products:     records,
		Total:        len(records),
		SnapshotDate: date,
		UpdatedAt:    s.now().UTC().Format(time.RFC3339),
	}, idx, nil
}

func diagnose(records []catalog.StockRecord, idx *catalog.Index) *Diagnostics {
	d := &Diagnostics{
		CatalogSample: idx.Sample(sampleSize),
		CatalogTotal:  len(idx.Records()),
		IndexKeys:     idx.Len(),
	}
	for _, r := range records {
		if r.URLImagem != nil {
			d.WithImage++
		}
		if r.Preco != nil {
			d.WithPrice++
		}
		if r.CatalogKey == "" {
			d.Unmatched++
		}
	}
	return d
}
