package stock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"omiebridge/internal/cache"
	"omiebridge/internal/catalog"
	"omiebridge/internal/omie"
	"omiebridge/internal/omie/omietest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	srv     *omietest.Server
	clock   *clock
	results *cache.ResultCache[*Response]
	svc     *Service
	failing atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		srv: omietest.NewServer(t),
		// 02:30 UTC is still the previous day in São Paulo.
		clock: &clock{now: time.Date(2026, 10, 20, 2, 30, 0, 0, time.UTC)},
	}
	products := omietest.ProductPages(
		[]map[string]any{
			{"codigo_produto": 10, "codigo": "CAN-AZ", "descricao": "Caneta azul", "url_imagem": "https://cdn/caneta.jpg", "valor_unitario": 2.5},
		},
		[]map[string]any{
			{"codigo_produto": 11, "codigo": "LAP", "descricao": "Lapis", "imagens": []map[string]any{{"url_imagem": "https://cdn/lapis.jpg"}}},
		},
	)
	positions := omietest.StockPages(
		[]map[string]any{
			{"nCodProd": 10, "cCodigo": "CAN-AZ", "cDescricao": "Caneta azul", "nSaldo": 12},
			{"nCodProd": 99, "cCodigo": "???", "cDescricao": "Sem cadastro", "nSaldo": 1},
		},
		[]map[string]any{
			{"nCodProd": 11, "cCodigo": "LAP", "cDescricao": "Lapis", "nSaldo": 30, "nCMC": 0.75},
		},
	)
	failure := omietest.Fault("SOAP-ENV:Client-6", "API bloqueada por consumo indevido")
	f.srv.Handle(omie.CallListarProdutos, func(req omietest.Request) (int, any) {
		if f.failing.Load() {
			return http.StatusInternalServerError, failure
		}
		return products(req)
	})
	f.srv.Handle(omie.CallListarPosEstoque, func(req omietest.Request) (int, any) {
		if f.failing.Load() {
			return http.StatusInternalServerError, failure
		}
		return positions(req)
	})

	client, err := omie.NewClient(f.srv.Config())
	require.NoError(t, err)
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	f.results = cache.NewResultCache[*Response](cache.WithClock(f.clock.Now))
	f.svc = NewService(catalog.NewBuilder(client), NewEnricher(client), f.results, loc)
	f.svc.now = f.clock.Now
	return f
}

func (f *fixture) upstreamCalls() int {
	return len(f.srv.Calls(""))
}

func TestFetchAggregatesCatalogAndStock(t *testing.T) {
	f := newFixture(t)

	resp, outcome, err := f.svc.Fetch(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefreshed, outcome)
	assert.Equal(t, "19/10/2026", resp.SnapshotDate)
	assert.Equal(t, "2026-10-20T02:30:00Z", resp.UpdatedAt)
	assert.Nil(t, resp.Debug)
	require.Equal(t, 3, resp.Total)
	require.Len(t, resp.Products, 3)

	caneta := resp.Products[0]
	require.NotNil(t, caneta.URLImagem)
	assert.Equal(t, "https://cdn/caneta.jpg", *caneta.URLImagem)
	require.NotNil(t, caneta.Preco)
	assert.InDelta(t, 2.5, *caneta.Preco, 1e-9)

	missing := resp.Products[1]
	assert.Equal(t, "99", missing.ProductID)
	assert.Nil(t, missing.URLImagem)
	assert.Nil(t, missing.Preco)

	lapis := resp.Products[2]
	require.NotNil(t, lapis.URLImagem)
	assert.Equal(t, "https://cdn/lapis.jpg", *lapis.URLImagem)
	require.NotNil(t, lapis.Preco)
	assert.InDelta(t, 0.75, *lapis.Preco, 1e-9)

	for _, c := range f.srv.Calls(omie.CallListarPosEstoque) {
		assert.Equal(t, "19/10/2026", c.String("dDataPosicao"))
	}
}

func TestFetchServesFreshCacheWithinTTL(t *testing.T) {
	f := newFixture(t)

	first, _, err := f.svc.Fetch(context.Background(), Options{})
	require.NoError(t, err)
	calls := f.upstreamCalls()

	f.clock.Advance(cache.DefaultTTL - time.Second)
	second, outcome, err := f.svc.Fetch(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFresh, outcome)
	assert.Same(t, first, second)
	assert.Equal(t, calls, f.upstreamCalls(), "fresh hit must not call upstream")
}

func TestFetchRefreshesAtTTL(t *testing.T) {
	f := newFixture(t)

	first, _, err := f.svc.Fetch(context.Background(), Options{})
	require.NoError(t, err)
	calls := f.upstreamCalls()

	f.clock.Advance(cache.DefaultTTL)
	second, outcome, err := f.svc.Fetch(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefreshed, outcome)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2*calls, f.upstreamCalls())
}

func TestFetchFallsBackToStaleResult(t *testing.T) {
	f := newFixture(t)

	first, _, err := f.svc.Fetch(context.Background(), Options{})
	require.NoError(t, err)
	snapshot, err := json.Marshal(first)
	require.NoError(t, err)

	f.failing.Store(true)
	f.clock.Advance(5 * time.Minute)
	second, outcome, err := f.svc.Fetch(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)
	assert.Same(t, first, second)
	after, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(snapshot), string(after))
}

func TestFetchFailsWithoutPriorResult(t *testing.T) {
	f := newFixture(t)
	f.failing.Store(true)

	resp, _, err := f.svc.Fetch(context.Background(), Options{})
	require.Error(t, err)
	assert.Nil(t, resp)
	var agg *AggregationError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, PhaseCatalog, agg.Phase)
	var fault *omie.FaultError
	assert.ErrorAs(t, err, &fault)
}

func TestFetchReportsStockPhase(t *testing.T) {
	f := newFixture(t)
	f.srv.Handle(omie.CallListarPosEstoque, func(omietest.Request) (int, any) {
		return http.StatusBadRequest, "bad request"
	})

	_, _, err := f.svc.Fetch(context.Background(), Options{})
	var agg *AggregationError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, PhaseStock, agg.Phase)
	var status *omie.StatusError
	assert.ErrorAs(t, err, &status)
}

func TestDebugBypassesCacheAndIsNotCached(t *testing.T) {
	f := newFixture(t)

	first, _, err := f.svc.Fetch(context.Background(), Options{})
	require.NoError(t, err)
	calls := f.upstreamCalls()

	debug, outcome, err := f.svc.Fetch(context.Background(), Options{Debug: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefreshed, outcome)
	assert.Greater(t, f.upstreamCalls(), calls, "debug must bypass the fresh cache")
	require.NotNil(t, debug.Debug)
	assert.Equal(t, 2, debug.Debug.CatalogTotal)
	assert.Equal(t, 6, debug.Debug.IndexKeys)
	assert.Equal(t, 2, debug.Debug.WithImage)
	assert.Equal(t, 2, debug.Debug.WithPrice)
	assert.Equal(t, 1, debug.Debug.Unmatched)
	require.Len(t, debug.Debug.CatalogSample, 2)
	assert.Equal(t, json.Number("10"), debug.Debug.CatalogSample[0]["codigo_produto"])

	cached, _, ok := f.results.Get()
	require.True(t, ok)
	assert.Nil(t, cached.Debug)
	assert.NotSame(t, first, cached)

	again, outcome, err := f.svc.Fetch(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFresh, outcome)
	assert.Nil(t, again.Debug)
}

func TestConcurrentMissesShareOneCycle(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	var started atomic.Int32
	products := omietest.ProductPages([]map[string]any{{"codigo_produto": 1}})
	f.srv.Handle(omie.CallListarProdutos, func(req omietest.Request) (int, any) {
		started.Add(1)
		<-release
		return products(req)
	})

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*Response, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, _, err := f.svc.Fetch(context.Background(), Options{})
			assert.NoError(t, err)
			results[i] = resp
		}()
	}
	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, time.Millisecond)
	// Give the remaining callers time to join the in-flight cycle.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), started.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestCacheAge(t *testing.T) {
	f := newFixture(t)
	_, ok := f.svc.CacheAge()
	assert.False(t, ok)

	require.NoError(t, f.svc.Ready(context.Background()))
	f.clock.Advance(30 * time.Second)
	age, ok := f.svc.CacheAge()
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, age)
}

func TestDebugJoinsCycleInFlight(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	var cycles atomic.Int32
	products := omietest.ProductPages([]map[string]any{{"codigo_produto": 10, "codigo": "CAN-AZ", "valor_unitario": 2.5}})
	f.srv.Handle(omie.CallListarProdutos, func(req omietest.Request) (int, any) {
		if req.Int("pagina") == 1 {
			cycles.Add(1)
		}
		<-release
		return products(req)
	})

	var wg sync.WaitGroup
	var plain, debug *Response
	var plainOutcome, debugOutcome Outcome
	wg.Add(1)
	go func() {
		defer wg.Done()
		var err error
		plain, plainOutcome, err = f.svc.Fetch(context.Background(), Options{})
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return cycles.Load() == 1 }, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		var err error
		debug, debugOutcome, err = f.svc.Fetch(context.Background(), Options{Debug: true})
		assert.NoError(t, err)
	}()
	// Give the debug caller time to join the in-flight cycle.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), cycles.Load(), "debug must not start a second upstream pass")
	assert.Equal(t, OutcomeRefreshed, plainOutcome)
	assert.Equal(t, OutcomeRefreshed, debugOutcome)
	assert.Nil(t, plain.Debug)
	require.NotNil(t, debug.Debug)
	assert.Equal(t, 1, debug.Debug.CatalogTotal)
	assert.Equal(t, plain.Products, debug.Products)

	cached, _, ok := f.results.Get()
	require.True(t, ok)
	assert.Same(t, plain, cached)
	assert.Nil(t, cached.Debug)
}

func TestCycleSurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	products := omietest.ProductPages([]map[string]any{{"codigo_produto": 10}})
	f.srv.Handle(omie.CallListarProdutos, func(req omietest.Request) (int, any) {
		<-release
		return products(req)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = f.svc.Fetch(ctx, Options{})
	}()
	require.Eventually(t, func() bool { return len(f.srv.Calls(omie.CallListarProdutos)) == 1 }, time.Second, time.Millisecond)
	cancel()
	close(release)
	<-done

	require.Eventually(t, f.results.IsFresh, time.Second, time.Millisecond)
}

func TestHandlerWritesCacheHeaderAndBody(t *testing.T) {
	f := newFixture(t)
	mux := http.NewServeMux()
	NewHandler(f.svc).Register(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/estoque", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "refreshed", rr.Header().Get("X-Cache"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.EqualValues(t, 3, body["total"])
	assert.Equal(t, "19/10/2026", body["data_posicao"])
	assert.NotContains(t, body, "debug")
	produtos := body["produtos"].([]any)
	require.Len(t, produtos, 3)
	assert.Equal(t, map[string]any{
		"nCodProd":   "99",
		"cCodigo":    "???",
		"cDescricao": "Sem cadastro",
		"nSaldo":     float64(1),
		"url_imagem": nil,
		"preco":      nil,
	}, produtos[1])

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/estoque", nil))
	assert.Equal(t, "fresh", rr.Header().Get("X-Cache"))

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/estoque?debug=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Contains(t, body, "debug")
}

func TestHandlerEmptyCacheFailure(t *testing.T) {
	f := newFixture(t)
	f.failing.Store(true)
	mux := http.NewServeMux()
	NewHandler(f.svc).Register(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/estoque", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	var body struct {
		Erro     string `json:"erro"`
		Produtos []any  `json:"produtos"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Erro)
	assert.NotNil(t, body.Produtos)
	assert.Empty(t, body.Produtos)
}

func TestHandlerStaleHeader(t *testing.T) {
	f := newFixture(t)
	mux := http.NewServeMux()
	NewHandler(f.svc).Register(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/estoque", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	f.failing.Store(true)
	f.clock.Advance(2 * cache.DefaultTTL)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/estoque", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "stale", rr.Header().Get("X-Cache"))
}

func TestSchemaEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(nil).Register(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/schema/estoque", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var schema struct {
		Properties map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &schema))
	assert.Contains(t, schema.Properties, "produtos")
	assert.Contains(t, schema.Properties, "atualizado_em")
}
