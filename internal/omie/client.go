package omie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"omiebridge/internal/config"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultBaseURL is the Omie API root; endpoints are appended to it.
	DefaultBaseURL = "https://app.omie.com.br/api/v1"

	// DefaultTimeout applies to bulk listing calls.
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 64 << 20
	maxErrorBody     = 512
)

// Endpoint is a path below the API root. Each endpoint serves a fixed set of calls.
type Endpoint string

const (
	EndpointCatalog        Endpoint = "/geral/produtos/"
	EndpointCustomers      Endpoint = "/geral/clientes/"
	EndpointStock          Endpoint = "/estoque/consulta/"
	EndpointPriceTables    Endpoint = "/produtos/tabelaprecos/"
	EndpointPaymentMethods Endpoint = "/geral/formaspagvendas/"
)

var tracer = otel.Tracer("omiebridge/internal/omie")

// Client calls the Omie JSON-RPC API. It holds no per-call state and is safe for concurrent use.
type Client struct {
	appKey     string
	appSecret  string
	baseURL    string
	httpClient *retryablehttp.Client
}

type rpcRequest struct {
	Call      string `json:"call"`
	AppKey    string `json:"app_key"`
	AppSecret string `json:"app_secret"`
	Param     []any  `json:"param"`
}

// NewClient creates an Omie client from configuration.
func NewClient(cfg config.OmieConfig) (*Client, error) {
	if strings.TrimSpace(cfg.AppKey) == "" {
		return nil, errors.New("app key is required")
	}
	if strings.TrimSpace(cfg.AppSecret) == "" {
		return nil, errors.New("app secret is required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.CheckRetry = retryPolicy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = slog.Default()
	if cfg.HTTPClient != nil {
		rc.HTTPClient = cfg.HTTPClient
	}

	return &Client{
		appKey:     cfg.AppKey,
		appSecret:  cfg.AppSecret,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc,
	}, nil
}

// retryPolicy retries rate limiting and gateway failures only. Timeouts and faults go
// straight back to the caller.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		if isTimeout(err) {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true, nil
	}
	return false, nil
}

// Call posts one RPC to endpoint and decodes the response into out (when out is non-nil).
// A timeout <= 0 means DefaultTimeout.
func (c *Client) Call(ctx context.Context, endpoint Endpoint, call string, param any, timeout time.Duration, out any) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, span := tracer.Start(ctx, "omie."+call, trace.WithAttributes(
		attribute.String("omie.endpoint", string(endpoint)),
		attribute.String("omie.call", call),
	))
	defer span.End()

	start := time.Now()
	err := c.call(ctx, endpoint, call, param, timeout, out)
	observeCall(call, err, time.Since(start))
	if err != nil && !IsNoRecords(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) call(ctx context.Context, endpoint Endpoint, call string, param any, timeout time.Duration, out any) error {
	payload, err := json.Marshal(rpcRequest{
		Call:      call,
		AppKey:    c.appKey,
		AppSecret: c.appSecret,
		Param:     []any{param},
	})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", call, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+string(endpoint), payload)
	if err != nil {
		return fmt.Errorf("build %s request: %w", call, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// the passthrough error handler hands back the response alongside the error
		if resp != nil {
			_ = resp.Body.Close()
		}
		if isTimeout(err) {
			return &TimeoutError{Call: call, Timeout: timeout, Err: err}
		}
		return fmt.Errorf("request %s: %w", call, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, maxResponseBytes)); err != nil {
		if isTimeout(err) {
			return &TimeoutError{Call: call, Timeout: timeout, Err: err}
		}
		return fmt.Errorf("read %s response: %w", call, err)
	}

	if code, msg, ok := detectFault(buf.Bytes()); ok {
		fault := &FaultError{Call: call, Code: code, Message: msg}
		if !IsNoRecords(fault) {
			slog.WarnContext(ctx, "omie returned a fault", "call", call, "status", resp.StatusCode, "code", code, "message", msg)
		}
		return fault
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body := strings.TrimSpace(buf.String())
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		slog.ErrorContext(ctx, "received Omie error response", "call", call, "status", resp.StatusCode)
		return &StatusError{Operation: call, StatusCode: resp.StatusCode, Body: body}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(buf.Bytes(), out); err != nil {
		return fmt.Errorf("decode %s response: %w", call, err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
