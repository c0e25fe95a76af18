// Package fiscal implements the invoicing service port over the hosted Focus
// NFe gateway.
package fiscal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/erp/fulfillment/internal/domain/invoicing"
	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/erp/fulfillment/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// maxResponseSize caps the body read from the gateway (4MB)
const maxResponseSize = 4 * 1024 * 1024

const serviceName = "focus"

// CallObserver is notified of the latency of every gateway call
type CallObserver func(ctx context.Context, service string, d time.Duration)

// FocusClient implements invoicing.Service
type FocusClient struct {
	baseURLs   map[invoicing.Environment]string
	token      string
	maxRetries int
	retryWait  time.Duration
	httpClient *http.Client
	observe    CallObserver
	logger     *zap.Logger
}

// Option configures a FocusClient
type Option func(*FocusClient)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(f *FocusClient) { f.httpClient = c }
}

// WithCallObserver registers a latency observer
func WithCallObserver(o CallObserver) Option {
	return func(f *FocusClient) { f.observe = o }
}

// WithRetryWait sets the initial wait between status lookup retries
func WithRetryWait(d time.Duration) Option {
	return func(f *FocusClient) { f.retryWait = d }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(f *FocusClient) { f.logger = l }
}

// NewFocusClient creates a client from the invoicing configuration
func NewFocusClient(cfg config.InvoicingConfig, opts ...Option) *FocusClient {
	c := &FocusClient{
		baseURLs: map[invoicing.Environment]string{
			invoicing.EnvironmentSandbox:    strings.TrimRight(cfg.SandboxURL, "/"),
			invoicing.EnvironmentProduction: strings.TrimRight(cfg.ProductionURL, "/"),
		},
		token:      cfg.Token,
		maxRetries: cfg.MaxRetries,
		retryWait:  500 * time.Millisecond,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Emit submits a batch of documents. It is not retried here: emission
// retries belong to the job that owns the batch.
func (c *FocusClient) Emit(ctx context.Context, req invoicing.EmitRequest) (result invoicing.EmitResult, err error) {
	ctx, span := telemetry.StartClientSpan(ctx, serviceName, "emit",
		attribute.String(telemetry.SpanAttrEnvironment, string(req.Environment)),
		attribute.Int(telemetry.SpanAttrOrderCount, len(req.Documents)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	body := emitRequestBody{
		Environment:    string(req.Environment),
		ForceNewNumber: req.ForceNewNumber,
		ForceNewRef:    req.ForceNewRef,
		Documents:      make([]emitDocBody, 0, len(req.Documents)),
	}
	for _, d := range req.Documents {
		body.Documents = append(body.Documents, emitDocBody{OrderID: d.OrderID, Ref: d.DocumentRef})
	}

	raw, err := c.do(ctx, req.TenantID, req.Environment, http.MethodPost, "/v2/nfe/lote", nil, body)
	if err != nil {
		return invoicing.EmitResult{}, err
	}
	var resp emitResponseBody
	if err := json.Unmarshal(raw, &resp); err != nil {
		return invoicing.EmitResult{}, shared.Wrap(shared.ErrServiceUnavailable, "invalid emission response", err)
	}

	result = invoicing.EmitResult{Rejected: make(map[string]string)}
	for _, r := range resp.Results {
		if strings.EqualFold(r.Status, "rejected") || strings.EqualFold(r.Status, "rejeitado") {
			result.Rejected[r.OrderID] = invoicing.SanitizeErrorMessage(r.Message)
		}
	}
	return result, nil
}

// GetStatus looks up the documents of the given orders. Transient failures
// are retried with exponential backoff up to the configured retry count.
func (c *FocusClient) GetStatus(ctx context.Context, tenantID uuid.UUID, env invoicing.Environment, orderIDs []string) (statuses []invoicing.RemoteStatus, err error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	ctx, span := telemetry.StartClientSpan(ctx, serviceName, "status",
		attribute.String(telemetry.SpanAttrEnvironment, string(env)),
		attribute.Int(telemetry.SpanAttrOrderCount, len(orderIDs)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	query := url.Values{}
	query.Set("order_ids", strings.Join(orderIDs, ","))
	query.Set("environment", string(env))

	raw, err := c.withRetry(ctx, "status", func() ([]byte, error) {
		return c.do(ctx, tenantID, env, http.MethodGet, "/v2/nfe/status", query, nil)
	})
	if err != nil {
		return nil, err
	}

	var resp statusResponseBody
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, shared.Wrap(shared.ErrServiceUnavailable, "invalid status response", err)
	}

	statuses = make([]invoicing.RemoteStatus, 0, len(resp.Documents))
	for _, d := range resp.Documents {
		fs, ok := invoicing.ParseFocusStatus(d.Status)
		if !ok {
			c.logger.Warn("unknown invoice status from gateway",
				zap.String("order_id", d.OrderID),
				zap.String("status", d.Status),
			)
			continue
		}
		docEnv := invoicing.Environment(d.Environment)
		if docEnv == "" {
			docEnv = env
		}
		sub := invoicing.SubmissionPending
		if d.SubmissionStatus == string(invoicing.SubmissionSent) {
			sub = invoicing.SubmissionSent
		}
		statuses = append(statuses, invoicing.RemoteStatus{
			OrderID:          d.OrderID,
			DocumentRef:      d.Ref,
			Environment:      docEnv,
			FocusStatus:      fs,
			XMLAvailable:     d.XMLAvailable,
			SubmissionStatus: sub,
			ErrorMessage:     invoicing.SanitizeErrorMessage(d.SefazMessage),
		})
	}
	return statuses, nil
}

// SubmitXML queues the authorized XML of a document for marketplace upload.
// The gateway treats repeated submissions of the same reference as one.
func (c *FocusClient) SubmitXML(ctx context.Context, tenantID uuid.UUID, env invoicing.Environment, documentRef string) (err error) {
	ctx, span := telemetry.StartClientSpan(ctx, serviceName, "submit_xml",
		attribute.String(telemetry.SpanAttrEnvironment, string(env)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	path := "/v2/nfe/" + url.PathEscape(documentRef) + "/xml/envio"
	_, err = c.withRetry(ctx, "submit_xml", func() ([]byte, error) {
		return c.do(ctx, tenantID, env, http.MethodPost, path, nil, nil)
	})
	return err
}

func (c *FocusClient) withRetry(ctx context.Context, op string, call func() ([]byte, error)) ([]byte, error) {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(backoff.WithInitialInterval(c.retryWait)), uint64(max(c.maxRetries, 0))),
		ctx,
	)
	return backoff.RetryNotifyWithData(func() ([]byte, error) {
		raw, err := call()
		if err != nil && !shared.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return raw, err
	}, b, func(err error, wait time.Duration) {
		c.logger.Warn("invoicing gateway call failed, retrying",
			zap.String("operation", op),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}

func (c *FocusClient) do(ctx context.Context, tenantID uuid.UUID, env invoicing.Environment, method, path string, query url.Values, payload any) ([]byte, error) {
	base, ok := c.baseURLs[env]
	if !ok || base == "" {
		return nil, shared.Wrap(shared.ErrInvalidInput, fmt.Sprintf("no invoicing endpoint for environment %q", env), nil)
	}
	target := base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("fiscal: failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("fiscal: failed to create request: %w", err)
	}
	req.SetBasicAuth(c.token, "")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID.String())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.observe != nil {
		c.observe(ctx, serviceName, time.Since(start))
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, shared.Wrap(shared.ErrTransientNetwork, "invoicing gateway unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, shared.Wrap(shared.ErrTransientNetwork, "failed to read invoicing gateway response", err)
	}
	if resp.StatusCode >= 400 {
		return nil, classify(resp.StatusCode, raw)
	}
	return raw, nil
}

// classify maps a gateway error response onto the domain error taxonomy
func classify(status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	msg := invoicing.SanitizeErrorMessage(eb.text())
	cause := fmt.Errorf("HTTP %d", status)

	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return shared.Wrap(shared.ErrServiceUnavailable, "", cause)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		if msg == "" {
			msg = shared.ErrValidation.Message
		}
		return shared.Wrap(shared.ErrValidation, msg, cause)
	case status == http.StatusNotFound:
		return shared.Wrap(shared.ErrNotFound, msg, cause)
	case status == http.StatusConflict:
		return shared.Wrap(shared.ErrPreconditionFailed, msg, cause)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return shared.Wrap(shared.ErrPreconditionFailed, "invoicing gateway rejected the credentials", cause)
	default:
		return shared.Wrap(shared.ErrServiceUnavailable, msg, cause)
	}
}

var _ invoicing.Service = (*FocusClient)(nil)
