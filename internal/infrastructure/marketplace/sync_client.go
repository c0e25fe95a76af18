// Package marketplace triggers marketplace order pulls on the hosted sync service.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/erp/fulfillment/internal/domain/integration"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/erp/fulfillment/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// maxResponseSize is the maximum allowed response size from the sync service (1MB)
const maxResponseSize = 1 << 20

// ErrSyncNotConfigured indicates that no sync endpoint is configured
var ErrSyncNotConfigured = errors.New("marketplace: sync service not configured")

// SyncClient implements integration.MarketplaceSync
type SyncClient struct {
	baseURL    string
	token      string
	httpClient *http.Client

	// tenantTokens overrides the default token per tenant
	tenantTokens map[uuid.UUID]string
	mu           sync.RWMutex
}

// NewSyncClient creates a sync client from the marketplace configuration
func NewSyncClient(cfg config.MarketplaceConfig) (*SyncClient, error) {
	if cfg.SyncURL == "" {
		return nil, ErrSyncNotConfigured
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SyncClient{
		baseURL:      strings.TrimRight(cfg.SyncURL, "/"),
		token:        cfg.Token,
		httpClient:   &http.Client{Timeout: timeout},
		tenantTokens: make(map[uuid.UUID]string),
	}, nil
}

// SetTenantToken sets the credential used for one tenant's sync jobs
func (c *SyncClient) SetTenantToken(tenantID uuid.UUID, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenantTokens[tenantID] = token
}

func (c *SyncClient) tokenFor(tenantID uuid.UUID) string {
	c.mu.RLock()
	token, ok := c.tenantTokens[tenantID]
	c.mu.RUnlock()
	if ok {
		return token
	}
	return c.token
}

type syncRequest struct {
	TenantID string     `json:"tenant_id"`
	Mode     string     `json:"mode"`
	OrderIDs []string   `json:"order_ids,omitempty"`
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
}

type syncResponse struct {
	SyncedCount int    `json:"synced_count"`
	Error       string `json:"error"`
}

// SyncOrders runs one pull job and returns how many orders it synced
func (c *SyncClient) SyncOrders(ctx context.Context, tenantID uuid.UUID, selector integration.SyncSelector) (result integration.SyncResult, err error) {
	if err := selector.Validate(); err != nil {
		return integration.SyncResult{}, err
	}
	ctx, span := telemetry.StartClientSpan(ctx, "marketplace", "sync_orders",
		attribute.String(telemetry.SpanAttrTenantID, tenantID.String()),
		attribute.String(telemetry.SpanAttrSelector, string(selector.Kind)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	body := syncRequest{TenantID: tenantID.String(), Mode: string(selector.Kind)}
	switch selector.Kind {
	case integration.SelectByIDs:
		body.OrderIDs = selector.OrderIDs
	case integration.SelectByDateRange:
		from, to := selector.From, selector.To
		body.From, body.To = &from, &to
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return integration.SyncResult{}, fmt.Errorf("marketplace: failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sync/orders", bytes.NewReader(payload))
	if err != nil {
		return integration.SyncResult{}, fmt.Errorf("marketplace: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.tokenFor(tenantID); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return integration.SyncResult{}, ctxErr
		}
		return integration.SyncResult{}, fmt.Errorf("%w: %v", integration.ErrSyncUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return integration.SyncResult{}, fmt.Errorf("%w: failed to read response: %v", integration.ErrSyncUnavailable, err)
	}

	var decoded syncResponse
	_ = json.Unmarshal(raw, &decoded)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return integration.SyncResult{}, fmt.Errorf("%w: HTTP %d", integration.ErrSyncUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		if decoded.Error != "" {
			return integration.SyncResult{}, fmt.Errorf("%w: HTTP %d: %s", integration.ErrSyncRequestFailed, resp.StatusCode, decoded.Error)
		}
		return integration.SyncResult{}, fmt.Errorf("%w: HTTP %d", integration.ErrSyncRequestFailed, resp.StatusCode)
	}
	return integration.SyncResult{SyncedCount: decoded.SyncedCount}, nil
}

var _ integration.MarketplaceSync = (*SyncClient)(nil)
