package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/erp/fulfillment/internal/domain/integration"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSyncClient(t *testing.T, handler http.HandlerFunc) *SyncClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewSyncClient(config.MarketplaceConfig{SyncURL: server.URL + "/", Token: "default-token", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return client
}

func TestNewSyncClient_NotConfigured(t *testing.T) {
	client, err := NewSyncClient(config.MarketplaceConfig{})
	assert.ErrorIs(t, err, ErrSyncNotConfigured)
	assert.Nil(t, client)
}

func TestSyncClient_SyncOrders(t *testing.T) {
	tenantID := uuid.New()
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		selector integration.SyncSelector
		check    func(t *testing.T, body syncRequest)
	}{
		{
			name:     "all",
			selector: integration.SyncSelector{Kind: integration.SelectAll},
			check: func(t *testing.T, body syncRequest) {
				assert.Equal(t, "all", body.Mode)
				assert.Empty(t, body.OrderIDs)
				assert.Nil(t, body.From)
			},
		},
		{
			name:     "by ids",
			selector: integration.SyncSelector{Kind: integration.SelectByIDs, OrderIDs: []string{"o-1"}},
			check: func(t *testing.T, body syncRequest) {
				assert.Equal(t, "by_ids", body.Mode)
				assert.Equal(t, []string{"o-1"}, body.OrderIDs)
			},
		},
		{
			name:     "by date range",
			selector: integration.SyncSelector{Kind: integration.SelectByDateRange, From: from, To: to},
			check: func(t *testing.T, body syncRequest) {
				assert.Equal(t, "by_date_range", body.Mode)
				require.NotNil(t, body.From)
				assert.True(t, from.Equal(*body.From))
				assert.True(t, to.Equal(*body.To))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestSyncClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/sync/orders", r.URL.Path)
				assert.Equal(t, "Bearer default-token", r.Header.Get("Authorization"))
				var body syncRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, tenantID.String(), body.TenantID)
				tt.check(t, body)
				_, _ = w.Write([]byte(`{"synced_count": 4}`))
			})

			result, err := client.SyncOrders(context.Background(), tenantID, tt.selector)
			require.NoError(t, err)
			assert.Equal(t, 4, result.SyncedCount)
		})
	}
}

func TestSyncClient_InvalidSelector(t *testing.T) {
	client := newTestSyncClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := client.SyncOrders(context.Background(), uuid.New(), integration.SyncSelector{Kind: integration.SelectByIDs})
	assert.ErrorIs(t, err, integration.ErrInvalidSelector)
}

func TestSyncClient_TenantToken(t *testing.T) {
	tenantID := uuid.New()
	client := newTestSyncClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tenant-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"synced_count": 0}`))
	})
	client.SetTenantToken(tenantID, "tenant-token")

	_, err := client.SyncOrders(context.Background(), tenantID, integration.SyncSelector{Kind: integration.SelectAll})
	require.NoError(t, err)
}

func TestSyncClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		wantMsg string
	}{
		{"unavailable", http.StatusServiceUnavailable, ``, integration.ErrSyncUnavailable, ""},
		{"rate limited", http.StatusTooManyRequests, ``, integration.ErrSyncUnavailable, ""},
		{"bad request", http.StatusBadRequest, `{"error":"marketplace token expired"}`, integration.ErrSyncRequestFailed, "marketplace token expired"},
		{"not found", http.StatusNotFound, ``, integration.ErrSyncRequestFailed, "HTTP 404"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestSyncClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.SyncOrders(context.Background(), uuid.New(), integration.SyncSelector{Kind: integration.SelectAll})
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}
