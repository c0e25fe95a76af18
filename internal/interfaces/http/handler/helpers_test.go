package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	appfulfillment "github.com/erp/fulfillment/internal/application/fulfillment"
	"github.com/erp/fulfillment/internal/domain/integration"
	"github.com/erp/fulfillment/internal/interfaces/http/dto"
	"github.com/erp/fulfillment/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

var baseTime = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type stubFetcher struct {
	mu      sync.Mutex
	rows    []integration.RawRow
	err     error
	filters []integration.OrderFilter
}

func (f *stubFetcher) FetchOrders(ctx context.Context, filter integration.OrderFilter) ([]integration.RawRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func (f *stubFetcher) lastFilter() integration.OrderFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filters[len(f.filters)-1]
}

func unifiedRow(id, status string, created time.Time) *integration.UnifiedRow {
	return &integration.UnifiedRow{
		ID:                 id,
		MarketplaceOrderID: "MP-" + id,
		Marketplace:        "mercado_livre",
		CustomerName:       "Cliente " + id,
		StatusInternal:     status,
		ShippingType:       "fulfillment",
		Items: []integration.RawItem{
			{ItemID: "MLB1", SKU: "SKU-" + id, Title: "Produto " + id, Quantity: 1, UnitPrice: "10.00"},
		},
		OrderTotal: "10.00",
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

// defaultRows has two printing orders, one invoice pending and one shipped
func defaultRows() []integration.RawRow {
	return []integration.RawRow{
		unifiedRow("o-1", "Impressão", baseTime),
		unifiedRow("o-2", "a imprimir", baseTime.Add(time.Minute)),
		unifiedRow("o-3", "Emissão NF", baseTime.Add(2*time.Minute)),
		unifiedRow("o-4", "Enviado", baseTime.Add(3*time.Minute)),
	}
}

func newTestSessions(t *testing.T, fetcher *stubFetcher) *appfulfillment.SessionManager {
	t.Helper()
	cfg := appfulfillment.DefaultStoreConfig()
	cfg.Location = time.UTC
	sessions := appfulfillment.NewSessionManager(cfg, nil, fetcher, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sessions.Close(ctx)
	})
	return sessions
}

// newTestEngine mounts routes behind the tenant middleware
func newTestEngine(register func(r *gin.Engine)) *gin.Engine {
	engine := gin.New()
	engine.Use(middleware.RequestID(), middleware.Tenant(middleware.DefaultTenantConfig()))
	register(engine)
	return engine
}

func doRequest(t *testing.T, engine *gin.Engine, method, path string, tenantID uuid.UUID, body any, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tenantID != uuid.Nil {
		req.Header.Set(middleware.TenantHeaderKey, tenantID.String())
	}
	for _, opt := range opts {
		opt(req)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

// decodeData decodes a success envelope, unmarshalling data into out
func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) dto.Response {
	t.Helper()
	var raw struct {
		dto.Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw), w.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(raw.Data, out), w.Body.String())
	}
	return raw.Response
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorInfo {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	require.NotNil(t, resp.Error, w.Body.String())
	return *resp.Error
}
