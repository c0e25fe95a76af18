package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/fulfillment/internal/interfaces/http/dto"
)

type listQuery struct {
	Bucket       string `form:"bucket" binding:"omitempty,order_bucket"`
	Sort         string `form:"sort" binding:"omitempty,order_sort"`
	ShippingType string `form:"shipping_type" binding:"omitempty,shipping_type"`
	Page         int    `form:"page" binding:"omitempty,min=1"`
}

type emitBody struct {
	OrderIDs []string `json:"order_ids" binding:"required,min=1"`
}

func newValidationRouter() *gin.Engine {
	SetupValidator()
	router := gin.New()
	router.GET("/orders", func(c *gin.Context) {
		var q listQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	router.POST("/bulk/emit", func(c *gin.Context) {
		var b emitBody
		if err := c.ShouldBindJSON(&b); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	return router
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestValidator_FulfillmentTags(t *testing.T) {
	router := newValidationRouter()

	tests := []struct {
		name      string
		query     string
		wantField string
		wantMsg   string
	}{
		{name: "valid query", query: "bucket=invoice_pending&sort=sla&shipping_type=flex&page=2"},
		{name: "bucket display name", query: "bucket=Invoice%20Pending"},
		{name: "empty query"},
		{name: "unknown bucket", query: "bucket=archived", wantField: "bucket", wantMsg: "Unknown order bucket"},
		{name: "unknown sort", query: "sort=price", wantField: "sort", wantMsg: "Unknown sort key"},
		{name: "unknown shipping type", query: "shipping_type=drone", wantField: "shipping_type", wantMsg: "Unknown shipping type"},
		{name: "zero page is omitted", query: "page=0&bucket=shipped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders?"+tt.query, nil))

			if tt.wantField == "" {
				assert.Equal(t, http.StatusOK, w.Code)
				return
			}
			require.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeResponse(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
			require.Len(t, resp.Error.Details, 1)
			assert.Equal(t, tt.wantField, resp.Error.Details[0].Field)
			assert.Equal(t, tt.wantMsg, resp.Error.Details[0].Message)
		})
	}
}

func TestHandleValidationError_JSONFieldNames(t *testing.T) {
	router := newValidationRouter()

	req := httptest.NewRequest(http.MethodPost, "/bulk/emit", strings.NewReader(`{"order_ids":[]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	require.Len(t, resp.Error.Details, 1)
	assert.Equal(t, "order_ids", resp.Error.Details[0].Field)
	assert.Equal(t, "Must be at least 1", resp.Error.Details[0].Message)
}

func TestHandleValidationError_MalformedJSON(t *testing.T) {
	router := newValidationRouter()

	req := httptest.NewRequest(http.MethodPost, "/bulk/emit", strings.NewReader(`{"order_ids":`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Empty(t, resp.Error.Details)
	assert.Contains(t, resp.Error.Message, "Malformed request")
}
