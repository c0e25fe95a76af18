package handler

import (
	"time"

	"github.com/erp/fulfillment/internal/application/bulk"
	appinvoicing "github.com/erp/fulfillment/internal/application/invoicing"
	"github.com/erp/fulfillment/internal/domain/integration"
	"github.com/erp/fulfillment/internal/domain/invoicing"
	"github.com/erp/fulfillment/internal/interfaces/http/dto"
)

// BulkRequest names the orders of a bulk action. An empty list acts on the
// current selection.
type BulkRequest struct {
	OrderIDs []string `json:"order_ids" binding:"omitempty,max=500,dive,required,max=100"`
}

// EmitRequest requests invoice emission for a set of orders
type EmitRequest struct {
	OrderIDs       []string `json:"order_ids" binding:"omitempty,max=500,dive,required,max=100"`
	ForceNewNumber bool     `json:"force_new_number"`
	ForceNewRef    bool     `json:"force_new_ref"`
}

// Options converts the request flags to emission options
func (r EmitRequest) Options() invoicing.EmitOptions {
	return invoicing.EmitOptions{ForceNewNumber: r.ForceNewNumber, ForceNewRef: r.ForceNewRef}
}

// SelectionRequest changes the bulk selection
type SelectionRequest struct {
	OrderIDs []string `json:"order_ids" binding:"required,min=1,max=500,dive,required,max=100"`
}

// ActiveBucketRequest switches the active bucket, which clears the selection
type ActiveBucketRequest struct {
	Bucket string `json:"bucket" binding:"required,order_bucket"`
}

// SelectionResponse is the tenant's current selection
type SelectionResponse struct {
	Bucket   string   `json:"bucket"`
	OrderIDs []string `json:"order_ids"`
}

// LabelResponse is one label ready to print
type LabelResponse struct {
	OrderID     string    `json:"order_id"`
	ContentType string    `json:"content_type"`
	Content     []byte    `json:"content"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// BulkResponse is the aggregated outcome of a bulk action
type BulkResponse struct {
	Action    string        `json:"action"`
	Succeeded []string      `json:"succeeded"`
	Failed    []FailureItem `json:"failed"`
}

// PrintResponse is a bulk print result with label contents
type PrintResponse struct {
	Action    string          `json:"action"`
	Succeeded []string        `json:"succeeded"`
	Failed    []FailureItem   `json:"failed"`
	Labels    []LabelResponse `json:"labels"`
}

// FailureItem is one order a request could not complete
type FailureItem struct {
	OrderID string `json:"order_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// InvoiceSyncRequest names the orders whose invoice status is refreshed.
// Keys are order ids or marketplace order ids.
type InvoiceSyncRequest struct {
	OrderIDs []string `json:"order_ids" binding:"required,min=1,max=500,dive,required,max=100"`
}

// InvoiceResultResponse is the per-order outcome of an invoicing call
type InvoiceResultResponse struct {
	Key         string       `json:"key"`
	OrderID     string       `json:"order_id,omitempty"`
	DocumentRef string       `json:"document_ref,omitempty"`
	State       string       `json:"state,omitempty"`
	AlreadySent bool         `json:"already_sent,omitempty"`
	Error       *FailureItem `json:"error,omitempty"`
}

// InvoiceRecordResponse is the persisted fiscal state of an order
type InvoiceRecordResponse struct {
	OrderID            string    `json:"order_id"`
	MarketplaceOrderID string    `json:"marketplace_order_id"`
	Environment        string    `json:"environment"`
	State              string    `json:"state"`
	DocumentRef        string    `json:"document_ref,omitempty"`
	FocusStatus        string    `json:"focus_status,omitempty"`
	XMLAvailable       bool      `json:"xml_available"`
	SubmissionStatus   string    `json:"submission_status"`
	ErrorMessage       string    `json:"error_message,omitempty"`
	Attempts           int       `json:"attempts"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// JobResponse is one emission job from the scheduler history
type JobResponse struct {
	ID          string            `json:"id"`
	Environment string            `json:"environment"`
	OrderIDs    []string          `json:"order_ids"`
	Status      string            `json:"status"`
	Error       string            `json:"error,omitempty"`
	RetryCount  int               `json:"retry_count"`
	Accepted    []string          `json:"accepted,omitempty"`
	Rejected    map[string]string `json:"rejected,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

func toBulkResponse(r bulk.Result) BulkResponse {
	failed := make([]FailureItem, 0, len(r.Failed))
	for _, f := range r.Failed {
		failed = append(failed, FailureItem{
			OrderID: f.OrderID,
			Code:    dto.NormalizeErrorCode(f.Code),
			Message: f.Message,
		})
	}
	succeeded := r.Succeeded
	if succeeded == nil {
		succeeded = []string{}
	}
	return BulkResponse{Action: string(r.Action), Succeeded: succeeded, Failed: failed}
}

func toPrintResponse(r bulk.PrintResult) PrintResponse {
	res := toBulkResponse(r.Result)
	return PrintResponse{
		Action:    res.Action,
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
		Labels:    toLabelResponses(r.Labels),
	}
}

func toLabelResponses(labels []integration.LabelContent) []LabelResponse {
	out := make([]LabelResponse, 0, len(labels))
	for _, l := range labels {
		out = append(out, LabelResponse{
			OrderID:     l.OrderID,
			ContentType: l.ContentType,
			Content:     l.Content,
			FetchedAt:   l.FetchedAt,
		})
	}
	return out
}

func toInvoiceResultResponses(results []appinvoicing.OrderResult) []InvoiceResultResponse {
	out := make([]InvoiceResultResponse, 0, len(results))
	for _, r := range results {
		item := InvoiceResultResponse{
			Key:         r.Key,
			OrderID:     r.OrderID,
			DocumentRef: r.DocumentRef,
			State:       string(r.State),
			AlreadySent: r.AlreadySent,
		}
		if r.Err != nil {
			code, message := errorDetail(r.Err)
			item.Error = &FailureItem{OrderID: r.OrderID, Code: code, Message: message}
		}
		out = append(out, item)
	}
	return out
}

func toInvoiceRecordResponse(r *invoicing.Record) InvoiceRecordResponse {
	return InvoiceRecordResponse{
		OrderID:            r.OrderID,
		MarketplaceOrderID: r.MarketplaceOrderID,
		Environment:        string(r.Environment),
		State:              string(r.State),
		DocumentRef:        r.DocumentRef,
		FocusStatus:        string(r.FocusStatus),
		XMLAvailable:       r.XMLAvailable,
		SubmissionStatus:   string(r.SubmissionStatus),
		ErrorMessage:       r.ErrorMessage,
		Attempts:           r.Attempts,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func toJobResponse(j *invoicing.EmissionJob) JobResponse {
	return JobResponse{
		ID:          j.ID.String(),
		Environment: string(j.Environment),
		OrderIDs:    j.OrderIDs,
		Status:      string(j.Status),
		Error:       j.Error,
		RetryCount:  j.RetryCount,
		Accepted:    j.Accepted,
		Rejected:    j.Rejected,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
