package invoicing

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erp/fulfillment/internal/domain/shared"
)

// ---------------------------------------------------------------------------
// Record Entity
// ---------------------------------------------------------------------------

// Record is the fiscal document state of one order in one environment.
// Records are keyed by (tenant, environment, order id).
type Record struct {
	TenantID           uuid.UUID
	Environment        Environment
	OrderID            string
	MarketplaceOrderID string
	State              State
	// DocumentRef identifies the document at the invoicing service. A rejected
	// reference is never reused.
	DocumentRef      string
	FocusStatus      FocusStatus
	XMLAvailable     bool
	SubmissionStatus SubmissionStatus
	ErrorMessage     string
	// ForceNewNumber asks the service to draw a new fiscal number on the next emission
	ForceNewNumber bool
	Attempts       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewRecord creates a record in state NotRequested
func NewRecord(tenantID uuid.UUID, env Environment, orderID, marketplaceOrderID string) *Record {
	now := time.Now()
	return &Record{
		TenantID:           tenantID,
		Environment:        env,
		OrderID:            orderID,
		MarketplaceOrderID: marketplaceOrderID,
		State:              StateNotRequested,
		SubmissionStatus:   SubmissionPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// EmitOptions controls how a document is (re)issued
type EmitOptions struct {
	ForceNewNumber bool
	ForceNewRef    bool
}

// Force reports whether the caller explicitly asked for a reissue
func (o EmitOptions) Force() bool {
	return o.ForceNewNumber || o.ForceNewRef
}

// NewDocumentRef mints a document reference
func NewDocumentRef(orderID string) string {
	return fmt.Sprintf("%s-%s", orderID, uuid.NewString()[:8])
}

// Queue moves the record to Queued. A terminal failure only requeues when the
// caller forces a reissue, and always gets a fresh reference. A forced reissue
// also takes over a record left Queued by a job that never submitted it.
func (r *Record) Queue(opts EmitOptions) error {
	switch {
	case r.State == StateNotRequested:
		if r.DocumentRef == "" || opts.ForceNewRef {
			r.DocumentRef = NewDocumentRef(r.OrderID)
		}
	case r.State == StateQueued && opts.Force():
		r.DocumentRef = NewDocumentRef(r.OrderID)
	case r.State.IsTerminalFailure():
		if !opts.Force() {
			return shared.Wrap(shared.ErrAuthorizationRejected,
				fmt.Sprintf("invoice for order %s is %s, reissue required", r.OrderID, r.State), nil)
		}
		r.DocumentRef = NewDocumentRef(r.OrderID)
	default:
		return shared.Wrap(shared.ErrPreconditionFailed,
			fmt.Sprintf("invoice for order %s is already %s", r.OrderID, r.State), nil)
	}

	r.State = StateQueued
	r.FocusStatus = FocusPending
	r.ForceNewNumber = opts.ForceNewNumber
	r.ErrorMessage = ""
	r.XMLAvailable = false
	r.SubmissionStatus = SubmissionPending
	r.touch()
	return nil
}

// StartProcessing marks the record as submitted to the invoicing service
func (r *Record) StartProcessing() error {
	if r.State != StateQueued {
		return shared.Wrap(shared.ErrPreconditionFailed,
			fmt.Sprintf("cannot process invoice in state %s", r.State), nil)
	}
	r.State = StateProcessing
	r.FocusStatus = FocusProcessing
	r.Attempts++
	r.touch()
	return nil
}

// Fail marks an emission attempt as failed with a sanitized message
func (r *Record) Fail(message string) {
	r.State = StateError
	r.FocusStatus = FocusError
	r.ErrorMessage = SanitizeErrorMessage(message)
	r.touch()
}

// Requeue returns a processing record to the queue after a transient failure
func (r *Record) Requeue() {
	if r.State == StateProcessing {
		r.State = StateQueued
		r.touch()
	}
}

// ApplyRemote merges a status reported by the invoicing service. Reports for
// another environment or another document reference are ignored; once the
// record has a reference, a report without one is ignored too.
// Returns true when the record changed.
func (r *Record) ApplyRemote(remote RemoteStatus) bool {
	if remote.Environment != r.Environment {
		return false
	}
	if r.DocumentRef != "" && remote.DocumentRef != r.DocumentRef {
		return false
	}
	if r.State == StateXMLSent || r.State == StateNotRequested {
		return false
	}

	next := remote.FocusStatus.State()
	changed := next != r.State || remote.XMLAvailable != r.XMLAvailable
	r.State = next
	r.FocusStatus = remote.FocusStatus
	r.XMLAvailable = remote.XMLAvailable
	if remote.SubmissionStatus != "" {
		r.SubmissionStatus = remote.SubmissionStatus
	}
	if next.IsTerminalFailure() {
		r.ErrorMessage = SanitizeErrorMessage(remote.ErrorMessage)
	} else {
		r.ErrorMessage = ""
	}
	if changed {
		r.touch()
	}
	return changed
}

// CanSubmitXML checks the precondition of the XML upload.
// Returns (false, nil) when the XML was already sent.
func (r *Record) CanSubmitXML() (bool, error) {
	switch r.State {
	case StateAuthorized:
		return true, nil
	case StateXMLSent:
		return false, nil
	default:
		return false, shared.Wrap(shared.ErrPreconditionFailed,
			fmt.Sprintf("xml upload requires an authorized invoice, order %s is %s", r.OrderID, r.State), nil)
	}
}

// MarkXMLSent records that the marketplace accepted the XML
func (r *Record) MarkXMLSent() {
	r.State = StateXMLSent
	r.SubmissionStatus = SubmissionSent
	r.touch()
}

// Clone returns a copy of the record
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

func (r *Record) touch() {
	r.UpdatedAt = time.Now()
}
