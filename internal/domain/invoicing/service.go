package invoicing

import (
	"context"

	"github.com/google/uuid"

	"github.com/erp/fulfillment/internal/domain/shared"
)

// EmitDocument is one order to emit under a document reference
type EmitDocument struct {
	OrderID     string
	DocumentRef string
}

// EmitRequest asks the invoicing service to emit a batch of documents
type EmitRequest struct {
	TenantID       uuid.UUID
	Environment    Environment
	Documents      []EmitDocument
	ForceNewNumber bool
	ForceNewRef    bool
}

// EmitResult lists per-order rejections. Orders absent from Rejected were accepted.
type EmitResult struct {
	Rejected map[string]string
}

// RemoteStatus is the service's view of one document
type RemoteStatus struct {
	OrderID          string
	DocumentRef      string
	Environment      Environment
	FocusStatus      FocusStatus
	XMLAvailable     bool
	SubmissionStatus SubmissionStatus
	ErrorMessage     string
}

// Service is the port for the external invoicing service
type Service interface {
	// Emit submits documents for emission. It returns once the request is
	// accepted for processing; authorization happens asynchronously.
	Emit(ctx context.Context, req EmitRequest) (EmitResult, error)
	// GetStatus returns the current status of the given orders' documents
	GetStatus(ctx context.Context, tenantID uuid.UUID, env Environment, orderIDs []string) ([]RemoteStatus, error)
	// SubmitXML queues the authorized XML for upload to the marketplace
	SubmitXML(ctx context.Context, tenantID uuid.UUID, env Environment, documentRef string) error
}

// RecordRepository is the port for record persistence
type RecordRepository interface {
	// Get returns the record, or shared.ErrNotFound
	Get(ctx context.Context, tenantID uuid.UUID, env Environment, orderID string) (*Record, error)
	Save(ctx context.Context, record *Record) error
	// ListByStates returns records in any of the given states across tenants
	ListByStates(ctx context.Context, states ...State) ([]*Record, error)
}

// ErrEmissionInProgress is returned by an EmissionGuard when another worker holds the order
var ErrEmissionInProgress = shared.NewDomainError("EMISSION_IN_PROGRESS", "Emission already in progress for this order")

// EmissionGuard serializes emissions of the same order across workers and replicas
type EmissionGuard interface {
	// Acquire locks the key. It fails with ErrEmissionInProgress when the key is held.
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// GuardKey returns the lock key of one order's emission
func GuardKey(tenantID uuid.UUID, env Environment, orderID string) string {
	return "emission:" + tenantID.String() + ":" + string(env) + ":" + orderID
}
