package fulfillment

import (
	"errors"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
)

var ErrInvalidStoreConfig = errors.New("fulfillment: invalid store configuration")

// StoreConfig configures a reconciliation store
type StoreConfig struct {
	// PageSize is the fixed page size of query results
	PageSize int
	// OptimisticTimeout is how long an optimistic mutation waits for server
	// confirmation before it is rolled back
	OptimisticTimeout time.Duration
	// Location is the seller's timezone; date filters use its calendar days
	Location *time.Location
	// EventBuffer bounds the command queue of the reconciliation loop
	EventBuffer int
	// DedupeTTL is how long realtime event ids are remembered
	DedupeTTL time.Duration
	// ShippingPriority orders shipping types for the shipping sort
	ShippingPriority []fulfillment.ShippingType
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		loc = time.UTC
	}
	return StoreConfig{
		PageSize:          30,
		OptimisticTimeout: 10 * time.Second,
		Location:          loc,
		EventBuffer:       256,
		DedupeTTL:         24 * time.Hour,
		ShippingPriority:  fulfillment.DefaultShippingPriority,
	}
}

// Validate validates the configuration
func (c *StoreConfig) Validate() error {
	if c.PageSize <= 0 || c.OptimisticTimeout <= 0 || c.EventBuffer <= 0 {
		return ErrInvalidStoreConfig
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if len(c.ShippingPriority) == 0 {
		c.ShippingPriority = fulfillment.DefaultShippingPriority
	}
	return nil
}
