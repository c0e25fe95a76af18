package fulfillment

// Bucket is one stage of the fulfillment pipeline
type Bucket string

const (
	// BucketAll is a query selector matching every order. No order is classified into it.
	BucketAll            Bucket = "all"
	BucketUnlinked       Bucket = "unlinked"
	BucketInvoicePending Bucket = "invoice_pending"
	BucketPrinting       Bucket = "printing"
	BucketAwaitingPickup Bucket = "awaiting_pickup"
	BucketShipped        Bucket = "shipped"
	BucketCancelled      Bucket = "cancelled"
	// BucketUnknown is assigned to statuses outside the known vocabulary
	BucketUnknown Bucket = "unknown"
)

// PipelineBuckets lists the concrete buckets in pipeline order
var PipelineBuckets = []Bucket{
	BucketUnlinked,
	BucketInvoicePending,
	BucketPrinting,
	BucketAwaitingPickup,
	BucketShipped,
	BucketCancelled,
}

// IsValid returns true for the selector All and every pipeline bucket
func (b Bucket) IsValid() bool {
	if b == BucketAll {
		return true
	}
	for _, p := range PipelineBuckets {
		if b == p {
			return true
		}
	}
	return false
}

// String returns the string representation
func (b Bucket) String() string {
	return string(b)
}

// DisplayName returns the label shown for the bucket
func (b Bucket) DisplayName() string {
	switch b {
	case BucketAll:
		return "All"
	case BucketUnlinked:
		return "Unlinked"
	case BucketInvoicePending:
		return "Invoice Pending"
	case BucketPrinting:
		return "Printing"
	case BucketAwaitingPickup:
		return "Awaiting Pickup"
	case BucketShipped:
		return "Shipped"
	case BucketCancelled:
		return "Cancelled/Returned"
	default:
		return "Unknown"
	}
}

// ParseBucket parses a bucket selector, defaulting to All for empty input
func ParseBucket(s string) (Bucket, bool) {
	if s == "" {
		return BucketAll, true
	}
	b := Bucket(Fold(s))
	if b == "invoice pending" {
		b = BucketInvoicePending
	}
	if b == "awaiting pickup" {
		b = BucketAwaitingPickup
	}
	return b, b.IsValid()
}
